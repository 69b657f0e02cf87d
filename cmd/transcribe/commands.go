package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"voice-transcripts-go/internal/bootstrap"
	"voice-transcripts-go/internal/config"
	"voice-transcripts-go/internal/dataset"
	"voice-transcripts-go/internal/export"
	"voice-transcripts-go/internal/logger"
	"voice-transcripts-go/internal/types"
)

var rootCmd = &cobra.Command{
	Use:           "transcribe",
	Short:         "Speaker-attributed transcription",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Transcribe one audio file and print the result",
	Long: `Upload a local audio file, run conversion, diarization and
transcription on it, and print the attributed transcript as JSON.

Examples:
  transcribe run call.mp3
  transcribe run call.mp3 --xlsx call.xlsx`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := cmd.Context()
		task, tf, err := app.Pipeline.Upload(ctx, filepath.Base(args[0]), data)
		if err != nil {
			return err
		}
		runErr := app.Pipeline.Run(ctx, task.ID, tf.ID)

		view, err := app.Pipeline.GetTaskStatus(ctx, task.ID)
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), view); err != nil {
			return err
		}
		if runErr != nil {
			return fmt.Errorf("task %d failed: %w", task.ID, runErr)
		}

		if out, _ := cmd.Flags().GetString("xlsx"); out != "" {
			return writeXLSX(out, view)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Print a task's status and, once completed, its transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		view, err := loadView(cmd, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), view)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <task-id>",
	Short: "Export a completed task as an xlsx workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		view, err := loadView(cmd, args[0])
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("output")
		if out == "" {
			out = export.FileName(view)
		}
		if err := writeXLSX(out, view); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
		return nil
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch <manifest.xlsx>",
	Short: "Transcribe every audio file listed in an xlsx manifest",
	Long: `Read the first sheet of an xlsx manifest, find the column holding
audio file paths and run the pipeline on each file in turn.

Examples:
  transcribe batch calls.xlsx`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := dataset.LoadManifest(args[0])
		if err != nil {
			return err
		}
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := cmd.Context()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ROW\tLABEL\tTASK\tSTATUS\tMESSAGES")
		failed := 0
		for _, e := range entries {
			data, err := os.ReadFile(e.Path)
			if err != nil {
				failed++
				fmt.Fprintf(w, "%d\t%s\t-\t%s\t-\n", e.Row, e.Label, err)
				continue
			}
			task, tf, err := app.Pipeline.Upload(ctx, filepath.Base(e.Path), data)
			if err != nil {
				return err
			}
			if err := app.Pipeline.Run(ctx, task.ID, tf.ID); err != nil {
				failed++
			}
			view, err := app.Pipeline.GetTaskStatus(ctx, task.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%d\n", e.Row, e.Label, task.ID, view.Status, len(view.Messages))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files failed", failed, len(entries))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("xlsx", "", "also write the transcript to this xlsx file")
	exportCmd.Flags().StringP("output", "o", "", "output file (default task-<id>-transcript.xlsx)")
	rootCmd.AddCommand(runCmd, batchCmd, statusCmd, exportCmd)
}

func openApp() (*bootstrap.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return bootstrap.New(cfg, logger.NewWithOutput(os.Stderr))
}

func loadView(cmd *cobra.Command, arg string) (types.TaskView, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return types.TaskView{}, fmt.Errorf("invalid task id %q", arg)
	}
	app, err := openApp()
	if err != nil {
		return types.TaskView{}, err
	}
	defer app.Close()
	return app.Pipeline.GetTaskStatus(cmd.Context(), id)
}

func writeXLSX(path string, view types.TaskView) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.WriteXLSX(f, view); err != nil {
		f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
