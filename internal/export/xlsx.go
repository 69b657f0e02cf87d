// Package export renders completed tasks as spreadsheets for reviewers.
package export

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"voice-transcripts-go/internal/aggregator"
	"voice-transcripts-go/internal/types"
)

const (
	TranscriptSheet = "Transcript"
	SpeakersSheet   = "Speakers"
)

var ErrNotCompleted = errors.New("export: task is not completed")

// WriteXLSX writes a workbook with the attributed transcript and per-speaker
// talk statistics of a completed task.
func WriteXLSX(w io.Writer, view types.TaskView) error {
	if view.Status != types.StatusCompleted {
		return fmt.Errorf("%w: %s", ErrNotCompleted, view.Status)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", TranscriptSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SpeakersSheet); err != nil {
		return fmt.Errorf("new sheet: %w", err)
	}

	names := make(map[int64]string, len(view.Speakers))
	for _, sp := range view.Speakers {
		names[sp.ID] = sp.Name
	}

	rows := [][]any{{"Start", "End", "Speaker", "Text"}}
	for _, m := range view.Messages {
		speaker := types.UnknownSpeaker
		if m.SpeakerID != nil {
			if n, ok := names[*m.SpeakerID]; ok {
				speaker = n
			}
		}
		rows = append(rows, []any{m.StartTime, m.EndTime, speaker, m.Text})
	}
	if err := writeRows(f, TranscriptSheet, rows); err != nil {
		return err
	}

	ins := aggregator.Aggregate(view.Messages, view.Speakers)
	rows = [][]any{{"Speaker", "Messages", "Talk seconds", "Talk ratio"}}
	for _, s := range ins.Speakers {
		rows = append(rows, []any{s.Speaker, s.Messages, s.TalkSeconds, s.TalkRatio})
	}
	if err := writeRows(f, SpeakersSheet, rows); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// FileName is the download name for a task export.
func FileName(view types.TaskView) string {
	return fmt.Sprintf("task-%d-transcript.xlsx", view.ID)
}
