// Command transcribe runs the speaker-attributed transcription pipeline
// locally, without the HTTP server.
//
// Usage:
//
//	transcribe run <file> [--xlsx out.xlsx]
//	transcribe batch <manifest.xlsx>
//	transcribe status <task-id>
//	transcribe export <task-id> -o out.xlsx
//
// Configuration is read from .env and the environment, the same as the API.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
