package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codeoverlay/internal/config"
	"codeoverlay/internal/document"
	"codeoverlay/internal/protocol"

	"github.com/spf13/cobra"
)

var (
	analyzeFormat  string
	analyzeTimeout time.Duration
	analyzeNoCache bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Annotate a Swift file once and print the result",
	Long: `Open a Swift file as if an editor window showed it, wait for every
annotation and suggestion job to finish and print the resulting document
state.

Examples:
  codeoverlay analyze Sources/App/Loader.swift
  codeoverlay analyze Loader.swift --format json
  codeoverlay analyze Loader.swift --format yaml --no-cache`,
	Args: cobra.ExactArgs(1),
	Run:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeFormat, "format", "human", "Output format (json, yaml, human)")
	analyzeCmd.Flags().DurationVar(&analyzeTimeout, "timeout", 30*time.Second, "Maximum time to wait for analysis")
	analyzeCmd.Flags().BoolVar(&analyzeNoCache, "no-cache", false, "Disable the on-disk analysis cache")
	rootCmd.AddCommand(analyzeCmd)
}

// AnalyzeResponseCLI is the output of the analyze command
type AnalyzeResponseCLI struct {
	File     string            `json:"file" yaml:"file"`
	Document document.Snapshot `json:"document" yaml:"document"`
	Messages int               `json:"messages" yaml:"messages"`
	Errors   []string          `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func runAnalyze(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig().Config

	resp, err := analyzeFile(cfg, args[0], analyzeTimeout, analyzeNoCache)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	output, err := FormatResponse(resp, OutputFormat(analyzeFormat))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error formatting output: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(output)
}

const analyzeWindow = "analyze"

func analyzeFile(cfg *config.Config, path string, timeout time.Duration, noCache bool) (*AnalyzeResponseCLI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	logger, logCloser, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening log: %w", err)
	}
	defer logCloser.Close()

	rec := &protocol.Recorder{}
	eng, err := newEngine(cfg, logger, engineOptions{Sink: rec, NoCache: noCache})
	if err != nil {
		return nil, err
	}
	defer func() { _ = eng.close(5 * time.Second) }()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	created := protocol.WindowCreated{
		WindowID: analyzeWindow,
		PID:      os.Getpid(),
		FilePath: abs,
		Text:     string(data),
	}
	openErr := eng.workspace.Handle(ctx, created)

	if err := eng.settle(ctx); err != nil {
		return nil, fmt.Errorf("waiting for analysis: %w", err)
	}

	doc, err := eng.workspace.Document(analyzeWindow)
	if err != nil {
		return nil, err
	}
	snap, err := doc.Snapshot()
	if err != nil {
		return nil, err
	}

	resp := &AnalyzeResponseCLI{
		File:     abs,
		Document: snap,
		Messages: len(rec.Messages()),
	}
	if openErr != nil {
		resp.Errors = append(resp.Errors, openErr.Error())
	}
	for _, m := range rec.Messages() {
		if e, ok := m.(protocol.Error); ok {
			resp.Errors = append(resp.Errors, string(e.Code)+": "+e.Message)
		}
	}
	return resp, nil
}
