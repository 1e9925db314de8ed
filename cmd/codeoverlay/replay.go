package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"codeoverlay/internal/config"
	"codeoverlay/internal/transport"

	"github.com/spf13/cobra"
)

var (
	replayOutput  string
	replayNoWait  bool
	replayTimeout time.Duration
)

var replayCmd = &cobra.Command{
	Use:   "replay <events.jsonl>",
	Short: "Feed recorded editor events through the engine",
	Long: `Replay a file of editor events, one JSON message per line, and write
every overlay message the engine produces as JSON lines.

By default the engine settles after each event: pending analysis finishes
and debounced suggestion passes run before the next event is read. Use
--no-wait to replay at full speed, as a fast typist would.

Examples:
  codeoverlay replay session.jsonl
  codeoverlay replay session.jsonl --out overlay.jsonl
  codeoverlay replay session.jsonl --no-wait`,
	Args: cobra.ExactArgs(1),
	Run:  runReplay,
}

func init() {
	replayCmd.Flags().StringVarP(&replayOutput, "out", "o", "", "Write overlay messages to a file instead of stdout")
	replayCmd.Flags().BoolVar(&replayNoWait, "no-wait", false, "Do not settle between events")
	replayCmd.Flags().DurationVar(&replayTimeout, "timeout", 5*time.Minute, "Maximum replay duration")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig().Config

	in, err := os.Open(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer in.Close()

	var out io.Writer = os.Stdout
	if replayOutput != "" {
		f, err := os.Create(replayOutput)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	if err := replay(cfg, in, out, !replayNoWait, replayTimeout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// settlingHandler lets the engine finish its work after every event.
type settlingHandler struct {
	eng *engine
}

func (h settlingHandler) HandleLine(ctx context.Context, line []byte) {
	h.eng.workspace.HandleLine(ctx, line)
	if err := h.eng.settle(ctx); err != nil {
		h.eng.logger.Warn("replay did not settle", "error", err.Error())
	}
}

func replay(cfg *config.Config, in io.Reader, out io.Writer, wait bool, timeout time.Duration) error {
	logger, logCloser, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}
	defer logCloser.Close()

	eng, err := newEngine(cfg, logger, engineOptions{Sink: transport.NewLineSink(out), NoCache: true})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var h transport.Handler = eng.workspace
	if wait {
		h = settlingHandler{eng: eng}
	}
	runErr := transport.ServeLines(ctx, in, h)
	if runErr == nil {
		runErr = eng.settle(ctx)
	}
	if err := eng.close(5 * time.Second); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
