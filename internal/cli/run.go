package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pitchroom/internal/domain"
	"pitchroom/internal/observability"
	"pitchroom/internal/observability/logging"
)

// handoffSlack is added to the configured timeouts when waiting for the
// analysis after stop.
const handoffSlack = 5 * time.Second

type runOptions struct {
	out         string
	metricsAddr string
}

func NewRunCmd(deps *Dependencies) *cobra.Command {
	opts := runOptions{metricsAddr: deps.Config.Metrics.Addr}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a live pitch session",
		Long:  "Start a pitch session and stream the judges' transcript.\nType q and Enter to begin Q&A, s and Enter (or Ctrl+C) to stop. The analysis is printed when the session ends.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSession(ctx, deps, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Write the analysis JSON to this file instead of stdout")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", opts.metricsAddr, "Serve Prometheus metrics on this address")

	return cmd
}

func runSession(ctx context.Context, deps *Dependencies, opts runOptions, in io.Reader, out io.Writer) error {
	f := newFormatter(out)
	services, err := deps.Assemble(deps.Config, newSessionPrinter(f))
	if err != nil {
		return fmt.Errorf("initializing session: %w", err)
	}
	defer services.Close()

	log := logging.WithComponent("cli")
	if opts.metricsAddr != "" {
		server := observability.NewServer(opts.metricsAddr, services.Controller.Status)
		if err := server.Start(); err != nil {
			return err
		}
		f.Info("Session status at http://" + server.Addr() + "/session")
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("failed to stop metrics server")
			}
		}()
	}

	controller := services.Controller
	if err := controller.Start(ctx); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	readCtx, stopReading := context.WithCancel(ctx)
	commands := readCommands(readCtx, in)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-commands:
			if !ok {
				// Without stdin only a signal ends the session.
				commands = nil
				continue
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "q":
				if err := controller.BeginQnA(ctx); err != nil {
					f.Warning(err.Error())
				}
			case "s":
				break loop
			case "":
			default:
				f.Info("Commands: q = begin Q&A, s = stop")
			}
		}
	}

	stopReading()

	if err := controller.Stop(context.Background()); err != nil {
		return fmt.Errorf("stopping session: %w", err)
	}

	cfg := deps.Config
	waitCtx, cancel := context.WithTimeout(context.Background(), cfg.Backend.AnalysisTimeout()+cfg.Session.CloseGrace()+handoffSlack)
	defer cancel()
	if err := controller.Wait(waitCtx); err != nil {
		return fmt.Errorf("waiting for analysis: %w", err)
	}

	result, ok := controller.TakeAnalysis()
	if !ok {
		return errors.New("session ended without an analysis")
	}
	return writeAnalysis(result, opts.out, f)
}

// readCommands forwards stdin lines until EOF or until ctx ends. A read
// already blocked on stdin finishes with the process.
func readCommands(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func writeAnalysis(result domain.AnalysisResult, path string, f *formatter) error {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result.Payload, "", "  "); err != nil {
		return fmt.Errorf("formatting analysis: %w", err)
	}
	pretty.WriteByte('\n')

	if path == "" {
		f.Raw(pretty.String())
		return nil
	}
	if err := os.WriteFile(path, pretty.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing analysis: %w", err)
	}
	f.Success("Analysis saved: " + path)
	return nil
}
