// Package main provides the entry point for the local activity manager
// demo binary: an HTTP admin surface plus an in-process executor loop
// that drains NextPending and reports results back through Complete.
package main

import (
	"context"
	"errors"
	"flag"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/runtimelab/lam/config"
	"github.com/runtimelab/lam/internal/httpapi"
	"github.com/runtimelab/lam/internal/localactivity"
	"github.com/runtimelab/lam/internal/retrypolicy"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP server address")
	configPath := flag.String("config", "", "path to a LAM config JSON file (optional; falls back to built-in defaults)")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := loadConfig(*configPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("loading config")
	}

	policy := retrypolicy.New(cfg.RetryPolicy)
	manager := localactivity.NewManager(*cfg, policy.ShouldRetry, logger)

	server := httpapi.NewServer(*addr, manager)

	execCtx, execCancel := context.WithCancel(context.Background())
	go runDemoExecutor(execCtx, manager, logger)

	done := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info().Msg("shutting down")
		execCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := manager.ShutdownAndWaitAllFinished(ctx); err != nil {
			logger.Error().Err(err).Msg("manager did not drain cleanly")
		}
		if err := server.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("http shutdown error")
		}
		close(done)
	}()

	logger.Info().Str("addr", *addr).Msg("starting local activity manager demo")
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}

	<-done
	logger.Info().Msg("stopped")
}

func loadConfig(path string, logger zerolog.Logger) (*config.LAMConfig, error) {
	if path == "" {
		return &config.LAMConfig{
			Namespace:             "demo",
			MaxConcurrent:         10,
			LocalRetryThresholdMs: 5000,
			RetryPolicy: config.RetryPolicyConfig{
				InitialIntervalMs:  1000,
				BackoffCoefficient: 2,
				MaxIntervalMs:      60000,
				MaxAttempts:        5,
			},
		}, nil
	}
	return config.NewLoader(logger).LoadFromFile(path)
}

// runDemoExecutor stands in for a real activity worker: it drains
// NextPending in a loop and reports a synthetic result back through
// Complete. Cancel dispatches are acknowledged but otherwise ignored,
// since this demo has no real long-running work to interrupt.
func runDemoExecutor(ctx context.Context, manager *localactivity.Manager, logger zerolog.Logger) {
	for {
		dt := manager.NextPending(ctx)
		if dt == nil {
			return
		}

		switch dt.Kind {
		case localactivity.KindDispatch:
			handleDispatch(manager, dt.Dispatch, logger)
		case localactivity.KindTimeout:
			logger.Warn().
				Str("run_id", string(dt.Timeout.RunID)).
				Uint32("seq", uint32(dt.Timeout.Resolution.Seq)).
				Str("timeout_type", dt.Timeout.Resolution.Result.TimeoutType.String()).
				Msg("activity timed out")
			if dt.Timeout.Task != nil {
				handleDispatch(manager, dt.Timeout.Task, logger)
			}
		}
	}
}

func handleDispatch(manager *localactivity.Manager, task *localactivity.ActivityTask, logger zerolog.Logger) {
	switch task.Variant {
	case localactivity.ActivityTaskVariantCancel:
		logger.Info().
			Str("token", task.TaskToken.String()).
			Int("reason", int(task.Cancel.Reason)).
			Msg("cancel delivered")
		return
	case localactivity.ActivityTaskVariantStart:
		start := task.Start
		logger.Info().
			Str("activity_type", start.ActivityType).
			Str("activity_id", start.ActivityID).
			Uint32("attempt", start.Attempt).
			Msg("dispatching")

		go func() {
			// Simulate real work: a short random delay, occasionally failing
			// so the retry path has something to exercise.
			time.Sleep(time.Duration(20+rand.Intn(80)) * time.Millisecond)

			var result localactivity.ExecutionResult
			if rand.Intn(4) == 0 {
				result = localactivity.ExecutionResult{
					Kind:    localactivity.ResultFailed,
					Failure: retrypolicy.FailureInfo{Type: "DemoTransientError"},
				}
			} else {
				result = localactivity.ExecutionResult{
					Kind:    localactivity.ResultCompleted,
					Payload: []byte(`{"ok":true}`),
				}
			}

			action := manager.Complete(task.TaskToken, result)
			logger.Debug().
				Str("activity_id", start.ActivityID).
				Int("action", int(action.Kind)).
				Msg("attempt reported")
		}()
	}
}
