package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/remixsync/internal/api"
	"github.com/user/remixsync/internal/config"
	"github.com/user/remixsync/internal/gateway"
	"github.com/user/remixsync/internal/remix"
	"github.com/user/remixsync/internal/render"
	"github.com/user/remixsync/internal/scheduler"
	"github.com/user/remixsync/internal/state"
	"github.com/user/remixsync/internal/transport"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("no-relay", false, "do not host the websocket relay; connect to relay.url only")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the remixsync daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, "remixsync.pid")
}

func writePIDFile(dataDir string) (string, error) {
	path := pidPath(dataDir)
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

// newGateway wires the stores, relay dialer and studio settings from cfg.
func newGateway(cfg *config.Config) (*gateway.Gateway, *state.SessionStore, *state.JournalStore, error) {
	codec, err := transport.CodecByName(cfg.Relay.Codec)
	if err != nil {
		return nil, nil, nil, err
	}
	sessions := state.NewSessionStore(cfg.DataDir)
	journal := state.NewJournalStore(cfg.DataDir)
	results := state.NewResultStore(cfg.DataDir)

	retry := gateway.DefaultRetryPolicy()
	if cfg.Relay.ConnectAttempts > 0 {
		retry.MaxAttempts = cfg.Relay.ConnectAttempts
	}
	dial := transport.WebSocketDialer(transport.WebSocketConfig{
		URL:   cfg.Relay.URL,
		Token: cfg.Relay.Token,
		Codec: codec,
	})
	gw := gateway.New(sessions, journal, results, dial, gateway.Settings{
		MaxConcurrent:   int64(cfg.MaxConcurrent),
		DisplayName:     cfg.DisplayName,
		MaxParticipants: cfg.MaxParticipants,
		AutoSave:        cfg.AutoSave,
		ConnectTimeout:  cfg.ConnectTimeout(),
		Retry:           retry,
		Clips:           remix.PlaceholderClips{BaseURL: cfg.Clips.BaseURL, Duration: cfg.Clips.DefaultDuration},
		Surface:         render.NewLogSurface(),
	})
	return gw, sessions, journal, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := scheduler.Validate(cfg.ResyncSchedule); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidFile, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	gw, sessions, journal, err := newGateway(cfg)
	if err != nil {
		return err
	}

	var relay *transport.Relay
	if noRelay, _ := cmd.Flags().GetBool("no-relay"); !noRelay {
		relay = transport.NewRelay(transport.RelayConfig{Token: cfg.Relay.Token})
		defer relay.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw.Start(ctx)
	defer gw.Stop()

	sched := scheduler.New(cfg.ResyncSchedule, gw)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewServer(gw, sessions, journal, render.Builtin(), relay),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("remixsync started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"listen", cfg.Listen,
		"relay_url", cfg.Relay.URL,
		"relay_hosted", relay != nil,
		"codec", cfg.Relay.Codec,
		"resync_schedule", cfg.ResyncSchedule,
		"pid_file", pidFile,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return waitForSignal(gctx, cancel, cfg, sched)
	})
	return g.Wait()
}

// waitForSignal blocks until SIGINT or SIGTERM and then cancels the serve
// context. SIGHUP re-execs the binary.
func waitForSignal(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, sched *scheduler.Scheduler) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, restarting")
				execPath, err := os.Executable()
				if err != nil {
					slog.Error("failed to get executable path", "error", err)
					continue
				}
				sched.Stop()
				// Clean up PID file before re-exec
				os.Remove(pidPath(cfg.DataDir))
				if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
					slog.Error("failed to re-exec", "error", err)
					if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
						slog.Error("failed to re-write PID file", "error", writeErr)
					}
					if err := sched.Reload(cfg.ResyncSchedule); err != nil {
						slog.Error("failed to restart scheduler", "error", err)
					}
				}
				continue
			}
			slog.Info("shutting down", "signal", sig)
			cancel()
			return nil
		}
	}
}
