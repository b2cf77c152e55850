package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"handsync/internal/config"
	"handsync/internal/daemon"
	"handsync/internal/dashboard"
	"handsync/internal/logging"
	"handsync/internal/remote"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the sync daemon (foreground)",
	Long: `Start the sync daemon in foreground mode.

The daemon will:
  1. Run a sync cycle whenever local data is stale
  2. Probe connectivity and go offline/online automatically
  3. Drain the offline queue as connectivity allows
  4. Reload the config file when it changes
  5. Serve a WebSocket status dashboard when dashboard_port is set

Stop with Ctrl-C; the daemon shuts down cleanly.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(newLogger("[config] "))
		logger := logging.New("[daemon] ", logging.Options{
			File:      cfg.LogFile,
			MaxSizeMB: cfg.LogMaxSizeMB,
		})

		st, err := openStore(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		o, err := buildOrchestrator(cfg, st, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Optional status dashboard.
		if cfg.DashboardPort != 0 {
			server := dashboard.NewServer(&dashboard.Config{
				Port:   cfg.DashboardPort,
				Logger: logger,
			})
			if err := server.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
				os.Exit(1)
			}
			defer server.Stop()
			o.SetPublisher(dashboard.NewHandler(server, logger))
		}

		// Reload the endpoint when the config file changes.
		watchPath := configPath
		if watchPath == "" {
			watchPath = config.Path(cfg.DataDir)
		}
		if cw, err := daemon.NewConfigWatcher(watchPath); err != nil {
			logger.Printf("Warning: config watching disabled: %v", err)
		} else if err := cw.Start(); err != nil {
			logger.Printf("Warning: config watching disabled: %v", err)
		} else {
			defer cw.Stop()
			go func() {
				for range cw.Changes() {
					fresh := loadConfig(logger)
					endpoint, err := resolveEndpoint(fresh, st)
					if err != nil {
						logger.Printf("Warning: config reload failed: %v", err)
						continue
					}
					logger.Printf("Config reloaded (endpoint %s)", displayEndpoint(endpoint))
					o.SetRemote(remote.New(endpoint, fresh.RequestTimeout, logger))
					o.RequestSync()
				}
			}()
		}

		if err := o.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon error: %v\n", err)
			os.Exit(1)
		}
	},
}

func displayEndpoint(endpoint string) string {
	if endpoint == "" {
		return "none, local-only"
	}
	return endpoint
}
