package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"handsync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger("[config] ")
		cfg := loadConfig(logger)

		st, err := openStore(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		endpoint, err := resolveEndpoint(cfg, st)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\n%s Effective configuration\n\n", ui.RenderAccent("⚙"))
		fmt.Printf("data_dir: %s\n", cfg.DataDir)
		fmt.Printf("endpoint: %s\n", displayEndpoint(endpoint))
		fmt.Printf("poll_interval: %s\n", cfg.PollInterval)
		fmt.Printf("staleness_threshold: %s\n", cfg.StalenessThreshold)
		fmt.Printf("probe_interval: %s\n", cfg.ProbeInterval)
		fmt.Printf("max_retries: %d\n", cfg.MaxRetries)
		fmt.Printf("request_timeout: %s\n", cfg.RequestTimeout)
		fmt.Printf("backoff: %s\n", cfg.Backoff)
		fmt.Printf("dashboard_port: %d\n", cfg.DashboardPort)
		if cfg.LogFile != "" {
			fmt.Printf("log_file: %s\n", cfg.LogFile)
		}
		fmt.Println()
	},
}

var configSetEndpointCmd = &cobra.Command{
	Use:   "set-endpoint <url>",
	Short: "Save the remote endpoint in the local database",
	Long: `Save the remote web-app endpoint URL in the local database.

An endpoint set in the config file takes precedence over this value.
Pass an empty string to clear the saved endpoint and return to
local-only mode.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger("[config] ")
		cfg := loadConfig(logger)

		endpoint := args[0]
		if endpoint != "" {
			u, err := url.Parse(endpoint)
			if err != nil || u.Scheme == "" || u.Host == "" {
				fmt.Fprintf(os.Stderr, "Error: %q is not a valid http(s) URL\n", endpoint)
				os.Exit(1)
			}
		}

		st, err := openStore(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		if err := st.SetEndpoint(endpoint); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving endpoint: %v\n", err)
			os.Exit(1)
		}

		if endpoint == "" {
			fmt.Printf("%s Endpoint cleared (local-only mode)\n", ui.RenderSuccess("✓"))
		} else {
			fmt.Printf("%s Endpoint saved: %s\n", ui.RenderSuccess("✓"), endpoint)
		}
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetEndpointCmd)
}
