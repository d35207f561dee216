package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"fnet-dataget/internal/components/telemetry"
	"fnet-dataget/internal/configutil"

	"github.com/spf13/cobra"
)

type Config struct {
	Username       string            `json:"username"`
	Password       string            `json:"password"`
	BaseUrl        string            `json:"base_url"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	Proxies        map[string]string `json:"proxies"`
	// HistoryDb is the sqlite file fetch outcomes are recorded to, empty disables it.
	HistoryDb string `json:"history_db"`
}

var (
	configPath *string
	debug      *bool
	otelState  telemetry.Otel
)

var rootCmd = &cobra.Command{
	Use:   "fnet-cli",
	Short: "fnet-cli requests continuous waveform archives from NIED F-net.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(os.Stderr, *debug)

		var err error
		otelState, err = telemetry.SetupFromEnv(cmd.Context(), "fnet-cli")
		if err != nil {
			slog.Warn("failed to setup telemetry", "err", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		err := otelState.Shutdown(context.Background())
		if err != nil {
			slog.Warn("failed to shutdown telemetry", "err", err)
		}
	},
}

func init() {
	configPath = rootCmd.PersistentFlags().String("config", "config.json5", "The config file holding credentials and defaults.")
	debug = rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging.")
}

func readConfig() (Config, error) {
	cfg, err := configutil.ReadConfig[Config](*configPath)
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", *configPath, err)
	}
	return cfg, nil
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
