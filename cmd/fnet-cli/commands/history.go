package commands

import (
	"fmt"
	"os"
	"time"

	"fnet-dataget/internal/history"
	"fnet-dataget/internal/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var historyLimit *int

func init() {
	historyLimit = historyCmd.Flags().Int("limit", 20, "How many entries to show.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [--limit <n>]",
	Short: "Prints the most recent waveform requests.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := readConfig()
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		if cfg.HistoryDb == "" {
			serviceutil.Fatal("history is disabled", fmt.Errorf("history_db is not set in %s", *configPath))
		}

		store, err := history.Open(cfg.HistoryDb)
		if err != nil {
			serviceutil.Fatal("failed to open history", err)
		}
		defer store.Close()

		entries, err := store.Recent(cmd.Context(), *historyLimit)
		if err != nil {
			serviceutil.Fatal("failed to read history", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Fetched", "Start", "Station", "Component", "Outcome", "Handle", "Path / Message"})
		for _, e := range entries {
			detail := e.Path
			if detail == "" {
				detail = e.Message
			}
			t.AppendRow(table.Row{
				e.FetchedAt.Local().Format(time.DateTime),
				e.Start.Format(time.DateTime),
				e.Station,
				e.Component,
				e.Outcome,
				e.Handle,
				detail,
			})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
