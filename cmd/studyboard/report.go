package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/abelbrown/studyboard/internal/analytics"
	"github.com/abelbrown/studyboard/internal/config"
	"github.com/abelbrown/studyboard/internal/logging"
	"github.com/abelbrown/studyboard/internal/tui"
)

func init() {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Fetch sessions, weaknesses, mock exams and metrics once and print them",
		Args:  cobra.NoArgs,
		RunE:  runReport,
	}
	clientFlags(cmd)
	cmd.Flags().Bool("analyze", false, "Also run local weakness analysis and the remote progress report")
	cmd.Flags().Duration("timeout", time.Minute, "Overall deadline")
	cmd.Flags().StringP("format", "f", "text", "Output format: json or text")

	rootCmd.AddCommand(cmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	applyClientFlags(cmd, cfg)
	trace, done := setupLogging(cfg, cfg.Log.Dir)
	defer done()

	// No push channel for a one-shot report.
	cfg.Client.Realtime = false
	store := openStore(cmd, cfg, trace)
	defer store.Close()

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	store.Refresh(ctx)
	if analyze, _ := cmd.Flags().GetBool("analyze"); analyze {
		store.AnalyzeWeaknesses(ctx)
		store.AnalyzeProgress(ctx)
	}

	st := store.Snapshot()
	saveState(store)

	format, _ := cmd.Flags().GetString("format")
	if format == "json" {
		b, _ := json.MarshalIndent(st, "", "  ")
		fmt.Println(string(b))
	} else {
		fmt.Println(tui.Render(st, time.Now()))
	}
	if st.Err != nil {
		return st.Err
	}
	return nil
}

func saveState(store *analytics.Store) {
	if err := config.SaveState("", store.PersistedState()); err != nil {
		logging.Warn("save state", "error", err)
	}
}
