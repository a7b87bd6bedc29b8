package main

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/abelbrown/studyboard/internal/config"
	"github.com/abelbrown/studyboard/internal/logging"
	"github.com/abelbrown/studyboard/internal/otel"
	"github.com/abelbrown/studyboard/internal/tui"
)

func init() {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live terminal view over the analytics store",
		Args:  cobra.NoArgs,
		Run:   runWatch,
	}
	clientFlags(cmd)
	cmd.Flags().Duration("interval", 5*time.Minute, "Refresh interval, 0 = only on push events and r")

	rootCmd.AddCommand(cmd)
}

func runWatch(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	applyClientFlags(cmd, cfg)

	// The view owns the terminal, so logs always go to a file.
	dir := cfg.Log.Dir
	if dir == "" {
		dir = config.DefaultLogDir()
	}
	trace, done := setupLogging(cfg, dir)
	defer done()
	ring := otel.NewRing[otel.Event](256)
	trace.SetRing(ring)

	store := openStore(cmd, cfg, trace)
	defer store.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if user := store.Filter().UserID; user != "" {
		store.ConnectRealtime(ctx, user)
	}

	changes := store.Subscribe()
	defer store.Unsubscribe(changes)

	interval, _ := cmd.Flags().GetDuration("interval")
	model := tui.New(tui.Commands{
		Load: func() tea.Cmd {
			return func() tea.Msg {
				return tui.StateLoaded{State: store.Snapshot(), Events: ring.Last(64)}
			}
		},
		// Results arrive through Changes, so these return no message.
		Refresh: func() tea.Cmd {
			return func() tea.Msg {
				store.Refresh(ctx)
				return nil
			}
		},
		Analyze: func() tea.Cmd {
			return func() tea.Msg {
				store.AnalyzeWeaknesses(ctx)
				store.AnalyzeProgress(ctx)
				return nil
			}
		},
		Changes:  changes,
		Interval: interval,
	})

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		logging.Error("watch view", "error", err)
	}

	cancel()
	saveState(store)
}
