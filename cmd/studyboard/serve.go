package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/abelbrown/studyboard/internal/analysis"
	"github.com/abelbrown/studyboard/internal/logging"
	"github.com/abelbrown/studyboard/internal/server"
	"github.com/abelbrown/studyboard/internal/storage"
)

const shutdownGrace = 10 * time.Second

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the SQLite-backed analytics backend",
		Args:  cobra.NoArgs,
		Run:   runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (default from config, :8080)")
	cmd.Flags().String("db", "", "SQLite database path (default from config)")

	rootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		cfg.Server.Addr = v
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.Server.DB = v
	}

	trace, done := setupLogging(cfg, cfg.Log.Dir)
	defer done()

	db, err := storage.Open(cfg.Server.DB)
	if err != nil {
		exitErr("open database", err)
	}
	defer db.Close()

	scorer := analysis.AdvancedScorer
	if !cfg.Offload.Advanced {
		scorer = analysis.BasicScorer(cfg.Weights)
	}
	srv := server.New(db, server.Options{
		Location: cfg.Location(),
		Scorer:   scorer,
		Trace:    trace,
	})
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info("serving", "addr", cfg.Server.Addr, "db", cfg.Server.DB, "advanced", cfg.Offload.Advanced)
	if err := server.ListenAndServe(ctx, cfg.Server.Addr, srv.Handler(), shutdownGrace); err != nil {
		logging.Error("server stopped", "error", err)
		exitErr("serve", err)
	}
	logging.Info("server stopped")
}
