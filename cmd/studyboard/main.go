// Command studyboard is the study analytics client and its reference backend.
//
// Usage:
//
//	studyboard serve                Run the SQLite-backed analytics backend
//	studyboard aggregate FILE       Daily or weekly rollups of a sessions file
//	studyboard score weakness       Weakness score from raw counters
//	studyboard score efficiency     Efficiency score from raw counters
//	studyboard report               Fetch everything once and print it
//	studyboard watch                Live terminal view over the store
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abelbrown/studyboard/internal/config"
	"github.com/abelbrown/studyboard/internal/logging"
	"github.com/abelbrown/studyboard/internal/otel"
)

var (
	configPath string
	logLevel   string
	tracePath  string
)

var rootCmd = &cobra.Command{
	Use:           "studyboard",
	Short:         "Study session analytics",
	Long:          "Aggregates study sessions, scores weaknesses and keeps a cached view of a remote analytics backend.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $XDG_CONFIG_HOME/studyboard/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&tracePath, "trace", "", "Append JSONL trace events to this file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "studyboard: %v\n", err)
		os.Exit(1)
	}
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

// loadConfig reads the config file and applies the persistent flags.
func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitErr("load config", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if tracePath != "" {
		cfg.Log.Trace = tracePath
	}
	return cfg
}

// setupLogging starts the text log and, when configured, the event trace.
// The returned func flushes both.
func setupLogging(cfg *config.Config, dir string) (*otel.Logger, func()) {
	if err := logging.Init(dir, cfg.Log.Level); err != nil {
		exitErr("init logging", err)
	}

	trace := otel.NewNullLogger()
	var traceFile io.Closer
	if cfg.Log.Trace != "" {
		l, f, err := otel.OpenFile(cfg.Log.Trace)
		if err != nil {
			exitErr("open trace", err)
		}
		trace, traceFile = l, f
	}
	if tracePath != "" {
		otel.SetVerbose(true)
	}
	trace.Info(otel.KindStartup, "cli", strings.Join(os.Args[1:], " "))

	return trace, func() {
		trace.Info(otel.KindShutdown, "cli", "")
		trace.Close()
		if traceFile != nil {
			traceFile.Close()
		}
		logging.Close()
	}
}
