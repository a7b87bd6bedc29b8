package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/abelbrown/studyboard/internal/analytics"
	"github.com/abelbrown/studyboard/internal/config"
	"github.com/abelbrown/studyboard/internal/logging"
	"github.com/abelbrown/studyboard/internal/model"
	"github.com/abelbrown/studyboard/internal/otel"
	"github.com/abelbrown/studyboard/internal/realtime"
	"github.com/abelbrown/studyboard/internal/remote"
)

// clientFlags are shared by the commands that talk to a backend.
func clientFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("user", "u", "", "User id (default from config or $STUDYBOARD_USER)")
	cmd.Flags().String("url", "", "Backend base URL (default from config)")
	cmd.Flags().String("range", "", "Date range preset, overrides the saved filter")
}

func applyClientFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("user"); v != "" {
		cfg.Client.UserID = v
	}
	if v, _ := cmd.Flags().GetString("url"); v != "" {
		cfg.Client.BaseURL = v
	}
}

// openStore builds the remote client and an analytics store over it, then
// restores the persisted filter and cache timeout.
func openStore(cmd *cobra.Command, cfg *config.Config, trace *otel.Logger) *analytics.Store {
	client, err := remote.New(remote.Options{
		BaseURL:    cfg.Client.BaseURL,
		Timeout:    cfg.Client.Timeout.Std(),
		Rate:       cfg.Client.Rate,
		Burst:      cfg.Client.Burst,
		MaxRetries: cfg.Client.MaxRetries,
	})
	if err != nil {
		exitErr("remote client", err)
	}

	deps := analytics.Deps{Backend: client, Trace: trace}
	if cfg.Client.Realtime {
		deps.Dial = analytics.RealtimeDialer(client, realtime.Options{Trace: trace})
	}

	store := analytics.New(deps, analytics.Options{
		Filter:          model.Filter{UserID: cfg.Client.UserID},
		CacheTTL:        cfg.Cache.TTL.Std(),
		CacheMaxEntries: cfg.Cache.MaxEntries,
		BatchSize:       cfg.Batch.Size,
		Debounce:        cfg.Batch.Debounce.Std(),
		OffloadTimeout:  cfg.Offload.Timeout.Std(),
		MaxWorkers:      cfg.Offload.MaxWorkers,
		Weights:         cfg.Weights,
		Advanced:        cfg.Offload.Advanced,
		Location:        cfg.Location(),
	})

	st, ok, err := config.LoadState("")
	switch {
	case err != nil:
		logging.Warn("ignoring saved state", "error", err)
	case ok:
		store.Restore(st)
		// A saved preset window is re-anchored at now.
		if p := st.Filter.DateRange.Preset; p != "" && p != model.PresetCustom {
			store.SetDateRange(model.NewDateRange(p, time.Now().In(cfg.Location())))
		}
	}

	// The configured user always wins over a saved one.
	if cfg.Client.UserID != "" {
		user := cfg.Client.UserID
		store.SetFilter(model.FilterPatch{UserID: &user})
	}
	if v, _ := cmd.Flags().GetString("range"); v != "" {
		p, err := model.ParsePreset(v)
		if err != nil {
			exitErr("range", err)
		}
		store.SetDateRange(model.NewDateRange(p, time.Now().In(cfg.Location())))
	}
	return store
}
