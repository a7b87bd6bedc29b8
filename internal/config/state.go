package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/abelbrown/studyboard/internal/model"
)

// State is the client state that survives restarts: the active filter and
// the cache timeout. Nothing else is persisted.
type State struct {
	Filter         model.Filter `json:"filter"`
	CacheTimeoutMs int64        `json:"cacheTimeout"`
}

// CacheTimeout returns the persisted timeout, 0 when unset.
func (s State) CacheTimeout() time.Duration {
	return time.Duration(s.CacheTimeoutMs) * time.Millisecond
}

// NewState builds a State from a filter and timeout.
func NewState(f model.Filter, cacheTimeout time.Duration) State {
	return State{Filter: f.Clone(), CacheTimeoutMs: cacheTimeout.Milliseconds()}
}

// LoadState reads the state file. ok is false when no file exists.
func LoadState(path string) (st State, ok bool, err error) {
	if path == "" {
		path = DefaultStatePath()
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("read state: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, false, fmt.Errorf("decode state %s: %w", path, err)
	}
	return st, true, nil
}

// SaveState writes the state file atomically.
func SaveState(path string, st State) error {
	if path == "" {
		path = DefaultStatePath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
