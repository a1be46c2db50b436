package sync

import (
	"context"
	"encoding/json"

	apperrors "github.com/jwlin/recallbox/internal/errors"
	"github.com/jwlin/recallbox/internal/store"
	syncconflict "github.com/jwlin/recallbox/internal/sync/conflict"
)

// Config is the persisted sync configuration. It survives restarts in app
// state under a namespaced key.
type Config struct {
	// AutoSyncEnabled turns the periodic scheduler on.
	AutoSyncEnabled bool `json:"auto_sync_enabled"`

	// IntervalSeconds is the period between scheduled passes.
	IntervalSeconds int `json:"interval_seconds"`

	// Policy holds the conflict auto-resolution switches.
	Policy syncconflict.Policy `json:"policy"`
}

// DefaultConfig returns the out-of-the-box configuration: auto sync every
// five minutes with the conservative conflict policy.
func DefaultConfig() *Config {
	return &Config{
		AutoSyncEnabled: true,
		IntervalSeconds: 300,
	}
}

// LoadConfig reads the persisted configuration, falling back to defaults
// when none has been saved yet.
func LoadConfig(ctx context.Context, st store.Store) (*Config, error) {
	raw, err := st.GetState(ctx, store.StateKeySyncConfig)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to decode sync config", err)
	}
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = DefaultConfig().IntervalSeconds
	}
	return &cfg, nil
}

// SaveConfig persists the configuration.
func SaveConfig(ctx context.Context, st store.Store, cfg *Config) error {
	if cfg.IntervalSeconds <= 0 {
		return apperrors.New(apperrors.ErrValidation, "sync interval must be positive")
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode sync config", err)
	}
	return st.PutState(ctx, store.StateKeySyncConfig, raw)
}
