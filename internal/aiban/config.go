package aiban

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gatescope/gatescope/internal/logging"
)

const settingsKey = "settings"

// Settings are the admin-tunable knobs of the ban pipeline, persisted in
// the local aiban_config table and mirrored under the durable ai_ban:
// cache prefix.
type Settings struct {
	Enabled bool `json:"enabled"`
	DryRun  bool `json:"dry_run"`

	ScanIntervalMinutes int    `json:"scan_interval_minutes"`
	Window              string `json:"window"`
	MaxUsersPerScan     int    `json:"max_users_per_scan"`

	// AI verdict stage; the pipeline runs rule-only when disabled.
	AIEnabled     bool    `json:"ai_enabled"`
	BaseURL       string  `json:"base_url"`
	APIKey        string  `json:"api_key"`
	Model         string  `json:"model"`
	CustomPrompt  string  `json:"custom_prompt"`
	MinConfidence float64 `json:"min_confidence"`

	// Rule stage thresholds.
	BanScoreThreshold float64            `json:"ban_score_threshold"`
	FlagWeights       map[string]float64 `json:"flag_weights,omitempty"`

	DisableTokens bool `json:"disable_tokens"`
}

// DefaultSettings keeps the pipeline off until an operator turns it on.
func DefaultSettings() Settings {
	return Settings{
		Enabled:             false,
		DryRun:              true,
		ScanIntervalMinutes: 10,
		Window:              "24h",
		MaxUsersPerScan:     20,
		Model:               "gpt-4o-mini",
		MinConfidence:       0.8,
		BanScoreThreshold:   70,
	}
}

// Sanitized hides the API key for responses.
func (s Settings) Sanitized() Settings {
	if s.APIKey != "" {
		s.APIKey = "********"
	}
	return s
}

func (s *Service) LoadSettings(ctx context.Context) (Settings, error) {
	raw, found, err := s.local.AIBanConfigGet(ctx, settingsKey)
	if err != nil {
		return DefaultSettings(), fmt.Errorf("load ai-ban settings: %w", err)
	}
	if !found {
		return DefaultSettings(), nil
	}

	out := DefaultSettings()
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		logging.Warn("stored ai-ban settings are invalid, using defaults", "error", err)
		return DefaultSettings(), nil
	}
	return out, nil
}

// SaveSettings persists the settings and refreshes the chat client. An
// incoming masked API key keeps the stored one.
func (s *Service) SaveSettings(ctx context.Context, in Settings) (Settings, error) {
	current, err := s.LoadSettings(ctx)
	if err != nil {
		return in, err
	}
	if in.APIKey == "" || in.APIKey == "********" {
		in.APIKey = current.APIKey
	}
	if in.ScanIntervalMinutes <= 0 {
		in.ScanIntervalMinutes = current.ScanIntervalMinutes
	}
	if in.Window == "" {
		in.Window = current.Window
	}
	if in.BanScoreThreshold <= 0 {
		in.BanScoreThreshold = current.BanScoreThreshold
	}
	if in.MinConfidence <= 0 {
		in.MinConfidence = current.MinConfidence
	}

	raw, err := json.Marshal(in)
	if err != nil {
		return in, fmt.Errorf("marshal ai-ban settings: %w", err)
	}
	if err := s.local.AIBanConfigSet(ctx, settingsKey, string(raw)); err != nil {
		return in, fmt.Errorf("store ai-ban settings: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, "ai_ban:config", in, 0); err != nil {
			logging.Warn("ai-ban settings cache write failed", "error", err)
		}
	}

	s.mu.Lock()
	s.settings = in
	s.chat = nil
	s.mu.Unlock()

	return in, nil
}
