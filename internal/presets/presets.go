// Package presets loads the built-in strategy presets bots can be created
// from, the same embedded-config-plus-user-overrides shape as polybot's
// config.Load, generalised from one process-wide YAML file to a catalogue
// of named tunable bundles stored in strategy_presets.
package presets

import (
	"embed"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/voltaforge/dlmmbot/internal/domain"
	"github.com/voltaforge/dlmmbot/internal/storage"
)

//go:embed system.yaml
var systemFS embed.FS

// Config is the tunable subset of domain.BotConfig a preset fixes. ApplyTo
// writes every field, zero values included; only an empty StrategyMode
// leaves the target's strategy mode unchanged.
type Config struct {
	StrategyMode string `yaml:"strategy_mode" json:"strategy_mode"`

	EntryScoreThreshold float64 `yaml:"entry_score_threshold" json:"entry_score_threshold"`
	MinLiquidity        float64 `yaml:"min_liquidity" json:"min_liquidity"`
	MinVolume24h        float64 `yaml:"min_volume_24h" json:"min_volume_24h"`

	PositionSizePercent float64 `yaml:"position_size_percent" json:"position_size_percent"`
	MinPositionSOL      float64 `yaml:"min_position_sol" json:"min_position_sol"`
	MaxPositionSOL      float64 `yaml:"max_position_sol" json:"max_position_sol"`
	DefaultBinRange     int     `yaml:"default_bin_range" json:"default_bin_range"`

	ProfitTargetPct     float64 `yaml:"profit_target_pct" json:"profit_target_pct"`
	StopLossPct         float64 `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	TrailingStopEnabled bool    `yaml:"trailing_stop_enabled" json:"trailing_stop_enabled"`
	TrailingStopPct     float64 `yaml:"trailing_stop_pct" json:"trailing_stop_pct"`
	MaxHoldMinutes      int     `yaml:"max_hold_minutes" json:"max_hold_minutes"`
	MaxDailyLossSOL     float64 `yaml:"max_daily_loss_sol" json:"max_daily_loss_sol"`
	CooldownMinutes     int     `yaml:"cooldown_minutes" json:"cooldown_minutes"`

	ScanIntervalSeconds          int  `yaml:"scan_interval_seconds" json:"scan_interval_seconds"`
	PositionCheckIntervalSeconds int  `yaml:"position_check_interval_seconds" json:"position_check_interval_seconds"`
	SolPairsOnly                 bool `yaml:"sol_pairs_only" json:"sol_pairs_only"`
}

// Definition is one named, described preset.
type Definition struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Config      Config `yaml:"config"`
}

type catalogue struct {
	Presets []Definition `yaml:"presets"`
}

// LoadSystem parses the embedded system.yaml into its preset definitions.
func LoadSystem() ([]Definition, error) {
	data, err := systemFS.ReadFile("system.yaml")
	if err != nil {
		return nil, fmt.Errorf("presets.LoadSystem: read embedded file: %w", err)
	}
	var cat catalogue
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("presets.LoadSystem: parse YAML: %w", err)
	}
	return cat.Presets, nil
}

// ApplyTo overlays a preset's tunables onto an existing bot config.
func (c Config) ApplyTo(cfg *domain.BotConfig) {
	if c.StrategyMode != "" {
		cfg.StrategyMode = domain.StrategyMode(c.StrategyMode)
	}
	cfg.EntryScoreThreshold = c.EntryScoreThreshold
	cfg.MinLiquidity = c.MinLiquidity
	cfg.MinVolume24h = c.MinVolume24h
	cfg.PositionSizePercent = c.PositionSizePercent
	cfg.MinPositionSOL = c.MinPositionSOL
	cfg.MaxPositionSOL = c.MaxPositionSOL
	cfg.DefaultBinRange = c.DefaultBinRange
	cfg.Risk = domain.RiskParams{
		ProfitTargetPct:     c.ProfitTargetPct,
		StopLossPct:         c.StopLossPct,
		TrailingStopEnabled: c.TrailingStopEnabled,
		TrailingStopPct:     c.TrailingStopPct,
		MaxHoldMinutes:      c.MaxHoldMinutes,
		MaxDailyLossSOL:     c.MaxDailyLossSOL,
		CooldownMinutes:     c.CooldownMinutes,
	}
	cfg.ScanIntervalSeconds = c.ScanIntervalSeconds
	cfg.PositionCheckIntervalSeconds = c.PositionCheckIntervalSeconds
	cfg.SolPairsOnly = c.SolPairsOnly
}

// SystemSeedRows converts the embedded catalogue into storage rows ready
// for Store.SeedSystemPresets.
func SystemSeedRows() ([]storage.PresetRow, error) {
	defs, err := LoadSystem()
	if err != nil {
		return nil, err
	}
	rows := make([]storage.PresetRow, 0, len(defs))
	for _, d := range defs {
		blob, err := json.Marshal(d.Config)
		if err != nil {
			return nil, fmt.Errorf("presets.SystemSeedRows: marshal %q: %w", d.Name, err)
		}
		rows = append(rows, storage.PresetRow{
			Name:        d.Name,
			Description: d.Description,
			IsSystem:    true,
			ConfigJSON:  string(blob),
		})
	}
	return rows, nil
}

// Decode parses a persisted preset's JSON config back into a Config.
func Decode(configJSON string) (Config, error) {
	var c Config
	if err := json.Unmarshal([]byte(configJSON), &c); err != nil {
		return Config{}, fmt.Errorf("presets.Decode: %w", err)
	}
	return c, nil
}

// Encode serialises a Config for storage in strategy_presets.config.
func Encode(c Config) (string, error) {
	blob, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("presets.Encode: %w", err)
	}
	return string(blob), nil
}
