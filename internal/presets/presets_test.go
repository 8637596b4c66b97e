package presets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltaforge/dlmmbot/internal/domain"
)

func TestLoadSystem_ParsesEmbeddedCatalogue(t *testing.T) {
	defs, err := LoadSystem()
	require.NoError(t, err)
	require.NotEmpty(t, defs)

	names := make(map[string]bool)
	for _, d := range defs {
		names[d.Name] = true
		assert.NotEmpty(t, d.Description)
		assert.Greater(t, d.Config.MaxPositionSOL, d.Config.MinPositionSOL)
	}
	assert.True(t, names["conservative"])
	assert.True(t, names["balanced"])
	assert.True(t, names["aggressive"])
}

func TestConfig_ApplyTo_OverridesTunables(t *testing.T) {
	defs, err := LoadSystem()
	require.NoError(t, err)

	var conservative Config
	for _, d := range defs {
		if d.Name == "conservative" {
			conservative = d.Config
		}
	}
	require.NotZero(t, conservative.MaxPositionSOL)

	cfg := domain.BotConfig{BotID: "bot-1", Mode: domain.ModeSimulation}
	conservative.ApplyTo(&cfg)

	assert.Equal(t, domain.StrategyRuleBased, cfg.StrategyMode)
	assert.Equal(t, conservative.MaxPositionSOL, cfg.MaxPositionSOL)
	assert.Equal(t, conservative.ProfitTargetPct, cfg.Risk.ProfitTargetPct)
	assert.Equal(t, conservative.StopLossPct, cfg.Risk.StopLossPct)
	assert.Equal(t, "bot-1", cfg.BotID) // untouched field survives the overlay
}

func TestSystemSeedRows_RoundTripsThroughEncodeDecode(t *testing.T) {
	rows, err := SystemSeedRows()
	require.NoError(t, err)
	require.NotEmpty(t, rows)

	for _, row := range rows {
		assert.True(t, row.IsSystem)
		assert.Nil(t, row.UserID)

		decoded, err := Decode(row.ConfigJSON)
		require.NoError(t, err)
		assert.NotZero(t, decoded.MaxPositionSOL)
	}
}

func TestEncode_ThenDecode_PreservesValues(t *testing.T) {
	c := Config{StrategyMode: "ml", MaxPositionSOL: 3, ProfitTargetPct: 6}
	blob, err := Encode(c)
	require.NoError(t, err)

	decoded, err := Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, c, decoded)
}
