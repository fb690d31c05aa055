package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.Greater(t, cfg.ScanIntervalS, 0.0)
	require.GreaterOrEqual(t, cfg.SearchStep, 1)
	require.GreaterOrEqual(t, cfg.AroundTileRadius, 1)
}

// TestValidateClampsOutOfRangeFields checks that Validate clamps
// out-of-range scalar fields in place (scan interval, search step, tile
// radius, expansion factor, click variation, post-combat delay bounds).
func TestValidateClampsOutOfRangeFields(t *testing.T) {
	cfg := Default()
	cfg.ScanIntervalS = -1
	cfg.SearchStep = 0
	cfg.AroundTileRadius = -10
	cfg.ROIExpansionFactor = 0.5
	cfg.ClickVariationPercent = 500
	cfg.PostCombatDelayMinS = 2
	cfg.PostCombatDelayMaxS = 1

	cfg.Validate(nil)

	require.Equal(t, 0.25, cfg.ScanIntervalS)
	require.Equal(t, 1, cfg.SearchStep)
	require.Equal(t, 1, cfg.AroundTileRadius)
	require.Greater(t, cfg.ROIExpansionFactor, 1.0)
	require.Equal(t, 100.0, cfg.ClickVariationPercent)
	require.GreaterOrEqual(t, cfg.PostCombatDelayMaxS, cfg.PostCombatDelayMinS)
}

func TestValidateClampsColorSpecs(t *testing.T) {
	cfg := Default()
	cfg.TileColor.R = 999
	cfg.TileColor.TolRGB = -5
	cfg.Validate(nil)
	require.LessOrEqual(t, cfg.TileColor.R, 255)
	require.GreaterOrEqual(t, cfg.TileColor.TolRGB, 0)
}

func TestGetSetOverride(t *testing.T) {
	cfg := Default()
	require.Equal(t, "fallback", cfg.Get("unset_key", "fallback"))
	cfg.Set("some_key", 42)
	require.Equal(t, 42, cfg.Get("some_key", 0))
}

func TestFromYAMLLayersOntoDefaults(t *testing.T) {
	yamlDoc := []byte(`
scan_interval: 0.1
search_step: 2
tile_color:
  rgb: [10, 20, 30]
  tol_rgb: 15
`)
	cfg, err := FromYAML(yamlDoc, nil)
	require.NoError(t, err)
	require.Equal(t, 0.1, cfg.ScanIntervalS)
	require.Equal(t, 2, cfg.SearchStep)
	require.Equal(t, 10, cfg.TileColor.R)
	// Fields not present in the YAML document keep Default()'s values.
	require.Equal(t, 40.0, cfg.TileMinArea)
}
