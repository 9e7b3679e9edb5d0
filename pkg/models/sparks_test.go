package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEconomyConfigPatchAppliesOnlySetFields(t *testing.T) {
	cfg := DefaultEconomyConfig()

	newPing := int64(9)
	newWither := 0.25
	patch := EconomyConfigPatch{
		PingCost:        &newPing,
		WitherThreshold: &newWither,
	}
	patch.Apply(&cfg)

	assert.Equal(t, int64(9), cfg.PingCost)
	assert.Equal(t, 0.25, cfg.WitherThreshold)

	// Everything else keeps the shipped default.
	defaults := DefaultEconomyConfig()
	assert.Equal(t, defaults.CreateCost, cfg.CreateCost)
	assert.Equal(t, defaults.RiskDeposit, cfg.RiskDeposit)
	assert.Equal(t, defaults.PenaltyMultiplier, cfg.PenaltyMultiplier)
}

func TestEmptyPatchIsANoOp(t *testing.T) {
	cfg := DefaultEconomyConfig()
	EconomyConfigPatch{}.Apply(&cfg)
	assert.Equal(t, DefaultEconomyConfig(), cfg)
}

func TestInteractionMetaRoundTrip(t *testing.T) {
	meta := InteractionMeta{
		DeviceHash:  "dh-1",
		IPHint:      "10.0.0.1",
		CoLocated:   true,
		SparkAuthor: "author-1",
	}

	value, err := meta.Value()
	require.NoError(t, err)

	var decoded InteractionMeta
	require.NoError(t, decoded.Scan(value))
	assert.Equal(t, meta, decoded)
}

func TestInteractionMetaScanNil(t *testing.T) {
	decoded := InteractionMeta{DeviceHash: "stale"}
	require.NoError(t, decoded.Scan(nil))
	assert.Equal(t, InteractionMeta{}, decoded)
}

func TestJSONBScanFromBytes(t *testing.T) {
	var j JSONB
	require.NoError(t, j.Scan([]byte(`[{"op":"erased"}]`)))
	require.Len(t, j, 1)
	assert.Equal(t, "erased", j[0]["op"])
}
