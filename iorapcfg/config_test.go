package iorapcfg_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iorap/iorap-core/iorapcfg"
)

func TestFromEnvironAppliesDefaults(t *testing.T) {
	cfg, err := iorapcfg.FromEnviron()
	require.NoError(t, err)
	require.Equal(t, iorapcfg.Default(), cfg)
}

func TestFromEnvironOverridesFields(t *testing.T) {
	t.Setenv("IORAP_DATABASE_PATH", "/tmp/iorap.db")
	t.Setenv("IORAP_MIN_TRACES", "5")
	t.Setenv("IORAP_RECOMPILE", "true")

	cfg, err := iorapcfg.FromEnviron()
	require.NoError(t, err)
	require.Equal(t, "/tmp/iorap.db", cfg.DatabasePath)
	require.Equal(t, 5, cfg.MinTraces)
	require.True(t, cfg.Recompile)
	require.Equal(t, iorapcfg.Default().TraceDir, cfg.TraceDir)
}

func TestFromEnvironRejectsBadInt(t *testing.T) {
	t.Setenv("IORAP_MIN_TRACES", "not-a-number")
	_, err := iorapcfg.FromEnviron()
	require.Error(t, err)
}

func TestFromEnvironRejectsBadBool(t *testing.T) {
	t.Setenv("IORAP_RECOMPILE", "not-a-bool")
	_, err := iorapcfg.FromEnviron()
	require.Error(t, err)
}
