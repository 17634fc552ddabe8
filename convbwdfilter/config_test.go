// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convbwdfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig("")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)

	cfg, err = ParseConfig("reproducible=false, parallelism=3")
	require.NoError(t, err)
	assert.False(t, cfg.VendorReproducible)
	assert.Equal(t, 3, cfg.MaxParallelism)

	cfg, err = ParseConfig("reproducible,parallelism=-1")
	require.NoError(t, err)
	assert.True(t, cfg.VendorReproducible)
	assert.Equal(t, -1, cfg.MaxParallelism)

	for _, bad := range []string{"reproducible=maybe", "parallelism", "parallelism=x", "fast"} {
		_, err = ParseConfig(bad)
		require.Error(t, err, "config %q should fail", bad)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(ConfigEnv, "parallelism=0")
	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.MaxParallelism)
	assert.True(t, cfg.VendorReproducible)

	t.Setenv(ConfigEnv, "unknown=1")
	_, err = ConfigFromEnv()
	require.Error(t, err)
}
