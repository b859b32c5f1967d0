package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oneepicnight/vision-node/core"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"bad role", func(c *Config) { c.Role = "observer" }},
		{"anchor without advertised address", func(c *Config) { c.Role = RoleAnchor }},
		{"same ports", func(c *Config) { c.HTTPListen = c.P2PListen }},
		{"empty chain id", func(c *Config) { c.ChainIDString = "" }},
		{"bad checkpoint hash", func(c *Config) { c.BootstrapCheckpointHash = "zz" }},
		{"zero sync batch", func(c *Config) { c.SyncBatch = 0 }},
		{"zero quorum", func(c *Config) { c.QuorumMin = 0 }},
		{"quarantine floor above start", func(c *Config) { c.Reputation.QuarantineBelow = 60 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestAnchorRequiresAdvertisedAddress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Role = RoleAnchor
	require.Error(t, cfg.Validate())
	cfg.AdvertisedP2PAddress = "1.2.3.4:19950"
	require.NoError(t, cfg.Validate())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AnchorSeeds = []AnchorSeed{{HTTPEndpoint: "http://anchor-1:19951", P2PAddress: "anchor-1:19950"}}
	cfg.Mine = true

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestChainParamsReflectConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxReorgDepth = 7
	cfg.ChainIDString = "vision/land/testnet"

	p := cfg.ChainParams()
	require.Equal(t, uint64(7), p.MaxReorgDepth)
	require.Equal(t, "vision/land/testnet", p.ChainIDString)
	require.NotEqual(t, core.DefaultParams().ChainID, p.ChainID)
}
