// Package config holds the single startup-time configuration struct. Every
// threshold the node consults — lag windows, reorg depth, reputation
// arithmetic, bootstrap constants — is a field here; subsystems receive a
// pointer to the one shared struct at construction (it is not copied per
// subsystem) and never read globals.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/oneepicnight/vision-node/core"
	"github.com/oneepicnight/vision-node/crypto"
)

// Node roles.
const (
	RoleAnchor = "anchor"
	RoleLeaf   = "leaf"
)

// AnchorSeed identifies a backbone anchor to bootstrap from.
type AnchorSeed struct {
	HTTPEndpoint string `json:"http_endpoint"`         // control-plane base URL
	P2PAddress   string `json:"p2p_address,omitempty"` // host:port, optional
}

// Reputation holds the authoritative peer-reputation arithmetic.
type Reputation struct {
	Start               int `json:"start"`
	Ceiling             int `json:"ceiling"`
	HandshakePenalty    int `json:"handshake_penalty"`
	InvalidBlockPenalty int `json:"invalid_block_penalty"`
	CheckpointPenalty   int `json:"checkpoint_penalty"`
	RecoveryStep        int `json:"recovery_step"`
	QuarantineBelow     int `json:"quarantine_below"`
	QuarantineMinutes   int `json:"quarantine_minutes"`
}

// Config holds all node configuration.
type Config struct {
	DataDir              string       `json:"data_dir"`
	Role                 string       `json:"role"` // "anchor" | "leaf"
	P2PListen            string       `json:"p2p_listen"`
	HTTPListen           string       `json:"http_listen"`
	AdvertisedP2PAddress string       `json:"advertised_p2p_address,omitempty"` // required for anchors
	AnchorSeeds          []AnchorSeed `json:"anchor_seeds,omitempty"`
	LogLevel             string       `json:"log_level,omitempty"`

	ChainIDString             string `json:"chain_id_string"`
	ProtocolVersion           uint32 `json:"protocol_version"`
	BootstrapCheckpointHeight uint64 `json:"bootstrap_checkpoint_height"`
	BootstrapCheckpointHash   string `json:"bootstrap_checkpoint_hash"`

	MaxMiningLagBlocks uint64 `json:"max_mining_lag_blocks"`
	MaxReorgDepth      uint64 `json:"max_reorg_depth"`
	MaxLagBlocks       uint64 `json:"max_lag_blocks"`
	SyncBatch          uint64 `json:"sync_batch"`
	QuorumMin          int    `json:"quorum_min"`

	MaxPeers     int    `json:"max_peers"`
	MinOutbound  int    `json:"min_outbound"`
	MaxFrameSize uint32 `json:"max_frame_size"`

	ProbePeriodSecs int `json:"probe_period_secs"`
	HealPeriodSecs  int `json:"heal_period_secs"`
	SyncPeriodSecs  int `json:"sync_period_secs"`

	Mine       bool       `json:"mine"`
	Reputation Reputation `json:"reputation"`
}

// DefaultConfig returns a leaf configuration for the mainnet.
func DefaultConfig() *Config {
	return &Config{
		DataDir:                   "./data",
		Role:                      RoleLeaf,
		P2PListen:                 ":19950",
		HTTPListen:                ":19951",
		LogLevel:                  "info",
		ChainIDString:             core.ChainIDString,
		ProtocolVersion:           1,
		BootstrapCheckpointHeight: core.BootstrapCheckpointHeight,
		BootstrapCheckpointHash:   core.BootstrapCheckpointHash(),
		MaxMiningLagBlocks:        2,
		MaxReorgDepth:             64,
		MaxLagBlocks:              1,
		SyncBatch:                 128,
		QuorumMin:                 3,
		MaxPeers:                  50,
		MinOutbound:               4,
		MaxFrameSize:              32 << 20,
		ProbePeriodSecs:           5,
		HealPeriodSecs:            30,
		SyncPeriodSecs:            10,
		Reputation: Reputation{
			Start:               50,
			Ceiling:             100,
			HandshakePenalty:    25,
			InvalidBlockPenalty: 40,
			CheckpointPenalty:   100,
			RecoveryStep:        1,
			QuarantineBelow:     10,
			QuarantineMinutes:   15,
		},
	}
}

// Load reads a JSON config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Role != RoleAnchor && c.Role != RoleLeaf {
		return fmt.Errorf("role must be %q or %q, got %q", RoleAnchor, RoleLeaf, c.Role)
	}
	if c.Role == RoleAnchor && c.AdvertisedP2PAddress == "" {
		return fmt.Errorf("advertised_p2p_address is required when role is %q", RoleAnchor)
	}
	if c.P2PListen == "" || c.HTTPListen == "" {
		return fmt.Errorf("p2p_listen and http_listen must not be empty")
	}
	if c.P2PListen == c.HTTPListen {
		return fmt.Errorf("p2p_listen and http_listen must not be the same (%s)", c.P2PListen)
	}
	if c.ChainIDString == "" {
		return fmt.Errorf("chain_id_string must not be empty")
	}
	if !crypto.IsFingerprintHex(c.BootstrapCheckpointHash) {
		return fmt.Errorf("bootstrap_checkpoint_hash must be 64-char hex, got %q", c.BootstrapCheckpointHash)
	}
	if c.SyncBatch == 0 {
		return fmt.Errorf("sync_batch must be positive")
	}
	if c.MaxPeers <= 0 {
		return fmt.Errorf("max_peers must be positive")
	}
	if c.QuorumMin <= 0 {
		return fmt.Errorf("quorum_min must be positive")
	}
	if c.Reputation.QuarantineBelow >= c.Reputation.Start {
		return fmt.Errorf("reputation.quarantine_below (%d) must be below reputation.start (%d)",
			c.Reputation.QuarantineBelow, c.Reputation.Start)
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ChainParams builds the consensus parameters from the configuration.
func (c *Config) ChainParams() core.Params {
	p := core.DefaultParams()
	p.ChainIDString = c.ChainIDString
	p.ChainID = crypto.Hash([]byte(c.ChainIDString))
	p.ProtocolVersion = c.ProtocolVersion
	p.CheckpointHeight = c.BootstrapCheckpointHeight
	p.CheckpointHash = c.BootstrapCheckpointHash
	p.MaxReorgDepth = c.MaxReorgDepth
	return p
}

// ProbePeriod returns the control-plane probe cadence.
func (c *Config) ProbePeriod() time.Duration { return time.Duration(c.ProbePeriodSecs) * time.Second }

// HealPeriod returns the peer-healing cadence.
func (c *Config) HealPeriod() time.Duration { return time.Duration(c.HealPeriodSecs) * time.Second }

// SyncPeriod returns the auto-sync cadence.
func (c *Config) SyncPeriod() time.Duration { return time.Duration(c.SyncPeriodSecs) * time.Second }

// QuarantineDuration returns the reputation quarantine cool-down.
func (c *Config) QuarantineDuration() time.Duration {
	return time.Duration(c.Reputation.QuarantineMinutes) * time.Minute
}
