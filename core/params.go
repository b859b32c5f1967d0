package core

import (
	"time"

	"github.com/oneepicnight/vision-node/crypto"
)

// ChainIDString is the fixed string whose fingerprint identifies the Vision
// mainnet. Every handshake carries the fingerprint; peers on a different
// chain are rejected before any block is exchanged.
const ChainIDString = "vision/land/mainnet/v1"

// PowLimitBits is the easiest admissible compact target.
const PowLimitBits = 0x207fffff

// Params holds every consensus constant. It is populated once at startup
// and passed by value into subsystem constructors; nothing reads globals.
type Params struct {
	ChainIDString   string
	ChainID         string // fingerprint hex of ChainIDString
	ProtocolVersion uint32
	NodeVersion     uint32

	// Bootstrap prefix.
	CheckpointHeight uint64
	CheckpointHash   string
	GenesisHash      string

	// Fork choice.
	MaxReorgDepth uint64

	// Block validation.
	MedianWindow int
	ClockSkew    time.Duration
	PowLimitBits uint32

	// Emission.
	BlocksPerEra   uint64
	MaxMiningBlock uint64
	InitialSubsidy uint64
	VaultBps       uint64
	FounderBps     uint64
	OpsBps         uint64
	VaultAddress   string
	FounderAddress string
	OpsAddress     string

	// Pools.
	OrphanPoolSize int
}

// DefaultParams returns the mainnet consensus parameters.
func DefaultParams() Params {
	return Params{
		ChainIDString:    ChainIDString,
		ChainID:          crypto.Hash([]byte(ChainIDString)),
		ProtocolVersion:  1,
		NodeVersion:      10300,
		CheckpointHeight: BootstrapCheckpointHeight,
		CheckpointHash:   BootstrapCheckpointHash(),
		GenesisHash:      BootstrapBlockHashes[0],
		MaxReorgDepth:    64,
		MedianWindow:     11,
		ClockSkew:        2 * time.Hour,
		PowLimitBits:     PowLimitBits,
		BlocksPerEra:     525_600,
		MaxMiningBlock:   10 * 525_600,
		InitialSubsidy:   50 * UnitsPerLand,
		VaultBps:         500,
		FounderBps:       300,
		OpsBps:           200,
		VaultAddress:     crypto.Hash([]byte("vision/land/vault"))[:40],
		FounderAddress:   crypto.Hash([]byte("vision/land/founder"))[:40],
		OpsAddress:       crypto.Hash([]byte("vision/land/ops"))[:40],
		OrphanPoolSize:   256,
	}
}
