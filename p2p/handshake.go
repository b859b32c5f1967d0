package p2p

import (
	"errors"
	"fmt"

	"github.com/oneepicnight/vision-node/core"
	"github.com/oneepicnight/vision-node/wire"
)

// Handshake validation failures, one distinct diagnostic per check.
var (
	ErrProtocolVersionMismatch = errors.New("protocol version mismatch")
	ErrChainIDMismatch         = errors.New("chain id mismatch")
	ErrCheckpointMismatch      = errors.New("bootstrap checkpoint mismatch")
	ErrGenesisMismatch         = errors.New("genesis fingerprint mismatch")
	ErrSelfConnection          = errors.New("self connection")
)

// localHandshake builds the identity frame this node sends.
func localHandshake(params core.Params, nonce, tipHeight uint64) *wire.Handshake {
	return &wire.Handshake{
		ProtocolVersion:  params.ProtocolVersion,
		ChainID:          params.ChainID,
		GenesisHash:      params.GenesisHash,
		NodeNonce:        nonce,
		ChainHeight:      tipHeight,
		NodeVersion:      params.NodeVersion,
		CheckpointHeight: params.CheckpointHeight,
		CheckpointHash:   params.CheckpointHash,
	}
}

// validateHandshake screens a remote identity frame. The order is fixed so
// operators can tell from the first failure which layer disagrees: protocol,
// chain, checkpoint, genesis, then self-connection.
func validateHandshake(params core.Params, selfNonce uint64, remote *wire.Handshake) error {
	if remote.ProtocolVersion != params.ProtocolVersion {
		return fmt.Errorf("%w: remote %d, local %d",
			ErrProtocolVersionMismatch, remote.ProtocolVersion, params.ProtocolVersion)
	}
	if remote.ChainID != params.ChainID {
		return fmt.Errorf("%w: remote %s", ErrChainIDMismatch, short(remote.ChainID))
	}
	if remote.CheckpointHeight != params.CheckpointHeight || remote.CheckpointHash != params.CheckpointHash {
		return fmt.Errorf("%w: remote %d/%s, local %d/%s", ErrCheckpointMismatch,
			remote.CheckpointHeight, short(remote.CheckpointHash),
			params.CheckpointHeight, short(params.CheckpointHash))
	}
	if remote.GenesisHash != params.GenesisHash {
		return fmt.Errorf("%w: remote %s", ErrGenesisMismatch, short(remote.GenesisHash))
	}
	if remote.NodeNonce == selfNonce {
		return ErrSelfConnection
	}
	return nil
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}
