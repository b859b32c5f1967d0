package eligibility

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func baseSnapshot() Snapshot {
	return Snapshot{
		LocalTipHeight:     1000,
		NetworkTip:         1001,
		NetworkTipKnown:    true,
		PeerCount:          5,
		PublicReachable:    true,
		ChainID:            "aa",
		LocalChainID:       "aa",
		MaxMiningLagBlocks: 2,
	}
}

func TestRewardEligibilityByRole(t *testing.T) {
	s := baseSnapshot()
	require.True(t, IsRewardEligible(RoleAnchor, s))
	require.True(t, IsRewardEligible(RoleLeaf, s))

	// Anchors need reachability and three peers.
	s = baseSnapshot()
	s.PublicReachable = false
	require.False(t, IsRewardEligible(RoleAnchor, s))
	require.True(t, IsRewardEligible(RoleLeaf, s))

	s = baseSnapshot()
	s.PeerCount = 2
	require.False(t, IsRewardEligible(RoleAnchor, s))
	require.True(t, IsRewardEligible(RoleLeaf, s))

	// Leaves need one peer.
	s.PeerCount = 0
	require.False(t, IsRewardEligible(RoleLeaf, s))
}

func TestRewardEligibilityLagWindow(t *testing.T) {
	s := baseSnapshot()
	s.NetworkTip = s.LocalTipHeight + s.MaxMiningLagBlocks
	require.True(t, IsRewardEligible(RoleLeaf, s))

	s.NetworkTip++
	require.False(t, IsRewardEligible(RoleLeaf, s))

	// Lag is absolute: being ahead of the observation counts too.
	s = baseSnapshot()
	s.LocalTipHeight = s.NetworkTip + s.MaxMiningLagBlocks + 1
	require.False(t, IsRewardEligible(RoleLeaf, s))

	// An unknown network tip does not disqualify a lone node.
	s = baseSnapshot()
	s.NetworkTipKnown = false
	require.True(t, IsRewardEligible(RoleLeaf, s))
}

func TestRewardEligibilityChainID(t *testing.T) {
	s := baseSnapshot()
	s.ChainID = "bb"
	require.False(t, IsRewardEligible(RoleAnchor, s))
	require.False(t, IsRewardEligible(RoleLeaf, s))
}

func TestMiningQuorumGate(t *testing.T) {
	s := baseSnapshot()
	require.True(t, IsMiningAllowed(RoleLeaf, s))

	// A visible quorum far ahead of the local tip halts mining.
	s.Quorum = s.LocalTipHeight + s.MaxMiningLagBlocks + 1
	s.QuorumKnown = true
	require.False(t, IsMiningAllowed(RoleLeaf, s))

	// At the window edge mining is allowed.
	s.Quorum = s.LocalTipHeight + s.MaxMiningLagBlocks
	require.True(t, IsMiningAllowed(RoleLeaf, s))

	// No observable quorum falls back to the plain lag rule.
	s.QuorumKnown = false
	s.Quorum = 0
	require.True(t, IsMiningAllowed(RoleLeaf, s))

	// The quorum gate never rescues an otherwise ineligible node.
	s = baseSnapshot()
	s.PeerCount = 0
	require.False(t, IsMiningAllowed(RoleLeaf, s))
}
