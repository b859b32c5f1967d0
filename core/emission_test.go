package core_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oneepicnight/vision-node/core"
)

func TestSubsidySchedule(t *testing.T) {
	p := core.DefaultParams()

	require.Zero(t, p.Subsidy(0), "prefix blocks carry no emission")
	require.Zero(t, p.Subsidy(p.CheckpointHeight))
	require.Equal(t, p.InitialSubsidy, p.Subsidy(p.CheckpointHeight+1))
	require.Equal(t, p.InitialSubsidy/2, p.Subsidy(p.BlocksPerEra), "first halving")
	require.Equal(t, p.InitialSubsidy/4, p.Subsidy(2*p.BlocksPerEra))
	require.Zero(t, p.Subsidy(p.MaxMiningBlock+1), "emission is zero beyond the max mining block")
}

func TestEmissionSplit(t *testing.T) {
	p := core.DefaultParams()
	h := p.CheckpointHeight + 1
	em := p.EmissionAt(h)

	subsidy := p.Subsidy(h)
	require.Equal(t, subsidy, em.Total(), "split must conserve the subsidy")
	require.Equal(t, subsidy*p.VaultBps/10_000, em.Vault)
	require.Equal(t, subsidy*p.FounderBps/10_000, em.Founder)
	require.Equal(t, subsidy*p.OpsBps/10_000, em.Ops)
	require.Greater(t, em.Miner, em.Vault+em.Founder+em.Ops, "the miner keeps the lion's share")
}

func TestEmissionZeroPastMax(t *testing.T) {
	p := core.DefaultParams()
	em := p.EmissionAt(p.MaxMiningBlock + 1)
	require.Zero(t, em.Total())
}

func TestTotalFeesIgnoresCoinbase(t *testing.T) {
	cb := core.NewCoinbase("miner", 10, 1)
	cb.Fee = 999 // must not count
	tx := core.NewTransaction("aa", "bb", 1, 7, 0)
	b := &core.Block{Txs: []*core.Transaction{cb, tx}}
	require.Equal(t, uint64(7), core.TotalFees(b))
}
