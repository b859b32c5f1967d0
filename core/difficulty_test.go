package core_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oneepicnight/vision-node/core"
	"github.com/oneepicnight/vision-node/internal/testutil"
)

func TestCompactRoundTrip(t *testing.T) {
	for _, bits := range []uint32{0x207fffff, 0x1d00ffff, 0x1b0404cb} {
		target := core.CompactToTarget(bits)
		require.Positive(t, target.Sign(), "bits %#x", bits)
		require.Equal(t, bits, core.TargetToCompact(target), "bits %#x", bits)
	}
}

func TestWorkFromBitsOrdering(t *testing.T) {
	easy := core.WorkFromBits(0x207fffff)
	hard := core.WorkFromBits(0x1d00ffff)
	require.Positive(t, easy.Sign())
	require.Positive(t, hard.Sign())
	require.Negative(t, easy.Cmp(hard), "a harder target must carry more work")
}

func TestCheckProofOfWork(t *testing.T) {
	params := core.DefaultParams()
	parent := testutil.MineBlock(params, bootstrapTip(t), "miner-addr", nil)
	require.NoError(t, core.CheckProofOfWork(parent, params.PowLimitBits))

	// A claimed target above the limit is refused outright.
	bad := *parent
	bad.Header.TargetBits = 0x21008000
	require.Error(t, core.CheckProofOfWork(&bad, params.PowLimitBits))

	// A fingerprint above the declared target fails.
	harder := *parent
	harder.Header.TargetBits = 0x1d00ffff
	harder.Seal()
	require.Error(t, core.CheckProofOfWork(&harder, params.PowLimitBits))
}

func TestCumulativeWorkMonotonic(t *testing.T) {
	chain, params := testutil.NewChain(t)
	before := chain.TipWork()
	testutil.ExtendChain(t, chain, params, "miner-addr", 3)
	after := chain.TipWork()
	require.Positive(t, after.Cmp(before))

	expected := new(big.Int).Add(before,
		new(big.Int).Mul(core.WorkFromBits(params.PowLimitBits), big.NewInt(3)))
	require.Zero(t, after.Cmp(expected))
}

func bootstrapTip(t *testing.T) *core.Block {
	t.Helper()
	chain, params := testutil.NewChain(t)
	return testutil.Checkpoint(t, chain, params)
}
