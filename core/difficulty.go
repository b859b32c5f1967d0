package core

import (
	"fmt"
	"math/big"

	"github.com/oneepicnight/vision-node/crypto"
)

// oneLsh256 is 2^256, the upper bound of the fingerprint space.
var oneLsh256 = new(big.Int).Lsh(big.NewInt(1), 256)

// CompactToTarget converts compact target bits to the full 256-bit target.
// The encoding matches the btcd family: the high byte is the exponent, the
// low 23 bits are the mantissa, bit 24 of the mantissa is the sign.
func CompactToTarget(bits uint32) *big.Int {
	mantissa := bits & 0x007fffff
	negative := bits&0x00800000 != 0
	exponent := uint(bits >> 24)

	var target *big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		target = big.NewInt(int64(mantissa))
	} else {
		target = big.NewInt(int64(mantissa))
		target.Lsh(target, 8*(exponent-3))
	}
	if negative {
		target.Neg(target)
	}
	return target
}

// TargetToCompact converts a target back to its compact representation.
func TargetToCompact(target *big.Int) uint32 {
	if target.Sign() == 0 {
		return 0
	}
	var mantissa uint32
	exponent := uint(len(target.Bytes()))
	if exponent <= 3 {
		mantissa = uint32(target.Bits()[0])
		mantissa <<= 8 * (3 - exponent)
	} else {
		tn := new(big.Int).Set(target)
		mantissa = uint32(tn.Rsh(tn, 8*(exponent-3)).Bits()[0])
	}
	// Normalize when the sign bit of the mantissa would be set.
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}
	compact := uint32(exponent<<24) | mantissa
	if target.Sign() < 0 {
		compact |= 0x00800000
	}
	return compact
}

// WorkFromBits returns the expected number of fingerprint attempts needed to
// meet the target: 2^256 / (target + 1).
func WorkFromBits(bits uint32) *big.Int {
	target := CompactToTarget(bits)
	if target.Sign() <= 0 {
		return big.NewInt(0)
	}
	denom := new(big.Int).Add(target, big.NewInt(1))
	return new(big.Int).Div(oneLsh256, denom)
}

// CheckProofOfWork verifies that the block's fingerprint meets its declared
// target and that the target does not exceed the chain's PoW limit.
func CheckProofOfWork(b *Block, powLimitBits uint32) error {
	target := CompactToTarget(b.Header.TargetBits)
	if target.Sign() <= 0 {
		return fmt.Errorf("target bits %#x decode to a non-positive target", b.Header.TargetBits)
	}
	if limit := CompactToTarget(powLimitBits); target.Cmp(limit) > 0 {
		return fmt.Errorf("target bits %#x above the pow limit %#x", b.Header.TargetBits, powLimitBits)
	}
	raw, err := crypto.FingerprintToBytes(b.Hash)
	if err != nil {
		return fmt.Errorf("pow fingerprint: %w", err)
	}
	hashNum := new(big.Int).SetBytes(raw[:])
	if hashNum.Cmp(target) > 0 {
		return fmt.Errorf("fingerprint %s above target", b.Hash[:16])
	}
	return nil
}
