package core

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/oneepicnight/vision-node/crypto"
	"github.com/oneepicnight/vision-node/events"
)

// Admit runs the admission pipeline on a parsed block: structural validation,
// parent lookup, duplicate check, cumulative-work computation, branch
// classification, and the cascade over orphans and side blocks. Every input
// is treated as adversarial; Admit never panics on peer data. The returned
// error reports storage failures only — consensus decisions are in Result.
func (c *Chain) Admit(b *Block) (Result, error) {
	c.mu.Lock()
	res, evs, err := c.admitLocked(b)
	// The cascade runs after any acceptance: a canonical extension can
	// unblock orphans, and a new side block can be the missing parent of a
	// pooled orphan.
	if err == nil && res.Accepted() {
		cascadeEvs, cascadeErr := c.cascadeLocked()
		evs = append(evs, cascadeEvs...)
		err = cascadeErr
	}
	c.mu.Unlock()

	// Events fire outside the chain lock so subscribers may consult the
	// peer store or broadcast freely.
	for _, ev := range evs {
		c.emitter.Emit(ev)
	}
	if res.Status == StatusRejected {
		var hash string
		if b != nil {
			hash = b.Hash
		}
		c.logger.Infow("block rejected", "code", res.Reason, "detail", res.Detail, "block", shortHash(hash))
		c.emitter.Emit(events.Event{
			Type: events.EventBlockRejected,
			Data: map[string]any{"hash": hash, "code": string(res.Reason)},
		})
	}
	return res, err
}

func (c *Chain) admitLocked(b *Block) (Result, []events.Event, error) {
	if res := c.validateShape(b); res.Status == StatusRejected {
		return res, nil, nil
	}

	// Heights inside the bootstrap prefix belong to a fixed, compiled-in
	// chain; anything but the exact prefix block is an incompatible chain.
	if b.Header.Height <= c.params.CheckpointHeight {
		if canon, err := c.store.GetCanonicalHash(b.Header.Height); err == nil && canon == b.Hash {
			return rejected(ReasonDuplicateKnown, "bootstrap prefix block"), nil, nil
		}
		return rejected(ReasonCrossesCheckpoint, "block below the bootstrap checkpoint"), nil, nil
	}

	// Parent lookup. Unknown parent defers the decision, it does not fail.
	if !c.store.HasBlock(b.Header.ParentHash) {
		if c.orphans.has(b.Hash) {
			return Result{Status: StatusOrphaned, Detail: "already pooled"}, nil, nil
		}
		c.orphans.add(b)
		return Result{Status: StatusOrphaned}, nil, nil
	}

	// Duplicate check, no mutation.
	if c.store.HasBlock(b.Hash) {
		return rejected(ReasonDuplicateKnown, "block already known"), nil, nil
	}

	parent, err := c.store.GetBlock(b.Header.ParentHash)
	if err != nil {
		return Result{}, nil, fmt.Errorf("load parent %s: %w", shortHash(b.Header.ParentHash), err)
	}
	if parent.Header.Height < c.params.CheckpointHeight {
		return rejected(ReasonCrossesCheckpoint, "fork rooted below the bootstrap checkpoint"), nil, nil
	}
	if parent.Header.Height+1 != b.Header.Height {
		return rejected(ReasonMalformed,
			fmt.Sprintf("height %d does not follow parent %d", b.Header.Height, parent.Header.Height)), nil, nil
	}

	// Median-time-past over the branch the block extends, strict inequality.
	mtp, err := c.medianTimePast(parent)
	if err != nil {
		return Result{}, nil, err
	}
	if b.Header.Timestamp <= mtp {
		return rejected(ReasonBadTimestamp,
			fmt.Sprintf("timestamp %d not after median-time-past %d", b.Header.Timestamp, mtp)), nil, nil
	}

	parentWork, err := c.cumWork(parent.Hash)
	if err != nil {
		return Result{}, nil, err
	}
	cw := new(big.Int).Add(parentWork, WorkFromBits(b.Header.TargetBits))

	// Branch classification.
	if parent.Hash == c.tip.Hash {
		return c.extendTipLocked(b, cw)
	}

	if err := c.store.PutBlock(b); err != nil {
		return Result{}, nil, fmt.Errorf("store side block: %w", err)
	}
	if err := c.store.PutSide(b.Hash); err != nil {
		return Result{}, nil, fmt.Errorf("index side block: %w", err)
	}
	c.putWork(b.Hash, cw)

	if cw.Cmp(c.tipWork) > 0 {
		return c.reorgToLocked(b, cw)
	}
	return Result{Status: StatusAcceptedAsSide}, nil, nil
}

// validateShape performs the context-free checks: fingerprint integrity,
// proof of work, coinbase shape, transaction signatures, and clock skew.
func (c *Chain) validateShape(b *Block) Result {
	if b == nil || !crypto.IsFingerprintHex(b.Hash) {
		return rejected(ReasonMalformed, "missing or malformed block fingerprint")
	}
	if !crypto.IsFingerprintHex(b.Header.ParentHash) {
		return rejected(ReasonMalformed, "malformed parent fingerprint")
	}
	if len(b.Txs) == 0 {
		return rejected(ReasonBadCoinbase, "empty transaction list")
	}
	if !b.Txs[0].IsCoinbase() {
		return rejected(ReasonBadCoinbase, "first transaction is not a coinbase")
	}
	for i, tx := range b.Txs {
		if tx == nil {
			return rejected(ReasonBadTransaction, fmt.Sprintf("nil transaction at index %d", i))
		}
		if i > 0 && tx.IsCoinbase() {
			return rejected(ReasonBadCoinbase, fmt.Sprintf("extra coinbase at index %d", i))
		}
		if err := tx.Verify(); err != nil {
			return rejected(ReasonBadTransaction, fmt.Sprintf("tx %d: %v", i, err))
		}
	}
	// The prefix carries fixed fingerprints; everything above it must prove
	// its work.
	if b.Header.Height > c.params.CheckpointHeight {
		if err := b.VerifyIntegrity(); err != nil {
			return rejected(ReasonMalformed, err.Error())
		}
		if err := CheckProofOfWork(b, c.params.PowLimitBits); err != nil {
			return rejected(ReasonInvalidPow, err.Error())
		}
	}
	if now := time.Now().Unix(); b.Header.Timestamp > now+int64(c.params.ClockSkew.Seconds()) {
		return rejected(ReasonBadTimestamp,
			fmt.Sprintf("timestamp %d too far in the future (now %d)", b.Header.Timestamp, now))
	}
	return Result{}
}

// extendTipLocked applies b on top of the canonical tip.
func (c *Chain) extendTipLocked(b *Block, cw *big.Int) (Result, []events.Event, error) {
	c.state.Discard()
	undo, err := ApplyBlock(c.state, c.params, b)
	if err != nil {
		c.state.Discard()
		return rejected(ReasonLedgerFailure, err.Error()), nil, nil
	}
	if err := c.store.PutBlock(b); err != nil {
		c.state.Discard()
		return Result{}, nil, fmt.Errorf("store block: %w", err)
	}
	if err := c.store.PutCanonicalHash(b.Header.Height, b.Hash); err != nil {
		c.state.Discard()
		return Result{}, nil, fmt.Errorf("index block: %w", err)
	}
	if err := c.store.PutUndo(b.Hash, undo); err != nil {
		c.state.Discard()
		return Result{}, nil, fmt.Errorf("store undo: %w", err)
	}
	if err := c.store.SetTip(b.Hash); err != nil {
		return Result{}, nil, fmt.Errorf("advance tip: %w", err)
	}
	if err := c.state.Commit(); err != nil {
		return Result{}, nil, fmt.Errorf("commit state: %w", err)
	}
	c.putWork(b.Hash, cw)
	c.tip = b
	c.tipWork = cw

	ev := events.Event{
		Type: events.EventBlockAccepted,
		Data: map[string]any{
			"hash":   b.Hash,
			"height": b.Header.Height,
			"txs":    len(b.Txs),
		},
	}
	return Result{Status: StatusAcceptedCanonical}, []events.Event{ev}, nil
}

// cascadeLocked re-admits orphans whose parent became known and promotes side
// branches that now dominate the tip. Each round removes at least one orphan
// or strictly raises tip work, so the loop terminates.
func (c *Chain) cascadeLocked() ([]events.Event, error) {
	var out []events.Event
	for {
		progressed := false

		parents := make([]string, 0, len(c.orphans.byParent))
		for parent := range c.orphans.byParent {
			parents = append(parents, parent)
		}
		for _, parent := range parents {
			if !c.store.HasBlock(parent) {
				continue
			}
			for _, ob := range c.orphans.childrenOf(parent) {
				res, evs, err := c.admitLocked(ob)
				if err != nil {
					return out, err
				}
				out = append(out, evs...)
				if res.Accepted() {
					progressed = true
				}
			}
		}

		sides, err := c.store.SideHashes()
		if err != nil {
			return out, err
		}
		for _, sh := range sides {
			w, err := c.cumWork(sh)
			if err != nil {
				continue // unchained side entry; resolved by a later cascade
			}
			if w.Cmp(c.tipWork) <= 0 {
				continue
			}
			sb, err := c.store.GetBlock(sh)
			if err != nil {
				return out, err
			}
			res, evs, rerr := c.reorgToLocked(sb, w)
			if rerr != nil {
				return out, rerr
			}
			out = append(out, evs...)
			if res.CanonicalChanged() {
				progressed = true
			}
		}

		if !progressed {
			return out, nil
		}
	}
}

// medianTimePast returns the median timestamp of the last MedianWindow blocks
// ending at parent, walking parent pointers on parent's own branch.
func (c *Chain) medianTimePast(parent *Block) (int64, error) {
	ts := make([]int64, 0, c.params.MedianWindow)
	cur := parent
	for len(ts) < c.params.MedianWindow {
		ts = append(ts, cur.Header.Timestamp)
		if cur.Header.Height == 0 {
			break
		}
		prev, err := c.store.GetBlock(cur.Header.ParentHash)
		if err != nil {
			return 0, fmt.Errorf("median-time-past walk at %d: %w", cur.Header.Height, err)
		}
		cur = prev
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
	return ts[len(ts)/2], nil
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}
