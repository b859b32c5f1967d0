package core

import (
	"fmt"
	"math/big"

	"github.com/oneepicnight/vision-node/events"
)

// reorgToLocked switches the canonical chain to the branch ending at newTip.
// The ledger buffer stages the full rewind and replay; nothing touches disk
// until the whole branch validates, so an aborted reorg restores the
// previous canonical chain exactly.
func (c *Chain) reorgToLocked(newTip *Block, newWork *big.Int) (Result, []events.Event, error) {
	oldTip := c.tip

	// Collect the fork branch down to the common ancestor.
	var branch []*Block
	cur := newTip
	for !c.isCanonical(cur) {
		branch = append(branch, cur)
		parent, err := c.store.GetBlock(cur.Header.ParentHash)
		if err != nil {
			return Result{}, nil, fmt.Errorf("reorg walk at %d: %w", cur.Header.Height, err)
		}
		cur = parent
	}
	ancestor := cur
	// Reverse into ascending order for replay.
	for i, j := 0, len(branch)-1; i < j; i, j = i+1, j-1 {
		branch[i], branch[j] = branch[j], branch[i]
	}

	if ancestor.Header.Height <= c.params.CheckpointHeight {
		return rejected(ReasonCrossesCheckpoint,
			fmt.Sprintf("common ancestor %d at or below checkpoint %d",
				ancestor.Header.Height, c.params.CheckpointHeight)), nil, nil
	}
	depth := oldTip.Header.Height - ancestor.Header.Height
	if depth > c.params.MaxReorgDepth {
		return rejected(ReasonReorgTooDeep,
			fmt.Sprintf("depth %d exceeds limit %d", depth, c.params.MaxReorgDepth)), nil, nil
	}

	// Rewind the canonical chain into the state buffer, newest first.
	c.state.Discard()
	var removed []*Block
	for h := oldTip.Header.Height; h > ancestor.Header.Height; h-- {
		hash, err := c.store.GetCanonicalHash(h)
		if err != nil {
			c.state.Discard()
			return Result{}, nil, fmt.Errorf("rewind index at %d: %w", h, err)
		}
		blk, err := c.store.GetBlock(hash)
		if err != nil {
			c.state.Discard()
			return Result{}, nil, fmt.Errorf("rewind block at %d: %w", h, err)
		}
		undo, err := c.store.GetUndo(hash)
		if err != nil {
			c.state.Discard()
			return Result{}, nil, fmt.Errorf("rewind undo at %d: %w", h, err)
		}
		if err := RevertBlock(c.state, undo); err != nil {
			c.state.Discard()
			return Result{}, nil, fmt.Errorf("revert block at %d: %w", h, err)
		}
		removed = append(removed, blk)
	}

	// Replay the fork branch. Any failure aborts with the buffer dropped and
	// the persisted canonical chain untouched.
	undos := make([]*BlockUndo, len(branch))
	for i, fb := range branch {
		undo, err := ApplyBlock(c.state, c.params, fb)
		if err != nil {
			c.state.Discard()
			return rejected(ReasonReplayFailed,
				fmt.Sprintf("block %d (%s): %v", fb.Header.Height, shortHash(fb.Hash), err)), nil, nil
		}
		undos[i] = undo
	}

	if err := c.state.Commit(); err != nil {
		return Result{}, nil, fmt.Errorf("commit reorg state: %w", err)
	}

	// Swap the canonical index for the affected height range.
	for _, blk := range removed {
		if err := c.store.PutSide(blk.Hash); err != nil {
			return Result{}, nil, fmt.Errorf("sideline block %s: %w", shortHash(blk.Hash), err)
		}
		if err := c.store.DeleteUndo(blk.Hash); err != nil {
			return Result{}, nil, fmt.Errorf("drop undo %s: %w", shortHash(blk.Hash), err)
		}
	}
	for i, fb := range branch {
		if err := c.store.PutCanonicalHash(fb.Header.Height, fb.Hash); err != nil {
			return Result{}, nil, fmt.Errorf("index fork block %d: %w", fb.Header.Height, err)
		}
		if err := c.store.PutUndo(fb.Hash, undos[i]); err != nil {
			return Result{}, nil, fmt.Errorf("store fork undo %d: %w", fb.Header.Height, err)
		}
		if err := c.store.DeleteSide(fb.Hash); err != nil {
			return Result{}, nil, fmt.Errorf("unmark side %d: %w", fb.Header.Height, err)
		}
	}
	for h := newTip.Header.Height + 1; h <= oldTip.Header.Height; h++ {
		if err := c.store.DeleteCanonicalHash(h); err != nil {
			return Result{}, nil, fmt.Errorf("trim index at %d: %w", h, err)
		}
	}
	if err := c.store.SetTip(newTip.Hash); err != nil {
		return Result{}, nil, fmt.Errorf("set tip: %w", err)
	}
	c.tip = newTip
	c.tipWork = newWork

	c.logger.Infow("reorg",
		"old_tip", shortHash(oldTip.Hash), "new_tip", shortHash(newTip.Hash),
		"depth", depth, "removed", len(removed), "applied", len(branch))

	ev := events.Event{
		Type: events.EventReorg,
		Data: map[string]any{
			"old_tip": oldTip.Hash,
			"new_tip": newTip.Hash,
			"depth":   depth,
			"removed": len(removed),
			"applied": len(branch),
		},
	}
	res := Result{
		Status:  StatusAcceptedReorg,
		OldTip:  oldTip.Hash,
		NewTip:  newTip.Hash,
		Removed: len(removed),
		Applied: len(branch),
		Depth:   depth,
	}
	return res, []events.Event{ev}, nil
}
