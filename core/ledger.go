package core

import (
	"errors"
	"fmt"
)

// Account holds a participant's balance and replay-protection nonce.
// Address is the 40-char hex address; the marker senders use their literal
// names as addresses.
type Account struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// State is the buffered world-state interface. Implementations must stage
// writes in memory so a failed apply (or an aborted reorg) is discarded
// without touching disk.
type State interface {
	// GetAccount returns the account, or a zero-value account if absent.
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error
	GetSupply() (uint64, error)
	SetSupply(supply uint64) error
	// Commit atomically flushes the write buffer to the underlying DB.
	Commit() error
	// Discard drops the write buffer without flushing.
	Discard()
}

// BlockUndo captures the exact prior state of everything a block touched, so
// a rewind restores it bit-for-bit.
type BlockUndo struct {
	Accounts []Account `json:"accounts"` // full pre-block states, first-touch order
	Supply   uint64    `json:"supply"`   // pre-block total supply
}

// undoTracker snapshots each account the first time a block touches it.
type undoTracker struct {
	st      State
	touched map[string]bool
	undo    *BlockUndo
}

func newUndoTracker(st State) (*undoTracker, error) {
	supply, err := st.GetSupply()
	if err != nil {
		return nil, err
	}
	return &undoTracker{
		st:      st,
		touched: make(map[string]bool),
		undo:    &BlockUndo{Supply: supply},
	}, nil
}

func (t *undoTracker) account(addr string) (*Account, error) {
	acc, err := t.st.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if !t.touched[addr] {
		t.touched[addr] = true
		t.undo.Accounts = append(t.undo.Accounts, *acc)
	}
	return acc, nil
}

func (t *undoTracker) credit(addr string, amount uint64) error {
	acc, err := t.account(addr)
	if err != nil {
		return err
	}
	acc.Balance += amount
	return t.st.SetAccount(acc)
}

// ApplyBlock stages a canonical block's balance, supply, and vault effects
// into the state buffer and returns the undo record. The caller owns commit
// or discard. Errors leave the buffer in an undefined state; discard it.
func ApplyBlock(st State, p Params, b *Block) (*BlockUndo, error) {
	if len(b.Txs) == 0 || !b.Txs[0].IsCoinbase() {
		return nil, errors.New("missing coinbase at index 0")
	}
	tracker, err := newUndoTracker(st)
	if err != nil {
		return nil, err
	}
	em := p.EmissionAt(b.Header.Height)
	coinbase := b.Txs[0]
	if want := em.Miner + TotalFees(b); coinbase.Amount != want {
		return nil, fmt.Errorf("coinbase amount %d, want %d", coinbase.Amount, want)
	}

	for i, tx := range b.Txs[1:] {
		if tx.IsCoinbase() {
			return nil, fmt.Errorf("extra coinbase at index %d", i+1)
		}
		sender, err := tx.SenderAddress()
		if err != nil {
			return nil, fmt.Errorf("tx %s sender: %w", tx.ID[:16], err)
		}
		acc, err := tracker.account(sender)
		if err != nil {
			return nil, err
		}
		if tx.Nonce != acc.Nonce {
			return nil, fmt.Errorf("tx %s nonce %d, account at %d", tx.ID[:16], tx.Nonce, acc.Nonce)
		}
		total := tx.Amount + tx.Fee
		if total < tx.Amount { // overflow
			return nil, fmt.Errorf("tx %s amount overflow", tx.ID[:16])
		}
		if acc.Balance < total {
			return nil, fmt.Errorf("tx %s spends %d, balance %d", tx.ID[:16], total, acc.Balance)
		}
		acc.Balance -= total
		acc.Nonce++
		if err := st.SetAccount(acc); err != nil {
			return nil, err
		}
		if err := tracker.credit(tx.To, tx.Amount); err != nil {
			return nil, err
		}
	}

	// Coinbase credit: miner subsidy plus collected fees.
	if err := tracker.credit(coinbase.To, coinbase.Amount); err != nil {
		return nil, err
	}
	// Protocol-fee split, minted alongside the subsidy.
	if em.Vault > 0 {
		if err := tracker.credit(p.VaultAddress, em.Vault); err != nil {
			return nil, err
		}
	}
	if em.Founder > 0 {
		if err := tracker.credit(p.FounderAddress, em.Founder); err != nil {
			return nil, err
		}
	}
	if em.Ops > 0 {
		if err := tracker.credit(p.OpsAddress, em.Ops); err != nil {
			return nil, err
		}
	}
	if minted := em.Total(); minted > 0 {
		if err := st.SetSupply(tracker.undo.Supply + minted); err != nil {
			return nil, err
		}
	}
	return tracker.undo, nil
}

// RevertBlock stages the exact inverse of ApplyBlock using the undo record.
func RevertBlock(st State, u *BlockUndo) error {
	for i := range u.Accounts {
		acc := u.Accounts[i]
		if err := st.SetAccount(&acc); err != nil {
			return err
		}
	}
	return st.SetSupply(u.Supply)
}
