// Package miner produces candidate blocks and submits them through the same
// admission path as peer blocks. The worker is gated by the eligibility
// predicates and nothing else; pausing the miner never touches sync.
package miner

import (
	"context"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/oneepicnight/vision-node/config"
	"github.com/oneepicnight/vision-node/core"
	"github.com/oneepicnight/vision-node/crypto"
	"github.com/oneepicnight/vision-node/eligibility"
	"github.com/oneepicnight/vision-node/log"
	"github.com/oneepicnight/vision-node/p2p"
)

const (
	idleSleep     = 2 * time.Second
	roundAttempts = 1 << 16 // nonce attempts between context checks
	maxBlockTxs   = 500
)

// Worker mines blocks for one address.
type Worker struct {
	cfg      *config.Config
	params   core.Params
	chain    *core.Chain
	mempool  *core.Mempool
	node     *p2p.Node
	peers    *p2p.Store
	observer p2p.TipObserver
	miner    string // reward address
	logger   *zap.SugaredLogger
}

// NewWorker creates a miner crediting rewards to addr.
func NewWorker(cfg *config.Config, params core.Params, chain *core.Chain, mempool *core.Mempool,
	node *p2p.Node, peers *p2p.Store, observer p2p.TipObserver, addr string) *Worker {
	return &Worker{
		cfg:      cfg,
		params:   params,
		chain:    chain,
		mempool:  mempool,
		node:     node,
		peers:    peers,
		observer: observer,
		miner:    addr,
		logger:   log.New("miner"),
	}
}

// Run mines until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	role := eligibility.RoleLeaf
	if w.cfg.Role == config.RoleAnchor {
		role = eligibility.RoleAnchor
	}
	for ctx.Err() == nil {
		if !eligibility.IsMiningAllowed(role, w.Snapshot()) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleSleep):
			}
			continue
		}
		if w.chain.Height() >= w.params.MaxMiningBlock {
			w.logger.Infow("emission exhausted, miner stopping", "height", w.chain.Height())
			return
		}
		block, ok := w.mineOne(ctx)
		if !ok {
			continue // tip moved or cancelled; rebuild the candidate
		}
		res, err := w.chain.Admit(block)
		if err != nil {
			w.logger.Errorw("admit mined block", "err", err)
			continue
		}
		if !res.CanonicalChanged() {
			w.logger.Warnw("mined block not canonical", "status", res.Status.String(), "code", res.Reason)
			continue
		}
		ids := make([]string, 0, len(block.Txs))
		for _, tx := range block.Txs[1:] {
			ids = append(ids, tx.ID)
		}
		w.mempool.Remove(ids)
		w.node.BroadcastBlock(block)
		w.logger.Infow("block mined", "height", block.Header.Height, "hash", block.Hash[:16], "txs", len(block.Txs))
	}
}

// Snapshot freezes the eligibility inputs at one moment.
func (w *Worker) Snapshot() eligibility.Snapshot {
	s := eligibility.Snapshot{
		LocalTipHeight:     w.chain.Height(),
		PeerCount:          len(w.peers.ActiveSnapshot()),
		PublicReachable:    w.cfg.AdvertisedP2PAddress != "",
		ChainID:            w.params.ChainID,
		LocalChainID:       w.params.ChainID,
		MaxMiningLagBlocks: w.cfg.MaxMiningLagBlocks,
	}
	if w.observer != nil {
		if h, connected := w.observer.TipObservation(); connected {
			s.NetworkTip, s.NetworkTipKnown = h, true
		}
	}
	if !s.NetworkTipKnown {
		if h, ok := w.peers.BestRemoteHeight(); ok {
			s.NetworkTip, s.NetworkTipKnown = h, true
		}
	}
	if q, ok := w.peers.BestHeightQuorum(w.cfg.QuorumMin); ok {
		s.Quorum, s.QuorumKnown = q, true
	}
	return s
}

// mineOne builds a candidate on the current tip and grinds nonces until it
// meets the target, the tip moves, or ctx is cancelled.
func (w *Worker) mineOne(ctx context.Context) (*core.Block, bool) {
	tip := w.chain.Tip()
	height := tip.Header.Height + 1
	txs := w.selectTxs()

	em := w.params.EmissionAt(height)
	var fees uint64
	for _, tx := range txs {
		fees += tx.Fee
	}
	coinbase := core.NewCoinbase(w.miner, em.Miner+fees, height)
	all := append([]*core.Transaction{coinbase}, txs...)

	bits := tip.Header.TargetBits
	if tip.Header.Height <= w.params.CheckpointHeight {
		bits = w.params.PowLimitBits
	}
	now := time.Now().Unix()
	if now <= tip.Header.Timestamp {
		now = tip.Header.Timestamp + 1
	}
	block := core.NewBlock(height, tip.Hash, w.miner, now, bits, all)

	target := core.CompactToTarget(bits)
	for ctx.Err() == nil {
		for i := 0; i < roundAttempts; i++ {
			block.Seal()
			if hashMeets(block.Hash, target) {
				return block, true
			}
			block.Header.Nonce++
		}
		if w.chain.Tip().Hash != tip.Hash {
			return nil, false // someone else extended the chain
		}
	}
	return nil, false
}

// selectTxs picks pending transactions that can actually apply on the
// current state, keeping per-sender nonce order.
func (w *Worker) selectTxs() []*core.Transaction {
	pending := w.mempool.Pending(maxBlockTxs)
	if len(pending) == 0 {
		return nil
	}
	nextNonce := make(map[string]uint64)
	spent := make(map[string]uint64)
	var out []*core.Transaction
	for _, tx := range pending {
		sender, err := tx.SenderAddress()
		if err != nil {
			continue
		}
		want, ok := nextNonce[sender]
		if !ok {
			n, err := w.chain.AccountNonce(sender)
			if err != nil {
				continue
			}
			want = n
		}
		if tx.Nonce != want {
			continue
		}
		balance, err := w.chain.Balance(sender)
		if err != nil {
			continue
		}
		need := spent[sender] + tx.Amount + tx.Fee
		if need < spent[sender] || balance < need {
			continue
		}
		spent[sender] = need
		nextNonce[sender] = want + 1
		out = append(out, tx)
	}
	return out
}

func hashMeets(hashHex string, target *big.Int) bool {
	raw, err := crypto.FingerprintToBytes(hashHex)
	if err != nil {
		return false
	}
	return new(big.Int).SetBytes(raw[:]).Cmp(target) <= 0
}
