package p2p

import (
	"time"

	"github.com/oneepicnight/vision-node/core"
	"github.com/oneepicnight/vision-node/wire"
)

// handleMessage dispatches one post-handshake message. Messages on a single
// connection are processed in arrival order; across connections there is no
// global order — the chain serializes all mutations.
func (n *Node) handleMessage(conn *Conn, msg wire.Message) {
	switch m := msg.(type) {
	case *wire.BlockAnnounce:
		n.onBlockAnnounce(conn, m)
	case *wire.BlockFetchRequest:
		n.onBlockFetch(conn, m)
	case *wire.BlockResponse:
		n.admitBlockFrom(conn, m.Block)
	case *wire.TxAnnounce:
		n.onTxAnnounce(conn, m)
	case *wire.TxFetchRequest:
		n.onTxFetch(conn, m)
	case *wire.Ping:
		n.onPing(conn, m)
	case *wire.Pong:
		n.onPong(conn, m)
	case *wire.RangeRequest:
		n.onRangeRequest(conn, m)
	case *wire.RangeResponse:
		n.onRangeResponse(conn, m)
	}
}

func (n *Node) onBlockAnnounce(conn *Conn, m *wire.BlockAnnounce) {
	n.peers.Upsert(conn.Addr(), func(p *PeerInfo) {
		if m.Header.Height > p.RemoteTipHeight {
			p.RemoteTipHeight = m.Header.Height
			p.RemoteTipHash = m.Hash
		}
		p.LastSeen = time.Now()
	})
	if n.chain.HasBlock(m.Hash) {
		return
	}
	if err := conn.SendMsg(&wire.BlockFetchRequest{Hash: m.Hash}); err != nil {
		n.logger.Debugw("block fetch request failed", "peer", conn.Addr(), "err", err)
	}
}

func (n *Node) onBlockFetch(conn *Conn, m *wire.BlockFetchRequest) {
	b, err := n.chain.GetBlock(m.Hash)
	if err != nil {
		return // unknown blocks are silently unanswered
	}
	if err := conn.SendMsg(&wire.BlockResponse{Block: b}); err != nil {
		n.logger.Debugw("block response failed", "peer", conn.Addr(), "err", err)
	}
}

func (n *Node) onTxAnnounce(conn *Conn, m *wire.TxAnnounce) {
	if m.Tx == nil {
		return
	}
	if err := n.mempool.Add(m.Tx); err != nil {
		n.logger.Debugw("tx not pooled", "peer", conn.Addr(), "err", err)
		return
	}
	n.peers.Reward(conn.Addr())
	n.BroadcastTx(m.Tx)
}

func (n *Node) onTxFetch(conn *Conn, m *wire.TxFetchRequest) {
	if tx, ok := n.mempool.Get(m.TxID); ok {
		_ = conn.SendMsg(&wire.TxAnnounce{Tx: tx})
	}
}

func (n *Node) onPing(conn *Conn, m *wire.Ping) {
	tip := n.chain.Tip()
	pong := &wire.Pong{Nonce: m.Nonce, TipHeight: tip.Header.Height, TipHash: tip.Hash}
	if err := conn.SendMsg(pong); err != nil {
		n.logger.Debugw("pong failed", "peer", conn.Addr(), "err", err)
	}
}

func (n *Node) onPong(conn *Conn, m *wire.Pong) {
	n.pingMu.Lock()
	mark, ok := n.pings[conn.Addr()]
	if ok && mark.nonce == m.Nonce {
		delete(n.pings, conn.Addr())
	}
	n.pingMu.Unlock()

	n.peers.Upsert(conn.Addr(), func(p *PeerInfo) {
		if ok && mark.nonce == m.Nonce {
			p.LatencyMS = time.Since(mark.sentAt).Milliseconds()
			if p.LatencyMS == 0 {
				p.LatencyMS = 1
			}
		}
		p.RemoteTipHeight = m.TipHeight
		p.RemoteTipHash = m.TipHash
		p.LastSeen = time.Now()
	})
	n.peers.Reward(conn.Addr())
}

func (n *Node) onRangeRequest(conn *Conn, m *wire.RangeRequest) {
	if m.ToHeight < m.FromHeight {
		return
	}
	to := m.ToHeight
	if span := to - m.FromHeight + 1; span > maxRangeSpan {
		to = m.FromHeight + maxRangeSpan - 1
	}
	var blocks []*core.Block
	for h := m.FromHeight; h <= to; h++ {
		b, err := n.chain.GetBlockByHeight(h)
		if err != nil {
			break // past our tip or a gap; return what we have
		}
		blocks = append(blocks, b)
	}
	if len(blocks) == 0 {
		return
	}
	if err := conn.SendMsg(&wire.RangeResponse{Blocks: blocks}); err != nil {
		n.logger.Debugw("range response failed", "peer", conn.Addr(), "err", err)
	}
}

func (n *Node) onRangeResponse(conn *Conn, m *wire.RangeResponse) {
	for _, b := range m.Blocks {
		if b == nil {
			continue
		}
		// Overlapping range replies are expected while a request is in
		// flight; skip blocks that already landed instead of charging the
		// peer for duplicates.
		if n.chain.HasBlock(b.Hash) {
			continue
		}
		n.admitBlockFrom(conn, b)
	}
}

// admitBlockFrom feeds a peer-sourced block through the admission pipeline
// and applies the proportional reputation consequence.
func (n *Node) admitBlockFrom(conn *Conn, b *core.Block) {
	if b == nil {
		return
	}
	res, err := n.chain.Admit(b)
	if err != nil {
		n.logger.Errorw("admission storage failure", "err", err)
		return
	}
	switch res.Status {
	case core.StatusOrphaned:
		// Deferred, not a failure; chase the parent on the sourcing peer.
		_ = conn.SendMsg(&wire.BlockFetchRequest{Hash: b.Header.ParentHash})
	case core.StatusRejected:
		n.penalizeFor(conn, b, res)
	default:
		n.peers.Reward(conn.Addr())
		n.peers.Upsert(conn.Addr(), func(p *PeerInfo) {
			if b.Header.Height > p.RemoteTipHeight {
				p.RemoteTipHeight = b.Header.Height
				p.RemoteTipHash = b.Hash
			}
		})
		if res.CanonicalChanged() {
			n.BroadcastBlock(b)
		}
	}
}

func (n *Node) penalizeFor(conn *Conn, b *core.Block, res core.Result) {
	rep := n.cfg.Reputation
	switch res.Reason {
	case core.ReasonDuplicateKnown:
		// Mild: duplicates are common during relay races.
		n.peers.Penalize(conn.Addr(), 1, string(res.Reason))
	case core.ReasonCrossesCheckpoint:
		n.peers.Penalize(conn.Addr(), rep.CheckpointPenalty, string(res.Reason))
		n.peers.MarkQuarantined(conn.Addr(), n.cfg.QuarantineDuration())
		conn.Close()
	default:
		n.peers.Penalize(conn.Addr(), rep.InvalidBlockPenalty, string(res.Reason))
	}
	n.logger.Infow("peer block rejected",
		"peer", conn.Addr(), "code", res.Reason, "detail", res.Detail, "block", shortBlockHash(b))
}

func shortBlockHash(b *core.Block) string {
	if b == nil || len(b.Hash) < 16 {
		return ""
	}
	return b.Hash[:16]
}
