package core

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/oneepicnight/vision-node/events"
	"github.com/oneepicnight/vision-node/log"
)

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

// ChainStore is the persistence interface used by Chain.
// Implementations live in the storage package.
type ChainStore interface {
	GetBlock(hash string) (*Block, error)
	PutBlock(b *Block) error
	HasBlock(hash string) bool

	GetCanonicalHash(height uint64) (string, error)
	PutCanonicalHash(height uint64, hash string) error
	DeleteCanonicalHash(height uint64) error

	// GetTip returns the current tip hash, or ("", nil) for a fresh store.
	GetTip() (string, error)
	SetTip(hash string) error

	PutSide(hash string) error
	DeleteSide(hash string) error
	IsSide(hash string) bool
	SideHashes() ([]string, error)

	GetWork(hash string) ([]byte, error)
	PutWork(hash string, work []byte) error

	GetUndo(hash string) (*BlockUndo, error)
	PutUndo(hash string, u *BlockUndo) error
	DeleteUndo(hash string) error
}

// Chain owns all blocks: the canonical index, the side-block set, the orphan
// pool, and the cumulative-work memo. All mutations go through a single
// writer lock; readers take consistent snapshots. Chain never calls into the
// peer store — it publishes events instead.
type Chain struct {
	mu      sync.RWMutex
	params  Params
	store   ChainStore
	state   State
	emitter *events.Emitter
	logger  *zap.SugaredLogger

	orphans  *orphanPool
	workMemo map[string]*big.Int

	tip     *Block
	tipWork *big.Int
}

// NewChain creates a Chain over store and state. Call Init before use.
func NewChain(params Params, store ChainStore, state State, emitter *events.Emitter) *Chain {
	return &Chain{
		params:   params,
		store:    store,
		state:    state,
		emitter:  emitter,
		logger:   log.New("chain"),
		orphans:  newOrphanPool(params.OrphanPoolSize),
		workMemo: make(map[string]*big.Int),
	}
}

// Init loads the persisted tip, installing the embedded bootstrap prefix on
// an empty store and verifying the checkpoint fingerprint otherwise.
func (c *Chain) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tipHash, err := c.store.GetTip()
	if err != nil {
		return fmt.Errorf("get tip: %w", err)
	}
	if tipHash == "" {
		if err := c.installBootstrap(); err != nil {
			return err
		}
		c.logger.Infow("bootstrap prefix installed",
			"height", c.params.CheckpointHeight, "checkpoint", c.params.CheckpointHash[:16])
		return nil
	}
	if err := c.verifyBootstrap(); err != nil {
		return err
	}
	tip, err := c.store.GetBlock(tipHash)
	if err != nil {
		return fmt.Errorf("load tip block: %w", err)
	}
	work, err := c.cumWork(tipHash)
	if err != nil {
		return fmt.Errorf("load tip work: %w", err)
	}
	c.tip = tip
	c.tipWork = work
	return nil
}

// Tip returns the canonical tip block.
func (c *Chain) Tip() *Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tip
}

// Height returns the canonical tip height.
func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tip == nil {
		return 0
	}
	return c.tip.Header.Height
}

// TipWork returns the cumulative work of the canonical tip.
func (c *Chain) TipWork() *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return new(big.Int).Set(c.tipWork)
}

// Params returns the consensus parameters the chain was built with.
func (c *Chain) Params() Params {
	return c.params
}

// GetBlock returns a block by its fingerprint.
func (c *Chain) GetBlock(hash string) (*Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.GetBlock(hash)
}

// GetBlockByHeight returns the canonical block at the given height.
func (c *Chain) GetBlockByHeight(height uint64) (*Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.canonicalBlock(height)
}

// HasBlock reports whether the fingerprint names a known (canonical or side)
// block. Orphans do not count.
func (c *Chain) HasBlock(hash string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.HasBlock(hash)
}

// Balance returns the confirmed balance for an address.
func (c *Chain) Balance(addr string) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	acc, err := c.state.GetAccount(addr)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// AccountNonce returns the confirmed nonce for an address.
func (c *Chain) AccountNonce(addr string) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	acc, err := c.state.GetAccount(addr)
	if err != nil {
		return 0, err
	}
	return acc.Nonce, nil
}

func (c *Chain) canonicalBlock(height uint64) (*Block, error) {
	hash, err := c.store.GetCanonicalHash(height)
	if err != nil {
		return nil, err
	}
	return c.store.GetBlock(hash)
}

// isCanonical reports whether hash is the canonical block at its height.
func (c *Chain) isCanonical(b *Block) bool {
	hash, err := c.store.GetCanonicalHash(b.Header.Height)
	return err == nil && hash == b.Hash
}

// ---- cumulative work ----

// prefixCumWork is the fixed cumulative work of the prefix block at height h:
// each prefix block contributes exactly one unit.
func prefixCumWork(h uint64) *big.Int {
	return new(big.Int).SetUint64(h + 1)
}

// cumWork returns the memoized cumulative work for a known block, computing
// and persisting it recursively up to an already-memoized ancestor on a miss.
// Recursion is bounded by the longest known branch; parent edges form a DAG.
func (c *Chain) cumWork(hash string) (*big.Int, error) {
	if w, ok := c.workMemo[hash]; ok {
		return w, nil
	}
	if raw, err := c.store.GetWork(hash); err == nil {
		w := new(big.Int).SetBytes(raw)
		c.workMemo[hash] = w
		return w, nil
	}
	b, err := c.store.GetBlock(hash)
	if err != nil {
		return nil, fmt.Errorf("cumulative work of unknown block %s: %w", hash[:16], err)
	}
	if b.Header.Height <= c.params.CheckpointHeight {
		w := prefixCumWork(b.Header.Height)
		c.putWork(hash, w)
		return w, nil
	}
	parentWork, err := c.cumWork(b.Header.ParentHash)
	if err != nil {
		return nil, err
	}
	w := new(big.Int).Add(parentWork, WorkFromBits(b.Header.TargetBits))
	c.putWork(hash, w)
	return w, nil
}

func (c *Chain) putWork(hash string, w *big.Int) {
	c.workMemo[hash] = w
	if err := c.store.PutWork(hash, w.Bytes()); err != nil {
		c.logger.Warnw("persist cumulative work failed", "block", hash[:16], "err", err)
	}
}

// ---- orphan pool ----

// orphanPool is a bounded LRU of blocks whose parent is unknown, with a
// parent index for cascade re-admission.
type orphanPool struct {
	cache    *lru.Cache
	byParent map[string][]string
}

func newOrphanPool(size int) *orphanPool {
	p := &orphanPool{byParent: make(map[string][]string)}
	cache, err := lru.NewWithEvict(size, func(key, value interface{}) {
		b := value.(*Block)
		p.unindex(b)
	})
	if err != nil {
		panic(err) // only fails on size <= 0
	}
	p.cache = cache
	return p
}

func (p *orphanPool) add(b *Block) {
	if p.cache.Contains(b.Hash) {
		return
	}
	p.cache.Add(b.Hash, b)
	p.byParent[b.Header.ParentHash] = append(p.byParent[b.Header.ParentHash], b.Hash)
}

func (p *orphanPool) has(hash string) bool {
	return p.cache.Contains(hash)
}

// childrenOf removes and returns all orphans waiting on parent.
func (p *orphanPool) childrenOf(parent string) []*Block {
	hashes := p.byParent[parent]
	if len(hashes) == 0 {
		return nil
	}
	// Drop the index entry first so the eviction callback fired by Remove
	// does not mutate the slice being walked.
	delete(p.byParent, parent)
	var out []*Block
	for _, h := range hashes {
		if v, ok := p.cache.Peek(h); ok {
			out = append(out, v.(*Block))
			p.cache.Remove(h)
		}
	}
	return out
}

func (p *orphanPool) unindex(b *Block) {
	hashes := p.byParent[b.Header.ParentHash]
	for i, h := range hashes {
		if h == b.Hash {
			p.byParent[b.Header.ParentHash] = append(hashes[:i], hashes[i+1:]...)
			break
		}
	}
	if len(p.byParent[b.Header.ParentHash]) == 0 {
		delete(p.byParent, b.Header.ParentHash)
	}
}

func (p *orphanPool) len() int {
	return p.cache.Len()
}
