package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oneepicnight/vision-node/core"
)

// Key schema for chain persistence.
const (
	keyPrefixBlock  = "block:"  // block:<hash> → Block JSON
	keyPrefixHeight = "height:" // height:<dec>  → canonical hash
	keyPrefixSide   = "side:"   // side:<hash>   → 1
	keyPrefixWork   = "work:"   // work:<hash>   → cumulative work big-endian bytes
	keyPrefixUndo   = "undo:"   // undo:<hash>   → BlockUndo JSON
	keyTip          = "chain:tip"
)

// ChainKV implements core.ChainStore on top of a DB.
type ChainKV struct {
	db DB
}

// NewChainKV wraps a DB instance as a core.ChainStore.
func NewChainKV(db DB) *ChainKV {
	return &ChainKV{db: db}
}

func (s *ChainKV) PutBlock(block *core.Block) error {
	data, err := json.Marshal(block)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(keyPrefixBlock+block.Hash), data)
}

func (s *ChainKV) GetBlock(hash string) (*core.Block, error) {
	data, err := s.db.Get([]byte(keyPrefixBlock + hash))
	if err != nil {
		return nil, err
	}
	var b core.Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *ChainKV) HasBlock(hash string) bool {
	ok, err := s.db.Has([]byte(keyPrefixBlock + hash))
	return err == nil && ok
}

func (s *ChainKV) PutCanonicalHash(height uint64, hash string) error {
	return s.db.Set(heightKey(height), []byte(hash))
}

func (s *ChainKV) GetCanonicalHash(height uint64) (string, error) {
	hash, err := s.db.Get(heightKey(height))
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (s *ChainKV) DeleteCanonicalHash(height uint64) error {
	return s.db.Delete(heightKey(height))
}

func (s *ChainKV) GetTip() (string, error) {
	val, err := s.db.Get([]byte(keyTip))
	if errors.Is(err, core.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func (s *ChainKV) SetTip(hash string) error {
	return s.db.Set([]byte(keyTip), []byte(hash))
}

func (s *ChainKV) PutSide(hash string) error {
	return s.db.Set([]byte(keyPrefixSide+hash), []byte{1})
}

func (s *ChainKV) DeleteSide(hash string) error {
	return s.db.Delete([]byte(keyPrefixSide + hash))
}

func (s *ChainKV) IsSide(hash string) bool {
	ok, err := s.db.Has([]byte(keyPrefixSide + hash))
	return err == nil && ok
}

func (s *ChainKV) SideHashes() ([]string, error) {
	it := s.db.NewIterator([]byte(keyPrefixSide))
	defer it.Release()
	var out []string
	for it.Next() {
		out = append(out, string(it.Key()[len(keyPrefixSide):]))
	}
	return out, it.Error()
}

func (s *ChainKV) GetWork(hash string) ([]byte, error) {
	return s.db.Get([]byte(keyPrefixWork + hash))
}

func (s *ChainKV) PutWork(hash string, work []byte) error {
	return s.db.Set([]byte(keyPrefixWork+hash), work)
}

func (s *ChainKV) GetUndo(hash string) (*core.BlockUndo, error) {
	data, err := s.db.Get([]byte(keyPrefixUndo + hash))
	if err != nil {
		return nil, err
	}
	var u core.BlockUndo
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *ChainKV) PutUndo(hash string, u *core.BlockUndo) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(keyPrefixUndo+hash), data)
}

func (s *ChainKV) DeleteUndo(hash string) error {
	return s.db.Delete([]byte(keyPrefixUndo + hash))
}

// heightKey encodes heights in fixed-width decimal so iteration order matches
// numeric order.
func heightKey(height uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefixHeight, height))
}
