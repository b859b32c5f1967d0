package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"

	"github.com/oneepicnight/vision-node/core"
)

const (
	keyPrefixAccount = "acct:"
	keySupply        = "chain:supply"
)

// StateDB implements core.State with an in-memory write buffer over a DB.
// Reads see the buffer first; Commit flushes atomically via a batch, Discard
// drops the buffer. The admission pipeline relies on Discard to abort a
// failed apply or reorg without touching disk.
type StateDB struct {
	db    DB
	dirty map[string][]byte
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{db: db, dirty: make(map[string][]byte)}
}

func (s *StateDB) get(key string) ([]byte, error) {
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	data, err := s.get(keyPrefixAccount + address)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address}, nil // zero-value account
	}
	if err != nil {
		return nil, err
	}
	var acc core.Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	s.dirty[keyPrefixAccount+acc.Address] = data
	return nil
}

func (s *StateDB) GetSupply() (uint64, error) {
	data, err := s.get(keySupply)
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, errors.New("malformed supply record")
	}
	return binary.LittleEndian.Uint64(data), nil
}

func (s *StateDB) SetSupply(supply uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], supply)
	s.dirty[keySupply] = buf[:]
	return nil
}

// Commit atomically flushes the write buffer via a batch and clears it.
func (s *StateDB) Commit() error {
	if len(s.dirty) == 0 {
		return nil
	}
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	return nil
}

// Discard drops the write buffer without flushing.
func (s *StateDB) Discard() {
	if len(s.dirty) > 0 {
		s.dirty = make(map[string][]byte)
	}
}
