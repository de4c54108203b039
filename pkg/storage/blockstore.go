package storage

import (
	"fmt"
	"sync"

	"github.com/uhyunpark/hyperswap/pkg/chain"
)

// BlockStore persists committed blocks in Pebble, keyed by height.
type BlockStore struct {
	db *DB
}

func NewBlockStore(db *DB) *BlockStore {
	return &BlockStore{db: db}
}

func kBlock(h chain.Height) []byte { return Uint64Key(prefixBlock, uint64(h)) }

func (s *BlockStore) SaveBlock(b chain.Block) error {
	val, err := encodeGob(b)
	if err != nil {
		return fmt.Errorf("encode block: %w", err)
	}
	if err := s.db.Set(kBlock(b.Height), val); err != nil {
		return fmt.Errorf("save block %d: %w", b.Height, err)
	}
	return nil
}

func (s *BlockStore) GetBlock(h chain.Height) (chain.Block, bool, error) {
	val, ok, err := s.db.Get(kBlock(h))
	if err != nil || !ok {
		return chain.Block{}, false, err
	}
	var out chain.Block
	if err := decodeGob(val, &out); err != nil {
		return chain.Block{}, false, fmt.Errorf("decode block %d: %w", h, err)
	}
	return out, true, nil
}

func (s *BlockStore) SetCommitted(h chain.Height) error {
	return s.db.Set([]byte(keyCommit), EncodeUint64(uint64(h)))
}

func (s *BlockStore) GetCommitted() (chain.Height, bool, error) {
	val, ok, err := s.db.Get([]byte(keyCommit))
	if err != nil || !ok {
		return 0, false, err
	}
	return chain.Height(DecodeUint64(val)), true, nil
}

var _ chain.BlockStore = (*BlockStore)(nil)

// InMemoryBlockStore keeps blocks in a map. Used in tests.
type InMemoryBlockStore struct {
	mu        sync.Mutex
	blocks    map[chain.Height]chain.Block
	committed *chain.Height
}

func NewInMemoryBlockStore() *InMemoryBlockStore {
	return &InMemoryBlockStore{
		blocks: make(map[chain.Height]chain.Block),
	}
}

func (s *InMemoryBlockStore) SaveBlock(b chain.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[b.Height] = b
	return nil
}

func (s *InMemoryBlockStore) GetBlock(h chain.Height) (chain.Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[h]
	return b, ok, nil
}

func (s *InMemoryBlockStore) SetCommitted(h chain.Height) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = &h
	return nil
}

func (s *InMemoryBlockStore) GetCommitted() (chain.Height, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed == nil {
		return 0, false, nil
	}
	return *s.committed, true, nil
}

var _ chain.BlockStore = (*InMemoryBlockStore)(nil)
