package token

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry manages the tokens known to the node in a thread-safe manner
// Supports registration and lookup by contract address
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]*Token // address -> token
}

// NewRegistry creates an empty token registry
func NewRegistry() *Registry {
	return &Registry{
		tokens: make(map[common.Address]*Token),
	}
}

// Register adds a new token to the registry
// Returns error if a token with the same address already exists
func (r *Registry) Register(t *Token) error {
	if t == nil {
		return fmt.Errorf("cannot register nil token")
	}
	if t.Address == (common.Address{}) {
		return fmt.Errorf("token %s: %w", t.Symbol, ErrZeroAddress)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[t.Address]; exists {
		return fmt.Errorf("token %s already registered", t.Address.Hex())
	}

	r.tokens[t.Address] = t
	return nil
}

// Get retrieves a token by address
func (r *Registry) Get(addr common.Address) (*Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[addr]
	return t, ok
}

// List returns all registered tokens ordered by address
func (r *Registry) List() []*Token {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tokens := make([]*Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		tokens = append(tokens, t)
	}
	sort.Slice(tokens, func(i, j int) bool {
		return bytes.Compare(tokens[i].Address[:], tokens[j].Address[:]) < 0
	})
	return tokens
}

// Count returns the total number of registered tokens
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}
