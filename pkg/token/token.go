package token

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

var (
	ErrInsufficientBalance   = errors.New("token: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("token: transfer amount exceeds allowance")
	ErrZeroAddress           = errors.New("token: zero address")
	ErrNilAmount             = errors.New("token: nil amount")
	ErrSupplyOverflow        = errors.New("token: total supply overflow")
)

// Token is an in-memory fungible token with ERC-20 semantics.
// Transfers move value between holders and never mint or burn.
// The node also uses one instance as the native-currency bank.
type Token struct {
	Address  common.Address
	Name     string
	Symbol   string
	Decimals uint8

	mu         sync.RWMutex
	supply     uint256.Int
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int

	// OnTransfer, when set, runs after every successful balance move.
	// Holders with code hook in here (e.g. rejecting or re-entering).
	OnTransfer func(from, to common.Address, amount *uint256.Int) error
}

func New(addr common.Address, name, symbol string, decimals uint8) *Token {
	return &Token{
		Address:    addr,
		Name:       name,
		Symbol:     symbol,
		Decimals:   decimals,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

// Mint credits amount to holder. Genesis only.
func (t *Token) Mint(holder common.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrNilAmount
	}
	if holder == (common.Address{}) {
		return ErrZeroAddress
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var supply uint256.Int
	if _, overflow := supply.AddOverflow(&t.supply, amount); overflow {
		return ErrSupplyOverflow
	}
	t.supply = supply
	t.balances[holder] = new(uint256.Int).Add(t.balanceLocked(holder), amount)
	return nil
}

func (t *Token) TotalSupply() *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(uint256.Int).Set(&t.supply)
}

func (t *Token) BalanceOf(owner common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(uint256.Int).Set(t.balanceLocked(owner))
}

func (t *Token) Allowance(owner, spender common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if a, ok := t.allowances[owner][spender]; ok {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int)
}

// Approve sets spender's allowance over owner's tokens, replacing any previous value.
func (t *Token) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrNilAmount
	}
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[common.Address]*uint256.Int)
		t.allowances[owner] = m
	}
	m[spender] = new(uint256.Int).Set(amount)
	return nil
}

// Transfer moves amount from `from` to `to`. The caller has already
// established that it acts for `from`.
func (t *Token) Transfer(from, to common.Address, amount *uint256.Int) error {
	if err := t.move(from, to, amount, nil); err != nil {
		return err
	}
	return t.notify(from, to, amount, nil)
}

// TransferFrom moves amount from `from` to `to` on behalf of spender,
// consuming spender's allowance.
func (t *Token) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	if err := t.move(from, to, amount, &spender); err != nil {
		return err
	}
	return t.notify(from, to, amount, &spender)
}

func (t *Token) move(from, to common.Address, amount *uint256.Int, spender *common.Address) error {
	if amount == nil {
		return ErrNilAmount
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	bal := t.balanceLocked(from)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, bal.Dec(), amount.Dec())
	}

	var allowance *uint256.Int
	if spender != nil {
		allowance = t.allowances[from][*spender]
		if allowance == nil || allowance.Lt(amount) {
			return fmt.Errorf("%w: spender %s", ErrInsufficientAllowance, spender.Hex())
		}
		t.allowances[from][*spender] = new(uint256.Int).Sub(allowance, amount)
	}

	t.balances[from] = new(uint256.Int).Sub(bal, amount)
	t.balances[to] = new(uint256.Int).Add(t.balanceLocked(to), amount)
	return nil
}

// notify runs the OnTransfer hook outside the lock. A hook error reverts the move.
func (t *Token) notify(from, to common.Address, amount *uint256.Int, spender *common.Address) error {
	if t.OnTransfer == nil {
		return nil
	}
	if err := t.OnTransfer(from, to, amount); err != nil {
		t.mu.Lock()
		t.balances[to] = new(uint256.Int).Sub(t.balanceLocked(to), amount)
		t.balances[from] = new(uint256.Int).Add(t.balanceLocked(from), amount)
		if spender != nil {
			t.allowances[from][*spender] = new(uint256.Int).Add(t.allowances[from][*spender], amount)
		}
		t.mu.Unlock()
		return err
	}
	return nil
}

func (t *Token) balanceLocked(owner common.Address) *uint256.Int {
	if b, ok := t.balances[owner]; ok {
		return b
	}
	return new(uint256.Int)
}

// Digest is a Keccak-256 commitment to the token's supply, non-zero balances
// and non-zero allowances, walked in address order. Zero entries hash the same
// as absent ones.
func (t *Token) Digest() common.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h := sha3.NewLegacyKeccak256()
	h.Write(t.Address[:])
	supply := t.supply.Bytes32()
	h.Write(supply[:])

	for _, owner := range sortedKeys(t.balances) {
		bal := t.balances[owner]
		if bal.IsZero() {
			continue
		}
		b := bal.Bytes32()
		h.Write([]byte{'b'})
		h.Write(owner[:])
		h.Write(b[:])
	}
	for _, owner := range sortedKeys(t.allowances) {
		m := t.allowances[owner]
		for _, spender := range sortedKeys(m) {
			if m[spender].IsZero() {
				continue
			}
			a := m[spender].Bytes32()
			h.Write([]byte{'a'})
			h.Write(owner[:])
			h.Write(spender[:])
			h.Write(a[:])
		}
	}

	var out common.Hash
	h.Sum(out[:0])
	return out
}

func sortedKeys[V any](m map[common.Address]V) []common.Address {
	keys := make([]common.Address, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i][:], keys[j][:]) < 0 })
	return keys
}
