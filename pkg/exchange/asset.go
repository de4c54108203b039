package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Native is the reserved asset identifier for the chain's native currency.
// Tokens are identified by their contract address.
var Native = common.Address{}

func IsNative(asset common.Address) bool { return asset == Native }

// Token is the fungible-token collaborator. Calls are made on behalf of the
// exchange: spender (TransferFrom) and from (Transfer) are the custody address.
type Token interface {
	Transfer(from, to common.Address, amount *uint256.Int) error
	TransferFrom(spender, from, to common.Address, amount *uint256.Int) error
	BalanceOf(owner common.Address) *uint256.Int
}

// Bank moves native currency.
type Bank interface {
	Transfer(from, to common.Address, amount *uint256.Int) error
	BalanceOf(owner common.Address) *uint256.Int
}

// TokenLookup resolves a token identifier to its collaborator.
type TokenLookup func(asset common.Address) (Token, bool)

// ParseAmount parses a base-10 amount.
func ParseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	return v, nil
}

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
