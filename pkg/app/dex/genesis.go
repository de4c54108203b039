package dex

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/token"
)

// Genesis describes the collaborator state the chain starts from.
type Genesis struct {
	Native map[common.Address]*uint256.Int // native-currency balances
	Tokens []TokenGenesis
}

type TokenGenesis struct {
	Address  common.Address
	Name     string
	Symbol   string
	Decimals uint8
	Balances map[common.Address]*uint256.Int
}

// BuildGenesis creates the native-currency bank and the token registry.
func BuildGenesis(g Genesis) (*token.Token, *token.Registry, error) {
	bank := token.New(common.Address{}, "Ether", "ETH", 18)
	for holder, amount := range g.Native {
		if err := bank.Mint(holder, amount); err != nil {
			return nil, nil, fmt.Errorf("genesis native balance for %s: %w", holder.Hex(), err)
		}
	}

	registry := token.NewRegistry()
	for _, tg := range g.Tokens {
		tok := token.New(tg.Address, tg.Name, tg.Symbol, tg.Decimals)
		for holder, amount := range tg.Balances {
			if err := tok.Mint(holder, amount); err != nil {
				return nil, nil, fmt.Errorf("genesis %s balance for %s: %w", tg.Symbol, holder.Hex(), err)
			}
		}
		if err := registry.Register(tok); err != nil {
			return nil, nil, fmt.Errorf("genesis: %w", err)
		}
	}
	return bank, registry, nil
}
