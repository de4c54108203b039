package dex

import (
	"encoding/binary"
	"fmt"
	"math/rand"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/transaction"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/exchange"
)

// FeederAccounts derives n deterministic trader keys from seed. The same
// seed always yields the same accounts, so their genesis balances survive
// a restart and replay.
func FeederAccounts(n int, seed int64) []*crypto.Signer {
	out := make([]*crypto.Signer, 0, n)
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(seed))
	for i := 0; len(out) < n; i++ {
		binary.BigEndian.PutUint64(buf[8:], uint64(i))
		key := ethcrypto.Keccak256(buf[:])
		s, err := crypto.FromPrivateKeyHex(common.Bytes2Hex(key))
		if err != nil {
			continue // outside the curve order, try the next index
		}
		out = append(out, s)
	}
	return out
}

// FundFeederAccounts adds native and per-token genesis balances for accounts.
func FundFeederAccounts(g *Genesis, accounts []*crypto.Signer, amount *uint256.Int) {
	if g.Native == nil {
		g.Native = make(map[common.Address]*uint256.Int)
	}
	credit := func(m map[common.Address]*uint256.Int, addr common.Address) {
		if prev, ok := m[addr]; ok {
			m[addr] = new(uint256.Int).Add(prev, amount)
			return
		}
		m[addr] = new(uint256.Int).Set(amount)
	}
	for _, s := range accounts {
		credit(g.Native, s.Address())
		for i := range g.Tokens {
			if g.Tokens[i].Balances == nil {
				g.Tokens[i].Balances = make(map[common.Address]*uint256.Int)
			}
			credit(g.Tokens[i].Balances, s.Address())
		}
	}
}

// TxGenerator produces signed exchange transactions for simulated traders.
// Each trader first deposits native currency and every token, then makes,
// fills, cancels and withdraws at random.
//
// Order ids are predicted by counting generated make_order transactions.
// Predictions drift when orders fail; the resulting fills simply fail too.
type TxGenerator struct {
	signers []*crypto.Signer
	assets  []common.Address // Native first, then tokens
	eip712  *crypto.EIP712Signer
	rng     *rand.Rand

	nonces     map[common.Address]uint64
	onboarding []*crypto.Action // pending setup actions, in order
	orders     []common.Address // predicted order id - 1 → creator
	lot        *uint256.Int
}

func NewTxGenerator(signers []*crypto.Signer, tokens []common.Address, custody common.Address, eip712 *crypto.EIP712Signer, seed int64, lot *uint256.Int) *TxGenerator {
	g := &TxGenerator{
		signers: signers,
		assets:  append([]common.Address{exchange.Native}, tokens...),
		eip712:  eip712,
		rng:     rand.New(rand.NewSource(seed)),
		nonces:  make(map[common.Address]uint64),
		lot:     lot,
	}

	deposit := new(uint256.Int).Mul(lot, uint256.NewInt(100))
	for _, s := range signers {
		g.onboarding = append(g.onboarding, &crypto.Action{Type: string(transaction.TxDepositNative), Sender: s.Address(), Amount: deposit})
		for _, tok := range tokens {
			g.onboarding = append(g.onboarding,
				&crypto.Action{Type: string(transaction.TxApprove), Sender: s.Address(), Asset: tok, To: custody, Amount: deposit},
				&crypto.Action{Type: string(transaction.TxDepositToken), Sender: s.Address(), Asset: tok, Amount: deposit},
			)
		}
	}
	return g
}

// Next returns the next signed transaction.
func (g *TxGenerator) Next() ([]byte, error) {
	var a *crypto.Action
	if len(g.onboarding) > 0 {
		a, g.onboarding = g.onboarding[0], g.onboarding[1:]
	} else {
		a = g.randomAction()
	}
	signer := g.signerFor(a.Sender)
	if signer == nil {
		return nil, fmt.Errorf("txgen: no key for %s", a.Sender.Hex())
	}

	g.nonces[a.Sender]++
	a.Nonce = g.nonces[a.Sender]
	tx, err := transaction.Sign(g.eip712, signer, a)
	if err != nil {
		return nil, err
	}
	return tx.Serialize()
}

// GenerateBatch returns up to n signed transactions.
func (g *TxGenerator) GenerateBatch(n int) ([][]byte, error) {
	batch := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		tx, err := g.Next()
		if err != nil {
			return batch, err
		}
		batch = append(batch, tx)
	}
	return batch, nil
}

// Nonce returns the last nonce issued for addr.
func (g *TxGenerator) Nonce(addr common.Address) uint64 { return g.nonces[addr] }

func (g *TxGenerator) randomAction() *crypto.Action {
	trader := g.signers[g.rng.Intn(len(g.signers))].Address()

	// Mix: 50% make, 30% fill, 10% cancel, 10% withdraw
	r := g.rng.Intn(100)
	switch {
	case r < 50 || len(g.orders) == 0:
		return g.makeOrder(trader)
	case r < 80:
		id := uint64(g.rng.Intn(len(g.orders))) + 1
		return &crypto.Action{Type: string(transaction.TxFillOrder), Sender: trader, OrderID: id}
	case r < 90:
		id := uint64(g.rng.Intn(len(g.orders))) + 1
		return &crypto.Action{Type: string(transaction.TxCancelOrder), Sender: g.orders[id-1], OrderID: id}
	default:
		asset := g.assets[g.rng.Intn(len(g.assets))]
		if exchange.IsNative(asset) {
			return &crypto.Action{Type: string(transaction.TxWithdrawNative), Sender: trader, Amount: g.lot}
		}
		return &crypto.Action{Type: string(transaction.TxWithdrawToken), Sender: trader, Asset: asset, Amount: g.lot}
	}
}

func (g *TxGenerator) makeOrder(trader common.Address) *crypto.Action {
	get := g.assets[g.rng.Intn(len(g.assets))]
	give := g.assets[g.rng.Intn(len(g.assets))]
	if len(g.assets) > 1 {
		for give == get {
			give = g.assets[g.rng.Intn(len(g.assets))]
		}
	}
	g.orders = append(g.orders, trader)
	return &crypto.Action{
		Type:       string(transaction.TxMakeOrder),
		Sender:     trader,
		TokenGet:   get,
		AmountGet:  new(uint256.Int).Mul(g.lot, uint256.NewInt(uint64(g.rng.Intn(5)+1))),
		TokenGive:  give,
		AmountGive: new(uint256.Int).Mul(g.lot, uint256.NewInt(uint64(g.rng.Intn(5)+1))),
	}
}

func (g *TxGenerator) signerFor(addr common.Address) *crypto.Signer {
	for _, s := range g.signers {
		if s.Address() == addr {
			return s
		}
	}
	return nil
}
