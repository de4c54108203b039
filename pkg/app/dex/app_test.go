package dex

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/app/transaction"
	"github.com/uhyunpark/hyperswap/pkg/chain"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/exchange"
	"github.com/uhyunpark/hyperswap/pkg/storage"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

var (
	custody    = common.HexToAddress("0x00000000000000000000000000000000000e0c00")
	feeAccount = common.HexToAddress("0x00000000000000000000000000000000000fee00")
	tokenAddr  = common.HexToAddress("0x0000000000000000000000000000000000007070")
)

func units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e18))
}

func tenths(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e17))
}

type harness struct {
	app    *App
	eip712 *crypto.EIP712Signer
	alice  *crypto.Signer
	bob    *crypto.Signer
	nonces map[common.Address]uint64
}

func testGenesis(alice, bob common.Address) Genesis {
	return Genesis{
		Native: map[common.Address]*uint256.Int{alice: units(10), bob: units(10)},
		Tokens: []TokenGenesis{{
			Address: tokenAddr, Name: "Test Token", Symbol: "TT", Decimals: 18,
			Balances: map[common.Address]*uint256.Int{alice: units(10), bob: units(10)},
		}},
	}
}

func newApp(t *testing.T, g Genesis) *App {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bank, tokens, err := BuildGenesis(g)
	require.NoError(t, err)

	cfg := Config{ChainID: 1337, Exchange: exchange.Config{Address: custody, FeeAccount: feeAccount, FeePercent: 10}}
	app, err := NewApp(db, cfg, bank, tokens, nil, NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)
	return app
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	alice, err := crypto.GenerateKey()
	require.NoError(t, err)
	bob, err := crypto.GenerateKey()
	require.NoError(t, err)

	app := newApp(t, testGenesis(alice.Address(), bob.Address()))
	return &harness{
		app:    app,
		eip712: app.Verifier().Signer(),
		alice:  alice,
		bob:    bob,
		nonces: make(map[common.Address]uint64),
	}
}

// tx signs an action for s with the next nonce.
func (h *harness) tx(t *testing.T, s *crypto.Signer, a crypto.Action) []byte {
	t.Helper()
	h.nonces[s.Address()]++
	a.Sender = s.Address()
	a.Nonce = h.nonces[s.Address()]
	signed, err := transaction.Sign(h.eip712, s, &a)
	require.NoError(t, err)
	raw, err := signed.Serialize()
	require.NoError(t, err)
	return raw
}

func (h *harness) finalize(height int64, txs ...[]byte) abci.ResponseFinalizeBlock {
	return h.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: height, Timestamp: 1_700_000_000 + height, Txs: txs})
}

// propose pushes txs through admission and seals whatever the mempool
// proposes as block height.
func (h *harness) propose(t *testing.T, height int64, txs ...[]byte) abci.ResponseFinalizeBlock {
	t.Helper()
	for _, raw := range txs {
		_, err := h.app.PushTx(raw)
		require.NoError(t, err)
	}
	proposal := h.app.PrepareProposal(abci.RequestPrepareProposal{Height: height})
	return h.finalize(height, proposal.Txs...)
}

func balance(t *testing.T, app *App, asset, user common.Address) *uint256.Int {
	t.Helper()
	bal, err := app.Exchange().BalanceOf(asset, user)
	require.NoError(t, err)
	return bal
}

func TestFinalizeBlockSettlesTrade(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.alice.Address(), h.bob.Address()

	resp := h.finalize(1,
		h.tx(t, h.alice, crypto.Action{Type: "deposit_native", Amount: units(1)}),
		h.tx(t, h.alice, crypto.Action{Type: "make_order", TokenGet: tokenAddr, AmountGet: units(1), TokenGive: exchange.Native, AmountGive: units(1)}),
		h.tx(t, h.bob, crypto.Action{Type: "approve", Asset: tokenAddr, To: custody, Amount: units(2)}),
		h.tx(t, h.bob, crypto.Action{Type: "deposit_token", Asset: tokenAddr, Amount: units(2)}),
		h.tx(t, h.bob, crypto.Action{Type: "fill_order", OrderID: 1}),
	)
	for i, r := range resp.TxResults {
		require.Equal(t, CodeOK, r.Code, "tx %d: %s", i, r.Log)
	}
	assert.NotEqual(t, chain.Hash{}, resp.AppHash)

	assert.Equal(t, units(1), balance(t, h.app, tokenAddr, alice))
	assert.True(t, balance(t, h.app, exchange.Native, alice).IsZero())
	assert.Equal(t, units(1), balance(t, h.app, exchange.Native, bob))
	assert.Equal(t, tenths(9), balance(t, h.app, tokenAddr, bob))
	assert.Equal(t, tenths(1), balance(t, h.app, tokenAddr, feeAccount))

	ord, err := h.app.Exchange().Order(1)
	require.NoError(t, err)
	assert.True(t, ord.Filled)
	assert.Equal(t, int64(1_700_000_001), ord.Timestamp)

	height, appHash := h.app.Height()
	assert.Equal(t, int64(1), height)
	assert.Equal(t, resp.AppHash, appHash)
}

func TestFinalizeBlockResultCodes(t *testing.T) {
	h := newHarness(t)

	deposit := h.tx(t, h.alice, crypto.Action{Type: "deposit_native", Amount: units(1)})
	forged := h.tx(t, h.alice, crypto.Action{Type: "withdraw_native", Amount: units(1)})
	forgedTx, err := transaction.Deserialize(forged)
	require.NoError(t, err)
	forgedTx.Action.Sender = h.bob.Address().Hex()
	forged, err = forgedTx.Serialize()
	require.NoError(t, err)

	overdraw := h.tx(t, h.alice, crypto.Action{Type: "withdraw_native", Amount: units(5)})
	unsolicited := h.tx(t, h.alice, crypto.Action{Type: "transfer", To: custody, Amount: units(1)})
	fillMissing := h.tx(t, h.bob, crypto.Action{Type: "fill_order", OrderID: 9})

	resp := h.finalize(1, deposit, []byte("garbage"), forged, deposit, overdraw, unsolicited, fillMissing)
	codes := make([]uint32, len(resp.TxResults))
	for i, r := range resp.TxResults {
		codes[i] = r.Code
	}
	assert.Equal(t, []uint32{CodeOK, CodeMalformed, CodeBadSignature, CodeBadNonce, CodeFailed, CodeFailed, CodeFailed}, codes)
	assert.Contains(t, resp.TxResults[5].Log, exchange.ErrUnsolicitedTransfer.Error())

	// Failed operations still consume their nonce.
	nonce, err := h.app.Nonce(h.alice.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(4), nonce)
	assert.Equal(t, units(1), balance(t, h.app, exchange.Native, h.alice.Address()))
	assert.Equal(t, units(9), h.app.Bank().BalanceOf(h.alice.Address()))

	receipt, ok, err := h.app.Receipt(ethHash(overdraw))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, CodeFailed, receipt.Code)
	assert.Equal(t, int64(1), receipt.Height)
	assert.Equal(t, 4, receipt.Index)
}

func TestPushTxAdmission(t *testing.T) {
	h := newHarness(t)

	hash, err := h.app.PushTx(h.tx(t, h.alice, crypto.Action{Type: "deposit_native", Amount: units(1)}))
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, hash)

	_, err = h.app.PushTx([]byte(`{"type":"deposit_native"}`))
	require.ErrorIs(t, err, transaction.ErrMalformed)

	forged := h.tx(t, h.alice, crypto.Action{Type: "deposit_native", Amount: units(1)})
	tx, err := transaction.Deserialize(forged)
	require.NoError(t, err)
	tx.Action.Amount = "2"
	forged, err = tx.Serialize()
	require.NoError(t, err)
	_, err = h.app.PushTx(forged)
	require.ErrorIs(t, err, transaction.ErrBadSignature)

	assert.Equal(t, 1, h.app.MempoolSize())
}

// A node restarted on a fresh state store replays the chain to the same state.
func TestSequencerAndReplay(t *testing.T) {
	h := newHarness(t)
	chainDB, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer chainDB.Close()
	blocks := storage.NewBlockStore(chainDB)

	seq := chain.NewSequencer(&abci.Bridge{App: h.app}, util.NewManualClock(time.Unix(1_700_000_000, 0)))
	seq.Store = blocks

	push := func(raw []byte) {
		_, err := h.app.PushTx(raw)
		require.NoError(t, err)
	}
	// Pushed out of order: the mempool runs funding before orders.
	push(h.tx(t, h.alice, crypto.Action{Type: "deposit_native", Amount: units(2)}))
	push(h.tx(t, h.alice, crypto.Action{Type: "make_order", TokenGet: tokenAddr, AmountGet: units(1), TokenGive: exchange.Native, AmountGive: units(1)}))
	push(h.tx(t, h.bob, crypto.Action{Type: "approve", Asset: tokenAddr, To: custody, Amount: units(3)}))
	push(h.tx(t, h.bob, crypto.Action{Type: "deposit_token", Asset: tokenAddr, Amount: units(3)}))
	require.NoError(t, seq.RunN(context.Background(), 1))

	push(h.tx(t, h.bob, crypto.Action{Type: "fill_order", OrderID: 1}))
	push(h.tx(t, h.alice, crypto.Action{Type: "withdraw_native", Amount: units(1)}))
	require.NoError(t, seq.RunN(context.Background(), 2))

	tip, ok, err := blocks.GetCommitted()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, chain.Height(3), tip)
	_, want := h.app.Height()

	replayed := newApp(t, testGenesis(h.alice.Address(), h.bob.Address()))
	require.NoError(t, replayed.Replay(blocks, tip))
	height, got := replayed.Height()
	assert.Equal(t, int64(3), height)
	assert.Equal(t, want, got)
	assert.Equal(t, tenths(19), balance(t, replayed, tokenAddr, h.bob.Address()))
	assert.Equal(t, units(9), replayed.Bank().BalanceOf(h.alice.Address()))
}

// A sender's later funding tx must not overtake its earlier order tx.
func TestProposalKeepsSenderNonceOrder(t *testing.T) {
	h := newHarness(t)
	alice := h.alice.Address()

	resp := h.propose(t, 1, h.tx(t, h.alice, crypto.Action{Type: "deposit_native", Amount: units(2)}))
	require.Equal(t, CodeOK, resp.TxResults[0].Code, resp.TxResults[0].Log)

	resp = h.propose(t, 2,
		h.tx(t, h.alice, crypto.Action{Type: "make_order", TokenGet: tokenAddr, AmountGet: units(1), TokenGive: exchange.Native, AmountGive: units(1)}),
		h.tx(t, h.alice, crypto.Action{Type: "withdraw_native", Amount: units(1)}),
		h.tx(t, h.bob, crypto.Action{Type: "approve", Asset: tokenAddr, To: custody, Amount: units(1)}),
	)
	require.Len(t, resp.TxResults, 3)
	for i, r := range resp.TxResults {
		require.Equal(t, CodeOK, r.Code, "tx %d: %s", i, r.Log)
	}

	count, err := h.app.Exchange().OrderCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
	assert.Equal(t, units(1), balance(t, h.app, exchange.Native, alice))

	nonce, err := h.app.Nonce(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), nonce)
}

func TestResubmittedTxKeepsFirstReceipt(t *testing.T) {
	h := newHarness(t)
	deposit := h.tx(t, h.alice, crypto.Action{Type: "deposit_native", Amount: units(1)})

	resp := h.propose(t, 1, deposit)
	require.Equal(t, CodeOK, resp.TxResults[0].Code)

	resp = h.propose(t, 2, deposit)
	require.Equal(t, CodeBadNonce, resp.TxResults[0].Code)

	receipt, ok, err := h.app.Receipt(ethHash(deposit))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, CodeOK, receipt.Code)
	assert.Equal(t, int64(1), receipt.Height)
	assert.Equal(t, units(1), balance(t, h.app, exchange.Native, h.alice.Address()))
}

// Native and token balances held outside the exchange are part of the app
// hash, so replaying against a different genesis is caught.
func TestReplayDetectsDivergentBalances(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.alice.Address(), h.bob.Address()
	chainDB, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer chainDB.Close()
	blocks := storage.NewBlockStore(chainDB)

	seq := chain.NewSequencer(&abci.Bridge{App: h.app}, util.NewManualClock(time.Unix(1_700_000_000, 0)))
	seq.Store = blocks

	_, err = h.app.PushTx(h.tx(t, h.alice, crypto.Action{Type: "transfer", To: bob, Amount: units(3)}))
	require.NoError(t, err)
	require.NoError(t, seq.RunN(context.Background(), 1))
	assert.Equal(t, units(13), h.app.Bank().BalanceOf(bob))

	same := newApp(t, testGenesis(alice, bob))
	require.NoError(t, same.Replay(blocks, 1))
	assert.Equal(t, units(13), same.Bank().BalanceOf(bob))

	richBob := testGenesis(alice, bob)
	richBob.Native[bob] = units(5000)
	err = newApp(t, richBob).Replay(blocks, 1)
	require.ErrorIs(t, err, ErrAppHashMismatch)

	moreTokens := testGenesis(alice, bob)
	moreTokens.Tokens[0].Balances[bob] = units(11)
	err = newApp(t, moreTokens).Replay(blocks, 1)
	require.ErrorIs(t, err, ErrAppHashMismatch)
}

func TestProcessProposal(t *testing.T) {
	h := newHarness(t)
	ok := h.app.ProcessProposal(abci.RequestProcessProposal{Height: 1, Txs: [][]byte{
		h.tx(t, h.alice, crypto.Action{Type: "deposit_native", Amount: units(1)}),
	}})
	assert.True(t, ok.Accept)

	bad := h.app.ProcessProposal(abci.RequestProcessProposal{Height: 1, Txs: [][]byte{[]byte("N:1")}})
	assert.False(t, bad.Accept)
}

func ethHash(raw []byte) common.Hash { return ethcrypto.Keccak256Hash(raw) }
