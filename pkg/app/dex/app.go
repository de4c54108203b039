package dex

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/app/mempool"
	"github.com/uhyunpark/hyperswap/pkg/app/transaction"
	"github.com/uhyunpark/hyperswap/pkg/chain"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/exchange"
	"github.com/uhyunpark/hyperswap/pkg/storage"
	"github.com/uhyunpark/hyperswap/pkg/token"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

// Result codes reported per transaction.
const (
	CodeOK uint32 = iota
	CodeMalformed
	CodeBadSignature
	CodeBadNonce
	CodeFailed // verified and nonce consumed, but the operation itself failed
)

func codeName(code uint32) string {
	switch code {
	case CodeOK:
		return "ok"
	case CodeMalformed:
		return "malformed"
	case CodeBadSignature:
		return "bad_signature"
	case CodeBadNonce:
		return "bad_nonce"
	default:
		return "failed"
	}
}

var (
	ErrNonceTooLow     = errors.New("nonce too low")
	ErrAppHashMismatch = errors.New("app hash mismatch")
)

// Pebble keys owned by the application.
//
//	nonce:{address} → uint64 (last used nonce)
//	txr:{hash}      → TxReceipt (JSON)
const (
	prefixNonce   = "nonce:"
	prefixReceipt = "txr:"
)

func nonceKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixNonce, addr.Hex()))
}

func receiptKey(hash common.Hash) []byte {
	return []byte(prefixReceipt + hash.Hex())
}

type Config struct {
	ChainID    int64
	Exchange   exchange.Config
	MaxPending int // mempool bound, 0 = unbounded
}

// TxReceipt records where and how a transaction was executed.
type TxReceipt struct {
	Hash   common.Hash `json:"hash"`
	Height int64       `json:"height"`
	Index  int         `json:"index"`
	Type   string      `json:"type"`
	Sender string      `json:"sender,omitempty"`
	Code   uint32      `json:"code"`
	Log    string      `json:"log,omitempty"`
}

// App is the replicated exchange application. The ordering substrate hands it
// blocks through abci; it applies their transactions one by one to the
// exchange, which gives every operation a single global position.
type App struct {
	mu sync.Mutex

	chainID  int64
	db       *storage.DB
	ex       *exchange.Exchange
	bank     *token.Token
	tokens   *token.Registry
	mempool  *mempool.Mempool
	verifier *transaction.Verifier
	clock    *util.ManualClock

	logger  *zap.SugaredLogger
	metrics *Metrics

	height  int64
	appHash chain.Hash
}

// NewApp opens the exchange on db with the given collaborators.
func NewApp(db *storage.DB, cfg Config, bank *token.Token, tokens *token.Registry, logger *zap.Logger, metrics *Metrics) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	lookup := func(addr common.Address) (exchange.Token, bool) {
		t, ok := tokens.Get(addr)
		if !ok {
			return nil, false
		}
		return t, true
	}

	ex, err := exchange.New(db, cfg.Exchange, bank, lookup)
	if err != nil {
		return nil, fmt.Errorf("open exchange: %w", err)
	}
	clock := util.NewManualClock(time.Unix(0, 0))
	ex.Clock = clock
	ex.Logger = logger.Named("exchange")

	mp := mempool.NewMempool()
	if cfg.MaxPending > 0 {
		mp = mempool.NewBoundedMempool(cfg.MaxPending)
	}

	return &App{
		chainID:  cfg.ChainID,
		db:       db,
		ex:       ex,
		bank:     bank,
		tokens:   tokens,
		mempool:  mp,
		verifier: transaction.NewVerifier(crypto.NewDomain(cfg.ChainID, cfg.Exchange.Address)),
		clock:    clock,
		logger:   logger.Named("app").Sugar(),
		metrics:  metrics,
	}, nil
}

func (a *App) ChainID() int64                  { return a.chainID }
func (a *App) Exchange() *exchange.Exchange    { return a.ex }
func (a *App) Bank() *token.Token              { return a.bank }
func (a *App) Tokens() *token.Registry         { return a.tokens }
func (a *App) Verifier() *transaction.Verifier { return a.verifier }
func (a *App) MempoolSize() int                { return a.mempool.Len() }

// Height returns the last finalized height and its app hash.
func (a *App) Height() (int64, chain.Hash) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.height, a.appHash
}

// PushTx admits a transaction to the mempool after checking its shape and
// signature. Nonces and balances are only checked at execution, so a
// sender's txs are kept in the order they were pushed.
func (a *App) PushTx(raw []byte) (common.Hash, error) {
	hash := ethcrypto.Keccak256Hash(raw)
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		a.metrics.reject("malformed")
		return hash, err
	}
	action, err := a.verifier.Verify(tx)
	if err != nil {
		a.metrics.reject("bad_signature")
		return hash, err
	}
	if err := a.mempool.Push(action.Sender.Hex(), raw); err != nil {
		a.metrics.reject("mempool_full")
		return hash, err
	}
	a.metrics.admitted(a.mempool.Len())
	return hash, nil
}

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	return abci.ResponsePrepareProposal{Txs: a.mempool.SelectForProposal(req.MaxTxBytes)}
}

// ProcessProposal accepts a block only if every transaction is well formed.
func (a *App) ProcessProposal(req abci.RequestProcessProposal) abci.ResponseProcessProposal {
	for _, raw := range req.Txs {
		if _, err := transaction.ParseTransaction(raw); err != nil {
			a.logger.Warnw("proposal_rejected", "height", req.Height, "err", err)
			return abci.ResponseProcessProposal{Accept: false}
		}
	}
	return abci.ResponseProcessProposal{Accept: true}
}

// FinalizeBlock applies the block's transactions in order. Every operation
// observes the block timestamp as the current time.
func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) abci.ResponseFinalizeBlock {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.clock.Set(time.Unix(req.Timestamp, 0))

	results := make([]abci.TxResult, len(req.Txs))
	var events []string
	failed := 0
	for i, raw := range req.Txs {
		receipt := a.deliverTx(raw)
		receipt.Height = req.Height
		receipt.Index = i
		results[i] = abci.TxResult{Code: receipt.Code, Log: receipt.Log}
		if receipt.Code != CodeOK {
			failed++
		} else {
			events = append(events, receipt.Type)
		}
		a.metrics.tx(receipt.Type, receipt.Code)
		a.saveReceipt(receipt)
	}

	appHash, err := a.computeAppHash()
	if err != nil {
		// Storage failure: the node cannot agree on state any more.
		a.logger.Errorw("app_hash_failed", "height", req.Height, "err", err)
	}
	a.height = req.Height
	a.appHash = appHash
	a.metrics.block(req.Height, a.mempool.Len())

	if len(req.Txs) > 0 {
		a.logger.Infow("finalize_block", "height", req.Height, "txs", len(req.Txs), "failed", failed,
			"apphash", fmt.Sprintf("0x%x", appHash[:]))
	}

	return abci.ResponseFinalizeBlock{
		TxResults: results,
		Events:    events,
		AppHash:   appHash,
	}
}

// deliverTx verifies, consumes the nonce and executes one transaction.
func (a *App) deliverTx(raw []byte) TxReceipt {
	receipt := TxReceipt{Hash: ethcrypto.Keccak256Hash(raw)}

	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		receipt.Type, receipt.Code, receipt.Log = "unknown", CodeMalformed, err.Error()
		return receipt
	}
	receipt.Type = string(tx.Type)

	action, err := a.verifier.Verify(tx)
	if err != nil {
		receipt.Code, receipt.Log = CodeBadSignature, err.Error()
		return receipt
	}
	receipt.Sender = action.Sender.Hex()

	if err := a.useNonce(action.Sender, action.Nonce); err != nil {
		receipt.Code, receipt.Log = CodeBadNonce, err.Error()
		return receipt
	}

	if err := a.execute(action); err != nil {
		a.logger.Debugw("tx_failed", "type", action.Type, "sender", receipt.Sender, "err", err)
		receipt.Code, receipt.Log = CodeFailed, err.Error()
		return receipt
	}
	return receipt
}

func (a *App) execute(act *crypto.Action) error {
	switch transaction.TxType(act.Type) {
	case transaction.TxDepositNative:
		return a.ex.DepositNative(act.Sender, act.Amount)
	case transaction.TxWithdrawNative:
		return a.ex.WithdrawNative(act.Sender, act.Amount)
	case transaction.TxDepositToken:
		return a.ex.DepositToken(act.Asset, act.Sender, act.Amount)
	case transaction.TxWithdrawToken:
		return a.ex.WithdrawToken(act.Asset, act.Sender, act.Amount)
	case transaction.TxMakeOrder:
		_, err := a.ex.MakeOrder(act.Sender, act.TokenGet, act.AmountGet, act.TokenGive, act.AmountGive)
		return err
	case transaction.TxCancelOrder:
		_, err := a.ex.CancelOrder(act.Sender, act.OrderID)
		return err
	case transaction.TxFillOrder:
		_, err := a.ex.FillOrder(act.Sender, act.OrderID)
		return err
	case transaction.TxTransfer:
		// Value sent straight to the exchange goes through its receive hook.
		if act.To == a.ex.Address() {
			return a.ex.Receive(act.Sender, act.Amount)
		}
		return a.bank.Transfer(act.Sender, act.To, act.Amount)
	case transaction.TxApprove:
		tok, ok := a.tokens.Get(act.Asset)
		if !ok {
			return fmt.Errorf("unknown token %s", act.Asset.Hex())
		}
		return tok.Approve(act.Sender, act.To, act.Amount)
	default:
		return fmt.Errorf("unsupported transaction type: %s", act.Type)
	}
}

// Nonce returns the last nonce used by addr (0 if none).
func (a *App) Nonce(addr common.Address) (uint64, error) {
	raw, ok, err := a.db.Get(nonceKey(addr))
	if err != nil || !ok {
		return 0, err
	}
	return storage.DecodeUint64(raw), nil
}

// useNonce requires nonce to be above the last used one and records it.
func (a *App) useNonce(addr common.Address, nonce uint64) error {
	last, err := a.Nonce(addr)
	if err != nil {
		return err
	}
	if nonce <= last {
		return fmt.Errorf("%w: got %d, last used %d", ErrNonceTooLow, nonce, last)
	}
	return a.db.Set(nonceKey(addr), storage.EncodeUint64(nonce))
}

// saveReceipt stores r unless the hash already has a receipt. The first
// execution of a tx is the one that counts; a resubmitted copy can only fail
// its nonce check.
func (a *App) saveReceipt(r TxReceipt) {
	_, exists, err := a.db.Get(receiptKey(r.Hash))
	if err != nil {
		a.logger.Errorw("save_receipt_failed", "hash", r.Hash.Hex(), "err", err)
		return
	}
	if exists {
		a.logger.Debugw("receipt_exists", "hash", r.Hash.Hex(), "height", r.Height, "code", codeName(r.Code))
		return
	}
	raw, err := json.Marshal(r)
	if err == nil {
		err = a.db.Set(receiptKey(r.Hash), raw)
	}
	if err != nil {
		a.logger.Errorw("save_receipt_failed", "hash", r.Hash.Hex(), "err", err)
	}
}

// Receipt returns the execution receipt of a transaction by hash.
func (a *App) Receipt(hash common.Hash) (TxReceipt, bool, error) {
	raw, ok, err := a.db.Get(receiptKey(hash))
	if err != nil || !ok {
		return TxReceipt{}, false, err
	}
	var r TxReceipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return TxReceipt{}, false, fmt.Errorf("decode receipt: %w", err)
	}
	return r, true, nil
}

// computeAppHash commits to the exchange state, the native bank, every
// registered token and the nonce table.
func (a *App) computeAppHash() (chain.Hash, error) {
	root, err := a.ex.StateRoot()
	if err != nil {
		return chain.Hash{}, err
	}

	h := sha3.NewLegacyKeccak256()
	h.Write(root[:])
	bank := a.bank.Digest()
	h.Write(bank[:])
	for _, t := range a.tokens.List() {
		d := t.Digest()
		h.Write(d[:])
	}
	var lenBuf [4]byte
	err = a.db.Iterate([]byte(prefixNonce), func(k, v []byte) error {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(k)))
		h.Write(lenBuf[:])
		h.Write(k)
		h.Write(v)
		return nil
	})
	if err != nil {
		return chain.Hash{}, err
	}

	var out chain.Hash
	h.Sum(out[:0])
	return out, nil
}

// Replay re-executes committed blocks 1..tip from store and checks each
// resulting app hash against the recorded one.
func (a *App) Replay(store chain.BlockStore, tip chain.Height) error {
	for h := chain.Height(1); h <= tip; h++ {
		blk, ok, err := store.GetBlock(h)
		if err != nil {
			return fmt.Errorf("replay: load block %d: %w", h, err)
		}
		if !ok {
			return fmt.Errorf("replay: block %d missing", h)
		}
		resp := a.FinalizeBlock(abci.RequestFinalizeBlock{
			Height:    int64(blk.Height),
			Timestamp: blk.Time.Unix(),
			Txs:       abci.SplitPayload(blk.Payload),
		})
		if resp.AppHash != blk.AppHash {
			return fmt.Errorf("replay: %w at height %d: got %s, recorded %s", ErrAppHashMismatch, h, resp.AppHash, blk.AppHash)
		}
	}
	if tip > 0 {
		a.logger.Infow("replay_complete", "height", tip)
	}
	return nil
}

var _ abci.Application = (*App)(nil)
