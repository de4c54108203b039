package exchange

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/hyperswap/pkg/storage"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

// Config is fixed when the exchange is first opened on a store.
type Config struct {
	Address    common.Address `json:"address"`    // custody account holding all deposits
	FeeAccount common.Address `json:"feeAccount"` // receives every trade fee
	FeePercent uint64         `json:"feePercent"` // 0..100, charged on amountGet
}

func (c Config) Validate() error {
	if c.Address == (common.Address{}) {
		return fmt.Errorf("%w: custody address is zero", ErrInvalidConfig)
	}
	if c.FeePercent > 100 {
		return fmt.Errorf("%w: fee percent %d > 100", ErrInvalidConfig, c.FeePercent)
	}
	return nil
}

// Exchange is the settlement core: balance ledger, order registry and
// settlement engine over one Pebble store.
//
// It is a single-writer state machine. Each write operation runs in its own
// storage transaction and holds a guard for its whole duration, including
// calls out to the token and native-currency collaborators. A write that
// arrives while another is in flight (a collaborator calling back in, or a
// concurrent caller) fails with ErrReentrantCall. Reads never take the guard
// and only observe committed state.
type Exchange struct {
	cfg    Config
	db     *storage.DB
	native Bank
	tokens TokenLookup

	Clock   util.Clock
	Logger  *zap.Logger
	Metrics *Metrics // optional

	busy atomic.Bool

	sinksMu sync.RWMutex
	sinks   []EventSink
}

// New opens the exchange on db. The config is persisted on first use;
// reopening with a different config fails with ErrConfigMismatch.
func New(db *storage.DB, cfg Config, native Bank, tokens TokenLookup) (*Exchange, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if native == nil {
		return nil, fmt.Errorf("%w: native bank is nil", ErrInvalidConfig)
	}
	if tokens == nil {
		tokens = func(common.Address) (Token, bool) { return nil, false }
	}

	raw, ok, err := db.Get(keyConfig)
	if err != nil {
		return nil, fmt.Errorf("load exchange config: %w", err)
	}
	if ok {
		var stored Config
		if err := json.Unmarshal(raw, &stored); err != nil {
			return nil, fmt.Errorf("decode exchange config: %w", err)
		}
		if stored != cfg {
			return nil, fmt.Errorf("%w: stored fee account %s at %d%%, custody %s",
				ErrConfigMismatch, stored.FeeAccount.Hex(), stored.FeePercent, stored.Address.Hex())
		}
	} else {
		raw, err := json.Marshal(cfg)
		if err != nil {
			return nil, err
		}
		if err := db.Set(keyConfig, raw); err != nil {
			return nil, fmt.Errorf("store exchange config: %w", err)
		}
	}

	return &Exchange{
		cfg:    cfg,
		db:     db,
		native: native,
		tokens: tokens,
		Clock:  util.RealClock{},
		Logger: zap.NewNop(),
	}, nil
}

func (ex *Exchange) Address() common.Address    { return ex.cfg.Address }
func (ex *Exchange) FeeAccount() common.Address { return ex.cfg.FeeAccount }
func (ex *Exchange) FeePercent() uint64         { return ex.cfg.FeePercent }
func (ex *Exchange) Config() Config             { return ex.cfg }

// Subscribe registers sink for every committed event. The returned func removes it.
func (ex *Exchange) Subscribe(sink EventSink) (unsubscribe func()) {
	ex.sinksMu.Lock()
	defer ex.sinksMu.Unlock()
	ex.sinks = append(ex.sinks, sink)
	idx := len(ex.sinks) - 1
	return func() {
		ex.sinksMu.Lock()
		defer ex.sinksMu.Unlock()
		if idx < len(ex.sinks) {
			ex.sinks[idx] = nil
		}
	}
}

// Receive is the entry point for native currency sent straight to the
// custody address. Only DepositNative credits the ledger, so it always fails.
func (ex *Exchange) Receive(from common.Address, amount *uint256.Int) error {
	err := fmt.Errorf("%w: %s from %s", ErrUnsolicitedTransfer, formatAmount(amount), from.Hex())
	ex.Metrics.observe("receive", err)
	return err
}

// Holdings returns the sum of all ledger entries for asset.
func (ex *Exchange) Holdings(asset common.Address) (*uint256.Int, error) {
	total := new(uint256.Int)
	err := ex.db.Iterate(balancePrefix(asset), func(_, v []byte) error {
		total.Add(total, new(uint256.Int).SetBytes(v))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sum holdings of %s: %w", asset.Hex(), err)
	}
	return total, nil
}

// Events returns up to limit audit-log events with Seq >= from.
func (ex *Exchange) Events(from uint64, limit int) ([]Event, error) {
	var out []Event
	err := ex.db.IterateFrom([]byte(prefixEvent), eventKey(from), func(_, v []byte) error {
		if limit > 0 && len(out) >= limit {
			return storage.ErrStopIteration
		}
		var ev Event
		if err := json.Unmarshal(v, &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}

// LastEventSeq returns the sequence number of the newest event (0 if none).
func (ex *Exchange) LastEventSeq() (uint64, error) {
	return readCounter(ex.db.Get(keyEventSeq))
}

// StateRoot is a Keccak-256 digest over every key the exchange has committed.
// Equal roots mean equal ledgers, order books and audit logs.
func (ex *Exchange) StateRoot() (common.Hash, error) {
	h := sha3.NewLegacyKeccak256()
	var lenBuf [4]byte
	write := func(b []byte) {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
		h.Write(lenBuf[:])
		h.Write(b)
	}
	for _, p := range statePrefixes {
		err := ex.db.Iterate([]byte(p), func(k, v []byte) error {
			write(k)
			write(v)
			return nil
		})
		if err != nil {
			return common.Hash{}, fmt.Errorf("state root: %w", err)
		}
	}
	var root common.Hash
	h.Sum(root[:0])
	return root, nil
}

// enter acquires the write guard. The returned func releases it.
func (ex *Exchange) enter() (func(), error) {
	if !ex.busy.CompareAndSwap(false, true) {
		return nil, ErrReentrantCall
	}
	return func() { ex.busy.Store(false) }, nil
}

// execute runs fn as one atomic write operation: everything fn stages is
// committed together, or discarded if fn (or the commit) fails. Events are
// published after the guard is released.
func (ex *Exchange) execute(name string, fn func(o *op) error) error {
	release, err := ex.enter()
	if err != nil {
		ex.Metrics.observe(name, err)
		return err
	}

	events, err := func() ([]Event, error) {
		defer release()
		return ex.run(name, fn)
	}()
	ex.Metrics.observe(name, err)
	if err != nil {
		ex.Logger.Debug("op_failed", zap.String("op", name), zap.Error(err))
		return err
	}

	ex.publish(events)
	return nil
}

func (ex *Exchange) run(name string, fn func(o *op) error) ([]Event, error) {
	o := &op{ex: ex, txn: ex.db.NewTxn(), now: ex.Clock.Now().Unix()}
	defer o.txn.Discard()

	if err := fn(o); err != nil {
		return nil, err
	}
	if err := o.txn.Commit(); err != nil {
		ex.Logger.Error("commit_failed", zap.String("op", name), zap.Error(err))
		return nil, fmt.Errorf("%s: commit: %w", name, err)
	}
	return o.events, nil
}

func (ex *Exchange) publish(events []Event) {
	if len(events) == 0 {
		return
	}
	ex.sinksMu.RLock()
	sinks := append([]EventSink(nil), ex.sinks...)
	ex.sinksMu.RUnlock()

	for _, ev := range events {
		ex.Logger.Debug("event", zap.String("kind", string(ev.Kind)), zap.Uint64("seq", ev.Seq))
		for _, sink := range sinks {
			if sink != nil {
				sink(ev)
			}
		}
	}
}

// op is the state of one in-flight write operation.
type op struct {
	ex     *Exchange
	txn    *storage.Txn
	now    int64
	events []Event
}

func (o *op) counter(key []byte) (uint64, error) {
	return readCounter(o.txn.Get(key))
}

func (o *op) setCounter(key []byte, v uint64) error {
	return o.txn.Set(key, storage.EncodeUint64(v))
}

// emit appends ev to the audit log inside the operation's transaction.
func (o *op) emit(ev Event) error {
	seq, err := o.counter(keyEventSeq)
	if err != nil {
		return err
	}
	seq++
	ev.Seq = seq
	if ev.Timestamp == 0 {
		ev.Timestamp = o.now
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := o.txn.Set(eventKey(seq), raw); err != nil {
		return err
	}
	if err := o.setCounter(keyEventSeq, seq); err != nil {
		return err
	}
	o.events = append(o.events, ev)
	return nil
}

func readCounter(raw []byte, ok bool, err error) (uint64, error) {
	if err != nil || !ok {
		return 0, err
	}
	return storage.DecodeUint64(raw), nil
}
