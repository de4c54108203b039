package mempool

import (
	"encoding/json"
	"errors"
	"sync"
)

// TxType classifies transactions into ordering buckets.
type TxType int

const (
	TxFunding TxType = iota // deposits, withdrawals, transfers, approvals
	TxCancel
	TxOrder // make_order and fill_order
)

var ErrFull = errors.New("mempool full")

// ClassifyRaw classifies a raw transaction by parsing its JSON envelope.
//
//	{"type": "deposit_token", ...} -> TxFunding
//	{"type": "cancel_order", ...}  -> TxCancel
//	{"type": "fill_order", ...}    -> TxOrder
//
// Malformed or unknown transactions go to the order bucket; they are
// rejected at execution time.
func ClassifyRaw(b []byte) TxType {
	if len(b) == 0 || b[0] != '{' {
		return TxOrder
	}

	var txEnvelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &txEnvelope); err != nil {
		return TxOrder
	}

	switch txEnvelope.Type {
	case "deposit_native", "withdraw_native", "deposit_token", "withdraw_token", "transfer", "approve":
		return TxFunding
	case "cancel_order":
		return TxCancel
	default:
		return TxOrder
	}
}

// Mempool maintains three queues:
// (1) Funding, (2) Cancel, (3) Orders (make/fill).
// Within each bucket, FIFO by admission order. Funding runs first so a
// deposit and a fill proposed together settle against the new balance, and
// cancels run before fills so an owner's cancel wins a same-block race.
//
// Bucketing only ever moves a tx ahead of other senders' txs. A sender's tx
// never lands in an earlier bucket than one of its own still pending, so each
// sender's txs leave the mempool in admission (and so nonce) order.
type Mempool struct {
	mu         sync.Mutex
	funding    []entry
	cancel     []entry
	orders     []entry
	senders    map[string]*senderQueue
	maxPending int
}

type entry struct {
	sender string
	tx     []byte
}

// senderQueue tracks one sender's pending txs: how many, and the latest
// bucket any of them went into.
type senderQueue struct {
	pending int
	bucket  TxType
}

func NewMempool() *Mempool {
	return &Mempool{senders: make(map[string]*senderQueue)}
}

// NewBoundedMempool rejects pushes once maxPending txs are queued.
func NewBoundedMempool(maxPending int) *Mempool {
	m := NewMempool()
	m.maxPending = maxPending
	return m
}

// PushRaw classifies and enqueues a tx with no sender ordering constraint.
func (m *Mempool) PushRaw(b []byte) error {
	return m.Push("", b)
}

// Push classifies and enqueues a tx signed by sender. An empty sender
// opts out of per-sender ordering.
func (m *Mempool) Push(sender string, b []byte) error {
	e := entry{sender: sender, tx: append([]byte(nil), b...)}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxPending > 0 && m.lenLocked() >= m.maxPending {
		return ErrFull
	}

	bucket := ClassifyRaw(b)
	if sender != "" {
		q, ok := m.senders[sender]
		if !ok {
			q = &senderQueue{}
			m.senders[sender] = q
		}
		if q.pending > 0 && q.bucket > bucket {
			bucket = q.bucket
		}
		q.bucket = bucket
		q.pending++
	}

	switch bucket {
	case TxFunding:
		m.funding = append(m.funding, e)
	case TxCancel:
		m.cancel = append(m.cancel, e)
	default:
		m.orders = append(m.orders, e)
	}
	return nil
}

// SelectForProposal returns up to maxBytes worth of txs in bucket order,
// removing selected txs from the mempool. Selection stops at the first tx
// that does not fit, so what is left keeps its relative order.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64

	full := false
	pull := func(q *[]entry) {
		for !full && len(*q) > 0 {
			e := (*q)[0]
			n := int64(len(e.tx))
			if maxBytes > 0 && used+n > maxBytes {
				full = true
				return
			}
			out = append(out, e.tx)
			used += n
			*q = (*q)[1:]
			m.release(e.sender)
		}
	}

	pull(&m.funding)
	pull(&m.cancel)
	pull(&m.orders)

	return out
}

func (m *Mempool) release(sender string) {
	if sender == "" {
		return
	}
	if q, ok := m.senders[sender]; ok {
		if q.pending--; q.pending <= 0 {
			delete(m.senders, sender)
		}
	}
}

// Len returns total pending txs.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lenLocked()
}

func (m *Mempool) lenLocked() int {
	return len(m.funding) + len(m.cancel) + len(m.orders)
}
