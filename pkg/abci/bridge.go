package abci

import (
	"sync"

	"github.com/uhyunpark/hyperswap/pkg/app/mempool"
	"github.com/uhyunpark/hyperswap/pkg/chain"
)

type RequestPrepareProposal struct{ Height, MaxTxBytes int64 }
type ResponsePrepareProposal struct{ Txs [][]byte }
type RequestProcessProposal struct {
	Height int64
	Txs    [][]byte
}
type ResponseProcessProposal struct{ Accept bool }
type RequestFinalizeBlock struct {
	Height    int64
	Timestamp int64 // Unix timestamp in seconds
	Txs       [][]byte
}

// TxResult reports the outcome of one transaction. Code 0 means success.
type TxResult struct {
	Code uint32
	Log  string
}

type ResponseFinalizeBlock struct {
	TxResults []TxResult
	Events    []string
	AppHash   chain.Hash // Hash of application state after execution
}

type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	FinalizeBlock(RequestFinalizeBlock) ResponseFinalizeBlock
}

// Bridge adapts an Application to the sequencer's AppHook.
type Bridge struct {
	App        Application
	MaxTxBytes int64
}

func (b *Bridge) PreparePayload(next chain.Height) []byte {
	maxBytes := b.MaxTxBytes
	if maxBytes == 0 {
		maxBytes = 1 << 24
	}
	resp := b.App.PrepareProposal(RequestPrepareProposal{Height: int64(next), MaxTxBytes: maxBytes})
	// naive payload: concat with 0x00 delimiter (txs are JSON, never contain 0x00)

	var payload []byte

	for _, tx := range resp.Txs {
		payload = append(payload, tx...)
		payload = append(payload, 0x00)
	}
	return payload
}

func (b *Bridge) OnCommit(committed chain.Block) chain.Hash {
	txs := SplitPayload(committed.Payload)
	resp := b.App.FinalizeBlock(RequestFinalizeBlock{
		Height:    int64(committed.Height),
		Timestamp: committed.Time.Unix(),
		Txs:       txs,
	})
	return resp.AppHash
}

var _ chain.AppHook = (*Bridge)(nil)

func SplitPayload(p []byte) [][]byte {
	var out [][]byte
	cur := make([]byte, 0, len(p))
	for _, b := range p {
		if b == 0x00 {
			if len(cur) > 0 {
				out = append(out, append([]byte(nil), cur...))
				cur = cur[:0]
			}
			continue
		}
		cur = append(cur, b)
	}
	if len(cur) > 0 {
		out = append(out, append([]byte(nil), cur...))
	}
	return out
}

// --- MockApp: records what it was asked to finalize ---
type MockApp struct {
	mu        sync.Mutex
	mempool   *mempool.Mempool
	commits   int
	finalized []RequestFinalizeBlock
}

func NewMockApp() *MockApp { return &MockApp{mempool: mempool.NewMempool()} }

func (m *MockApp) PushTx(b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mempool.PushRaw(b)
}

func (m *MockApp) PrepareProposal(req RequestPrepareProposal) ResponsePrepareProposal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ResponsePrepareProposal{Txs: m.mempool.SelectForProposal(req.MaxTxBytes)}
}

func (m *MockApp) ProcessProposal(_ RequestProcessProposal) ResponseProcessProposal {
	return ResponseProcessProposal{Accept: true}
}

func (m *MockApp) FinalizeBlock(req RequestFinalizeBlock) ResponseFinalizeBlock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits++
	m.finalized = append(m.finalized, req)

	// deterministic for tests: height + tx count
	var appHash chain.Hash
	for i := 0; i < 8; i++ {
		appHash[i] = byte(req.Height >> (56 - 8*i))
	}
	appHash[8] = byte(len(req.Txs))

	return ResponseFinalizeBlock{
		Events:  []string{"commit"},
		AppHash: appHash,
	}
}

func (m *MockApp) CommitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// Finalized returns every FinalizeBlock request seen so far.
func (m *MockApp) Finalized() []RequestFinalizeBlock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RequestFinalizeBlock(nil), m.finalized...)
}
