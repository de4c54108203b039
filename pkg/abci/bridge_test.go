package abci

import (
	"testing"
	"time"

	"github.com/uhyunpark/hyperswap/pkg/chain"
)

func TestSplitPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    []string
	}{
		{"empty", nil, nil},
		{"single", []byte("a\x00"), []string{"a"}},
		{"no trailing delimiter", []byte("a\x00bc"), []string{"a", "bc"}},
		{"skips empty entries", []byte("\x00\x00a\x00\x00b\x00"), []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitPayload(tt.payload)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d txs, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if string(got[i]) != tt.want[i] {
					t.Errorf("tx[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestBridgeRoundTrip(t *testing.T) {
	app := NewMockApp()
	app.PushTx([]byte(`{"type":"fill_order"}`))
	app.PushTx([]byte(`{"type":"cancel_order"}`))

	b := &Bridge{App: app}
	payload := b.PreparePayload(1)

	blk := chain.Block{Height: 1, Payload: payload, Time: time.Unix(1_700_000_123, 0)}
	hash := b.OnCommit(blk)
	if hash == (chain.Hash{}) {
		t.Error("empty app hash")
	}

	fin := app.Finalized()
	if len(fin) != 1 {
		t.Fatalf("finalized %d blocks, want 1", len(fin))
	}
	if fin[0].Timestamp != 1_700_000_123 {
		t.Errorf("timestamp = %d", fin[0].Timestamp)
	}
	// Cancels are proposed before fills.
	if string(fin[0].Txs[0]) != `{"type":"cancel_order"}` {
		t.Errorf("first tx = %s", fin[0].Txs[0])
	}
}
