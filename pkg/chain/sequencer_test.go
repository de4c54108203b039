package chain_test

import (
	"context"
	"testing"
	"time"

	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/chain"
	"github.com/uhyunpark/hyperswap/pkg/storage"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

// walRecorder collects WAL lines.
type walRecorder struct{ lines []string }

func (w *walRecorder) Append(line string) { w.lines = append(w.lines, line) }

// backwardsClock steps back one second on every read.
type backwardsClock struct{ t time.Time }

func (c *backwardsClock) Now() time.Time {
	c.t = c.t.Add(-time.Second)
	return c.t
}
func (c *backwardsClock) After(d time.Duration) <-chan time.Time { return time.After(0) }

func TestSequencerCommitsInOrder(t *testing.T) {
	app := abci.NewMockApp()
	store := storage.NewInMemoryBlockStore()
	wal := &walRecorder{}

	seq := chain.NewSequencer(&abci.Bridge{App: app}, util.NewManualClock(time.Unix(1_700_000_000, 0)))
	seq.Store = store
	seq.WAL = wal

	var committed []chain.Height
	seq.OnBlockCommit = func(b chain.Block) { committed = append(committed, b.Height) }

	app.PushTx([]byte(`{"type":"deposit_native"}`))
	app.PushTx([]byte(`{"type":"fill_order"}`))

	if err := seq.RunN(context.Background(), 3); err != nil {
		t.Fatalf("run: %v", err)
	}

	if seq.Height() != 3 {
		t.Fatalf("height = %d, want 3", seq.Height())
	}
	if len(committed) != 3 || committed[0] != 1 || committed[2] != 3 {
		t.Fatalf("committed = %v", committed)
	}
	if app.CommitCount() != 3 {
		t.Errorf("app commits = %d, want 3", app.CommitCount())
	}

	finalized := app.Finalized()
	if len(finalized[0].Txs) != 2 || len(finalized[1].Txs) != 0 {
		t.Errorf("txs per block = %d,%d, want 2,0", len(finalized[0].Txs), len(finalized[1].Txs))
	}

	b1, _, _ := store.GetBlock(1)
	b2, _, _ := store.GetBlock(2)
	if b2.Parent != chain.HashOfBlock(b1) {
		t.Error("block 2 does not link to block 1")
	}
	if b1.AppHash == (chain.Hash{}) {
		t.Error("app hash not recorded")
	}
	if len(wal.lines) != 6 {
		t.Errorf("wal lines = %d, want 6", len(wal.lines))
	}
}

func TestSequencerResume(t *testing.T) {
	store := storage.NewInMemoryBlockStore()
	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))

	first := chain.NewSequencer(&abci.Bridge{App: abci.NewMockApp()}, clock)
	first.Store = store
	if err := first.RunN(context.Background(), 2); err != nil {
		t.Fatalf("run: %v", err)
	}
	tip, _, _ := store.GetBlock(2)

	second := chain.NewSequencer(&abci.Bridge{App: abci.NewMockApp()}, clock)
	second.Store = store
	if err := second.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if second.Height() != 2 {
		t.Fatalf("resumed height = %d, want 2", second.Height())
	}

	blk, err := second.Step()
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if blk.Height != 3 || blk.Parent != chain.HashOfBlock(tip) {
		t.Errorf("block 3 = height %d parent %s", blk.Height, blk.Parent)
	}
}

func TestSequencerTimeNeverDecreases(t *testing.T) {
	seq := chain.NewSequencer(&abci.Bridge{App: abci.NewMockApp()}, &backwardsClock{t: time.Unix(1_700_000_000, 0)})

	var last time.Time
	for i := 0; i < 3; i++ {
		blk, err := seq.Step()
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if blk.Time.Before(last) {
			t.Fatalf("block %d time %v before %v", blk.Height, blk.Time, last)
		}
		last = blk.Time
	}
}

func TestSequencerRunStopsOnCancel(t *testing.T) {
	seq := chain.NewSequencer(&abci.Bridge{App: abci.NewMockApp()}, util.RealClock{})
	seq.MinBlockTime = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := seq.Run(ctx); err != context.DeadlineExceeded {
		t.Fatalf("run returned %v, want deadline exceeded", err)
	}
	if seq.Height() == 0 {
		t.Error("no blocks produced")
	}
}
