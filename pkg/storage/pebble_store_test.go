package storage

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/uhyunpark/hyperswap/pkg/chain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTxnCommitAndDiscard(t *testing.T) {
	db := openTestDB(t)

	txn := db.NewTxn()
	if err := txn.Set([]byte("bal:a"), []byte{1}); err != nil {
		t.Fatalf("set: %v", err)
	}

	// Staged writes are visible inside the txn only.
	if v, ok, _ := txn.Get([]byte("bal:a")); !ok || !bytes.Equal(v, []byte{1}) {
		t.Fatalf("txn read = %v,%v, want [1],true", v, ok)
	}
	if _, ok, _ := db.Get([]byte("bal:a")); ok {
		t.Fatal("uncommitted write visible to db reads")
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := txn.Commit(); err == nil {
		t.Fatal("second commit should fail")
	}
	txn.Discard() // no-op after commit

	if v, ok, _ := db.Get([]byte("bal:a")); !ok || !bytes.Equal(v, []byte{1}) {
		t.Fatalf("db read = %v,%v, want [1],true", v, ok)
	}

	txn = db.NewTxn()
	txn.Set([]byte("bal:b"), []byte{2})
	txn.Delete([]byte("bal:a"))
	txn.Discard()

	if _, ok, _ := db.Get([]byte("bal:b")); ok {
		t.Error("discarded write persisted")
	}
	if _, ok, _ := db.Get([]byte("bal:a")); !ok {
		t.Error("discarded delete persisted")
	}
}

func TestIterate(t *testing.T) {
	db := openTestDB(t)
	for i := uint64(1); i <= 5; i++ {
		db.Set(Uint64Key("evt:", i), []byte(fmt.Sprint(i)))
	}
	db.Set([]byte("evu"), []byte("outside"))
	db.Set([]byte("ev"), []byte("outside"))

	var got []string
	err := db.Iterate([]byte("evt:"), func(_, v []byte) error {
		got = append(got, string(v))
		return nil
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if fmt.Sprint(got) != "[1 2 3 4 5]" {
		t.Errorf("iterate = %v", got)
	}

	got = nil
	err = db.IterateFrom([]byte("evt:"), Uint64Key("evt:", 3), func(_, v []byte) error {
		if len(got) == 2 {
			return ErrStopIteration
		}
		got = append(got, string(v))
		return nil
	})
	if err != nil {
		t.Fatalf("iterate from: %v", err)
	}
	if fmt.Sprint(got) != "[3 4]" {
		t.Errorf("iterate from = %v", got)
	}
}

func TestKeyUpperBound(t *testing.T) {
	tests := []struct {
		prefix []byte
		want   []byte
	}{
		{[]byte("bal:"), []byte("bal;")},
		{[]byte{0x01, 0xff}, []byte{0x02}},
		{[]byte{0xff, 0xff}, nil},
	}
	for _, tt := range tests {
		if got := KeyUpperBound(tt.prefix); !bytes.Equal(got, tt.want) {
			t.Errorf("KeyUpperBound(%x) = %x, want %x", tt.prefix, got, tt.want)
		}
	}
}

func TestBlockStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "chain"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	bs := NewBlockStore(db)
	blk := chain.Block{Height: 7, Payload: []byte("tx\x00"), Time: time.Unix(1_700_000_000, 0).UTC()}
	blk.AppHash[0] = 0xaa
	if err := bs.SaveBlock(blk); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := bs.SetCommitted(7); err != nil {
		t.Fatalf("set committed: %v", err)
	}
	db.Close()

	db, err = Open(filepath.Join(dir, "chain"))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	bs = NewBlockStore(db)

	h, ok, err := bs.GetCommitted()
	if err != nil || !ok || h != 7 {
		t.Fatalf("committed = %d,%v,%v, want 7,true,nil", h, ok, err)
	}
	got, ok, err := bs.GetBlock(7)
	if err != nil || !ok {
		t.Fatalf("get block: %v,%v", ok, err)
	}
	if chain.HashOfBlock(got) != chain.HashOfBlock(blk) || got.AppHash != blk.AppHash {
		t.Errorf("block changed across reopen: %+v", got)
	}
	if _, ok, _ := bs.GetBlock(8); ok {
		t.Error("unexpected block 8")
	}
}
