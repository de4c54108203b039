// file: pkg/chain/types.go
package chain

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

type Height uint64

type Hash [32]byte

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

// Block is one entry of the global total order. Transactions inside Payload
// are applied strictly in sequence; blocks are applied strictly by height.
type Block struct {
	Height  Height
	Parent  Hash
	AppHash Hash // Hash of application state after executing this block
	Payload []byte
	Time    time.Time
}

// HashOfBlock computes the ordering hash of a block.
// AppHash is NOT included: the block is sealed before execution and the
// resulting state is committed to separately.
func HashOfBlock(b Block) Hash {
	h := sha256.New()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(b.Height))
	h.Write(buf[:])

	h.Write(b.Parent[:])
	h.Write(b.Payload)

	binary.BigEndian.PutUint64(buf[:], uint64(b.Time.UnixNano()))
	h.Write(buf[:])

	return sha256.Sum256(h.Sum(nil))
}

// ---- Storage/WAL interfaces (impl in pkg/storage) ----

type BlockStore interface {
	SaveBlock(b Block) error
	GetBlock(h Height) (Block, bool, error)
	SetCommitted(h Height) error
	GetCommitted() (Height, bool, error)
}

type WAL interface {
	Append(line string)
}

// AppHook is what the sequencer drives: it asks for the next payload and
// hands back committed blocks for execution (see abci.Bridge).
type AppHook interface {
	PreparePayload(next Height) []byte
	OnCommit(b Block) Hash
}
