package chain

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/util"
)

// Sequencer is the single-node ordering substrate used by devnets.
// It seals blocks from the app's payload at most every MinBlockTime and
// commits them one at a time, which gives every transaction a single global
// position. A replicated deployment replaces it with a real consensus engine
// driving the same AppHook.
type Sequencer struct {
	App   AppHook
	Clock util.Clock

	Store BlockStore // optional
	WAL   WAL        // optional

	// MinBlockTime throttles block production. Zero means seal back-to-back.
	MinBlockTime time.Duration

	Logger         *zap.SugaredLogger
	VerboseLogging bool

	// OnBlockCommit is called after each block is executed and persisted.
	OnBlockCommit func(b Block)

	height   Height
	parent   Hash
	lastTime time.Time
}

func NewSequencer(app AppHook, clock util.Clock) *Sequencer {
	return &Sequencer{App: app, Clock: clock, Logger: zap.NewNop().Sugar()}
}

// Height returns the last committed height.
func (s *Sequencer) Height() Height { return s.height }

// Resume restores the chain tip from the block store.
func (s *Sequencer) Resume() error {
	if s.Store == nil {
		return nil
	}
	h, ok, err := s.Store.GetCommitted()
	if err != nil {
		return fmt.Errorf("load committed height: %w", err)
	}
	if !ok {
		return nil
	}
	blk, ok, err := s.Store.GetBlock(h)
	if err != nil {
		return fmt.Errorf("load block %d: %w", h, err)
	}
	if !ok {
		return fmt.Errorf("committed block %d missing from store", h)
	}
	s.height = h
	s.parent = HashOfBlock(blk)
	s.lastTime = blk.Time
	s.Logger.Infow("sequencer_resumed", "height", h, "parent", s.parent.String())
	return nil
}

// Run seals blocks until ctx is cancelled.
func (s *Sequencer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		start := s.Clock.Now()
		if _, err := s.Step(); err != nil {
			return err
		}

		if wait := s.MinBlockTime - s.Clock.Now().Sub(start); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.Clock.After(wait):
			}
		}
	}
}

// RunN seals exactly n blocks. For tests.
func (s *Sequencer) RunN(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Step seals, executes and persists the next block.
func (s *Sequencer) Step() (Block, error) {
	next := s.height + 1

	// Block time never goes backwards, even if the wall clock does.
	now := s.Clock.Now()
	if now.Before(s.lastTime) {
		now = s.lastTime
	}

	blk := Block{
		Height:  next,
		Parent:  s.parent,
		Payload: s.App.PreparePayload(next),
		Time:    now,
	}
	if s.WAL != nil {
		s.WAL.Append(fmt.Sprintf("seal h=%d bytes=%d", next, len(blk.Payload)))
	}

	blk.AppHash = s.App.OnCommit(blk)

	if s.Store != nil {
		if err := s.Store.SaveBlock(blk); err != nil {
			return Block{}, fmt.Errorf("save block: %w", err)
		}
		if err := s.Store.SetCommitted(next); err != nil {
			return Block{}, fmt.Errorf("set committed: %w", err)
		}
	}
	if s.WAL != nil {
		s.WAL.Append(fmt.Sprintf("commit h=%d apphash=%s", next, blk.AppHash))
	}

	s.height = next
	s.parent = HashOfBlock(blk)
	s.lastTime = now

	if len(blk.Payload) > 0 || s.VerboseLogging {
		s.Logger.Infow("commit", "height", next, "payload_bytes", len(blk.Payload), "apphash", fmt.Sprintf("0x%x", blk.AppHash[:]))
	}
	if s.OnBlockCommit != nil {
		s.OnBlockCommit(blk)
	}
	return blk, nil
}
