package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/ValentinKolb/dSync/lib/protocol"
)

// completion tracks a pending write or an in-flight update. Waiters are
// called on the loop once it completes.
type completion struct {
	since   time.Time
	waiters []func()
}

func (c *completion) wait(fn func()) {
	c.waiters = append(c.waiters, fn)
}

func (c *completion) complete() {
	waiters := c.waiters
	c.waiters = nil
	for _, fn := range waiters {
		fn()
	}
}

// afterDrain calls fn once every pending write and every update in flight
// right now completed. Later operations are not awaited.
func (s *Store) afterDrain(fn func()) {
	remaining := len(s.pending) + len(s.updating)
	if remaining == 0 {
		fn()
		return
	}

	done := func() {
		remaining--
		if remaining == 0 {
			fn()
		}
	}
	for _, c := range s.pending {
		c.wait(done)
	}
	for _, c := range s.updating {
		c.wait(done)
	}
}

// --------------------------------------------------------------------------
// Sync Barrier
// --------------------------------------------------------------------------

// syncOp is a single Sync call
type syncOp struct {
	token    string
	sent     bool
	canceled bool
	timer    *time.Timer
	result   chan error
	once     sync.Once
}

// finish resolves the operation exactly once
func (op *syncOp) finish(err error) {
	op.once.Do(func() {
		if op.timer != nil {
			op.timer.Stop()
		}
		op.result <- err
	})
}

// Sync waits until every write issued before the call was observed upstream.
//
// It first waits for queued writes and updates in flight to complete, then
// sends a SYNC token and waits for upstream to echo it. Since upstream handles
// messages in order, the echo implies every earlier write was handled.
// Exceeding Config.SyncTimeout is reported as a TIMEOUT and returns nil.
func (s *Store) Sync(ctx context.Context) error {
	op := &syncOp{result: make(chan error, 1)}

	if err := s.do(func() {
		op.timer = time.AfterFunc(s.cfg.SyncTimeout, func() {
			s.post(func() {
				if op.token != "" {
					delete(s.syncs, op.token)
				}
				op.canceled = true
				s.reportError(protocol.NewRecordError(protocol.ErrKindTimeout, errors.New("sync timeout"), op.token))
				op.finish(nil)
			})
		})

		s.afterDrain(func() {
			if op.canceled {
				return
			}
			op.token = strconv.FormatUint(uint64(s.syncCounter), 16)
			s.syncCounter = (s.syncCounter + 1) & 0x7fffffff
			s.syncs[op.token] = op

			if s.connected {
				s.send(protocol.NewSync(op.token))
			}
			// resent on reconnect either way
			op.sent = true
		})
	}); err != nil {
		return err
	}

	select {
	case err := <-op.result:
		return err
	case <-s.stopped:
		return ErrClosed
	case <-ctx.Done():
		s.post(func() {
			op.canceled = true
			if op.token != "" {
				delete(s.syncs, op.token)
			}
			op.finish(nil)
		})
		return canceled(ctx)
	}
}
