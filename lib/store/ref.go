package store

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dSync/lib/jsonpath"
	"github.com/ValentinKolb/dSync/lib/record"
)

// RecordRef is a handle holding one reference to a record. Every method runs
// on the store goroutine; after Release they return ErrReleased.
type RecordRef struct {
	s    *Store
	rec  *record.Record
	name string

	// owned by the loop goroutine
	released bool
}

// with runs fn on the loop unless the handle was released
func (r *RecordRef) with(fn func(rec *record.Record) error) error {
	var err error
	if doErr := r.s.do(func() {
		if r.released {
			err = ErrReleased
			return
		}
		err = fn(r.rec)
	}); doErr != nil {
		return doErr
	}
	return err
}

// Name returns the name of the record
func (r *RecordRef) Name() string {
	return r.name
}

// Get returns the value at path, ok is false if nothing is there
func (r *RecordRef) Get(path string) (value any, ok bool, err error) {
	if path != "" {
		if _, err := jsonpath.Tokenize(path); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
	}
	err = r.with(func(rec *record.Record) error {
		value, ok = rec.Get(path)
		return nil
	})
	return value, ok, err
}

// Snapshot returns the current state of the record
func (r *RecordRef) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := r.with(func(rec *record.Record) error {
		snap = snapshot(rec)
		return nil
	})
	return snap, err
}

// State returns the current state of the record
func (r *RecordRef) State() (record.State, error) {
	var state record.State
	err := r.with(func(rec *record.Record) error {
		state = rec.State()
		return nil
	})
	return state, err
}

// Version returns the version of the visible data
func (r *RecordRef) Version() (string, error) {
	var version string
	err := r.with(func(rec *record.Record) error {
		version = rec.Version()
		return nil
	})
	return version, err
}

// Set writes value at path
func (r *RecordRef) Set(path string, value any) error {
	return r.with(func(rec *record.Record) error {
		return rec.Set(path, value)
	})
}

// When blocks until the record reached at least state
func (r *RecordRef) When(ctx context.Context, state record.State) error {
	reached := make(chan struct{})
	var remove func()

	if err := r.with(func(rec *record.Record) error {
		if rec.State() >= state {
			close(reached)
			return nil
		}
		remove = rec.Listen(func(rec *record.Record, _ record.Event) {
			if rec.State() >= state {
				remove()
				close(reached)
			}
		})
		return nil
	}); err != nil {
		return err
	}

	select {
	case <-reached:
		return nil
	case <-r.s.stopped:
		return ErrClosed
	case <-ctx.Done():
		_ = r.s.do(func() {
			select {
			case <-reached:
			default:
				remove()
			}
		})
		return canceled(ctx)
	}
}

// Release drops the reference. Calling it more than once is a no-op.
func (r *RecordRef) Release() {
	_ = r.s.do(func() {
		if r.released {
			return
		}
		r.released = true
		r.s.release(r.rec)
	})
}
