package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dSync/lib/jsonpath"
	"github.com/ValentinKolb/dSync/lib/protocol"
	"github.com/ValentinKolb/dSync/lib/record"
)

// --------------------------------------------------------------------------
// Observer
// --------------------------------------------------------------------------

// Observer is a conflating stream of values: if the consumer falls behind,
// only the latest value is kept. C is closed when the observer ends; Err
// then tells why (nil after Close).
type Observer[T any] struct {
	ch     chan T
	done   chan struct{}
	err    error
	closer func()

	// owned by the store goroutine
	stopped bool
	stopFn  func(error)
	timer   *time.Timer
}

func newObserver[T any]() *Observer[T] {
	return &Observer[T]{
		ch:     make(chan T, 1),
		done:   make(chan struct{}),
		closer: func() {},
	}
}

// C returns the channel values are delivered on
func (o *Observer[T]) C() <-chan T { return o.ch }

// Done is closed when the observer ended
func (o *Observer[T]) Done() <-chan struct{} { return o.done }

// Err returns the reason the observer ended, nil while it is running
func (o *Observer[T]) Err() error {
	select {
	case <-o.done:
		return o.err
	default:
		return nil
	}
}

// Close ends the observer and releases its record
func (o *Observer[T]) Close() {
	o.closer()
}

// push replaces a value the consumer did not take yet
func (o *Observer[T]) push(v T) {
	for {
		select {
		case o.ch <- v:
			return
		default:
		}
		select {
		case <-o.ch:
		default:
		}
	}
}

func (o *Observer[T]) finish(err error) {
	o.err = err
	close(o.ch)
	close(o.done)
}

func (o *Observer[T]) stopTimer() {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

// single returns an observer that emits v once and ends
func single[T any](v T) *Observer[T] {
	o := newObserver[T]()
	o.ch <- v
	o.finish(nil)
	return o
}

// attach creates an observer bound to the named record. onChange runs on
// the loop once right away (initial) and on every record update.
func attach[T any](s *Store, ctx context.Context, name string, onChange func(o *Observer[T], r *record.Record, initial bool)) (*Observer[T], error) {
	o := newObserver[T]()

	if err := s.do(func() {
		r := s.acquire(name)
		id := s.nextID
		s.nextID++

		var remove func()
		o.stopFn = func(err error) {
			if o.stopped {
				return
			}
			o.stopped = true
			delete(s.observers, id)
			remove()
			o.stopTimer()
			s.release(r)
			o.finish(err)
		}
		s.observers[id] = o.stopFn

		remove = r.Listen(func(r *record.Record, ev record.Event) {
			if ev == record.EventUpdate {
				onChange(o, r, false)
			}
		})
		onChange(o, r, true)
	}); err != nil {
		return nil, err
	}

	o.closer = func() {
		// a closed store already stopped every observer
		_ = s.do(func() { o.stopFn(nil) })
	}

	go func() {
		select {
		case <-ctx.Done():
			s.post(func() { o.stopFn(canceled(ctx)) })
		case <-o.done:
		}
	}()

	return o, nil
}

// --------------------------------------------------------------------------
// Observe / Get
// --------------------------------------------------------------------------

// Observe emits the value at opts.Path each time it changes while the record
// is in at least the requested state. An empty name emits the empty object once.
func (s *Store) Observe(ctx context.Context, name string, opts ObserveOptions) (*Observer[any], error) {
	if name == "" {
		return single[any](jsonpath.Empty), nil
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	if opts.Path != "" {
		if _, err := jsonpath.Tokenize(opts.Path); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
	}

	minState := opts.minState()

	var (
		last      any
		hasLast   bool
		reached   bool
		lastState record.State
	)

	return attach(s, ctx, name, func(o *Observer[any], r *record.Record, initial bool) {
		state := r.State()
		defer func() { lastState = state }()

		if r.Version() != "" && state >= minState {
			reached = true
			o.stopTimer()

			value, _ := r.Get(opts.Path)
			if !hasLast || !jsonpath.Same(value, last) {
				last, hasLast = value, true
				o.push(value)
			}
			return
		}

		if reached || opts.Timeout <= 0 || (!initial && state <= lastState) {
			return
		}

		// (re)start the deadline, it restarts whenever the state improves
		o.stopTimer()
		o.timer = time.AfterFunc(opts.Timeout, func() {
			s.post(func() {
				if o.stopped || reached {
					return
				}
				s.reportError(protocol.NewRecordError(protocol.ErrKindTimeout, errors.New("observe timeout"),
					name, r.State().String()))
				o.stopFn(ErrTimeout)
			})
		})
	})
}

// ObserveRecord emits a snapshot of the record on every change
func (s *Store) ObserveRecord(ctx context.Context, name string) (*Observer[Snapshot], error) {
	if name == "" {
		return single(Snapshot{
			Version: "0-00000000000000",
			State:   record.StateServer,
			Data:    jsonpath.Empty,
			Ready:   true,
		}), nil
	}
	if err := validateName(name); err != nil {
		return nil, err
	}

	return attach(s, ctx, name, func(o *Observer[Snapshot], r *record.Record, initial bool) {
		if initial && r.Version() == "" {
			return
		}
		o.push(snapshot(r))
	})
}

// Get returns the first value Observe emits
func (s *Store) Get(ctx context.Context, name string, opts ObserveOptions) (any, error) {
	o, err := s.Observe(ctx, name, opts)
	if err != nil {
		return nil, err
	}
	defer o.Close()

	value, ok := <-o.C()
	if !ok {
		if err := o.Err(); err != nil {
			return nil, err
		}
		return nil, ErrClosed
	}
	return value, nil
}

func snapshot(r *record.Record) Snapshot {
	return Snapshot{
		Name:     r.Name(),
		Version:  r.Version(),
		State:    r.State(),
		Data:     r.Data(),
		Ready:    r.Ready(),
		Provided: r.Provided(),
	}
}
