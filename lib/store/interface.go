package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dSync/lib/provider"
	"github.com/ValentinKolb/dSync/lib/record"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStore is the client side record store. It mirrors named JSON records of an
// upstream service, applies local writes optimistically and lets the client
// provide records matching a pattern.
//
// Values returned by the store are shared trees and must not be mutated.
type IStore interface {
	// GetRecord returns a handle holding a reference to the named record.
	// The handle must be released with RecordRef.Release.
	GetRecord(name string) (*RecordRef, error)

	// Get returns the first value Observe would emit.
	Get(ctx context.Context, name string, opts ObserveOptions) (any, error)

	// Set writes value at path of the named record. An empty path replaces
	// the whole document, which must then be an object.
	Set(name, path string, value any) error

	// Update waits until the record reached the SERVER state and then writes
	// the result of updater at path. The updater runs on the store goroutine
	// and must not call back into the store.
	Update(ctx context.Context, name, path string, updater Updater) error

	// Observe emits the value at opts.Path each time it changes while the
	// record is in at least opts.State.
	Observe(ctx context.Context, name string, opts ObserveOptions) (*Observer[any], error)

	// ObserveRecord emits a snapshot of the record on every change.
	ObserveRecord(ctx context.Context, name string) (*Observer[Snapshot], error)

	// Provide registers factory as provider for every record name matching
	// pattern. The returned function unregisters it.
	Provide(pattern string, factory provider.Factory, opts provider.Options) (dispose func(), err error)

	// Sync waits until every write issued before the call was observed upstream.
	// An internal timeout is reported and resolves the call without error.
	Sync(ctx context.Context) error

	// Stats returns counters of the store
	Stats() (Stats, error)

	// Close stops the store. Pending observers and syncs fail with ErrClosed.
	Close() error
}

// Updater computes the next value at a path from the previous one
type Updater func(prev any, version string) (next any, err error)

// ObserveOptions select what Observe and Get emit
type ObserveOptions struct {
	// Path inside the record, empty for the whole document
	Path string
	// State is the minimum state of the record, nil means StateServer
	State *record.State
	// Timeout fails the observer with ErrTimeout if State was not reached
	// in time. It restarts whenever the state of the record improves.
	Timeout time.Duration
}

// AtLeast returns st as a minimum state for ObserveOptions
func AtLeast(st record.State) *record.State {
	return &st
}

func (o ObserveOptions) minState() record.State {
	if o.State == nil {
		return record.StateServer
	}
	return *o.State
}

// Snapshot is the state of a record at one point in time
type Snapshot struct {
	Name     string
	Version  string
	State    record.State
	Data     any
	Ready    bool
	Provided bool
}

// Stats of a store
type Stats struct {
	Records   int // records in memory
	Created   int // records created since start
	Destroyed int // records evicted since start
	Pruning   int // unreferenced records waiting for eviction
	Pending   int // records with writes waiting for a baseline
	Updating  int // read-modify-write operations in flight
	Listeners int // registered providers
	Pooled    int // records available for reuse
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrInvalidArgument is returned for malformed names, paths, patterns and values
	ErrInvalidArgument = record.ErrInvalidArgument

	// ErrTimeout is returned by observers that did not reach their state in time
	ErrTimeout = errors.New("timeout")

	// ErrCanceled wraps the error of a canceled context
	ErrCanceled = errors.New("canceled")

	// ErrClosed is returned by every operation on a closed store
	ErrClosed = errors.New("store closed")

	// ErrReleased is returned by a RecordRef after Release
	ErrReleased = errors.New("record released")

	// ErrListenerExists is returned by Provide for an already registered pattern
	ErrListenerExists = errors.New("listener exists")
)

func canceled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// MaxNameLength is the maximum length of a record name
const MaxNameLength = 1024

// Config of a store. Zero values are replaced by the defaults.
type Config struct {
	// PruneInterval is the period of the eviction sweep
	PruneInterval time.Duration
	// MinAgeVoid is the grace period of unreferenced records without a
	// numeric version (stale or provider authored)
	MinAgeVoid time.Duration
	// MinAge is the grace period of unreferenced records with a numeric version
	MinAge time.Duration
	// MaxPoolSize caps the number of records kept for reuse
	MaxPoolSize int
	// SyncTimeout resolves a Sync that was not echoed in time
	SyncTimeout time.Duration
	// ReadTimeout is reported for queued writes that waited too long for a baseline
	ReadTimeout time.Duration
	// User is appended to versions minted by local writes
	User string
}

// DefaultConfig returns the default store configuration
func DefaultConfig() Config {
	return Config{
		PruneInterval: time.Second,
		MinAgeVoid:    time.Second,
		MinAge:        10 * time.Second,
		MaxPoolSize:   65536,
		SyncTimeout:   30 * time.Second,
		ReadTimeout:   60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PruneInterval <= 0 {
		c.PruneInterval = def.PruneInterval
	}
	if c.MinAgeVoid <= 0 {
		c.MinAgeVoid = def.MinAgeVoid
	}
	if c.MinAge <= 0 {
		c.MinAge = def.MinAge
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = def.MaxPoolSize
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = def.SyncTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	return c
}

// String returns a formatted string representation of the configuration
func (c Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Record Store")
	addField("User", c.User)
	addField("Prune Interval", c.PruneInterval.String())
	addField("Min Age (void)", c.MinAgeVoid.String())
	addField("Min Age", c.MinAge.String())
	addField("Max Pool Size", fmt.Sprintf("%d", c.MaxPoolSize))
	addField("Sync Timeout", c.SyncTimeout.String())
	addField("Read Timeout", c.ReadTimeout.String())

	return sb.String()
}
