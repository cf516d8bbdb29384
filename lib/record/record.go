package record

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ValentinKolb/dSync/lib/jsonpath"
	"github.com/ValentinKolb/dSync/lib/protocol"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("record")

// ErrInvalidArgument is returned for writes with a malformed path or value
var ErrInvalidArgument = errors.New("invalid argument")

// --------------------------------------------------------------------------
// Host
// --------------------------------------------------------------------------

// Host is the surface a Record uses to talk to its owner. All calls happen on
// the goroutine that owns the record.
type Host interface {
	// Connected reports whether the upstream link is open
	Connected() bool

	// Send enqueues a message upstream
	Send(msg protocol.Message)

	// ReportError delivers a non-fatal fault
	ReportError(err *protocol.Error)

	// User is appended to versions minted by local writes
	User() string

	// Active is called when the reference count goes from 0 to 1,
	// Idle when it drops back to 0.
	Active(r *Record)
	Idle(r *Record)

	// PendingStart is called when the first write is queued before a
	// baseline exists, PendingDone once the queue was replayed.
	PendingStart(r *Record)
	PendingDone(r *Record)
}

// --------------------------------------------------------------------------
// Record
// --------------------------------------------------------------------------

// Event is passed to record listeners
type Event uint8

const (
	EventUpdate Event = iota // Version, data or state changed
	EventReady               // A baseline was established and the queue replayed
)

type entry struct {
	version Version
	data    any
	prev    Version
}

type patch struct {
	path  string
	value any
}

type listener struct {
	fn      func(*Record, Event)
	removed bool
}

// Record holds the local replica of a single named document.
//
// A Record is not safe for concurrent use. It is owned by a single goroutine
// which also drives every Host callback.
type Record struct {
	host Host
	name string

	entry    entry
	queue    []patch // nil once a baseline was established
	provided bool
	refs     int
	pending  bool

	// writes sent upstream and not yet echoed, in send order
	updates []protocol.Message

	// cached view of entry plus queue
	view        any
	viewVersion string
	viewDirty   bool

	listeners []*listener
}

// New creates a record without baseline
func New(host Host, name string) *Record {
	r := &Record{host: host}
	r.Reset(name)
	return r
}

// Reset returns the record to its initial state under a new name.
// The record must not be referenced.
func (r *Record) Reset(name string) {
	r.name = name
	r.entry = entry{}
	r.queue = []patch{}
	r.provided = false
	r.refs = 0
	r.pending = false
	r.updates = nil
	r.view = nil
	r.viewVersion = ""
	r.viewDirty = true
	r.listeners = nil
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

func (r *Record) Name() string { return r.name }
func (r *Record) Refs() int    { return r.refs }

// Provided reports whether an active provider owns the record
func (r *Record) Provided() bool { return r.provided }

// Ready reports whether a baseline was established
func (r *Record) Ready() bool { return r.queue == nil }

// Pending reports whether queued writes wait for a baseline
func (r *Record) Pending() bool { return r.pending }

// Unconfirmed reports whether writes were sent and not yet echoed
func (r *Record) Unconfirmed() bool { return len(r.updates) > 0 }

// EntryVersion is the last version confirmed by upstream or written locally
func (r *Record) EntryVersion() Version { return r.entry.version }

// Version returns the version of Data. While writes are queued it is a
// local version ahead of the baseline.
func (r *Record) Version() string {
	r.refreshView()
	return r.viewVersion
}

// Data returns the current document with queued writes applied.
// The returned tree is shared and must not be mutated.
func (r *Record) Data() any {
	r.refreshView()
	return r.view
}

// Get returns the value at path in Data
func (r *Record) Get(path string) (any, bool) {
	return jsonpath.Get(r.Data(), path)
}

// State returns the consistency level of the record
func (r *Record) State() State {
	switch {
	case r.Version() == "":
		return StateVoid
	case r.queue != nil:
		return StateClient
	case r.provided:
		return StateProvider
	case r.entry.version.IsStale():
		return StateStale
	default:
		return StateServer
	}
}

func (r *Record) refreshView() {
	if !r.viewDirty {
		return
	}
	r.viewDirty = false

	data := r.entry.data
	if data == nil {
		data = jsonpath.Empty
	}

	if len(r.queue) == 0 {
		r.view = data
		r.viewVersion = r.entry.version.String()
		return
	}

	for _, p := range r.queue {
		data = jsonpath.Set(data, p.path, p.value, true)
	}
	// keep the identity of the previous view if nothing changed
	r.view = jsonpath.Patch(r.view, data, true)

	if r.entry.version.IsStale() {
		r.viewVersion = r.entry.version.String()
	} else {
		r.viewVersion = NewVersion(r.entry.version.Seq()+uint64(len(r.queue)), r.host.User()).String()
	}
}

func (r *Record) invalidate() {
	r.viewDirty = true
}

// --------------------------------------------------------------------------
// Listeners
// --------------------------------------------------------------------------

// Listen registers fn for record events. The returned function removes it.
func (r *Record) Listen(fn func(*Record, Event)) (remove func()) {
	l := &listener{fn: fn}
	r.listeners = append(r.listeners, l)
	return func() {
		if l.removed {
			return
		}
		l.removed = true
		for i, other := range r.listeners {
			if other == l {
				r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
				break
			}
		}
	}
}

func (r *Record) emit(ev Event) {
	// listeners may remove themselves while being called
	listeners := r.listeners
	for _, l := range listeners {
		if !l.removed {
			l.fn(r, ev)
		}
	}
}

// --------------------------------------------------------------------------
// References
// --------------------------------------------------------------------------

// Ref increments the reference count. The first reference subscribes upstream.
func (r *Record) Ref() {
	r.refs++
	if r.refs == 1 {
		r.host.Active(r)
		if r.host.Connected() {
			r.host.Send(protocol.NewSubscribe(r.name))
		}
	}
}

// Unref decrements the reference count
func (r *Record) Unref() {
	if r.refs == 0 {
		Logger.Errorf("unref of unreferenced record %s", r.name)
		return
	}
	r.refs--
	if r.refs == 0 {
		r.host.Idle(r)
	}
}

// --------------------------------------------------------------------------
// Local Writes
// --------------------------------------------------------------------------

// Set writes value at path, or replaces the whole document if path is empty.
// Writes against an unreferenced, provided or stale record are reported as
// user errors and dropped. Malformed arguments return ErrInvalidArgument.
func (r *Record) Set(path string, value any) error {
	if err := ValidatePath(path); err != nil {
		return err
	}

	data, err := jsonpath.Normalize(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	if path == "" {
		obj, ok := data.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: data must be an object", ErrInvalidArgument)
		}
		for key := range obj {
			if strings.HasPrefix(key, "_") {
				return fmt.Errorf("%w: reserved key %q", ErrInvalidArgument, key)
			}
		}
	}

	if r.refs == 0 || r.provided || r.entry.version.IsStale() || strings.HasPrefix(r.name, "_") {
		r.reportError(protocol.ErrKindUser, errors.New("cannot set"))
		return nil
	}

	if r.queue != nil {
		if path == "" {
			// a full document supersedes every queued patch
			r.queue = r.queue[:0]
		}
		r.queue = append(r.queue, patch{path: path, value: data})
		r.invalidate()

		if !r.pending {
			r.Ref()
			r.pending = true
			r.host.PendingStart(r)
		}
	} else if !r.applyWrite(path, data) {
		return nil
	}

	r.emit(EventUpdate)
	return nil
}

// Update runs a read-modify-write at path. The updater receives the current
// value (nil if missing) and the current version.
func (r *Record) Update(path string, updater func(prev any, version string) (any, error)) error {
	if err := ValidatePath(path); err != nil {
		return err
	}

	if r.refs == 0 || r.provided || r.entry.version.IsStale() {
		r.reportError(protocol.ErrKindUpdate, errors.New("cannot update"))
		return nil
	}

	prev, _ := r.Get(path)
	next, err := updater(prev, r.Version())
	if err != nil {
		return err
	}
	return r.Set(path, next)
}

// applyWrite merges a write into the baseline and sends it upstream.
// It returns false if the document did not change.
func (r *Record) applyWrite(path string, value any) bool {
	prevData := r.entry.data
	if prevData == nil {
		prevData = jsonpath.Empty
	}

	nextData := jsonpath.Set(prevData, path, value, true)
	if jsonpath.Same(nextData, prevData) {
		return false
	}

	body, err := jsonpath.Stringify(nextData)
	if err != nil {
		r.reportError(protocol.ErrKindUser, err)
		return false
	}

	prevVersion := r.entry.version
	nextVersion := NewVersion(prevVersion.Seq()+1, r.host.User())

	r.entry = entry{version: nextVersion, data: nextData, prev: prevVersion}
	r.invalidate()

	update := protocol.NewUpdate(r.name, nextVersion.String(), body, prevVersion.String())
	r.host.Send(update)
	r.updates = append(r.updates, update)

	return true
}

// --------------------------------------------------------------------------
// Incoming Messages
// --------------------------------------------------------------------------

// HandleMessage applies a RECORD message addressed to this record.
// It returns false for actions a record does not handle.
func (r *Record) HandleMessage(msg protocol.Message) bool {
	switch msg.Action {
	case protocol.ActionUpdate:
		r.onUpdate(msg.Field(1), msg.Field(2))
	case protocol.ActionRead:
		r.onRead(msg.Field(1))
	case protocol.ActionHasProvider:
		r.SetProvided(protocol.ParseFlag(msg.Field(1)))
	default:
		return false
	}
	return true
}

// SetProvided sets the provider flag and notifies listeners on change
func (r *Record) SetProvided(provided bool) {
	if r.provided != provided {
		r.provided = provided
		r.emit(EventUpdate)
	}
}

// ApplyUpdate applies an update as if it was received from upstream
func (r *Record) ApplyUpdate(version, body string) {
	r.onUpdate(version, body)
}

func (r *Record) onRead(version string) {
	if version != "" && version == r.entry.version.String() {
		r.resend()
	}
}

func (r *Record) onUpdate(rawVersion, body string) {
	if rawVersion == "" {
		r.reportError(protocol.ErrKindUpdate, errors.New("missing version"), rawVersion)
		return
	}

	version, err := ParseVersion(rawVersion)
	if err != nil {
		r.reportError(protocol.ErrKindUpdate, err, rawVersion)
		return
	}

	prevData := r.Data()
	prevVersion := r.Version()

	r.confirm(rawVersion)

	cmp := version.Compare(r.entry.version)
	switch {
	case cmp == 0:
		// own echo
	case cmp > 0 || version.Kind() == KindStale:
		parsed, err := jsonpath.Parse([]byte(body))
		if err != nil {
			r.reportError(protocol.ErrKindUpdate, err, rawVersion)
			return
		}

		var data any
		if jsonpath.Same(parsed, jsonpath.Empty) || jsonpath.Same(parsed, jsonpath.EmptyArr) {
			data = parsed
		} else {
			data = jsonpath.Set(r.entry.data, "", parsed, true)
		}
		r.entry = entry{version: version, data: data}
		r.invalidate()
	default:
		r.resend()
	}

	if r.queue != nil && !r.entry.version.IsStale() {
		for _, p := range r.queue {
			r.applyWrite(p.path, p.value)
		}
		r.queue = nil
		r.invalidate()

		if r.pending {
			r.pending = false
			r.host.PendingDone(r)
			r.Unref()
		}

		r.emit(EventReady)
		r.emit(EventUpdate)
		return
	}

	// a queue on a stale baseline is kept, the local value wins
	if r.Version() != prevVersion || !jsonpath.Same(r.Data(), prevData) {
		r.emit(EventUpdate)
	}
}

// confirm drops a sent write once upstream echoed its version
func (r *Record) confirm(version string) {
	for i, update := range r.updates {
		if update.Field(1) == version {
			r.updates = append(r.updates[:i:i], r.updates[i+1:]...)
			break
		}
	}
	if len(r.updates) == 0 {
		r.updates = nil
	}
}

// resend sends the current entry upstream to assert local precedence
func (r *Record) resend() {
	body, err := jsonpath.Stringify(r.entry.data)
	if err != nil {
		r.reportError(protocol.ErrKindUpdate, err)
		return
	}
	r.host.Send(protocol.NewUpdate(r.name, r.entry.version.String(), body, r.entry.prev.String()))
}

// --------------------------------------------------------------------------
// Connection
// --------------------------------------------------------------------------

// ConnectionChanged reacts to the upstream link opening or closing
func (r *Record) ConnectionChanged(connected bool) {
	if connected {
		// unreferenced records stay subscribed until they are evicted
		r.host.Send(protocol.NewSubscribe(r.name))
		for _, update := range r.updates {
			r.host.Send(update)
		}
	} else {
		r.provided = false
		if r.queue == nil {
			r.queue = []patch{}
			r.invalidate()
		}
	}

	r.emit(EventUpdate)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ValidatePath checks a write path: it must be tokenizable, its indices must
// not exceed jsonpath.MaxIndex and it must not address a reserved key. The empty path addresses the whole document.
func ValidatePath(path string) error {
	if path == "" {
		return nil
	}
	if strings.HasPrefix(path, "_") {
		return fmt.Errorf("%w: reserved path %q", ErrInvalidArgument, path)
	}
	if err := jsonpath.Validate(path); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return nil
}

func (r *Record) reportError(kind protocol.ErrorKind, err error, context ...string) {
	context = append(context, r.name, r.Version(), r.State().String())
	r.host.ReportError(protocol.NewRecordError(kind, err, context...))
}
