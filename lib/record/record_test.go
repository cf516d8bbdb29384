package record

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ValentinKolb/dSync/lib/jsonpath"
	"github.com/ValentinKolb/dSync/lib/protocol"
)

// fakeHost records every interaction of a record with its owner
type fakeHost struct {
	connected bool
	sent      []protocol.Message
	errors    []*protocol.Error
	active    int
	idle      int
	pending   int
}

func (h *fakeHost) Connected() bool                 { return h.connected }
func (h *fakeHost) Send(msg protocol.Message)       { h.sent = append(h.sent, msg) }
func (h *fakeHost) ReportError(err *protocol.Error) { h.errors = append(h.errors, err) }
func (h *fakeHost) User() string                    { return "" }
func (h *fakeHost) Active(*Record)                  { h.active++ }
func (h *fakeHost) Idle(*Record)                    { h.idle++ }
func (h *fakeHost) PendingStart(*Record)            { h.pending++ }
func (h *fakeHost) PendingDone(*Record)             { h.pending-- }

// updates returns every UPDATE sent so far
func (h *fakeHost) updates() []protocol.Message {
	var res []protocol.Message
	for _, msg := range h.sent {
		if msg.Action == protocol.ActionUpdate {
			res = append(res, msg)
		}
	}
	return res
}

func deliver(r *Record, version, body string) {
	r.HandleMessage(protocol.NewUpdate(r.Name(), version, body, ""))
}

func newRef(h *fakeHost, name string) *Record {
	r := New(h, name)
	r.Ref()
	return r
}

func mustData(t *testing.T, s string) any {
	t.Helper()
	v, err := jsonpath.Parse([]byte(s))
	if err != nil {
		t.Fatal(err)
	}
	return v
}

// TestRefSubscribes tests subscription on the first reference
func TestRefSubscribes(t *testing.T) {
	h := &fakeHost{connected: true}
	r := New(h, "foo")

	r.Ref()
	r.Ref()
	if len(h.sent) != 1 || h.sent[0].Action != protocol.ActionSubscribe {
		t.Fatalf("expected a single SUBSCRIBE, got %v", h.sent)
	}
	if h.active != 1 {
		t.Errorf("Active called %d times, want 1", h.active)
	}

	r.Unref()
	r.Unref()
	if h.idle != 1 {
		t.Errorf("Idle called %d times, want 1", h.idle)
	}
}

// TestStateLadder tests the state derived from entry, queue and provider flag
func TestStateLadder(t *testing.T) {
	h := &fakeHost{connected: true}
	r := newRef(h, "foo")

	if r.State() != StateVoid {
		t.Errorf("new record: State() = %v, want VOID", r.State())
	}

	if err := r.Set("a", 1); err != nil {
		t.Fatal(err)
	}
	if r.State() != StateClient {
		t.Errorf("queued write: State() = %v, want CLIENT", r.State())
	}

	deliver(r, "1-a", "{}")
	if r.State() != StateServer {
		t.Errorf("baseline: State() = %v, want SERVER", r.State())
	}

	deliver(r, "I-b", `{"x":1}`)
	if r.State() != StateStale {
		t.Errorf("stale update: State() = %v, want STALE", r.State())
	}

	r.HandleMessage(protocol.NewHasProvider("foo", true))
	if r.State() != StateProvider {
		t.Errorf("provided: State() = %v, want PROVIDER", r.State())
	}
}

// TestSetBeforeBaseline tests queued writes and their replay (queued writes
// are replayed in order against the first baseline)
func TestSetBeforeBaseline(t *testing.T) {
	h := &fakeHost{connected: true}
	r := newRef(h, "baz")

	var events []Event
	r.Listen(func(_ *Record, ev Event) { events = append(events, ev) })

	if err := r.Set("a.b", 1); err != nil {
		t.Fatal(err)
	}
	if err := r.Set("a.b", 2); err != nil {
		t.Fatal(err)
	}
	if len(h.updates()) != 0 {
		t.Fatalf("queued writes must not be sent before a baseline")
	}
	if !r.Pending() || h.pending != 1 || r.Refs() != 2 {
		t.Fatalf("queued write must hold a reference, refs = %d", r.Refs())
	}
	if v, _ := r.Get("a.b"); v != 2.0 {
		t.Errorf("queued value not visible, got %v", v)
	}

	events = nil
	deliver(r, "1-srv", "{}")

	updates := h.updates()
	if len(updates) != 2 {
		t.Fatalf("expected 2 replayed writes, got %d", len(updates))
	}
	if !reflect.DeepEqual(r.Data(), mustData(t, `{"a":{"b":2}}`)) {
		t.Errorf("Data() = %v", r.Data())
	}
	if MustParseVersion(r.Version()).Seq() != 3 {
		t.Errorf("Version() = %s, want seq 3", r.Version())
	}
	if r.Pending() || h.pending != 0 || r.Refs() != 1 {
		t.Errorf("replay must release the pending reference, refs = %d", r.Refs())
	}
	if len(events) != 2 || events[0] != EventReady || events[1] != EventUpdate {
		t.Errorf("events = %v, want [ready update]", events)
	}
}

// TestFullSetClearsQueue tests that a full document write supersedes queued patches
func TestFullSetClearsQueue(t *testing.T) {
	h := &fakeHost{}
	r := newRef(h, "foo")

	_ = r.Set("a", 1)
	_ = r.Set("", map[string]any{"b": 2})

	if !reflect.DeepEqual(r.Data(), map[string]any{"b": 2.0}) {
		t.Errorf("Data() = %v", r.Data())
	}
}

// TestConflictResend tests that a lower ranked update triggers a resend
func TestConflictResend(t *testing.T) {
	h := &fakeHost{connected: true}
	r := newRef(h, "bar")

	deliver(r, "5-aaa", `{"v":5}`)
	data := r.Data()
	h.sent = nil

	deliver(r, "3-bbb", "{}")

	if len(h.sent) != 1 {
		t.Fatalf("expected one resend, got %v", h.sent)
	}
	resend := h.sent[0]
	if resend.Action != protocol.ActionUpdate || resend.Field(0) != "bar" || resend.Field(1) != "5-aaa" {
		t.Errorf("unexpected resend %v", resend)
	}
	if resend.Field(2) != `{"v":5}` {
		t.Errorf("resend body = %s", resend.Field(2))
	}
	if !jsonpath.Same(r.Data(), data) || r.Version() != "5-aaa" {
		t.Errorf("local data must not change on conflict")
	}
}

// TestIdempotentUpdate tests that re-applying an update is a no-op
func TestIdempotentUpdate(t *testing.T) {
	h := &fakeHost{connected: true}
	r := newRef(h, "foo")
	deliver(r, "2-a", `{"a":{"b":1}}`)

	data := r.Data()
	notified := 0
	r.Listen(func(*Record, Event) { notified++ })

	deliver(r, "2-a", `{"a":{"b":1}}`)

	if !jsonpath.Same(r.Data(), data) {
		t.Errorf("Data() identity changed")
	}
	if notified != 0 {
		t.Errorf("listener notified %d times", notified)
	}
}

// TestUpdateSharesStructure tests that unchanged subtrees keep their identity
func TestUpdateSharesStructure(t *testing.T) {
	h := &fakeHost{connected: true}
	r := newRef(h, "foo")
	deliver(r, "1-a", `{"a":{"x":1},"b":{"y":1}}`)
	a, _ := r.Get("a")

	deliver(r, "2-a", `{"a":{"x":1},"b":{"y":2}}`)

	if next, _ := r.Get("a"); !jsonpath.Same(next, a) {
		t.Errorf("untouched subtree must keep its identity")
	}
}

// TestOptimisticWrite tests version bumping and echo confirmation
func TestOptimisticWrite(t *testing.T) {
	h := &fakeHost{connected: true}
	r := newRef(h, "foo")
	deliver(r, "1-a", "{}")

	if err := r.Set("x", "y"); err != nil {
		t.Fatal(err)
	}

	updates := h.updates()
	if len(updates) != 1 {
		t.Fatalf("expected one UPDATE, got %d", len(updates))
	}
	sent := updates[0]
	if sent.Field(3) != "1-a" || MustParseVersion(sent.Field(1)).Seq() != 2 {
		t.Errorf("unexpected update %v", sent)
	}
	if !r.Unconfirmed() {
		t.Errorf("write must be kept until echoed")
	}

	deliver(r, sent.Field(1), sent.Field(2))
	if r.Unconfirmed() {
		t.Errorf("echo must confirm the write")
	}

	// unchanged value
	h.sent = nil
	_ = r.Set("x", "y")
	if len(h.sent) != 0 {
		t.Errorf("unchanged write must not be sent")
	}
}

// TestRejectedWrites tests writes that are reported as user errors
func TestRejectedWrites(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *Record)
	}{
		{"unreferenced", func(r *Record) { r.Unref() }},
		{"provided", func(r *Record) { deliver(r, "1-a", "{}"); r.SetProvided(true) }},
		{"stale", func(r *Record) { deliver(r, "I-a", "{}") }},
		{"provider version", func(r *Record) { deliver(r, "INF-a", "{}") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &fakeHost{connected: true}
			r := newRef(h, "foo")
			tt.setup(r)
			h.sent = nil

			if err := r.Set("a", 1); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			if len(h.errors) != 1 || h.errors[0].Kind != protocol.ErrKindUser {
				t.Errorf("expected a user error, got %v", h.errors)
			}
			if len(h.updates()) != 0 {
				t.Errorf("rejected write must not be sent")
			}
		})
	}

	h := &fakeHost{}
	r := newRef(h, "_private")
	_ = r.Set("a", 1)
	if len(h.errors) != 1 {
		t.Errorf("write to a reserved name must be rejected")
	}
}

// TestInvalidArguments tests argument validation of Set
func TestInvalidArguments(t *testing.T) {
	h := &fakeHost{}
	r := newRef(h, "foo")

	tests := []struct {
		name  string
		path  string
		value any
	}{
		{"reserved path", "_a", 1},
		{"invalid path", "[]", 1},
		{"non object document", "", []any{1}},
		{"reserved key", "", map[string]any{"_a": 1}},
		{"not json", "a", make(chan int)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Set(tt.path, tt.value); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("Set() error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

// TestStaleKeepsQueue tests that queued writes survive a stale baseline
// and are replayed on the next numeric one
func TestStaleKeepsQueue(t *testing.T) {
	h := &fakeHost{connected: true}
	r := newRef(h, "foo")

	_ = r.Set("a", "local")
	deliver(r, "I-x", `{"a":"stale","b":1}`)

	if v, _ := r.Get("a"); v != "local" {
		t.Errorf("local value must win over a stale baseline, got %v", v)
	}
	if b, _ := r.Get("b"); b != 1.0 {
		t.Errorf("stale data must be merged, got %v", b)
	}
	if r.Ready() || len(h.updates()) != 0 {
		t.Fatalf("queue must be kept on a stale baseline")
	}

	deliver(r, "4-y", `{"a":"server"}`)
	updates := h.updates()
	if len(updates) != 1 || MustParseVersion(updates[0].Field(1)).Seq() != 5 {
		t.Fatalf("expected queued write to be replayed, got %v", updates)
	}
	if v, _ := r.Get("a"); v != "local" {
		t.Errorf("Get() = %v, want local", v)
	}
}

// TestReadResend tests that a READ for the current version resends the entry
func TestReadResend(t *testing.T) {
	h := &fakeHost{connected: true}
	r := newRef(h, "foo")
	deliver(r, "3-a", `{"a":1}`)
	h.sent = nil

	r.HandleMessage(protocol.NewRead("foo", "2-a"))
	if len(h.sent) != 0 {
		t.Errorf("READ for another version must be ignored")
	}

	r.HandleMessage(protocol.NewRead("foo", "3-a"))
	if len(h.sent) != 1 || h.sent[0].Field(1) != "3-a" {
		t.Errorf("READ for the current version must resend it, got %v", h.sent)
	}
}

// TestConnectionCycle tests degradation on disconnect and resend on reconnect
func TestConnectionCycle(t *testing.T) {
	h := &fakeHost{connected: true}
	r := newRef(h, "foo")
	deliver(r, "1-a", "{}")
	r.SetProvided(true)
	r.SetProvided(false)

	_ = r.Set("a", 1)
	unconfirmed := h.updates()[0]

	h.connected = false
	r.ConnectionChanged(false)
	if r.Ready() || r.State() != StateClient {
		t.Errorf("disconnect must install a queue, State() = %v", r.State())
	}

	_ = r.Set("b", 2)

	h.connected = true
	h.sent = nil
	r.ConnectionChanged(true)

	if len(h.sent) != 2 || h.sent[0].Action != protocol.ActionSubscribe {
		t.Fatalf("expected SUBSCRIBE and resend, got %v", h.sent)
	}
	if h.sent[1].Field(1) != unconfirmed.Field(1) {
		t.Errorf("unconfirmed write must be resent")
	}

	// upstream answers the subscription with our own write
	deliver(r, unconfirmed.Field(1), unconfirmed.Field(2))
	if !r.Ready() {
		t.Errorf("baseline must be re-established")
	}
	if !reflect.DeepEqual(r.Data(), map[string]any{"a": 1.0, "b": 2.0}) {
		t.Errorf("Data() = %v", r.Data())
	}
}

// TestMalformedUpdate tests that parse failures keep the last good entry
func TestMalformedUpdate(t *testing.T) {
	h := &fakeHost{connected: true}
	r := newRef(h, "foo")
	deliver(r, "1-a", `{"a":1}`)

	deliver(r, "2-a", `{not json`)
	deliver(r, "", `{}`)

	if len(h.errors) != 2 || h.errors[0].Kind != protocol.ErrKindUpdate {
		t.Errorf("expected two update errors, got %v", h.errors)
	}
	if r.Version() != "1-a" {
		t.Errorf("Version() = %s, want 1-a", r.Version())
	}
}

// TestUpdater tests read-modify-write
func TestUpdater(t *testing.T) {
	h := &fakeHost{connected: true}
	r := newRef(h, "foo")
	deliver(r, "1-a", `{"n":1}`)

	err := r.Update("n", func(prev any, version string) (any, error) {
		if version != "1-a" {
			t.Errorf("version = %s", version)
		}
		return prev.(float64) + 1, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := r.Get("n"); v != 2.0 {
		t.Errorf("Get() = %v, want 2", v)
	}

	failure := errors.New("boom")
	if err := r.Update("n", func(any, string) (any, error) { return nil, failure }); !errors.Is(err, failure) {
		t.Errorf("Update() error = %v", err)
	}
}
