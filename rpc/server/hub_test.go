package server

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dSync/lib/protocol"
	"github.com/ValentinKolb/dSync/rpc/serializer"
	"github.com/ValentinKolb/dSync/rpc/transport"
	"github.com/ValentinKolb/dSync/rpc/transport/base"
)

// peer is the client end of a link served by a hub
type peer struct {
	t     *testing.T
	conn  transport.IFrameConn
	ser   serializer.IRPCSerializer
	inbox chan protocol.Message
}

func newHub(t *testing.T) *Hub {
	h := NewHub(serializer.NewJSONSerializer())
	t.Cleanup(h.Close)
	return h
}

func connect(t *testing.T, h *Hub) *peer {
	t.Helper()

	a, b := net.Pipe()
	served := make(chan struct{})
	go func() {
		defer close(served)
		link := base.NewFrameConn(b, 0, time.Second)
		h.ServeLink(link)
		_ = link.Close()
	}()

	p := &peer{
		t:     t,
		conn:  base.NewFrameConn(a, 0, time.Second),
		ser:   serializer.NewJSONSerializer(),
		inbox: make(chan protocol.Message, 256),
	}
	go func() {
		defer close(p.inbox)
		for {
			data, err := p.conn.ReadFrame()
			if err != nil {
				return
			}
			var msg protocol.Message
			if err := p.ser.Deserialize(data, &msg); err != nil {
				t.Errorf("invalid frame: %v", err)
				return
			}
			p.inbox <- msg
		}
	}()

	t.Cleanup(func() {
		_ = p.conn.Close()
		<-served
	})
	return p
}

func (p *peer) send(action protocol.Action, data ...string) {
	p.t.Helper()
	frame, err := p.ser.Serialize(protocol.NewRecordMessage(action, data...))
	if err != nil {
		p.t.Fatalf("serialize failed: %v", err)
	}
	if err := p.conn.WriteFrame(frame); err != nil {
		p.t.Fatalf("write failed: %v", err)
	}
}

// expect returns the next message and fails if its action differs
func (p *peer) expect(action protocol.Action, data ...string) protocol.Message {
	p.t.Helper()
	select {
	case msg, ok := <-p.inbox:
		if !ok {
			p.t.Fatalf("link closed while waiting for %s", action)
		}
		if msg.Action != action {
			p.t.Fatalf("got %s, want %s", msg, action)
		}
		for i, want := range data {
			if msg.Field(i) != want {
				p.t.Fatalf("got %s, want field %d = %q", msg, i, want)
			}
		}
		return msg
	case <-time.After(2 * time.Second):
		p.t.Fatalf("timeout waiting for %s", action)
	}
	return protocol.Message{}
}

// quiet asserts that nothing arrives: a sync round trip comes back first
func (p *peer) quiet() {
	p.t.Helper()
	p.send(protocol.ActionSync, "quiet")
	p.expect(protocol.ActionSync, "quiet")
}

func TestHubSubscribe(t *testing.T) {
	h := newHub(t)
	a := connect(t, h)

	a.send(protocol.ActionSubscribe, "user/1")
	a.expect(protocol.ActionUpdate, "user/1", InitialVersion, "{}")

	a.send(protocol.ActionRead, "user/1")
	a.expect(protocol.ActionUpdate, "user/1", InitialVersion, "{}")

	a.send(protocol.ActionSubscribe, "")
	a.expect(protocol.ActionError, string(protocol.ErrKindInvalidMessage))
}

func TestHubUpdate(t *testing.T) {
	h := newHub(t)
	a := connect(t, h)
	b := connect(t, h)

	a.send(protocol.ActionSubscribe, "doc")
	a.expect(protocol.ActionUpdate, "doc", InitialVersion)
	b.send(protocol.ActionSubscribe, "doc")
	b.expect(protocol.ActionUpdate, "doc", InitialVersion)

	tests := []struct {
		name      string
		version   string
		body      string
		accepted  bool
		wantFirst string // version a receives
	}{
		{"newer", "2-aaa", `{"x":1}`, true, "2-aaa"},
		{"resend of accepted", "2-aaa", `{"x":1}`, false, "2-aaa"},
		{"older", "1-zzz", `{"x":0}`, false, "2-aaa"},
		{"same seq larger suffix", "2-bbb", `{"x":2}`, true, "2-bbb"},
		{"newest", "10-aaa", `{"x":3}`, true, "10-aaa"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a.send(protocol.ActionUpdate, "doc", tt.version, tt.body)
			a.expect(protocol.ActionUpdate, "doc", tt.wantFirst)
			if tt.accepted {
				b.expect(protocol.ActionUpdate, "doc", tt.version, tt.body)
			}
			b.quiet()
		})
	}

	a.send(protocol.ActionUpdate, "doc", "x-1", "{}")
	a.expect(protocol.ActionError, string(protocol.ErrKindUpdate), "doc", "x-1")

	a.send(protocol.ActionUpdate, "doc", "11-a", "{")
	a.expect(protocol.ActionError, string(protocol.ErrKindUpdate))

	if h.Stats().Records != 1 {
		t.Fatalf("got %d records, want 1", h.Stats().Records)
	}
}

func TestHubUpdateWithoutSubscription(t *testing.T) {
	h := newHub(t)
	a := connect(t, h)

	// the writer receives its echo even if it did not subscribe
	a.send(protocol.ActionUpdate, "doc", "1-a", `{"a":1}`)
	a.expect(protocol.ActionUpdate, "doc", "1-a", `{"a":1}`)
}

func TestHubSyncOrder(t *testing.T) {
	h := newHub(t)
	a := connect(t, h)

	a.send(protocol.ActionUpdate, "doc", "1-a", `{}`)
	a.send(protocol.ActionSync, "token")
	a.expect(protocol.ActionUpdate, "doc", "1-a")
	a.expect(protocol.ActionSync, "token")
}

func TestHubMulticastProvider(t *testing.T) {
	h := newHub(t)
	provider := connect(t, h)
	sub := connect(t, h)

	provider.send(protocol.ActionListen, "device/.*")
	provider.quiet()

	sub.send(protocol.ActionSubscribe, "device/1")
	sub.expect(protocol.ActionUpdate, "device/1", InitialVersion)
	provider.expect(protocol.ActionPatternFound, "device/.*", "device/1")

	provider.send(protocol.ActionListenAccept, "device/.*", "device/1")
	provider.expect(protocol.ActionListenAccept, "device/.*", "device/1")
	sub.expect(protocol.ActionHasProvider, "device/1", "T")

	// numeric writes to a provided record are rejected
	sub.send(protocol.ActionUpdate, "device/1", "5-x", `{"status":"off"}`)
	sub.expect(protocol.ActionUpdate, "device/1", InitialVersion)

	provider.send(protocol.ActionUpdate, "device/1", "INF-abc", `{"status":"on"}`)
	provider.expect(protocol.ActionUpdate, "device/1", "INF-abc")
	sub.expect(protocol.ActionUpdate, "device/1", "INF-abc", `{"status":"on"}`)

	if stats := h.Stats(); stats.Provided != 1 || stats.Listeners != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	sub.send(protocol.ActionUnsubscribe, "device/1")
	provider.expect(protocol.ActionPatternRemoved, "device/.*", "device/1")

	// the provided value stays, marked stale
	sub.send(protocol.ActionRead, "device/1")
	msg := sub.expect(protocol.ActionUpdate, "device/1")
	if !strings.HasPrefix(msg.Field(1), "I0-") {
		t.Fatalf("got version %q, want a stale version", msg.Field(1))
	}
}

func TestHubProviderExclusivity(t *testing.T) {
	h := newHub(t)
	first := connect(t, h)
	second := connect(t, h)
	sub := connect(t, h)

	first.send(protocol.ActionListen, "room/.*")
	first.quiet()
	second.send(protocol.ActionListen, "room/.*")
	second.quiet()

	sub.send(protocol.ActionSubscribe, "room/a")
	sub.expect(protocol.ActionUpdate, "room/a")

	// only one listener is asked at a time
	first.expect(protocol.ActionPatternFound, "room/.*", "room/a")
	second.quiet()

	// a late accept of the other listener is revoked
	second.send(protocol.ActionListenAccept, "room/.*", "room/a")
	second.expect(protocol.ActionPatternRemoved, "room/.*", "room/a")

	first.send(protocol.ActionListenReject, "room/.*", "room/a")
	second.expect(protocol.ActionPatternFound, "room/.*", "room/a")
	second.send(protocol.ActionListenAccept, "room/.*", "room/a")
	second.expect(protocol.ActionListenAccept, "room/.*", "room/a")
	sub.expect(protocol.ActionHasProvider, "room/a", "T")

	// writes of the declined listener are refused
	first.send(protocol.ActionUpdate, "room/a", "INF-1", `{}`)
	first.expect(protocol.ActionError, string(protocol.ErrKindListener), "room/a")
	first.expect(protocol.ActionUpdate, "room/a", InitialVersion)
}

func TestHubProviderDisconnect(t *testing.T) {
	h := newHub(t)
	first := connect(t, h)
	second := connect(t, h)
	sub := connect(t, h)

	first.send(protocol.ActionListen, "job/.*", protocol.Unicast)
	first.quiet()
	second.send(protocol.ActionListen, "job/.*", protocol.Unicast)
	second.quiet()

	sub.send(protocol.ActionSubscribe, "job/1")
	sub.expect(protocol.ActionUpdate, "job/1")

	// unicast listeners are assigned right away
	first.expect(protocol.ActionListenAccept, "job/.*", "job/1")
	sub.expect(protocol.ActionHasProvider, "job/1", "T")

	first.send(protocol.ActionUpdate, "job/1", "INF-a", `{"n":1}`)
	sub.expect(protocol.ActionUpdate, "job/1", "INF-a")

	_ = first.conn.Close()

	sub.expect(protocol.ActionHasProvider, "job/1", "F")
	msg := sub.expect(protocol.ActionUpdate, "job/1")
	if !strings.HasPrefix(msg.Field(1), "I") || msg.Field(2) != `{"n":1}` {
		t.Fatalf("got %s, want the provided value with a stale version", msg)
	}
	second.expect(protocol.ActionListenAccept, "job/.*", "job/1")
	sub.expect(protocol.ActionHasProvider, "job/1", "T")

	// giving the name back without another listener leaves it unprovided
	second.send(protocol.ActionListenReject, "job/.*", "job/1")
	sub.expect(protocol.ActionHasProvider, "job/1", "F")
	sub.quiet()
}

func TestHubListenErrors(t *testing.T) {
	h := newHub(t)
	a := connect(t, h)

	a.send(protocol.ActionListen, "a/.*")
	a.send(protocol.ActionListen, "a/.*")
	a.expect(protocol.ActionError, string(protocol.ErrKindListenerExists), "a/.*")

	a.send(protocol.ActionListen, "(")
	a.expect(protocol.ActionError, string(protocol.ErrKindListener), "(")

	a.send(protocol.ActionListenAccept, "unknown", "a/1")
	a.expect(protocol.ActionError, string(protocol.ErrKindListener), "unknown")

	// accepting a name nobody subscribed
	a.send(protocol.ActionListenAccept, "a/.*", "a/1")
	a.expect(protocol.ActionPatternRemoved, "a/.*", "a/1")

	a.send(protocol.ActionUnlisten, "a/.*")
	a.quiet()
	if n := h.Stats().Listeners; n != 0 {
		t.Fatalf("got %d listeners, want 0", n)
	}
}

func TestHubInvalidFrame(t *testing.T) {
	h := newHub(t)
	a := connect(t, h)

	if err := a.conn.WriteFrame([]byte("not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	msg := a.expect(protocol.ActionError, string(protocol.ErrKindMessageParse))
	if msg.Topic != protocol.TopicConnection {
		t.Fatalf("got topic %s, want CONNECTION", msg.Topic)
	}
	a.quiet()
}
