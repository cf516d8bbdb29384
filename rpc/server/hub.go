package server

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dSync/lib/jsonpath"
	"github.com/ValentinKolb/dSync/lib/protocol"
	"github.com/ValentinKolb/dSync/lib/record"
	"github.com/ValentinKolb/dSync/rpc/serializer"
	"github.com/ValentinKolb/dSync/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var HubLogger = logger.GetLogger("hub")

// InitialVersion is the version of a record nobody wrote yet
const InitialVersion = "0-00000000000000"

// Hub is an in-memory server for the RECORD topic. It keeps the latest
// version of every record, fans updates out to subscribers and assigns
// subscribed names to pattern providers, one provider per name at a time.
type Hub struct {
	serializer serializer.IRPCSerializer

	mu        sync.Mutex
	records   map[string]*hubRecord
	listeners []*listener

	nextSession atomic.Uint64
	sessions    *xsync.MapOf[uint64, *session]

	metrics *hubMetrics
}

// hubRecord is the server side state of a single record
type hubRecord struct {
	name    string
	version record.Version
	body    string
	seq     uint64 // highest numeric sequence accepted

	subscribers map[*session]struct{}

	provider *listener              // active provider
	offer    *listener              // multicast offer waiting for an accept
	tried    map[*listener]struct{} // listeners that declined since the last reset
}

// listener is a pattern registered by a session
type listener struct {
	session *session
	pattern string
	re      *regexp.Regexp
	unicast bool
}

// HubStats of a hub
type HubStats struct {
	Sessions  int
	Records   int
	Listeners int
	Provided  int
}

// NewHub creates an empty hub. Frames are decoded and encoded with s.
func NewHub(s serializer.IRPCSerializer) *Hub {
	h := &Hub{
		serializer: s,
		records:    make(map[string]*hubRecord),
		sessions:   xsync.NewMapOf[uint64, *session](),
	}
	h.metrics = newHubMetrics(h)
	return h
}

// --------------------------------------------------------------------------
// Links
// --------------------------------------------------------------------------

// ServeLink serves a single client link until it breaks. It is meant to be
// registered as transport.ServerHandleFunc.
func (h *Hub) ServeLink(link transport.IFrameConn) {
	sess := newSession(h.nextSession.Add(1), link, h.serializer)
	h.sessions.Store(sess.id, sess)
	HubLogger.Infof("session %d opened (%s)", sess.id, link.RemoteAddr())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sess.writeLoop(h.metrics.sent.Inc)
	}()

	sess.readLoop(func(msg protocol.Message) {
		h.metrics.received.Inc()
		h.handle(sess, msg)
	})

	sess.close()
	wg.Wait()

	h.mu.Lock()
	h.disconnect(sess)
	h.mu.Unlock()
	h.sessions.Delete(sess.id)
	HubLogger.Infof("session %d closed", sess.id)
}

// Close closes every session
func (h *Hub) Close() {
	h.sessions.Range(func(_ uint64, sess *session) bool {
		sess.close()
		return true
	})
}

// Stats returns counters of the hub
func (h *Hub) Stats() HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := HubStats{
		Sessions:  h.sessions.Size(),
		Records:   len(h.records),
		Listeners: len(h.listeners),
	}
	for _, rec := range h.records {
		if rec.provider != nil {
			stats.Provided++
		}
	}
	return stats
}

// WritePrometheus writes the hub metrics in prometheus text format
func (h *Hub) WritePrometheus(w io.Writer) {
	h.metrics.set.WritePrometheus(w)
}

// --------------------------------------------------------------------------
// Message Handling
// --------------------------------------------------------------------------

// handle dispatches a message of sess, similar to a request adapter
func (h *Hub) handle(sess *session, msg protocol.Message) {
	if msg.Topic != protocol.TopicRecord {
		sess.send(protocol.NewError(protocol.ErrKindInvalidMessage, msg.Topic.String(), msg.Action.String()))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	name := msg.Field(0)

	switch msg.Action {
	case protocol.ActionSubscribe:
		h.subscribe(sess, name)
	case protocol.ActionUnsubscribe:
		h.unsubscribe(sess, name)
	case protocol.ActionRead:
		rec := h.record(name)
		sess.send(rec.update())
	case protocol.ActionUpdate:
		h.update(sess, name, msg.Field(1), msg.Field(2))
	case protocol.ActionSync:
		// every earlier message of sess was handled and its replies queued
		sess.send(protocol.NewSync(name))
	case protocol.ActionListen:
		h.listen(sess, name, msg.Field(1) == protocol.Unicast)
	case protocol.ActionUnlisten:
		if l := h.listener(sess, name); l != nil {
			h.dropListener(l)
		}
	case protocol.ActionListenAccept:
		h.accept(sess, name, msg.Field(1))
	case protocol.ActionListenReject:
		h.reject(sess, name, msg.Field(1))
	default:
		sess.send(protocol.NewError(protocol.ErrKindInvalidMessage, msg.Action.String()))
	}
}

func (h *Hub) subscribe(sess *session, name string) {
	if name == "" {
		sess.send(protocol.NewError(protocol.ErrKindInvalidMessage, protocol.ActionSubscribe.String()))
		return
	}

	rec := h.record(name)
	rec.subscribers[sess] = struct{}{}
	sess.send(rec.update())
	if rec.provider != nil {
		sess.send(protocol.NewHasProvider(name, true))
	}
	h.discover(rec)
}

func (h *Hub) unsubscribe(sess *session, name string) {
	rec, ok := h.records[name]
	if !ok {
		return
	}
	if _, ok := rec.subscribers[sess]; !ok {
		return
	}
	delete(rec.subscribers, sess)
	if len(rec.subscribers) == 0 {
		h.release(rec)
	}
}

// update applies a write. Numeric versions must be newer than the current
// one, provider versions are only accepted from the active provider. A
// rejected writer receives the current version instead.
func (h *Hub) update(sess *session, name, rawVersion, body string) {
	version, err := record.ParseVersion(rawVersion)
	if err == nil && version.IsVoid() {
		err = errors.New("missing version")
	}
	if err == nil {
		_, err = jsonpath.Parse([]byte(body))
	}
	if err != nil {
		HubLogger.Debugf("invalid update of %s from session %d: %v", name, sess.id, err)
		sess.send(protocol.NewError(protocol.ErrKindUpdate, name, rawVersion))
		return
	}

	rec := h.record(name)

	var accept bool
	switch {
	case version.Kind() == record.KindProvider:
		accept = rec.provider != nil && rec.provider.session == sess
		if !accept {
			sess.send(protocol.NewError(protocol.ErrKindListener, name, rawVersion))
		}
	case rec.provider != nil:
		accept = false
	default:
		cmp := version.Compare(rec.version)
		if cmp == 0 {
			// a resent write that was already accepted
			sess.send(rec.update())
			return
		}
		accept = cmp > 0
	}

	if !accept {
		h.metrics.rejected.Inc()
		sess.send(rec.update())
		return
	}

	rec.version = version
	rec.body = body
	if version.Kind() == record.KindNumeric {
		rec.seq = max(rec.seq, version.Seq())
	}

	msg := rec.update()
	for sub := range rec.subscribers {
		sub.send(msg)
	}
	if _, ok := rec.subscribers[sess]; !ok {
		sess.send(msg)
	}
}

func (h *Hub) listen(sess *session, pattern string, unicast bool) {
	if h.listener(sess, pattern) != nil {
		sess.send(protocol.NewError(protocol.ErrKindListenerExists, pattern))
		return
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		sess.send(protocol.NewError(protocol.ErrKindListener, pattern, err.Error()))
		return
	}

	l := &listener{session: sess, pattern: pattern, re: re, unicast: unicast}
	h.listeners = append(h.listeners, l)
	HubLogger.Debugf("session %d listens on %s (unicast: %t)", sess.id, pattern, unicast)

	for _, rec := range h.records {
		if re.MatchString(rec.name) {
			h.discover(rec)
		}
	}
}

// accept handles the acceptance of a multicast offer. A listener may also
// renew an offer it withdrew earlier, as long as nobody else provides.
func (h *Hub) accept(sess *session, pattern, name string) {
	l := h.listener(sess, pattern)
	if l == nil || l.unicast {
		sess.send(protocol.NewError(protocol.ErrKindListener, pattern, name))
		return
	}

	rec, ok := h.records[name]
	if !ok || len(rec.subscribers) == 0 {
		sess.send(protocol.NewRecordMessage(protocol.ActionPatternRemoved, pattern, name))
		return
	}

	switch {
	case rec.provider == l:
		return
	case rec.offer == l, rec.offer == nil && rec.provider == nil:
		rec.offer = nil
		h.assign(rec, l)
		sess.send(protocol.NewRecordMessage(protocol.ActionListenAccept, pattern, name))
	default:
		sess.send(protocol.NewRecordMessage(protocol.ActionPatternRemoved, pattern, name))
	}
}

// reject handles a declined offer or a provider giving a name back
func (h *Hub) reject(sess *session, pattern, name string) {
	l := h.listener(sess, pattern)
	rec, ok := h.records[name]
	if l == nil || !ok {
		return
	}

	switch {
	case rec.offer == l:
		rec.offer = nil
	case rec.provider == l:
		h.unassign(rec)
	default:
		return
	}
	rec.tried[l] = struct{}{}
	h.discover(rec)
}

// --------------------------------------------------------------------------
// Providers
// --------------------------------------------------------------------------

// discover offers a subscribed name without provider to the first matching
// listener that did not decline it yet
func (h *Hub) discover(rec *hubRecord) {
	if len(rec.subscribers) == 0 || rec.provider != nil || rec.offer != nil {
		return
	}

	for _, l := range h.listeners {
		if _, ok := rec.tried[l]; ok || !l.re.MatchString(rec.name) {
			continue
		}

		if l.unicast {
			h.assign(rec, l)
			l.session.send(protocol.NewRecordMessage(protocol.ActionListenAccept, l.pattern, rec.name))
		} else {
			rec.offer = l
			l.session.send(protocol.NewRecordMessage(protocol.ActionPatternFound, l.pattern, rec.name))
		}
		return
	}
}

func (h *Hub) assign(rec *hubRecord, l *listener) {
	rec.provider = l
	HubLogger.Debugf("%s is provided by session %d (%s)", rec.name, l.session.id, l.pattern)
	msg := protocol.NewHasProvider(rec.name, true)
	for sub := range rec.subscribers {
		sub.send(msg)
	}
}

// unassign removes the provider of rec. A provided value stays readable but
// is marked stale, so the next numeric write replaces it.
func (h *Hub) unassign(rec *hubRecord) {
	rec.provider = nil

	msg := protocol.NewHasProvider(rec.name, false)
	for sub := range rec.subscribers {
		sub.send(msg)
	}

	if rec.version.Kind() == record.KindProvider {
		rec.version = record.MustParseVersion(fmt.Sprintf("I%d-%s", rec.seq, rawSuffix(rec.version)))
		update := rec.update()
		for sub := range rec.subscribers {
			sub.send(update)
		}
	}
}

// release drops provider and offer of a record without subscribers
func (h *Hub) release(rec *hubRecord) {
	if l := rec.provider; l != nil {
		l.session.send(protocol.NewRecordMessage(protocol.ActionPatternRemoved, l.pattern, rec.name))
		h.unassign(rec)
	}
	if l := rec.offer; l != nil {
		l.session.send(protocol.NewRecordMessage(protocol.ActionPatternRemoved, l.pattern, rec.name))
		rec.offer = nil
	}
	clear(rec.tried)
}

// dropListener removes l and hands its names to the next listener
func (h *Hub) dropListener(l *listener) {
	for i, other := range h.listeners {
		if other == l {
			h.listeners = append(h.listeners[:i:i], h.listeners[i+1:]...)
			break
		}
	}

	for _, rec := range h.records {
		delete(rec.tried, l)
		switch {
		case rec.provider == l:
			h.unassign(rec)
		case rec.offer == l:
			rec.offer = nil
		default:
			continue
		}
		h.discover(rec)
	}
}

// disconnect removes every subscription and listener of sess
func (h *Hub) disconnect(sess *session) {
	for _, l := range append([]*listener(nil), h.listeners...) {
		if l.session == sess {
			h.dropListener(l)
		}
	}
	for _, rec := range h.records {
		if _, ok := rec.subscribers[sess]; ok {
			delete(rec.subscribers, sess)
			if len(rec.subscribers) == 0 {
				h.release(rec)
			}
		}
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// record returns the named record, creating it empty
func (h *Hub) record(name string) *hubRecord {
	rec, ok := h.records[name]
	if !ok {
		rec = &hubRecord{
			name:        name,
			version:     record.MustParseVersion(InitialVersion),
			body:        "{}",
			subscribers: make(map[*session]struct{}),
			tried:       make(map[*listener]struct{}),
		}
		h.records[name] = rec
	}
	return rec
}

func (h *Hub) listener(sess *session, pattern string) *listener {
	for _, l := range h.listeners {
		if l.session == sess && l.pattern == pattern {
			return l
		}
	}
	return nil
}

func (r *hubRecord) update() protocol.Message {
	return protocol.NewUpdate(r.name, r.version.String(), r.body, "")
}

func rawSuffix(v record.Version) string {
	_, suffix, _ := strings.Cut(v.String(), "-")
	return suffix
}

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

type hubMetrics struct {
	set      *metrics.Set
	received *metrics.Counter
	sent     *metrics.Counter
	rejected *metrics.Counter
}

func newHubMetrics(h *Hub) *hubMetrics {
	set := metrics.NewSet()
	m := &hubMetrics{
		set:      set,
		received: set.NewCounter("dsync_hub_messages_received_total"),
		sent:     set.NewCounter("dsync_hub_messages_sent_total"),
		rejected: set.NewCounter("dsync_hub_updates_rejected_total"),
	}

	set.NewGauge("dsync_hub_sessions", func() float64 { return float64(h.sessions.Size()) })
	set.NewGauge("dsync_hub_records", func() float64 { return float64(h.Stats().Records) })
	set.NewGauge("dsync_hub_listeners", func() float64 { return float64(h.Stats().Listeners) })
	set.NewGauge("dsync_hub_records_provided", func() float64 { return float64(h.Stats().Provided) })
	return m
}
