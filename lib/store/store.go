package store

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/dSync/lib/protocol"
	"github.com/ValentinKolb/dSync/lib/provider"
	"github.com/ValentinKolb/dSync/lib/record"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("store")

// eventQueueSize is the capacity of the store's event channel
const eventQueueSize = 1024

var _ IStore = (*Store)(nil)

// Store implements IStore on top of a protocol.IConnection
type Store struct {
	conn protocol.IConnection
	cfg  Config

	events    chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	unbind    []func()

	metrics *storeMetrics

	// owned by the loop goroutine

	host      *host
	connected bool
	records   map[string]*record.Record
	arena     *arena
	prune     map[*record.Record]time.Time
	providers map[string]provider.IProvider
	observers map[uint64]func(error)
	nextID    uint64

	// sync barrier
	pending     map[*record.Record]*completion
	updating    map[uint64]*completion
	syncs       map[string]*syncOp
	syncCounter uint32
}

// New creates a store on top of conn and starts its goroutine
func New(conn protocol.IConnection, cfg Config) *Store {
	cfg = cfg.withDefaults()

	s := &Store{
		conn:      conn,
		cfg:       cfg,
		events:    make(chan func(), eventQueueSize),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		connected: conn.State().Connected(),
		records:   make(map[string]*record.Record),
		prune:     make(map[*record.Record]time.Time),
		providers: make(map[string]provider.IProvider),
		observers: make(map[uint64]func(error)),
		pending:   make(map[*record.Record]*completion),
		updating:  make(map[uint64]*completion),
		syncs:     make(map[string]*syncOp),
	}
	s.host = &host{s: s}
	s.arena = newArena(s.host, cfg.MaxPoolSize)
	s.metrics = newStoreMetrics(s)

	s.unbind = append(s.unbind,
		conn.OnMessage(protocol.TopicRecord, func(msg protocol.Message) {
			s.post(func() { s.handle(msg) })
		}),
		conn.OnStateChange(func(state protocol.ConnectionState) {
			s.post(func() { s.connectionChanged(state.Connected()) })
		}),
	)

	Logger.Infof("created record store")
	Logger.Debugf(cfg.String())

	go s.run()
	return s
}

// --------------------------------------------------------------------------
// Event Loop
// --------------------------------------------------------------------------

func (s *Store) run() {
	defer close(s.stopped)

	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case fn := <-s.events:
			fn()
		case now := <-ticker.C:
			s.sweep(now)
		case <-s.done:
			s.teardown()
			return
		}
	}
}

// post schedules fn on the loop. It returns false if the store is closed.
// It must not be called from the loop itself.
func (s *Store) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.events <- fn:
		return true
	case <-s.done:
		return false
	}
}

// do runs fn on the loop and waits for it to return
func (s *Store) do(fn func()) error {
	finished := make(chan struct{})
	if !s.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-s.stopped:
		// fn may have run right before the loop stopped
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Close stops the loop. Observers and syncs still waiting fail with ErrClosed.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		for _, unbind := range s.unbind {
			unbind()
		}
		close(s.done)
		<-s.stopped
		Logger.Infof("closed record store")
	})
	return nil
}

func (s *Store) teardown() {
	for pattern, p := range s.providers {
		p.Dispose()
		delete(s.providers, pattern)
	}
	for id, stop := range s.observers {
		delete(s.observers, id)
		stop(ErrClosed)
	}
	for token, op := range s.syncs {
		delete(s.syncs, token)
		op.finish(ErrClosed)
	}
}

// --------------------------------------------------------------------------
// Records
// --------------------------------------------------------------------------

// validateName rejects names that are empty, too long or the result of
// formatting a non string value
func validateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidArgument)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: name longer than %d bytes", ErrInvalidArgument, MaxNameLength)
	case strings.Contains(name, "[object Object]"), strings.Contains(name, "%!"):
		return fmt.Errorf("%w: invalid name %q", ErrInvalidArgument, name)
	}
	return nil
}

// acquire returns the named record with one more reference
func (s *Store) acquire(name string) *record.Record {
	r, ok := s.records[name]
	if !ok {
		r = s.arena.get(name)
		s.records[name] = r
		s.metrics.created.Inc()
	}
	r.Ref()
	return r
}

// release drops one reference of r
func (s *Store) release(r *record.Record) {
	r.Unref()
}

// GetRecord returns a handle holding a reference to the named record
func (s *Store) GetRecord(name string) (*RecordRef, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	var r *record.Record
	if err := s.do(func() { r = s.acquire(name) }); err != nil {
		return nil, err
	}
	return &RecordRef{s: s, rec: r, name: name}, nil
}

// Set writes value at path of the named record
func (s *Store) Set(name, path string, value any) error {
	if err := validateName(name); err != nil {
		return err
	}

	var err error
	if doErr := s.do(func() {
		r := s.acquire(name)
		defer s.release(r)
		err = r.Set(path, value)
	}); doErr != nil {
		return doErr
	}
	return err
}

// --------------------------------------------------------------------------
// Providers
// --------------------------------------------------------------------------

// Provide registers factory for every record name matching pattern
func (s *Store) Provide(pattern string, factory provider.Factory, opts provider.Options) (func(), error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidArgument)
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: missing factory", ErrInvalidArgument)
	}

	var p provider.IProvider
	var err error
	if doErr := s.do(func() {
		if _, ok := s.providers[pattern]; ok {
			err = fmt.Errorf("%w: %s", ErrListenerExists, pattern)
			s.reportError(protocol.NewRecordError(protocol.ErrKindListenerExists, err, pattern))
			return
		}

		p, err = provider.New(s.host, pattern, factory, opts)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidArgument, err)
			return
		}
		s.providers[pattern] = p
	}); doErr != nil {
		return nil, doErr
	}
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = s.do(func() {
				if s.providers[pattern] == p {
					delete(s.providers, pattern)
					p.Dispose()
				}
			})
		})
	}, nil
}

// --------------------------------------------------------------------------
// Incoming Messages
// --------------------------------------------------------------------------

// handle routes a RECORD message to its sync waiter, record and provider
func (s *Store) handle(msg protocol.Message) {
	s.metrics.received.Inc()

	switch msg.Action {
	case protocol.ActionSync:
		if op, ok := s.syncs[msg.Field(0)]; ok {
			delete(s.syncs, msg.Field(0))
			op.finish(nil)
		}
		return
	case protocol.ActionError:
		var context []string
		if len(msg.Data) > 1 {
			context = msg.Data[1:]
		}
		s.reportError(protocol.NewRecordError(protocol.ErrorKind(msg.Field(0)), errors.New("upstream error"), context...))
		return
	}

	name := msg.Field(0)
	handled := false

	if r, ok := s.records[name]; ok {
		handled = r.HandleMessage(msg)
	}
	if p, ok := s.providers[name]; ok {
		handled = p.HandleMessage(msg) || handled
	}

	if !handled {
		Logger.Debugf("ignored message %s", msg)
	}
}

// connectionChanged notifies every record and provider, then resends
// outstanding sync tokens behind the replayed writes
func (s *Store) connectionChanged(connected bool) {
	if s.connected == connected {
		return
	}
	s.connected = connected
	Logger.Infof("connected: %t, notifying %d records and %d providers", connected, len(s.records), len(s.providers))

	for _, r := range s.records {
		r.ConnectionChanged(connected)
	}
	for _, p := range s.providers {
		p.ConnectionChanged(connected)
	}

	if connected {
		tokens := make([]string, 0, len(s.syncs))
		for token, op := range s.syncs {
			if op.sent {
				tokens = append(tokens, token)
			}
		}
		sort.Strings(tokens)
		for _, token := range tokens {
			s.send(protocol.NewSync(token))
		}
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func (s *Store) send(msg protocol.Message) {
	s.metrics.sent.Inc()
	if err := s.conn.Send(msg); err != nil {
		Logger.Debugf("failed to send %s: %v", msg.Action, err)
	}
}

func (s *Store) reportError(err *protocol.Error) {
	s.metrics.errors.Inc()
	Logger.Warningf("%v", err)
	s.conn.ReportError(err)
}

// --------------------------------------------------------------------------
// Host (record.Host and provider.Host)
// --------------------------------------------------------------------------

// host is the surface records and providers use to reach the store
type host struct {
	s *Store
}

func (h *host) Connected() bool                 { return h.s.connected }
func (h *host) Send(msg protocol.Message)       { h.s.send(msg) }
func (h *host) ReportError(err *protocol.Error) { h.s.reportError(err) }
func (h *host) User() string                    { return h.s.cfg.User }
func (h *host) Post(fn func()) bool             { return h.s.post(fn) }

func (h *host) Active(r *record.Record) {
	delete(h.s.prune, r)
}

func (h *host) Idle(r *record.Record) {
	h.s.prune[r] = time.Now()
}

func (h *host) PendingStart(r *record.Record) {
	h.s.pending[r] = &completion{since: time.Now()}
}

func (h *host) PendingDone(r *record.Record) {
	if c, ok := h.s.pending[r]; ok {
		delete(h.s.pending, r)
		c.complete()
	}
}

func (h *host) ApplyUpdate(name, version, body string) {
	if r, ok := h.s.records[name]; ok {
		r.ApplyUpdate(version, body)
	}
}
