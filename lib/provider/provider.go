package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dSync/lib/jsonpath"
	"github.com/ValentinKolb/dSync/lib/protocol"
	"github.com/ValentinKolb/dSync/lib/record"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("provider")

// ErrInvalidOptions is returned by New for unsupported option combinations
var ErrInvalidOptions = errors.New("invalid provider options")

// --------------------------------------------------------------------------
// Interfaces
// --------------------------------------------------------------------------

// Host is the messaging surface of the provider's owner. Every method except
// Post is only called on the owner's goroutine.
type Host interface {
	// Connected reports whether the upstream link is open
	Connected() bool

	// Send enqueues a message upstream
	Send(msg protocol.Message)

	// ReportError delivers a non-fatal fault
	ReportError(err *protocol.Error)

	// Post runs fn on the owner's goroutine. It may be called from any
	// goroutine and returns false if the owner is closed.
	Post(fn func()) bool

	// ApplyUpdate delivers a pushed value to local subscribers of name
	ApplyUpdate(name, version, body string)
}

// IProvider is a registered pattern provider
type IProvider interface {
	// Pattern returns the pattern the provider was registered for
	Pattern() string

	// HandleMessage handles a RECORD message routed to this pattern.
	// It returns false for actions a provider does not handle.
	HandleMessage(msg protocol.Message) bool

	// ConnectionChanged announces the provider upstream once connected
	// and drops every match on disconnect
	ConnectionChanged(connected bool)

	// Dispose unregisters the provider and tears down every match
	Dispose()

	// Stats returns the number of matches and of matches pushing values
	Stats() Stats
}

// Stats of a single provider
type Stats struct {
	Matches int
	Active  int
}

// New creates a provider for pattern and announces it if host is connected
func New(host Host, pattern string, factory Factory, opts Options) (IProvider, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: missing factory", ErrInvalidOptions)
	}

	base := listenerBase{
		host:    host,
		pattern: pattern,
		factory: factory,
		subs:    make(map[string]*subscription),
	}

	var p IProvider
	if opts.Unicast {
		if opts.Recursive {
			return nil, fmt.Errorf("%w: unicast providers cannot be recursive", ErrInvalidOptions)
		}
		p = &unicastImpl{listenerBase: base}
	} else {
		p = &multicastImpl{listenerBase: base, recursive: opts.Recursive}
	}

	Logger.Debugf("registered provider for %s (unicast: %t, recursive: %t)", pattern, opts.Unicast, opts.Recursive)
	p.ConnectionChanged(host.Connected())
	return p, nil
}

// --------------------------------------------------------------------------
// Shared State
// --------------------------------------------------------------------------

// subscription is the state of a single matched name
type subscription struct {
	name      string
	provision Provision

	offered  bool // accept sent and not withdrawn
	accepted bool // acknowledged (multicast) or assigned (unicast)
	decided  bool // accept or reject sent for the match

	// latest value of a stream
	value    any
	hasValue bool

	// last push, for deduplication
	body  string
	ready bool

	cancel context.CancelFunc
}

func (s *subscription) dispose() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.accepted = false
	s.offered = false
}

// listenerBase holds what both provider variants share
type listenerBase struct {
	host    Host
	pattern string
	factory Factory
	subs    map[string]*subscription
}

func (b *listenerBase) Pattern() string {
	return b.pattern
}

func (b *listenerBase) Stats() Stats {
	stats := Stats{Matches: len(b.subs)}
	for _, s := range b.subs {
		if s.accepted {
			stats.Active++
		}
	}
	return stats
}

// reset tears down every match
func (b *listenerBase) reset() {
	for name, s := range b.subs {
		s.dispose()
		delete(b.subs, name)
	}
}

// remove tears down a single match
func (b *listenerBase) remove(s *subscription) {
	s.dispose()
	if b.subs[s.name] == s {
		delete(b.subs, s.name)
	}
}

// provision calls the factory, turning panics into errors
func (b *listenerBase) provision(name string) (p Provision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panicked: %v", r)
		}
	}()
	return b.factory(name)
}

func (b *listenerBase) sendAccept(name string) {
	b.host.Send(protocol.NewRecordMessage(protocol.ActionListenAccept, b.pattern, name))
}

func (b *listenerBase) sendReject(name string) {
	b.host.Send(protocol.NewRecordMessage(protocol.ActionListenReject, b.pattern, name))
}

func (b *listenerBase) reportError(kind protocol.ErrorKind, err error, name string) {
	Logger.Debugf("provider %s failed for %s: %v", b.pattern, name, err)
	b.host.ReportError(protocol.NewRecordError(kind, err, b.pattern, name))
}

// startStream runs the source of s in its own goroutine. Emissions and the
// final error are posted to the host and dropped once s was disposed.
func (b *listenerBase) startStream(s *subscription, emit func(any), fail func(error)) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	source := s.provision.source
	go func() {
		err := source(ctx, func(value any) {
			if ctx.Err() != nil {
				return
			}
			b.host.Post(func() {
				// canceled on the host goroutine, so this check is exact
				if ctx.Err() == nil {
					emit(value)
				}
			})
		})

		if err != nil && ctx.Err() == nil {
			b.host.Post(func() {
				if ctx.Err() == nil {
					fail(err)
				}
			})
		}
	}()
}

// push writes value upstream with a content addressed version and applies
// it locally. Identical consecutive values are skipped.
func (b *listenerBase) push(s *subscription, value any) {
	body, err := encode(value)
	if err != nil {
		b.reportError(protocol.ErrKindUser, err, s.name)
		return
	}

	if s.ready && s.body == body {
		return
	}
	s.body = body
	s.ready = true

	version := record.ProviderVersion(body).String()
	b.host.Send(protocol.NewUpdate(s.name, version, body, ""))
	b.host.ApplyUpdate(s.name, version, body)
}

// encode serializes a provided value. Only objects and arrays, or JSON text
// of one, are accepted.
func encode(value any) (string, error) {
	if text, ok := value.(string); ok {
		if text == "" || (text[0] != '{' && text[0] != '[') {
			return "", fmt.Errorf("invalid value: %q", text)
		}
		if _, err := jsonpath.Parse([]byte(text)); err != nil {
			return "", fmt.Errorf("invalid value: %w", err)
		}
		return text, nil
	}

	data, err := jsonpath.Normalize(value)
	if err != nil {
		return "", err
	}

	switch data.(type) {
	case map[string]any, []any:
		return jsonpath.Stringify(data)
	default:
		return "", fmt.Errorf("invalid value: %v", value)
	}
}
