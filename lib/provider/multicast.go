package provider

import (
	"errors"

	"github.com/ValentinKolb/dSync/lib/protocol"
)

// multicastImpl negotiates every match with upstream before pushing
type multicastImpl struct {
	listenerBase
	recursive bool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see provider.IProvider)
// --------------------------------------------------------------------------

func (m *multicastImpl) HandleMessage(msg protocol.Message) bool {
	name := msg.Field(1)

	switch msg.Action {
	case protocol.ActionPatternFound:
		m.onFound(name)
	case protocol.ActionListenAccept:
		m.onAccept(name)
	case protocol.ActionPatternRemoved:
		if s, ok := m.subs[name]; ok {
			m.remove(s)
		}
	default:
		return false
	}
	return true
}

func (m *multicastImpl) ConnectionChanged(connected bool) {
	if connected {
		m.host.Send(protocol.NewRecordMessage(protocol.ActionListen, m.pattern))
	} else {
		m.reset()
	}
}

func (m *multicastImpl) Dispose() {
	if m.host.Connected() {
		m.host.Send(protocol.NewRecordMessage(protocol.ActionUnlisten, m.pattern))
	}
	m.reset()
}

// --------------------------------------------------------------------------
// Negotiation
// --------------------------------------------------------------------------

// onFound asks the factory for a provision and offers it upstream
func (m *multicastImpl) onFound(name string) {
	if _, ok := m.subs[name]; ok {
		m.reportError(protocol.ErrKindListener, errors.New("listener exists"), name)
		return
	}

	p, err := m.provision(name)
	if err == nil && p.IsStream() && !m.recursive {
		err = errors.New("stream provision requires a recursive provider")
	}
	if err != nil {
		m.reportError(protocol.ErrKindListener, err, name)
		m.sendReject(name)
		return
	}

	s := &subscription{name: name, provision: p}
	m.subs[name] = s

	// a stream answers with its first value
	if p.IsStream() {
		m.startStream(s, func(v any) { m.onEmit(s, v) }, func(err error) { m.onFail(s, err) })
		return
	}

	s.decided = true
	if p.Offered() {
		s.offered = true
		m.sendAccept(name)
	} else {
		m.sendReject(name)
	}
}

// onAccept starts pushing once upstream acknowledged the acceptance
func (m *multicastImpl) onAccept(name string) {
	s, ok := m.subs[name]
	switch {
	case ok && s.accepted:
		m.reportError(protocol.ErrKindListener, errors.New("listener started"), name)
		return
	case !ok || !s.offered:
		m.sendReject(name)
		return
	}

	s.accepted = true
	s.ready = false

	switch {
	case !s.provision.IsStream():
		m.push(s, s.provision.value)
	case s.hasValue:
		m.push(s, s.value)
	}
}

// onEmit handles a value of a stream. The first value accepts or rejects the
// match. Later nil withdraws the offer, a value after a withdrawal renews it.
func (m *multicastImpl) onEmit(s *subscription, value any) {
	if value == nil {
		s.value, s.hasValue = nil, false
		if s.offered || !s.decided {
			s.offered = false
			s.accepted = false
			m.sendReject(s.name)
		}
		s.decided = true
		return
	}

	s.value, s.hasValue = value, true
	s.decided = true

	switch {
	case !s.offered:
		s.offered = true
		m.sendAccept(s.name)
	case s.accepted:
		m.push(s, value)
	}
}

// onFail withdraws a match whose stream failed
func (m *multicastImpl) onFail(s *subscription, err error) {
	m.reportError(protocol.ErrKindListener, err, s.name)
	if s.offered || !s.decided {
		m.sendReject(s.name)
	}
	m.remove(s)
}
