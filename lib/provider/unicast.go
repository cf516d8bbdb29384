package provider

import (
	"errors"

	"github.com/ValentinKolb/dSync/lib/protocol"
)

// unicastImpl pushes as soon as upstream assigns a match
type unicastImpl struct {
	listenerBase
}

// --------------------------------------------------------------------------
// Interface Methods (docu see provider.IProvider)
// --------------------------------------------------------------------------

func (u *unicastImpl) HandleMessage(msg protocol.Message) bool {
	switch msg.Action {
	case protocol.ActionListenAccept, protocol.ActionPatternFound,
		protocol.ActionListenReject, protocol.ActionPatternRemoved:
	default:
		return false
	}

	if !u.host.Connected() {
		u.host.ReportError(protocol.NewRecordError(protocol.ErrKindNotConnected,
			errors.New("received message while not connected"), msg.Data...))
		return true
	}

	name := msg.Field(1)

	switch msg.Action {
	case protocol.ActionListenAccept, protocol.ActionPatternFound:
		u.onAssign(name)
	case protocol.ActionListenReject:
		if s, ok := u.subs[name]; ok {
			u.remove(s)
		} else {
			u.reportError(protocol.ErrKindListener, errors.New("invalid remove: listener missing"), name)
		}
	case protocol.ActionPatternRemoved:
		if s, ok := u.subs[name]; ok {
			u.remove(s)
		}
	}
	return true
}

func (u *unicastImpl) ConnectionChanged(connected bool) {
	if connected {
		u.host.Send(protocol.NewRecordMessage(protocol.ActionListen, u.pattern, protocol.Unicast))
	} else {
		u.reset()
	}
}

func (u *unicastImpl) Dispose() {
	u.reset()
	if u.host.Connected() {
		u.host.Send(protocol.NewRecordMessage(protocol.ActionUnlisten, u.pattern))
	}
}

// --------------------------------------------------------------------------
// Assignment
// --------------------------------------------------------------------------

// onAssign provides an assigned match without further negotiation
func (u *unicastImpl) onAssign(name string) {
	if _, ok := u.subs[name]; ok {
		u.reportError(protocol.ErrKindListener, errors.New("invalid accept: listener exists"), name)
		return
	}

	p, err := u.provision(name)
	if err != nil {
		u.reportError(protocol.ErrKindListener, err, name)
		u.sendReject(name)
		return
	}
	if !p.IsStream() && !p.Offered() {
		u.sendReject(name)
		return
	}

	s := &subscription{name: name, provision: p, offered: true, accepted: true}
	u.subs[name] = s

	if p.IsStream() {
		u.startStream(s, func(v any) { u.onEmit(s, v) }, func(err error) { u.onFail(s, err) })
	} else {
		u.push(s, p.value)
	}
}

// onEmit pushes a stream value. nil gives the match back to upstream.
func (u *unicastImpl) onEmit(s *subscription, value any) {
	if value == nil {
		u.sendReject(s.name)
		u.remove(s)
		return
	}
	u.push(s, value)
}

func (u *unicastImpl) onFail(s *subscription, err error) {
	u.reportError(protocol.ErrKindListener, err, s.name)
	u.sendReject(s.name)
	u.remove(s)
}
