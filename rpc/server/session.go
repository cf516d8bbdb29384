package server

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/ValentinKolb/dSync/lib/protocol"
	"github.com/ValentinKolb/dSync/rpc/serializer"
	"github.com/ValentinKolb/dSync/rpc/transport"
)

// outboxSize is the number of messages queued for a single session
const outboxSize = 4096

// session is one client link. Messages for it are queued by the hub and
// written by its own goroutine in the order they were queued.
type session struct {
	id         uint64
	link       transport.IFrameConn
	serializer serializer.IRPCSerializer
	outbox     chan protocol.Message
	done       chan struct{}
	closeOnce  sync.Once
}

func newSession(id uint64, link transport.IFrameConn, s serializer.IRPCSerializer) *session {
	return &session{
		id:         id,
		link:       link,
		serializer: s,
		outbox:     make(chan protocol.Message, outboxSize),
		done:       make(chan struct{}),
	}
}

// send queues msg. A session that cannot keep up is closed.
func (s *session) send(msg protocol.Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.outbox <- msg:
		return true
	default:
		Logger.Warningf("session %d (%s) is too slow, closing it", s.id, s.link.RemoteAddr())
		s.close()
		return false
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.link.Close()
	})
}

// writeLoop writes queued messages until the session is closed
func (s *session) writeLoop(sent func()) {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.outbox:
			data, err := s.serializer.Serialize(msg)
			if err != nil {
				Logger.Errorf("failed to serialize %s: %v", msg, err)
				continue
			}
			if err := s.link.WriteFrame(data); err != nil {
				if !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
					Logger.Debugf("session %d write failed: %v", s.id, err)
				}
				s.close()
				return
			}
			sent()
		}
	}
}

// readLoop decodes frames and passes them to handle until the link breaks
func (s *session) readLoop(handle func(msg protocol.Message)) {
	for {
		data, err := s.link.ReadFrame()
		if err != nil {
			return
		}

		var msg protocol.Message
		if err := s.serializer.Deserialize(data, &msg); err != nil {
			s.send(protocol.Message{
				Topic:  protocol.TopicConnection,
				Action: protocol.ActionError,
				Data:   []string{string(protocol.ErrKindMessageParse), err.Error()},
			})
			continue
		}
		handle(msg)
	}
}
