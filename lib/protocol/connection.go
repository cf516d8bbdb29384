package protocol

// --------------------------------------------------------------------------
// Connection State
// --------------------------------------------------------------------------

// ConnectionState is the lifecycle state of the upstream link.
type ConnectionState uint8

const (
	StateClosed ConnectionState = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateError
)

// String returns the name of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateReconnecting:
		return "RECONNECTING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Connected reports whether messages can be sent in this state
func (s ConnectionState) Connected() bool {
	return s == StateOpen
}

// --------------------------------------------------------------------------
// Collaborator Interfaces
// --------------------------------------------------------------------------

// IConnection is the single ordered link to the upstream service.
// Messages are delivered to handlers in the order upstream sent them.
type IConnection interface {
	// Send enqueues a message for delivery. It never blocks on the network
	// and gives no delivery guarantee beyond wire ordering.
	Send(msg Message) error

	// State returns the current connection state
	State() ConnectionState

	// OnStateChange registers a handler called on every state transition.
	// The returned function removes the handler.
	OnStateChange(fn func(ConnectionState)) (remove func())

	// OnMessage registers a handler for incoming messages of a topic.
	// The returned function removes the handler.
	OnMessage(topic Topic, fn func(Message)) (remove func())

	// ReportError delivers a non-fatal fault to the error sink of the connection
	ReportError(err *Error)
}

// ErrorSink receives every non-fatal fault of the engine
type ErrorSink func(err *Error)
