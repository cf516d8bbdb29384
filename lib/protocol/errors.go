package protocol

import (
	"fmt"
	"strings"
)

// ErrorKind names a category of non-fatal fault. The value is used on the wire.
type ErrorKind string

const (
	ErrKindUser           ErrorKind = "USER_ERROR"          // Write against a provided, stale or unreferenced record
	ErrKindUpdate         ErrorKind = "UPDATE_ERROR"        // Malformed incoming payload
	ErrKindListener       ErrorKind = "LISTENER_ERROR"      // Provider factory failure or accept/reject violation
	ErrKindListenerExists ErrorKind = "LISTENER_EXISTS"     // Duplicate pattern registration
	ErrKindTimeout        ErrorKind = "TIMEOUT"             // Observe, get or sync deadline exceeded
	ErrKindNotConnected   ErrorKind = "NOT_CONNECTED"       // Message dropped while disconnected
	ErrKindConnection     ErrorKind = "CONNECTION_ERROR"    // Transport failure
	ErrKindMessageParse   ErrorKind = "MESSAGE_PARSE_ERROR" // Undecodable frame
	ErrKindInvalidMessage ErrorKind = "INVALID_MESSAGE"     // Decodable frame with unexpected fields
)

// Error is a non-fatal fault as delivered to an ErrorSink.
type Error struct {
	Topic   Topic
	Kind    ErrorKind
	Err     error
	Context []string
}

// NewRecordError creates an Error on the RECORD topic
func NewRecordError(kind ErrorKind, err error, context ...string) *Error {
	return &Error{
		Topic:   TopicRecord,
		Kind:    kind,
		Err:     err,
		Context: context,
	}
}

// Errorf creates an Error on the RECORD topic with a formatted message
func Errorf(kind ErrorKind, context []string, format string, args ...any) *Error {
	return NewRecordError(kind, fmt.Errorf(format, args...), context...)
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Context) > 0 {
		msg += " [" + strings.Join(e.Context, ", ") + "]"
	}
	return fmt.Sprintf("%s %s", e.Topic, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}
