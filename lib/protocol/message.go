package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message is a single protocol frame. The meaning of Data depends on Action.
type Message struct {
	Topic  Topic    `json:"topic"`
	Action Action   `json:"action"`
	Data   []string `json:"data,omitempty"`
}

// Field returns the i-th data field or "" if the message is too short
func (m Message) Field(i int) string {
	if i < 0 || i >= len(m.Data) {
		return ""
	}
	return m.Data[i]
}

// String returns a compact human readable form, e.g. "RECORD UPDATE [foo 1-x {}]"
func (m Message) String() string {
	return fmt.Sprintf("%s %s [%s]", m.Topic, m.Action, strings.Join(m.Data, " "))
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewRecordMessage creates a message on the RECORD topic
func NewRecordMessage(action Action, data ...string) Message {
	return Message{
		Topic:  TopicRecord,
		Action: action,
		Data:   data,
	}
}

// NewSubscribe creates a SUBSCRIBE message
func NewSubscribe(name string) Message {
	return NewRecordMessage(ActionSubscribe, name)
}

// NewUnsubscribe creates an UNSUBSCRIBE message
func NewUnsubscribe(name string) Message {
	return NewRecordMessage(ActionUnsubscribe, name)
}

// NewRead creates a READ message. The version is optional.
func NewRead(name, version string) Message {
	if version == "" {
		return NewRecordMessage(ActionRead, name)
	}
	return NewRecordMessage(ActionRead, name, version)
}

// NewUpdate creates an UPDATE message. The previous version is optional.
func NewUpdate(name, version, body, prevVersion string) Message {
	if prevVersion == "" {
		return NewRecordMessage(ActionUpdate, name, version, body)
	}
	return NewRecordMessage(ActionUpdate, name, version, body, prevVersion)
}

// NewSync creates a SYNC message
func NewSync(token string) Message {
	return NewRecordMessage(ActionSync, token)
}

// NewHasProvider creates a SUBSCRIPTION_HAS_PROVIDER message
func NewHasProvider(name string, provided bool) Message {
	return NewRecordMessage(ActionHasProvider, name, FormatFlag(provided))
}

// NewError creates an ERROR message
func NewError(kind ErrorKind, context ...string) Message {
	return NewRecordMessage(ActionError, append([]string{string(kind)}, context...)...)
}

// --------------------------------------------------------------------------
// Flags
// --------------------------------------------------------------------------

// Unicast is the LISTEN mode field of a unicast provider
const Unicast = "U"

// FormatFlag encodes a boolean field
func FormatFlag(b bool) string {
	if b {
		return "T"
	}
	return "F"
}

// ParseFlag decodes a boolean field. "T", "true" and "1" are true.
func ParseFlag(s string) bool {
	switch s {
	case "T", "true", "1":
		return true
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Topic Definition
// --------------------------------------------------------------------------

// Topic groups actions by the component that handles them.
type Topic uint8

const (
	TopicUnknown    Topic = iota
	TopicRecord           // Record subscriptions, writes and providers
	TopicConnection       // Connection level events and errors
)

// String returns the wire name of a Topic.
func (t Topic) String() string {
	switch t {
	case TopicRecord:
		return "RECORD"
	case TopicConnection:
		return "CONNECTION"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON serializes a Topic as its wire name.
func (t Topic) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON deserializes a Topic from its wire name.
func (t *Topic) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "RECORD":
		*t = TopicRecord
	case "CONNECTION":
		*t = TopicConnection
	default:
		return fmt.Errorf("unknown topic: %s", s)
	}
	return nil
}

// --------------------------------------------------------------------------
// Action Definition
// --------------------------------------------------------------------------

// Action is the operation a message performs.
type Action uint8

const (
	ActionUnknown Action = iota

	// Record lifecycle

	ActionSubscribe   // Start receiving updates for a record
	ActionUnsubscribe // Stop receiving updates for a record
	ActionRead        // Request the current value of a record
	ActionUpdate      // Carry a new version of a record
	ActionSync        // Flush barrier, echoed by upstream

	// Providers

	ActionListen         // Register a pattern provider
	ActionUnlisten       // Remove a pattern provider
	ActionListenAccept   // Accept (client) or acknowledge / assign (upstream) a match
	ActionListenReject   // Reject (client) or revoke (upstream) a match
	ActionPatternFound   // Upstream found a subscription matching a pattern
	ActionPatternRemoved // Upstream lost the last subscription for a match
	ActionHasProvider    // Provider flag of a record changed

	// Errors

	ActionError // Upstream reported an error
)

var actionNames = map[Action]string{
	ActionSubscribe:      "SUBSCRIBE",
	ActionUnsubscribe:    "UNSUBSCRIBE",
	ActionRead:           "READ",
	ActionUpdate:         "UPDATE",
	ActionSync:           "SYNC",
	ActionListen:         "LISTEN",
	ActionUnlisten:       "UNLISTEN",
	ActionListenAccept:   "LISTEN_ACCEPT",
	ActionListenReject:   "LISTEN_REJECT",
	ActionPatternFound:   "SUBSCRIPTION_FOR_PATTERN_FOUND",
	ActionPatternRemoved: "SUBSCRIPTION_FOR_PATTERN_REMOVED",
	ActionHasProvider:    "SUBSCRIPTION_HAS_PROVIDER",
	ActionError:          "ERROR",
}

// String returns the wire name of an Action.
func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseAction returns the Action for a wire name
func ParseAction(s string) (Action, error) {
	for a, name := range actionNames {
		if name == s {
			return a, nil
		}
	}
	return ActionUnknown, fmt.Errorf("unknown action: %s", s)
}

// MarshalJSON serializes an Action as its wire name.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON deserializes an Action from its wire name.
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	action, err := ParseAction(s)
	if err != nil {
		return err
	}
	*a = action
	return nil
}
