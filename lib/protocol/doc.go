// Package protocol defines the wire contract between a record client and its
// upstream service, and the collaborator interfaces the record engine relies on.
//
// Every message belongs to a Topic, carries an Action and a positional list of
// string fields. The fields of the RECORD topic are fixed per action:
//
//	SUBSCRIBE [name]                       UNSUBSCRIBE [name]
//	READ [name, version?]                  UPDATE [name, version, json, prevVersion?]
//	SYNC [token]                           LISTEN [pattern, mode?]
//	UNLISTEN [pattern]                     LISTEN_ACCEPT [pattern, name, ...]
//	LISTEN_REJECT [pattern, name]          SUBSCRIPTION_FOR_PATTERN_FOUND [pattern, name]
//	SUBSCRIPTION_FOR_PATTERN_REMOVED [pattern, name]
//	SUBSCRIPTION_HAS_PROVIDER [name, flag] ERROR [kind, ...context]
//
// Key Components:
//
//   - Message: a single protocol frame, with factory functions for every action.
//
//   - Action / Topic: enumerations serialized as their wire names in JSON.
//
//   - ConnectionState: lifecycle of the upstream link as observed by the engine.
//
//   - ErrorKind / Error: the taxonomy of non-fatal faults delivered to an ErrorSink.
//
//   - IConnection: the transport collaborator (send, state, state and message events).
package protocol
