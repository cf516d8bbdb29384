// Package provider lets a client supply the value of every record whose name
// matches a pattern.
//
// Two variants exist. A multicast provider negotiates every match with
// upstream: when upstream reports a subscription matching the pattern the
// factory is asked for a Provision, the match is accepted or rejected (a
// stream decides with its first emitted value), and
// values are only pushed once upstream acknowledged the acceptance, so at
// most one provider pushes at any time. A unicast provider relies on upstream
// routing instead: a match is assigned to exactly one client which pushes its
// first value immediately.
//
// Pushed values are serialized, deduplicated against the previous push and
// written with a content addressed version carrying the "INF" marker.
//
// Key Components:
//
//   - Provision: tagged variant returned by a Factory, either Single(value)
//     or Stream(source). Streams run in their own goroutine and are canceled
//     through their context on teardown.
//
//   - IProvider: the handle owned by the record store, fed with protocol
//     messages and connection changes.
//
//   - Host: the owner's messaging surface, including Post to run emissions on
//     the owner's goroutine.
package provider
