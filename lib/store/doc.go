// Package store implements the client side record store: it mirrors named
// JSON records of an upstream service over a single ordered connection.
//
// The package focuses on:
//   - A unified interface (IStore) for reading, writing and observing records
//   - Optimistic local writes reconciled by version, with writes issued before
//     a baseline exists queued and replayed
//   - Pattern providers that become the authoritative source of records
//   - Recovery after reconnects and a sync barrier for flushing writes
//
// Key Components:
//
//   - Store: the IStore implementation. A single goroutine owns every record,
//     provider and timer; public methods hand closures to it and wait for the
//     result, incoming messages and timer events are posted to it. No record
//     state is ever touched by two goroutines.
//
//   - RecordRef: a handle holding one reference to a record. Records without
//     references are evicted after a grace period by a periodic sweep and
//     returned to a bounded pool for reuse.
//
//   - Observer: a conflating stream of values. A slow consumer only ever sees
//     the latest value.
//
//   - Stats: counters of the store, also exported as metrics.
package store
