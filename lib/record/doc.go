// Package record implements the local replica of a single named document and
// the version scheme used to reconcile it with upstream.
//
// A Record starts without baseline. Local writes issued before the first
// upstream update are queued and replayed against the baseline once it
// arrives. After that, writes are applied optimistically: the version is
// bumped, the write is sent upstream and kept until upstream echoes it.
// Incoming updates are accepted if they rank higher or carry the stale
// marker; lower ranked updates are answered by resending the local entry.
//
// Versions have the wire form "<seq>-<suffix>". The prefix "I" marks a
// version reconstructed by upstream, the prefix "INF" a version authored by a
// provider. They are parsed once into a Version and ordered
// void < stale < numeric < provider.
package record
