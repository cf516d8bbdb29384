package store

import (
	"errors"
	"time"

	"github.com/ValentinKolb/dSync/lib/protocol"
	"github.com/ValentinKolb/dSync/lib/record"
)

// sweep evicts unreferenced records whose grace period elapsed. Queued writes
// that waited longer than the read timeout are reported and their baseline is
// requested again.
func (s *Store) sweep(now time.Time) {
	for r, c := range s.pending {
		if now.Sub(c.since) > s.cfg.ReadTimeout {
			s.reportError(protocol.NewRecordError(protocol.ErrKindTimeout, errors.New("read timeout"),
				r.Name(), r.State().String()))
			c.since = now

			// ask for the baseline again in case the answer was lost
			if s.connected {
				s.send(protocol.NewRead(r.Name(), ""))
			}
		}
	}

	evicted := 0
	for r, since := range s.prune {
		if r.Refs() != 0 {
			delete(s.prune, r)
			continue
		}
		// writes without an echo or a baseline must survive until reconnect
		if r.Pending() || !r.Ready() || r.Unconfirmed() {
			continue
		}
		if now.Sub(since) <= s.gracePeriod(r) {
			continue
		}

		s.destroy(r)
		evicted++
	}

	if evicted > 0 {
		Logger.Debugf("evicted %d records, %d left", evicted, len(s.records))
	}
}

// gracePeriod is shorter for records without a numeric version
func (s *Store) gracePeriod(r *record.Record) time.Duration {
	if r.EntryVersion().Kind() == record.KindNumeric {
		return s.cfg.MinAge
	}
	return s.cfg.MinAgeVoid
}

// destroy removes r from the store and returns it to the arena
func (s *Store) destroy(r *record.Record) {
	name := r.Name()

	delete(s.prune, r)
	delete(s.records, name)

	if s.connected {
		s.send(protocol.NewUnsubscribe(name))
	}

	s.arena.put(r)
	s.metrics.destroyed.Inc()
}
