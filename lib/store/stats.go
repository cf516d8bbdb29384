package store

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// storeMetrics exports the counters of a store. Gauges read the loop state
// through Stats while being written.
type storeMetrics struct {
	set *metrics.Set

	created   *metrics.Counter
	destroyed *metrics.Counter
	sent      *metrics.Counter
	received  *metrics.Counter
	errors    *metrics.Counter
}

func newStoreMetrics(s *Store) *storeMetrics {
	set := metrics.NewSet()
	m := &storeMetrics{
		set:       set,
		created:   set.NewCounter("dsync_records_created_total"),
		destroyed: set.NewCounter("dsync_records_destroyed_total"),
		sent:      set.NewCounter("dsync_messages_sent_total"),
		received:  set.NewCounter("dsync_messages_received_total"),
		errors:    set.NewCounter("dsync_errors_total"),
	}

	gauge := func(name string, value func(Stats) int) {
		set.NewGauge(name, func() float64 {
			stats, err := s.Stats()
			if err != nil {
				return 0
			}
			return float64(value(stats))
		})
	}
	gauge("dsync_records", func(st Stats) int { return st.Records })
	gauge("dsync_records_pruning", func(st Stats) int { return st.Pruning })
	gauge("dsync_records_pending", func(st Stats) int { return st.Pending })
	gauge("dsync_records_pooled", func(st Stats) int { return st.Pooled })
	gauge("dsync_updates_in_flight", func(st Stats) int { return st.Updating })
	gauge("dsync_listeners", func(st Stats) int { return st.Listeners })

	return m
}

// Stats returns counters of the store
func (s *Store) Stats() (Stats, error) {
	var stats Stats
	err := s.do(func() {
		stats = Stats{
			Records:   len(s.records),
			Created:   int(s.metrics.created.Get()),
			Destroyed: int(s.metrics.destroyed.Get()),
			Pruning:   len(s.prune),
			Pending:   len(s.pending),
			Updating:  len(s.updating),
			Listeners: len(s.providers),
			Pooled:    s.arena.len(),
		}
	})
	return stats, err
}

// WritePrometheus writes the metrics of the store in Prometheus text format
func (s *Store) WritePrometheus(w io.Writer) {
	s.metrics.set.WritePrometheus(w)
}
