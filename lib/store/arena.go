package store

import "github.com/ValentinKolb/dSync/lib/record"

// arena keeps evicted records for reuse. It is owned by the store goroutine.
type arena struct {
	host record.Host
	free []*record.Record
	max  int
}

func newArena(host record.Host, max int) *arena {
	return &arena{host: host, max: max}
}

// get returns a record reset to name, reusing a free one if possible
func (a *arena) get(name string) *record.Record {
	if n := len(a.free); n > 0 {
		r := a.free[n-1]
		a.free[n-1] = nil
		a.free = a.free[:n-1]
		r.Reset(name)
		return r
	}
	return record.New(a.host, name)
}

// put returns a record to the arena. It returns false if the arena is full.
func (a *arena) put(r *record.Record) bool {
	// drop listeners and data right away
	r.Reset("")
	if len(a.free) >= a.max {
		return false
	}
	a.free = append(a.free, r)
	return true
}

func (a *arena) len() int {
	return len(a.free)
}
