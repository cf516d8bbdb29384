package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dSync/lib/record"
)

// Update waits until the named record reached the SERVER state and writes the
// result of updater at path
func (s *Store) Update(ctx context.Context, name, path string, updater Updater) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := record.ValidatePath(path); err != nil {
		return err
	}
	if updater == nil {
		return fmt.Errorf("%w: missing updater", ErrInvalidArgument)
	}

	ref, err := s.GetRecord(name)
	if err != nil {
		return err
	}
	defer ref.Release()

	return ref.Update(ctx, path, updater)
}

// Update waits until the record reached the SERVER state and writes the
// result of updater at path. Sync waits for updates in flight.
func (r *RecordRef) Update(ctx context.Context, path string, updater Updater) error {
	if err := record.ValidatePath(path); err != nil {
		return err
	}
	if updater == nil {
		return fmt.Errorf("%w: missing updater", ErrInvalidArgument)
	}

	var id uint64
	if err := r.with(func(*record.Record) error {
		id = r.s.startUpdate()
		return nil
	}); err != nil {
		return err
	}
	defer func() {
		_ = r.s.do(func() { r.s.finishUpdate(id) })
	}()

	if err := r.When(ctx, record.StateServer); err != nil {
		return err
	}

	return r.with(func(rec *record.Record) error {
		return rec.Update(path, updater)
	})
}

func (s *Store) startUpdate() uint64 {
	id := s.nextID
	s.nextID++
	s.updating[id] = &completion{since: time.Now()}
	return id
}

func (s *Store) finishUpdate(id uint64) {
	if c, ok := s.updating[id]; ok {
		delete(s.updating, id)
		c.complete()
	}
}
