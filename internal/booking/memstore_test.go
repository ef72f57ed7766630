package booking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slotpoint/slotpoint/internal/model"
	"github.com/slotpoint/slotpoint/internal/outbox"
)

// memStore is an in-memory Store double. It serializes whole transactions with
// one mutex, a coarser version of the per-row locks the Postgres adapter takes,
// which preserves the property under test: concurrent Books on one slot are
// observed one at a time. Writes go straight to the maps; the coordinator only
// fails a transaction before its first write, so rollback needs no undo log.
type memStore struct {
	mu     sync.Mutex
	slots  map[string]model.Slot
	appts  map[string]model.Appointment
	idem   map[string]string
	events []outbox.Event
}

func newMemStore() *memStore {
	return &memStore{
		slots: make(map[string]model.Slot),
		appts: make(map[string]model.Appointment),
		idem:  make(map[string]string),
	}
}

func (s *memStore) addSlot(slot model.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot.ID] = slot
}

func (s *memStore) slot(id string) model.Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[id]
}

func (s *memStore) appointment(id string) (model.Appointment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	return a, ok
}

func (s *memStore) appointmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.appts)
}

func (s *memStore) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var types []string
	for _, e := range s.events {
		types = append(types, e.EventType)
	}
	return types
}

func (s *memStore) Begin(_ context.Context) (Tx, error) {
	s.mu.Lock()
	return &memTx{s: s}, nil
}

type memTx struct {
	s    *memStore
	done bool
}

func (t *memTx) finish() {
	if !t.done {
		t.done = true
		t.s.mu.Unlock()
	}
}

func (t *memTx) Commit(_ context.Context) error {
	t.finish()
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	t.finish()
	return nil
}

func (t *memTx) SlotForUpdate(_ context.Context, slotID string) (model.Slot, error) {
	slot, ok := t.s.slots[slotID]
	if !ok {
		return model.Slot{}, fmt.Errorf("%w: slot %s", model.ErrNotFound, slotID)
	}
	return slot, nil
}

func (t *memTx) MarkSlotBooked(_ context.Context, slotID string) (bool, error) {
	slot, ok := t.s.slots[slotID]
	if !ok || slot.Booked {
		return false, nil
	}
	slot.Booked = true
	t.s.slots[slotID] = slot
	return true, nil
}

func (t *memTx) ReleaseSlot(_ context.Context, slotID string) error {
	slot, ok := t.s.slots[slotID]
	if !ok {
		return fmt.Errorf("%w: slot %s", model.ErrNotFound, slotID)
	}
	slot.Booked = false
	t.s.slots[slotID] = slot
	return nil
}

func (t *memTx) InsertAppointment(_ context.Context, appt model.Appointment) error {
	t.s.appts[appt.ID] = appt
	return nil
}

func (t *memTx) AppointmentForUpdate(_ context.Context, id string) (model.Appointment, error) {
	appt, ok := t.s.appts[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s", model.ErrNotFound, id)
	}
	return appt, nil
}

func (t *memTx) SetAppointmentStatus(_ context.Context, id string, status model.AppointmentStatus, at time.Time) error {
	appt, ok := t.s.appts[id]
	if !ok {
		return fmt.Errorf("%w: appointment %s", model.ErrNotFound, id)
	}
	appt.Status = status
	switch status {
	case model.StatusCancelled:
		appt.CancelledAt = &at
	case model.StatusCompleted:
		appt.CompletedAt = &at
	}
	t.s.appts[id] = appt
	return nil
}

func (t *memTx) DeleteAppointment(_ context.Context, id string) error {
	delete(t.s.appts, id)
	return nil
}

func (t *memTx) LockIdempotencyKey(_ context.Context, clientID, key string) (IdempotencyRecord, error) {
	k := clientID + "\x00" + key
	if _, ok := t.s.idem[k]; !ok {
		t.s.idem[k] = ""
	}
	return IdempotencyRecord{ClientID: clientID, Key: key, AppointmentID: t.s.idem[k]}, nil
}

func (t *memTx) FinalizeIdempotency(_ context.Context, clientID, key, appointmentID string) error {
	t.s.idem[clientID+"\x00"+key] = appointmentID
	return nil
}

func (t *memTx) InsertEvent(_ context.Context, evt outbox.Event) error {
	t.s.events = append(t.s.events, evt)
	return nil
}
