package booking

import (
	"context"
	"time"

	"github.com/slotpoint/slotpoint/internal/model"
	"github.com/slotpoint/slotpoint/internal/outbox"
)

// Store is the transactional persistence port the coordinator runs on.
// The production adapter is storage.PostgresStore; tests use an in-memory double.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one atomic unit. Row-lock methods must serialize concurrent callers on
// the same slot or appointment until Commit/Rollback, the way SELECT ... FOR
// UPDATE does: that lock ordering is what makes the booking CAS race-free.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// SlotForUpdate loads and locks a slot row. Returns model.ErrNotFound when absent.
	SlotForUpdate(ctx context.Context, slotID string) (model.Slot, error)
	// MarkSlotBooked flips booked to true only if it is currently false and
	// reports whether a row was updated.
	MarkSlotBooked(ctx context.Context, slotID string) (bool, error)
	ReleaseSlot(ctx context.Context, slotID string) error

	InsertAppointment(ctx context.Context, appt model.Appointment) error
	// AppointmentForUpdate loads and locks an appointment row. Returns model.ErrNotFound when absent.
	AppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error)
	SetAppointmentStatus(ctx context.Context, id string, status model.AppointmentStatus, at time.Time) error
	DeleteAppointment(ctx context.Context, id string) error

	// LockIdempotencyKey locks (inserting if needed) the key row for the client
	// and returns any previously finalized appointment id.
	LockIdempotencyKey(ctx context.Context, clientID, key string) (IdempotencyRecord, error)
	FinalizeIdempotency(ctx context.Context, clientID, key, appointmentID string) error

	InsertEvent(ctx context.Context, evt outbox.Event) error
}

type IdempotencyRecord struct {
	ClientID      string
	Key           string
	AppointmentID string
}

// Finalized reports whether a prior Book already completed under this key.
func (r IdempotencyRecord) Finalized() bool {
	return r.AppointmentID != ""
}
