package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/slotpoint/slotpoint/internal/model"
	"github.com/slotpoint/slotpoint/internal/outbox"
)

// Coordinator owns the slot/appointment lifecycle: at most one scheduled
// appointment per slot, and slot.booked kept consistent with appointment
// status across concurrent requests. It never retries internally; a lost
// race is reported as model.ErrConflict for the caller to handle.
type Coordinator struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewCoordinator(store Store, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type BookRequest struct {
	ClientID     string
	SpecialistID string
	ServiceID    string
	SlotID       string
	// IdempotencyKey, when set, makes a retried Book after an ambiguous
	// timeout replay the first outcome instead of double-booking.
	IdempotencyKey string
}

// Book atomically flips the slot to booked and creates the matching scheduled
// appointment. Exactly one of two concurrent calls against the same slot wins;
// the other observes booked == true and gets model.ErrConflict.
func (c *Coordinator) Book(ctx context.Context, req BookRequest) (model.Appointment, error) {
	if req.ClientID == "" || req.SpecialistID == "" || req.ServiceID == "" || req.SlotID == "" {
		return model.Appointment{}, fmt.Errorf("%w: client, specialist, service and slot ids are required", model.ErrInvalidArgument)
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if req.IdempotencyKey != "" {
		rec, err := tx.LockIdempotencyKey(ctx, req.ClientID, req.IdempotencyKey)
		if err != nil {
			return model.Appointment{}, err
		}
		if rec.Finalized() {
			appt, err := tx.AppointmentForUpdate(ctx, rec.AppointmentID)
			if err != nil {
				return model.Appointment{}, err
			}
			if err := tx.Commit(ctx); err != nil {
				return model.Appointment{}, err
			}
			c.logger.Info("replayed booking for idempotency key",
				"client_id", req.ClientID,
				"appointment_id", appt.ID,
			)
			return appt, nil
		}
	}

	slot, err := tx.SlotForUpdate(ctx, req.SlotID)
	if err != nil {
		return model.Appointment{}, err
	}
	if slot.SpecialistID != req.SpecialistID || slot.ServiceID != req.ServiceID {
		return model.Appointment{}, fmt.Errorf("%w: slot %s does not belong to the given specialist/service", model.ErrInvalidArgument, req.SlotID)
	}
	if slot.Booked {
		return model.Appointment{}, fmt.Errorf("%w: slot %s is already booked", model.ErrConflict, req.SlotID)
	}

	// Conditional write under the row lock; the affected-row check is the
	// last line of defense should the lock discipline ever regress.
	booked, err := tx.MarkSlotBooked(ctx, req.SlotID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !booked {
		return model.Appointment{}, fmt.Errorf("%w: slot %s is already booked", model.ErrConflict, req.SlotID)
	}

	appt := model.Appointment{
		ID:           uuid.NewString(),
		ClientID:     req.ClientID,
		SpecialistID: req.SpecialistID,
		ServiceID:    req.ServiceID,
		SlotID:       req.SlotID,
		Status:       model.StatusScheduled,
		CreatedAt:    c.now(),
	}
	if err := tx.InsertAppointment(ctx, appt); err != nil {
		return model.Appointment{}, err
	}

	if err := c.insertAppointmentEvent(ctx, tx, outbox.EventAppointmentScheduled, appt, slot); err != nil {
		return model.Appointment{}, err
	}

	if req.IdempotencyKey != "" {
		if err := tx.FinalizeIdempotency(ctx, req.ClientID, req.IdempotencyKey, appt.ID); err != nil {
			return model.Appointment{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// Cancel moves a scheduled appointment to cancelled and frees its slot in one
// atomic unit. Cancelling an already-cancelled appointment is an idempotent
// success; cancelling a completed one is model.ErrInvalidState.
func (c *Coordinator) Cancel(ctx context.Context, appointmentID string) (model.Appointment, error) {
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := tx.AppointmentForUpdate(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}

	switch appt.Status {
	case model.StatusCancelled:
		if err := tx.Commit(ctx); err != nil {
			return model.Appointment{}, err
		}
		return appt, nil
	case model.StatusCompleted:
		return model.Appointment{}, fmt.Errorf("%w: appointment %s is completed", model.ErrInvalidState, appointmentID)
	}

	at := c.now()
	if err := tx.SetAppointmentStatus(ctx, appt.ID, model.StatusCancelled, at); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.ReleaseSlot(ctx, appt.SlotID); err != nil {
		return model.Appointment{}, err
	}

	appt.Status = model.StatusCancelled
	appt.CancelledAt = &at
	if err := c.insertAppointmentEvent(ctx, tx, outbox.EventAppointmentCancelled, appt, model.Slot{ID: appt.SlotID}); err != nil {
		return model.Appointment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// Complete marks a scheduled appointment completed. The slot stays booked:
// a past time window must not become bookable again.
func (c *Coordinator) Complete(ctx context.Context, appointmentID string) (model.Appointment, error) {
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := tx.AppointmentForUpdate(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status != model.StatusScheduled {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s is %s", model.ErrInvalidState, appointmentID, appt.Status)
	}

	at := c.now()
	if err := tx.SetAppointmentStatus(ctx, appt.ID, model.StatusCompleted, at); err != nil {
		return model.Appointment{}, err
	}

	appt.Status = model.StatusCompleted
	appt.CompletedAt = &at
	if err := c.insertAppointmentEvent(ctx, tx, outbox.EventAppointmentCompleted, appt, model.Slot{ID: appt.SlotID}); err != nil {
		return model.Appointment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// Delete hard-deletes an appointment and frees its slot when the appointment
// still holds it. A cancelled appointment released its slot at cancel time and
// the slot may belong to a newer booking by now, so it is left untouched.
// Data-correction path, not the user-facing cancel.
func (c *Coordinator) Delete(ctx context.Context, appointmentID string) error {
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := tx.AppointmentForUpdate(ctx, appointmentID)
	if err != nil {
		return err
	}
	if err := tx.DeleteAppointment(ctx, appt.ID); err != nil {
		return err
	}
	if appt.Status != model.StatusCancelled {
		if err := tx.ReleaseSlot(ctx, appt.SlotID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (c *Coordinator) insertAppointmentEvent(ctx context.Context, tx Tx, eventType string, appt model.Appointment, slot model.Slot) error {
	payload := map[string]any{
		"appointment_id": appt.ID,
		"client_id":      appt.ClientID,
		"specialist_id":  appt.SpecialistID,
		"service_id":     appt.ServiceID,
		"slot_id":        appt.SlotID,
		"status":         string(appt.Status),
	}
	if !slot.StartTime.IsZero() {
		payload["start_time"] = slot.StartTime.UTC().Format(time.RFC3339)
		payload["end_time"] = slot.EndTime.UTC().Format(time.RFC3339)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return tx.InsertEvent(ctx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       body,
	})
}
