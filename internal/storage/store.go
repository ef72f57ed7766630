package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/slotpoint/slotpoint/internal/booking"
	"github.com/slotpoint/slotpoint/internal/model"
	"github.com/slotpoint/slotpoint/internal/outbox"
	"github.com/slotpoint/slotpoint/libs/db"
)

// PostgresStore is the booking.Store adapter. The slot row is the
// mutual-exclusion unit: SlotForUpdate takes the row lock and MarkSlotBooked
// is a conditional update checked by affected-row count.
type PostgresStore struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewPostgresStore(pool *db.Pool, outboxRepo *outbox.Repository) *PostgresStore {
	return &PostgresStore{pool: pool, outbox: outboxRepo}
}

func (s *PostgresStore) Begin(ctx context.Context) (booking.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx, outbox: s.outbox}, nil
}

type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func (t *pgTx) SlotForUpdate(ctx context.Context, slotID string) (model.Slot, error) {
	var slot model.Slot
	err := t.tx.QueryRow(ctx, `
		SELECT id::text, specialist_id::text, service_id::text, start_time, end_time, booked, created_at
		FROM slots
		WHERE id = $1
		FOR UPDATE
	`, slotID).Scan(&slot.ID, &slot.SpecialistID, &slot.ServiceID, &slot.StartTime, &slot.EndTime, &slot.Booked, &slot.CreatedAt)
	if err != nil {
		return model.Slot{}, translate(err, "slot "+slotID)
	}
	return slot, nil
}

func (t *pgTx) MarkSlotBooked(ctx context.Context, slotID string) (bool, error) {
	ct, err := t.tx.Exec(ctx, `
		UPDATE slots
		SET booked = TRUE
		WHERE id = $1 AND NOT booked
	`, slotID)
	if err != nil {
		return false, translate(err, "slot "+slotID)
	}
	return ct.RowsAffected() == 1, nil
}

func (t *pgTx) ReleaseSlot(ctx context.Context, slotID string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE slots
		SET booked = FALSE
		WHERE id = $1
	`, slotID)
	return translate(err, "slot "+slotID)
}

func (t *pgTx) InsertAppointment(ctx context.Context, appt model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments (id, client_id, specialist_id, service_id, slot_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, appt.ID, appt.ClientID, appt.SpecialistID, appt.ServiceID, appt.SlotID, appt.Status, appt.CreatedAt)
	return translate(err, "appointment for slot "+appt.SlotID)
}

func (t *pgTx) AppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	var appt model.Appointment
	err := t.tx.QueryRow(ctx, `
		SELECT id::text, client_id::text, specialist_id::text, service_id::text, slot_id::text,
			status, created_at, cancelled_at, completed_at
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(
		&appt.ID,
		&appt.ClientID,
		&appt.SpecialistID,
		&appt.ServiceID,
		&appt.SlotID,
		&appt.Status,
		&appt.CreatedAt,
		&appt.CancelledAt,
		&appt.CompletedAt,
	)
	if err != nil {
		return model.Appointment{}, translate(err, "appointment "+id)
	}
	return appt, nil
}

func (t *pgTx) SetAppointmentStatus(ctx context.Context, id string, status model.AppointmentStatus, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
			cancelled_at = CASE WHEN $2 = 'cancelled' THEN $3 ELSE cancelled_at END,
			completed_at = CASE WHEN $2 = 'completed' THEN $3 ELSE completed_at END
		WHERE id = $1
	`, id, status, at)
	return translate(err, "appointment "+id)
}

func (t *pgTx) DeleteAppointment(ctx context.Context, id string) error {
	_, err := t.tx.Exec(ctx, `
		DELETE FROM appointments
		WHERE id = $1
	`, id)
	return translate(err, "appointment "+id)
}

func (t *pgTx) LockIdempotencyKey(ctx context.Context, clientID, key string) (booking.IdempotencyRecord, error) {
	rec, err := t.selectIdempotencyForUpdate(ctx, clientID, key)
	if err == nil {
		return rec, nil
	}
	if !isNoRows(err) {
		return booking.IdempotencyRecord{}, err
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (client_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (client_id, idempotency_key) DO NOTHING
	`, clientID, key)
	if err != nil {
		return booking.IdempotencyRecord{}, err
	}
	return t.selectIdempotencyForUpdate(ctx, clientID, key)
}

func (t *pgTx) FinalizeIdempotency(ctx context.Context, clientID, key, appointmentID string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $3,
			updated_at = now()
		WHERE client_id = $1 AND idempotency_key = $2
	`, clientID, key, appointmentID)
	return err
}

func (t *pgTx) InsertEvent(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

func (t *pgTx) selectIdempotencyForUpdate(ctx context.Context, clientID, key string) (booking.IdempotencyRecord, error) {
	var rec booking.IdempotencyRecord
	err := t.tx.QueryRow(ctx, `
		SELECT client_id::text, idempotency_key, COALESCE(appointment_id::text, '')
		FROM booking_idempotency_keys
		WHERE client_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, clientID, key).Scan(&rec.ClientID, &rec.Key, &rec.AppointmentID)
	if err != nil {
		return booking.IdempotencyRecord{}, err
	}
	return rec, nil
}

func isNoRows(err error) bool {
	return err == pgx.ErrNoRows
}
