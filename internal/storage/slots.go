package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/slotpoint/slotpoint/internal/model"
	"github.com/slotpoint/slotpoint/libs/db"
)

const slotColumns = `id::text, specialist_id::text, service_id::text, start_time, end_time, booked, created_at`

// SlotRepository owns slot CRUD and availability reads. Invariants enforced
// here: a slot cannot be created with end <= start, and a booked slot can be
// neither rewritten nor deleted.
type SlotRepository struct {
	pool *db.Pool
}

func NewSlotRepository(pool *db.Pool) *SlotRepository {
	return &SlotRepository{pool: pool}
}

func (r *SlotRepository) Create(ctx context.Context, specialistID, serviceID string, start, end time.Time) (model.Slot, error) {
	if !end.After(start) {
		return model.Slot{}, fmt.Errorf("%w: slot end must be after start", model.ErrInvalidArgument)
	}

	slot := model.Slot{
		ID:           uuid.NewString(),
		SpecialistID: specialistID,
		ServiceID:    serviceID,
		StartTime:    start,
		EndTime:      end,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO slots (id, specialist_id, service_id, start_time, end_time, booked)
		VALUES ($1, $2, $3, $4, $5, FALSE)
		RETURNING created_at
	`, slot.ID, slot.SpecialistID, slot.ServiceID, slot.StartTime, slot.EndTime).Scan(&slot.CreatedAt)
	if err != nil {
		return model.Slot{}, translate(err, "slot")
	}
	return slot, nil
}

func (r *SlotRepository) GetByID(ctx context.Context, id string) (model.Slot, error) {
	var slot model.Slot
	err := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id).Scan(&slot.ID, &slot.SpecialistID, &slot.ServiceID, &slot.StartTime, &slot.EndTime, &slot.Booked, &slot.CreatedAt)
	if err != nil {
		return model.Slot{}, translate(err, "slot "+id)
	}
	return slot, nil
}

func (r *SlotRepository) ListBySpecialist(ctx context.Context, specialistID string) ([]model.Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE specialist_id = $1
		ORDER BY start_time ASC
	`, specialistID)
	if err != nil {
		return nil, err
	}
	return scanSlots(rows)
}

func (r *SlotRepository) ListByService(ctx context.Context, serviceID string) ([]model.Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE service_id = $1
		ORDER BY start_time ASC
	`, serviceID)
	if err != nil {
		return nil, err
	}
	return scanSlots(rows)
}

// ListAvailableBySpecialist returns free slots fully contained in [from, to].
func (r *SlotRepository) ListAvailableBySpecialist(ctx context.Context, specialistID string, from, to time.Time) ([]model.Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE specialist_id = $1
			AND NOT booked
			AND start_time >= $2
			AND end_time <= $3
		ORDER BY start_time ASC
	`, specialistID, from, to)
	if err != nil {
		return nil, err
	}
	return scanSlots(rows)
}

func (r *SlotRepository) ListAvailableByService(ctx context.Context, serviceID string, from, to time.Time) ([]model.Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE service_id = $1
			AND NOT booked
			AND start_time >= $2
			AND end_time <= $3
		ORDER BY start_time ASC
	`, serviceID, from, to)
	if err != nil {
		return nil, err
	}
	return scanSlots(rows)
}

// ListOverlapping returns the specialist's slots that intersect [from, to),
// booked or not. Feeds the bulk-publish overlap check.
func (r *SlotRepository) ListOverlapping(ctx context.Context, specialistID string, from, to time.Time) ([]model.Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE specialist_id = $1
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, specialistID, from, to)
	if err != nil {
		return nil, err
	}
	return scanSlots(rows)
}

// Update rewrites a slot's window only while it is free. Zero rows affected
// means either a missing slot or a booked one; the follow-up read tells which.
func (r *SlotRepository) Update(ctx context.Context, id string, start, end time.Time) (model.Slot, error) {
	if !end.After(start) {
		return model.Slot{}, fmt.Errorf("%w: slot end must be after start", model.ErrInvalidArgument)
	}

	ct, err := r.pool.Exec(ctx, `
		UPDATE slots
		SET start_time = $2, end_time = $3
		WHERE id = $1 AND NOT booked
	`, id, start, end)
	if err != nil {
		return model.Slot{}, translate(err, "slot "+id)
	}
	if ct.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return model.Slot{}, err
		}
		return model.Slot{}, fmt.Errorf("%w: slot %s is booked and cannot be updated", model.ErrConflict, id)
	}
	return r.GetByID(ctx, id)
}

func (r *SlotRepository) Delete(ctx context.Context, id string) error {
	ct, err := r.pool.Exec(ctx, `
		DELETE FROM slots
		WHERE id = $1 AND NOT booked
	`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return fmt.Errorf("%w: slot %s has appointment history", model.ErrConflict, id)
		}
		return translate(err, "slot "+id)
	}
	if ct.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: slot %s is booked and cannot be deleted", model.ErrConflict, id)
	}
	return nil
}

func scanSlots(rows pgx.Rows) ([]model.Slot, error) {
	defer rows.Close()

	var slots []model.Slot
	for rows.Next() {
		var slot model.Slot
		if err := rows.Scan(&slot.ID, &slot.SpecialistID, &slot.ServiceID, &slot.StartTime, &slot.EndTime, &slot.Booked, &slot.CreatedAt); err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return slots, nil
}
