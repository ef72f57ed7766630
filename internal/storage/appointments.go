package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/slotpoint/slotpoint/internal/model"
	"github.com/slotpoint/slotpoint/libs/db"
)

const appointmentColumns = `a.id::text, a.client_id::text, a.specialist_id::text, a.service_id::text,
	a.slot_id::text, a.status, a.created_at, a.cancelled_at, a.completed_at`

// AppointmentRepository is the read side; all writes go through the
// booking coordinator's transactional store.
type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id string) (model.Appointment, error) {
	var appt model.Appointment
	err := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.id = $1
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

// ListByClient returns the client's appointments, most recent slot first.
func (r *AppointmentRepository) ListByClient(ctx context.Context, clientID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		JOIN slots s ON s.id = a.slot_id
		WHERE a.client_id = $1
		ORDER BY s.start_time DESC
		LIMIT $2
	`, clientID, limit)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *AppointmentRepository) ListBySpecialist(ctx context.Context, specialistID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		JOIN slots s ON s.id = a.slot_id
		WHERE a.specialist_id = $1
		ORDER BY s.start_time DESC
		LIMIT $2
	`, specialistID, limit)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func scanAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		var appt model.Appointment
		if err := rows.Scan(
			&appt.ID,
			&appt.ClientID,
			&appt.SpecialistID,
			&appt.ServiceID,
			&appt.SlotID,
			&appt.Status,
			&appt.CreatedAt,
			&appt.CancelledAt,
			&appt.CompletedAt,
		); err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}
