package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/slotpoint/slotpoint/internal/model"
	"github.com/slotpoint/slotpoint/libs/db"
)

type ServiceRepository struct {
	pool *db.Pool
}

func NewServiceRepository(pool *db.Pool) *ServiceRepository {
	return &ServiceRepository{pool: pool}
}

func (r *ServiceRepository) Create(ctx context.Context, specialistID, name, description string, durationMins int) (model.Service, error) {
	svc := model.Service{
		ID:           uuid.NewString(),
		SpecialistID: specialistID,
		Name:         name,
		Description:  description,
		DurationMins: durationMins,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO services (id, specialist_id, name, description, duration_minutes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, svc.ID, svc.SpecialistID, svc.Name, svc.Description, svc.DurationMins).Scan(&svc.CreatedAt)
	if err != nil {
		return model.Service{}, translate(err, "service")
	}
	return svc, nil
}

func (r *ServiceRepository) GetByID(ctx context.Context, id string) (model.Service, error) {
	var svc model.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, specialist_id::text, name, description, duration_minutes, created_at
		FROM services
		WHERE id = $1
	`, id).Scan(&svc.ID, &svc.SpecialistID, &svc.Name, &svc.Description, &svc.DurationMins, &svc.CreatedAt)
	if err != nil {
		return model.Service{}, translate(err, "service "+id)
	}
	return svc, nil
}

func (r *ServiceRepository) ListBySpecialist(ctx context.Context, specialistID string, limit int) ([]model.Service, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, specialist_id::text, name, description, duration_minutes, created_at
		FROM services
		WHERE specialist_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, specialistID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Service
	for rows.Next() {
		var svc model.Service
		if err := rows.Scan(&svc.ID, &svc.SpecialistID, &svc.Name, &svc.Description, &svc.DurationMins, &svc.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *ServiceRepository) Update(ctx context.Context, id, name, description string, durationMins int) (model.Service, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE services
		SET name = $2, description = $3, duration_minutes = $4
		WHERE id = $1
	`, id, name, description, durationMins)
	if err != nil {
		return model.Service{}, translate(err, "service "+id)
	}
	if ct.RowsAffected() == 0 {
		return model.Service{}, fmt.Errorf("%w: service %s", model.ErrNotFound, id)
	}
	return r.GetByID(ctx, id)
}

// Delete removes a service. Foreign keys restrict deletion while slots or
// appointments still reference it; that surfaces as a conflict.
func (r *ServiceRepository) Delete(ctx context.Context, id string) error {
	ct, err := r.pool.Exec(ctx, `
		DELETE FROM services
		WHERE id = $1
	`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return fmt.Errorf("%w: service %s still has slots or appointments", model.ErrConflict, id)
		}
		return translate(err, "service "+id)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: service %s", model.ErrNotFound, id)
	}
	return nil
}
