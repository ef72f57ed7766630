package model

import "time"

type UserRole string

const (
	RoleClient     UserRole = "client"
	RoleSpecialist UserRole = "specialist"
)

type User struct {
	ID           string
	FullName     string
	Email        string
	PasswordHash string
	Role         UserRole
	CreatedAt    time.Time
}

type Service struct {
	ID           string
	SpecialistID string
	Name         string
	Description  string
	DurationMins int
	CreatedAt    time.Time
}

// Slot is a specialist-published bookable time window for one service.
// Booked is the mutual-exclusion gate: it is true exactly while a scheduled
// appointment references the slot (or the slot is administratively held).
type Slot struct {
	ID           string
	SpecialistID string
	ServiceID    string
	StartTime    time.Time
	EndTime      time.Time
	Booked       bool
	CreatedAt    time.Time
}

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition leaves this status.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Appointment struct {
	ID           string
	ClientID     string
	SpecialistID string
	ServiceID    string
	SlotID       string
	Status       AppointmentStatus
	CreatedAt    time.Time
	CancelledAt  *time.Time
	CompletedAt  *time.Time
}
