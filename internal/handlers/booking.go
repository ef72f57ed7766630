package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slotpoint/slotpoint/internal/booking"
	"github.com/slotpoint/slotpoint/internal/model"
)

// BookingService is the slice of the booking coordinator the HTTP layer needs.
type BookingService interface {
	Book(ctx context.Context, req booking.BookRequest) (model.Appointment, error)
	Cancel(ctx context.Context, appointmentID string) (model.Appointment, error)
	Complete(ctx context.Context, appointmentID string) (model.Appointment, error)
	Delete(ctx context.Context, appointmentID string) error
}

// AppointmentReader serves the read-only appointment queries.
type AppointmentReader interface {
	GetByID(ctx context.Context, id string) (model.Appointment, error)
	ListByClient(ctx context.Context, clientID string, limit int) ([]model.Appointment, error)
	ListBySpecialist(ctx context.Context, specialistID string, limit int) ([]model.Appointment, error)
}

// SlotReader resolves the slot a client wants to book.
type SlotReader interface {
	GetByID(ctx context.Context, id string) (model.Slot, error)
}

type BookingHandler struct {
	coordinator  BookingService
	appointments AppointmentReader
	slots        SlotReader
	logger       *slog.Logger
}

func NewBookingHandler(coordinator BookingService, appointments AppointmentReader, slots SlotReader, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{coordinator: coordinator, appointments: appointments, slots: slots, logger: logger}
}

type appointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	ClientID      string `json:"client_id"`
	SpecialistID  string `json:"specialist_id"`
	ServiceID     string `json:"service_id"`
	SlotID        string `json:"slot_id"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CompletedAt   string `json:"completed_at,omitempty"`
}

func appointmentToItem(appt model.Appointment) appointmentItem {
	item := appointmentItem{
		AppointmentID: appt.ID,
		ClientID:      appt.ClientID,
		SpecialistID:  appt.SpecialistID,
		ServiceID:     appt.ServiceID,
		SlotID:        appt.SlotID,
		Status:        string(appt.Status),
		CreatedAt:     appt.CreatedAt.UTC().Format(time.RFC3339),
	}
	if appt.CancelledAt != nil {
		item.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	if appt.CompletedAt != nil {
		item.CompletedAt = appt.CompletedAt.UTC().Format(time.RFC3339)
	}
	return item
}

type bookRequest struct {
	SlotID string `json:"slot_id"`
}

// Book creates an appointment for the caller on a free slot. At most one
// active appointment ever exists per slot; losers of a race get a 409.
func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, ok := requireRole(w, r, string(model.RoleClient))
	if !ok {
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.SlotID = strings.TrimSpace(req.SlotID)
	if req.SlotID == "" {
		http.Error(w, "slot_id required", http.StatusBadRequest)
		return
	}

	slot, err := h.slots.GetByID(r.Context(), req.SlotID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	appt, err := h.coordinator.Book(r.Context(), booking.BookRequest{
		ClientID:       claims.Sub,
		SpecialistID:   slot.SpecialistID,
		ServiceID:      slot.ServiceID,
		SlotID:         slot.ID,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"client_id", appt.ClientID,
		"slot_id", appt.SlotID,
	)
	writeJSON(w, http.StatusCreated, appointmentToItem(appt))
}

type appointmentActionRequest struct {
	AppointmentID string `json:"appointment_id"`
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, ok := requireCaller(w, r)
	if !ok {
		return
	}

	id, ok := decodeAppointmentID(w, r)
	if !ok {
		return
	}

	existing, err := h.appointments.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if existing.ClientID != claims.Sub && existing.SpecialistID != claims.Sub {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	appt, err := h.coordinator.Cancel(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.logger.Info("appointment cancelled", "appointment_id", appt.ID, "by", claims.Sub)
	writeJSON(w, http.StatusOK, appointmentToItem(appt))
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, ok := requireRole(w, r, string(model.RoleSpecialist))
	if !ok {
		return
	}

	id, ok := decodeAppointmentID(w, r)
	if !ok {
		return
	}

	existing, err := h.appointments.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if existing.SpecialistID != claims.Sub {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	appt, err := h.coordinator.Complete(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentToItem(appt))
}

// Delete hard-deletes an appointment record. Reserved for the specialist who
// owns the appointment; the coordinator decides whether the slot is freed.
func (h *BookingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, ok := requireRole(w, r, string(model.RoleSpecialist))
	if !ok {
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	existing, err := h.appointments.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if existing.SpecialistID != claims.Sub {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if err := h.coordinator.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, ok := requireCaller(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	var (
		appts []model.Appointment
		err   error
	)
	switch {
	case q.Get("client_id") != "":
		clientID := strings.TrimSpace(q.Get("client_id"))
		if clientID != claims.Sub {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		appts, err = h.appointments.ListByClient(r.Context(), clientID, limit)
	case q.Get("specialist_id") != "":
		specialistID := strings.TrimSpace(q.Get("specialist_id"))
		if specialistID != claims.Sub {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		appts, err = h.appointments.ListBySpecialist(r.Context(), specialistID, limit)
	case claims.Role == string(model.RoleSpecialist):
		appts, err = h.appointments.ListBySpecialist(r.Context(), claims.Sub, limit)
	default:
		appts, err = h.appointments.ListByClient(r.Context(), claims.Sub, limit)
	}
	if err != nil {
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}

	items := make([]appointmentItem, 0, len(appts))
	for _, appt := range appts {
		items = append(items, appointmentToItem(appt))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, ok := requireCaller(w, r)
	if !ok {
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	appt, err := h.appointments.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if appt.ClientID != claims.Sub && appt.SpecialistID != claims.Sub {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, appointmentToItem(appt))
}

func decodeAppointmentID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req appointmentActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return "", false
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return "", false
	}
	return req.AppointmentID, true
}
