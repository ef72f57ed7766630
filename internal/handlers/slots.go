package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/slotpoint/slotpoint/internal/availability"
	"github.com/slotpoint/slotpoint/internal/model"
	"github.com/slotpoint/slotpoint/internal/outbox"
	"github.com/slotpoint/slotpoint/internal/storage"
)

type SlotHandler struct {
	slots    *storage.SlotRepository
	services *storage.ServiceRepository
	outbox   *outbox.Repository
	logger   *slog.Logger
}

func NewSlotHandler(slots *storage.SlotRepository, services *storage.ServiceRepository, outboxRepo *outbox.Repository, logger *slog.Logger) *SlotHandler {
	return &SlotHandler{slots: slots, services: services, outbox: outboxRepo, logger: logger}
}

type slotItem struct {
	SlotID       string `json:"slot_id"`
	SpecialistID string `json:"specialist_id"`
	ServiceID    string `json:"service_id"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	Booked       bool   `json:"booked"`
}

func slotToItem(slot model.Slot) slotItem {
	return slotItem{
		SlotID:       slot.ID,
		SpecialistID: slot.SpecialistID,
		ServiceID:    slot.ServiceID,
		StartTime:    slot.StartTime.UTC().Format(time.RFC3339),
		EndTime:      slot.EndTime.UTC().Format(time.RFC3339),
		Booked:       slot.Booked,
	}
}

func slotsToItems(slots []model.Slot) []slotItem {
	items := make([]slotItem, 0, len(slots))
	for _, slot := range slots {
		items = append(items, slotToItem(slot))
	}
	return items
}

func (h *SlotHandler) Handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.create(w, r)
	case http.MethodPatch:
		h.update(w, r)
	case http.MethodDelete:
		h.delete(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SlotHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if id := strings.TrimSpace(q.Get("id")); id != "" {
		slot, err := h.slots.GetByID(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, slotToItem(slot))
		return
	}
	if specialistID := strings.TrimSpace(q.Get("specialist_id")); specialistID != "" {
		slots, err := h.slots.ListBySpecialist(r.Context(), specialistID)
		if err != nil {
			http.Error(w, "failed to list slots", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, slotsToItems(slots))
		return
	}
	if serviceID := strings.TrimSpace(q.Get("service_id")); serviceID != "" {
		slots, err := h.slots.ListByService(r.Context(), serviceID)
		if err != nil {
			http.Error(w, "failed to list slots", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, slotsToItems(slots))
		return
	}
	http.Error(w, "id, specialist_id, or service_id required", http.StatusBadRequest)
}

type createSlotRequest struct {
	ServiceID string `json:"service_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (h *SlotHandler) create(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireRole(w, r, string(model.RoleSpecialist))
	if !ok {
		return
	}

	var req createSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	if req.ServiceID == "" {
		http.Error(w, "service_id required", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		http.Error(w, "invalid end_time", http.StatusBadRequest)
		return
	}
	if !end.After(start) {
		http.Error(w, "end_time must be after start_time", http.StatusBadRequest)
		return
	}

	svc, err := h.services.GetByID(r.Context(), req.ServiceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if svc.SpecialistID != claims.Sub {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	slot, err := h.slots.Create(r.Context(), claims.Sub, req.ServiceID, start, end)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.publishSlotEvent(r, []model.Slot{slot})
	writeJSON(w, http.StatusCreated, slotToItem(slot))
}

type publishSlotsRequest struct {
	ServiceID   string `json:"service_id"`
	WindowStart string `json:"window_start"`
	WindowEnd   string `json:"window_end"`
	StepMins    int    `json:"slot_step_minutes"`
}

// Publish bulk-creates free slots of the service's duration inside a working
// window, skipping anything that would overlap the specialist's existing slots.
func (h *SlotHandler) Publish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, ok := requireRole(w, r, string(model.RoleSpecialist))
	if !ok {
		return
	}

	var req publishSlotsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	if req.ServiceID == "" {
		http.Error(w, "service_id required", http.StatusBadRequest)
		return
	}
	windowStart, err := time.Parse(time.RFC3339, req.WindowStart)
	if err != nil {
		http.Error(w, "invalid window_start", http.StatusBadRequest)
		return
	}
	windowEnd, err := time.Parse(time.RFC3339, req.WindowEnd)
	if err != nil {
		http.Error(w, "invalid window_end", http.StatusBadRequest)
		return
	}
	if !windowEnd.After(windowStart) {
		http.Error(w, "window_end must be after window_start", http.StatusBadRequest)
		return
	}

	svc, err := h.services.GetByID(r.Context(), req.ServiceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if svc.SpecialistID != claims.Sub {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	duration := time.Duration(svc.DurationMins) * time.Minute
	step := duration
	if req.StepMins > 0 && req.StepMins <= 120 {
		step = time.Duration(req.StepMins) * time.Minute
	}

	existing, err := h.slots.ListOverlapping(r.Context(), claims.Sub, windowStart, windowEnd)
	if err != nil {
		http.Error(w, "failed to load existing slots", http.StatusInternalServerError)
		return
	}
	taken := make([]availability.Interval, 0, len(existing))
	for _, s := range existing {
		taken = append(taken, availability.Interval{Start: s.StartTime, End: s.EndTime})
	}

	windows := availability.CandidateWindows(windowStart, windowEnd, duration, step, taken, time.Now().UTC())

	created := make([]model.Slot, 0, len(windows))
	for _, win := range windows {
		slot, err := h.slots.Create(r.Context(), claims.Sub, req.ServiceID, win.Start, win.End)
		if err != nil {
			h.logger.Error("slot publish failed mid-batch", "err", err, "start", win.Start)
			break
		}
		created = append(created, slot)
	}
	h.publishSlotEvent(r, created)
	writeJSON(w, http.StatusCreated, slotsToItems(created))
}

type updateSlotRequest struct {
	SlotID    string `json:"slot_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (h *SlotHandler) update(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireRole(w, r, string(model.RoleSpecialist))
	if !ok {
		return
	}

	var req updateSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.SlotID = strings.TrimSpace(req.SlotID)
	if req.SlotID == "" {
		http.Error(w, "slot_id required", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		http.Error(w, "invalid end_time", http.StatusBadRequest)
		return
	}

	existing, err := h.slots.GetByID(r.Context(), req.SlotID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if existing.SpecialistID != claims.Sub {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	slot, err := h.slots.Update(r.Context(), req.SlotID, start, end)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slotToItem(slot))
}

func (h *SlotHandler) delete(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireRole(w, r, string(model.RoleSpecialist))
	if !ok {
		return
	}

	slotID := strings.TrimSpace(r.URL.Query().Get("id"))
	if slotID == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	existing, err := h.slots.GetByID(r.Context(), slotID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if existing.SpecialistID != claims.Sub {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if err := h.slots.Delete(r.Context(), slotID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Availability serves the public free-slot query: free slots fully contained
// in [from, to] for one specialist or one service. Booked slots never appear
// even when their window lies inside the range.
func (h *SlotHandler) Availability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	specialistID := strings.TrimSpace(q.Get("specialist_id"))
	serviceID := strings.TrimSpace(q.Get("service_id"))
	if (specialistID == "") == (serviceID == "") {
		http.Error(w, "exactly one of specialist_id or service_id required", http.StatusBadRequest)
		return
	}

	from, err := time.Parse(time.RFC3339, strings.TrimSpace(q.Get("from")))
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, strings.TrimSpace(q.Get("to")))
	if err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	var slots []model.Slot
	if specialistID != "" {
		slots, err = h.slots.ListAvailableBySpecialist(r.Context(), specialistID, from, to)
	} else {
		slots, err = h.slots.ListAvailableByService(r.Context(), serviceID, from, to)
	}
	if err != nil {
		http.Error(w, "failed to list availability", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, slotsToItems(slots))
}

func (h *SlotHandler) publishSlotEvent(r *http.Request, slots []model.Slot) {
	if len(slots) == 0 {
		return
	}
	items := make([]map[string]string, 0, len(slots))
	for _, s := range slots {
		items = append(items, map[string]string{
			"slot_id":    s.ID,
			"start_time": s.StartTime.UTC().Format(time.RFC3339),
			"end_time":   s.EndTime.UTC().Format(time.RFC3339),
		})
	}
	payload, err := json.Marshal(map[string]any{
		"specialist_id": slots[0].SpecialistID,
		"service_id":    slots[0].ServiceID,
		"slots":         items,
	})
	if err != nil {
		h.logger.Error("failed to build slot event payload", "err", err)
		return
	}
	if err := h.outbox.InsertStandalone(r.Context(), outbox.Event{
		AggregateType: "slot",
		AggregateID:   slots[0].SpecialistID,
		EventType:     outbox.EventSlotPublished,
		Payload:       payload,
	}); err != nil {
		h.logger.Error("failed to enqueue slot event", "err", err)
	}
}
