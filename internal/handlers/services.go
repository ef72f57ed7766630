package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slotpoint/slotpoint/internal/model"
	"github.com/slotpoint/slotpoint/internal/storage"
)

type ServiceHandler struct {
	repo *storage.ServiceRepository
}

func NewServiceHandler(repo *storage.ServiceRepository) *ServiceHandler {
	return &ServiceHandler{repo: repo}
}

type serviceItem struct {
	ServiceID    string `json:"service_id"`
	SpecialistID string `json:"specialist_id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	DurationMins int    `json:"duration_minutes"`
	CreatedAt    string `json:"created_at"`
}

func serviceToItem(svc model.Service) serviceItem {
	return serviceItem{
		ServiceID:    svc.ID,
		SpecialistID: svc.SpecialistID,
		Name:         svc.Name,
		Description:  svc.Description,
		DurationMins: svc.DurationMins,
		CreatedAt:    svc.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *ServiceHandler) Handle(w http.ResponseWriter, r *http.Request) {
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

func (h *ServiceHandler) list(w http.ResponseWriter, r *http.Request) {
	specialistID := strings.TrimSpace(r.URL.Query().Get("specialist_id"))
	if specialistID == "" {
		http.Error(w, "specialist_id required", http.StatusBadRequest)
		return
	}
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	services, err := h.repo.ListBySpecialist(r.Context(), specialistID, limit)
	if err != nil {
		http.Error(w, "failed to list services", http.StatusInternalServerError)
		return
	}
	items := make([]serviceItem, 0, len(services))
	for _, svc := range services {
		items = append(items, serviceToItem(svc))
	}
	writeJSON(w, http.StatusOK, items)
}

type serviceRequest struct {
	ServiceID    string `json:"service_id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	DurationMins int    `json:"duration_minutes"`
}

func (req *serviceRequest) validate() string {
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	if req.Name == "" || len(req.Name) > 100 {
		return "name is required (max 100 chars)"
	}
	if len(req.Description) > 500 {
		return "description too long (max 500 chars)"
	}
	if req.DurationMins <= 0 || req.DurationMins > 8*60 {
		return "duration_minutes must be between 1 and 480"
	}
	return ""
}

func (h *ServiceHandler) create(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireRole(w, r, string(model.RoleSpecialist))
	if !ok {
		return
	}

	var req serviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	svc, err := h.repo.Create(r.Context(), claims.Sub, req.Name, req.Description, req.DurationMins)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, serviceToItem(svc))
}

func (h *ServiceHandler) update(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireRole(w, r, string(model.RoleSpecialist))
	if !ok {
		return
	}

	var req serviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	if req.ServiceID == "" {
		http.Error(w, "service_id required", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	existing, err := h.repo.GetByID(r.Context(), req.ServiceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if existing.SpecialistID != claims.Sub {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	svc, err := h.repo.Update(r.Context(), req.ServiceID, req.Name, req.Description, req.DurationMins)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, serviceToItem(svc))
}

func (h *ServiceHandler) delete(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireRole(w, r, string(model.RoleSpecialist))
	if !ok {
		return
	}

	serviceID := strings.TrimSpace(r.URL.Query().Get("id"))
	if serviceID == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	existing, err := h.repo.GetByID(r.Context(), serviceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if existing.SpecialistID != claims.Sub {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if err := h.repo.Delete(r.Context(), serviceID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
