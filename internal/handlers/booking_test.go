package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/slotpoint/slotpoint/internal/booking"
	"github.com/slotpoint/slotpoint/internal/model"
	"github.com/slotpoint/slotpoint/libs/auth"
)

type stubCoordinator struct {
	bookReq  booking.BookRequest
	bookErr  error
	appt     model.Appointment
	cancels  int
	deletes  int
	complete int
}

func (s *stubCoordinator) Book(_ context.Context, req booking.BookRequest) (model.Appointment, error) {
	s.bookReq = req
	if s.bookErr != nil {
		return model.Appointment{}, s.bookErr
	}
	return s.appt, nil
}

func (s *stubCoordinator) Cancel(_ context.Context, _ string) (model.Appointment, error) {
	s.cancels++
	return s.appt, nil
}

func (s *stubCoordinator) Complete(_ context.Context, _ string) (model.Appointment, error) {
	s.complete++
	return s.appt, nil
}

func (s *stubCoordinator) Delete(_ context.Context, _ string) error {
	s.deletes++
	return nil
}

type stubAppointments struct {
	appt model.Appointment
	err  error
}

func (s *stubAppointments) GetByID(_ context.Context, _ string) (model.Appointment, error) {
	return s.appt, s.err
}

func (s *stubAppointments) ListByClient(_ context.Context, _ string, _ int) ([]model.Appointment, error) {
	return []model.Appointment{s.appt}, nil
}

func (s *stubAppointments) ListBySpecialist(_ context.Context, _ string, _ int) ([]model.Appointment, error) {
	return []model.Appointment{s.appt}, nil
}

type stubSlots struct {
	slot model.Slot
	err  error
}

func (s *stubSlots) GetByID(_ context.Context, _ string) (model.Slot, error) {
	return s.slot, s.err
}

func testAppointment() model.Appointment {
	return model.Appointment{
		ID:           "appt-1",
		ClientID:     "client-1",
		SpecialistID: "spec-1",
		ServiceID:    "svc-1",
		SlotID:       "slot-1",
		Status:       model.StatusScheduled,
		CreatedAt:    time.Date(2025, 11, 13, 9, 0, 0, 0, time.UTC),
	}
}

func withClaims(r *http.Request, sub, role string) *http.Request {
	claims := &auth.Claims{Sub: sub, Role: role}
	return r.WithContext(context.WithValue(r.Context(), ctxKeyClaims, claims))
}

func newTestBookingHandler(coord *stubCoordinator, appts *stubAppointments, slots *stubSlots) *BookingHandler {
	return NewBookingHandler(coord, appts, slots, slog.New(slog.DiscardHandler))
}

func TestBook_UsesCallerAndSlotDetails(t *testing.T) {
	coord := &stubCoordinator{appt: testAppointment()}
	slots := &stubSlots{slot: model.Slot{ID: "slot-1", SpecialistID: "spec-1", ServiceID: "svc-1"}}
	h := newTestBookingHandler(coord, &stubAppointments{}, slots)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/public/book", strings.NewReader(`{"slot_id":"slot-1"}`))
	req.Header.Set("Idempotency-Key", "retry-1")
	req = withClaims(req, "client-1", string(model.RoleClient))
	rec := httptest.NewRecorder()
	h.Book(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if coord.bookReq.ClientID != "client-1" {
		t.Fatalf("expected caller as client, got %q", coord.bookReq.ClientID)
	}
	if coord.bookReq.SpecialistID != "spec-1" || coord.bookReq.ServiceID != "svc-1" {
		t.Fatalf("expected slot details forwarded, got %+v", coord.bookReq)
	}
	if coord.bookReq.IdempotencyKey != "retry-1" {
		t.Fatalf("expected idempotency key forwarded, got %q", coord.bookReq.IdempotencyKey)
	}
	if !strings.Contains(rec.Body.String(), `"appointment_id":"appt-1"`) {
		t.Fatalf("expected appointment in body, got %s", rec.Body.String())
	}
}

func TestBook_RequiresClientRole(t *testing.T) {
	h := newTestBookingHandler(&stubCoordinator{}, &stubAppointments{}, &stubSlots{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/public/book", strings.NewReader(`{"slot_id":"slot-1"}`))
	req = withClaims(req, "spec-1", string(model.RoleSpecialist))
	rec := httptest.NewRecorder()
	h.Book(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for specialist caller, got %d", rec.Code)
	}
}

func TestBook_NoToken(t *testing.T) {
	h := newTestBookingHandler(&stubCoordinator{}, &stubAppointments{}, &stubSlots{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/public/book", strings.NewReader(`{"slot_id":"slot-1"}`))
	rec := httptest.NewRecorder()
	h.Book(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without claims, got %d", rec.Code)
	}
}

func TestBook_TaxonomyMapsToStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"conflict", model.ErrConflict, http.StatusConflict},
		{"not found", model.ErrNotFound, http.StatusNotFound},
		{"invalid argument", model.ErrInvalidArgument, http.StatusUnprocessableEntity},
		{"invalid state", model.ErrInvalidState, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			coord := &stubCoordinator{bookErr: tc.err}
			slots := &stubSlots{slot: model.Slot{ID: "slot-1", SpecialistID: "spec-1", ServiceID: "svc-1"}}
			h := newTestBookingHandler(coord, &stubAppointments{}, slots)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/public/book", strings.NewReader(`{"slot_id":"slot-1"}`))
			req = withClaims(req, "client-1", string(model.RoleClient))
			rec := httptest.NewRecorder()
			h.Book(rec, req)

			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestCancel_ParticipantOnly(t *testing.T) {
	coord := &stubCoordinator{appt: testAppointment()}
	appts := &stubAppointments{appt: testAppointment()}
	h := newTestBookingHandler(coord, appts, &stubSlots{})

	// A stranger may not cancel.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/cancel", strings.NewReader(`{"appointment_id":"appt-1"}`))
	req = withClaims(req, "someone-else", string(model.RoleClient))
	rec := httptest.NewRecorder()
	h.Cancel(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-participant, got %d", rec.Code)
	}
	if coord.cancels != 0 {
		t.Fatalf("coordinator should not have been called")
	}

	// The specialist side of the appointment may.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/appointments/cancel", strings.NewReader(`{"appointment_id":"appt-1"}`))
	req = withClaims(req, "spec-1", string(model.RoleSpecialist))
	rec = httptest.NewRecorder()
	h.Cancel(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for specialist, got %d: %s", rec.Code, rec.Body.String())
	}
	if coord.cancels != 1 {
		t.Fatalf("expected one cancel call, got %d", coord.cancels)
	}
}

func TestComplete_OwnerOnly(t *testing.T) {
	coord := &stubCoordinator{appt: testAppointment()}
	appts := &stubAppointments{appt: testAppointment()}
	h := newTestBookingHandler(coord, appts, &stubSlots{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/complete", strings.NewReader(`{"appointment_id":"appt-1"}`))
	req = withClaims(req, "other-spec", string(model.RoleSpecialist))
	rec := httptest.NewRecorder()
	h.Complete(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for other specialist, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/appointments/complete", strings.NewReader(`{"appointment_id":"appt-1"}`))
	req = withClaims(req, "spec-1", string(model.RoleSpecialist))
	rec = httptest.NewRecorder()
	h.Complete(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner, got %d", rec.Code)
	}
	if coord.complete != 1 {
		t.Fatalf("expected one complete call, got %d", coord.complete)
	}
}

func TestDelete_HardDeletes(t *testing.T) {
	coord := &stubCoordinator{appt: testAppointment()}
	appts := &stubAppointments{appt: testAppointment()}
	h := newTestBookingHandler(coord, appts, &stubSlots{})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/appointments?id=appt-1", nil)
	req = withClaims(req, "spec-1", string(model.RoleSpecialist))
	rec := httptest.NewRecorder()
	h.Delete(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if coord.deletes != 1 {
		t.Fatalf("expected one delete call, got %d", coord.deletes)
	}
}

func TestList_RejectsForeignQuery(t *testing.T) {
	h := newTestBookingHandler(&stubCoordinator{}, &stubAppointments{appt: testAppointment()}, &stubSlots{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments?client_id=someone-else", nil)
	req = withClaims(req, "client-1", string(model.RoleClient))
	rec := httptest.NewRecorder()
	h.List(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign client_id, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	req = withClaims(req, "client-1", string(model.RoleClient))
	rec = httptest.NewRecorder()
	h.List(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for own list, got %d", rec.Code)
	}
}

func TestWithAuth_VerifiesBearerTokens(t *testing.T) {
	const secret = "test-secret"
	var seen *auth.Claims
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = claimsFrom(r)
		w.WriteHeader(http.StatusOK)
	})
	h := WithAuth(secret)(inner)

	token, err := auth.SignHS256(auth.Claims{
		Sub:  "client-1",
		Role: string(model.RoleClient),
		Iat:  time.Now().Unix(),
		Exp:  time.Now().Add(time.Hour).Unix(),
	}, secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", rec.Code)
	}
	if seen == nil || seen.Sub != "client-1" {
		t.Fatalf("expected claims on context, got %+v", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", rec.Code)
	}

	// No header at all passes through; the handler decides.
	seen = nil
	req = httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected pass-through without header, got %d", rec.Code)
	}
	if seen != nil {
		t.Fatalf("expected no claims without token")
	}
}
