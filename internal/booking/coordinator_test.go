package booking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/slotpoint/slotpoint/internal/model"
	"github.com/slotpoint/slotpoint/internal/outbox"
)

func testCoordinator(store Store) *Coordinator {
	return NewCoordinator(store, slog.New(slog.DiscardHandler))
}

func testSlot(id string) model.Slot {
	start := time.Date(2025, 11, 13, 9, 0, 0, 0, time.UTC)
	return model.Slot{
		ID:           id,
		SpecialistID: "spec-1",
		ServiceID:    "svc-1",
		StartTime:    start,
		EndTime:      start.Add(time.Hour),
	}
}

func bookRequest(slotID string) BookRequest {
	return BookRequest{
		ClientID:     "client-a",
		SpecialistID: "spec-1",
		ServiceID:    "svc-1",
		SlotID:       slotID,
	}
}

func TestBook_CreatesScheduledAppointmentAndBooksSlot(t *testing.T) {
	store := newMemStore()
	store.addSlot(testSlot("slot-1"))
	c := testCoordinator(store)

	appt, err := c.Book(context.Background(), bookRequest("slot-1"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if appt.Status != model.StatusScheduled {
		t.Fatalf("expected scheduled, got %s", appt.Status)
	}
	if !store.slot("slot-1").Booked {
		t.Fatal("slot should be booked")
	}
	types := store.eventTypes()
	if len(types) != 1 || types[0] != outbox.EventAppointmentScheduled {
		t.Fatalf("expected one scheduled event, got %v", types)
	}
}

func TestBook_MissingSlot(t *testing.T) {
	c := testCoordinator(newMemStore())

	_, err := c.Book(context.Background(), bookRequest("nope"))
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBook_SpecialistServiceMismatch(t *testing.T) {
	store := newMemStore()
	store.addSlot(testSlot("slot-1"))
	c := testCoordinator(store)

	req := bookRequest("slot-1")
	req.ServiceID = "svc-other"
	_, err := c.Book(context.Background(), req)
	if !errors.Is(err, model.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if store.slot("slot-1").Booked {
		t.Fatal("slot must stay free on a mismatched request")
	}
}

func TestBook_AlreadyBookedIsConflict(t *testing.T) {
	store := newMemStore()
	store.addSlot(testSlot("slot-1"))
	c := testCoordinator(store)

	if _, err := c.Book(context.Background(), bookRequest("slot-1")); err != nil {
		t.Fatalf("first book: %v", err)
	}
	_, err := c.Book(context.Background(), bookRequest("slot-1"))
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if got := store.appointmentCount(); got != 1 {
		t.Fatalf("expected 1 appointment, got %d", got)
	}
}

func TestBook_ConcurrentRequestsExactlyOneWins(t *testing.T) {
	store := newMemStore()
	store.addSlot(testSlot("slot-1"))
	c := testCoordinator(store)

	const attempts = 32
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Book(context.Background(), bookRequest("slot-1"))
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, model.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	if conflicts != attempts-1 {
		t.Fatalf("expected %d conflicts, got %d", attempts-1, conflicts)
	}
	if got := store.appointmentCount(); got != 1 {
		t.Fatalf("expected 1 appointment, got %d", got)
	}
}

func TestBook_IdempotencyKeyReplaysFirstOutcome(t *testing.T) {
	store := newMemStore()
	store.addSlot(testSlot("slot-1"))
	c := testCoordinator(store)

	req := bookRequest("slot-1")
	req.IdempotencyKey = "retry-1"

	first, err := c.Book(context.Background(), req)
	if err != nil {
		t.Fatalf("first book: %v", err)
	}
	second, err := c.Book(context.Background(), req)
	if err != nil {
		t.Fatalf("replayed book: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay returned a different appointment: %s vs %s", second.ID, first.ID)
	}
	if got := store.appointmentCount(); got != 1 {
		t.Fatalf("expected 1 appointment, got %d", got)
	}
}

func TestCancel_FreesSlotAndIsIdempotent(t *testing.T) {
	store := newMemStore()
	store.addSlot(testSlot("slot-1"))
	c := testCoordinator(store)

	appt, err := c.Book(context.Background(), bookRequest("slot-1"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	cancelled, err := c.Cancel(context.Background(), appt.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != model.StatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("expected cancelled with timestamp, got %+v", cancelled)
	}
	if store.slot("slot-1").Booked {
		t.Fatal("cancel must free the slot")
	}

	again, err := c.Cancel(context.Background(), appt.ID)
	if err != nil {
		t.Fatalf("repeated cancel must succeed: %v", err)
	}
	if !again.CancelledAt.Equal(*cancelled.CancelledAt) {
		t.Fatal("repeated cancel must not change state")
	}
}

// Specialist publishes a slot, client A books, client B conflicts, A cancels,
// B books the freed slot.
func TestBook_CancelRebookScenario(t *testing.T) {
	store := newMemStore()
	store.addSlot(testSlot("slot-1"))
	c := testCoordinator(store)
	ctx := context.Background()

	apptA, err := c.Book(ctx, bookRequest("slot-1"))
	if err != nil {
		t.Fatalf("client A book: %v", err)
	}

	reqB := bookRequest("slot-1")
	reqB.ClientID = "client-b"
	if _, err := c.Book(ctx, reqB); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("client B expected conflict, got %v", err)
	}

	if _, err := c.Cancel(ctx, apptA.ID); err != nil {
		t.Fatalf("client A cancel: %v", err)
	}
	if store.slot("slot-1").Booked {
		t.Fatal("slot should be free after cancel")
	}

	apptB, err := c.Book(ctx, reqB)
	if err != nil {
		t.Fatalf("client B rebook: %v", err)
	}
	if apptB.ClientID != "client-b" || apptB.Status != model.StatusScheduled {
		t.Fatalf("unexpected rebooked appointment: %+v", apptB)
	}
}

func TestComplete_KeepsSlotBooked(t *testing.T) {
	store := newMemStore()
	store.addSlot(testSlot("slot-1"))
	c := testCoordinator(store)
	ctx := context.Background()

	appt, err := c.Book(ctx, bookRequest("slot-1"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	completed, err := c.Complete(ctx, appt.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != model.StatusCompleted || completed.CompletedAt == nil {
		t.Fatalf("expected completed with timestamp, got %+v", completed)
	}
	if !store.slot("slot-1").Booked {
		t.Fatal("completing must not release the slot")
	}

	// Terminal states do not transition further.
	if _, err := c.Cancel(ctx, appt.ID); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("cancel after complete: expected ErrInvalidState, got %v", err)
	}
	if _, err := c.Complete(ctx, appt.ID); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("repeated complete: expected ErrInvalidState, got %v", err)
	}
	if !store.slot("slot-1").Booked {
		t.Fatal("slot must remain booked after rejected transitions")
	}
}

// Deleting a cancelled appointment must not free its slot: the slot was
// released when the appointment was cancelled and another client may hold it
// by now.
func TestDelete_CancelledAppointmentLeavesRebookedSlotAlone(t *testing.T) {
	store := newMemStore()
	store.addSlot(testSlot("slot-1"))
	c := testCoordinator(store)
	ctx := context.Background()

	apptA, err := c.Book(ctx, bookRequest("slot-1"))
	if err != nil {
		t.Fatalf("client A book: %v", err)
	}
	if _, err := c.Cancel(ctx, apptA.ID); err != nil {
		t.Fatalf("client A cancel: %v", err)
	}

	reqB := bookRequest("slot-1")
	reqB.ClientID = "client-b"
	apptB, err := c.Book(ctx, reqB)
	if err != nil {
		t.Fatalf("client B book: %v", err)
	}

	if err := c.Delete(ctx, apptA.ID); err != nil {
		t.Fatalf("delete cancelled appointment: %v", err)
	}
	if !store.slot("slot-1").Booked {
		t.Fatal("slot must stay booked for client B")
	}
	if got, ok := store.appointment(apptB.ID); !ok || got.Status != model.StatusScheduled {
		t.Fatalf("client B's appointment must survive, got %+v (present=%v)", got, ok)
	}

	reqC := bookRequest("slot-1")
	reqC.ClientID = "client-c"
	if _, err := c.Book(ctx, reqC); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("client C expected conflict on B's slot, got %v", err)
	}
	if got := store.appointmentCount(); got != 1 {
		t.Fatalf("expected only client B's appointment, got %d", got)
	}
}

func TestDelete_RemovesAppointmentAndReleasesSlot(t *testing.T) {
	store := newMemStore()
	store.addSlot(testSlot("slot-1"))
	c := testCoordinator(store)
	ctx := context.Background()

	appt, err := c.Book(ctx, bookRequest("slot-1"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := c.Complete(ctx, appt.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Hard delete releases the slot even for a completed appointment.
	if err := c.Delete(ctx, appt.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := store.appointment(appt.ID); ok {
		t.Fatal("appointment record should be gone")
	}
	if store.slot("slot-1").Booked {
		t.Fatal("delete must release the slot")
	}

	if err := c.Delete(ctx, appt.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("deleting again: expected ErrNotFound, got %v", err)
	}
}
