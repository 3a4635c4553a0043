package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/courier-dispatch/internal/models"
)

type fakeCharger struct {
	held     int
	captured []string
	released []string
	failHold bool
}

func (f *fakeCharger) Hold(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	if f.failHold {
		return "", errors.New("hold failed")
	}
	f.held++
	return "pi_test", nil
}

func (f *fakeCharger) Capture(ctx context.Context, id string) error {
	f.captured = append(f.captured, id)
	return nil
}

func (f *fakeCharger) Cancel(ctx context.Context, id string) error {
	f.released = append(f.released, id)
	return nil
}

func event(orderID string, to models.OrderStatus) models.TransitionEvent {
	return models.TransitionEvent{OrderID: orderID, To: to, At: time.Now()}
}

func TestHoldThenCapture(t *testing.T) {
	f := &fakeCharger{}
	b := NewEventBiller(f, 1500, "usd", nil)

	b.OrderTransitioned(event("o1", models.StatusDriverAssigned))
	if f.held != 1 {
		t.Fatalf("expected one hold, got %d", f.held)
	}
	b.OrderTransitioned(event("o1", models.StatusDelivered))
	if len(f.captured) != 1 || f.captured[0] != "pi_test" {
		t.Fatalf("expected capture of pi_test, got %v", f.captured)
	}
	// intent is consumed; a duplicate delivery event must not re-capture
	b.OrderTransitioned(event("o1", models.StatusDelivered))
	if len(f.captured) != 1 {
		t.Fatalf("duplicate capture: %v", f.captured)
	}
}

func TestHoldThenRelease(t *testing.T) {
	f := &fakeCharger{}
	b := NewEventBiller(f, 1500, "usd", nil)
	b.OrderTransitioned(event("o1", models.StatusDriverAssigned))
	b.OrderTransitioned(event("o1", models.StatusCancelled))
	if len(f.released) != 1 {
		t.Fatalf("expected release, got %v", f.released)
	}
	if len(f.captured) != 0 {
		t.Fatalf("unexpected capture: %v", f.captured)
	}
}

func TestFailedHoldIsSwallowed(t *testing.T) {
	f := &fakeCharger{failHold: true}
	b := NewEventBiller(f, 1500, "usd", nil)
	b.OrderTransitioned(event("o1", models.StatusDriverAssigned))
	// delivery without a held intent is a no-op
	b.OrderTransitioned(event("o1", models.StatusDelivered))
	if len(f.captured) != 0 {
		t.Fatalf("unexpected capture: %v", f.captured)
	}
}
