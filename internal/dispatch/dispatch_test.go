package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/courier-dispatch/internal/candidates"
	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/order"
	"github.com/example/courier-dispatch/internal/storage"
)

// ~0.009 degrees of latitude per km
const degPerKm = 1.0 / 111.195

func newTestEngine(src candidates.Source) *Engine {
	machine := order.NewMachine(storage.NewMemoryStore())
	return NewEngine(src, machine)
}

func pendingOrder(tier models.ServiceTier) *models.Order {
	return &models.Order{
		ID:          "o1",
		Kind:        models.KindDelivery,
		ServiceTier: tier,
		Pickup:      models.Coord{Lat: 0, Lng: 0},
		Destination: models.Coord{Lat: 0.1, Lng: 0.1},
		Status:      models.StatusPending,
		CreatedAt:   time.Now(),
	}
}

func driver(id string, km float64, class models.VehicleClass, rating float64) models.DriverCandidate {
	return models.DriverCandidate{
		ID:           id,
		Position:     models.Coord{Lat: km * degPerKm, Lng: 0},
		VehicleClass: class,
		Rating:       rating,
		Available:    true,
	}
}

func TestMatchWithinInitialRadius(t *testing.T) {
	idx := candidates.NewIndex()
	idx.Upsert(driver("d1", 3, models.ClassSedan, 4.5))
	e := newTestEngine(idx)
	o := pendingOrder(models.TierStandard)

	att, err := e.Dispatch(context.Background(), o)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if att.Outcome != models.OutcomeMatched || att.DriverID != "d1" {
		t.Fatalf("unexpected attempt: %+v", att)
	}
	if att.Rounds != 1 || att.RadiusKm != 5 {
		t.Fatalf("expected a single 5 km round, got %+v", att)
	}
	if o.Status != models.StatusDriverAssigned || o.AssignedAt == nil || o.AssignedDriverID != "d1" {
		t.Fatalf("order not assigned: %+v", o)
	}
	// a pending order passes through confirmed on the way to assignment
	if o.ConfirmedAt == nil {
		t.Fatalf("pending order not confirmed during dispatch: %+v", o)
	}
	if att.PickupETAMinutes <= 0 {
		t.Fatalf("expected a pickup ETA, got %v", att.PickupETAMinutes)
	}
}

func TestConfirmedOrderDispatches(t *testing.T) {
	idx := candidates.NewIndex()
	idx.Upsert(driver("d1", 3, models.ClassSedan, 4.5))
	machine := order.NewMachine(storage.NewMemoryStore())
	e := NewEngine(idx, machine)
	ctx := context.Background()

	o := pendingOrder(models.TierStandard)
	if err := machine.Transition(ctx, o, models.StatusConfirmed, "rider"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	confirmedAt := o.ConfirmedAt

	att, err := e.Dispatch(ctx, o)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if att.Outcome != models.OutcomeMatched || o.Status != models.StatusDriverAssigned {
		t.Fatalf("unexpected result: att=%+v order=%+v", att, o)
	}
	if o.ConfirmedAt == nil || !o.ConfirmedAt.Equal(*confirmedAt) {
		t.Fatalf("confirmation timestamp changed: %v -> %v", confirmedAt, o.ConfirmedAt)
	}
}

func TestExhaustedBeyondMaxRadius(t *testing.T) {
	idx := candidates.NewIndex()
	idx.Upsert(driver("d1", 30, models.ClassSedan, 5))
	e := newTestEngine(idx)
	o := pendingOrder(models.TierStandard)

	att, err := e.Dispatch(context.Background(), o)
	if !errors.Is(err, ErrSearchExhausted) {
		t.Fatalf("expected ErrSearchExhausted, got %v", err)
	}
	if att.Outcome != models.OutcomeExhausted {
		t.Fatalf("unexpected outcome: %+v", att)
	}
	if att.Rounds != 5 || att.RadiusKm != 25 {
		t.Fatalf("expected 5 rounds up to 25 km, got %+v", att)
	}
	if o.Status != models.StatusPending {
		t.Fatalf("order must stay pending, got %s", o.Status)
	}
}

func TestRadiusExpansionStopsAtFirstHit(t *testing.T) {
	idx := candidates.NewIndex()
	idx.Upsert(driver("d1", 12, models.ClassSedan, 4))
	e := newTestEngine(idx)

	att, err := e.Dispatch(context.Background(), pendingOrder(models.TierStandard))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if att.Rounds != 3 || att.RadiusKm != 15 {
		t.Fatalf("expected match in round 3 at 15 km, got %+v", att)
	}
}

func TestNearestWinsRatingBreaksTies(t *testing.T) {
	idx := candidates.NewIndex()
	idx.Upsert(driver("far-great", 4, models.ClassSedan, 5))
	idx.Upsert(driver("near-ok", 2, models.ClassSedan, 3))
	e := newTestEngine(idx)
	att, err := e.Dispatch(context.Background(), pendingOrder(models.TierStandard))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if att.DriverID != "near-ok" {
		t.Fatalf("expected nearest driver, got %s", att.DriverID)
	}

	// equal distance: higher rating must win, deterministically
	idx2 := candidates.NewIndex()
	idx2.Upsert(driver("a", 3, models.ClassSedan, 4.0))
	idx2.Upsert(driver("b", 3, models.ClassSedan, 4.9))
	e2 := newTestEngine(idx2)
	o2 := pendingOrder(models.TierStandard)
	o2.ID = "o2"
	att2, err := e2.Dispatch(context.Background(), o2)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if att2.DriverID != "b" {
		t.Fatalf("expected higher-rated driver on tie, got %s", att2.DriverID)
	}
}

func TestIncompatibleClassIsSkipped(t *testing.T) {
	idx := candidates.NewIndex()
	idx.Upsert(driver("moto", 1, models.ClassMotorbike, 5))
	idx.Upsert(driver("van", 8, models.ClassVan, 4))
	e := newTestEngine(idx)

	// maxicharge only accepts vans; the closer motorbike must be ignored
	att, err := e.Dispatch(context.Background(), pendingOrder(models.TierMaxicharge))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if att.DriverID != "van" {
		t.Fatalf("expected van, got %s", att.DriverID)
	}
}

func TestLostReservationFallsThrough(t *testing.T) {
	idx := candidates.NewIndex()
	idx.Upsert(driver("taken", 2, models.ClassSedan, 5))
	idx.Upsert(driver("free", 4, models.ClassSedan, 4))
	// another order grabbed the best candidate first
	if ok, _ := idx.Reserve(context.Background(), "taken", "other-order"); !ok {
		t.Fatal("setup reservation failed")
	}
	e := newTestEngine(idx)

	att, err := e.Dispatch(context.Background(), pendingOrder(models.TierStandard))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if att.DriverID != "free" {
		t.Fatalf("expected fallback to next candidate, got %s", att.DriverID)
	}
}

func TestInvalidOrderStatus(t *testing.T) {
	e := newTestEngine(candidates.NewIndex())
	o := pendingOrder(models.TierStandard)
	o.Status = models.StatusInTransit
	if _, err := e.Dispatch(context.Background(), o); !errors.Is(err, ErrInvalidOrderStatus) {
		t.Fatalf("expected ErrInvalidOrderStatus, got %v", err)
	}
}

func TestUnknownTierHasNoClasses(t *testing.T) {
	e := newTestEngine(candidates.NewIndex())
	o := pendingOrder(models.ServiceTier("hoverboard"))
	if _, err := e.Dispatch(context.Background(), o); !errors.Is(err, ErrNoCompatibleVehicleClass) {
		t.Fatalf("expected ErrNoCompatibleVehicleClass, got %v", err)
	}
}

type reserveFailSource struct{ *candidates.Index }

func (s *reserveFailSource) Reserve(ctx context.Context, driverID, orderID string) (bool, error) {
	return false, errors.New("reservation backend down")
}

func TestReserveErrorSurfaces(t *testing.T) {
	idx := candidates.NewIndex()
	idx.Upsert(driver("d1", 3, models.ClassSedan, 4.5))
	e := newTestEngine(&reserveFailSource{idx})
	o := pendingOrder(models.TierStandard)

	_, err := e.Dispatch(context.Background(), o)
	if err == nil || errors.Is(err, ErrSearchExhausted) {
		t.Fatalf("expected the reservation error to surface, got %v", err)
	}
	if o.Status != models.StatusPending {
		t.Fatalf("order must stay pending, got %s", o.Status)
	}
}

type countingSink struct{ atts chan models.DispatchAttempt }

func (c *countingSink) DispatchCompleted(att models.DispatchAttempt) { c.atts <- att }

func TestAttemptsReachTheSink(t *testing.T) {
	idx := candidates.NewIndex()
	idx.Upsert(driver("d1", 3, models.ClassSedan, 4.5))
	e := newTestEngine(idx)
	sink := &countingSink{atts: make(chan models.DispatchAttempt, 1)}
	e.Notify = sink

	if _, err := e.Dispatch(context.Background(), pendingOrder(models.TierStandard)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	select {
	case att := <-sink.atts:
		if att.Outcome != models.OutcomeMatched {
			t.Fatalf("unexpected attempt in sink: %+v", att)
		}
	case <-time.After(time.Second):
		t.Fatal("sink never received the attempt")
	}
}
