// Package order holds the canonical order lifecycle: a strict state machine
// that stamps every transition, serializes transitions per order and emits
// domain events for downstream collaborators.
package order

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/storage"
)

var (
	ErrInvalidTransition = errors.New("order: invalid transition")
	ErrTerminalState     = errors.New("order: order is in a terminal state")
	ErrMissingReason     = errors.New("order: cancellation requires a reason")
)

// CancelReason is a fixed reason code; ReasonOther requires a free-text note.
type CancelReason string

const (
	ReasonRiderChangedMind CancelReason = "rider_changed_mind"
	ReasonWrongAddress     CancelReason = "wrong_address"
	ReasonDriverNoShow     CancelReason = "driver_no_show"
	ReasonETATooLong       CancelReason = "eta_too_long"
	ReasonOther            CancelReason = "other"
)

func (r CancelReason) valid() bool {
	switch r {
	case ReasonRiderChangedMind, ReasonWrongAddress, ReasonDriverNoShow, ReasonETATooLong, ReasonOther:
		return true
	}
	return false
}

// EventSink receives committed transition events. Publishing is
// fire-and-forget; the machine never blocks on a consumer.
type EventSink interface {
	OrderTransitioned(ev models.TransitionEvent)
}

// forward is the single legal non-cancel edge out of each status.
var forward = map[models.OrderStatus]models.OrderStatus{
	models.StatusPending:        models.StatusConfirmed,
	models.StatusConfirmed:      models.StatusDriverAssigned,
	models.StatusDriverAssigned: models.StatusPickedUp,
	models.StatusPickedUp:       models.StatusInTransit,
	models.StatusInTransit:      models.StatusDelivered,
}

// Machine drives orders through their lifecycle. Transitions on the same
// order are serialized via a per-order lock; different orders proceed
// independently.
type Machine struct {
	Store storage.OrderStore
	Sinks []EventSink

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

func NewMachine(store storage.OrderStore, sinks ...EventSink) *Machine {
	return &Machine{Store: store, Sinks: sinks, locks: make(map[string]*sync.Mutex), now: time.Now}
}

// Transition moves o to target if the edge is legal, stamps the transition
// time, persists the result and emits a domain event. On any failure the
// order is left unmodified. Cancellation must go through Cancel.
func (m *Machine) Transition(ctx context.Context, o *models.Order, target models.OrderStatus, actor string) error {
	if target == models.StatusCancelled {
		return ErrMissingReason
	}
	return m.apply(ctx, o, target, actor, func(next *models.Order, at time.Time) {
		switch target {
		case models.StatusConfirmed:
			next.ConfirmedAt = &at
		case models.StatusDriverAssigned:
			next.AssignedAt = &at
		case models.StatusPickedUp:
			next.PickedUpAt = &at
		case models.StatusInTransit:
			next.InTransitAt = &at
		case models.StatusDelivered:
			next.DeliveredAt = &at
		}
	})
}

// Cancel transitions o to cancelled from any non-terminal status.
// A valid reason code is mandatory; ReasonOther additionally requires a note.
func (m *Machine) Cancel(ctx context.Context, o *models.Order, actor string, reason CancelReason, note string) error {
	if !reason.valid() {
		return ErrMissingReason
	}
	if reason == ReasonOther && note == "" {
		return ErrMissingReason
	}
	return m.apply(ctx, o, models.StatusCancelled, actor, func(next *models.Order, at time.Time) {
		next.CancelledAt = &at
		next.CancellationReason = string(reason)
		next.CancellationNote = note
	})
}

func (m *Machine) apply(ctx context.Context, o *models.Order, target models.OrderStatus, actor string, stamp func(*models.Order, time.Time)) error {
	lock := m.lockFor(o.ID)
	lock.Lock()
	defer lock.Unlock()

	// Guards run against the persisted order, not the caller's copy: another
	// actor may have transitioned the order since the caller loaded it, and a
	// stale copy must not resurrect a terminal order.
	cur := *o
	if m.Store != nil {
		stored, err := m.Store.LoadOrder(ctx, o.ID)
		switch {
		case err == nil:
			cur = *stored
		case !errors.Is(err, storage.ErrOrderNotFound):
			return err
		}
	}

	if cur.Status.Terminal() {
		return ErrTerminalState
	}
	if target != models.StatusCancelled && forward[cur.Status] != target {
		return ErrInvalidTransition
	}

	at := m.now()
	next := cur
	next.Status = target
	if target == models.StatusDriverAssigned {
		// the dispatcher sets the driver on its copy before committing
		next.AssignedDriverID = o.AssignedDriverID
	}
	stamp(&next, at)

	if m.Store != nil {
		if err := m.Store.SaveOrder(ctx, &next); err != nil {
			return err
		}
	}
	from := cur.Status
	*o = next

	ev := models.TransitionEvent{OrderID: o.ID, From: from, To: target, Actor: actor, At: at}
	for _, sink := range m.Sinks {
		go sink.OrderTransitioned(ev)
	}
	return nil
}

func (m *Machine) lockFor(orderID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[orderID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[orderID] = l
	}
	return l
}
