package tracking

import (
	"errors"
	"sync"
	"time"

	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/observability"
)

var (
	ErrNoSession      = errors.New("tracking: no session for order")
	ErrNotDispatched  = errors.New("tracking: order has no assigned driver")
	ErrAlreadyTracked = errors.New("tracking: order already has a session")
)

// Registry owns all live sessions, routes incoming samples by driver id and
// closes sessions when it sees a terminal transition event. It implements
// order.EventSink.
type Registry struct {
	mu       sync.RWMutex
	byOrder  map[string]*Session
	byDriver map[string]string // driverID -> orderID

	staleAfter      time.Duration
	assumedSpeedKmh float64
	now             func() time.Time
}

func NewRegistry(staleAfter time.Duration, assumedSpeedKmh float64) *Registry {
	return &Registry{
		byOrder:         make(map[string]*Session),
		byDriver:        make(map[string]string),
		staleAfter:      staleAfter,
		assumedSpeedKmh: assumedSpeedKmh,
		now:             time.Now,
	}
}

// Open binds a session for an order that just got its driver.
func (r *Registry) Open(o *models.Order) (*Session, error) {
	if o.Status != models.StatusDriverAssigned || o.AssignedDriverID == "" {
		return nil, ErrNotDispatched
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byOrder[o.ID]; ok {
		return nil, ErrAlreadyTracked
	}
	s := newSession(o, r.staleAfter, r.assumedSpeedKmh, r.now)
	r.byOrder[o.ID] = s
	r.byDriver[o.AssignedDriverID] = o.ID
	observability.SessionsOpen.Inc()
	return s, nil
}

// Feed routes a sample to the session subscribed to its driver. Samples for
// unknown drivers are dropped; the feed carries every driver in the fleet.
func (r *Registry) Feed(sample models.PositionSample) error {
	r.mu.RLock()
	orderID, ok := r.byDriver[sample.EntityID]
	s := r.byOrder[orderID]
	r.mu.RUnlock()
	if !ok || s == nil {
		return nil
	}
	return s.Push(sample)
}

// Snapshot returns the current view for one order.
func (r *Registry) Snapshot(orderID string, now time.Time) (Snapshot, error) {
	r.mu.RLock()
	s, ok := r.byOrder[orderID]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{}, ErrNoSession
	}
	return s.SnapshotAt(now)
}

// Session returns the live session for an order, if any.
func (r *Registry) Session(orderID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byOrder[orderID]
	return s, ok
}

// ProjectAll snapshots every open session at now; used by server-side
// projectors running on a fixed clock.
func (r *Registry) ProjectAll(now time.Time) []Snapshot {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.byOrder))
	for _, s := range r.byOrder {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		if snap, err := s.SnapshotAt(now); err == nil {
			out = append(out, snap)
		}
	}
	return out
}

// OrderTransitioned keeps session status in sync with the lifecycle machine
// and tears the session down on terminal transitions.
func (r *Registry) OrderTransitioned(ev models.TransitionEvent) {
	r.mu.Lock()
	s, ok := r.byOrder[ev.OrderID]
	if ok && ev.To.Terminal() {
		delete(r.byOrder, ev.OrderID)
		delete(r.byDriver, s.driverID)
		observability.SessionsOpen.Dec()
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	s.setStatus(ev.To)
	if ev.To.Terminal() {
		s.close()
	}
}
