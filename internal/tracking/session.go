// Package tracking binds an assigned order to its driver's live position
// feed and exposes derived, continuously updated display fields.
package tracking

import (
	"errors"
	"sync"
	"time"

	"github.com/example/courier-dispatch/internal/eta"
	"github.com/example/courier-dispatch/internal/geomath"
	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/observability"
	"github.com/example/courier-dispatch/internal/smoother"
)

// ErrSessionClosed is returned once the bound order reached a terminal
// status; the session stops accepting samples and snapshots.
var ErrSessionClosed = errors.New("tracking: session closed")

// Snapshot is the structured view polled by renderers and notifiers.
// The core never pushes pixels, only this.
type Snapshot struct {
	OrderID             string                 `json:"order_id"`
	DriverID            string                 `json:"driver_id"`
	Frame               models.TrajectoryFrame `json:"frame"`
	DistanceRemainingKm float64                `json:"distance_remaining_km"`
	ETAMinutes          float64                `json:"eta_minutes"`
	Status              models.OrderStatus     `json:"order_status"`
	Stale               bool                   `json:"is_stale"`
}

// Session tracks one order/driver pair. Sample and smoother errors degrade
// to a stale display state instead of failing the session; only a closed
// session errors.
type Session struct {
	mu sync.Mutex

	orderID     string
	driverID    string
	destination models.Coord
	status      models.OrderStatus

	smoother        *smoother.Smoother
	lastSampleAt    time.Time // receipt time, drives the staleness window
	staleAfter      time.Duration
	assumedSpeedKmh float64
	fallback        models.Coord // shown until the first sample arrives

	closed bool
	now    func() time.Time
}

func newSession(o *models.Order, staleAfter time.Duration, speedKmh float64, now func() time.Time) *Session {
	return &Session{
		orderID:         o.ID,
		driverID:        o.AssignedDriverID,
		destination:     o.Destination,
		status:          o.Status,
		smoother:        smoother.NewWithClock(o.AssignedDriverID, now),
		staleAfter:      staleAfter,
		assumedSpeedKmh: speedKmh,
		fallback:        o.Pickup,
		now:             now,
	}
}

// Push feeds a position sample for the bound driver. Out-of-order samples
// are dropped silently (the display just stays put); a closed session
// returns ErrSessionClosed.
func (s *Session) Push(sample models.PositionSample) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	sm := s.smoother
	s.mu.Unlock()

	if err := sm.Push(sample); err != nil {
		if errors.Is(err, smoother.ErrStaleSample) {
			observability.SamplesStale.Inc()
			return nil
		}
		return err
	}
	s.mu.Lock()
	s.lastSampleAt = s.now()
	s.mu.Unlock()
	observability.SamplesAccepted.Inc()
	return nil
}

// SnapshotAt computes the render snapshot for time now. Before the first
// sample the pickup point is shown and the snapshot is marked stale; after
// the staleness window the last known frame keeps being returned with the
// stale flag raised.
func (s *Session) SnapshotAt(now time.Time) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Snapshot{}, ErrSessionClosed
	}

	snap := Snapshot{OrderID: s.orderID, DriverID: s.driverID, Status: s.status}

	frame, err := s.smoother.Tick(now)
	if err != nil {
		// no sample yet: degrade, never fail the session
		frame = models.TrajectoryFrame{Position: s.fallback}
		snap.Stale = true
	} else if s.lastSampleAt.IsZero() || now.Sub(s.lastSampleAt) > s.staleAfter {
		snap.Stale = true
	}
	snap.Frame = frame
	if d, err := geomath.DistanceKm(frame.Position, s.destination); err == nil {
		snap.DistanceRemainingKm = d
	}
	snap.ETAMinutes = eta.EstimateMinutes(frame.Position, s.destination, s.assumedSpeedKmh)
	return snap, nil
}

func (s *Session) setStatus(status models.OrderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Session) DriverID() string { return s.driverID }
func (s *Session) OrderID() string  { return s.orderID }
