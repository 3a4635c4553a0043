// Package smoother turns sparse position samples (one every few seconds)
// into a continuous trajectory suitable for animation. Interpolation duration
// scales with the hop distance so a feed gap never renders as a teleport,
// while small jitter corrections settle fast.
package smoother

import (
	"errors"
	"sync"
	"time"

	"github.com/example/courier-dispatch/internal/geomath"
	"github.com/example/courier-dispatch/internal/models"
)

var (
	// ErrNoSample means Tick was called before any sample arrived.
	ErrNoSample = errors.New("smoother: no sample available")
	// ErrStaleSample means a pushed sample is not newer than the current target.
	ErrStaleSample = errors.New("smoother: sample not newer than current target")
)

const (
	minDuration = 500 * time.Millisecond
	maxDuration = 2 * time.Second
	// seconds of animation per km between origin and target before clamping
	secondsPerKm = 2.5
)

// Smoother interpolates between the two most recent samples of one entity.
// Safe for concurrent use; Tick never blocks and has no side effects beyond
// reading the interpolation state.
type Smoother struct {
	mu       sync.Mutex
	entityID string
	origin   *models.PositionSample
	target   *models.PositionSample
	pushedAt time.Time
	duration time.Duration

	now func() time.Time
}

func New(entityID string) *Smoother {
	return NewWithClock(entityID, time.Now)
}

// NewWithClock lets callers that already run on an injected clock keep the
// progress clock consistent with their own.
func NewWithClock(entityID string, now func() time.Time) *Smoother {
	return &Smoother{entityID: entityID, now: now}
}

// Push records sample as the new interpolation target; the previous target
// becomes the origin and the progress clock resets to zero.
func (s *Smoother) Push(sample models.PositionSample) error {
	if err := geomath.ValidateCoord(sample.Position); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.target != nil && !sample.ObservedAt.After(s.target.ObservedAt) {
		return ErrStaleSample
	}
	s.origin = s.target
	s.target = &sample
	s.pushedAt = s.now()
	s.duration = minDuration
	if s.origin != nil {
		if d, err := geomath.DistanceKm(s.origin.Position, s.target.Position); err == nil {
			s.duration = durationForKm(d)
		}
	}
	return nil
}

// Tick returns the frame for wall-clock time now. With a single sample ever
// pushed it returns that sample verbatim; otherwise it eases from origin to
// target, blending heading along the shorter arc.
func (s *Smoother) Tick(now time.Time) (models.TrajectoryFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.target == nil {
		return models.TrajectoryFrame{}, ErrNoSample
	}
	if s.origin == nil {
		return models.TrajectoryFrame{
			Position:   s.target.Position,
			HeadingDeg: geomath.NormalizeHeading(s.target.HeadingDeg),
		}, nil
	}

	elapsed := now.Sub(s.pushedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	f := float64(elapsed) / float64(s.duration)
	if f > 1 {
		f = 1
	}
	eased := easeOutCubic(f)

	o, t := s.origin, s.target
	frame := models.TrajectoryFrame{
		Position: models.Coord{
			Lat: o.Position.Lat + (t.Position.Lat-o.Position.Lat)*eased,
			Lng: o.Position.Lng + (t.Position.Lng-o.Position.Lng)*eased,
		},
		HeadingDeg: geomath.NormalizeHeading(
			o.HeadingDeg + geomath.ShortestHeadingDelta(o.HeadingDeg, t.HeadingDeg)*eased),
		Interpolated: f < 1,
	}
	return frame, nil
}

// LastObserved returns the observation time of the current target sample.
// The zero time means no sample has arrived yet.
func (s *Smoother) LastObserved() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target == nil {
		return time.Time{}
	}
	return s.target.ObservedAt
}

func (s *Smoother) EntityID() string { return s.entityID }

func easeOutCubic(f float64) float64 {
	inv := 1 - f
	return 1 - inv*inv*inv
}

func durationForKm(km float64) time.Duration {
	d := time.Duration(km * secondsPerKm * float64(time.Second))
	if d < minDuration {
		return minDuration
	}
	if d > maxDuration {
		return maxDuration
	}
	return d
}
