// Package dispatch matches open orders to available drivers: radius search
// with bounded expansion, distance-then-rating ranking and an atomic
// reservation handshake before the order is committed to a driver.
package dispatch

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/example/courier-dispatch/internal/candidates"
	"github.com/example/courier-dispatch/internal/eta"
	"github.com/example/courier-dispatch/internal/geomath"
	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/observability"
	"github.com/example/courier-dispatch/internal/order"
)

var (
	ErrInvalidOrderStatus       = errors.New("dispatch: order is not dispatchable")
	ErrNoCompatibleVehicleClass = errors.New("dispatch: no vehicle class serves this tier")
	// ErrSearchExhausted is a normal outcome, not a fault: the caller decides
	// whether to widen the search, wait or cancel.
	ErrSearchExhausted = errors.New("dispatch: search exhausted")
)

// tierClasses maps each service tier to the vehicle classes that may serve it.
var tierClasses = map[models.ServiceTier][]models.VehicleClass{
	models.TierMoto:       {models.ClassMotorbike},
	models.TierEco:        {models.ClassCompact, models.ClassSedan},
	models.TierStandard:   {models.ClassSedan, models.ClassVan},
	models.TierPremium:    {models.ClassPremium},
	models.TierFlash:      {models.ClassMotorbike, models.ClassCompact},
	models.TierFlex:       {models.ClassCompact, models.ClassSedan, models.ClassVan},
	models.TierMaxicharge: {models.ClassVan},
}

// CompatibleClasses returns the vehicle classes allowed for tier.
func CompatibleClasses(tier models.ServiceTier) []models.VehicleClass {
	return tierClasses[tier]
}

// AttemptSink receives finished dispatch attempts, best-effort.
type AttemptSink interface {
	DispatchCompleted(att models.DispatchAttempt)
}

// Engine finds and assigns a driver to a pending/confirmed order.
type Engine struct {
	Source  candidates.Source
	Machine *order.Machine
	Notify  AttemptSink // optional

	ETAClient       eta.Client // optional routed pickup ETA
	ETACache        *eta.Cache // optional
	AssumedSpeedKmh float64

	InitialRadiusKm float64
	MaxRadiusKm     float64
	RadiusStepKm    float64

	now func() time.Time
}

func NewEngine(src candidates.Source, machine *order.Machine) *Engine {
	return &Engine{
		Source:          src,
		Machine:         machine,
		AssumedSpeedKmh: 30,
		InitialRadiusKm: 5,
		MaxRadiusKm:     25,
		RadiusStepKm:    5,
		now:             time.Now,
	}
}

type ranked struct {
	cand models.DriverCandidate
	dist float64
}

// Dispatch runs the full search: per radius round it filters available,
// class-compatible drivers inside the radius, ranks them by ascending pickup
// distance (rating breaks ties), reserves the best atomically and commits the
// driver_assigned transition. Pending orders are stepped through confirmed as
// part of the commit. A lost reservation falls through to the next ranked
// candidate; an empty round widens the radius by RadiusStepKm up to
// MaxRadiusKm. The order is left untouched unless a match commits.
func (e *Engine) Dispatch(ctx context.Context, o *models.Order) (att models.DispatchAttempt, err error) {
	att = models.DispatchAttempt{ID: uuid.NewString(), OrderID: o.ID}
	if o.Status != models.StatusPending && o.Status != models.StatusConfirmed {
		return att, ErrInvalidOrderStatus
	}
	classes := CompatibleClasses(o.ServiceTier)
	if len(classes) == 0 {
		return att, ErrNoCompatibleVehicleClass
	}

	start := e.now()
	defer func() {
		att.ElapsedSeconds = e.now().Sub(start).Seconds()
		observability.DispatchLatency.Observe(att.ElapsedSeconds)
		observability.DispatchRounds.Observe(float64(att.Rounds))
	}()

	for radius := e.InitialRadiusKm; radius <= e.MaxRadiusKm; radius += e.RadiusStepKm {
		att.Rounds++
		att.RadiusKm = radius

		cands, err := e.Source.Search(ctx, o.Pickup, radius, "")
		if err != nil {
			return att, err
		}
		list := e.rank(o, cands, classes, radius)
		att.CandidateCount = len(list)

		for _, rc := range list {
			reserved, err := e.Source.Reserve(ctx, rc.cand.ID, o.ID)
			if err != nil {
				return att, err
			}
			if !reserved {
				// taken concurrently; try the next ranked candidate
				continue
			}
			if o.Status == models.StatusPending {
				if err := e.Machine.Transition(ctx, o, models.StatusConfirmed, "dispatch"); err != nil {
					_ = e.Source.Release(ctx, rc.cand.ID, o.ID)
					return att, err
				}
			}
			prevDriver := o.AssignedDriverID
			o.AssignedDriverID = rc.cand.ID
			if err := e.Machine.Transition(ctx, o, models.StatusDriverAssigned, "dispatch"); err != nil {
				o.AssignedDriverID = prevDriver
				_ = e.Source.Release(ctx, rc.cand.ID, o.ID)
				return att, err
			}

			att.Outcome = models.OutcomeMatched
			att.DriverID = rc.cand.ID
			att.PickupETAMinutes = e.pickupETA(rc.cand.Position, o.Pickup)
			observability.DispatchMatchesTotal.Inc()
			e.notify(att)
			return att, nil
		}
	}

	att.Outcome = models.OutcomeExhausted
	att.RadiusKm = e.MaxRadiusKm
	observability.DispatchExhaustedTotal.Inc()
	e.notify(att)
	return att, ErrSearchExhausted
}

// rank filters to available, class-compatible candidates inside radius and
// orders them by distance, then rating desc, then id for determinism.
func (e *Engine) rank(o *models.Order, cands []models.DriverCandidate, classes []models.VehicleClass, radiusKm float64) []ranked {
	allowed := make(map[models.VehicleClass]bool, len(classes))
	for _, c := range classes {
		allowed[c] = true
	}
	list := make([]ranked, 0, len(cands))
	for _, c := range cands {
		if !c.Available || !allowed[c.VehicleClass] {
			continue
		}
		d, err := geomath.DistanceKm(o.Pickup, c.Position)
		if err != nil || d > radiusKm {
			continue
		}
		list = append(list, ranked{cand: c, dist: d})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].dist != list[j].dist {
			return list[i].dist < list[j].dist
		}
		if list[i].cand.Rating != list[j].cand.Rating {
			return list[i].cand.Rating > list[j].cand.Rating
		}
		return list[i].cand.ID < list[j].cand.ID
	})
	return list
}

func (e *Engine) pickupETA(from, to models.Coord) float64 {
	if e.ETACache != nil {
		if v, ok := e.ETACache.Get(from, to); ok {
			return v
		}
	}
	if e.ETAClient != nil {
		if secs, err := e.ETAClient.EstimateSeconds(from, to); err == nil {
			m := secs / 60
			if e.ETACache != nil {
				e.ETACache.Set(from, to, m)
			}
			return m
		}
	}
	return eta.EstimateMinutes(from, to, e.AssumedSpeedKmh)
}

func (e *Engine) notify(att models.DispatchAttempt) {
	if e.Notify != nil {
		go e.Notify.DispatchCompleted(att)
	}
}
