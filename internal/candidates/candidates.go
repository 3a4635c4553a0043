// Package candidates provides the driver availability/location collaborator:
// radius search over a live driver pool plus the atomic reservation primitive
// the dispatch engine relies on when concurrent dispatchers race for the same
// driver.
package candidates

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/courier-dispatch/internal/geomath"
	"github.com/example/courier-dispatch/internal/models"
)

// Source is the candidate collaborator injected into the dispatch engine.
// Search with an empty class returns candidates of every class. Reserve is
// atomic and idempotent per order id: reserving a driver already held by the
// same order succeeds, by another order fails.
type Source interface {
	Search(ctx context.Context, center models.Coord, radiusKm float64, class models.VehicleClass) ([]models.DriverCandidate, error)
	Reserve(ctx context.Context, driverID, orderID string) (bool, error)
	Release(ctx context.Context, driverID, orderID string) error
}

// Index is the in-memory Source used for tests and single-process runs.
type Index struct {
	mu           sync.RWMutex
	drivers      map[string]models.DriverCandidate
	reservations map[string]string // driverID -> orderID
}

func NewIndex() *Index {
	return &Index{
		drivers:      make(map[string]models.DriverCandidate),
		reservations: make(map[string]string),
	}
}

func (g *Index) Upsert(d models.DriverCandidate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d.Updated = time.Now()
	g.drivers[d.ID] = d
}

// naive scan sorted by distance; in prod use the redis GEO adapter
func (g *Index) Search(ctx context.Context, center models.Coord, radiusKm float64, class models.VehicleClass) ([]models.DriverCandidate, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		d    models.DriverCandidate
		dist float64
	}
	arr := make([]pair, 0, len(g.drivers))
	for _, d := range g.drivers {
		if !d.Available {
			continue
		}
		if class != "" && d.VehicleClass != class {
			continue
		}
		dist, err := geomath.DistanceKm(center, d.Position)
		if err != nil {
			continue
		}
		if dist > radiusKm {
			continue
		}
		arr = append(arr, pair{d, dist})
	}
	sort.Slice(arr, func(i, j int) bool { return arr[i].dist < arr[j].dist })
	out := make([]models.DriverCandidate, 0, len(arr))
	for _, p := range arr {
		out = append(out, p.d)
	}
	return out, nil
}

// Reserve is a compare-and-set on the reservation map.
func (g *Index) Reserve(ctx context.Context, driverID, orderID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if holder, ok := g.reservations[driverID]; ok {
		return holder == orderID, nil
	}
	g.reservations[driverID] = orderID
	return true, nil
}

func (g *Index) Release(ctx context.Context, driverID, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reservations[driverID] == orderID {
		delete(g.reservations, driverID)
	}
	return nil
}
