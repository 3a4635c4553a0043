package candidates

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/courier-dispatch/internal/models"
)

// RedisSource implements Source on Redis GEO commands plus per-driver
// metadata hashes. Reservations use SET NX with a TTL so a crashed
// dispatcher cannot hold a driver forever; the TTL is the only expiry,
// drivers may be shared across dispatch processes.
type RedisSource struct {
	client         *redis.Client
	geoKey         string
	reservationTTL time.Duration
}

func NewRedisSource(addr, password, geoKey string, reservationTTL time.Duration) *RedisSource {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisSource{client: c, geoKey: geoKey, reservationTTL: reservationTTL}
}

// Upsert stores the driver position in the geo set and its metadata in a hash.
func (r *RedisSource) Upsert(ctx context.Context, d models.DriverCandidate) error {
	if _, err := r.client.GeoAdd(ctx, r.geoKey, &redis.GeoLocation{
		Longitude: d.Position.Lng,
		Latitude:  d.Position.Lat,
		Name:      d.ID,
	}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(d.ID), map[string]interface{}{
		"rating":    strconv.FormatFloat(d.Rating, 'f', 2, 64),
		"heading":   strconv.FormatFloat(d.HeadingDeg, 'f', 1, 64),
		"class":     string(d.VehicleClass),
		"available": strconv.FormatBool(d.Available),
		"updated":   time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisSource) Search(ctx context.Context, center models.Coord, radiusKm float64, class models.VehicleClass) ([]models.DriverCandidate, error) {
	res, err := r.client.GeoSearchLocation(ctx, r.geoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lng,
			Latitude:   center.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.DriverCandidate, 0, len(res))
	for _, g := range res {
		d := models.DriverCandidate{ID: g.Name}
		d.Position.Lat = g.Latitude
		d.Position.Lng = g.Longitude
		m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result()
		if err != nil {
			continue
		}
		if v, ok := m["rating"]; ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				d.Rating = f
			}
		}
		if v, ok := m["heading"]; ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				d.HeadingDeg = f
			}
		}
		if v, ok := m["class"]; ok {
			d.VehicleClass = models.VehicleClass(v)
		}
		if v, ok := m["available"]; ok {
			d.Available = v == "true"
		}
		if class != "" && d.VehicleClass != class {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Reserve is a single SET NX; idempotent for the holding order.
func (r *RedisSource) Reserve(ctx context.Context, driverID, orderID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, reservationKey(driverID), orderID, r.reservationTTL).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	holder, err := r.client.Get(ctx, reservationKey(driverID)).Result()
	if err != nil {
		return false, err
	}
	return holder == orderID, nil
}

func (r *RedisSource) Release(ctx context.Context, driverID, orderID string) error {
	holder, err := r.client.Get(ctx, reservationKey(driverID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if holder != orderID {
		return nil
	}
	return r.client.Del(ctx, reservationKey(driverID)).Err()
}

func (r *RedisSource) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisSource) Close() error { return r.client.Close() }

func metaKey(id string) string        { return "driver:meta:" + id }
func reservationKey(id string) string { return "driver:reserved:" + id }
