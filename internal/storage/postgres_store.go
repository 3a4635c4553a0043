package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/courier-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveOrder(ctx context.Context, o *models.Order) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO orders(
			id, kind, service_tier, pickup_lat, pickup_lng, dest_lat, dest_lng,
			status, created_at, confirmed_at, assigned_at, picked_up_at,
			in_transit_at, delivered_at, cancelled_at,
			cancellation_reason, cancellation_note, assigned_driver_id)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (id) DO UPDATE SET
			status=EXCLUDED.status,
			confirmed_at=EXCLUDED.confirmed_at,
			assigned_at=EXCLUDED.assigned_at,
			picked_up_at=EXCLUDED.picked_up_at,
			in_transit_at=EXCLUDED.in_transit_at,
			delivered_at=EXCLUDED.delivered_at,
			cancelled_at=EXCLUDED.cancelled_at,
			cancellation_reason=EXCLUDED.cancellation_reason,
			cancellation_note=EXCLUDED.cancellation_note,
			assigned_driver_id=EXCLUDED.assigned_driver_id`,
		o.ID, o.Kind, o.ServiceTier, o.Pickup.Lat, o.Pickup.Lng,
		o.Destination.Lat, o.Destination.Lng, o.Status, o.CreatedAt,
		o.ConfirmedAt, o.AssignedAt, o.PickedUpAt, o.InTransitAt,
		o.DeliveredAt, o.CancelledAt,
		nullStr(o.CancellationReason), nullStr(o.CancellationNote), nullStr(o.AssignedDriverID))
	return err
}

func (p *PostgresStore) LoadOrder(ctx context.Context, id string) (*models.Order, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, kind, service_tier, pickup_lat, pickup_lng, dest_lat, dest_lng,
			status, created_at, confirmed_at, assigned_at, picked_up_at,
			in_transit_at, delivered_at, cancelled_at,
			cancellation_reason, cancellation_note, assigned_driver_id
		FROM orders WHERE id=$1`, id)

	var o models.Order
	var confirmed, assigned, picked, transit, delivered, cancelled sql.NullTime
	var reason, note, driver sql.NullString
	err := row.Scan(&o.ID, &o.Kind, &o.ServiceTier,
		&o.Pickup.Lat, &o.Pickup.Lng, &o.Destination.Lat, &o.Destination.Lng,
		&o.Status, &o.CreatedAt, &confirmed, &assigned, &picked, &transit,
		&delivered, &cancelled, &reason, &note, &driver)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	o.ConfirmedAt = timePtr(confirmed)
	o.AssignedAt = timePtr(assigned)
	o.PickedUpAt = timePtr(picked)
	o.InTransitAt = timePtr(transit)
	o.DeliveredAt = timePtr(delivered)
	o.CancelledAt = timePtr(cancelled)
	o.CancellationReason = reason.String
	o.CancellationNote = note.String
	o.AssignedDriverID = driver.String
	return &o, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
