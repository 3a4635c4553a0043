package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type OrderKind string

const (
	KindTransport OrderKind = "transport"
	KindDelivery  OrderKind = "delivery"
)

// ServiceTier is the product the customer picked; it constrains which
// vehicle classes may serve the order.
type ServiceTier string

const (
	// transport tiers
	TierMoto     ServiceTier = "moto"
	TierEco      ServiceTier = "eco"
	TierStandard ServiceTier = "standard"
	TierPremium  ServiceTier = "premium"

	// delivery tiers
	TierFlash      ServiceTier = "flash"
	TierFlex       ServiceTier = "flex"
	TierMaxicharge ServiceTier = "maxicharge"
)

type VehicleClass string

const (
	ClassMotorbike VehicleClass = "motorbike"
	ClassCompact   VehicleClass = "compact"
	ClassSedan     VehicleClass = "sedan"
	ClassVan       VehicleClass = "van"
	ClassPremium   VehicleClass = "premium"
)

type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusConfirmed      OrderStatus = "confirmed"
	StatusDriverAssigned OrderStatus = "driver_assigned"
	StatusPickedUp       OrderStatus = "picked_up"
	StatusInTransit      OrderStatus = "in_transit"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
)

// Terminal reports whether no further transitions are permitted.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

type Order struct {
	ID          string      `json:"id"`
	Kind        OrderKind   `json:"kind"`
	ServiceTier ServiceTier `json:"service_tier"`
	Pickup      Coord       `json:"pickup"`
	Destination Coord       `json:"destination"`
	Status      OrderStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`

	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	PickedUpAt  *time.Time `json:"picked_up_at,omitempty"`
	InTransitAt *time.Time `json:"in_transit_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	CancellationReason string `json:"cancellation_reason,omitempty"`
	CancellationNote   string `json:"cancellation_note,omitempty"`
	AssignedDriverID   string `json:"assigned_driver_id,omitempty"`
}

// DriverCandidate is a point-in-time snapshot supplied by the candidate
// source per dispatch attempt; the core never owns driver identity.
type DriverCandidate struct {
	ID           string       `json:"id"`
	Position     Coord        `json:"position"`
	HeadingDeg   float64      `json:"heading_deg"` // [0,360)
	VehicleClass VehicleClass `json:"vehicle_class"`
	Rating       float64      `json:"rating"` // 0..5
	Available    bool         `json:"available"`
	Updated      time.Time    `json:"updated"`
}

type PositionSample struct {
	EntityID   string    `json:"entity_id"`
	Position   Coord     `json:"position"`
	HeadingDeg float64   `json:"heading_deg"`
	ObservedAt time.Time `json:"observed_at"`
}

// TrajectoryFrame is a derived render frame; never persisted.
type TrajectoryFrame struct {
	Position     Coord   `json:"position"`
	HeadingDeg   float64 `json:"heading_deg"`
	Interpolated bool    `json:"interpolated"`
}

type DispatchOutcome string

const (
	OutcomeMatched   DispatchOutcome = "matched"
	OutcomeExhausted DispatchOutcome = "exhausted"
)

// DispatchAttempt records one full dispatch call: the final radius, how many
// expansion rounds it took and what came of it.
type DispatchAttempt struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	RadiusKm         float64         `json:"radius_km"`
	CandidateCount   int             `json:"candidate_count"`
	Rounds           int             `json:"rounds"`
	Outcome          DispatchOutcome `json:"outcome"`
	DriverID         string          `json:"driver_id,omitempty"`
	PickupETAMinutes float64         `json:"pickup_eta_minutes,omitempty"`
	ElapsedSeconds   float64         `json:"elapsed_seconds"`
}

// TransitionEvent is emitted after every committed order transition.
type TransitionEvent struct {
	OrderID string      `json:"order_id"`
	From    OrderStatus `json:"from_status"`
	To      OrderStatus `json:"to_status"`
	Actor   string      `json:"actor"`
	At      time.Time   `json:"at"`
}
