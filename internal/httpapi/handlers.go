package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/courier-dispatch/internal/candidates"
	"github.com/example/courier-dispatch/internal/dispatch"
	"github.com/example/courier-dispatch/internal/geomath"
	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/order"
	"github.com/example/courier-dispatch/internal/storage"
	"github.com/example/courier-dispatch/internal/tracking"
)

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/orders", s.handleCreateOrder).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{id}", s.handleGetOrder).Methods("GET")
	s.mux.HandleFunc("/api/v1/orders/{id}/confirm", s.handleConfirm).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{id}/dispatch", s.handleDispatch).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{id}/transition", s.handleTransition).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{id}/cancel", s.handleCancel).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{id}/tracking", s.handleTrackingSnapshot).Methods("GET")
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/ws/orders/{id}", s.handleWatchWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createOrderRequest struct {
	Kind        models.OrderKind   `json:"kind"`
	ServiceTier models.ServiceTier `json:"service_tier"`
	Pickup      models.Coord       `json:"pickup"`
	Destination models.Coord       `json:"destination"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := geomath.ValidateCoord(req.Pickup); err != nil {
		writeError(w, http.StatusBadRequest, "invalid pickup coordinate")
		return
	}
	if err := geomath.ValidateCoord(req.Destination); err != nil {
		writeError(w, http.StatusBadRequest, "invalid destination coordinate")
		return
	}
	if len(dispatch.CompatibleClasses(req.ServiceTier)) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "unknown service tier")
		return
	}

	o := &models.Order{
		ID:          uuid.NewString(),
		Kind:        req.Kind,
		ServiceTier: req.ServiceTier,
		Pickup:      req.Pickup,
		Destination: req.Destination,
		Status:      models.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.SaveOrder(r.Context(), o); err != nil {
		writeError(w, http.StatusInternalServerError, "could not persist order")
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := s.loadOrder(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	o, ok := s.loadOrder(w, r)
	if !ok {
		return
	}
	if err := s.machine.Transition(r.Context(), o, models.StatusConfirmed, actorFrom(r)); err != nil {
		writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type dispatchRequest struct {
	// widened starting radius for a manual "expand search"; zero keeps the default
	InitialRadiusKm float64 `json:"initial_radius_km,omitempty"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	o, ok := s.loadOrder(w, r)
	if !ok {
		return
	}
	var req dispatchRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	engine := s.engine
	if req.InitialRadiusKm > 0 {
		widened := *s.engine
		widened.InitialRadiusKm = req.InitialRadiusKm
		if widened.MaxRadiusKm < req.InitialRadiusKm {
			widened.MaxRadiusKm = req.InitialRadiusKm
		}
		engine = &widened
	}

	att, err := engine.Dispatch(r.Context(), o)
	switch {
	case err == nil:
		if _, err := s.tracker.Open(o); err != nil && !errors.Is(err, tracking.ErrAlreadyTracked) {
			s.logger.Warn("tracking session not opened", "order_id", o.ID, "error", err)
		}
		writeJSON(w, http.StatusOK, att)
	case errors.Is(err, dispatch.ErrSearchExhausted):
		// normal outcome: the client offers "no driver found, expand search?"
		writeJSON(w, http.StatusOK, att)
	case errors.Is(err, dispatch.ErrInvalidOrderStatus):
		writeError(w, http.StatusConflict, "order is not dispatchable in its current status")
	case errors.Is(err, dispatch.ErrNoCompatibleVehicleClass):
		writeError(w, http.StatusUnprocessableEntity, "no vehicle class serves this tier")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type transitionRequest struct {
	Status models.OrderStatus `json:"status"`
	Actor  string             `json:"actor"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	o, ok := s.loadOrder(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = actorFrom(r)
	}
	if err := s.machine.Transition(r.Context(), o, req.Status, actor); err != nil {
		writeTransitionError(w, err)
		return
	}
	if req.Status == models.StatusDelivered && o.AssignedDriverID != "" {
		_ = s.source.Release(r.Context(), o.AssignedDriverID, o.ID)
	}
	writeJSON(w, http.StatusOK, o)
}

type cancelRequest struct {
	Reason order.CancelReason `json:"reason"`
	Note   string             `json:"note,omitempty"`
	Actor  string             `json:"actor,omitempty"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	o, ok := s.loadOrder(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = actorFrom(r)
	}
	if err := s.machine.Cancel(r.Context(), o, actor, req.Reason, req.Note); err != nil {
		writeTransitionError(w, err)
		return
	}
	if o.AssignedDriverID != "" {
		_ = s.source.Release(r.Context(), o.AssignedDriverID, o.ID)
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleTrackingSnapshot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, err := s.tracker.Snapshot(id, time.Now())
	if err != nil {
		if errors.Is(err, tracking.ErrNoSession) || errors.Is(err, tracking.ErrSessionClosed) {
			writeError(w, http.StatusNotFound, "no live tracking session for this order")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type driverLocationPayload struct {
	ID           string              `json:"id"`
	Position     models.Coord        `json:"position"`
	HeadingDeg   float64             `json:"heading_deg"`
	VehicleClass models.VehicleClass `json:"vehicle_class"`
	Rating       float64             `json:"rating"`
	Available    bool                `json:"available"`
	ObservedAt   time.Time           `json:"observed_at"`
}

// handleDriverLocation accepts a driver position report: it refreshes the
// candidate pool, feeds any tracking session bound to the driver and
// publishes the sample onto the location feed for other consumers.
func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var p driverLocationPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := geomath.ValidateCoord(p.Position); err != nil {
		writeError(w, http.StatusBadRequest, "invalid coordinate")
		return
	}
	if p.ObservedAt.IsZero() {
		p.ObservedAt = time.Now().UTC()
	}

	cand := models.DriverCandidate{
		ID:           p.ID,
		Position:     p.Position,
		HeadingDeg:   geomath.NormalizeHeading(p.HeadingDeg),
		VehicleClass: p.VehicleClass,
		Rating:       p.Rating,
		Available:    p.Available,
	}
	switch src := s.source.(type) {
	case *candidates.Index:
		src.Upsert(cand)
	case *candidates.RedisSource:
		if err := src.Upsert(r.Context(), cand); err != nil {
			s.logger.Warn("candidate upsert failed", "driver_id", p.ID, "error", err)
		}
	}

	sample := models.PositionSample{
		EntityID:   p.ID,
		Position:   p.Position,
		HeadingDeg: cand.HeadingDeg,
		ObservedAt: p.ObservedAt,
	}
	if err := s.tracker.Feed(sample); err != nil && !errors.Is(err, tracking.ErrSessionClosed) {
		s.logger.Warn("tracking feed failed", "driver_id", p.ID, "error", err)
	}
	if s.kafka != nil {
		if err := s.kafka.PublishSample(sample); err != nil {
			s.logger.Warn("kafka publish failed", "driver_id", p.ID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

// handleWatchWS streams tracking snapshots and lifecycle notifications for
// one order over a websocket until the session ends or the peer goes away.
func (s *Server) handleWatchWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sess := s.wsreg.Add(id, conn)

	go func() {
		defer func() {
			s.wsreg.Remove(id, sess)
			_ = conn.Close()
		}()
		ticker := time.NewTicker(s.cfg.SnapshotInterval)
		defer ticker.Stop()
		for range ticker.C {
			snap, err := s.tracker.Snapshot(id, time.Now())
			if err != nil {
				// no live session (yet): keep the socket open so lifecycle
				// broadcasts still reach the watcher; the status frame doubles
				// as a liveness probe for dead peers
				if err := sess.Send(map[string]interface{}{"type": "tracking_status", "live": false}); err != nil {
					return
				}
				continue
			}
			if err := sess.Send(map[string]interface{}{"type": "tracking_snapshot", "snapshot": snap}); err != nil {
				return
			}
		}
	}()
}

func (s *Server) loadOrder(w http.ResponseWriter, r *http.Request) (*models.Order, bool) {
	id := mux.Vars(r)["id"]
	o, err := s.store.LoadOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	return o, true
}

func writeTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrMissingReason):
		writeError(w, http.StatusBadRequest, "cancellation requires a reason")
	case errors.Is(err, order.ErrTerminalState), errors.Is(err, order.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "this order can no longer be modified")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func actorFrom(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "api"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
