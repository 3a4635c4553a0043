package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/courier-dispatch/internal/candidates"
	"github.com/example/courier-dispatch/internal/config"
	"github.com/example/courier-dispatch/internal/dispatch"
	"github.com/example/courier-dispatch/internal/logging"
	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/notify"
	"github.com/example/courier-dispatch/internal/order"
	"github.com/example/courier-dispatch/internal/storage"
	"github.com/example/courier-dispatch/internal/tracking"
)

func newTestServer() (*Server, *candidates.Index) {
	cfg := config.ServerConfig{
		StalenessWindow:  30 * time.Second,
		AssumedSpeedKmh:  30,
		SnapshotInterval: 100 * time.Millisecond,
		InitialRadiusKm:  5,
		MaxRadiusKm:      25,
		RadiusStepKm:     5,
	}
	logger := logging.NewLogger("error")
	store := storage.NewMemoryStore()
	source := candidates.NewIndex()
	tracker := tracking.NewRegistry(cfg.StalenessWindow, cfg.AssumedSpeedKmh)
	wsreg := notify.NewWSRegistry()
	machine := order.NewMachine(store, tracker)
	engine := dispatch.NewEngine(source, machine)
	srv := NewServer(cfg, logger, Deps{
		Store:   store,
		Source:  source,
		Machine: machine,
		Engine:  engine,
		Tracker: tracker,
		WSReg:   wsreg,
	})
	return srv, source
}

func doJSON(t *testing.T, srv http.Handler, method, path string, body interface{}, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return rec
}

func createOrder(t *testing.T, srv http.Handler) models.Order {
	t.Helper()
	var o models.Order
	rec := doJSON(t, srv, "POST", "/api/v1/orders", map[string]interface{}{
		"kind":         "delivery",
		"service_tier": "flex",
		"pickup":       models.Coord{Lat: 0, Lng: 0},
		"destination":  models.Coord{Lat: 0.1, Lng: 0},
	}, &o)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: status %d body %s", rec.Code, rec.Body.String())
	}
	return o
}

func postLocation(t *testing.T, srv http.Handler, id string, lat float64, at time.Time) {
	t.Helper()
	rec := doJSON(t, srv, "POST", "/internal/driver/locations", map[string]interface{}{
		"id":            id,
		"position":      models.Coord{Lat: lat, Lng: 0},
		"heading_deg":   90.0,
		"vehicle_class": "sedan",
		"rating":        4.7,
		"available":     true,
		"observed_at":   at,
	}, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("driver location: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer()
	o := createOrder(t, srv)
	if o.Status != models.StatusPending || o.ID == "" {
		t.Fatalf("unexpected order: %+v", o)
	}
	base := "/api/v1/orders/" + o.ID

	var confirmed models.Order
	if rec := doJSON(t, srv, "POST", base+"/confirm", nil, &confirmed); rec.Code != 200 {
		t.Fatalf("confirm: %d", rec.Code)
	}
	if confirmed.Status != models.StatusConfirmed || confirmed.ConfirmedAt == nil {
		t.Fatalf("unexpected confirm result: %+v", confirmed)
	}

	// driver ~2 km from pickup
	postLocation(t, srv, "d1", 0.018, time.Now())

	var att models.DispatchAttempt
	if rec := doJSON(t, srv, "POST", base+"/dispatch", nil, &att); rec.Code != 200 {
		t.Fatalf("dispatch: %d", rec.Code)
	}
	if att.Outcome != models.OutcomeMatched || att.DriverID != "d1" {
		t.Fatalf("unexpected attempt: %+v", att)
	}

	var after models.Order
	doJSON(t, srv, "GET", base, nil, &after)
	if after.Status != models.StatusDriverAssigned || after.AssignedDriverID != "d1" {
		t.Fatalf("order not assigned: %+v", after)
	}

	// session exists but has seen no samples yet: stale pickup fallback
	var snap tracking.Snapshot
	if rec := doJSON(t, srv, "GET", base+"/tracking", nil, &snap); rec.Code != 200 {
		t.Fatalf("tracking: %d", rec.Code)
	}
	if !snap.Stale {
		t.Fatalf("expected stale pre-sample snapshot: %+v", snap)
	}

	// a fresh location flows into the live session
	postLocation(t, srv, "d1", 0.02, time.Now())
	doJSON(t, srv, "GET", base+"/tracking", nil, &snap)
	if snap.Stale || snap.DriverID != "d1" {
		t.Fatalf("expected fresh snapshot: %+v", snap)
	}
	if snap.DistanceRemainingKm <= 0 || snap.ETAMinutes <= 0 {
		t.Fatalf("expected derived fields: %+v", snap)
	}

	// cancel closes the session and ends the lifecycle
	var cancelled models.Order
	rec := doJSON(t, srv, "POST", base+"/cancel", map[string]string{
		"reason": "wrong_address", "actor": "rider",
	}, &cancelled)
	if rec.Code != 200 || cancelled.Status != models.StatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("cancel: %d %+v", rec.Code, cancelled)
	}

	waitFor(t, func() bool {
		r := doJSON(t, srv, "GET", base+"/tracking", nil, nil)
		return r.Code == http.StatusNotFound
	}, "tracking session to close")

	if r := doJSON(t, srv, "POST", base+"/transition", map[string]string{"status": "delivered"}, nil); r.Code != http.StatusConflict {
		t.Fatalf("post-cancel transition: expected 409, got %d", r.Code)
	}
}

func TestDispatchExhaustedKeepsOrderIntact(t *testing.T) {
	srv, _ := newTestServer()
	o := createOrder(t, srv)
	base := "/api/v1/orders/" + o.ID

	// only driver is ~30 km out, beyond the 25 km cap
	postLocation(t, srv, "far", 0.27, time.Now())

	var att models.DispatchAttempt
	if rec := doJSON(t, srv, "POST", base+"/dispatch", nil, &att); rec.Code != 200 {
		t.Fatalf("dispatch: %d", rec.Code)
	}
	if att.Outcome != models.OutcomeExhausted || att.Rounds != 5 {
		t.Fatalf("unexpected attempt: %+v", att)
	}
	var after models.Order
	doJSON(t, srv, "GET", base, nil, &after)
	if after.Status != models.StatusPending {
		t.Fatalf("order must stay pending, got %s", after.Status)
	}

	// manual expansion with a wider starting radius finds the driver
	if rec := doJSON(t, srv, "POST", base+"/dispatch", map[string]float64{"initial_radius_km": 35}, &att); rec.Code != 200 {
		t.Fatalf("widened dispatch: %d", rec.Code)
	}
	if att.Outcome != models.OutcomeMatched || att.DriverID != "far" {
		t.Fatalf("widened dispatch failed: %+v", att)
	}
}

func TestCancelWithoutReasonRejected(t *testing.T) {
	srv, _ := newTestServer()
	o := createOrder(t, srv)
	rec := doJSON(t, srv, "POST", "/api/v1/orders/"+o.ID+"/cancel", map[string]string{"actor": "rider"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateOrderValidation(t *testing.T) {
	srv, _ := newTestServer()
	rec := doJSON(t, srv, "POST", "/api/v1/orders", map[string]interface{}{
		"kind": "delivery", "service_tier": "flex",
		"pickup":      models.Coord{Lat: 95, Lng: 0},
		"destination": models.Coord{Lat: 0, Lng: 0},
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad pickup, got %d", rec.Code)
	}

	rec = doJSON(t, srv, "POST", "/api/v1/orders", map[string]interface{}{
		"kind": "delivery", "service_tier": "warp",
		"pickup":      models.Coord{},
		"destination": models.Coord{Lat: 0.1},
	}, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown tier, got %d", rec.Code)
	}
}

func TestWatchSocketStaysOpenWithoutSession(t *testing.T) {
	srv, _ := newTestServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()
	o := createOrder(t, srv)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/orders/" + o.ID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// no tracking session exists; the socket must keep ticking status frames
	// instead of hanging up
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 2; i++ {
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if msg["type"] != "tracking_status" {
			t.Fatalf("unexpected frame: %v", msg)
		}
	}
}

func TestUnknownOrderIs404(t *testing.T) {
	srv, _ := newTestServer()
	if rec := doJSON(t, srv, "GET", "/api/v1/orders/nope", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
