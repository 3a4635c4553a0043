// Package notify is the outbound notification sink: it fans committed
// lifecycle events and dispatch outcomes out to connected websocket watchers
// and an optional webhook. Purely a sink; nothing here feeds back into the
// core.
package notify

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/courier-dispatch/internal/models"
)

// WSSession wraps one watcher connection; writes are serialized.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// WSRegistry holds watcher sessions keyed by order id. An order may have
// several watchers (customer app, ops console).
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string][]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string][]*WSSession)} }

func (r *WSRegistry) Add(orderID string, conn *websocket.Conn) *WSSession {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[orderID] = append(r.sessions[orderID], s)
	return s
}

func (r *WSRegistry) Remove(orderID string, target *WSSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.sessions[orderID][:0]
	for _, s := range r.sessions[orderID] {
		if s != target {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(r.sessions, orderID)
	} else {
		r.sessions[orderID] = kept
	}
}

// Broadcast sends v to every watcher of orderID; dead connections are pruned.
func (r *WSRegistry) Broadcast(orderID string, v interface{}) {
	r.mu.RLock()
	watchers := append([]*WSSession(nil), r.sessions[orderID]...)
	r.mu.RUnlock()
	for _, s := range watchers {
		if err := s.Send(v); err != nil {
			r.Remove(orderID, s)
		}
	}
}

// Notifier implements order.EventSink and dispatch.AttemptSink.
type Notifier struct {
	WS         *WSRegistry
	WebhookURL string // optional
	Client     *http.Client
	Logger     *slog.Logger
}

func NewNotifier(ws *WSRegistry, webhookURL string, logger *slog.Logger) *Notifier {
	return &Notifier{
		WS:         ws,
		WebhookURL: webhookURL,
		Client:     &http.Client{Timeout: 3 * time.Second},
		Logger:     logger,
	}
}

func (n *Notifier) OrderTransitioned(ev models.TransitionEvent) {
	n.WS.Broadcast(ev.OrderID, map[string]interface{}{"type": "order_transition", "event": ev})
	n.post(map[string]interface{}{"type": "order_transition", "event": ev})
	if n.Logger != nil {
		n.Logger.Info("order_transition",
			"order_id", ev.OrderID, "from", string(ev.From), "to", string(ev.To), "actor", ev.Actor)
	}
}

func (n *Notifier) DispatchCompleted(att models.DispatchAttempt) {
	n.WS.Broadcast(att.OrderID, map[string]interface{}{"type": "dispatch_attempt", "attempt": att})
	n.post(map[string]interface{}{"type": "dispatch_attempt", "attempt": att})
	if n.Logger != nil {
		n.Logger.Info("dispatch_attempt",
			"order_id", att.OrderID, "outcome", string(att.Outcome),
			"rounds", att.Rounds, "radius_km", att.RadiusKm, "driver_id", att.DriverID)
	}
}

// post delivers to the webhook best-effort; failures are logged, never surfaced.
func (n *Notifier) post(payload interface{}) {
	if n.WebhookURL == "" {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	resp, err := n.Client.Post(n.WebhookURL, "application/json", bytes.NewReader(b))
	if err != nil {
		if n.Logger != nil {
			n.Logger.Warn("webhook post failed", "error", err)
		}
		return
	}
	_ = resp.Body.Close()
}
