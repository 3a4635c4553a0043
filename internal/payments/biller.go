package payments

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/courier-dispatch/internal/models"
)

// Charger is the payment collaborator contract; StripeClient satisfies it.
type Charger interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

// EventBiller consumes lifecycle events and drives the hold/capture/cancel
// flow: hold funds when a driver is assigned, capture on delivery, release
// on cancellation. It implements order.EventSink and lives entirely outside
// the dispatch core.
type EventBiller struct {
	Client     Charger
	HoldAmount int64 // minor units
	Currency   string
	Logger     *slog.Logger

	mu      sync.Mutex
	intents map[string]string // orderID -> paymentIntentID
}

func NewEventBiller(client Charger, holdAmount int64, currency string, logger *slog.Logger) *EventBiller {
	return &EventBiller{
		Client:     client,
		HoldAmount: holdAmount,
		Currency:   currency,
		Logger:     logger,
		intents:    make(map[string]string),
	}
}

func (b *EventBiller) OrderTransitioned(ev models.TransitionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch ev.To {
	case models.StatusDriverAssigned:
		id, err := b.Client.Hold(ctx, b.HoldAmount, b.Currency, "")
		if err != nil {
			b.warn("payment hold failed", ev.OrderID, err)
			return
		}
		b.mu.Lock()
		b.intents[ev.OrderID] = id
		b.mu.Unlock()
	case models.StatusDelivered:
		if id, ok := b.take(ev.OrderID); ok {
			if err := b.Client.Capture(ctx, id); err != nil {
				b.warn("payment capture failed", ev.OrderID, err)
			}
		}
	case models.StatusCancelled:
		if id, ok := b.take(ev.OrderID); ok {
			if err := b.Client.Cancel(ctx, id); err != nil {
				b.warn("payment release failed", ev.OrderID, err)
			}
		}
	}
}

func (b *EventBiller) take(orderID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.intents[orderID]
	if ok {
		delete(b.intents, orderID)
	}
	return id, ok
}

func (b *EventBiller) warn(msg, orderID string, err error) {
	if b.Logger != nil {
		b.Logger.Warn(msg, "order_id", orderID, "error", err)
	}
}
