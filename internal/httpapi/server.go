package httpapi

import (
	"log/slog"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/courier-dispatch/internal/candidates"
	"github.com/example/courier-dispatch/internal/config"
	"github.com/example/courier-dispatch/internal/dispatch"
	"github.com/example/courier-dispatch/internal/eta"
	"github.com/example/courier-dispatch/internal/ingest"
	"github.com/example/courier-dispatch/internal/notify"
	"github.com/example/courier-dispatch/internal/order"
	"github.com/example/courier-dispatch/internal/payments"
	"github.com/example/courier-dispatch/internal/storage"
	"github.com/example/courier-dispatch/internal/tracking"
)

// Server exposes the dispatch/tracking core over HTTP and websockets.
type Server struct {
	cfg     config.ServerConfig
	logger  *slog.Logger
	store   storage.OrderStore
	source  candidates.Source
	machine *order.Machine
	engine  *dispatch.Engine
	tracker *tracking.Registry
	wsreg   *notify.WSRegistry
	kafka   *ingest.Producer // optional
	mux     *mux.Router
}

// Deps carries the collaborator set; every field but Kafka is required.
type Deps struct {
	Store   storage.OrderStore
	Source  candidates.Source
	Machine *order.Machine
	Engine  *dispatch.Engine
	Tracker *tracking.Registry
	WSReg   *notify.WSRegistry
	Kafka   *ingest.Producer
}

func NewServer(cfg config.ServerConfig, logger *slog.Logger, deps Deps) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		store:   deps.Store,
		source:  deps.Source,
		machine: deps.Machine,
		engine:  deps.Engine,
		tracker: deps.Tracker,
		wsreg:   deps.WSReg,
		kafka:   deps.Kafka,
		mux:     mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

// NewServerFromConfig wires real adapters where endpoints are configured and
// falls back to in-memory ones otherwise, so the binary runs locally without
// external services.
func NewServerFromConfig(cfg config.ServerConfig, logger *slog.Logger) *Server {
	var source candidates.Source
	if cfg.RedisAddr != "" {
		source = candidates.NewRedisSource(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, cfg.ReservationTTL)
	} else {
		source = candidates.NewIndex()
	}

	var store storage.OrderStore
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			store = ps
		} else {
			logger.Warn("postgres unavailable, using memory store", "error", err)
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	var producer *ingest.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	tracker := tracking.NewRegistry(cfg.StalenessWindow, cfg.AssumedSpeedKmh)
	wsreg := notify.NewWSRegistry()
	notifier := notify.NewNotifier(wsreg, cfg.WebhookURL, logger)

	sinks := []order.EventSink{tracker, notifier}
	if cfg.StripeHoldAmount > 0 {
		biller := payments.NewEventBiller(payments.NewStripeClient(), cfg.StripeHoldAmount, cfg.StripeCurrency, logger)
		sinks = append(sinks, biller)
	}
	machine := order.NewMachine(store, sinks...)

	engine := dispatch.NewEngine(source, machine)
	engine.Notify = notifier
	engine.AssumedSpeedKmh = cfg.AssumedSpeedKmh
	engine.InitialRadiusKm = cfg.InitialRadiusKm
	engine.MaxRadiusKm = cfg.MaxRadiusKm
	engine.RadiusStepKm = cfg.RadiusStepKm
	if cfg.OSRMEndpoint != "" {
		engine.ETAClient = eta.NewOSRMClient(cfg.OSRMEndpoint)
		engine.ETACache = eta.NewCache(time.Minute)
	}

	return NewServer(cfg, logger, Deps{
		Store:   store,
		Source:  source,
		Machine: machine,
		Engine:  engine,
		Tracker: tracker,
		WSReg:   wsreg,
		Kafka:   producer,
	})
}
