package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/fleetopia/internal/config"
	"github.com/example/fleetopia/internal/dispatch"
	"github.com/example/fleetopia/internal/eta"
	"github.com/example/fleetopia/internal/geo"
	"github.com/example/fleetopia/internal/ingest"
	"github.com/example/fleetopia/internal/matching"
	"github.com/example/fleetopia/internal/payments"
	"github.com/example/fleetopia/internal/storage"
)

type Server struct {
	store    storage.Store
	engine   *matching.Engine
	tracker  geo.Tracker
	kafka    *ingest.KafkaProducer
	wsreg    *dispatch.WSRegistry
	payments payments.Processor
	logger   *slog.Logger

	jwtSecret []byte

	// payment intent per cargo offer; best-effort bookkeeping for the
	// optional hold/capture/release flow
	intentsMu sync.Mutex
	intents   map[string]string

	mux *mux.Router
}

// NewServer wires the API from config. Postgres, Redis, Kafka and Stripe
// are all optional: absent ones fall back to in-memory or no-op so the
// binary runs locally without infrastructure.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	var tracker geo.Tracker
	if cfg.RedisAddr != "" {
		tracker = geo.NewRedisTracker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		tracker = geo.NewIndex()
	}

	var store storage.Store
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		store = ps
	} else {
		store = storage.NewMemoryStore()
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	var proc payments.Processor
	if cfg.StripeAPIKey != "" {
		proc = payments.NewStripeProcessor(cfg.StripeAPIKey)
	}

	engine := matching.New(store, tracker, cfg.Matching, logger)
	if cfg.OSRMEndpoint != "" {
		engine.ETA = eta.NewOSRMClient(cfg.OSRMEndpoint)
		engine.Cache = eta.NewCache(cfg.ETACacheTTL)
	}

	s := &Server{
		store:     store,
		engine:    engine,
		tracker:   tracker,
		kafka:     kp,
		wsreg:     dispatch.NewWSRegistry(logger),
		payments:  proc,
		logger:    logger,
		jwtSecret: []byte(cfg.JWTSecret),
		intents:   make(map[string]string),
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/matches", s.handleMatches).Methods("GET")
	api.HandleFunc("/assignments", s.handleAssign).Methods("POST")

	api.HandleFunc("/cargo", s.handleCreateCargo).Methods("POST")
	api.HandleFunc("/cargo", s.handleListCargo).Methods("GET")
	api.HandleFunc("/cargo/{id}", s.handleGetCargo).Methods("GET")
	api.HandleFunc("/cargo/{id}/deliver", s.handleDeliver).Methods("POST")
	api.HandleFunc("/cargo/{id}/repost", s.handleRepost).Methods("POST")
	api.HandleFunc("/cargo/{id}/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/cargo/{id}/offers", s.handleSendOffer).Methods("POST")
	api.HandleFunc("/cargo/{id}/messages", s.handleMessages).Methods("GET")

	api.HandleFunc("/vehicles", s.handleUpsertVehicle).Methods("POST")
	api.HandleFunc("/vehicles", s.handleListVehicles).Methods("GET")
	api.HandleFunc("/vehicles/nearby", s.handleNearbyVehicles).Methods("GET")
	api.HandleFunc("/routes", s.handleListRoutes).Methods("GET")

	s.mux.HandleFunc("/internal/vehicle/positions", s.handleVehiclePosition).Methods("POST")
	s.mux.HandleFunc("/ws/dispatch", s.handleWS)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
