package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/bgp-orchestrator/internal/breaker"
)

// ConsumerStatus is an interface for checking the stream consumer's group
// join state.
type ConsumerStatus interface {
	IsJoined() bool
}

// DBChecker abstracts the database health check for testability.
type DBChecker interface {
	Ping(ctx context.Context) error
}

// BreakerStatus abstracts a circuit breaker's current state for /readyz
// reporting; a breaker stuck open indicates a dependency is unavailable
// even though the service itself is still serving traffic.
type BreakerStatus interface {
	Name() string
	State() breaker.State
}

type Server struct {
	srv       *http.Server
	pool      *pgxpool.Pool
	dbChecker DBChecker
	consumer  ConsumerStatus
	breakers  []BreakerStatus
	logger    *zap.Logger
}

func NewServer(addr string, pool *pgxpool.Pool, consumer ConsumerStatus, breakers []BreakerStatus, logger *zap.Logger) *Server {
	s := &Server{
		pool:     pool,
		consumer: consumer,
		breakers: breakers,
		logger:   logger,
	}
	if pool != nil {
		s.dbChecker = pool
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	allOK := true

	if s.dbChecker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.dbChecker.Ping(ctx); err != nil {
			checks["postgres"] = "error"
			allOK = false
		} else {
			checks["postgres"] = "ok"
		}
	} else {
		checks["postgres"] = "error"
		allOK = false
	}

	if s.consumer != nil && s.consumer.IsJoined() {
		checks["stream_consumer"] = "ok"
	} else {
		checks["stream_consumer"] = "not_joined"
		allOK = false
	}

	// A breaker stuck open does not fail readiness on its own — external
	// dependency unavailability degrades gracefully rather than taking the
	// service out of rotation — but it is surfaced so an operator can see
	// it at a glance.
	for _, b := range s.breakers {
		checks["breaker_"+b.Name()] = string(b.State())
	}

	w.Header().Set("Content-Type", "application/json")
	status := "ready"
	httpStatus := http.StatusOK
	if !allOK {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}
