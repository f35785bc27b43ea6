// Package api is the REST boundary over the peering catalog and the
// anomaly detector/store. It deliberately stays thin — validation and
// conflict detection live in internal/peering and internal/rules; this
// package only translates HTTP to Go calls and apierr.Error to status
// codes.
package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/example/bgp-orchestrator/internal/anomaly"
	"github.com/example/bgp-orchestrator/internal/peering"
)

// Server is the HTTP boundary for the mutation API.
type Server struct {
	router    *mux.Router
	peerings  *peering.Store
	anomalies *anomaly.Store
	detector  *anomaly.Detector
	logger    *zap.Logger
}

func NewServer(peerings *peering.Store, anomalies *anomaly.Store, detector *anomaly.Detector, logger *zap.Logger) *Server {
	s := &Server{
		peerings:  peerings,
		anomalies: anomalies,
		detector:  detector,
		logger:    logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/bgp-peerings", s.handleCreatePeering).Methods(http.MethodPost)
	r.HandleFunc("/bgp-peerings", s.handleListPeerings).Methods(http.MethodGet)
	r.HandleFunc("/bgp-peerings/bulk", s.handleBulkCreate).Methods(http.MethodPost)
	r.HandleFunc("/bgp-peerings/bulk-delete", s.handleBulkDelete).Methods(http.MethodPost)
	r.HandleFunc("/bgp-peerings/bulk-update", s.handleBulkUpdate).Methods(http.MethodPut)
	r.HandleFunc("/bgp-peerings/export/{format}", s.handleExport).Methods(http.MethodGet)
	r.HandleFunc("/bgp-peerings/topology", s.handleTopology).Methods(http.MethodGet)
	r.HandleFunc("/bgp-peerings/{id}", s.handleGetPeering).Methods(http.MethodGet)
	r.HandleFunc("/bgp-peerings/{id}", s.handleUpdatePeering).Methods(http.MethodPut)
	r.HandleFunc("/bgp-peerings/{id}", s.handleDeletePeering).Methods(http.MethodDelete)
	r.HandleFunc("/anomalies/detect", s.handleDetectAnomalies).Methods(http.MethodPost)
	r.HandleFunc("/anomalies", s.handleListAnomalies).Methods(http.MethodGet)
	r.HandleFunc("/anomalies/{id}", s.handleGetAnomaly).Methods(http.MethodGet)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// correlationID pulls the caller-supplied request id, falling back to a
// freshly generated one so every error response and audit row can be
// traced to a single request.
func correlationID(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return uuid.NewString()
}

func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
