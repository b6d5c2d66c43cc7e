package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Ithil-protocol/liquidation-bot/internal/core"
	"github.com/Ithil-protocol/liquidation-bot/internal/observability"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// healthServicePrefix namespaces per-feed gRPC health services, e.g.
// "liquidator.chain".
const healthServicePrefix = "liquidator."

// SnapshotSource provides the latest engine snapshot. It returns nil until
// the first one is published.
type SnapshotSource interface {
	Snapshot() *core.Snapshot
}

// StatusServer exposes process health over gRPC and engine state over
// HTTP/JSON.
type StatusServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	grpcAddr   string
	httpAddr   string

	source  SnapshotSource
	checker *observability.HealthChecker
	logger  zerolog.Logger
}

func NewStatusServer(grpcAddr, httpAddr string, source SnapshotSource, checker *observability.HealthChecker) *StatusServer {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	if checker == nil {
		checker = observability.NewHealthChecker()
	}
	return &StatusServer{
		grpcServer: grpcServer,
		health:     healthServer,
		grpcAddr:   grpcAddr,
		httpAddr:   httpAddr,
		source:     source,
		checker:    checker,
		logger:     observability.NewLogger("status-server"),
	}
}

// SetFeedStatus reports a feed as up or down on both surfaces.
func (s *StatusServer) SetFeedStatus(feed string, up bool) {
	s.checker.SetComponent(feed, up)
	s.health.SetServingStatus(healthServicePrefix+feed, servingStatus(up))
	s.health.SetServingStatus("", servingStatus(s.checker.IsReady()))
}

// SetReady marks startup as complete.
func (s *StatusServer) SetReady(ready bool) {
	s.checker.SetReady(ready)
	s.health.SetServingStatus("", servingStatus(s.checker.IsReady()))
}

func servingStatus(up bool) healthpb.HealthCheckResponse_ServingStatus {
	if up {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Handler returns the HTTP routes.
func (s *StatusServer) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		path    string
		handler runtime.HandlerFunc
	}{
		{"/v1/status", s.handleStatus},
		{"/v1/positions", s.handlePositions},
		{"/v1/positions/{id}", s.handlePosition},
		{"/v1/prices", s.handlePrices},
		{"/healthz", func(w http.ResponseWriter, r *http.Request, _ map[string]string) { s.checker.LivenessHandler(w, r) }},
		{"/readyz", func(w http.ResponseWriter, r *http.Request, _ map[string]string) { s.checker.ReadinessHandler(w, r) }},
	}
	for _, route := range routes {
		if err := mux.HandlePath(http.MethodGet, route.path, route.handler); err != nil {
			return nil, fmt.Errorf("register %s: %w", route.path, err)
		}
	}
	return mux, nil
}

type statusResponse struct {
	Ready      bool            `json:"ready"`
	Components map[string]bool `json:"components"`
	Engine     *core.Snapshot  `json:"engine"`
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, statusResponse{
		Ready:      s.checker.IsReady(),
		Components: s.checker.Components(),
		Engine:     s.source.Snapshot(),
	})
}

type positionsResponse struct {
	Clock     string              `json:"clock"`
	Positions []core.PositionView `json:"positions"`
}

// handlePositions lists tracked positions, optionally filtered by
// ?status=Opened|LiquidationRequested (case-insensitive).
func (s *StatusServer) handlePositions(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	filter := r.URL.Query().Get("status")
	out := make([]core.PositionView, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		if filter == "" || strings.EqualFold(p.Status, filter) {
			out = append(out, p)
		}
	}
	writeJSON(w, http.StatusOK, positionsResponse{Clock: snap.Clock, Positions: out})
}

func (s *StatusServer) handlePosition(w http.ResponseWriter, r *http.Request, params map[string]string) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	id := params["id"]
	for _, p := range snap.Positions {
		if p.ID == id {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("position %s not tracked", id))
}

type pricesResponse struct {
	Prices      []core.PriceView `json:"prices"`
	RiskFactors []core.RiskView  `json:"risk_factors"`
}

func (s *StatusServer) handlePrices(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, pricesResponse{Prices: snap.Prices, RiskFactors: snap.RiskFactors})
}

func (s *StatusServer) snapshot(w http.ResponseWriter) (*core.Snapshot, bool) {
	snap := s.source.Snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not started")
		return nil, false
	}
	return snap, true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// StartGRPC serves the health service until ctx ends.
func (s *StatusServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC health server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP serves the status routes until ctx ends.
func (s *StatusServer) StartHTTP(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP status server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
