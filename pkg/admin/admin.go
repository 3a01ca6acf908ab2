// Package admin exposes the engine's introspection surface: a gRPC
// health endpoint instrumented with the same interceptor metrics the
// teacher wires into its control plane, plus a small HTTP surface for
// Prometheus scraping and a JSON state snapshot (SPEC_FULL §3: "optional
// admin/introspection service...kept separate from the RTPS wire
// protocol itself, which is raw UDP").
//
// NewGrpcServer below is controller/util/grpc.go's constructor, adapted
// unchanged in shape: the prometheus interceptor wiring is exactly the
// teacher's, only the package and the service registered on top differ.
package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	grpcprom "github.com/grpc-ecosystem/go-grpc-prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusProvider is implemented by whatever owns the engine's top-level
// state (participants, proxies, guard chains) and wants it exposed for
// introspection.
type StatusProvider interface {
	Snapshot() map[string]interface{}
}

// NewGrpcServer returns a grpc server pre-configured with prometheus
// interceptors and the standard health service, the way any long-running
// RPC-serving process in this stack wires its server up.
func NewGrpcServer() *grpc.Server {
	server := grpc.NewServer(
		grpc.UnaryInterceptor(grpcprom.UnaryServerInterceptor),
		grpc.StreamInterceptor(grpcprom.StreamServerInterceptor),
	)
	grpcprom.Register(server)
	return server
}

// Server is the engine's admin surface: a gRPC health service on one
// listener and a Prometheus/JSON HTTP mux on another.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	status     StatusProvider
}

// New constructs an admin Server. status may be nil until the engine has
// finished wiring its components; Snapshot is only called per-request.
func New(status StatusProvider) *Server {
	s := &Server{
		grpcServer: NewGrpcServer(),
		health:     health.NewServer(),
		status:     status,
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", s.serveStatus)
	s.httpServer = &http.Server{Handler: mux}
	return s
}

// SetServing toggles the gRPC health status for the named service
// ("" is the overall server status). Nothing in the engine calls it;
// New marks the overall status SERVING.
func (s *Server) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)
}

// ServeGRPC blocks serving gRPC health checks on lis.
func (s *Server) ServeGRPC(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// ServeHTTP blocks serving /metrics and /status on lis. The method name
// collides with http.Handler's by convention only; Server is not itself
// an http.Handler.
func (s *Server) ServeHTTP(lis net.Listener) error {
	return s.httpServer.Serve(lis)
}

// Shutdown stops both listeners gracefully.
func (s *Server) Shutdown(ctx context.Context) {
	s.grpcServer.GracefulStop()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("admin: HTTP server shutdown did not complete cleanly")
	}
}

func (s *Server) serveStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		http.Error(w, "status not yet available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.status.Snapshot()); err != nil {
		log.WithError(err).Error("admin: failed to encode status snapshot")
	}
}
