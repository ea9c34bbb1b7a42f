package monitoring

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the service name reported for a running solver.
const HealthService = "nlfff.Solver"

// HealthReporter publishes solver liveness over the standard gRPC health
// protocol. The overall status and HealthService move together.
type HealthReporter struct {
	hs  *health.Server
	srv *grpc.Server
}

// NewHealthReporter returns a reporter that starts out NOT_SERVING.
func NewHealthReporter() *HealthReporter {
	h := &HealthReporter{hs: health.NewServer(), srv: grpc.NewServer()}
	healthpb.RegisterHealthServer(h.srv, h.hs)
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Serving marks the solver as accepting and running work.
func (h *HealthReporter) Serving() { h.set(healthpb.HealthCheckResponse_SERVING) }

// NotServing marks the solver as idle, failed or shutting down.
func (h *HealthReporter) NotServing() { h.set(healthpb.HealthCheckResponse_NOT_SERVING) }

func (h *HealthReporter) set(s healthpb.HealthCheckResponse_ServingStatus) {
	h.hs.SetServingStatus("", s)
	h.hs.SetServingStatus(HealthService, s)
}

// Check queries the reporter directly, as a client would.
func (h *HealthReporter) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := h.hs.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Serve exposes the health service on lis until Stop is called.
func (h *HealthReporter) Serve(lis net.Listener) error {
	Logf("health service listening on %s", lis.Addr())
	if err := h.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks every service NOT_SERVING and stops the server.
func (h *HealthReporter) Stop() {
	h.hs.Shutdown()
	h.srv.GracefulStop()
}
