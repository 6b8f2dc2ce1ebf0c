// Package grpc exposes the operational endpoint of the sync server: the
// standard gRPC health service, with a per-service status for the uploader.
package grpc

import (
	"context"
	"errors"
	"net"

	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/uploader"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// UploaderService is the health service name reporting the uploader.
const UploaderService = "gophsync.Uploader"

type GRPCServer struct {
	address string
	logger  logging.Logger
	health  *health.Server
}

func NewGRPCServer(address string, l logging.Logger) *GRPCServer {
	h := health.NewServer()
	h.SetServingStatus(UploaderService, healthpb.HealthCheckResponse_SERVING)
	return &GRPCServer{
		address: address,
		logger:  l.With("module", "grpc_server"),
		health:  h,
	}
}

// ObserveUploader is an uploader observer. The uploader stays serving while
// cycles finish or only individual units fail; anything else (lock backend,
// pruning, database) marks it not serving until a cycle succeeds again.
func (s *GRPCServer) ObserveUploader(c uploader.Completion) {
	st := healthpb.HealthCheckResponse_SERVING
	var ue *uploader.UnitError
	if c.Err != nil && !errors.As(c.Err, &ue) {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(UploaderService, st)
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor))
	healthpb.RegisterHealthServer(srv, s.health)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
