package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-plt-approvals/internal/app"
	"github.com/pesio-ai/be-plt-approvals/internal/handler"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/config"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("storage", cfg.Storage.Driver).
		Strs("entity_types", cfg.Approval.EntityTypes).
		Msg("Starting Approvals Service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		if err := tracing.Init(cfg.Service.Name, cfg.Service.Version, cfg.Tracing.OutputFile); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracing")
		}
		defer func() {
			if err := tracing.Shutdown(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Tracing shutdown failed")
			}
		}()
	}

	// Storage, notifications and the engine
	a, err := app.New(ctx, cfg, log, true)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize approval engine")
	}
	defer a.Close()

	// gRPC server
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		handler.RecoveryInterceptor(log),
		handler.LoggingInterceptor(log),
	))
	handler.NewGRPCHandler(a.Engine, log).Register(grpcServer)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(handler.ServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	// HTTP server
	var httpServer *http.Server
	if cfg.Server.HTTPPort > 0 {
		var h http.Handler = handler.NewHTTPHandler(a.Engine, a.Ping, log).Routes()
		h = handler.Recovery(log)(h)
		h = handler.Logger(log)(h)
		h = handler.RequestID(h)
		h = handler.Timeout(cfg.Server.RequestTimeout)(h)

		httpServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
			Handler: h,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			return fmt.Errorf("gRPC server failed: %w", err)
		}
		return nil
	})

	if httpServer != nil {
		g.Go(func() error {
			log.Info().Int("port", cfg.Server.HTTPPort).Msg("Starting HTTP server")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server failed: %w", err)
			}
			return nil
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if httpServer != nil {
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("HTTP server shutdown failed")
			}
		}

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			log.Warn().Msg("Graceful stop timed out, forcing gRPC shutdown")
			grpcServer.Stop()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
		a.Close()
		os.Exit(1)
	}
	log.Info().Msg("Server stopped")
}
