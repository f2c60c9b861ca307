package server

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	//nolint:gosec // only exposed if pprofAddr config is set
	_ "net/http/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/clusterkit/elector/pkg/coordination/etcd"
	"github.com/clusterkit/elector/pkg/duty"
	"github.com/clusterkit/elector/pkg/election"
)

type Server struct {
	log    logrus.FieldLogger
	config *Config

	coordinator *election.Coordinator
	duties      *duty.Runner

	metricsServer *http.Server
	pprofServer   *http.Server
	healthServer  *http.Server
	apiServer     *http.Server
}

func NewServer(_ context.Context, log logrus.FieldLogger, config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	factory := etcd.NewFactory(log, config.Election.CoordinationConfig(), config.Election.DecodeValue)

	coordinator, err := election.NewCoordinator(log, config.Election, factory)
	if err != nil {
		return nil, fmt.Errorf("failed to create election coordinator: %w", err)
	}

	duties := duty.NewRunner(log, coordinator)
	duties.Register(duty.Task{
		Name:     "heartbeat",
		Interval: config.Duty.HeartbeatInterval,
		Run: func(ctx context.Context) error {
			contenders, err := coordinator.Contenders(ctx)
			if err != nil {
				return err
			}

			log.WithFields(logrus.Fields{
				"contender_id": coordinator.ContenderID(),
				"roster_size":  len(contenders),
			}).Info("Leadership heartbeat")

			return nil
		},
	})

	return &Server{
		log:         log,
		config:      config,
		coordinator: coordinator,
		duties:      duties,
	}, nil
}

// Coordinator exposes the election coordinator to embedding applications.
func (s *Server) Coordinator() *election.Coordinator {
	return s.coordinator
}

func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Start metrics server
	g.Go(func() error {
		if err := s.startMetrics(); err != nil && err != http.ErrServerClosed {
			return err
		}

		return nil
	})

	// Start pprof server if configured
	if s.config.PProfAddr != nil {
		g.Go(func() error {
			if err := s.startPProf(); err != nil && err != http.ErrServerClosed {
				return err
			}

			return nil
		})
	}

	// Start health check server if configured
	if s.config.HealthCheckAddr != nil {
		g.Go(func() error {
			if err := s.startHealthCheck(); err != nil && err != http.ErrServerClosed {
				return err
			}

			return nil
		})
	}

	// Start status API
	g.Go(func() error {
		if err := s.startAPI(); err != nil && err != http.ErrServerClosed {
			return err
		}

		return nil
	})

	// Start election coordinator
	g.Go(func() error {
		if err := s.coordinator.Start(ctx); err != nil {
			return fmt.Errorf("failed to start election coordinator: %w", err)
		}

		return nil
	})

	// Start leader duties
	g.Go(func() error {
		return s.duties.Start(ctx)
	})

	// Wait for shutdown signal
	g.Go(func() error {
		<-ctx.Done()

		return s.stop(ctx)
	})

	return g.Wait()
}

func (s *Server) stop(ctx context.Context) error {
	// Create a timeout context for cleanup
	cleanupCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.log.Info("Starting graceful shutdown...")

	if s.duties != nil {
		if err := s.duties.Stop(ctx); err != nil {
			s.log.WithError(err).Error("failed to stop duty runner")
		}
	}

	if s.coordinator != nil {
		if err := s.coordinator.Stop(ctx); err != nil {
			s.log.WithError(err).Error("failed to stop election coordinator")
		}
	}

	// Shutdown HTTP servers
	if s.apiServer != nil {
		if err := s.apiServer.Shutdown(cleanupCtx); err != nil {
			s.log.WithError(err).Error("failed to shutdown api server")
		}
	}

	if s.pprofServer != nil {
		if err := s.pprofServer.Shutdown(cleanupCtx); err != nil {
			s.log.WithError(err).Error("failed to shutdown pprof server")
		}
	}

	if s.healthServer != nil {
		if err := s.healthServer.Shutdown(cleanupCtx); err != nil {
			s.log.WithError(err).Error("failed to shutdown health server")
		}
	}

	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(cleanupCtx); err != nil {
			s.log.WithError(err).Error("failed to shutdown metrics server")
		}
	}

	s.log.Info("Elector stopped gracefully")

	return nil
}

func (s *Server) startMetrics() error {
	s.log.WithField("addr", s.config.MetricsAddr).Info("Starting metrics server")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsServer = &http.Server{
		Addr:              s.config.MetricsAddr,
		ReadHeaderTimeout: 120 * time.Second,
		Handler:           mux,
	}

	return s.metricsServer.ListenAndServe()
}

func (s *Server) startPProf() error {
	s.log.WithField("addr", *s.config.PProfAddr).Info("Starting pprof server")

	s.pprofServer = &http.Server{
		Addr:              *s.config.PProfAddr,
		ReadHeaderTimeout: 120 * time.Second,
	}

	return s.pprofServer.ListenAndServe()
}

func (s *Server) startHealthCheck() error {
	s.log.WithField("addr", *s.config.HealthCheckAddr).Info("Starting healthcheck server")

	s.healthServer = &http.Server{
		Addr:              *s.config.HealthCheckAddr,
		ReadHeaderTimeout: 120 * time.Second,
	}

	s.healthServer.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return s.healthServer.ListenAndServe()
}
