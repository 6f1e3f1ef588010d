package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"abr-proxy/internal/abr"
	"abr-proxy/internal/algorithm"
	"abr-proxy/internal/platform/config"
	"abr-proxy/internal/platform/logger"
	"abr-proxy/internal/platform/metrics"
	"abr-proxy/internal/session"
	"abr-proxy/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "abr-proxy:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		envFile string
		port    string
	)

	cmd := &cobra.Command{
		Use:           "abr-proxy",
		Short:         "Segment proxy that serves each segment at the quality an ABR algorithm picked",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Load(envFile); err != nil {
				return err
			}

			s := loadSettings()
			if port != "" {
				s.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log := logger.New(s.LogLevel, s.LogFormat)
			return run(ctx, s, log)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	return cmd
}

// server is the wired service before it starts listening.
type server struct {
	handler  http.Handler
	registry *session.Registry
}

func newServer(s settings, log zerolog.Logger, met *metrics.Metrics) (*server, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}

	algoCfg := algorithm.Config{
		Name:            s.Algorithm,
		BackendURL:      s.BackendURL,
		Timeout:         s.DecideTimeout,
		SegmentDuration: s.SegmentDuration,
		Logger:          logger.WithComponent(log, "algorithm"),
	}
	if s.Algorithm == algorithm.NameBuffer || s.Algorithm == "" {
		ladder, err := s.ladder()
		if err != nil {
			return nil, err
		}
		algoCfg.Ladder = ladder
	}
	// Each session gets its own algorithm so no state leaks between players.
	newAlgorithm, err := algorithm.NewFactory(algoCfg)
	if err != nil {
		return nil, fmt.Errorf("build algorithm: %w", err)
	}

	locator := abr.NewLocator(s.MaxQuality, s.Extensions, s.HeaderMarker)
	sessionLog := logger.WithComponent(log, "session")
	registry := session.NewRegistry(func(id string) *session.Session {
		return session.New(id, session.Options{
			Locator:       locator,
			Algorithm:     newAlgorithm(),
			Logger:        sessionLog,
			Metrics:       met,
			Window:        s.DecisionWindow,
			DecideTimeout: s.DecideTimeout,
		})
	})

	proxy := transport.New(transport.Config{
		FulfillTimeout: s.FulfillTimeout,
		Logger:         logger.WithComponent(log, "transport"),
		Metrics:        met,
	})
	h := session.NewHandler(registry, proxy, s.OriginURL, log, met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(registry.ActiveCount()) }).ServeHTTP(w, r)
	})
	r.Mount("/sessions", h.Routes(s.MetricsRateLimit))

	return &server{handler: r, registry: registry}, nil
}

func run(ctx context.Context, s settings, log zerolog.Logger) error {
	srv, err := newServer(s, log, metrics.New())
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              ":" + s.Port,
		Handler:           srv.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info().
		Str("port", s.Port).
		Str("origin", s.OriginURL).
		Int("max_quality", s.MaxQuality).
		Str("algorithm", string(s.Algorithm)).
		Dur("fulfill_timeout", s.FulfillTimeout).
		Int("decision_window", s.DecisionWindow).
		Msg("server starting")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutdown signal received, draining connections")

	// Ending sessions first completes every waiting media request.
	srv.registry.EndAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	log.Info().Msg("server stopped")
	return <-errCh
}
