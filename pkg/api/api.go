package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/lucid-vigil/ransomguard/pkg/engine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 5 * time.Second

// StatusProvider reports the detector state served on /status.
type StatusProvider interface {
	Status() engine.Status
}

// NewRouter sets up the health, metrics and status endpoints.
func NewRouter(status StatusProvider, gatherer prometheus.Gatherer) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	// Status walks every monitor, so it gets 5 requests per second with a burst of 10
	limit := rateLimitMiddleware(rate.NewLimiter(rate.Limit(5), 10))
	router.Handle("/status", limit(statusHandler(status))).Methods(http.MethodGet)

	return router
}

// StartAPIServer serves handler on port until ctx is cancelled, then shuts
// down gracefully. It returns when the server has stopped.
func StartAPIServer(ctx context.Context, port string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("API server starting on :%s", port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info().Msg("API server stopped")
	return nil
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func statusHandler(status StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status.Status()); err != nil {
			log.Error().Err(err).Msg("Failed to encode status")
		}
	}
}

func rateLimitMiddleware(limiter *rate.Limiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
