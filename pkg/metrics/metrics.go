package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"favmirror/pkg/logger"
)

var (
	// Transport metrics
	TransportAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "favmirror_transport_attempts_total",
			Help: "Request attempts made through the resilient transport",
		},
		[]string{"operation", "outcome"}, // outcome: success, retryable, permanent
	)

	TransportExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "favmirror_transport_retries_exhausted_total",
			Help: "Operations that failed on every allowed attempt",
		},
		[]string{"operation"},
	)

	BackoffDelay = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "favmirror_backoff_delay_seconds",
			Help: "Current shared backoff delay before jitter",
		},
	)

	// Sync metrics
	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "favmirror_uploads_total",
			Help: "Posts sent to the local store",
		},
		[]string{"result"}, // ok, rejected, error
	)

	PagesWalked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "favmirror_pages_walked_total",
			Help: "Listing pages processed",
		},
		[]string{"strategy"},
	)

	ItemsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "favmirror_items_already_stored_total",
			Help: "Listing items skipped because the local store already has them",
		},
		[]string{"strategy"},
	)

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "favmirror_sync_runs_total",
			Help: "Finished sync runs by strategy and final state",
		},
		[]string{"strategy", "state"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "favmirror_sync_duration_seconds",
			Help:    "Wall time of sync runs",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"strategy"},
	)
)

// RecordAttempt counts one transport attempt
func RecordAttempt(operation, outcome string) {
	TransportAttempts.WithLabelValues(operation, outcome).Inc()
}

// RecordExhausted counts an operation that ran out of attempts
func RecordExhausted(operation string) {
	TransportExhausted.WithLabelValues(operation).Inc()
}

// SetBackoffDelay publishes the shared delay
func SetBackoffDelay(d time.Duration) {
	BackoffDelay.Set(d.Seconds())
}

// RecordUpload counts an upload by result
func RecordUpload(err error, rejected bool) {
	switch {
	case err == nil:
		Uploads.WithLabelValues("ok").Inc()
	case rejected:
		Uploads.WithLabelValues("rejected").Inc()
	default:
		Uploads.WithLabelValues("error").Inc()
	}
}

// RecordPage counts a walked listing page
func RecordPage(strategy string) {
	PagesWalked.WithLabelValues(strategy).Inc()
}

// RecordSkipped counts items the store already had
func RecordSkipped(strategy string, n int) {
	if n > 0 {
		ItemsSkipped.WithLabelValues(strategy).Add(float64(n))
	}
}

// RecordRun records a finished sync run
func RecordRun(strategy, state string, duration time.Duration) {
	SyncRuns.WithLabelValues(strategy, state).Inc()
	SyncDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// Handler returns the router serving /metrics and /healthz
func Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Serve exposes Handler on addr until ctx is cancelled. An empty addr
// disables exposition and returns immediately.
func Serve(ctx context.Context, addr string, log logger.Logger) error {
	if addr == "" {
		return nil
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("Metrics endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
