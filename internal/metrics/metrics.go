package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Instructions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "senddit_instructions_total",
		Help: "processed instructions by kind and result code",
	}, []string{"kind", "code"})

	InstructionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "senddit_instruction_duration_seconds",
		Help:    "histogram of instruction processing time",
		Buckets: prometheus.ExponentialBucketsRange(0.0001, 5, 16),
	}, []string{"kind"})

	Rejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "senddit_rejected_transactions_total",
		Help: "transactions rejected before dispatch",
	}, []string{"reason"})

	FeesCollected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "senddit_fees_collected_lamports_total",
		Help: "lamports transferred to the treasury",
	})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "senddit_cache_lookups_total",
		Help: "read-through cache lookups by result",
	}, []string{"result"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("starting metrics server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
