// Package metrics exposes trading counters in the Prometheus text format.
//
//   - racebot_orders_placed_total{strategy}   orders accepted by the exchange (entry|early_bird|cash_out)
//   - racebot_orders_matched_total            placements that matched at least partly
//   - racebot_orders_failed_total             placements rejected or errored
//   - racebot_orders_cancelled_total{reason}  cancellations by cleanup reason
//   - racebot_loop_errors_total{class}        loop errors (network|application)
//   - racebot_sleep_seconds                   the interval chosen for the next tick
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alejandrodnm/racebot/internal/domain"
	"github.com/alejandrodnm/racebot/internal/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ ports.Metrics = (*Prometheus)(nil)

// Prometheus implements ports.Metrics on its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	placed    *prometheus.CounterVec
	matched   prometheus.Counter
	failed    prometheus.Counter
	cancelled *prometheus.CounterVec
	loopErrs  *prometheus.CounterVec
	sleep     prometheus.Gauge
}

// New builds and registers the collectors.
func New() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		placed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "racebot_orders_placed_total",
				Help: "Orders accepted by the exchange",
			},
			[]string{"strategy"},
		),
		matched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "racebot_orders_matched_total",
			Help: "Placements that matched at least partly",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "racebot_orders_failed_total",
			Help: "Placements rejected by the exchange or failed in transit",
		}),
		cancelled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "racebot_orders_cancelled_total",
				Help: "Cancellations split by reason",
			},
			[]string{"reason"},
		),
		loopErrs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "racebot_loop_errors_total",
				Help: "Loop errors split by class",
			},
			[]string{"class"},
		),
		sleep: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "racebot_sleep_seconds",
			Help: "Sleep before the next loop tick",
		}),
	}
	p.registry.MustRegister(p.placed, p.matched, p.failed, p.cancelled, p.loopErrs, p.sleep)
	return p
}

func (p *Prometheus) OrderPlaced(kind domain.StrategyKind) { p.placed.WithLabelValues(kind.String()).Inc() }
func (p *Prometheus) OrderMatched()                       { p.matched.Inc() }
func (p *Prometheus) OrderFailed()                        { p.failed.Inc() }
func (p *Prometheus) OrderCancelled(reason string)        { p.cancelled.WithLabelValues(reason).Inc() }
func (p *Prometheus) LoopError(class string)              { p.loopErrs.WithLabelValues(class).Inc() }
func (p *Prometheus) Sleep(d time.Duration)               { p.sleep.Set(d.Seconds()) }

// Handler serves the registry at /metrics and a liveness probe at /healthz.
func (p *Prometheus) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
	return mux
}

// Serve listens on addr until ctx is done.
func (p *Prometheus) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: p.Handler(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics: serving", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics.Serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return nil
}
