package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/model"
)

const namespace = "pgcutover"

// PrometheusSink keeps the last value of every gauge and the running total
// of every counter on its own registry. Metrics are registered the first
// time they are sent. Names must follow the legacy metric name rules
// ([a-zA-Z_:][a-zA-Z0-9_:]*), even though the registry accepts UTF-8.
type PrometheusSink struct {
	registry *prometheus.Registry

	mu       sync.Mutex
	gauges   map[string]prometheus.Gauge
	counters map[string]prometheus.Counter
}

var _ Sink = &PrometheusSink{}

func NewPrometheusSink() *PrometheusSink {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &PrometheusSink{
		registry: registry,
		gauges:   make(map[string]prometheus.Gauge),
		counters: make(map[string]prometheus.Counter),
	}
}

func (p *PrometheusSink) Send(_ context.Context, m *Metrics) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for _, v := range m.Values {
		if v.Type == COUNTER {
			c, err := p.counter(v.Name)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			c.Add(v.Value)
			continue
		}
		g, err := p.gauge(v.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		g.Set(v.Value)
	}
	return errors.Join(errs...)
}

func (p *PrometheusSink) counter(name string) (prometheus.Counter, error) {
	if c, ok := p.counters[name]; ok {
		return c, nil
	}
	if err := validName(name + "_total"); err != nil {
		return nil, err
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name + "_total",
		Help:      "pgcutover counter " + name,
	})
	if err := p.registry.Register(c); err != nil {
		return nil, err
	}
	p.counters[name] = c
	return c, nil
}

func (p *PrometheusSink) gauge(name string) (prometheus.Gauge, error) {
	if g, ok := p.gauges[name]; ok {
		return g, nil
	}
	if err := validName(name); err != nil {
		return nil, err
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      "pgcutover gauge " + name,
	})
	if err := p.registry.Register(g); err != nil {
		return nil, err
	}
	p.gauges[name] = g
	return g, nil
}

func validName(name string) error {
	if full := prometheus.BuildFQName(namespace, "", name); !model.LegacyValidation.IsValidMetricName(full) {
		return fmt.Errorf("invalid metric name %q", full)
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (p *PrometheusSink) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), SinkTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
