// Package metrics exposes access decisions and door link health to
// Prometheus.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/service"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
)

const namespace = "smartdoor"

// Collector implements service.Observer over a private registry.
type Collector struct {
	reg *prometheus.Registry

	decisions  *prometheus.CounterVec
	actuations *prometheus.CounterVec
	logWrites  *prometheus.CounterVec
	retries    *prometheus.CounterVec
	linkUp     prometheus.Gauge
}

var _ service.Observer = (*Collector)(nil)

func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_decisions_total",
			Help:      "Access decisions by method, result and deny reason.",
		}, []string{"method", "result", "reason"}),
		actuations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "door_actuations_total",
			Help:      "Door actuation requests by operation and outcome.",
		}, []string{"op", "outcome"}),
		logWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_log_writes_total",
			Help:      "Access log writes by outcome (stored, spooled, lost).",
		}, []string{"outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "door_link_retries_total",
			Help:      "Door link command resends by operation.",
		}, []string{"op"}),
		linkUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "door_link_up",
			Help:      "1 when the door controller answered the last state poll.",
		}),
	}
	c.reg.MustRegister(
		c.decisions,
		c.actuations,
		c.logWrites,
		c.retries,
		c.linkUp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) ObserveDecision(method types.Method, result types.Result, reason types.DenyReason) {
	c.decisions.WithLabelValues(string(method), string(result), string(reason)).Inc()
}

func (c *Collector) ObserveActuation(op string, err error) {
	c.actuations.WithLabelValues(op, outcome(err)).Inc()
}

func (c *Collector) ObserveLogWrite(err error) {
	switch {
	case err == nil:
		c.logWrites.WithLabelValues("stored").Inc()
	case errors.Is(err, service.ErrLogSpooled):
		c.logWrites.WithLabelValues("spooled").Inc()
	default:
		c.logWrites.WithLabelValues("lost").Inc()
	}
}

// LinkRetry is the door link resend callback.
func (c *Collector) LinkRetry(op string) {
	c.retries.WithLabelValues(op).Inc()
}

// SetLinkUp is the DoorMonitor health callback.
func (c *Collector) SetLinkUp(ok bool) {
	if ok {
		c.linkUp.Set(1)
		return
	}
	c.linkUp.Set(0)
}

// RegisterSpoolGauge reports the number of spooled attempts at scrape
// time.
func (c *Collector) RegisterSpoolGauge(pending func() (int, error)) {
	c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "access_log_spool_pending",
		Help:      "Access attempts waiting in the spool for replay.",
	}, func() float64 {
		n, err := pending()
		if err != nil {
			return -1
		}
		return float64(n)
	}))
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
