// Package metrics exposes the catalog and transaction activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"discover/pkg/backend"
	"discover/pkg/transaction"
)

const namespace = "discover"

// Source is the part of the catalog the collector reads.
type Source interface {
	Backends() []backend.Backend
	Subscribe(h func(backend.Event)) func()
}

// Collector is a prometheus.Collector over one catalog. It also implements transaction.Observer.
type Collector struct {
	source Source

	transactions        *prometheus.CounterVec
	transactionDuration *prometheus.HistogramVec
	refreshDuration     *prometheus.HistogramVec

	updatesDesc   *prometheus.Desc
	resourcesDesc *prometheus.Desc
	fetchingDesc  *prometheus.Desc

	mu      sync.Mutex
	started map[string]time.Time
	now     func() time.Time
}

var _ transaction.Observer = (*Collector)(nil)

// New returns a collector reading from source. Call Watch to time refreshes.
func New(source Source) *Collector {
	return &Collector{
		source: source,
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Finished transactions by backend, role and final status.",
			}, []string{"backend", "role", "status"},
		),
		transactionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transaction_duration_seconds",
				Help:      "Time from submission to the final status of a transaction.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900},
			}, []string{"backend", "role"},
		),
		refreshDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "refresh_duration_seconds",
				Help:      "Duration of catalog refreshes.",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			}, []string{"backend"},
		),
		updatesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "updates_pending"),
			"Resources with an upgrade available.",
			[]string{"backend"}, nil,
		),
		resourcesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "resources"),
			"Resources known to the backend.",
			[]string{"backend"}, nil,
		),
		fetchingDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "fetching"),
			"1 while the backend refreshes its catalog.",
			[]string{"backend"}, nil,
		),
		started: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Watch times refreshes from the fetching events of the source until the returned func is called.
func (c *Collector) Watch() func() {
	return c.source.Subscribe(c.observeEvent)
}

func (c *Collector) observeEvent(ev backend.Event) {
	if ev.Kind != backend.EventFetchingChanged {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.Fetching {
		c.started[ev.Backend] = c.now()
		return
	}
	start, ok := c.started[ev.Backend]
	if !ok {
		return
	}
	delete(c.started, ev.Backend)
	c.refreshDuration.WithLabelValues(ev.Backend).Observe(c.now().Sub(start).Seconds())
}

// ObserveTransaction counts a finished transaction.
func (c *Collector) ObserveTransaction(tx *transaction.Transaction) {
	role := tx.Role().String()
	c.transactions.WithLabelValues(tx.Backend(), role, tx.Status().String()).Inc()
	if finished := tx.Finished(); !finished.IsZero() {
		c.transactionDuration.WithLabelValues(tx.Backend(), role).Observe(finished.Sub(tx.Created()).Seconds())
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.transactions.Describe(ch)
	c.transactionDuration.Describe(ch)
	c.refreshDuration.Describe(ch)
	ch <- c.updatesDesc
	ch <- c.resourcesDesc
	ch <- c.fetchingDesc
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.transactions.Collect(ch)
	c.transactionDuration.Collect(ch)
	c.refreshDuration.Collect(ch)
	for _, b := range c.source.Backends() {
		name := b.Name()
		ch <- prometheus.MustNewConstMetric(c.updatesDesc, prometheus.GaugeValue, float64(b.UpdatesCount()), name)
		ch <- prometheus.MustNewConstMetric(c.resourcesDesc, prometheus.GaugeValue, float64(len(b.AllResources())), name)
		fetching := 0.0
		if b.IsFetching() {
			fetching = 1
		}
		ch <- prometheus.MustNewConstMetric(c.fetchingDesc, prometheus.GaugeValue, fetching, name)
	}
}

// Handler serves the metrics gathered by reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
