package events

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PromSink is the production exporter adapter of spec.md §9. It
// registers counters, histograms, and an event-count vector against a
// caller-supplied prometheus.Registerer, so an operator's own metrics
// server (out of this package's scope - spec.md §1 treats metrics
// exporters as an external collaborator) can scrape whatever registry
// it's given.
type PromSink struct {
	mu sync.Mutex

	reg prometheus.Registerer

	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	events     *prometheus.CounterVec
}

// NewPromSink creates a sink that registers its metrics against reg.
func NewPromSink(reg prometheus.Registerer) *PromSink {
	eventsVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "betanet",
		Subsystem: "relay",
		Name:      "events_total",
		Help:      "Count of control events emitted by the relay core.",
	}, []string{"kind"})
	reg.MustRegister(eventsVec)

	return &PromSink{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		events:     eventsVec,
	}
}

func (p *PromSink) counterFor(name string, labels map[string]string) *prometheus.CounterVec {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "betanet",
			Subsystem: "relay",
			Name:      name,
		}, labelKeys(labels))
		p.reg.MustRegister(c)
		p.counters[name] = c
	}
	return c
}

func (p *PromSink) histogramFor(name string, labels map[string]string) *prometheus.HistogramVec {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.histograms[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "betanet",
			Subsystem: "relay",
			Name:      name,
		}, labelKeys(labels))
		p.reg.MustRegister(h)
		p.histograms[name] = h
	}
	return h
}

func (p *PromSink) PublishCounter(name string, delta float64, labels map[string]string) {
	p.counterFor(name, labels).With(labels).Add(delta)
}

func (p *PromSink) PublishHistogram(name string, value float64, labels map[string]string) {
	p.histogramFor(name, labels).With(labels).Observe(value)
}

func (p *PromSink) EmitEvent(ev Event) {
	p.events.WithLabelValues(string(ev.Kind)).Inc()
}

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	return keys
}
