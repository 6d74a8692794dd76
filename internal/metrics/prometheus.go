package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var counterNames = []string{
	MetricEventsReceived,
	MetricEventsFiltered,
	MetricFramesMalformed,
	MetricStreamConnects,
	MetricStreamDisconnects,
	MetricMessagesEnqueued,
	MetricMessagesSent,
	MetricPayloadsSent,
	MetricPayloadsThrottled,
	string(DropMetricStreamNotice),
	string(DropMetricPayload),
	string(DropMetricUndeliverable),
}

// Prometheus mirrors emitted metrics into a dedicated registry:
//
//	#liqrelay_<name>_total{exchange}
//	#liqrelay_queue_depth
//	#go_* and process_* system metrics
type Prometheus struct {
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	queueDepth prometheus.Gauge
}

func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = "liqrelay"
	}
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		counters: make(map[string]*prometheus.CounterVec, len(counterNames)),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      MetricQueueDepth,
			Help:      "Messages waiting in the delivery queue",
		}),
	}
	for _, name := range counterNames {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name + "_total",
			Help:      "Total " + name,
		}, []string{"exchange"})
		p.counters[name] = vec
		p.registry.MustRegister(vec)
	}
	p.registry.MustRegister(p.queueDepth)
	p.registry.MustRegister(collectors.NewGoCollector())
	p.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return p
}

// Handle is a MetricHandler. Unknown names are ignored.
func (p *Prometheus) Handle(m Metric) {
	value, ok := toFloat64(m.Value)
	if !ok {
		return
	}
	if m.Name == MetricQueueDepth {
		p.queueDepth.Set(value)
		return
	}
	vec, ok := p.counters[m.Name]
	if !ok || value < 0 {
		return
	}
	vec.WithLabelValues(stringField(m.Fields, "exchange")).Add(value)
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
