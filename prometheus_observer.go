package photon

import "github.com/prometheus/client_golang/prometheus"

// PrometheusObserver implements Observer with Prometheus counters and
// histograms, for processes that already export a
// /metrics endpoint rather than polling Metrics.Snapshot directly.
type PrometheusObserver struct {
	putOps   prometheus.Counter
	getOps   prometheus.Counter
	pwcOps   *prometheus.CounterVec // label "path": eager|rendezvous
	putBytes prometheus.Counter
	getBytes prometheus.Counter
	pwcBytes prometheus.Counter

	putErrors prometheus.Counter
	getErrors prometheus.Counter
	pwcErrors prometheus.Counter

	ledgerOverflows prometheus.Counter
	queueDepth      prometheus.Gauge
	latency         prometheus.Histogram
}

// NewPrometheusObserver registers a family of photon_* metrics with reg
// and returns an Observer backed by them. Pass a dedicated
// *prometheus.Registry in tests to avoid collisions with the default
// global registry across multiple Runtimes in one process.
func NewPrometheusObserver(reg prometheus.Registerer, constLabels prometheus.Labels) *PrometheusObserver {
	o := &PrometheusObserver{
		putOps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "photon_put_ops_total", Help: "Completed one-sided PUT operations.", ConstLabels: constLabels,
		}),
		getOps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "photon_get_ops_total", Help: "Completed one-sided GET operations.", ConstLabels: constLabels,
		}),
		pwcOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "photon_pwc_ops_total", Help: "Completed put-with-completion sends, by path.", ConstLabels: constLabels,
		}, []string{"path"}),
		putBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "photon_put_bytes_total", Help: "Bytes transferred by PUT.", ConstLabels: constLabels,
		}),
		getBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "photon_get_bytes_total", Help: "Bytes transferred by GET.", ConstLabels: constLabels,
		}),
		pwcBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "photon_pwc_bytes_total", Help: "Bytes transferred by PWC.", ConstLabels: constLabels,
		}),
		putErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "photon_put_errors_total", Help: "Failed PUT operations.", ConstLabels: constLabels,
		}),
		getErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "photon_get_errors_total", Help: "Failed GET operations.", ConstLabels: constLabels,
		}),
		pwcErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "photon_pwc_errors_total", Help: "Failed PWC sends.", ConstLabels: constLabels,
		}),
		ledgerOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "photon_ledger_overflows_total", Help: "Sends rejected for a full ledger.", ConstLabels: constLabels,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "photon_queue_depth", Help: "Outstanding requests as last passed to ObserveQueueDepth.", ConstLabels: constLabels,
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "photon_completion_latency_seconds",
			Help:    "Latency from post to completion, across PUT/GET/PWC.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 8),
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(o.putOps, o.getOps, o.pwcOps, o.putBytes, o.getBytes, o.pwcBytes,
		o.putErrors, o.getErrors, o.pwcErrors, o.ledgerOverflows, o.queueDepth, o.latency)
	return o
}

func (o *PrometheusObserver) ObservePut(bytes uint64, latencyNs uint64, success bool) {
	o.putOps.Inc()
	if success {
		o.putBytes.Add(float64(bytes))
	} else {
		o.putErrors.Inc()
	}
	o.latency.Observe(float64(latencyNs) / 1e9)
}

func (o *PrometheusObserver) ObserveGet(bytes uint64, latencyNs uint64, success bool) {
	o.getOps.Inc()
	if success {
		o.getBytes.Add(float64(bytes))
	} else {
		o.getErrors.Inc()
	}
	o.latency.Observe(float64(latencyNs) / 1e9)
}

func (o *PrometheusObserver) ObservePwc(bytes uint64, latencyNs uint64, eager bool, success bool) {
	path := "rendezvous"
	if eager {
		path = "eager"
	}
	if success {
		o.pwcOps.WithLabelValues(path).Inc()
		o.pwcBytes.Add(float64(bytes))
	} else {
		o.pwcErrors.Inc()
	}
	o.latency.Observe(float64(latencyNs) / 1e9)
}

func (o *PrometheusObserver) ObserveLedgerOverflow() {
	o.ledgerOverflows.Inc()
}

func (o *PrometheusObserver) ObserveQueueDepth(depth uint32) {
	o.queueDepth.Set(float64(depth))
}

var _ Observer = (*PrometheusObserver)(nil)
