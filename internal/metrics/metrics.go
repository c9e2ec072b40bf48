package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "casewatch"

var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events fed to the detectors, partitioned by event type.",
		},
		[]string{"type"},
	)

	linesSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_skipped_total",
			Help:      "Input lines that matched no known log format.",
		},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Detector alerts raised, partitioned by signal and kind.",
		},
		[]string{"signal", "kind"},
	)

	outOfOrderTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "out_of_order_total",
			Help:      "Events rejected because their timestamp went backwards.",
		},
	)

	openCases = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cases",
			Help:      "Cases produced by the most recent correlation, partitioned by severity.",
		},
		[]string{"severity"},
	)

	correlationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "correlation_seconds",
			Help:      "Time spent detecting and correlating one batch.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	published = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_total",
			Help:      "Messages sent to the bus, partitioned by kind (alert, case) and outcome.",
		},
		[]string{"kind", "outcome"},
	)
)

// Register attaches casewatch collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		eventsTotal,
		linesSkippedTotal,
		alertsTotal,
		outOfOrderTotal,
		openCases,
		correlationSeconds,
		published,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler serves the metrics gathered by reg.
func Handler(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ObserveEvent counts one event of the given type.
func ObserveEvent(eventType string) {
	eventsTotal.WithLabelValues(eventType).Inc()
}

// ObserveSkippedLine counts one unparseable input line.
func ObserveSkippedLine() {
	linesSkippedTotal.Inc()
}

// ObserveAlert counts one detector alert.
func ObserveAlert(signal, kind string) {
	alertsTotal.WithLabelValues(signal, kind).Inc()
}

// ObserveOutOfOrder counts one rejected event.
func ObserveOutOfOrder() {
	outOfOrderTotal.Inc()
}

// SetCases records the case count per severity from the latest correlation.
func SetCases(bySeverity map[string]int) {
	openCases.Reset()
	for sev, n := range bySeverity {
		openCases.WithLabelValues(sev).Set(float64(n))
	}
}

// ObserveCorrelation records how long a detection and correlation pass took.
func ObserveCorrelation(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	correlationSeconds.Observe(duration.Seconds())
}

// ObservePublish counts one bus publication attempt.
func ObservePublish(kind string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	published.WithLabelValues(kind, outcome).Inc()
}
