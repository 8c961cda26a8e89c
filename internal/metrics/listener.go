package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"upqueue/internal/domain"
)

// UploadListener is a dispatch callback that exports request lifecycle events
// as Prometheus metrics.
type UploadListener struct {
	started  prometheus.Counter
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
	bytes    prometheus.Counter
	inFlight prometheus.Gauge

	mu       sync.Mutex
	attempts map[string]attempt
	now      func() time.Time
}

type attempt struct {
	startedAt time.Time
	bytes     int64
}

// NewUploadListener creates the collectors and registers them with reg.
func NewUploadListener(reg prometheus.Registerer) (*UploadListener, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	l := &UploadListener{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "upqueue",
			Name:      "attempts_started_total",
			Help:      "Upload attempts started.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "upqueue",
			Name:      "attempt_outcomes_total",
			Help:      "Upload attempts by outcome and error code.",
		}, []string{"outcome", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "upqueue",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of upload attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"outcome"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "upqueue",
			Name:      "transferred_bytes_total",
			Help:      "Payload bytes reported by transfer progress.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "upqueue",
			Name:      "attempts_in_flight",
			Help:      "Upload attempts currently running.",
		}),
		attempts: make(map[string]attempt),
		now:      time.Now,
	}
	for _, c := range []prometheus.Collector{l.started, l.outcomes, l.duration, l.bytes, l.inFlight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *UploadListener) OnStart(requestID string) {
	l.mu.Lock()
	if _, running := l.attempts[requestID]; !running {
		l.inFlight.Inc()
	}
	l.attempts[requestID] = attempt{startedAt: l.now()}
	l.mu.Unlock()
	l.started.Inc()
}

func (l *UploadListener) OnProgress(requestID string, bytes, _ int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.attempts[requestID]
	if !ok || bytes <= a.bytes {
		return
	}
	l.bytes.Add(float64(bytes - a.bytes))
	a.bytes = bytes
	l.attempts[requestID] = a
}

func (l *UploadListener) OnSuccess(requestID string, _ map[string]interface{}) {
	l.finish(requestID, domain.OutcomeSuccess, domain.NoError)
}

func (l *UploadListener) OnError(requestID string, code domain.ErrorCode) {
	l.finish(requestID, domain.OutcomeError, code)
}

func (l *UploadListener) OnReschedule(requestID string, code domain.ErrorCode) {
	l.finish(requestID, domain.OutcomeReschedule, code)
}

func (l *UploadListener) finish(requestID string, outcome domain.Outcome, code domain.ErrorCode) {
	l.mu.Lock()
	a, ok := l.attempts[requestID]
	delete(l.attempts, requestID)
	l.mu.Unlock()

	// Replayed terminal results have no running attempt.
	if !ok {
		return
	}
	l.outcomes.WithLabelValues(string(outcome), code.String()).Inc()
	l.inFlight.Dec()
	l.duration.WithLabelValues(string(outcome)).Observe(l.now().Sub(a.startedAt).Seconds())
}
