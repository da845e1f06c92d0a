// Package metrics owns the gateway's process-wide Prometheus counters
// and histograms (component J). It only owns collector lifecycles; the
// HTTP exposition of /metrics is the httpapi package's concern (§1).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tempmailgw"

// Metrics bundles every counter/histogram named in §4.J, all registered
// against a caller-supplied registry rather than the global default so
// tests can construct isolated instances.
type Metrics struct {
	PoolInflight   prometheus.Gauge
	PoolQueueWait  prometheus.Histogram
	PoolThrottle   prometheus.Counter
	PoolRetry      prometheus.Counter
	FetchJobs      prometheus.Counter
	FetchMessages  prometheus.Counter
	SMTPDeliveries prometheus.Counter
	TokenSweep     prometheus.Counter
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		PoolInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pop3_pool",
			Name:      "inflight",
			Help:      "Number of POP3 sessions currently borrowed from the pool",
		}),
		PoolQueueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pop3_pool",
			Name:      "queue_wait_seconds",
			Help:      "Time callers spent waiting for a pool slot",
			Buckets:   prometheus.DefBuckets,
		}),
		PoolThrottle: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pop3",
			Name:      "throttle_total",
			Help:      "Executions that fast-failed or tripped a per-host throttle",
		}),
		PoolRetry: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pop3",
			Name:      "retry_total",
			Help:      "Retry attempts issued by the connection pool",
		}),
		FetchJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "jobs_total",
			Help:      "Fetch jobs processed",
		}),
		FetchMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "messages_total",
			Help:      "Messages persisted by the fetch worker",
		}),
		SMTPDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "smtp",
			Name:      "deliveries_total",
			Help:      "Messages persisted via the inbound SMTP receiver",
		}),
		TokenSweep: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "sweep_expired_total",
			Help:      "Tokens transitioned from active to expired by the background sweep",
		}),
	}

	reg.MustRegister(
		m.PoolInflight, m.PoolQueueWait, m.PoolThrottle, m.PoolRetry,
		m.FetchJobs, m.FetchMessages, m.SMTPDeliveries, m.TokenSweep,
	)

	return m
}

// The following satisfy internal/pop3pool.Recorder.

func (m *Metrics) SetInflight(n int)                { m.PoolInflight.Set(float64(n)) }
func (m *Metrics) ObserveQueueWait(d time.Duration) { m.PoolQueueWait.Observe(d.Seconds()) }
func (m *Metrics) IncThrottle()                     { m.PoolThrottle.Inc() }
func (m *Metrics) IncRetry()                        { m.PoolRetry.Inc() }

// The following satisfy internal/fetch.Recorder.

func (m *Metrics) IncFetchJob()           { m.FetchJobs.Inc() }
func (m *Metrics) IncFetchMessages(n int) { m.FetchMessages.Add(float64(n)) }

// The following satisfies internal/smtpd.Recorder.

func (m *Metrics) IncDelivery() { m.SMTPDeliveries.Inc() }
