package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(mfs))
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}

	for _, name := range []string{
		"tempmailgw_pop3_pool_inflight",
		"tempmailgw_pop3_pool_queue_wait_seconds",
		"tempmailgw_pop3_throttle_total",
		"tempmailgw_pop3_retry_total",
		"tempmailgw_fetch_jobs_total",
		"tempmailgw_fetch_messages_total",
		"tempmailgw_smtp_deliveries_total",
		"tempmailgw_token_sweep_expired_total",
	} {
		require.True(t, names[name], "expected %s to be registered", name)
	}
}

func TestRecorderMethodsUpdateUnderlyingCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetInflight(3)
	require.Equal(t, float64(3), testutil.ToFloat64(m.PoolInflight))

	m.IncThrottle()
	m.IncThrottle()
	require.Equal(t, float64(2), testutil.ToFloat64(m.PoolThrottle))

	m.IncRetry()
	require.Equal(t, float64(1), testutil.ToFloat64(m.PoolRetry))

	m.IncFetchJob()
	require.Equal(t, float64(1), testutil.ToFloat64(m.FetchJobs))

	m.IncFetchMessages(5)
	require.Equal(t, float64(5), testutil.ToFloat64(m.FetchMessages))

	m.IncDelivery()
	require.Equal(t, float64(1), testutil.ToFloat64(m.SMTPDeliveries))

	m.ObserveQueueWait(250 * time.Millisecond)
}

func TestNewPanicsOnDoubleRegistrationAgainstSameRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	require.Panics(t, func() {
		New(reg)
	})
}
