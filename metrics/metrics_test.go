package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/jcarswell/gotftpy"
	"github.com/jcarswell/gotftpy/metrics"
)

func TestAddDupRaisesAtMaxDups(t *testing.T) {
	m := &metrics.Metrics{}
	var lastErr error
	for i := 0; i < tftp.MaxDups; i++ {
		lastErr = m.AddDup("block-5")
	}
	require.ErrorIs(t, lastErr, tftp.ErrTooManyDuplicates)
}

func TestAddDupDistinctKeysIndependent(t *testing.T) {
	m := &metrics.Metrics{}
	require.NoError(t, m.AddDup("block-1"))
	require.NoError(t, m.AddDup("block-2"))
	snap := m.Snapshot()
	require.Equal(t, 2, snap.DupCount)
}

func TestEndComputesRates(t *testing.T) {
	m := &metrics.Metrics{}
	start := time.Unix(1000, 0)
	m.Start(start)
	m.AddBytes(1024)
	m.End(start.Add(time.Second))

	snap := m.Snapshot()
	require.Equal(t, time.Second, snap.Duration)
	require.InDelta(t, 8192.0, snap.Bps, 0.01)
	require.InDelta(t, 8.0, snap.Kbps, 0.01)
}

func TestEndWithZeroDurationAvoidsDivideByZero(t *testing.T) {
	m := &metrics.Metrics{}
	now := time.Unix(2000, 0)
	m.Start(now)
	m.End(now)
	snap := m.Snapshot()
	require.Greater(t, snap.Duration, time.Duration(0))
}

func TestCollectorReportsTrackedTransfer(t *testing.T) {
	c := metrics.NewCollector([]string{"filename"}, nil)
	m := &metrics.Metrics{}
	m.AddBytes(42)
	c.Track(metrics.NewTransferID(), m, []string{"boot.img"})

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() != "tftp_transfer_bytes_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			if metric.GetCounter().GetValue() == 42 {
				found = true
			}
		}
	}
	require.True(t, found, "expected tracked transfer's bytes counter to be gathered")
}

func TestCollectorUntrackStopsReporting(t *testing.T) {
	c := metrics.NewCollector([]string{"filename"}, nil)
	id := metrics.NewTransferID()
	c.Track(id, &metrics.Metrics{}, []string{"boot.img"})
	c.Untrack(id)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, f := range families {
		require.Empty(t, f.GetMetric())
	}
}
