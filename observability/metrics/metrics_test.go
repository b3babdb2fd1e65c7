package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSetTipHeightLeavesBlockCountersAlone(t *testing.T) {
	m := ForNode()

	before := testutil.ToFloat64(m.blocks.WithLabelValues("connected"))
	m.SetTipHeight(1234)

	require.Equal(t, float64(1234), testutil.ToFloat64(m.tipHeight))
	require.Equal(t, before, testutil.ToFloat64(m.blocks.WithLabelValues("connected")))
}

func TestObserveBlockCountsAndTracksTip(t *testing.T) {
	m := ForNode()

	before := testutil.ToFloat64(m.blocks.WithLabelValues("disconnected"))
	m.ObserveBlock("disconnected", 41)

	require.Equal(t, before+1, testutil.ToFloat64(m.blocks.WithLabelValues("disconnected")))
	require.Equal(t, float64(41), testutil.ToFloat64(m.tipHeight))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var m *NodeMetrics
	m.ObserveEvent("payment_received", true)
	m.ObserveBlock("connected", 1)
	m.SetTipHeight(1)
	m.ObservePayment("inbound", "succeeded")
	m.ObserveFunding("ok")
	m.ObserveSweep("ok")
}
