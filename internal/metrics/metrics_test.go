package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Inbound.WithLabelValues("chat", ResultOK).Inc()
	m.Published.WithLabelValues("chat_message").Add(2)
	m.Delivered.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Inbound.WithLabelValues("chat", ResultOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Published.WithLabelValues("chat_message")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "realtime_inbound_messages_total")
	assert.Contains(t, names, "realtime_delivered_total")
}

func TestNew_TwoRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
