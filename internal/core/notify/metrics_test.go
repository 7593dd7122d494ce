package notify

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_ObservePushAndValidateIncrementLabeledCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.observePush("apns")
	m.observePush("apns")
	m.observeValidate("apns", "ok")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.pushesTotal.WithLabelValues("apns")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.validatesTotal.WithLabelValues("apns", "ok")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.validatesTotal.WithLabelValues("apns", "error")))
}
