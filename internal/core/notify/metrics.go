package notify

import "github.com/prometheus/client_golang/prometheus"

// Metrics 导出两组 prometheus 计数器：按服务统计的 notifier.push 次数，以及按
// 服务与结果统计的 notifier.validate 往返次数。admin.service_stats 上报的累积
// 统计快照不经过这里。
type Metrics struct {
	pushesTotal    *prometheus.CounterVec
	validatesTotal *prometheus.CounterVec
}

// NewMetrics 构造并注册一组 notify 相关的 prometheus 指标。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hivemind",
			Subsystem: "notify",
			Name:      "pushes_total",
			Help:      "Total notifier.push envelopes sent, by service.",
		}, []string{"service"}),
		validatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hivemind",
			Subsystem: "notify",
			Name:      "validates_total",
			Help:      "Total notifier.validate round-trips, by service and outcome.",
		}, []string{"service", "outcome"}),
	}
	reg.MustRegister(m.pushesTotal, m.validatesTotal)
	return m
}

func (m *Metrics) observePush(service string) {
	m.pushesTotal.WithLabelValues(service).Inc()
}

func (m *Metrics) observeValidate(service, outcome string) {
	m.validatesTotal.WithLabelValues(service, outcome).Inc()
}
