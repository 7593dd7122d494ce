// Package metrics 提供进程内共享的 prometheus 注册表
//
// internal/core/notify 与 internal/core/router 都向同一个注册表注册指标，
// 后者在 admin 监听地址上以 /metrics 暴露它们（spec.md §4.5/§4.6 统计聚合的补充）。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Module 返回提供共享 prometheus 注册表的 Fx 模块。
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(
			NewRegistry,
			func(r *prometheus.Registry) prometheus.Registerer { return r },
			func(r *prometheus.Registry) prometheus.Gatherer { return r },
		),
	)
}

// NewRegistry 构造一个空白的 prometheus 注册表。
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}
