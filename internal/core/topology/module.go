package topology

import "go.uber.org/fx"

// Module 返回 SwarmTopology 的 Fx 模块。
func Module() fx.Option {
	return fx.Module("topology",
		fx.Provide(New),
	)
}
