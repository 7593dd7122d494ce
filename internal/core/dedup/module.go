package dedup

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/oxen-io/session-push-notification-server/config"
)

// Module 返回去重过滤器的 Fx 模块。
func Module() fx.Option {
	return fx.Module("dedup",
		fx.Provide(Provide),
		fx.Invoke(registerLifecycle),
	)
}

// Provide 依据配置构造一个 Filter，使用真实时钟。
func Provide(cfg *config.Config) *Filter {
	return New(cfg.Hivemind.FilterLifetime.Duration(), clock.New())
}

type lifecycleInput struct {
	fx.In
	LC     fx.Lifecycle
	Filter *Filter
}

func registerLifecycle(in lifecycleInput) {
	in.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go in.Filter.Run()
			return nil
		},
		OnStop: func(context.Context) error {
			in.Filter.Stop()
			return nil
		},
	})
}
