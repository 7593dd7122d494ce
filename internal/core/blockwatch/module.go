package blockwatch

import (
	"context"

	"go.uber.org/fx"

	"github.com/oxen-io/session-push-notification-server/config"
	"github.com/oxen-io/session-push-notification-server/internal/oxend"
)

// Module 返回 BlockWatcher 的 Fx 模块。Refresher 由协调器提供。
func Module() fx.Option {
	return fx.Module("blockwatch",
		fx.Provide(Provide),
		fx.Invoke(registerLifecycle),
	)
}

// Provide 按配置的 subs_interval 构造 Watcher。
func Provide(cfg *config.Config, client *oxend.Client, refresher Refresher) *Watcher {
	return New(client, refresher, cfg.Hivemind.SubsInterval.Duration(), nil)
}

type lifecycleInput struct {
	fx.In
	LC      fx.Lifecycle
	Watcher *Watcher
}

func registerLifecycle(in lifecycleInput) {
	var cancel context.CancelFunc
	in.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.Background())
			go in.Watcher.Run(runCtx)
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			in.Watcher.Stop()
			return nil
		},
	})
}
