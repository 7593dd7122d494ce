package coordinator

import (
	"go.uber.org/fx"

	"github.com/oxen-io/session-push-notification-server/internal/core/blockwatch"
	"github.com/oxen-io/session-push-notification-server/internal/core/notify"
)

// Module 返回协调器的 Fx 模块，并把自身绑定为 blockwatch.Refresher 与
// notify.RegisterFunc（供 internal/core/notify.Listener 在通知器连接注册时回调）。
func Module() fx.Option {
	return fx.Module("coordinator",
		fx.Provide(
			New,
			func(hm *Hivemind) blockwatch.Refresher { return hm },
			func(hm *Hivemind) notify.RegisterFunc { return hm.RegisterService },
		),
		fx.Invoke(registerLifecycle),
	)
}

type lifecycleInput struct {
	fx.In
	LC       fx.Lifecycle
	Hivemind *Hivemind
}

func registerLifecycle(in lifecycleInput) {
	in.LC.Append(fx.Hook{
		OnStop: in.Hivemind.Shutdown,
	})
}
