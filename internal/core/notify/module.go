package notify

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/oxen-io/session-push-notification-server/config"
)

// Module 返回 NotifierBus 的 Fx 模块，含接受通知器工作进程连接的监听器。
func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(
			NewMetrics,
			ProvideBus,
			ProvideListener,
		),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideBus 构造一个使用默认 validate 超时并导出 prometheus 指标的 Bus。
func ProvideBus(metrics *Metrics) *Bus {
	return New(DefaultValidateTimeout, metrics)
}

// ProvideListener 构造在 hivemind.listen_curve 上接受通知器连接的监听器。
func ProvideListener(cfg *config.Config, register RegisterFunc) *Listener {
	return NewListener(cfg.Hivemind.ListenCurve, register)
}

type lifecycleInput struct {
	fx.In
	LC       fx.Lifecycle
	Listener *Listener
}

func registerLifecycle(in lifecycleInput) {
	in.LC.Append(fx.Hook{
		OnStart: in.Listener.Start,
		OnStop:  in.Listener.Stop,
	})
}
