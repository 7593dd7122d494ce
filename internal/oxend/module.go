package oxend

import (
	"time"

	"go.uber.org/fx"

	"github.com/oxen-io/session-push-notification-server/config"
)

// Module 返回 Oxen 守护进程客户端的 Fx 模块。
func Module() fx.Option {
	return fx.Module("oxend",
		fx.Provide(Provide),
	)
}

// Provide 根据配置构造一个客户端。
func Provide(cfg *config.Config) *Client {
	return New(cfg.Hivemind.OxendRPC, 10*time.Second)
}
