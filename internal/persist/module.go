package persist

import (
	"context"

	"go.uber.org/fx"

	"github.com/oxen-io/session-push-notification-server/config"
)

// Module 返回持久化仓库的 Fx 模块。
func Module() fx.Option {
	return fx.Module("persist",
		fx.Provide(Provide),
	)
}

// Provide 打开数据库连接并注册生命周期钩子以在关闭时释放连接池。
func Provide(lc fx.Lifecycle, cfg *config.Config) (*Repository, error) {
	repo, err := Open(cfg.DB.URL)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return repo.Close()
		},
	})
	return repo, nil
}
