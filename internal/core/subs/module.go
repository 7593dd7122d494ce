package subs

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/oxen-io/session-push-notification-server/internal/persist"
)

// Module 返回 SubscriptionStore 的 Fx 模块。
func Module() fx.Option {
	return fx.Module("subs",
		fx.Provide(Provide),
	)
}

// Provide 构造 Store 并在启动时从持久化恢复全部未过期记录。
func Provide(lc fx.Lifecycle, repo *persist.Repository) (*Store, error) {
	store := New(repo)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return store.LoadAll(time.Now())
		},
	})
	return store, nil
}
