package hive

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/oxen-io/session-push-notification-server/config"
	"github.com/oxen-io/session-push-notification-server/internal/core/dedup"
	"github.com/oxen-io/session-push-notification-server/internal/core/notify"
	"github.com/oxen-io/session-push-notification-server/internal/core/subs"
	"github.com/oxen-io/session-push-notification-server/pkg/swarmpubkey"
	"github.com/oxen-io/session-push-notification-server/pkg/types"
)

// Module 返回 Hive 的 Fx 模块。
func Module() fx.Option {
	return fx.Module("hive",
		fx.Provide(Provide),
		fx.Invoke(registerLifecycle),
	)
}

// Provide 组装 Hive：订阅查找来自 SubscriptionStore，去重经 DedupFilter，
// 匹配的通知最终通过 NotifierBus 推送出去。
func Provide(cfg *config.Config, store *subs.Store, dedupFilter *dedup.Filter, bus *notify.Bus) *Hive {
	transport := &WSTransport{DialTimeout: 10 * time.Second}

	lookup := func(account *swarmpubkey.Account, now time.Time) []*types.Subscription {
		return store.ForAccount(account, now)
	}

	sink := func(account *swarmpubkey.Account, sub *types.Subscription, msg IncomingMessage) {
		env := &types.PushEnvelope{
			Service:    sub.Service,
			SvcID:      []byte(sub.ServiceID),
			SvcData:    sub.ServiceData,
			HasSvcData: len(sub.ServiceData) > 0,
			EncKey:     sub.EncKey,
			MsgHash:    msg.MsgHash,
			AccountID:  account.ID(),
			Namespace:  msg.Namespace,
			Timestamp:  msg.Timestamp,
			Expiry:     msg.Expiry,
			Body:       msg.Body,
			HasBody:    msg.HasBody,
		}
		payload, err := env.Marshal()
		if err != nil {
			logger.Error("failed to encode push envelope", "err", err)
			return
		}
		if err := bus.Push(sub.Service, payload); err != nil {
			logger.Warn("push delivery failed", "service", sub.Service, "err", err)
		}
	}

	return New(transport, clock.New(), cfg.Hivemind.MaxConnects, lookup, dedupFilter, sink)
}

type lifecycleInput struct {
	fx.In
	LC   fx.Lifecycle
	Hive *Hive
}

func registerLifecycle(in lifecycleInput) {
	in.LC.Append(fx.Hook{
		OnStop: in.Hive.Shutdown,
	})
}
