// Package blockwatch 实现 BlockWatcher：维持 sub.block 订阅并驱动拓扑刷新
//
// 对应 spec.md §4.7：启动时向 Oxen 守护进程建立 sub.block 订阅并保持该连接；
// 连接断开后等待 redialBackoff 重新拨号并重新订阅，连接保持期间不做周期性续订；
// 每次收到新区块通知都安排一次 SwarmTopology 刷新；subs_interval 定时器无论
// 区块通知是否正常都会触发一次刷新，作为活性保障。
package blockwatch

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/oxen-io/session-push-notification-server/internal/oxend"
	"github.com/oxen-io/session-push-notification-server/pkg/lib/log"
)

var logger = log.Logger("blockwatch")

// redialBackoff 是 sub.block 连接断开后的重连等待时间。
const redialBackoff = 5 * time.Second

// Refresher 是刷新动作的抽象，由协调器实现：拉取最新服务节点列表、更新
// SwarmTopology、并把变化结果传播给 Hive/SubscriptionStore。
type Refresher interface {
	Refresh(ctx context.Context)
}

// Watcher 是 BlockWatcher。
type Watcher struct {
	client       *oxend.Client
	refresher    Refresher
	subsInterval time.Duration
	clock        clock.Clock

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New 构造一个 BlockWatcher；clk 为 nil 时使用真实时钟。
func New(client *oxend.Client, refresher Refresher, subsInterval time.Duration, clk clock.Clock) *Watcher {
	if clk == nil {
		clk = clock.New()
	}
	return &Watcher{
		client:       client,
		refresher:    refresher,
		subsInterval: subsInterval,
		clock:        clk,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Run 启动 sub.block 订阅循环与 subs_interval 定时刷新循环，直到 Stop 被调用。
// 适合作为后台 goroutine 启动。
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.doneCh)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.runBlockSubscription(ctx)
	}()
	go func() {
		defer wg.Done()
		w.runPeriodicRefresh(ctx)
	}()
	wg.Wait()
}

func (w *Watcher) runBlockSubscription(ctx context.Context) {
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		conn, err := w.client.Dial(ctx)
		if err != nil {
			logger.Warn("failed to dial oxend for sub.block, retrying", "err", err)
			if !w.sleep(redialBackoff) {
				return
			}
			continue
		}

		notices, err := conn.SubscribeBlocks(ctx)
		if err != nil {
			logger.Warn("sub.block request failed, redialing", "err", err)
			_ = conn.Close()
			if !w.sleep(redialBackoff) {
				return
			}
			continue
		}

		w.drainBlocks(ctx, notices)
		_ = conn.Close()

		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		if !w.sleep(redialBackoff) {
			return
		}
	}
}

func (w *Watcher) drainBlocks(ctx context.Context, notices <-chan oxend.BlockNotification) {
	for {
		select {
		case notice, ok := <-notices:
			if !ok {
				return
			}
			logger.Debug("new block notification", "height", notice.Height, "hash", notice.Hash)
			w.refresher.Refresh(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) runPeriodicRefresh(ctx context.Context) {
	ticker := w.clock.Ticker(w.subsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			logger.Debug("periodic subs_interval refresh")
			w.refresher.Refresh(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) sleep(d time.Duration) bool {
	timer := w.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-w.stopCh:
		return false
	}
}

// Stop 终止两个后台循环并等待它们退出。
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}
