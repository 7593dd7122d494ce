package hive

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/semaphore"

	"github.com/oxen-io/session-push-notification-server/internal/core/dedup"
	"github.com/oxen-io/session-push-notification-server/internal/core/subs"
	"github.com/oxen-io/session-push-notification-server/pkg/swarmpubkey"
	"github.com/oxen-io/session-push-notification-server/pkg/types"
)

// SubscriptionLookup 解析一个账户当前所有有效订阅，由 SubscriptionStore 提供。
type SubscriptionLookup func(account *swarmpubkey.Account, now time.Time) []*types.Subscription

// MessageSink 接收一条已去重的入站消息通知，转交给 NotifierBus 扇出。
type MessageSink func(account *swarmpubkey.Account, sub *types.Subscription, msg IncomingMessage)

// IncomingMessage 是服务节点投递的一条 notify.message 通知（spec.md §4.3）。
type IncomingMessage struct {
	MsgHash   []byte
	Namespace int16
	Timestamp int64
	Expiry    int64
	Body      []byte
	HasBody   bool
}

// Hive 拥有到每个服务节点的长连接，并对全局同时在建连接数做限流。
type Hive struct {
	mu    sync.RWMutex
	conns map[string]*SNodeConn // keyed by pubkey

	transport Transport
	clock     clock.Clock
	connectSem *semaphore.Weighted

	lookup SubscriptionLookup
	dedup  *dedup.Filter
	sink   MessageSink
}

// New 构造一个 Hive。
func New(transport Transport, clk clock.Clock, maxConnects int, lookup SubscriptionLookup, dedupFilter *dedup.Filter, sink MessageSink) *Hive {
	if clk == nil {
		clk = clock.New()
	}
	return &Hive{
		conns:      make(map[string]*SNodeConn),
		transport:  transport,
		clock:      clk,
		connectSem: semaphore.NewWeighted(int64(maxConnects)),
		lookup:     lookup,
		dedup:      dedupFilter,
		sink:       sink,
	}
}

func (h *Hive) tryAcquireConnectSlot() bool {
	return h.connectSem.TryAcquire(1)
}

func (h *Hive) releaseConnectSlot() {
	h.connectSem.Release(1)
	// 释放了一个名额，若此前有节点因为饱和而未能发起连接，给它们一次机会。
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		if c.State() == types.StateDisconnected {
			go c.Connect()
		}
	}
}

func (h *Hive) lookupSubscriptions(account *swarmpubkey.Account, now time.Time) []*types.Subscription {
	return h.lookup(account, now)
}

// EnsureNode 确保某个服务节点存在对应的连接管理器（新发现或地址/swarm 变化时调用）。
func (h *Hive) EnsureNode(node *types.ServiceNode) *SNodeConn {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.conns[node.Addr.Pubkey]; ok {
		return c
	}
	c := newSNodeConn(h, node.Addr, node.SwarmID, h.transport, h.clock)
	h.conns[node.Addr.Pubkey] = c
	c.Connect()
	return c
}

// DropNode 断开并移除一个不再活跃的服务节点。
func (h *Hive) DropNode(addr types.ServiceNodeAddr) {
	h.mu.Lock()
	c, ok := h.conns[addr.Pubkey]
	if ok {
		delete(h.conns, addr.Pubkey)
	}
	h.mu.Unlock()

	if ok {
		c.Close()
	}
}

// Conn 返回某个服务节点的连接管理器（不存在则返回 nil）。
func (h *Hive) Conn(pubkey string) *SNodeConn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[pubkey]
}

// Nodes 返回当前所有连接管理器，用于统计/遍历。
func (h *Hive) Nodes() []*SNodeConn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*SNodeConn, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

// ConnectedCount 返回处于 CONNECTED 状态的连接数，供 admin.get_stats 使用。
func (h *Hive) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.conns {
		if c.State() == types.StateConnected {
			n++
		}
	}
	return n
}

// AddAccountToSwarm 把账户加入其 swarm 内所有节点的订阅队列。
func (h *Hive) AddAccountToSwarm(account *swarmpubkey.Account, swarmID uint64, forceNow bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		if c.swarm == swarmID {
			c.AddAccount(account, forceNow)
		}
	}
}

// HandleIncomingMessage 实现 spec.md §4.3 的 notify.message 处理：对该账户的每条
// 匹配订阅做去重后交给 NotifierBus。调用方须在协调器锁下调用。
func (h *Hive) HandleIncomingMessage(account *swarmpubkey.Account, msg IncomingMessage, now time.Time) {
	for _, sub := range h.lookup(account, now) {
		if !namespaceMatches(sub, msg.Namespace) {
			continue
		}
		key := dedup.ComputeKey(sub.Service, []byte(sub.ServiceID), msg.MsgHash)
		if h.dedup.SeenOrAdd(key) {
			continue
		}
		h.sink(account, sub, msg)
	}
}

func namespaceMatches(sub *types.Subscription, ns int16) bool {
	for _, n := range sub.Namespaces {
		if n == ns {
			return true
		}
	}
	return false
}

// Shutdown 断开所有连接，用于优雅关闭。
func (h *Hive) Shutdown(context.Context) error {
	h.mu.Lock()
	conns := make([]*SNodeConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*SNodeConn)
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return nil
}
