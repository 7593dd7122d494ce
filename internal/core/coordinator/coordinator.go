// Package coordinator 实现 Hivemind：持有总锁、串联六个核心组件
//
// 对应 spec.md §5/§9：所有对核心状态（SubscriptionStore、Hive、DedupFilter）
// 的修改都在单个粗粒度锁下发生；出站 RPC（snode 订阅、notifier validate、
// oxend 刷新）不会在持锁状态下发起——每个公开方法在调用这些操作前释放锁，
// 拿到结果后重新加锁完成状态变更。SubscriptionStore 的写入会同步写数据库，
// 这些数据库写入在持锁期间执行。
package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oxen-io/session-push-notification-server/internal/core/dedup"
	"github.com/oxen-io/session-push-notification-server/internal/core/hive"
	"github.com/oxen-io/session-push-notification-server/internal/core/notify"
	"github.com/oxen-io/session-push-notification-server/internal/core/subs"
	"github.com/oxen-io/session-push-notification-server/internal/core/topology"
	"github.com/oxen-io/session-push-notification-server/internal/oxend"
	"github.com/oxen-io/session-push-notification-server/pkg/lib/log"
	"github.com/oxen-io/session-push-notification-server/pkg/swarmpubkey"
	"github.com/oxen-io/session-push-notification-server/pkg/types"
)

var logger = log.Logger("coordinator")

// Stats 是 admin.get_stats 的响应负载（spec.md §4.6）。
type Stats struct {
	BlockHash     string
	BlockHeight   int64
	Swarms        int
	SNodes        int
	Connections   int
	Accounts      int
	Subscriptions int
	Notifications int64
	UptimeSeconds int64
}

// Hivemind 是唯一持有总锁的协调器，串联 SwarmTopology、Hive、SubscriptionStore、
// DedupFilter、NotifierBus 与 oxend 客户端。
type Hivemind struct {
	mu sync.Mutex

	topology *topology.Topology
	hive     *hive.Hive
	store    *subs.Store
	dedup    *dedup.Filter
	bus      *notify.Bus
	oxendCli *oxend.Client

	startedAt      time.Time
	lastBlockHash  string
	lastBlockHeight int64
	notifications  atomic.Int64
}

// New 构造一个 Hivemind 协调器。
func New(topo *topology.Topology, h *hive.Hive, store *subs.Store, dedupFilter *dedup.Filter, bus *notify.Bus, oxendCli *oxend.Client) *Hivemind {
	return &Hivemind{
		topology: topo,
		hive:     h,
		store:    store,
		dedup:    dedupFilter,
		bus:      bus,
		oxendCli: oxendCli,
		startedAt: time.Now(),
	}
}

// Refresh 实现 blockwatch.Refresher：拉取最新服务节点列表，更新 SwarmTopology，
// 并把新增/迁移/移除的节点以及（若 swarm 集合发生变化）账户重新归位的结果
// 传播给 Hive。拉取本身是出站 RPC，发生在加锁之前。
func (hm *Hivemind) Refresh(ctx context.Context) {
	conn, err := hm.oxendCli.Dial(ctx)
	if err != nil {
		logger.Warn("oxend dial failed during refresh", "err", err)
		return
	}
	defer conn.Close()

	nodes, err := conn.GetServiceNodes(ctx)
	if err != nil {
		logger.Warn("get_service_nodes failed during refresh", "err", err)
		return
	}

	hm.mu.Lock()
	result := hm.topology.Refresh(nodes)
	hm.mu.Unlock()

	for _, addr := range result.Removed {
		hm.hive.DropNode(addr)
	}
	for _, node := range result.Moved {
		hm.hive.DropNode(node.Addr)
		hm.hive.EnsureNode(node)
	}
	for _, node := range result.Added {
		hm.hive.EnsureNode(node)
	}

	if !result.SwarmsChanged {
		return
	}

	hm.mu.Lock()
	accounts := hm.store.AccountObjects()
	hm.mu.Unlock()

	for _, account := range accounts {
		changed := hm.topology.PlaceAccount(account)
		if !changed {
			continue
		}
		swarmID, ok := account.Swarm()
		if !ok {
			continue
		}
		hm.hive.AddAccountToSwarm(account, swarmID, false)
	}
}

// Subscribe 处理客户端的 subscribe 请求：字段/签名校验已由调用方（RequestRouter）
// 完成；本方法负责 notifier validate（出站 RPC，不持锁）、存储层覆盖规则判定
// （持锁）以及 force-now 的 swarm 订阅传播。
func (hm *Hivemind) Subscribe(ctx context.Context, sub *types.Subscription, serviceInfo []byte) (subs.Outcome, *types.RequestError) {
	svcID, svcData, rerr := hm.bus.Validate(ctx, notify.ValidateSubscribe, sub.Service, serviceInfo)
	if rerr != nil {
		return 0, rerr
	}
	sub.ServiceID = svcID
	sub.ServiceData = svcData

	hm.mu.Lock()
	account := sub.Account
	swarmID, hadSwarm := account.Swarm()
	if !hadSwarm {
		hm.topology.PlaceAccount(account)
		swarmID, hadSwarm = account.Swarm()
	}
	outcome, err := hm.store.AddSubscription(sub)
	hm.mu.Unlock()

	if err != nil {
		return 0, types.NewRequestError(types.Error, "%v", err)
	}
	if hadSwarm && outcome != subs.Covered {
		hm.hive.AddAccountToSwarm(account, swarmID, true)
	}
	return outcome, nil
}

// Unsubscribe 处理客户端的 unsubscribe 请求。客户端请求不携带 service_id
// （spec.md §6），因此以 (account, service) 为粒度整体移除该账户在该服务下的
// 全部订阅。
func (hm *Hivemind) Unsubscribe(account *swarmpubkey.Account, service string) (bool, error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return hm.store.RemoveAllForService(account, service)
}

// HandleIncomingMessage 转发一条服务节点投递的通知给 Hive（持锁，Hive 内部的
// 去重/扇出不发起出站 RPC，只排入 NotifierBus 的 fire-and-forget push）。
func (hm *Hivemind) HandleIncomingMessage(account *swarmpubkey.Account, msg hive.IncomingMessage) {
	hm.mu.Lock()
	hm.hive.HandleIncomingMessage(account, msg, time.Now())
	hm.mu.Unlock()
	hm.notifications.Add(1)
}

// NoteBlock 记录最新区块哈希/高度，供 admin.get_stats 汇报。
func (hm *Hivemind) NoteBlock(hash string, height int64) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.lastBlockHash = hash
	hm.lastBlockHeight = height
}

// RegisterService 注册一个通知器工作进程（由 internal/core/notify.Listener 调用）。
func (hm *Hivemind) RegisterService(name string, conn notify.ServiceConn) {
	hm.bus.RegisterService(name, conn)
}

// ReportServiceStats 转发一次 admin.service_stats 上报。
func (hm *Hivemind) ReportServiceStats(service string, payload []byte) error {
	return hm.bus.ReportStatsBencode(service, payload)
}

// WaitNotifiersReady 阻塞直至 startupWait 超时、至少一个通知器已注册、或 ctx 被取消。
func (hm *Hivemind) WaitNotifiersReady(ctx context.Context, startupWait time.Duration) {
	hm.bus.WaitReady(ctx, startupWait)
}

// Stats 返回 admin.get_stats 的快照。
func (hm *Hivemind) Stats() Stats {
	hm.mu.Lock()
	hash := hm.lastBlockHash
	height := hm.lastBlockHeight
	swarms := len(hm.topology.SwarmIDs())
	snodes := len(hm.topology.Nodes())
	accounts := len(hm.store.Accounts())
	subscriptions := hm.store.Count()
	hm.mu.Unlock()

	return Stats{
		BlockHash:     hash,
		BlockHeight:   height,
		Swarms:        swarms,
		SNodes:        snodes,
		Connections:   hm.hive.ConnectedCount(),
		Accounts:      accounts,
		Subscriptions: subscriptions,
		Notifications: hm.notifications.Load(),
		UptimeSeconds: int64(time.Since(hm.startedAt).Seconds()),
	}
}

// Shutdown 优雅关闭：断开 Hive 的所有连接，持久化态已经通过
// SubscriptionStore 的写穿语义落盘，无需额外步骤。
func (hm *Hivemind) Shutdown(ctx context.Context) error {
	return hm.hive.Shutdown(ctx)
}
