// Package hive 实现 Hive：每个服务节点一条长连接的订阅管理器
//
// 对应 spec.md §4.3。每个 ServiceNode 维护一个连接状态机、一个待（重新）订阅的
// 账户队列，以及惰性删除的墓碑标记。传输采用 gorilla/websocket 代替语料库中不存在
// Go 绑定的 OxenMQ/zmq。
package hive

import (
	"container/list"
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/oxen-io/session-push-notification-server/pkg/bencode"
	"github.com/oxen-io/session-push-notification-server/pkg/lib/log"
	"github.com/oxen-io/session-push-notification-server/pkg/swarmpubkey"
	"github.com/oxen-io/session-push-notification-server/pkg/types"
)

var logger = log.Logger("hive")

// nextEntry 是 next 双端队列中的一项；Account == nil 表示墓碑（惰性删除）。
type nextEntry struct {
	account     *swarmpubkey.Account
	resubscribe time.Time
}

// SNodeConn 管理到单个服务节点的连接及其订阅队列。
type SNodeConn struct {
	mu sync.Mutex

	hive  *Hive
	addr  types.ServiceNodeAddr
	swarm uint64
	clock clock.Clock

	state         types.ConnState
	cooldownFails int
	cooldownUntil time.Time

	subs map[swarmAccountKey]struct{}
	next *list.List // of *nextEntry

	transport Transport
	conn      Conn

	stopOnce sync.Once
	stopCh   chan struct{}
}

type swarmAccountKey [swarmpubkey.IDSize]byte

func accountKey(a *swarmpubkey.Account) swarmAccountKey {
	var k swarmAccountKey
	copy(k[:], a.ID())
	return k
}

// newSNodeConn 构造一个新的每节点连接管理器，初始状态为 DISCONNECTED。
func newSNodeConn(hive *Hive, addr types.ServiceNodeAddr, swarm uint64, transport Transport, clk clock.Clock) *SNodeConn {
	s := &SNodeConn{
		hive:      hive,
		addr:      addr,
		swarm:     swarm,
		clock:     clk,
		state:     types.StateDisconnected,
		subs:      make(map[swarmAccountKey]struct{}),
		next:      list.New(),
		transport: transport,
		stopCh:    make(chan struct{}),
	}
	go s.tickResubscribes()
	return s
}

// tickResubscribes 周期性唤醒 checkSubs，让队列中到期的重新订阅条目实际被
// 发送出去；没有它，一个连接一旦建立，后续的到期条目会永远停留在 next 里
// （add_account/AddAccountToSwarm 只负责入队，调度依赖这里）。
func (s *SNodeConn) tickResubscribes() {
	ticker := s.clock.Ticker(types.ResubscribeCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.checkSubs(false)
		case <-s.stopCh:
			return
		}
	}
}

// State 返回当前连接状态。
func (s *SNodeConn) State() types.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect 在未连接时发起连接尝试；受 Hive 的全局连接配额约束。
func (s *SNodeConn) Connect() {
	s.mu.Lock()
	if s.state != types.StateDisconnected {
		s.mu.Unlock()
		return
	}
	if !s.hive.tryAcquireConnectSlot() {
		s.mu.Unlock()
		return
	}
	s.state = types.StateConnecting
	addr := s.addr
	s.mu.Unlock()

	go func() {
		conn, err := s.transport.Dial(context.Background(), addr)
		s.hive.releaseConnectSlot()
		if err != nil {
			s.onConnectFail(err)
			return
		}
		s.onConnected(conn)
	}()
}

func (s *SNodeConn) onConnected(conn Conn) {
	s.mu.Lock()
	s.conn = conn
	s.state = types.StateConnected
	s.cooldownFails = 0
	s.cooldownUntil = time.Time{}

	// 重连后强制对所有账户重新订阅。
	for e := s.next.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*nextEntry)
		entry.resubscribe = time.Time{}
	}
	s.mu.Unlock()

	logger.Debug("connected to service node", "addr", s.addr.String())
	s.checkSubs(true)
}

func (s *SNodeConn) onConnectFail(err error) {
	s.mu.Lock()
	idx := s.cooldownFails
	if idx >= len(types.ConnectCooldown) {
		idx = len(types.ConnectCooldown) - 1
	}
	cooldown := types.ConnectCooldown[idx]
	s.cooldownFails++
	s.cooldownUntil = s.clock.Now().Add(cooldown)
	s.state = types.StateCooldown
	s.mu.Unlock()

	logger.Warn("connection to service node failed", "addr", s.addr.String(), "err", err, "cooldown", cooldown)

	s.clock.AfterFunc(cooldown, func() {
		s.mu.Lock()
		if s.state == types.StateCooldown {
			s.state = types.StateDisconnected
		}
		s.mu.Unlock()
		s.Connect()
	})
}

// Disconnect 关闭当前连接（如果有），并回到 DISCONNECTED 状态。
func (s *SNodeConn) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = types.StateDisconnected
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// Close 断开连接并停止该连接管理器的后台重订阅轮询，用于节点被彻底移除时
// （DropNode/Shutdown），避免 tickResubscribes 协程泄漏。
func (s *SNodeConn) Close() {
	s.Disconnect()
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// AddAccount 把账户加入订阅集合；forceNow 时立即将其提到队首重新订阅
// （即使已经在集合中），墓碑掉旧的待处理条目（spec.md §4.3 add_account）。
// forceNow 为 true 时会异步触发一次 checkSubs，立即把这条目送出去，而不是
// 等下一次周期性轮询——这是新订阅/拓扑重平衡后的即时分发路径。
func (s *SNodeConn) AddAccount(account *swarmpubkey.Account, forceNow bool) {
	s.mu.Lock()

	k := accountKey(account)
	if _, ok := s.subs[k]; !ok {
		s.subs[k] = struct{}{}
		s.next.PushFront(&nextEntry{account: account, resubscribe: time.Time{}})
		s.mu.Unlock()
		return
	}
	if !forceNow {
		s.mu.Unlock()
		return
	}
	for e := s.next.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*nextEntry)
		if entry.account != nil && accountKey(entry.account) == k {
			entry.account = nil // 墓碑：惰性删除
			break
		}
	}
	s.next.PushFront(&nextEntry{account: account, resubscribe: time.Time{}})
	connected := s.state == types.StateConnected
	s.mu.Unlock()

	// 只有在连接已经稳定建立时才需要这里主动踢一下：尚未连接的情况由
	// Connect/onConnected 或下一次 tickResubscribes 自行处理，这里抢着调用
	// 只会多触发一次不必要的 Connect。
	if connected {
		go s.checkSubs(false)
	}
}

// ResetSwarm 在 swarm 变化时清空所有订阅状态（spec.md §4.1 隐含的 reset）。
func (s *SNodeConn) ResetSwarm(swarm uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next.Init()
	s.subs = make(map[swarmAccountKey]struct{})
	s.swarm = swarm
}

// RecheckSwarmMembers 驱逐队列中不再归属本 swarm 的账户（spec.md §4.3）。
func (s *SNodeConn) RecheckSwarmMembers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for e := s.next.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*nextEntry)
		if entry.account == nil {
			continue
		}
		sw, ok := entry.account.Swarm()
		if !ok || sw != s.swarm {
			delete(s.subs, accountKey(entry.account))
			entry.account = nil
		}
	}
}

// checkSubs 消费队首所有到期条目，打包一条 monitor.messages 请求。
func (s *SNodeConn) checkSubs(initial bool) {
	s.mu.Lock()
	if s.state != types.StateConnected {
		s.mu.Unlock()
		if s.state == types.StateDisconnected {
			s.Connect()
		}
		return
	}
	conn := s.conn
	now := s.clock.Now()

	type packed struct {
		account *swarmpubkey.Account
		subs    []*types.Subscription
	}
	var batch []packed
	reqSize := 0

	for s.next.Len() > 0 && reqSize < types.SubsRequestLimit {
		front := s.next.Front()
		entry := front.Value.(*nextEntry)
		if entry.resubscribe.After(now) {
			break
		}
		s.next.Remove(front)
		if entry.account == nil {
			continue // 墓碑
		}

		subList := s.hive.lookupSubscriptions(entry.account, now)
		if len(subList) > 0 {
			batch = append(batch, packed{account: entry.account, subs: subList})
			for _, sub := range subList {
				reqSize += recordBytes(sub)
			}
		}

		jitter := time.Duration(rand.Int63n(int64(types.ResubscribeMax - types.ResubscribeMin)))
		s.next.PushBack(&nextEntry{account: entry.account, resubscribe: now.Add(types.ResubscribeMin + jitter)})
	}
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	req := make(bencode.List, 0, len(batch))
	for _, p := range batch {
		for _, sub := range p.subs {
			req = append(req, subscriptionRecord(sub))
		}
	}

	payload, err := bencode.Marshal(req)
	if err != nil {
		logger.Error("failed to encode monitor.messages request", "err", err)
		return
	}

	logger.Debug("(re-)subscribing", "addr", s.addr.String(), "accounts", len(batch))
	if initial && reqSize >= types.SubsRequestLimit {
		// 初始订阅且本批次被大小限制截断：收到回复后立即继续下一批，
		// 尽快完成初始订阅，但同一节点永远不会并发发出第二个订阅请求。
		go func() {
			if _, err := conn.Request(context.Background(), "monitor.messages", payload); err != nil {
				logger.Warn("monitor.messages request failed", "addr", s.addr.String(), "err", err)
			}
			s.checkSubs(true)
		}()
		return
	}

	// 其余情况下我们不关心回复：即使部分失败，swarm 内其它成员提供了冗余，
	// 暂时失去这一个节点的订阅不会破坏通知可靠性。
	go func() {
		if _, err := conn.Request(context.Background(), "monitor.messages", payload); err != nil {
			logger.Warn("monitor.messages request failed", "addr", s.addr.String(), "err", err)
		}
	}()
}

// recordBytes 估算一条订阅记录的 bencode 序列化字节数（spec.md §6 公式）。
func recordBytes(sub *types.Subscription) int {
	n := 5 + 4*len(sub.Namespaces) + 15 + 70 + 39
	if len(sub.SubkeyTag) > 0 {
		n += 38
	}
	if sub.WantData {
		n += 6
	}
	return n
}

// subscriptionRecord 打包一条订阅为 bencode 字典（spec.md §4.3）。
func subscriptionRecord(sub *types.Subscription) bencode.Dict {
	namespaces := make(bencode.List, len(sub.Namespaces))
	for i, ns := range sub.Namespaces {
		namespaces[i] = int64(ns)
	}

	d := bencode.Dict{
		"n": namespaces,
		"t": sub.SigTS,
		"s": sub.Signature,
	}

	id := sub.Account.ID()
	if id[0] == swarmpubkey.SessionPrefix {
		d["P"] = sub.Account.Ed25519Pubkey()
	} else {
		d["p"] = id
	}

	if len(sub.SubkeyTag) > 0 {
		d["S"] = sub.SubkeyTag
	}
	if sub.WantData {
		d["d"] = int64(1)
	}
	return d
}
