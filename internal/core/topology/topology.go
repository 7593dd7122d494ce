// Package topology 实现 SwarmTopology：跟踪活跃服务节点及其 swarm 归属
//
// 对应 spec.md §4.1。输入来自 BlockWatcher 触发的 Oxen 守护进程刷新；输出驱动
// Hive 的连接建立/断开与订阅重新分配。
package topology

import (
	"sync"

	"github.com/oxen-io/session-push-notification-server/pkg/lib/log"
	"github.com/oxen-io/session-push-notification-server/pkg/swarmpubkey"
	"github.com/oxen-io/session-push-notification-server/pkg/types"
)

var logger = log.Logger("topology")

// NoSwarmID 是 Oxen 守护进程用来表示"未分配 swarm"的哨兵值，刷新时会被过滤掉。
const NoSwarmID = ^uint64(0)

// NodeInfo 是刷新输入中的一条原始记录：(x25519_pubkey, host, port, swarm_id)。
type NodeInfo struct {
	Pubkey string
	Host   string
	Port   uint16
	Swarm  uint64
}

// RefreshResult 描述一次刷新相对于前一状态的变化。
type RefreshResult struct {
	SwarmsChanged bool
	SwarmIDs      []uint64

	Added     []*types.ServiceNode
	Moved     []*types.ServiceNode // 地址或 swarm 变化，需先断开旧连接
	Removed   []types.ServiceNodeAddr
	Unchanged []*types.ServiceNode
}

// Topology 持有当前活跃服务节点集合与排序后的 swarm id 列表。
type Topology struct {
	mu sync.Mutex

	nodes    map[string]*types.ServiceNode // keyed by pubkey
	swarmIDs []uint64
}

// New 构造一个空的拓扑。
func New() *Topology {
	return &Topology{nodes: make(map[string]*types.ServiceNode)}
}

// SwarmIDs 返回当前排序后的 swarm id 列表的副本。
func (t *Topology) SwarmIDs() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]uint64, len(t.swarmIDs))
	copy(out, t.swarmIDs)
	return out
}

// Nodes 返回当前活跃服务节点的快照。
func (t *Topology) Nodes() []*types.ServiceNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*types.ServiceNode, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, n)
	}
	return out
}

// NodesInSwarm 返回归属某个 swarm 的所有节点。
func (t *Topology) NodesInSwarm(swarmID uint64) []*types.ServiceNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*types.ServiceNode
	for _, n := range t.nodes {
		if n.SwarmID == swarmID {
			out = append(out, n)
		}
	}
	return out
}

// Refresh 使用来自 Oxen 守护进程的新节点列表更新拓扑，返回本次变化的摘要。
// 调用方须持有协调器的总锁；本方法自身也会加锁以便独立测试。
func (t *Topology) Refresh(raw []NodeInfo) RefreshResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]*types.ServiceNode, len(raw))
	var result RefreshResult

	for _, r := range raw {
		if r.Swarm == NoSwarmID {
			continue
		}
		addr := types.ServiceNodeAddr{Pubkey: r.Pubkey, Host: r.Host, Port: r.Port}
		node := &types.ServiceNode{Addr: addr, SwarmID: r.Swarm}
		seen[r.Pubkey] = node

		prev, existed := t.nodes[r.Pubkey]
		switch {
		case !existed:
			result.Added = append(result.Added, node)
		case prev.Addr != addr || prev.SwarmID != r.Swarm:
			result.Moved = append(result.Moved, node)
		default:
			result.Unchanged = append(result.Unchanged, node)
		}
	}

	for pubkey, prev := range t.nodes {
		if _, ok := seen[pubkey]; !ok {
			result.Removed = append(result.Removed, prev.Addr)
		}
	}

	t.nodes = seen

	newSwarmIDs := collectSwarmIDs(seen)
	result.SwarmsChanged = swarmpubkey.SwarmIDsChanged(t.swarmIDs, newSwarmIDs)
	t.swarmIDs = newSwarmIDs
	result.SwarmIDs = append([]uint64(nil), newSwarmIDs...)

	if result.SwarmsChanged {
		logger.Info("swarm topology changed", "swarms", len(newSwarmIDs))
	}

	return result
}

func collectSwarmIDs(nodes map[string]*types.ServiceNode) []uint64 {
	set := make(map[uint64]struct{}, len(nodes))
	for _, n := range nodes {
		set[n.SwarmID] = struct{}{}
	}
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return swarmpubkey.SortSwarmIDs(ids)
}

// PlaceAccount 按当前拓扑的 swarm 列表更新给定账户的 swarm 归属，并报告其是否发生变化。
func (t *Topology) PlaceAccount(account *swarmpubkey.Account) (changed bool) {
	ids := t.SwarmIDs()
	return account.UpdateSwarm(ids)
}
