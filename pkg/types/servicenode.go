package types

import (
	"strconv"
	"time"
)

// ConnectCooldown 是向一个服务节点连接失败后的重试等待序列（单位见下）；
// 用完最后一个值后持续复用该值。对应 original_source snode.py 的 CONNECT_COOLDOWN。
var ConnectCooldown = []time.Duration{
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
}

// ResubscribeMin/ResubscribeMax 界定了单个账户重新订阅前的随机等待范围，
// 用于把续订请求在时间上打散，避免所有账户同时到期续订造成请求尖峰。
const (
	ResubscribeMin = 45 * time.Minute
	ResubscribeMax = 55 * time.Minute
)

// ResubscribeCheckInterval 是每个服务节点连接轮询一次到期重订阅队列的周期。
// 单靠连接建立时的一次性 checkSubs 不足以触发后续的重新订阅：队首条目的
// resubscribe 时间到了之后必须有人把它叫醒。
const ResubscribeCheckInterval = time.Minute

// SubsRequestLimit 是单次 monitor.messages 请求估算的最大编码字节数；
// 超出后剩余账户留到下一批次处理。
const SubsRequestLimit = 5_000_000

// ConnState 是到单个服务节点连接的状态机取值。
type ConnState int

const (
	// StateDisconnected 未连接且未在尝试连接
	StateDisconnected ConnState = iota
	// StateConnecting 正在建立连接
	StateConnecting
	// StateConnected 已连接
	StateConnected
	// StateCooldown 最近连接失败，正在冷却等待重试
	StateCooldown
)

// ServiceNodeAddr 是一个服务节点的网络地址与摆动信息（取代 OxenMQ Address）。
type ServiceNodeAddr struct {
	Pubkey string // 服务节点的 x25519 公钥（curve pubkey），用于鉴权与地址比较
	Host   string
	Port   uint16
}

// Equal 比较两个地址是否一致。
func (a ServiceNodeAddr) Equal(b ServiceNodeAddr) bool {
	return a.Pubkey == b.Pubkey && a.Host == b.Host && a.Port == b.Port
}

// String 返回人类可读的地址形式，仅用于日志。
func (a ServiceNodeAddr) String() string {
	return a.Host + ":" + strconv.Itoa(int(a.Port))
}

// ServiceNode 是 Oxen daemon 的 get_service_nodes 返回的一条网络成员记录，
// 携带该节点归属的 swarm id，供 SwarmTopology 与 Hive 消费。
type ServiceNode struct {
	Addr   ServiceNodeAddr
	SwarmID uint64
}

