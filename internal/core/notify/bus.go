// Package notify 实现 NotifierBus：具名通知器工作进程的注册表
//
// 对应 spec.md §4.5：register_service/validate/push 以及统计聚合。
// 通知器侧连接复用 internal/core/hive 的 gorilla/websocket 传输约定
// （同样替代没有 Go 绑定的 OxenMQ/zmq）。
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oxen-io/session-push-notification-server/pkg/lib/log"
	"github.com/oxen-io/session-push-notification-server/pkg/types"
)

var logger = log.Logger("notify")

// ValidateKind 区分 validate 请求是针对订阅还是取消订阅。
type ValidateKind string

const (
	// ValidateSubscribe 对应新建/更新订阅的校验
	ValidateSubscribe ValidateKind = "subscribe"
	// ValidateUnsubscribe 对应取消订阅的校验
	ValidateUnsubscribe ValidateKind = "unsubscribe"
)

// DefaultValidateTimeout 是 notifier.validate 往返的默认超时（spec.md §5）。
const DefaultValidateTimeout = 5 * time.Second

// ServiceConn 是一个已注册通知器工作进程的连接句柄。
type ServiceConn interface {
	// Validate 发送一次 validate 请求（kind、correlationID 与原样的 service_info），
	// 等待 code 加 svc_id[/svc_data] 或 code 加 message 的应答。websocket 实现
	// wsServiceConn 发出的帧中 service 字段为空，请求不携带服务名。
	Validate(ctx context.Context, correlationID string, kind ValidateKind, serviceInfo json.RawMessage) (code int, svcID string, svcData []byte, errMsg string, err error)
	// Push 发送一条 fire-and-forget 的 notifier.push bencode 信封。
	Push(envelope []byte) error
	Close() error
}

// Bus 是通知器注册表，路由 validate/push 并聚合上报的统计数据。
type Bus struct {
	mu       sync.RWMutex
	services map[string]ServiceConn
	stats    map[string]map[string]any

	validateTimeout time.Duration
	metrics         *Metrics

	readyOnce sync.Once
	readyCh   chan struct{}
}

// New 构造一个 Bus。metrics 为 nil 时不导出 prometheus 指标。
func New(validateTimeout time.Duration, metrics *Metrics) *Bus {
	if validateTimeout <= 0 {
		validateTimeout = DefaultValidateTimeout
	}
	return &Bus{
		services:        make(map[string]ServiceConn),
		stats:           make(map[string]map[string]any),
		validateTimeout: validateTimeout,
		metrics:         metrics,
		readyCh:         make(chan struct{}),
	}
}

// RegisterService 注册（或替换）一个通知器工作进程的连接，首次注册时打开
// "通知器就绪"闸门（spec.md §4.6，RequestRouter 主监听上的 subscribe、
// unsubscribe 与 notify.* 请求都在该闸门上等待）。
func (b *Bus) RegisterService(name string, conn ServiceConn) {
	b.mu.Lock()
	if old, ok := b.services[name]; ok {
		_ = old.Close()
	}
	b.services[name] = conn
	if _, ok := b.stats[name]; !ok {
		b.stats[name] = make(map[string]any)
	}
	b.mu.Unlock()

	b.readyOnce.Do(func() { close(b.readyCh) })
	logger.Info("registered notifier service", "service", name)
}

// WaitReady 阻塞直至 startupWait 超时、至少一个通知器已注册、或 ctx 被取消。
func (b *Bus) WaitReady(ctx context.Context, startupWait time.Duration) {
	timer := time.NewTimer(startupWait)
	defer timer.Stop()
	select {
	case <-b.readyCh:
	case <-timer.C:
	case <-ctx.Done():
	}
}

// IsRegistered 报告某个服务当前是否在线。
func (b *Bus) IsRegistered(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.services[name]
	return ok
}

// Validate 转发一次 validate 往返，强制成功响应的 svc_id 至少 32 字符
// （spec.md §4.5）。
func (b *Bus) Validate(ctx context.Context, kind ValidateKind, service string, serviceInfo json.RawMessage) (svcID string, svcData []byte, rerr *types.RequestError) {
	b.mu.RLock()
	conn, ok := b.services[service]
	b.mu.RUnlock()
	if !ok {
		return "", nil, types.NewRequestError(types.ServiceNotAvailable, "notifier %q is not registered", service)
	}

	ctx, cancel := context.WithTimeout(ctx, b.validateTimeout)
	defer cancel()

	correlationID := uuid.NewString()
	code, id, data, errMsg, err := conn.Validate(ctx, correlationID, kind, serviceInfo)
	if err != nil {
		if ctx.Err() != nil {
			b.observeValidate(service, "timeout")
			return "", nil, types.NewRequestError(types.ServiceTimeout, "notifier %q validate timed out", service)
		}
		b.observeValidate(service, "error")
		return "", nil, types.NewRequestError(types.Error, "notifier %q validate failed: %v", service, err)
	}
	if code != 0 {
		b.observeValidate(service, "rejected")
		return "", nil, types.NewRequestError(types.BadInput, "%s", errMsg)
	}
	if len(id) < types.MinServiceIDLen {
		b.observeValidate(service, "error")
		return "", nil, types.NewRequestError(types.Error, "notifier %q returned undersized svc_id", service)
	}
	b.observeValidate(service, "ok")
	return id, data, nil
}

func (b *Bus) observeValidate(service, outcome string) {
	if b.metrics != nil {
		b.metrics.observeValidate(service, outcome)
	}
}

// Push 向指定服务做一次即发即忘的 notifier.push 投递。
func (b *Bus) Push(service string, envelope []byte) error {
	b.mu.RLock()
	conn, ok := b.services[service]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("notify: service %q not registered", service)
	}
	if err := conn.Push(envelope); err != nil {
		return err
	}
	if b.metrics != nil {
		b.metrics.observePush(service)
	}
	return nil
}

// ReportStatsBencode 解码一次 admin.service_stats 的原始 bencode 负载并合并入
// 该服务的累积统计。
func (b *Bus) ReportStatsBencode(service string, payload []byte) error {
	report, err := decodeServiceStats(payload)
	if err != nil {
		return err
	}
	b.ReportStats(service, report)
	return nil
}

// ReportStats 合并一次来自通知器的 admin.service_stats 上报：整数值累加
// （缺失的键从零开始），非整数值直接替换。
func (b *Bus) ReportStats(service string, report map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur, ok := b.stats[service]
	if !ok {
		cur = make(map[string]any)
		b.stats[service] = cur
	}

	for k, v := range report {
		switch n := v.(type) {
		case int64:
			prev, _ := cur[k].(int64)
			cur[k] = prev + n
		case int:
			prev, _ := cur[k].(int64)
			cur[k] = prev + int64(n)
		default:
			cur[k] = v
		}
	}
}

// StatsSnapshot 返回所有服务当前累积统计的只读快照。
func (b *Bus) StatsSnapshot() map[string]map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]map[string]any, len(b.stats))
	for svc, m := range b.stats {
		cp := make(map[string]any, len(m))
		for k, v := range m {
			cp[k] = v
		}
		out[svc] = cp
	}
	return out
}

// RegisteredServices 返回当前在线的服务名集合。
func (b *Bus) RegisteredServices() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.services))
	for name := range b.services {
		out = append(out, name)
	}
	return out
}
