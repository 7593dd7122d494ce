// Package dedup 实现消息通知的时间窗口去重过滤器
//
// 对应 spec.md §4.4：两个哈希集合 active/decay 轮转，保证
// [filter_lifetime, 2*filter_lifetime] 的真实保留窗口。结构不持久化：
// 重启后短暂出现重复推送是可接受的。
package dedup

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/crypto/blake2b"

	"github.com/oxen-io/session-push-notification-server/pkg/lib/log"
)

var logger = log.Logger("dedup")

// Key 是 BLAKE2b-256(service || svc_id || msg_hash) 的输出。
type Key [32]byte

// ComputeKey 计算一条通知在给定服务/设备下的去重键。
func ComputeKey(service string, svcID, msgHash []byte) Key {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(service))
	h.Write(svcID)
	h.Write(msgHash)
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

// Filter 是线程安全的时间窗口去重过滤器。
type Filter struct {
	mu       sync.Mutex
	active   map[Key]struct{}
	decay    map[Key]struct{}
	lifetime time.Duration
	clock    clock.Clock
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New 构造一个去重过滤器；clk 为 nil 时使用真实时钟。
func New(lifetime time.Duration, clk clock.Clock) *Filter {
	if clk == nil {
		clk = clock.New()
	}
	return &Filter{
		active:   make(map[Key]struct{}),
		decay:    make(map[Key]struct{}),
		lifetime: lifetime,
		clock:    clk,
		stopCh:   make(chan struct{}),
	}
}

// SeenOrAdd 检查 key 是否已在 active/decay 集合中出现过；若未出现则插入
// active 集合并返回 false（即"本次需要处理"），否则返回 true（"是重复"）。
// 对应 snode.py notify.message 处理步骤 2-3。
func (f *Filter) SeenOrAdd(key Key) (dup bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.active[key]; ok {
		return true
	}
	if _, ok := f.decay[key]; ok {
		return true
	}
	f.active[key] = struct{}{}
	return false
}

// Rotate 执行一次轮转：decay ← active; active ← ∅。
func (f *Filter) Rotate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decay = f.active
	f.active = make(map[Key]struct{}, len(f.decay))
}

// Run 按 lifetime 周期持续轮转，直到 Stop 被调用。适合作为后台 goroutine 启动。
func (f *Filter) Run() {
	ticker := f.clock.Ticker(f.lifetime)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f.Rotate()
			logger.Debug("rotated dedup filter")
		case <-f.stopCh:
			return
		}
	}
}

// Stop 终止后台轮转循环。
func (f *Filter) Stop() {
	f.stopOnce.Do(func() { close(f.stopCh) })
}

// Size 返回 active+decay 集合的总条目数，供统计导出使用。
func (f *Filter) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active) + len(f.decay)
}
