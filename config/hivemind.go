package config

import (
	"errors"
	"time"
)

// HivemindConfig 是核心协调器的运行参数，对应 spec.md §6 枚举的 `hivemind.*` 键。
type HivemindConfig struct {
	// SubsInterval 是 BlockWatcher 轮询/触发 swarm 拓扑刷新的周期。
	SubsInterval Duration `yaml:"subs_interval"`

	// MaxConnects 是任意时刻允许同时处于"正在连接"状态的服务节点连接数上限。
	MaxConnects int `yaml:"max_connects"`

	// FilterLifetime 是 DedupFilter 单个集合的存活期；实际去重窗口是
	// [FilterLifetime, 2*FilterLifetime]。
	FilterLifetime Duration `yaml:"filter_lifetime"`

	// StartupWait 是启动后主监听上的请求（subscribe、unsubscribe、notify.*）在
	// "通知器就绪"闸门上最多等待的时长（毫秒精度）；任一通知器注册后闸门立即打开。
	StartupWait Duration `yaml:"startup_wait"`

	// Listen 是面向 service node / 内部 RPC 的监听地址。
	Listen string `yaml:"listen"`

	// ListenCurve 是面向通知器 worker 的已鉴权监听地址。
	ListenCurve string `yaml:"listen_curve"`

	// ListenCurveAdmin 是管理端点监听地址（仅允许 admin.* 方法）。
	ListenCurveAdmin string `yaml:"listen_curve_admin"`

	// OxendRPC 是 Oxen 守护进程的 RPC 地址。
	OxendRPC string `yaml:"oxend_rpc"`
}

// DefaultHivemindConfig 返回默认的协调器运行参数。
func DefaultHivemindConfig() HivemindConfig {
	return HivemindConfig{
		SubsInterval:     Duration(60 * time.Second),
		MaxConnects:      16,
		FilterLifetime:   Duration(5 * time.Minute),
		StartupWait:      Duration(2 * time.Second),
		Listen:           "0.0.0.0:22025",
		ListenCurve:      "0.0.0.0:22026",
		ListenCurveAdmin: "127.0.0.1:22027",
		OxendRPC:         "http://127.0.0.1:22023",
	}
}

// Validate 校验协调器运行参数。
func (c HivemindConfig) Validate() error {
	if c.SubsInterval.Duration() <= 0 {
		return errors.New("config: hivemind.subs_interval must be positive")
	}
	if c.MaxConnects <= 0 {
		return errors.New("config: hivemind.max_connects must be positive")
	}
	if c.FilterLifetime.Duration() <= 0 {
		return errors.New("config: hivemind.filter_lifetime must be positive")
	}
	if c.Listen == "" {
		return errors.New("config: hivemind.listen must not be empty")
	}
	if c.OxendRPC == "" {
		return errors.New("config: hivemind.oxend_rpc must not be empty")
	}
	return nil
}
