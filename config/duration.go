package config

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 是支持从 YAML 标量解析的 time.Duration 包装类型。
//
// 支持两种写法：
//   - 字符串："30s", "5m", "1h30m"（time.ParseDuration 语法）
//   - 纯数字：按 spec.md 枚举的原 INI 配置语义解释为秒数，例如 `subs_interval: 60`
type Duration time.Duration

// UnmarshalYAML 实现 yaml.Unmarshaler。
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			*d = Duration(time.Duration(n) * time.Second)
			return nil
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := node.Decode(&n); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}

	return fmt.Errorf("config: duration must be a number of seconds or a duration string")
}

// MarshalYAML 输出为人类可读的字符串形式。
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Duration 返回底层的 time.Duration 值。
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String 返回字符串表示。
func (d Duration) String() string {
	return time.Duration(d).String()
}
