package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// KeysConfig 是密钥文件路径及 admin 公钥白名单配置，对应 spec.md §6 的
// `keys.hivemind`、`keys.onionreq` 及 `hivemind.listen_curve_admin`。
//
// 每个密钥文件既可以是原始 32 字节的 X25519 私钥，也可以是它的十六进制编码，
// 与原 Python 实现的 [keys] 分节加载规则一致。
type KeysConfig struct {
	// Hivemind 是 hivemind 自身 X25519 身份密钥的文件路径。
	Hivemind string `yaml:"hivemind"`

	// OnionReq 是 onion-request 解包用密钥的文件路径。
	OnionReq string `yaml:"onionreq"`

	// AdminAllowlist 是允许调用 admin.* RPC 的 curve 公钥集合（十六进制字符串）。
	// 对应 spec.md 的 `hivemind.listen_curve_admin`。
	AdminAllowlist []string `yaml:"admin_allowlist"`
}

// DefaultKeysConfig 返回空的密钥配置；生产部署必须显式提供密钥文件路径。
func DefaultKeysConfig() KeysConfig {
	return KeysConfig{}
}

// Validate 校验密钥路径存在且 admin 白名单项格式正确。
func (c KeysConfig) Validate() error {
	if c.Hivemind == "" {
		return errors.New("config: keys.hivemind must be set")
	}
	for _, pk := range c.AdminAllowlist {
		if _, err := hex.DecodeString(strings.TrimSpace(pk)); err != nil {
			return fmt.Errorf("config: invalid hex pubkey in admin_allowlist: %q", pk)
		}
	}
	return nil
}

// LoadX25519PrivateKey 从文件中读取一个 X25519 私钥：
// 文件内容恰好 32 字节时视为原始密钥，否则按十六进制解码（去除首尾空白后必须是 64
// 个十六进制字符）。
func LoadX25519PrivateKey(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read key file %s: %w", path, err)
	}
	if len(raw) == 32 {
		out := make([]byte, 32)
		copy(out, raw)
		return out, nil
	}

	hexStr := strings.TrimSpace(string(raw))
	if len(hexStr) != 64 {
		return nil, fmt.Errorf("config: key file %s: invalid size", path)
	}
	key, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("config: key file %s: expected raw bytes or hex: %w", path, err)
	}
	return key, nil
}

// AdminAllowlistBytes 解码 AdminAllowlist 为原始公钥字节集合。
func (c KeysConfig) AdminAllowlistBytes() (map[string][]byte, error) {
	out := make(map[string][]byte, len(c.AdminAllowlist))
	for _, pk := range c.AdminAllowlist {
		trimmed := strings.TrimSpace(pk)
		raw, err := hex.DecodeString(trimmed)
		if err != nil {
			return nil, fmt.Errorf("config: invalid hex pubkey in admin_allowlist: %q", pk)
		}
		out[trimmed] = raw
	}
	return out, nil
}

// IsAdminAllowed 判断给定的 curve 公钥是否在 admin 白名单中。
func (c KeysConfig) IsAdminAllowed(pubkey []byte) bool {
	allow, err := c.AdminAllowlistBytes()
	if err != nil {
		return false
	}
	for _, want := range allow {
		if bytes.Equal(want, pubkey) {
			return true
		}
	}
	return false
}
