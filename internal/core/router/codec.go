package router

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// decodeBytes 按 spec.md §6 的约定解码一个客户端字段：可以是十六进制，也可以是
// 未填充的 base64（标准或 URL 字母表）。
func decodeBytes(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if b, err := hex.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return nil, fmt.Errorf("router: %q is neither valid hex nor unpadded base64", s)
}
