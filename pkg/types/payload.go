package types

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/oxen-io/session-push-notification-server/pkg/bencode"
)

// PayloadPadMultiple 是加密前明文必须对齐到的块大小。
const PayloadPadMultiple = 256

// MaxMsgSize 是消息体会被内联进设备载荷的最大长度；超出则只携带元数据，
// 由设备自行从 storage server 拉取完整内容。
const MaxMsgSize = 2500

var (
	// ErrBodyTooLarge 调用方仍传入了超出 MaxMsgSize 的正文
	ErrBodyTooLarge = errors.New("types: message body exceeds max_msg_size")
)

// deviceMetadata 是加密设备载荷前缀的 JSON 元数据块（spec §6 步骤 1）。
type deviceMetadata struct {
	Account    string `json:"@"`
	MsgHash    string `json:"#"`
	Namespace  int16  `json:"n"`
	Timestamp  int64  `json:"t"`
	Expiry     int64  `json:"z"`
	BodyLen    int    `json:"l,omitempty"`
	Oversize   bool   `json:"B,omitempty"`
}

// EncryptDevicePayload 实现 spec §6 "Notifier encrypted device payload" 的五个步骤：
// 构造 JSON 元数据、bencode 包装、填充到 256 字节倍数、用 enc_key 做
// XChaCha20-Poly1305 加密（24 字节随机 nonce 前缀）、最终 base64 编码。
//
// env.HasBody 为 false 时不携带消息正文；正文超过 MaxMsgSize 时也不内联，
// 此时元数据中写入 l（正文长度）与 B=true。
func EncryptDevicePayload(env *PushEnvelope, encKey []byte) (string, error) {
	if len(encKey) != chacha20poly1305.KeySize {
		return "", fmt.Errorf("types: enc_key must be %d bytes", chacha20poly1305.KeySize)
	}

	meta := deviceMetadata{
		Account:   fmt.Sprintf("%x", env.AccountID),
		MsgHash:   fmt.Sprintf("%x", env.MsgHash),
		Namespace: env.Namespace,
		Timestamp: env.Timestamp,
		Expiry:    env.Expiry,
	}

	includeBody := env.HasBody && len(env.Body) <= MaxMsgSize
	if env.HasBody && !includeBody {
		meta.BodyLen = len(env.Body)
		meta.Oversize = true
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("types: marshal device metadata: %w", err)
	}

	items := bencode.List{[]byte(metaJSON)}
	if includeBody {
		items = append(items, []byte(env.Body))
	}
	plain, err := bencode.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("types: bencode device payload: %w", err)
	}

	if pad := PayloadPadMultiple - len(plain)%PayloadPadMultiple; pad != PayloadPadMultiple {
		plain = append(plain, make([]byte, pad)...)
	}

	aead, err := chacha20poly1305.NewX(encKey)
	if err != nil {
		return "", fmt.Errorf("types: init xchacha20poly1305: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("types: read nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plain, nil)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)

	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptDevicePayload 是 EncryptDevicePayload 的逆操作，供测试与通知器参考实现使用。
// 返回去除末尾零填充的明文 bencode 列表。
func DecryptDevicePayload(encPayload string, encKey []byte) ([]byte, error) {
	if len(encKey) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("types: enc_key must be %d bytes", chacha20poly1305.KeySize)
	}
	raw, err := base64.StdEncoding.DecodeString(encPayload)
	if err != nil {
		return nil, fmt.Errorf("types: decode base64: %w", err)
	}
	if len(raw) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("types: payload shorter than nonce")
	}

	aead, err := chacha20poly1305.NewX(encKey)
	if err != nil {
		return nil, fmt.Errorf("types: init xchacha20poly1305: %w", err)
	}

	nonce, ciphertext := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("types: decrypt: %w", err)
	}

	// 去除 bencode.Marshal 之后附加的尾部 0x00 填充。
	end := len(plain)
	for end > 0 && plain[end-1] == 0x00 {
		end--
	}
	return plain[:end], nil
}
