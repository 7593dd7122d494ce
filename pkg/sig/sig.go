// Package sig 实现订阅/取消订阅消息的签名构造与验证
//
// 对应 Python 原型 spns/hive/signature.py 与 subscription.py 中
// 构造 "MONITOR..."/"UNSUBSCRIBE..." 待签名消息、以及标准/委托(subkey)
// 两种 Ed25519 验签方式。
package sig

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/blake2b"
)

// SubkeyDomain 是派生子密钥验证公钥时使用的 blake2b 个性化 key，
// 必须与 oxen-storage-server 保持一致。
const SubkeyDomain = "OxenSSSubkey"

var (
	// ErrBadSignature 签名验证失败
	ErrBadSignature = errors.New("sig: signature verification failed")
	// ErrInvalidSubkeyTag subkey_tag 长度不是 32 字节
	ErrInvalidSubkeyTag = errors.New("sig: subkey_tag must be 32 bytes")
	// ErrInvalidEd25519 ed25519 公钥长度不是 32 字节
	ErrInvalidEd25519 = errors.New("sig: ed25519 pubkey must be 32 bytes")
	// ErrInvalidSignature 签名长度不是 64 字节
	ErrInvalidSignature = errors.New("sig: signature must be 64 bytes")
)

// MonitorMessage 构造订阅请求的待签名消息：
// "MONITOR" || HEX(account id) || DEC(sig_ts) || ('0'|'1') || 逗号分隔的命名空间
func MonitorMessage(accountID []byte, sigTS int64, wantData bool, namespaces []int16) []byte {
	var b strings.Builder
	b.WriteString("MONITOR")
	fmt.Fprintf(&b, "%x", accountID)
	fmt.Fprintf(&b, "%d", sigTS)
	if wantData {
		b.WriteByte('1')
	} else {
		b.WriteByte('0')
	}
	for i, n := range namespaces {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(int(n)))
	}
	return []byte(b.String())
}

// UnsubscribeMessage 构造取消订阅请求的待签名消息：
// "UNSUBSCRIBE" || HEX(account id) || DEC(sig_ts)
func UnsubscribeMessage(accountID []byte, sigTS int64) []byte {
	var b strings.Builder
	b.WriteString("UNSUBSCRIBE")
	fmt.Fprintf(&b, "%x", accountID)
	fmt.Fprintf(&b, "%d", sigTS)
	return []byte(b.String())
}

// Verify 验证 sigMsg 上的签名。当 subkeyTag 非空时使用委托(subkey)验证，
// 否则直接用 ed25519Pubkey 验证。
func Verify(sigMsg, signature, ed25519Pubkey, subkeyTag []byte) error {
	if len(ed25519Pubkey) != ed25519.PublicKeySize {
		return ErrInvalidEd25519
	}
	if len(signature) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}

	verifyKey := ed25519Pubkey
	if len(subkeyTag) > 0 {
		derived, err := deriveSubkeyVerifyKey(subkeyTag, ed25519Pubkey)
		if err != nil {
			return err
		}
		verifyKey = derived
	}

	if !ed25519.Verify(ed25519.PublicKey(verifyKey), sigMsg, signature) {
		return ErrBadSignature
	}
	return nil
}

// deriveSubkeyVerifyKey 计算 oxen-storage-server 风格的委托验证公钥：
//
//	h  = BLAKE2b(subkey_tag || ed25519_pubkey, key="OxenSSSubkey", size=32)
//	pk'= (subkey_tag + h mod L) · ed25519_pubkey   (Edwards 曲线标量乘，无 clamp)
func deriveSubkeyVerifyKey(subkeyTag, ed25519Pubkey []byte) ([]byte, error) {
	if len(subkeyTag) != 32 {
		return nil, ErrInvalidSubkeyTag
	}

	h, err := blake2b.New(32, []byte(SubkeyDomain))
	if err != nil {
		return nil, fmt.Errorf("sig: blake2b init: %w", err)
	}
	h.Write(subkeyTag)
	h.Write(ed25519Pubkey)
	digest := h.Sum(nil)

	tagScalar, err := wideScalar(subkeyTag)
	if err != nil {
		return nil, fmt.Errorf("sig: subkey_tag scalar: %w", err)
	}
	digestScalar, err := wideScalar(digest)
	if err != nil {
		return nil, fmt.Errorf("sig: subkey digest scalar: %w", err)
	}

	sum := edwards25519.NewScalar().Add(tagScalar, digestScalar)

	point, err := new(edwards25519.Point).SetBytes(ed25519Pubkey)
	if err != nil {
		return nil, fmt.Errorf("sig: invalid ed25519 point: %w", err)
	}

	derived := new(edwards25519.Point).ScalarMult(sum, point)
	return derived.Bytes(), nil
}

// wideScalar 把一个 32 字节值按小端宽规约到 mod L 的标量，
// 等价于 libsodium crypto_core_ed25519_scalar_{add,reduce} 所期望的输入形式。
func wideScalar(b []byte) (*edwards25519.Scalar, error) {
	var wide [64]byte
	copy(wide[:32], b)
	return edwards25519.NewScalar().SetUniformBytes(wide[:])
}
