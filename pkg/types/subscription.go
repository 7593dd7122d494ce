package types

import (
	"errors"
	"time"

	"github.com/oxen-io/session-push-notification-server/pkg/sig"
	"github.com/oxen-io/session-push-notification-server/pkg/swarmpubkey"
)

var (
	// ErrNamespacesEmpty 命名空间列表为空
	ErrNamespacesEmpty = errors.New("subscription: namespaces missing or empty")
	// ErrNamespacesUnsorted 命名空间列表未严格升序或含重复值
	ErrNamespacesUnsorted = errors.New("subscription: namespaces are not strictly increasing")
	// ErrNamespaceRange 命名空间超出 int16 范围
	ErrNamespaceRange = errors.New("subscription: namespace out of range")
	// ErrBadSigTS 签名时间戳缺失或超出允许窗口
	ErrBadSigTS = errors.New("subscription: sig_ts out of range")
	// ErrBadSignatureLen 签名长度不是 64 字节
	ErrBadSignatureLen = errors.New("subscription: signature must be 64 bytes")
	// ErrBadSubkeyTagLen subkey_tag 长度不是 32 字节
	ErrBadSubkeyTagLen = errors.New("subscription: subkey_tag must be 32 bytes")
	// ErrBadEncKeyLen enc_key 长度不是 32 字节
	ErrBadEncKeyLen = errors.New("subscription: enc_key must be 32 bytes")
)

// Subscription 是一个设备针对一个账户的监听请求。
//
// 字段与行为对应 Python 原型 spns/hive/subscription.py 中的 Subscription 类。
type Subscription struct {
	Account    *swarmpubkey.Account
	SubkeyTag  []byte // 可选，32 字节
	Namespaces []int16
	WantData   bool
	SigTS      int64
	Signature  []byte // 64 字节
	EncKey     []byte // 32 字节

	Service     string
	ServiceID   string
	ServiceData []byte // 由通知器提供的不透明数据
}

// Key 标识 (account.id, service, service_id) 这一唯一键。
type Key struct {
	Account   [swarmpubkey.IDSize]byte
	Service   string
	ServiceID string
}

// SubscriptionKey 返回该订阅的唯一键。
func (s *Subscription) SubscriptionKey() Key {
	var k Key
	copy(k.Account[:], s.Account.ID())
	k.Service = s.Service
	k.ServiceID = s.ServiceID
	return k
}

// ValidateFields 校验除签名、service_id 外的所有字段约束（对应 spec §3 不变式 2
// 与 subscription.py 中的值校验部分）。签名校验由调用方单独通过 VerifySignature
// 完成，因为它需要先构造好待签名消息；service_id 此时还未由通知器的 validate
// 应答填充，其长度不变式由 notify.Bus.Validate 在那之后单独强制。
func (s *Subscription) ValidateFields(now time.Time) error {
	if len(s.Namespaces) == 0 {
		return ErrNamespacesEmpty
	}
	for i, n := range s.Namespaces {
		if n < -32768 || n > 32767 {
			return ErrNamespaceRange
		}
		if i > 0 && s.Namespaces[i-1] >= n {
			return ErrNamespacesUnsorted
		}
	}

	if len(s.Signature) != 64 {
		return ErrBadSignatureLen
	}
	if s.SubkeyTag != nil && len(s.SubkeyTag) != 32 {
		return ErrBadSubkeyTagLen
	}
	if len(s.EncKey) != 32 {
		return ErrBadEncKeyLen
	}

	if s.SigTS == 0 {
		return ErrBadSigTS
	}
	floor := now.Add(-SignatureExpiry).Unix()
	ceil := now.Add(SignatureFutureGrace).Unix()
	if s.SigTS <= floor || s.SigTS >= ceil {
		return ErrBadSigTS
	}
	return nil
}

// VerifySignature 重建 MONITOR... 消息并对照账户的 ed25519 公钥（或委托子密钥）验证签名。
func (s *Subscription) VerifySignature() error {
	msg := sig.MonitorMessage(s.Account.ID(), s.SigTS, s.WantData, s.Namespaces)
	return sig.Verify(msg, s.Signature, s.Account.Ed25519Pubkey(), s.SubkeyTag)
}

// IsSame 判断两个订阅除签名外是否完全相同（subscription.py: is_same）。
func (s *Subscription) IsSame(other *Subscription) bool {
	if !s.Account.Equal(other.Account) {
		return false
	}
	if !bytesEqual(s.SubkeyTag, other.SubkeyTag) {
		return false
	}
	if !bytesEqual(s.EncKey, other.EncKey) {
		return false
	}
	if s.WantData != other.WantData {
		return false
	}
	return namespacesEqual(s.Namespaces, other.Namespaces)
}

// Covers 判断本订阅是否是 other 的同级或超集（subscription.py: covers），
// 用于 SubscriptionStore 的幂等/覆盖规则（spec §4.2）。
func (s *Subscription) Covers(other *Subscription) bool {
	if !s.Account.Equal(other.Account) || !bytesEqual(s.SubkeyTag, other.SubkeyTag) {
		return false
	}
	if other.WantData && !s.WantData {
		return false
	}

	i, j := 0, 0
	for j < len(other.Namespaces) {
		if i >= len(s.Namespaces) {
			return false
		}
		switch {
		case s.Namespaces[i] > other.Namespaces[j]:
			return false
		case s.Namespaces[i] == other.Namespaces[j]:
			i++
			j++
		default:
			i++
		}
	}
	return true
}

// IsExpired 判断该订阅在 now 时刻是否已过期（sig_ts + 14d < now）。
func (s *Subscription) IsExpired(now time.Time) bool {
	return time.Unix(s.SigTS, 0).Add(SignatureExpiry).Before(now)
}

// IsNewer 判断本订阅的 sig_ts 是否不早于 other。
func (s *Subscription) IsNewer(other *Subscription) bool {
	return s.SigTS >= other.SigTS
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func namespacesEqual(a, b []int16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
