// Package swarmpubkey 实现账户 ID 与 swarm 归属计算
//
// 对应 Python 原型 spns/hive/swarmpubkey.py：账户 ID 的 swarm_space 派生、
// 0x05 前缀 Session ID 的 Ed25519→X25519 校验，以及环形最近 swarm 选取算法。
package swarmpubkey

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"sort"

	"filippo.io/edwards25519"
)

// IDSize 是账户 ID 的固定长度：1 字节网络前缀 + 32 字节公钥
const IDSize = 33

// SessionPrefix 是 Session ID 的网络前缀；携带该前缀时，ed25519 公钥需要额外提供
// 并校验其 X25519 派生结果与 id[1:] 相等。
const SessionPrefix byte = 0x05

var (
	// ErrInvalidID 账户 ID 长度不是 33 字节
	ErrInvalidID = errors.New("swarmpubkey: invalid account id")
	// ErrInvalidEd25519 ed25519 公钥长度不是 32 字节
	ErrInvalidEd25519 = errors.New("swarmpubkey: invalid ed25519 pubkey")
	// ErrEd25519Mismatch 0x05 前缀账户的 ed25519 公钥未转换为给定的 id
	ErrEd25519Mismatch = errors.New("swarmpubkey: session_ed25519 does not convert to account id")
	// ErrSessionEd25519NotAllowed 非 0x05 前缀账户不应携带 session_ed25519
	ErrSessionEd25519NotAllowed = errors.New("swarmpubkey: session_ed25519 may only be used with 0x05-prefixed ids")
)

// Account 存储一个账户 ID（公钥）及其 swarm 归属相关状态。
//
// 与 Python 版的 SwarmPubkey 对应；swarm_space 在构造时一次性计算，此后终生不变，
// swarm 字段随每次 UpdateSwarm 调用而更新。
type Account struct {
	id         [IDSize]byte
	ed25519    [32]byte
	swarmSpace uint64

	// swarm 是当前归属的 swarm id；未归属时 hasSwarm 为 false。
	swarm    uint64
	hasSwarm bool
}

// New 构造一个 Account。
//
// id 必须是 33 字节。当 id[0] == SessionPrefix 时，sessionEd25519 必须提供且其
// X25519 派生结果必须等于 id[1:]；否则 sessionEd25519 必须为空，ed25519 公钥就是
// id[1:] 本身。
func New(id []byte, sessionEd25519 []byte) (*Account, error) {
	if len(id) != IDSize {
		return nil, ErrInvalidID
	}

	a := &Account{}
	copy(a.id[:], id)

	if id[0] == SessionPrefix {
		if len(sessionEd25519) == 0 {
			return nil, ErrInvalidEd25519
		}
		if len(sessionEd25519) != 32 {
			return nil, ErrInvalidEd25519
		}
		derived, err := ed25519PubkeyToCurve25519(sessionEd25519)
		if err != nil {
			return nil, ErrEd25519Mismatch
		}
		if subtle.ConstantTimeCompare(derived, id[1:]) != 1 {
			return nil, ErrEd25519Mismatch
		}
		copy(a.ed25519[:], sessionEd25519)
	} else {
		if len(sessionEd25519) != 0 {
			return nil, ErrSessionEd25519NotAllowed
		}
		copy(a.ed25519[:], id[1:])
	}

	a.swarmSpace = swarmSpace(a.id[:])
	return a, nil
}

// ID 返回 33 字节账户 ID。
func (a *Account) ID() []byte {
	out := make([]byte, IDSize)
	copy(out, a.id[:])
	return out
}

// Ed25519Pubkey 返回用于签名验证的 32 字节 ed25519 公钥。
func (a *Account) Ed25519Pubkey() []byte {
	out := make([]byte, 32)
	copy(out, a.ed25519[:])
	return out
}

// SwarmSpace 返回该账户稳定不变的 64 位 swarm 空间值。
func (a *Account) SwarmSpace() uint64 {
	return a.swarmSpace
}

// Swarm 返回当前归属的 swarm id 与是否已归属。
func (a *Account) Swarm() (uint64, bool) {
	return a.swarm, a.hasSwarm
}

// Equal 比较两个账户是否为同一 ID。
func (a *Account) Equal(other *Account) bool {
	if a == nil || other == nil {
		return a == other
	}
	return a.id == other.id
}

// swarmSpace 计算 id[1:33] 中四个大端 8 字节整数的异或。
func swarmSpace(id []byte) uint64 {
	var v uint64
	for i := 1; i < 33; i += 8 {
		v ^= binary.BigEndian.Uint64(id[i : i+8])
	}
	return v
}

// ed25519PubkeyToCurve25519 将 Ed25519 公钥转换为对应的 X25519 公钥。
//
// 与 libsodium 的 crypto_sign_ed25519_pk_to_curve25519 等价：把公钥解压为
// Edwards 曲线上一点，再用标准双有理映射 u=(1+y)/(1-y) 转换到 Montgomery 曲线。
func ed25519PubkeyToCurve25519(pk []byte) ([]byte, error) {
	p, err := new(edwards25519.Point).SetBytes(pk)
	if err != nil {
		return nil, err
	}
	return p.BytesMontgomery(), nil
}

// UpdateSwarm 在给定的有序 swarm id 列表中为该账户选出环上最近的 swarm。
//
// swarmIDs 必须已经按升序排序且不含重复值。返回值表示 swarm 是否发生了变化。
func (a *Account) UpdateSwarm(swarmIDs []uint64) bool {
	sw, ok := ClosestSwarm(a.swarmSpace, swarmIDs)
	if !ok {
		return false
	}
	if a.hasSwarm && sw == a.swarm {
		return false
	}
	a.swarm = sw
	a.hasSwarm = true
	return true
}

// ClosestSwarm 在已排序的 swarmIDs 中为 space 选出环形距离最近的 swarm id。
//
// 实现与 Python 版一致：二分查找第一个 >= space 的元素（越界时回绕到 0），
// 比较它与其前驱的环形距离，取较近者；并列时取左侧（较小索引）候选，结果
// 是确定性的。swarmIDs 为空时返回 (0, false)。
func ClosestSwarm(space uint64, swarmIDs []uint64) (uint64, bool) {
	n := len(swarmIDs)
	if n == 0 {
		return 0, false
	}

	iRight := sort.Search(n, func(i int) bool { return swarmIDs[i] >= space })
	if iRight == n {
		iRight = 0
	}
	iLeft := iRight - 1
	if iLeft < 0 {
		iLeft = n - 1
	}

	dRight := swarmIDs[iRight] - space // wraps modulo 2^64 via unsigned subtraction
	dLeft := space - swarmIDs[iLeft]

	if dRight < dLeft {
		return swarmIDs[iRight], true
	}
	return swarmIDs[iLeft], true
}

// SortSwarmIDs 返回去重且升序排列的 swarm id 列表；与旧列表的比较见 SwarmIDsChanged。
func SortSwarmIDs(ids []uint64) []uint64 {
	set := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	out := make([]uint64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SwarmIDsChanged 比较两个已排序的 swarm id 列表是否不同。
func SwarmIDsChanged(a, b []uint64) bool {
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if a[i] != b[i] {
			return true
		}
	}
	return false
}
