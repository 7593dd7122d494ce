// Package subs 实现 SubscriptionStore：账户订阅的权威映射
//
// 对应 spec.md §4.2：校验、持久化、过期与覆盖规则。内存态以
// account -> []*Subscription 组织，在启动时由 LoadAll 从 internal/persist 的
// 关系型仓库整体载入，此后这份内存索引本身就是读路径的权威副本（每次写入都
// 同步落库），不需要另外的读缓存。
package subs

import (
	"fmt"
	"time"

	"github.com/oxen-io/session-push-notification-server/pkg/lib/log"
	"github.com/oxen-io/session-push-notification-server/pkg/swarmpubkey"
	"github.com/oxen-io/session-push-notification-server/pkg/types"
)

var logger = log.Logger("subs")

// repository 是 Store 对持久化层的全部依赖，满足该接口的 *persist.Repository
// 之外也便于测试用手写假对象替换。
type repository interface {
	Upsert(sub *types.Subscription) error
	Delete(account []byte, service, serviceID string) error
	LoadAll(expiry time.Duration, now time.Time) ([]*types.Subscription, error)
	ExpireOld(expiry time.Duration, now time.Time) (int64, error)
}

// Outcome 是 AddSubscription 的结果分类。
type Outcome int

const (
	// Added 新建了一条订阅
	Added Outcome = iota
	// Updated 替换了已存在的同键订阅（覆盖规则生效时返回 Covered）
	Updated
	// Covered 新订阅被已存在的订阅完全覆盖，仅刷新签名/时间戳，无需扇出
	Covered
)

// AccountKey 是 33 字节账户 ID 的数组形式，可作为 map 键。
type AccountKey [swarmpubkey.IDSize]byte

// Store 是账户订阅的权威存储。
type Store struct {
	repo repository

	byAccount map[AccountKey][]*types.Subscription
}

// New 构造一个 Store。repo 通常是 *persist.Repository；接受 repository 接口
// 是为了让测试可以传入手写假对象，不必要求一个活的数据库连接。
func New(repo repository) *Store {
	return &Store{
		repo:      repo,
		byAccount: make(map[AccountKey][]*types.Subscription),
	}
}

func keyOf(account *swarmpubkey.Account) AccountKey {
	var k AccountKey
	copy(k[:], account.ID())
	return k
}

// LoadAll 从持久化仓库恢复所有未过期记录，构建内存索引。
func (s *Store) LoadAll(now time.Time) error {
	rows, err := s.repo.LoadAll(types.SignatureExpiry, now)
	if err != nil {
		return fmt.Errorf("subs: load all: %w", err)
	}
	for _, sub := range rows {
		k := keyOf(sub.Account)
		s.byAccount[k] = append(s.byAccount[k], sub)
	}
	logger.Info("loaded subscriptions from persistence", "count", len(rows))
	return nil
}

// ForAccount 返回某账户当前所有有效（未过期）的订阅。调用方须已持有协调器锁。
func (s *Store) ForAccount(account *swarmpubkey.Account, now time.Time) []*types.Subscription {
	k := keyOf(account)
	all := s.byAccount[k]
	out := make([]*types.Subscription, 0, len(all))
	for _, sub := range all {
		if !sub.IsExpired(now) {
			out = append(out, sub)
		}
	}
	return out
}

// AccountByID 按原始账户 ID 查找一个已持有订阅记录的账户对象（取自其首条
// 订阅），供处理服务节点投递的 notify.message 时按 ID 匹配已知账户使用——
// 该场景下无需重新提供/校验 session_ed25519，因为这不是一次新的订阅请求。
func (s *Store) AccountByID(id []byte) (*swarmpubkey.Account, bool) {
	var k AccountKey
	copy(k[:], id)
	subs, ok := s.byAccount[k]
	if !ok || len(subs) == 0 {
		return nil, false
	}
	return subs[0].Account, true
}

// HasAccount 报告该账户当前是否存在任何记录（用于决定是否需要新建 swarm 归属）。
func (s *Store) HasAccount(account *swarmpubkey.Account) bool {
	_, ok := s.byAccount[keyOf(account)]
	return ok
}

// AddSubscription 持久化并索引一条新订阅，实现覆盖规则（spec.md §4.2）。
//
// 调用方必须已经调用 sub.ValidateFields 与 sub.VerifySignature；本方法只负责
// 存储层语义（新建/替换/覆盖判定），不重复做字段/签名校验。
func (s *Store) AddSubscription(sub *types.Subscription) (Outcome, error) {
	k := keyOf(sub.Account)
	existing := s.byAccount[k]
	newKey := sub.SubscriptionKey()

	for i, old := range existing {
		if old.SubscriptionKey() != newKey {
			continue
		}
		if old.Covers(sub) && old.IsNewer(sub) {
			// 已有订阅已经覆盖本次请求且不更旧：只刷新签名/时间戳，不做扇出。
			old.SigTS = sub.SigTS
			old.Signature = sub.Signature
			if err := s.repo.Upsert(old); err != nil {
				return 0, fmt.Errorf("subs: persist covered refresh: %w", err)
			}
			return Covered, nil
		}

		existing[i] = sub
		if err := s.repo.Upsert(sub); err != nil {
			return 0, fmt.Errorf("subs: persist update: %w", err)
		}
		return Updated, nil
	}

	s.byAccount[k] = append(existing, sub)
	if err := s.repo.Upsert(sub); err != nil {
		return 0, fmt.Errorf("subs: persist insert: %w", err)
	}
	return Added, nil
}

// RemoveSubscription 删除一条匹配 (account, service, serviceID) 的订阅。
// 返回 true 当确有记录被移除。
func (s *Store) RemoveSubscription(account *swarmpubkey.Account, service, serviceID string) (bool, error) {
	k := keyOf(account)
	existing := s.byAccount[k]
	for i, old := range existing {
		if old.Service != service || old.ServiceID != serviceID {
			continue
		}
		s.byAccount[k] = append(existing[:i], existing[i+1:]...)
		if err := s.repo.Delete(account.ID(), service, serviceID); err != nil {
			return false, fmt.Errorf("subs: persist delete: %w", err)
		}
		return true, nil
	}
	return false, nil
}

// RemoveAllForService 删除某账户在给定服务下的全部订阅（不区分 service_id）。
// 客户端 unsubscribe 请求不携带 service_id（spec.md §6），因此以 (account,
// service) 为粒度整体移除，返回是否确有记录被移除。
func (s *Store) RemoveAllForService(account *swarmpubkey.Account, service string) (bool, error) {
	k := keyOf(account)
	existing := s.byAccount[k]
	removedAny := false

	kept := existing[:0]
	for _, old := range existing {
		if old.Service != service {
			kept = append(kept, old)
			continue
		}
		if err := s.repo.Delete(account.ID(), service, old.ServiceID); err != nil {
			return removedAny, fmt.Errorf("subs: persist delete: %w", err)
		}
		removedAny = true
	}
	s.byAccount[k] = kept
	return removedAny, nil
}

// ExpireOld 清除所有已过期的订阅，返回清除数量。
func (s *Store) ExpireOld(now time.Time) (int, error) {
	if _, err := s.repo.ExpireOld(types.SignatureExpiry, now); err != nil {
		return 0, fmt.Errorf("subs: expire old: %w", err)
	}
	removed := 0
	for k, subs := range s.byAccount {
		kept := subs[:0]
		for _, sub := range subs {
			if !sub.IsExpired(now) {
				kept = append(kept, sub)
			} else {
				removed++
			}
		}
		if len(kept) == 0 {
			delete(s.byAccount, k)
		} else {
			s.byAccount[k] = kept
		}
	}
	return removed, nil
}

// Accounts 返回当前持有记录的所有账户标识符（admin.get_stats 用它统计账户数）。
func (s *Store) Accounts() []AccountKey {
	out := make([]AccountKey, 0, len(s.byAccount))
	for k := range s.byAccount {
		out = append(out, k)
	}
	return out
}

// AccountObjects 返回每个持有记录的账户的 *swarmpubkey.Account（取自其首条订阅），
// 供拓扑刷新时对每个账户调用 UpdateSwarm。
func (s *Store) AccountObjects() []*swarmpubkey.Account {
	out := make([]*swarmpubkey.Account, 0, len(s.byAccount))
	for _, subs := range s.byAccount {
		if len(subs) > 0 {
			out = append(out, subs[0].Account)
		}
	}
	return out
}

// Count 返回当前索引的订阅总数，供 admin.get_stats 使用。
func (s *Store) Count() int {
	n := 0
	for _, subs := range s.byAccount {
		n += len(subs)
	}
	return n
}
