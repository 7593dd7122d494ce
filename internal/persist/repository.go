package persist

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/oxen-io/session-push-notification-server/pkg/lib/log"
	"github.com/oxen-io/session-push-notification-server/pkg/swarmpubkey"
	"github.com/oxen-io/session-push-notification-server/pkg/types"
)

var logger = log.Logger("persist")

// Repository 是订阅的关系型持久化仓库，封装对 subscriptions/sub_namespaces
// 两张表的原子写入。
type Repository struct {
	db *gorm.DB
}

// Open 连接数据库并执行必要的迁移。
func Open(dsn string) (*Repository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("persist: connect: %w", err)
	}
	if err := db.AutoMigrate(&SubscriptionRow{}, &SubNamespaceRow{}); err != nil {
		return nil, fmt.Errorf("persist: migrate: %w", err)
	}
	return &Repository{db: db}, nil
}

// Close 释放底层连接池。
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Upsert 原子地插入或更新一条订阅记录及其命名空间列表，遵循 (account, service,
// svcid) 唯一约束的覆盖写语义（spec.md §6 迁移要求）。
func (r *Repository) Upsert(sub *types.Subscription) error {
	row := toRow(sub)

	return r.db.Transaction(func(tx *gorm.DB) error {
		var existing SubscriptionRow
		err := tx.Where("account = ? AND service = ? AND svcid = ?", row.Account, row.Service, row.SvcID).
			First(&existing).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("persist: insert subscription: %w", err)
			}
		case err != nil:
			return fmt.Errorf("persist: lookup subscription: %w", err)
		default:
			row.ID = existing.ID
			if err := tx.Model(&existing).Select(
				"session_ed25519", "subkey_tag", "signature", "signature_ts",
				"want_data", "enc_key", "svcdata",
			).Updates(row).Error; err != nil {
				return fmt.Errorf("persist: update subscription: %w", err)
			}
			if err := tx.Where("subscription = ?", row.ID).Delete(&SubNamespaceRow{}).Error; err != nil {
				return fmt.Errorf("persist: clear namespaces: %w", err)
			}
		}

		for _, ns := range sub.Namespaces {
			if err := tx.Create(&SubNamespaceRow{Subscription: row.ID, Namespace: ns}).Error; err != nil {
				return fmt.Errorf("persist: insert namespace: %w", err)
			}
		}
		return nil
	})
}

// Delete 移除一条订阅及其命名空间行。
func (r *Repository) Delete(account []byte, service, svcID string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var row SubscriptionRow
		err := tx.Where("account = ? AND service = ? AND svcid = ?", account, service, svcID).
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("persist: lookup subscription: %w", err)
		}
		if err := tx.Where("subscription = ?", row.ID).Delete(&SubNamespaceRow{}).Error; err != nil {
			return fmt.Errorf("persist: delete namespaces: %w", err)
		}
		return tx.Delete(&row).Error
	})
}

// LoadAll 恢复所有未过期的订阅记录，供启动时重建 SubscriptionStore 使用。
func (r *Repository) LoadAll(expiry time.Duration, now time.Time) ([]*types.Subscription, error) {
	floor := now.Add(-expiry).Unix()

	var rows []SubscriptionRow
	if err := r.db.Preload("Namespaces", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("namespace ASC")
	}).Where("signature_ts >= ?", floor).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("persist: load all: %w", err)
	}

	out := make([]*types.Subscription, 0, len(rows))
	for _, row := range rows {
		sub, err := fromRow(row)
		if err != nil {
			logger.Warn("skipping unloadable subscription row", "id", row.ID, "err", err)
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

// ExpireOld 删除所有 signature_ts + expiry < now 的记录，返回删除行数。
func (r *Repository) ExpireOld(expiry time.Duration, now time.Time) (int64, error) {
	floor := now.Add(-expiry).Unix()

	var ids []uint64
	if err := r.db.Model(&SubscriptionRow{}).Where("signature_ts < ?", floor).Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("persist: find expired: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("subscription IN ?", ids).Delete(&SubNamespaceRow{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&SubscriptionRow{}).Error
	})
	if err != nil {
		return 0, fmt.Errorf("persist: expire old: %w", err)
	}
	return int64(len(ids)), nil
}

func toRow(sub *types.Subscription) SubscriptionRow {
	row := SubscriptionRow{
		Account:     sub.Account.ID(),
		SubkeyTag:   sub.SubkeyTag,
		Signature:   sub.Signature,
		SignatureTS: sub.SigTS,
		WantData:    sub.WantData,
		EncKey:      sub.EncKey,
		Service:     sub.Service,
		SvcID:       sub.ServiceID,
		SvcData:     sub.ServiceData,
	}
	if sub.Account.ID()[0] == swarmpubkey.SessionPrefix {
		row.SessionEd25519 = sub.Account.Ed25519Pubkey()
	}
	return row
}

func fromRow(row SubscriptionRow) (*types.Subscription, error) {
	account, err := swarmpubkey.New(row.Account, row.SessionEd25519)
	if err != nil {
		return nil, fmt.Errorf("rebuild account: %w", err)
	}

	namespaces := make([]int16, len(row.Namespaces))
	for i, ns := range row.Namespaces {
		namespaces[i] = ns.Namespace
	}

	return &types.Subscription{
		Account:     account,
		SubkeyTag:   row.SubkeyTag,
		Namespaces:  namespaces,
		WantData:    row.WantData,
		SigTS:       row.SignatureTS,
		Signature:   row.Signature,
		EncKey:      row.EncKey,
		Service:     row.Service,
		ServiceID:   row.SvcID,
		ServiceData: row.SvcData,
	}, nil
}
