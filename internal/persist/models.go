// Package persist 实现 SubscriptionStore 的关系型持久化
//
// 模式对应 spec.md §4.2/§6: subscriptions(id, account, session_ed25519,
// subkey_tag, signature, signature_ts, want_data, enc_key, service, svcid,
// svcdata) 与 sub_namespaces(subscription, namespace)，唯一键
// (account, service, svcid)，sub_namespaces 在命名空间变化时整体原子替换。
package persist

// SubscriptionRow 对应 subscriptions 表的一行。
type SubscriptionRow struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	Account       []byte `gorm:"type:bytea;not null;uniqueIndex:idx_account_service_svcid"`
	SessionEd25519 []byte `gorm:"type:bytea"`
	SubkeyTag     []byte `gorm:"type:bytea"`
	Signature     []byte `gorm:"type:bytea;not null"`
	SignatureTS   int64  `gorm:"not null"`
	WantData      bool   `gorm:"not null"`
	EncKey        []byte `gorm:"type:bytea;not null"`
	Service       string `gorm:"not null;uniqueIndex:idx_account_service_svcid"`
	SvcID         string `gorm:"column:svcid;not null;uniqueIndex:idx_account_service_svcid"`
	SvcData       []byte `gorm:"column:svcdata;type:bytea"`

	Namespaces []SubNamespaceRow `gorm:"foreignKey:Subscription;references:ID"`
}

// TableName 固定表名，避免 gorm 默认复数化规则产生意外变化。
func (SubscriptionRow) TableName() string { return "subscriptions" }

// SubNamespaceRow 对应 sub_namespaces 表的一行。
type SubNamespaceRow struct {
	Subscription uint64 `gorm:"primaryKey"`
	Namespace    int16  `gorm:"primaryKey"`
}

// TableName 固定表名。
func (SubNamespaceRow) TableName() string { return "sub_namespaces" }
