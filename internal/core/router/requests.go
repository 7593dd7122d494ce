package router

import (
	"encoding/json"
	"time"

	"github.com/oxen-io/session-push-notification-server/pkg/sig"
	"github.com/oxen-io/session-push-notification-server/pkg/swarmpubkey"
	"github.com/oxen-io/session-push-notification-server/pkg/types"
)

// subscribeRequest 对应 spec.md §6 的客户端 subscribe 请求体。
type subscribeRequest struct {
	Pubkey         string          `json:"pubkey"`
	SessionEd25519 string          `json:"session_ed25519,omitempty"`
	SubkeyTag      string          `json:"subkey_tag,omitempty"`
	Namespaces     []int16         `json:"namespaces"`
	Data           bool            `json:"data"`
	SigTS          int64           `json:"sig_ts"`
	Signature      string          `json:"signature"`
	Service        string          `json:"service"`
	ServiceInfo    json.RawMessage `json:"service_info"`
	EncKey         string          `json:"enc_key"`
}

// unsubscribeRequest 对应 spec.md §6 的客户端 unsubscribe 请求体：
// 字段集是 subscribeRequest 去掉 namespaces/data/enc_key/service_info。
type unsubscribeRequest struct {
	Pubkey         string `json:"pubkey"`
	SessionEd25519 string `json:"session_ed25519,omitempty"`
	SubkeyTag      string `json:"subkey_tag,omitempty"`
	SigTS          int64  `json:"sig_ts"`
	Signature      string `json:"signature"`
	Service        string `json:"service"`
}

// successResponse 是 subscribe/unsubscribe 成功时的响应体。
type successResponse struct {
	Success bool   `json:"success"`
	Added   bool   `json:"added,omitempty"`
	Updated bool   `json:"updated,omitempty"`
	Removed bool   `json:"removed,omitempty"`
	Message string `json:"message,omitempty"`
}

// errorResponse 是失败时的响应体（spec.md §7 的错误码分类）。
type errorResponse struct {
	Error   types.ResultCode `json:"error"`
	Message string           `json:"message"`
}

// toAccount 从请求字段构造账户对象，对应 spec.md §3 的账户标识规则。
func (r *subscribeRequest) toAccount() (*swarmpubkey.Account, error) {
	id, err := decodeBytes(r.Pubkey)
	if err != nil {
		return nil, err
	}
	var ed25519 []byte
	if r.SessionEd25519 != "" {
		ed25519, err = decodeBytes(r.SessionEd25519)
		if err != nil {
			return nil, err
		}
	}
	return swarmpubkey.New(id, ed25519)
}

// toSubscription 把请求体转换为领域对象；调用方随后需要调用
// sub.ValidateFields 与 sub.VerifySignature。
func (r *subscribeRequest) toSubscription(account *swarmpubkey.Account) (*types.Subscription, error) {
	subkeyTag, err := decodeBytes(r.SubkeyTag)
	if err != nil {
		return nil, err
	}
	signature, err := decodeBytes(r.Signature)
	if err != nil {
		return nil, err
	}
	encKey, err := decodeBytes(r.EncKey)
	if err != nil {
		return nil, err
	}
	return &types.Subscription{
		Account:    account,
		SubkeyTag:  subkeyTag,
		Namespaces: r.Namespaces,
		WantData:   r.Data,
		SigTS:      r.SigTS,
		Signature:  signature,
		EncKey:     encKey,
		Service:    r.Service,
	}, nil
}

func (r *unsubscribeRequest) toAccount() (*swarmpubkey.Account, error) {
	id, err := decodeBytes(r.Pubkey)
	if err != nil {
		return nil, err
	}
	var ed25519 []byte
	if r.SessionEd25519 != "" {
		ed25519, err = decodeBytes(r.SessionEd25519)
		if err != nil {
			return nil, err
		}
	}
	return swarmpubkey.New(id, ed25519)
}

// verify 校验取消订阅请求的签名及 sig_ts 容差（spec.md §6：±86,400s）。
func (r *unsubscribeRequest) verify(account *swarmpubkey.Account, now time.Time) error {
	if r.SigTS == 0 {
		return types.ErrBadSigTS
	}
	delta := now.Unix() - r.SigTS
	if delta > int64(types.UnsubscribeGrace/time.Second) || delta < -int64(types.UnsubscribeGrace/time.Second) {
		return types.ErrBadSigTS
	}
	signature, err := decodeBytes(r.Signature)
	if err != nil {
		return err
	}
	subkeyTag, err := decodeBytes(r.SubkeyTag)
	if err != nil {
		return err
	}
	msg := sig.UnsubscribeMessage(account.ID(), r.SigTS)
	return sig.Verify(msg, signature, account.Ed25519Pubkey(), subkeyTag)
}
