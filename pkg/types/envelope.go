package types

import "github.com/oxen-io/session-push-notification-server/pkg/bencode"

// PushEnvelope 是 Hive 交给 NotifierBus、再由 NotifierBus 转发给具名通知器的
// notifier.push 消息（spec §6 bencode 字典）。
type PushEnvelope struct {
	Service    string // '' — 服务名
	SvcID      []byte // & — 供应商侧设备/应用标识
	SvcData    []byte // ! — 可选，通知器提供的不透明数据
	EncKey     []byte // ^ — 32 字节
	MsgHash    []byte // # — 消息哈希，用作去重键
	AccountID  []byte // @ — 33 字节
	Namespace  int16  // n
	Timestamp  int64  // t — 消息时间戳
	Expiry     int64  // z — 过期时间戳
	Body       []byte // ~ — 可选，want_data 为 false 时省略
	HasBody    bool
	HasSvcData bool
}

// Marshal 将推送信封编码为 bencode 字典，字段名对应 spec §6 表格中的单字符键。
func (e *PushEnvelope) Marshal() ([]byte, error) {
	d := bencode.Dict{
		"":  []byte(e.Service),
		"&": e.SvcID,
		"^": e.EncKey,
		"#": e.MsgHash,
		"@": e.AccountID,
		"n": int64(e.Namespace),
		"t": e.Timestamp,
		"z": e.Expiry,
	}
	if e.HasSvcData {
		d["!"] = e.SvcData
	}
	if e.HasBody {
		d["~"] = e.Body
	}
	return bencode.Marshal(d)
}
