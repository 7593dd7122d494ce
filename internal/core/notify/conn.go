package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/oxen-io/session-push-notification-server/pkg/bencode"
)

// wsServiceConn 是 ServiceConn 基于 gorilla/websocket 的实现：单条连接上顺序
// 收发 validate 往返和 fire-and-forget 的 push 帧。
type wsServiceConn struct {
	ws *websocket.Conn
}

// NewWSServiceConn 包装一条已建立的 websocket 连接为 ServiceConn。
func NewWSServiceConn(ws *websocket.Conn) ServiceConn {
	return &wsServiceConn{ws: ws}
}

type validateFrame struct {
	Kind          string          `json:"kind"`
	CorrelationID string          `json:"correlation_id"`
	Service       string          `json:"service"`
	ServiceInfo   json.RawMessage `json:"service_info"`
}

type validateReply struct {
	CorrelationID string `json:"correlation_id"`
	Code          int    `json:"code"`
	SvcID         string `json:"svc_id,omitempty"`
	SvcData       []byte `json:"svc_data,omitempty"`
	Message       string `json:"message,omitempty"`
}

func (c *wsServiceConn) Validate(ctx context.Context, correlationID string, kind ValidateKind, serviceInfo json.RawMessage) (int, string, []byte, string, error) {
	frame := validateFrame{Kind: string(kind), CorrelationID: correlationID, ServiceInfo: serviceInfo}
	if err := c.ws.WriteJSON(frame); err != nil {
		return 0, "", nil, "", fmt.Errorf("notify: write validate: %w", err)
	}

	type result struct {
		reply validateReply
		err   error
	}
	done := make(chan result, 1)
	go func() {
		var reply validateReply
		err := c.ws.ReadJSON(&reply)
		done <- result{reply: reply, err: err}
	}()

	select {
	case <-ctx.Done():
		return 0, "", nil, "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			return 0, "", nil, "", fmt.Errorf("notify: read validate reply: %w", r.err)
		}
		return r.reply.Code, r.reply.SvcID, r.reply.SvcData, r.reply.Message, nil
	}
}

type pushFrame struct {
	Kind    string `json:"kind"`
	Payload []byte `json:"payload"`
}

func (c *wsServiceConn) Push(envelope []byte) error {
	if err := c.ws.WriteJSON(pushFrame{Kind: "push", Payload: envelope}); err != nil {
		return fmt.Errorf("notify: write push: %w", err)
	}
	return nil
}

func (c *wsServiceConn) Close() error {
	return c.ws.Close()
}

// decodeServiceStats 解析 admin.service_stats 的 bencode 字典负载。
func decodeServiceStats(payload []byte) (map[string]any, error) {
	v, err := bencode.Unmarshal(payload)
	if err != nil {
		return nil, fmt.Errorf("notify: decode service stats: %w", err)
	}
	dict, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("notify: service stats payload is not a dict")
	}
	return dict, nil
}
