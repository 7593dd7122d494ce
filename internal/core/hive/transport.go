package hive

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oxen-io/session-push-notification-server/pkg/types"
)

// Conn 是到一个服务节点的已建立连接，提供请求-应答语义。
type Conn interface {
	// Request 发送一个具名 RPC 及其 bencode 负载，返回对端应答的原始负载。
	Request(ctx context.Context, method string, payload []byte) ([]byte, error)
	Close() error
}

// Transport 抽象到服务节点的连接建立过程，便于在测试中替换为内存实现。
type Transport interface {
	Dial(ctx context.Context, addr types.ServiceNodeAddr) (Conn, error)
}

// WSTransport 基于 gorilla/websocket 的传输实现，替代语料库中没有 Go 绑定的
// OxenMQ/zmq 连接。每次 Request 在同一条连接上顺序收发一帧。
type WSTransport struct {
	DialTimeout time.Duration
}

// Dial 建立到服务节点的 websocket 连接。
func (t *WSTransport) Dial(ctx context.Context, addr types.ServiceNodeAddr) (Conn, error) {
	u := url.URL{Scheme: "wss", Host: fmt.Sprintf("%s:%d", addr.Host, addr.Port), Path: "/oxenmq"}
	dialer := websocket.Dialer{HandshakeTimeout: t.DialTimeout}
	c, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("hive: dial %s: %w", addr.String(), err)
	}
	return &wsConn{ws: c}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

// rpcFrame 是在一条 websocket 连接上传输的最小 RPC 信封：方法名 + bencode 负载。
// Compressed 标记负载是否经过 zstd 压缩（大批量订阅请求场景，见 compress.go）。
type rpcFrame struct {
	Method     string `json:"method"`
	Payload    []byte `json:"payload"`
	Compressed bool   `json:"compressed,omitempty"`
}

func (c *wsConn) Request(ctx context.Context, method string, payload []byte) ([]byte, error) {
	body, compressed, err := maybeCompress(payload)
	if err != nil {
		return nil, err
	}
	if err := c.ws.WriteJSON(rpcFrame{Method: method, Payload: body, Compressed: compressed}); err != nil {
		return nil, fmt.Errorf("hive: write %s: %w", method, err)
	}
	_, reply, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("hive: read reply to %s: %w", method, err)
	}
	return reply, nil
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
