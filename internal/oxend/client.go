// Package oxend 实现一个面向 Oxen 守护进程的瘦客户端
//
// 提供两个端点：get_service_nodes（拉取当前活跃服务节点及其 swarm 归属）与
// sub.block（订阅新区块通知）。对应 spec.md §4.1/§4.7。语料库中没有 OxenMQ/zmq
// 的 Go 绑定，沿用 internal/core/hive 已经确立的 gorilla/websocket 替代方案。
package oxend

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oxen-io/session-push-notification-server/internal/core/topology"
	"github.com/oxen-io/session-push-notification-server/pkg/lib/log"
)

var logger = log.Logger("oxend")

// BlockNotification 是 sub.block 推送的一条区块通知。
type BlockNotification struct {
	Hash   string
	Height int64
}

// Conn 是到守护进程的一条活跃连接。
type Conn interface {
	// GetServiceNodes 拉取当前活跃服务节点列表。
	GetServiceNodes(ctx context.Context) ([]topology.NodeInfo, error)
	// SubscribeBlocks 建立 sub.block 订阅，返回的 channel 在连接关闭时被关闭。
	SubscribeBlocks(ctx context.Context) (<-chan BlockNotification, error)
	Close() error
}

// Client 是 Oxen 守护进程 RPC 地址的客户端工厂。
type Client struct {
	addr        string
	dialTimeout time.Duration
}

// New 构造一个客户端。addr 是 config.HivemindConfig.OxendRPC 给出的地址。
func New(addr string, dialTimeout time.Duration) *Client {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &Client{addr: addr, dialTimeout: dialTimeout}
}

// Dial 建立一条到守护进程的新连接。
func (c *Client) Dial(ctx context.Context) (Conn, error) {
	u, err := url.Parse(c.addr)
	if err != nil {
		return nil, fmt.Errorf("oxend: parse rpc address %q: %w", c.addr, err)
	}
	dialer := websocket.Dialer{HandshakeTimeout: c.dialTimeout}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("oxend: dial %s: %w", c.addr, err)
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

type rpcRequest struct {
	Method string `json:"method"`
}

type serviceNodeEntry struct {
	Pubkey string `json:"pubkey_x25519"`
	IP     string `json:"public_ip"`
	Port   uint16 `json:"storage_omq_port"`
	Swarm  uint64 `json:"swarm_id"`
}

type getServiceNodesReply struct {
	ServiceNodeStates []serviceNodeEntry `json:"service_node_states"`
}

// GetServiceNodes 发送 get_service_nodes 请求并等待一次应答。
func (c *wsConn) GetServiceNodes(ctx context.Context) ([]topology.NodeInfo, error) {
	if err := c.ws.WriteJSON(rpcRequest{Method: "get_service_nodes"}); err != nil {
		return nil, fmt.Errorf("oxend: write get_service_nodes: %w", err)
	}

	type result struct {
		reply getServiceNodesReply
		err   error
	}
	done := make(chan result, 1)
	go func() {
		var reply getServiceNodesReply
		err := c.ws.ReadJSON(&reply)
		done <- result{reply: reply, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("oxend: read get_service_nodes reply: %w", r.err)
		}
		out := make([]topology.NodeInfo, 0, len(r.reply.ServiceNodeStates))
		for _, e := range r.reply.ServiceNodeStates {
			out = append(out, topology.NodeInfo{
				Pubkey: e.Pubkey,
				Host:   e.IP,
				Port:   e.Port,
				Swarm:  e.Swarm,
			})
		}
		return out, nil
	}
}

type blockNotice struct {
	Hash   string `json:"hash"`
	Height int64  `json:"height"`
}

// SubscribeBlocks 发送一次 sub.block 请求，随后持续读取守护进程推送的区块通知。
// 返回的 channel 在读取出错或连接关闭时被关闭；调用方应在读到关闭后重新 Dial。
func (c *wsConn) SubscribeBlocks(ctx context.Context) (<-chan BlockNotification, error) {
	if err := c.ws.WriteJSON(rpcRequest{Method: "sub.block"}); err != nil {
		return nil, fmt.Errorf("oxend: write sub.block: %w", err)
	}

	out := make(chan BlockNotification, 16)
	go func() {
		defer close(out)
		for {
			var notice blockNotice
			if err := c.ws.ReadJSON(&notice); err != nil {
				if ctx.Err() == nil {
					logger.Warn("sub.block read failed, connection will be redialed", "err", err)
				}
				return
			}
			select {
			case out <- BlockNotification{Hash: notice.Hash, Height: notice.Height}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
