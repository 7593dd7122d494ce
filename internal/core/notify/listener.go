package notify

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oxen-io/session-push-notification-server/pkg/lib/log"
)

var listenerLogger = log.Logger("notify-listener")

// RegisterFunc 是新注册的通知器连接的处理回调；通常绑定到协调器的
// RegisterService，以便同时打开"通知器就绪"闸门。
type RegisterFunc func(name string, conn ServiceConn)

type registerFrame struct {
	Method string `json:"method"`
	Name   string `json:"name"`
}

// Listener 在 `hivemind.listen_curve` 地址上接受通知器工作进程的连接：每条新
// 连接的第一帧必须是 `{"method":"admin.register_service","name":"..."}`，此后
// 该连接成为该服务名的 ServiceConn。
type Listener struct {
	addr     string
	register RegisterFunc
	upgrader websocket.Upgrader

	mu     sync.Mutex
	server *http.Server
}

// NewListener 构造一个监听器。
func NewListener(addr string, register RegisterFunc) *Listener {
	return &Listener{addr: addr, register: register}
}

// Start 启动监听；非阻塞。
func (l *Listener) Start(context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/notifier", l.handleConnect)

	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("notify: listen %s: %w", l.addr, err)
	}

	l.mu.Lock()
	l.server = &http.Server{Handler: mux, ReadTimeout: 30 * time.Second}
	l.mu.Unlock()

	go func() {
		if err := l.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			listenerLogger.Error("notifier listener exited", "err", err)
		}
	}()
	listenerLogger.Info("notifier listener started", "addr", l.addr)
	return nil
}

// Stop 优雅关闭监听器。
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	server := l.server
	l.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (l *Listener) handleConnect(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		listenerLogger.Warn("notifier websocket upgrade failed", "err", err)
		return
	}

	var frame registerFrame
	if err := ws.ReadJSON(&frame); err != nil {
		listenerLogger.Warn("notifier registration frame read failed", "err", err)
		_ = ws.Close()
		return
	}
	if frame.Method != "admin.register_service" || frame.Name == "" {
		listenerLogger.Warn("notifier connection sent unexpected first frame", "method", frame.Method)
		_ = ws.Close()
		return
	}

	conn := NewWSServiceConn(ws)
	l.register(frame.Name, conn)
}
