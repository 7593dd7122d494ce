// Package router 实现 RequestRouter：核心对外暴露的已鉴权 RPC 表面
//
// 对应 spec.md §4.6：subscribe/unsubscribe（客户端）、notify.block/notify.message
// （服务节点投递）运行在主监听地址 hivemind.listen 上；admin.service_stats/
// admin.get_stats（受信管理端）运行在独立的 hivemind.listen_curve_admin 上，
// 由 curve 公钥白名单网关控制。通知器工作进程的注册走 internal/core/notify.Listener
// 专用的长连接端点（hivemind.listen_curve），不经过本包的请求/应答式处理器。
package router

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/minio/sha256-simd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/oxen-io/session-push-notification-server/config"
	"github.com/oxen-io/session-push-notification-server/internal/core/coordinator"
	"github.com/oxen-io/session-push-notification-server/internal/core/subs"
	"github.com/oxen-io/session-push-notification-server/pkg/lib/log"
)

var logger = log.Logger("router")

// Server 承载 RequestRouter 的主监听与 admin 监听两个 http.Server。
type Server struct {
	hivemind    *coordinator.Hivemind
	store       *subs.Store
	registry    *prometheus.Registry
	startupWait time.Duration
	clock       func() time.Time

	allowlist func(pubkey []byte) bool

	main  *http.Server
	admin *http.Server
}

// NewServer 构造一个 RequestRouter。
func NewServer(cfg *config.Config, hm *coordinator.Hivemind, store *subs.Store, registry *prometheus.Registry) *Server {
	s := &Server{
		hivemind:    hm,
		store:       store,
		registry:    registry,
		startupWait: cfg.Hivemind.StartupWait.Duration(),
		clock:       time.Now,
		allowlist:   cfg.Keys.IsAdminAllowed,
	}

	mainMux := http.NewServeMux()
	mainMux.HandleFunc("/subscribe", s.gated(s.handleSubscribe))
	mainMux.HandleFunc("/unsubscribe", s.gated(s.handleUnsubscribe))
	mainMux.HandleFunc("/notify/block", s.gated(s.handleNotifyBlock))
	mainMux.HandleFunc("/notify/message", s.gated(s.handleNotifyMessage))
	s.main = &http.Server{
		Addr:         cfg.Hivemind.Listen,
		Handler:      mainMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	adminMux := http.NewServeMux()
	adminMux.HandleFunc("/admin/service_stats", s.adminAuth(s.handleAdminServiceStats))
	adminMux.HandleFunc("/admin/get_stats", s.adminAuth(s.handleAdminGetStats))
	adminMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s.admin = &http.Server{
		Addr:         cfg.Hivemind.ListenCurveAdmin,
		Handler:      h2c.NewHandler(adminMux, &http2.Server{}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.logAllowlistFingerprint(cfg)
	return s
}

// gated 包裹客户端/服务节点端点：在 notifiers-ready 门控关闭前阻塞（spec.md §4.6）。
func (s *Server) gated(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.waitNotifiersReady(r.Context())
		h(w, r)
	}
}

// adminAuth 要求来访连接携带的 curve 公钥出现在 keys.admin_allowlist 中
// （spec.md §6）。真实部署中公钥来自传输层握手；这里通过一个固定请求头传递，
// 与 notifier/服务节点连接使用相同的 curve 身份约定。
func (s *Server) adminAuth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pubHex := r.Header.Get("X-Curve-Pubkey")
		pubkey, err := decodeBytes(pubHex)
		if err != nil || !s.allowlist(pubkey) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		h(w, r)
	}
}

// logAllowlistFingerprint 记录一次 admin 白名单的聚合指纹，便于运维核对部署
// 是否生效，而不在日志中打印完整公钥列表。
func (s *Server) logAllowlistFingerprint(cfg *config.Config) {
	allow, err := cfg.Keys.AdminAllowlistBytes()
	if err != nil {
		logger.Warn("failed to decode admin allowlist", "err", err)
		return
	}
	h := sha256.New()
	for _, pk := range allow {
		h.Write(pk)
	}
	logger.Info("admin allowlist loaded", "count", len(allow), "fingerprint", fmt.Sprintf("%x", h.Sum(nil)))
}

// Start 启动主监听与 admin 监听，非阻塞（各自在独立 goroutine 中 Serve）。
func (s *Server) Start(ctx context.Context) error {
	mainLn, err := net.Listen("tcp", s.main.Addr)
	if err != nil {
		return fmt.Errorf("router: listen %s: %w", s.main.Addr, err)
	}
	go func() {
		if err := s.main.Serve(mainLn); err != nil && err != http.ErrServerClosed {
			logger.Error("main listener stopped", "err", err)
		}
	}()

	adminLn, err := net.Listen("tcp", s.admin.Addr)
	if err != nil {
		mainLn.Close()
		return fmt.Errorf("router: listen %s: %w", s.admin.Addr, err)
	}
	go func() {
		if err := s.admin.Serve(adminLn); err != nil && err != http.ErrServerClosed {
			logger.Error("admin listener stopped", "err", err)
		}
	}()

	logger.Info("request router started", "listen", s.main.Addr, "listen_admin", s.admin.Addr)
	return nil
}

// Stop 优雅关闭两个监听器。
func (s *Server) Stop(ctx context.Context) error {
	var errMain, errAdmin error
	if s.main != nil {
		errMain = s.main.Shutdown(ctx)
	}
	if s.admin != nil {
		errAdmin = s.admin.Shutdown(ctx)
	}
	if errMain != nil {
		return errMain
	}
	return errAdmin
}
