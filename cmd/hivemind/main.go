// Command hivemind 启动 Session 推送通知中继的核心协调进程。
//
// 用法：
//
//	hivemind -config /etc/hivemind/hivemind.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pbnjay/memory"
	"github.com/raulk/go-watchdog"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/oxen-io/session-push-notification-server/config"
	"github.com/oxen-io/session-push-notification-server/internal/core/blockwatch"
	"github.com/oxen-io/session-push-notification-server/internal/core/coordinator"
	"github.com/oxen-io/session-push-notification-server/internal/core/dedup"
	"github.com/oxen-io/session-push-notification-server/internal/core/hive"
	"github.com/oxen-io/session-push-notification-server/internal/core/metrics"
	"github.com/oxen-io/session-push-notification-server/internal/core/notify"
	"github.com/oxen-io/session-push-notification-server/internal/core/router"
	"github.com/oxen-io/session-push-notification-server/internal/core/subs"
	"github.com/oxen-io/session-push-notification-server/internal/core/topology"
	"github.com/oxen-io/session-push-notification-server/internal/oxend"
	"github.com/oxen-io/session-push-notification-server/internal/persist"
	"github.com/oxen-io/session-push-notification-server/pkg/lib/log"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "hivemind: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/hivemind/hivemind.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	raiseFileLimit()
	startWatchdog()

	zapLogger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build zap logger: %w", err)
	}
	defer zapLogger.Sync()

	app := fx.New(
		fx.Supply(cfg),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l}
		}),
		persist.Module(),
		subs.Module(),
		dedup.Module(),
		topology.Module(),
		metrics.Module(),
		oxend.Module(),
		hive.Module(),
		notify.Module(),
		blockwatch.Module(),
		coordinator.Module(),
		router.Module(),
	)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("start fx app: %w", err)
	}

	logger := log.Logger("hivemind")
	logger.Info("hivemind started", "listen", cfg.Hivemind.Listen)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	sig := <-sigCh
	logger.Info("received shutdown signal, draining", "signal", sig.String())

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop fx app: %w", err)
	}

	logger.Info("hivemind stopped cleanly")
	return nil
}

// startWatchdog 启动一个系统内存驱动的看门狗：当进程常驻连接数（每活跃服务节点
// 一条）逼近可用内存时主动触发 GC，而不是等待 OOM killer。
func startWatchdog() {
	limit := uint64(float64(memory.TotalMemory()) * 0.85)
	err := watchdog.SystemDriven(limit, 15*time.Second, watchdog.NewAdaptivePolicy(0.5))
	if err != nil {
		log.Logger("hivemind").Warn("heap watchdog unavailable", "err", err)
	}
}
