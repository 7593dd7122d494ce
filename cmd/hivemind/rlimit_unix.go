//go:build unix

package main

import (
	"golang.org/x/sys/unix"

	"github.com/oxen-io/session-push-notification-server/pkg/lib/log"
)

// raiseFileLimit 把 RLIMIT_NOFILE 提升到其硬上限，覆盖 spec.md §5 提到的
// 每活跃服务节点一条连接（常见 1,500–2,500）的场景。失败时记录并继续，
// 以降级的连接覆盖度运行。
func raiseFileLimit() {
	logger := log.Logger("hivemind")

	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		logger.Warn("getrlimit failed", "err", err)
		return
	}

	want := rlimit.Max
	if rlimit.Cur >= want {
		return
	}
	rlimit.Cur = want
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		logger.Warn("raising RLIMIT_NOFILE failed, continuing with degraded coverage", "current", rlimit.Cur, "err", err)
		return
	}
	logger.Info("raised RLIMIT_NOFILE", "limit", rlimit.Cur)
}
