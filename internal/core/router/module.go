package router

import (
	"go.uber.org/fx"
)

// Module 返回 RequestRouter 的 Fx 模块。
func Module() fx.Option {
	return fx.Module("router",
		fx.Provide(NewServer),
		fx.Invoke(registerLifecycle),
	)
}

type lifecycleInput struct {
	fx.In
	LC     fx.Lifecycle
	Server *Server
}

func registerLifecycle(in lifecycleInput) {
	in.LC.Append(fx.Hook{
		OnStart: in.Server.Start,
		OnStop:  in.Server.Stop,
	})
}
