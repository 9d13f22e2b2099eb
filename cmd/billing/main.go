package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/luisterslim/billing/internal/clock"
	"github.com/luisterslim/billing/internal/config"
	"github.com/luisterslim/billing/internal/migration"
	"github.com/luisterslim/billing/internal/observability"
	"github.com/luisterslim/billing/internal/scheduler"
	"github.com/luisterslim/billing/internal/server"
	"github.com/luisterslim/billing/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// HTTP API and the domain services behind it
		server.Module,

		// Background reconciliation
		scheduler.Module,

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
