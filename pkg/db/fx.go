package db

import (
	"context"
	"fmt"

	"github.com/luisterslim/billing/internal/config"
	obslogger "github.com/luisterslim/billing/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormprom "gorm.io/plugin/prometheus"
)

var Module = fx.Module("db",
	fx.Provide(ConfigFrom),
	fx.Provide(New),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    Config
	AppConfig config.Config
	Log       *zap.Logger
	QueryLog  obslogger.QueryLogConfig `optional:"true"`
}

// New opens the pool and attaches tracing and pool-stat plugins.
func New(p Params) (*gorm.DB, error) {
	dialector, err := Dialect(p.Config)
	if err != nil {
		return nil, err
	}

	queryLog := p.QueryLog
	if queryLog == (obslogger.QueryLogConfig{}) {
		queryLog = obslogger.DefaultQueryLogConfig()
	}
	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:         obslogger.NewQueryLogger(queryLog),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := conn.Use(otelgorm.NewPlugin(otelgorm.WithDBName(p.Config.Name))); err != nil {
		return nil, fmt.Errorf("register tracing plugin: %w", err)
	}
	if err := conn.Use(gormprom.New(gormprom.Config{
		DBName:          p.Config.Name,
		RefreshInterval: 15,
		StartServer:     false,
		Labels:          map[string]string{"service": p.AppConfig.AppName},
	})); err != nil {
		return nil, fmt.Errorf("register metrics plugin: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if p.Config.Type == TypeSQLite {
		// sqlite serialises writers; one connection avoids SQLITE_BUSY on the debit path
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(p.Config.MaxIdleConn)
		sqlDB.SetMaxOpenConns(p.Config.MaxOpenConn)
		sqlDB.SetConnMaxLifetime(p.Config.ConnMaxLifetime)
		sqlDB.SetConnMaxIdleTime(p.Config.ConnMaxIdleTime)
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			p.Log.Info("closing database pool")
			return sqlDB.Close()
		},
	})

	return conn, nil
}
