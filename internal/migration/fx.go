package migration

import (
	"github.com/luisterslim/billing/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB, cfg.DBType); err != nil {
			return err
		}
		log.Info("database migrations applied", zap.String("db_type", cfg.DBType))
		return nil
	}),
)
