package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/zimmerhq/zimmer/internal/config"
	"github.com/zimmerhq/zimmer/internal/seed"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// mysql and sqlite are dev conveniences; the versioned
			// migrations target postgres.
			if err := seed.AutoMigrate(conn); err != nil {
				return err
			}
		}

		if cfg.Bootstrap.SeedDemoData {
			return seed.EnsureDemoFixtures(conn)
		}
		return nil
	}),
)
