package cmd

import (
	"fmt"

	"github.com/jmehdipour/drip/internal/config"
	"github.com/jmehdipour/drip/internal/db"
	"github.com/jmehdipour/drip/internal/logger"
	"github.com/jmehdipour/drip/migrations"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the MySQL schema and, when configured, the ClickHouse attempts table",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logger.Init(cfg.Log.Level, cfg.Log.Format)

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.Opts{PingTimeout: cfg.MySQL.PingTimeout})
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer sqlDB.Close()

		if err := apply(cmd, sqlDB, migrations.MySQL, "mysql", log); err != nil {
			return err
		}

		chDB, err := db.NewClickHouseConnection(cfg.ClickHouse.DSN, db.Opts{PingTimeout: cfg.ClickHouse.PingTimeout})
		if err != nil {
			return fmt.Errorf("open clickhouse: %w", err)
		}
		if chDB == nil {
			log.Info("clickhouse not configured, skipping analytics schema")
			return nil
		}
		defer chDB.Close()
		return apply(cmd, chDB, migrations.ClickHouse, "clickhouse", log)
	},
}

func apply(cmd *cobra.Command, conn *sqlx.DB, script, store string, log *zap.Logger) error {
	n, err := db.ApplySchema(cmd.Context(), conn, script)
	if err != nil {
		return fmt.Errorf("migrate %s: %w", store, err)
	}
	log.Info("migration complete", zap.String("store", store), zap.Int("statements", n))
	return nil
}
