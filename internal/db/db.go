package db

import (
	"fmt"
	"strings"
	"time"

	"iot-telemetry-backend/config"
	"iot-telemetry-backend/internal/model"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Models lists every table the service owns, in migration order.
var Models = []interface{}{
	&model.ArduinoSample{},
	&model.NodeMCUSample{},
	&model.PushSubscription{},
}

// Init opens the configured database, applies pool limits and runs migrations.
func Init(cfg *config.DatabaseConfig, sqlLevel string, log *zap.Logger) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(ParseLogLevel(sqlLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if cfg.Driver == "sqlite" {
		// SQLite allows one writer; a single connection also keeps :memory: databases shared.
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	log.Info("running database migrations", zap.String("driver", cfg.Driver))
	if err := db.AutoMigrate(Models...); err != nil {
		return nil, fmt.Errorf("automigrate failed: %w", err)
	}

	if cfg.EnableTimescale {
		if cfg.Driver != "postgres" {
			log.Warn("enable_timescale ignored for non-postgres driver", zap.String("driver", cfg.Driver))
		} else {
			log.Info("TimescaleDB is enabled, applying TimescaleDB-specific DDL")
			if err := applyTimescaleDDL(db); err != nil {
				log.Warn("failed to apply TimescaleDB DDL, continuing without it", zap.Error(err))
			}
		}
	}

	log.Info("database initialization complete")
	return db, nil
}

func dialectorFor(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "sqlite", "":
		return sqlite.Open(cfg.DSN), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// ParseLogLevel maps a config string to a gorm logger level. Unknown values
// mean warn.
func ParseLogLevel(s string) logger.LogLevel {
	switch strings.ToLower(s) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	}
	return logger.Warn
}

// sampleTables are the tables turned into hypertables on their receive time.
var sampleTables = []string{"arduino_samples", "nodemcu_samples"}

const hypertableExistsQuery = "SELECT EXISTS (SELECT 1 FROM timescaledb_information.hypertables WHERE hypertable_name = ?)"

// timescaleDDL converts table into a hypertable. A hypertable's unique keys
// must include the time column, so the primary key is widened first.
func timescaleDDL(table string) []string {
	return []string{
		fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s_pkey;", table, table),
		fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (id, server_receive_time);", table),
		fmt.Sprintf("SELECT create_hypertable('%s', 'server_receive_time', if_not_exists => TRUE, migrate_data => TRUE);", table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_receive_time_desc ON %s (server_receive_time DESC, id DESC);", table, table),
	}
}

// applyTimescaleDDL leaves tables that already are hypertables untouched.
func applyTimescaleDDL(db *gorm.DB) error {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS timescaledb;").Error; err != nil {
		return fmt.Errorf("failed to create timescaledb extension: %w", err)
	}
	for _, table := range sampleTables {
		var exists bool
		if err := db.Raw(hypertableExistsQuery, table).Scan(&exists).Error; err != nil {
			return fmt.Errorf("failed to check hypertable %s: %w", table, err)
		}
		if exists {
			continue
		}
		for _, ddl := range timescaleDDL(table) {
			if err := db.Exec(ddl).Error; err != nil {
				return fmt.Errorf("DDL failed on %q: %w", ddl, err)
			}
		}
	}
	return nil
}
