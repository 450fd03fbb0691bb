package db

import (
	"fmt"

	"github.com/kasuganosora/raidloot/server/config"
	dbmemory "github.com/kasuganosora/raidloot/server/db/memory"
	dbmysql "github.com/kasuganosora/raidloot/server/db/mysql"
	dbpostgres "github.com/kasuganosora/raidloot/server/db/postgres"
	dbsqlite "github.com/kasuganosora/raidloot/server/db/sqlite"
	"gorm.io/gorm"
)

const (
	ModeMemory   = "memory"
	ModeSQLite   = "sqlite"
	ModeMySQL    = "mysql"
	ModePostgres = "postgres"
)

// Open returns a *gorm.DB for the configured database mode.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Mode {
	case ModeMemory:
		return dbmemory.Open()
	case ModeSQLite:
		return dbsqlite.Open(cfg.SQLitePath)
	case ModeMySQL:
		return dbmysql.Open(cfg.MySQLDSN, cfg.MaxOpen, cfg.MaxIdle, cfg.MaxLife)
	case ModePostgres:
		return dbpostgres.Open(cfg.PostgresDSN, cfg.MaxOpen, cfg.MaxIdle, cfg.MaxLife)
	default:
		return nil, fmt.Errorf("db: unknown mode %q", cfg.Mode)
	}
}
