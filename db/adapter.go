package db

import (
	"fmt"

	"github.com/astralchat/server/config"
	dbmysql "github.com/astralchat/server/db/mysql"
	dbsqlite "github.com/astralchat/server/db/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ModeMemory = "memory"
	ModeSQLite = "sqlite"
	ModeMySQL  = "mysql"
)

// Open returns a *gorm.DB for the configured database mode. Memory mode is
// a private in-process SQLite database, used by tests and local runs; each
// call gets its own uniquely named database so parallel tests stay isolated.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Mode {
	case ModeMemory:
		dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
		return dbsqlite.Open(dsn)
	case ModeSQLite:
		return dbsqlite.Open(cfg.SQLitePath)
	case ModeMySQL:
		return dbmysql.Open(cfg.MySQLDSN, cfg.MySQLMaxOpen, cfg.MySQLMaxIdle, cfg.MySQLMaxLife)
	default:
		return nil, fmt.Errorf("db: unknown mode %q", cfg.Mode)
	}
}
