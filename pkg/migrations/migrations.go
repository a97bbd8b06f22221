package migrations

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/oceanomics/seqtrack/internal/config"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed sql
var migrationsFS embed.FS

// MigrateStore brings the schema of db up to date. dbType is one of the
// config.DBType values.
func MigrateStore(db *gorm.DB, dbType string) error {
	dir, dialect, err := source(dbType)
	if err != nil {
		return err
	}

	goose.SetLogger(&logger{})
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(dialect); err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	return goose.Up(sqlDB, dir)
}

// Version returns the schema version currently applied to db.
func Version(db *gorm.DB, dbType string) (int64, error) {
	_, dialect, err := source(dbType)
	if err != nil {
		return 0, err
	}
	if err := goose.SetDialect(dialect); err != nil {
		return 0, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return 0, err
	}
	return goose.GetDBVersion(sqlDB)
}

// Files lists the embedded migrations for dbType.
func Files(dbType string) ([]string, error) {
	dir, _, err := source(dbType)
	if err != nil {
		return nil, err
	}
	return fs.Glob(migrationsFS, dir+"/*.sql")
}

func source(dbType string) (dir string, dialect string, err error) {
	switch dbType {
	case config.DBTypeSqlite:
		return "sql/sqlite", "sqlite3", nil
	case config.DBTypePostgres:
		return "sql/postgres", "postgres", nil
	default:
		return "", "", fmt.Errorf("no migrations for database type %q", dbType)
	}
}

/*
logger implements goose.Logger interface

	type Logger interface {
		Fatalf(format string, v ...interface{})
		Printf(format string, v ...interface{})
	}
*/
type logger struct{}

func (m *logger) Printf(format string, v ...interface{}) { zap.S().Named("migrations").Infof(format, v...) }
func (m *logger) Fatalf(format string, v ...interface{}) { zap.S().Named("migrations").Fatalf(format, v...) }
