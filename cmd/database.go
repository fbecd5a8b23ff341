package cmd

import (
	"fmt"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/guard"
	"github.com/frahmantamala/familyguard/pkg/logger"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// databases shares one pgx pool between the sqlx audit sink and the gorm
// snapshot repository.
type databases struct {
	SQL  *sqlx.DB
	Gorm *gorm.DB
}

func (d *databases) Close() error {
	if d == nil || d.SQL == nil {
		return nil
	}
	return d.SQL.Close()
}

// openDatabases returns nil when the database is disabled.
func openDatabases(cfg internal.DatabaseConfig) (*databases, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	db, err := initDB(cfg)
	if err != nil {
		return nil, err
	}

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open gorm session: %w", err)
	}

	return &databases{SQL: db, Gorm: gdb}, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// newCore assembles the security core over the optional databases.
func newCore(cfg *internal.Config, dbs *databases) (*guard.Core, error) {
	deps := guard.Deps{Logger: logger.LoggerWrapper()}
	if dbs != nil {
		deps.AuditDB = dbs.SQL
		deps.StateDB = dbs.Gorm
	}
	return guard.New(cfg, deps)
}
