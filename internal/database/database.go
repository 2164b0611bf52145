package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"rentmarket/internal/config"
	"rentmarket/internal/domain"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is the relational store. Repository methods run against q, which is the
// pool itself or the transaction handed out by InTx.
type DB struct {
	*sql.DB
	q      querier
	inTx   bool
	driver string
	logger *zerolog.Logger
}

var _ domain.UnitOfWork = (*DB)(nil)

// Open connects to the configured driver and creates the schema.
func Open(cfg config.DatabaseConfig, logger *zerolog.Logger) (*DB, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		return NewDB(cfg.Path, logger)
	case DriverMySQL:
		return NewMySQL(cfg.DSN, cfg.MaxOpenConns, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// NewDB opens a SQLite database at path (":memory:" for tests).
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		// Создаем директорию для БД, если её нет
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
	}

	sqlDB, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite допускает одного писателя; одно соединение сериализует транзакции
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := sqlDB.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	db := newDB(sqlDB, DriverSQLite, logger)
	if err := db.createTables(sqliteSchema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return db, nil
}

// NewMySQL opens a MySQL database. parseTime is forced on so DATETIME columns
// scan into time.Time.
func NewMySQL(dsn string, maxOpenConns int, logger *zerolog.Logger) (*DB, error) {
	mcfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mysql dsn: %w", err)
	}
	mcfg.ParseTime = true

	sqlDB, err := sql.Open(DriverMySQL, mcfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(maxOpenConns)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := newDB(sqlDB, DriverMySQL, logger)
	if err := db.createTables(mysqlSchema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("addr", mcfg.Addr).Str("db", mcfg.DBName).Msg("Database initialized")
	return db, nil
}

func newDB(sqlDB *sql.DB, driver string, logger *zerolog.Logger) *DB {
	return &DB{DB: sqlDB, q: sqlDB, driver: driver, logger: logger}
}

func (db *DB) Driver() string {
	return db.driver
}

func (db *DB) createTables(queries []string) error {
	for _, query := range queries {
		if _, err := db.DB.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// InTx runs fn inside a transaction. fn receives a repository bound to the
// transaction; calling InTx on that repository joins the same transaction.
func (db *DB) InTx(ctx context.Context, fn func(repo domain.Repository) error) error {
	if db.inTx {
		return fn(db)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	txDB := &DB{DB: db.DB, q: tx, inTx: true, driver: db.driver, logger: db.logger}
	if err := fn(txDB); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return fmt.Errorf("%w: commit: %v", domain.ErrConcurrentModification, err)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1452
	}
	return false
}

// isBusy reports lock contention that a retry can resolve.
func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		// deadlock, lock wait timeout
		return mysqlErr.Number == 1213 || mysqlErr.Number == 1205
	}
	return false
}

// execCAS runs a conditional update and turns "no rows" into a lost race.
func (db *DB) execCAS(ctx context.Context, what, query string, args ...any) error {
	result, err := db.q.ExecContext(ctx, query, args...)
	if err != nil {
		if isBusy(err) {
			return fmt.Errorf("%w: %s: %v", domain.ErrConcurrentModification, what, err)
		}
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrConcurrentModification, what)
	}
	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}
