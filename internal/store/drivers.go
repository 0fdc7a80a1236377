package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	mssql "github.com/microsoft/go-mssqldb"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Supported backend identifiers, as written in configuration.
const (
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	DriverMySQL     = "mysql"
	DriverSQLServer = "sqlserver"
)

// dialect bundles what differs between SQL backends: the database/sql driver
// name, DDL, and DSN normalization. Queries are written with "?" and rebound
// by sqlx for the driver.
type dialect struct {
	sqlDriver  string
	migrations []string
	prepareDSN func(dsn string) (string, error)
}

var dialects = map[string]dialect{
	DriverSQLite: {
		sqlDriver:  "sqlite",
		migrations: sqliteMigrations,
		prepareDSN: sqliteDSN,
	},
	DriverPostgres: {
		sqlDriver:  "pgx",
		migrations: postgresMigrations,
		prepareDSN: requireDSN,
	},
	DriverMySQL: {
		sqlDriver:  "mysql",
		migrations: mysqlMigrations,
		prepareDSN: mysqlDSN,
	},
	DriverSQLServer: {
		sqlDriver:  "sqlserver",
		migrations: sqlserverMigrations,
		prepareDSN: requireDSN,
	},
}

// Drivers returns the supported backend identifiers in sorted order.
func Drivers() []string {
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupDialect(driver string) (dialect, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	d, ok := dialects[driver]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported store driver %q (available: %v)", driver, Drivers())
	}
	return d, nil
}

func requireDSN(dsn string) (string, error) {
	if dsn == "" {
		return "", errors.New("dsn is required")
	}
	return dsn, nil
}

// sqliteDSN maps an empty DSN to a private in-memory database and makes sure
// the parent directory of a file database exists.
func sqliteDSN(dsn string) (string, error) {
	if dsn == "" || dsn == ":memory:" {
		return ":memory:", nil
	}
	if strings.Contains(dsn, "?") || strings.HasPrefix(dsn, "file:") {
		return dsn, nil
	}
	if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dsn + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", nil
}

// mysqlDSN forces parseTime so DATETIME columns scan into time.Time, pins
// the connection location to UTC, and reports matched rather than changed
// rows so an update that writes identical values is not a miss.
func mysqlDSN(dsn string) (string, error) {
	if dsn == "" {
		return "", errors.New("dsn is required")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}

// isUniqueViolation reports whether err is a unique-constraint failure on
// any supported backend.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return msErr.Number == 2601 || msErr.Number == 2627
	}
	var msErrPtr *mssql.Error
	if errors.As(err, &msErrPtr) {
		return msErrPtr.Number == 2601 || msErrPtr.Number == 2627
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			sqErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique constraint") ||
		strings.Contains(lower, "duplicate key") ||
		strings.Contains(lower, "duplicate entry")
}
