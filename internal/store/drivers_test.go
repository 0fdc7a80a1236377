package store

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	mssql "github.com/microsoft/go-mssqldb"
)

func TestDrivers(t *testing.T) {
	got := strings.Join(Drivers(), ",")
	want := "mysql,postgres,sqlite,sqlserver"
	if got != want {
		t.Errorf("Drivers() = %s, want %s", got, want)
	}
}

func TestLookupDialectDefaultsToSQLite(t *testing.T) {
	d, err := lookupDialect("")
	if err != nil {
		t.Fatalf("lookupDialect: %v", err)
	}
	if d.sqlDriver != "sqlite" {
		t.Errorf("sqlDriver = %q, want sqlite", d.sqlDriver)
	}
}

func TestMySQLDSNForcesParseTime(t *testing.T) {
	dsn, err := mysqlDSN("keyhub:pw@tcp(localhost:3306)/keyhub")
	if err != nil {
		t.Fatalf("mysqlDSN: %v", err)
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("ParseDSN(%q): %v", dsn, err)
	}
	if !cfg.ParseTime {
		t.Error("expected parseTime=true")
	}
	if !cfg.ClientFoundRows {
		t.Error("expected clientFoundRows=true")
	}
	if cfg.DBName != "keyhub" || cfg.Addr != "localhost:3306" {
		t.Errorf("dsn rewritten incorrectly: %s", dsn)
	}

	if _, err := mysqlDSN("not a dsn"); err == nil {
		t.Error("expected error for malformed dsn")
	}
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ":memory:"},
		{":memory:", ":memory:"},
		{"file:test.db?mode=memory", "file:test.db?mode=memory"},
	}
	for _, tt := range tests {
		got, err := sqliteDSN(tt.in)
		if err != nil {
			t.Fatalf("sqliteDSN(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("sqliteDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	got, err := sqliteDSN(t.TempDir() + "/keys.db")
	if err != nil {
		t.Fatalf("sqliteDSN(file): %v", err)
	}
	if !strings.Contains(got, "busy_timeout") {
		t.Errorf("file dsn %q missing busy_timeout pragma", got)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"postgres unique", &pgconn.PgError{Code: "23505"}, true},
		{"postgres other", &pgconn.PgError{Code: "23502"}, false},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, true},
		{"mysql other", &mysql.MySQLError{Number: 1048}, false},
		{"mssql unique index", mssql.Error{Number: 2601}, true},
		{"mssql unique constraint", mssql.Error{Number: 2627}, true},
		{"mssql other", mssql.Error{Number: 547}, false},
		{"wrapped", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		{"sqlite text", errors.New("constraint failed: UNIQUE constraint failed: api_keys.secret (2067)"), true},
		{"unrelated", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err); got != tt.want {
				t.Errorf("isUniqueViolation(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
