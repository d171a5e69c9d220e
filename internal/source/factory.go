package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"
)

// Config describes how to reach one data source. Database is the file path
// for sqlite sources.
type Config struct {
	Type     string // postgres | mysql | mssql | sqlite
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Open builds a connector for the configured source type.
func Open(cfg Config) (Connector, error) {
	if strings.TrimSpace(cfg.Type) == "" {
		return nil, errors.New("source: connection type is required")
	}
	switch strings.ToLower(cfg.Type) {
	case "postgres", "postgresql":
		return open("postgres", postgresDSN(cfg))
	case "mysql":
		return open("mysql", mysqlDSN(cfg))
	case "mssql", "sqlserver":
		return open("sqlserver", mssqlDSN(cfg))
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Database) == "" {
			return nil, errors.New("source: sqlite requires a database file path")
		}
		return open("sqlite3", cfg.Database)
	default:
		return nil, fmt.Errorf("source: unsupported type %q", cfg.Type)
	}
}

// Test opens a short-lived connector and pings it. Used by the management API
// to verify a connection before saving it.
func Test(ctx context.Context, cfg Config) error {
	conn, err := Open(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.Ping(ctx)
}

func open(driver, dsn string) (Connector, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", driver, err)
	}
	return &sqlConnector{db: db, kind: driver}, nil
}

func postgresDSN(cfg Config) string {
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode)
}

func mysqlDSN(cfg Config) string {
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	if sslMode == "disable" {
		dsn += "&tls=false"
	} else if sslMode != "" {
		dsn += "&tls=true"
	}
	return dsn
}

func mssqlDSN(cfg Config) string {
	if cfg.Port == 0 {
		cfg.Port = 1433
	}
	encrypt := "true"
	if strings.ToLower(strings.TrimSpace(cfg.SSLMode)) == "disable" {
		encrypt = "disable"
	}
	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s",
		url.QueryEscape(cfg.User), url.QueryEscape(cfg.Password), cfg.Host, cfg.Port, cfg.Database, encrypt)
}
