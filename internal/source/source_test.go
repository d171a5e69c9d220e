package source

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"metrion-backend/internal/crypto"
	"metrion-backend/internal/storage"
)

func TestToFloat(t *testing.T) {
	cases := []struct {
		in   any
		want float64
		ok   bool
	}{
		{int64(42), 42, true},
		{float64(3.5), 3.5, true},
		{float32(2), 2, true},
		{"17.25", 17.25, true},
		{[]byte("99"), 99, true},
		{uint32(7), 7, true},
		{"not-a-number", 0, false},
		{struct{}{}, 0, false},
	}
	for _, tc := range cases {
		got, ok := toFloat(tc.in)
		if ok != tc.ok || (ok && got != tc.want) {
			t.Fatalf("toFloat(%v) = %v,%v want %v,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestOpenRejectsUnsupportedType(t *testing.T) {
	if _, err := Open(Config{Type: "oracle"}); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
	if _, err := Open(Config{}); err == nil {
		t.Fatalf("expected error for empty type")
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := postgresDSN(Config{Host: "db", User: "app", Password: "pw", Database: "metrics"})
	want := "host=db port=5432 user=app password=pw dbname=metrics sslmode=disable"
	if dsn != want {
		t.Fatalf("expected %q got %q", want, dsn)
	}
}

func TestMySQLDSN(t *testing.T) {
	dsn := mysqlDSN(Config{Host: "db", User: "app", Password: "pw", Database: "metrics", SSLMode: "disable"})
	want := "app:pw@tcp(db:3306)/metrics?parseTime=true&tls=false"
	if dsn != want {
		t.Fatalf("expected %q got %q", want, dsn)
	}
}

func TestMSSQLDSN(t *testing.T) {
	dsn := mssqlDSN(Config{Host: "db", Port: 1433, User: "app", Password: "p@ss", Database: "metrics", SSLMode: "disable"})
	want := "sqlserver://app:p%40ss@db:1433?database=metrics&encrypt=disable"
	if dsn != want {
		t.Fatalf("expected %q got %q", want, dsn)
	}
}

func seedSQLite(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metrics.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	stmts := []string{
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, amount REAL)`,
		`INSERT INTO orders (amount) VALUES (10.0), (20.0), (30.0)`,
		`CREATE TABLE empty_t (v REAL)`,
		`CREATE TABLE nulls (v REAL)`,
		`INSERT INTO nulls (v) VALUES (NULL)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return path
}

func TestSQLiteQueryValue(t *testing.T) {
	path := seedSQLite(t)
	conn, err := Open(Config{Type: "sqlite", Database: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	value, err := conn.QueryValue(ctx, `SELECT COUNT(*) FROM orders`)
	if err != nil || value != 3 {
		t.Fatalf("count: got %v, %v", value, err)
	}
	value, err = conn.QueryValue(ctx, `SELECT AVG(amount) FROM orders`)
	if err != nil || value != 20 {
		t.Fatalf("avg: got %v, %v", value, err)
	}
	if _, err = conn.QueryValue(ctx, `SELECT v FROM empty_t`); !errors.Is(err, ErrNoValue) {
		t.Fatalf("expected ErrNoValue got %v", err)
	}
	if _, err = conn.QueryValue(ctx, `SELECT v FROM nulls`); !errors.Is(err, ErrNullValue) {
		t.Fatalf("expected ErrNullValue got %v", err)
	}
}

type fakeConnStore struct {
	mu    sync.Mutex
	conn  storage.Connection
	err   error
	calls int
}

func (f *fakeConnStore) GetConnection(_ context.Context, _ string) (storage.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.conn, f.err
}

func (f *fakeConnStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSQLValueSourceCachesConnectors(t *testing.T) {
	path := seedSQLite(t)
	enc, err := crypto.NewAESGCM([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("encryptor: %v", err)
	}
	sealed, err := enc.Encrypt("irrelevant-for-sqlite")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	store := &fakeConnStore{conn: storage.Connection{
		ID:          "conn-1",
		Type:        "sqlite",
		Database:    path,
		PasswordEnc: sealed,
	}}
	src := NewSQLValueSource(store, enc)
	defer src.Close()

	ctx := context.Background()
	value, err := src.Execute(ctx, "conn-1", `SELECT COUNT(*) FROM orders`)
	if err != nil || value != 3 {
		t.Fatalf("execute: got %v, %v", value, err)
	}
	if _, err := src.Execute(ctx, "conn-1", `SELECT AVG(amount) FROM orders`); err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if store.callCount() != 1 {
		t.Fatalf("expected cached connector, store hit %d times", store.callCount())
	}

	src.Invalidate("conn-1")
	if _, err := src.Execute(ctx, "conn-1", `SELECT COUNT(*) FROM orders`); err != nil {
		t.Fatalf("execute after invalidate: %v", err)
	}
	if store.callCount() != 2 {
		t.Fatalf("invalidate must force a reload, store hit %d times", store.callCount())
	}
}

func TestSQLValueSourceBadCredentials(t *testing.T) {
	enc, _ := crypto.NewAESGCM([]byte("0123456789abcdef0123456789abcdef"))
	store := &fakeConnStore{conn: storage.Connection{
		ID:          "conn-1",
		Type:        "sqlite",
		Database:    "/tmp/x.db",
		PasswordEnc: "garbage",
	}}
	src := NewSQLValueSource(store, enc)
	defer src.Close()
	if _, err := src.Execute(context.Background(), "conn-1", `SELECT 1`); err == nil {
		t.Fatalf("expected decrypt failure")
	}
}
