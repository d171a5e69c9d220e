package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"metrion-backend/internal/crypto"
	"metrion-backend/internal/logger"
	"metrion-backend/internal/storage"
)

const defaultConnectorTTL = 10 * time.Minute

// ConnectionStore loads stored connection rows by ref.
type ConnectionStore interface {
	GetConnection(ctx context.Context, id string) (storage.Connection, error)
}

type cachedConnector struct {
	conn     Connector
	openedAt time.Time
}

// SQLValueSource resolves an indicator's connection ref to a live connector
// and runs its query. Connectors are cached per ref and dropped when the
// connection row changes or the entry ages out.
type SQLValueSource struct {
	store ConnectionStore
	enc   crypto.Encryptor
	ttl   time.Duration
	log   zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedConnector
}

func NewSQLValueSource(store ConnectionStore, enc crypto.Encryptor) *SQLValueSource {
	return &SQLValueSource{
		store: store,
		enc:   enc,
		ttl:   defaultConnectorTTL,
		log:   logger.WithComponent("source"),
		cache: map[string]cachedConnector{},
	}
}

// Execute runs the query on the referenced source and returns its scalar
// result.
func (s *SQLValueSource) Execute(ctx context.Context, connectionRef, query string) (float64, error) {
	conn, err := s.connector(ctx, connectionRef)
	if err != nil {
		return 0, fmt.Errorf("resolve connection %s: %w", connectionRef, err)
	}
	return conn.QueryValue(ctx, query)
}

func (s *SQLValueSource) connector(ctx context.Context, ref string) (Connector, error) {
	s.mu.Lock()
	if entry, ok := s.cache[ref]; ok && time.Since(entry.openedAt) < s.ttl {
		conn := entry.conn
		s.mu.Unlock()
		return conn, nil
	}
	s.mu.Unlock()

	row, err := s.store.GetConnection(ctx, ref)
	if err != nil {
		return nil, err
	}
	password, err := s.enc.Decrypt(row.PasswordEnc)
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials: %w", err)
	}
	conn, err := Open(Config{
		Type:     row.Type,
		Host:     row.Host,
		Port:     row.Port,
		User:     row.User,
		Password: password,
		Database: row.Database,
		SSLMode:  row.SSLMode,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if old, ok := s.cache[ref]; ok {
		old.conn.Close()
	}
	s.cache[ref] = cachedConnector{conn: conn, openedAt: time.Now()}
	s.mu.Unlock()
	s.log.Debug().Str("connection_ref", ref).Str("type", row.Type).Msg("connector opened")
	return conn, nil
}

// Invalidate drops the cached connector for a ref, forcing a reload on next
// use. Called when the connection row is updated or deleted.
func (s *SQLValueSource) Invalidate(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.cache[ref]; ok {
		entry.conn.Close()
		delete(s.cache, ref)
		s.log.Info().Str("connection_ref", ref).Msg("connector invalidated")
	}
}

// Close releases every cached connector.
func (s *SQLValueSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ref, entry := range s.cache {
		entry.conn.Close()
		delete(s.cache, ref)
	}
}
