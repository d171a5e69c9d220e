// Package source executes indicator queries against external SQL data
// sources. A query is expected to produce a single numeric scalar: the first
// column of the first row.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// Connector is one open data source.
type Connector interface {
	QueryValue(ctx context.Context, query string) (float64, error)
	Ping(ctx context.Context) error
	Close() error
}

type sqlConnector struct {
	db   *sql.DB
	kind string
}

func (c *sqlConnector) QueryValue(ctx context.Context, query string) (float64, error) {
	var raw any
	err := c.db.QueryRowContext(ctx, query).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNoValue
		}
		return 0, fmt.Errorf("query %s: %w", c.kind, err)
	}
	if raw == nil {
		return 0, ErrNullValue
	}
	value, ok := toFloat(raw)
	if !ok {
		return 0, fmt.Errorf("%w: %T", ErrNotNumeric, raw)
	}
	return value, nil
}

func (c *sqlConnector) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", c.kind, err)
	}
	return nil
}

func (c *sqlConnector) Close() error {
	return c.db.Close()
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(string(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
