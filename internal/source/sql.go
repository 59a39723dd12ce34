package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"tablesync/internal/models"

	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

var ErrInvalidIdentifier = errors.New("invalid table identifier")

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// BuildSelectAll returns the full-table read for table, quoting each part.
func BuildSelectAll(table string) (string, error) {
	if !identifierPattern.MatchString(table) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, table)
	}
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = `"` + p + `"`
	}
	return "SELECT * FROM " + strings.Join(parts, "."), nil
}

// OpenFunc allows swapping sql.Open for tests.
type OpenFunc func(driver, dsn string) (*sql.DB, error)

// SQLSource reads rows through database/sql, keeping one pool per
// connection name.
type SQLSource struct {
	mu     sync.Mutex
	pools  map[string]*sql.DB
	open   OpenFunc
	logger zerolog.Logger
}

func NewSQLSource(logger *zerolog.Logger) *SQLSource {
	return &SQLSource{
		pools:  make(map[string]*sql.DB),
		open:   sql.Open,
		logger: logger.With().Str("component", "source").Logger(),
	}
}

func (s *SQLSource) pool(conn models.ConnectionConfig) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := conn.Name + "|" + conn.Driver + "|" + conn.DSN
	if db, ok := s.pools[key]; ok {
		return db, nil
	}

	db, err := s.open(conn.Driver, conn.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open source %s: %w", conn.Name, err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s.pools[key] = db
	s.logger.Debug().Str("source", conn.Name).Str("driver", conn.Driver).Msg("Opened source pool")
	return db, nil
}

// Query runs query and returns every row in column order.
func (s *SQLSource) Query(ctx context.Context, conn models.ConnectionConfig, query string) ([]*models.Record, error) {
	db, err := s.pool(conn)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var records []*models.Record
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row %d: %w", len(records), err)
		}

		rec := models.NewRecord()
		for i, col := range columns {
			rec.Set(col, normalize(values[i]))
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}

	s.logger.Debug().Str("source", conn.Name).Int("rows", len(records)).Msg("Query completed")
	return records, nil
}

func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case []byte:
		return string(val)
	default:
		return val
	}
}

// Close releases every pool.
func (s *SQLSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for key, db := range s.pools {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(s.pools, key)
	}
	return errors.Join(errs...)
}
