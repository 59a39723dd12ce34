package source

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"tablesync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSelectAll(t *testing.T) {
	tests := []struct {
		table   string
		want    string
		wantErr bool
	}{
		{table: "orders", want: `SELECT * FROM "orders"`},
		{table: "public.orders", want: `SELECT * FROM "public"."orders"`},
		{table: "_tmp1", want: `SELECT * FROM "_tmp1"`},
		{table: "orders; DROP TABLE x", wantErr: true},
		{table: `orders"`, wantErr: true},
		{table: "a.b.c", wantErr: true},
		{table: "1orders", wantErr: true},
		{table: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			got, err := BuildSelectAll(tt.table)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidIdentifier)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSQLSource_Query(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "source.db")
	seed, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	_, err = seed.Exec(`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer TEXT, total REAL, note BLOB)`)
	require.NoError(t, err)
	_, err = seed.Exec(`INSERT INTO orders (id, customer, total, note) VALUES (1, 'Ann', 10.5, x'6869'), (2, 'Bob', NULL, NULL)`)
	require.NoError(t, err)
	seed.Close()

	logger := zerolog.Nop()
	src := NewSQLSource(&logger)
	defer src.Close()

	conn := models.ConnectionConfig{Name: "main", Driver: "sqlite3", DSN: dsn}
	query, err := BuildSelectAll("orders")
	require.NoError(t, err)

	records, err := src.Query(context.Background(), conn, query)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, []string{"id", "customer", "total", "note"}, records[0].Keys())
	assert.Equal(t, int64(1), records[0].GetInt64("id"))
	assert.Equal(t, "Ann", records[0].GetString("customer"))
	assert.Equal(t, "hi", records[0].GetString("note"))

	total, ok := records[1].Get("total")
	assert.True(t, ok)
	assert.Nil(t, total)

	t.Run("ReusesPool", func(t *testing.T) {
		_, err := src.Query(context.Background(), conn, query)
		require.NoError(t, err)
		assert.Len(t, src.pools, 1)
	})

	t.Run("MissingTable", func(t *testing.T) {
		_, err := src.Query(context.Background(), conn, `SELECT * FROM "missing"`)
		assert.Error(t, err)
	})

	t.Run("UnknownDriver", func(t *testing.T) {
		_, err := src.Query(context.Background(), models.ConnectionConfig{Name: "x", Driver: "nope", DSN: "x"}, query)
		assert.Error(t, err)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := src.Query(ctx, conn, query)
		assert.Error(t, err)
	})
}
