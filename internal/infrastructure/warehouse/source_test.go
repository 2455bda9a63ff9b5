package warehouse

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "riskfeed/internal/domain/entity/positions"
	"riskfeed/internal/infrastructure/rawtable"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRows struct {
	columns []string
	data    [][]any
	pos     int
	closed  bool
}

func (r *fakeRows) Close()                        { r.closed = true }
func (r *fakeRows) Err() error                    { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	out := make([]pgconn.FieldDescription, len(r.columns))
	for i, c := range r.columns {
		out[i] = pgconn.FieldDescription{Name: c}
	}
	return out
}
func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}
func (r *fakeRows) Scan(...any) error      { return errors.New("not supported") }
func (r *fakeRows) Values() ([]any, error) { return r.data[r.pos-1], nil }
func (r *fakeRows) RawValues() [][]byte    { return nil }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }

type fakeQuerier struct {
	rows *fakeRows
	sql  string
	args []any
	err  error
}

func (q *fakeQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.sql, q.args = sql, args
	if q.err != nil {
		return nil, q.err
	}
	return q.rows, nil
}

func warehouseColumns() []string {
	cols := append([]string{"TRADING_DAY"}, domain.RequiredColumns...)
	reverse := make(map[string]string, len(ColumnAliases))
	for from, to := range ColumnAliases {
		reverse[to] = from
	}
	for i, c := range cols {
		if alias, ok := reverse[c]; ok {
			cols[i] = alias
		}
	}
	return cols
}

func TestFetchRawPositions(t *testing.T) {
	day := time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC)
	row := []any{day, "Novo", "Crypto", "PrincipalTrading", "Basis", "Q1", "CryptoFuture", "ETH", "ETH-28MAR25",
		float64(250), 0.0, 0.0, 0.0, 0.2, 1.5, 3000.0, 4500.0, day.AddDate(0, 1, 14)}
	q := &fakeQuerier{rows: &fakeRows{columns: warehouseColumns(), data: [][]any{row}}}
	src := newSource(q, "", 0)

	records, err := src.FetchRawPositions(context.Background(), day)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Novo", records[0].PodLabel)
	assert.Equal(t, "Basis", records[0].Strategy)
	assert.Equal(t, "Q1", records[0].StrategyBlock)
	assert.Equal(t, "2025-03-28T00:00:00", *records[0].Expiry)

	assert.Contains(t, q.sql, `"gc_accounting"."finance_uat"."dt_gre_pnl_snapshot"`)
	assert.Equal(t, []any{"2025-02-14", DefaultRowLimit}, q.args)
	assert.True(t, q.rows.closed)
}

func TestFetchRawPositionsMissingColumn(t *testing.T) {
	cols := warehouseColumns()[:5]
	q := &fakeQuerier{rows: &fakeRows{columns: cols}}
	_, err := newSource(q, "snap", 10).FetchRawPositions(context.Background(), time.Now())
	assert.ErrorIs(t, err, rawtable.ErrMissingColumn)
}

func TestFetchRawPositionsQueryError(t *testing.T) {
	boom := errors.New("warehouse offline")
	_, err := newSource(&fakeQuerier{err: boom}, "", 0).FetchRawPositions(context.Background(), time.Now())
	assert.ErrorIs(t, err, boom)
}
