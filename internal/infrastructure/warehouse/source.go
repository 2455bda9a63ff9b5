// Package warehouse reads the raw position snapshot table from the SQL
// warehouse.
package warehouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "riskfeed/internal/domain/entity/positions"
	"riskfeed/internal/infrastructure/rawtable"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	DefaultTable    = "gc_accounting.finance_uat.dt_gre_pnl_snapshot"
	DefaultRowLimit = 1000
)

// ColumnAliases renames warehouse columns to feed column names.
var ColumnAliases = map[string]string{
	"Pod_L2":           domain.ColumnPod,
	"Book_L3":          domain.ColumnBook,
	"Business_L0":      domain.ColumnBusiness,
	"Strategy_L4":      domain.ColumnStrategy,
	"PositionBlock_L5": domain.ColumnPositionBlock,
}

type rowsQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Source struct {
	pool     *pgxpool.Pool
	db       rowsQuerier
	query    string
	rowLimit int
}

func NewSource(ctx context.Context, dsn, table string, rowLimit int) (*Source, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	src := newSource(pool, table, rowLimit)
	src.pool = pool
	return src, nil
}

func newSource(db rowsQuerier, table string, rowLimit int) *Source {
	if table == "" {
		table = DefaultTable
	}
	if rowLimit <= 0 {
		rowLimit = DefaultRowLimit
	}
	return &Source{db: db, query: snapshotQuery(table), rowLimit: rowLimit}
}

func (s *Source) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func snapshotQuery(table string) string {
	ident := pgx.Identifier(strings.Split(table, ".")).Sanitize()
	return `SELECT * FROM ` + ident + `
		WHERE "TRADING_DAY" = $1
		ORDER BY "TRADING_DAY" DESC
		LIMIT $2`
}

func (s *Source) FetchRawPositions(ctx context.Context, asOf time.Time) ([]domain.RawRecord, error) {
	day := asOf.Format(time.DateOnly)
	rows, err := s.db.Query(ctx, s.query, day, s.rowLimit)
	if err != nil {
		return nil, fmt.Errorf("query snapshot for %s: %w", day, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var cells [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read snapshot row: %w", err)
		}
		cells = append(cells, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot: %w", err)
	}
	return rawtable.Decode(columns, cells, ColumnAliases)
}
