// Package rawtable converts column-oriented raw position tables into typed
// records. Both raw sources go through Decode so missing columns fail once,
// at the ingestion boundary.
package rawtable

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	domain "riskfeed/internal/domain/entity/positions"

	"github.com/jackc/pgx/v5/pgtype"
)

var (
	ErrMissingColumn = errors.New("raw table is missing a required column")
	ErrRowWidth      = errors.New("raw table row width does not match header")
)

const expiryLayout = "2006-01-02T15:04:05"

// Decode maps every row to a RawRecord. aliases renames source column names
// to feed column names before validation.
func Decode(columns []string, rows [][]any, aliases map[string]string) ([]domain.RawRecord, error) {
	index := make(map[string]int, len(columns))
	for i, col := range columns {
		name := strings.TrimSpace(col)
		if alias, ok := aliases[name]; ok {
			name = alias
		}
		index[name] = i
	}
	for _, col := range domain.RequiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	records := make([]domain.RawRecord, 0, len(rows))
	for n, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("%w: row %d has %d cells, header has %d", ErrRowWidth, n, len(row), len(columns))
		}
		rec, err := decodeRow(row, index)
		if err != nil {
			return nil, fmt.Errorf("decode row %d: %w", n, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeRow(row []any, index map[string]int) (domain.RawRecord, error) {
	cell := func(col string) any { return row[index[col]] }

	var rec domain.RawRecord
	rec.PodLabel = toString(cell(domain.ColumnPod))
	rec.BookLabel = toString(cell(domain.ColumnBook))
	rec.BusinessLabel = toString(cell(domain.ColumnBusiness))
	rec.Strategy = toString(cell(domain.ColumnStrategy))
	rec.StrategyBlock = toString(cell(domain.ColumnPositionBlock))
	rec.SecurityType = domain.SecurityType(toString(cell(domain.ColumnType)))
	rec.Underlier = toString(cell(domain.ColumnUnderlier))
	rec.Ticker = toString(cell(domain.ColumnTicker))
	rec.Expiry = toExpiry(cell(domain.ColumnExpiry))

	numbers := []struct {
		col string
		dst *float64
	}{
		{domain.ColumnDelta, &rec.Delta},
		{domain.ColumnGamma, &rec.Gamma},
		{domain.ColumnVega, &rec.Vega},
		{domain.ColumnTheta, &rec.Theta},
		{domain.ColumnPercentDelta, &rec.PercentDelta},
		{domain.ColumnQuantity, &rec.Quantity},
		{domain.ColumnPrice, &rec.Price},
		{domain.ColumnValue, &rec.MarketValue},
	}
	for _, n := range numbers {
		v, err := toFloat(cell(n.col))
		if err != nil {
			return domain.RawRecord{}, fmt.Errorf("column %s: %w", n.col, err)
		}
		*n.dst = v
	}
	return rec, nil
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// toFloat treats nulls, blanks and NaN as zero, so a row without a usable
// delta falls under the dust rule instead of carrying NaN into the run.
func toFloat(v any) (float64, error) {
	var f float64
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int8:
		f = float64(t)
	case int16:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case uint:
		f = float64(t)
	case uint8:
		f = float64(t)
	case uint16:
		f = float64(t)
	case uint32:
		f = float64(t)
	case uint64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, err
		}
		f = parsed
	case pgtype.Numeric:
		if !t.Valid {
			return 0, nil
		}
		f8, err := t.Float64Value()
		if err != nil {
			return 0, err
		}
		f = f8.Float64
	default:
		return 0, fmt.Errorf("unsupported numeric cell %T", v)
	}
	if math.IsNaN(f) {
		return 0, nil
	}
	return f, nil
}

func toExpiry(v any) *string {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		s := t.Format(expiryLayout)
		return &s
	case pgtype.Date:
		if !t.Valid {
			return nil
		}
		s := t.Time.Format(expiryLayout)
		return &s
	}
	s := toString(v)
	if s == "" {
		return nil
	}
	return &s
}
