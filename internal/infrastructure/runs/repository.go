// Package runs stores pipeline runs and their positions in Postgres.
package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "riskfeed/internal/domain/entity/positions"
	"riskfeed/internal/domain/interfaces"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrRunNotFound = interfaces.ErrRunNotFound

const schema = `
	CREATE TABLE IF NOT EXISTS position_runs (
		run_id         uuid PRIMARY KEY,
		as_of          date NOT NULL,
		created_at     timestamptz NOT NULL,
		missing_assets text[] NOT NULL DEFAULT '{}',
		stats          jsonb NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS position_runs_as_of_idx ON position_runs (as_of, created_at DESC);
	CREATE TABLE IF NOT EXISTS run_positions (
		position_id           uuid PRIMARY KEY,
		run_id                uuid NOT NULL REFERENCES position_runs (run_id) ON DELETE CASCADE,
		seq                   integer NOT NULL,
		trader_name           text NOT NULL,
		trader_group          text NOT NULL,
		strategy              text NOT NULL,
		security_type         text NOT NULL,
		underlier             text NOT NULL,
		ticker                text NOT NULL,
		market_value          double precision NOT NULL,
		notional_value        double precision NOT NULL,
		delta                 double precision NOT NULL,
		gamma                 double precision NOT NULL,
		vega                  double precision NOT NULL,
		theta                 double precision NOT NULL,
		percent_delta         double precision NOT NULL,
		expiry                text,
		strike                double precision,
		quantity              double precision NOT NULL,
		price                 double precision NOT NULL,
		underlying_price      double precision NOT NULL,
		contract_size         double precision NOT NULL,
		return_series         double precision[] NOT NULL,
		volatility            double precision NOT NULL,
		dollar_volatility     double precision NOT NULL,
		amount_risked         double precision NOT NULL,
		price_source          text NOT NULL,
		internal_grouping     text NOT NULL,
		internal_sub_grouping text NOT NULL,
		ignore                boolean NOT NULL DEFAULT false
	);
	CREATE INDEX IF NOT EXISTS run_positions_run_idx ON run_positions (run_id, seq);`

var positionColumns = []string{
	"position_id", "run_id", "seq", "trader_name", "trader_group", "strategy", "security_type",
	"underlier", "ticker", "market_value", "notional_value", "delta", "gamma", "vega", "theta",
	"percent_delta", "expiry", "strike", "quantity", "price", "underlying_price", "contract_size",
	"return_series", "volatility", "dollar_volatility", "amount_risked", "price_source",
	"internal_grouping", "internal_sub_grouping", "ignore",
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return &Repository{pool: pool}, nil
}

func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return err
}

// SaveRun inserts the run header and all positions in one transaction.
// Missing IDs are assigned in place. Saving a run ID that already exists is
// a no-op.
func (r *Repository) SaveRun(ctx context.Context, run *domain.Run) error {
	if run == nil {
		return errors.New("run is nil")
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return err
	}
	missing := run.MissingPriceAssets
	if missing == nil {
		missing = []string{}
	}

	return r.withTx(ctx, func(tx pgx.Tx) error {
		const insertRun = `
			INSERT INTO position_runs (run_id, as_of, created_at, missing_assets, stats)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (run_id) DO NOTHING`
		tag, err := tx.Exec(ctx, insertRun, run.ID, run.AsOf, run.CreatedAt, missing, stats)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		if tag.RowsAffected() == 0 || len(run.Positions) == 0 {
			return nil
		}
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"run_positions"}, positionColumns, pgx.CopyFromRows(positionRows(run)))
		if err != nil {
			return fmt.Errorf("copy positions: %w", err)
		}
		return nil
	})
}

func positionRows(run *domain.Run) [][]any {
	rows := make([][]any, 0, len(run.Positions))
	for i := range run.Positions {
		p := &run.Positions[i]
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		traderName, traderGroup := p.TraderName, domain.UnknownTraderGroup
		if p.Trader != nil {
			traderGroup = p.Trader.Group
		}
		returns := p.ReturnSeries
		if returns == nil {
			returns = []float64{}
		}
		rows = append(rows, []any{
			p.ID, run.ID, i, traderName, traderGroup, p.Strategy, string(p.SecurityType),
			p.Underlier, p.Ticker, p.MarketValue, p.NotionalValue, p.Delta, p.Gamma, p.Vega, p.Theta,
			p.PercentDelta, p.Expiry, p.Strike, p.Quantity, p.Price, p.UnderlyingPrice, p.ContractSize,
			returns, p.Volatility, p.DollarVolatility, p.AmountRisked, string(p.PriceSource),
			string(p.InternalGrouping), string(p.InternalSubGrouping), p.Ignore,
		})
	}
	return rows
}

func (r *Repository) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	const query = `
		SELECT run_id, as_of, created_at, missing_assets, stats
		FROM position_runs
		WHERE run_id = $1`
	return r.loadRun(ctx, r.pool.QueryRow(ctx, query, id))
}

// LatestRun returns the most recent run for the as-of date.
func (r *Repository) LatestRun(ctx context.Context, asOf time.Time) (*domain.Run, error) {
	const query = `
		SELECT run_id, as_of, created_at, missing_assets, stats
		FROM position_runs
		WHERE as_of = $1
		ORDER BY created_at DESC
		LIMIT 1`
	return r.loadRun(ctx, r.pool.QueryRow(ctx, query, asOf.Format(time.DateOnly)))
}

func (r *Repository) loadRun(ctx context.Context, row pgx.Row) (*domain.Run, error) {
	run := &domain.Run{}
	var stats []byte
	if err := row.Scan(&run.ID, &run.AsOf, &run.CreatedAt, &run.MissingPriceAssets, &stats); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &run.Stats); err != nil {
			return nil, fmt.Errorf("decode run stats: %w", err)
		}
	}

	const query = `
		SELECT position_id, trader_name, trader_group, strategy, security_type, underlier, ticker,
			market_value, notional_value, delta, gamma, vega, theta, percent_delta, expiry, strike,
			quantity, price, underlying_price, contract_size, return_series, volatility,
			dollar_volatility, amount_risked, price_source, internal_grouping, internal_sub_grouping, ignore
		FROM run_positions
		WHERE run_id = $1
		ORDER BY seq ASC`
	rows, err := r.pool.Query(ctx, query, run.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	traders := make(map[string]*domain.Trader)
	for rows.Next() {
		pos, err := scanPosition(rows, traders)
		if err != nil {
			return nil, err
		}
		run.Positions = append(run.Positions, pos)
	}
	return run, rows.Err()
}

// scanPosition rebuilds a position; traders are shared per name like in a
// live run.
func scanPosition(row pgx.Row, traders map[string]*domain.Trader) (domain.Position, error) {
	var (
		p                                   domain.Position
		traderGroup                         string
		securityType, source, group, subGrp string
	)
	err := row.Scan(
		&p.ID, &p.TraderName, &traderGroup, &p.Strategy, &securityType, &p.Underlier, &p.Ticker,
		&p.MarketValue, &p.NotionalValue, &p.Delta, &p.Gamma, &p.Vega, &p.Theta, &p.PercentDelta,
		&p.Expiry, &p.Strike, &p.Quantity, &p.Price, &p.UnderlyingPrice, &p.ContractSize,
		&p.ReturnSeries, &p.Volatility, &p.DollarVolatility, &p.AmountRisked, &source, &group, &subGrp, &p.Ignore,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.SecurityType = domain.SecurityType(securityType)
	p.PriceSource = domain.PriceSource(source)
	p.InternalGrouping = domain.Grouping(group)
	p.InternalSubGrouping = domain.SubGrouping(subGrp)

	trader, ok := traders[p.TraderName]
	if !ok {
		trader = &domain.Trader{Name: p.TraderName, Group: traderGroup}
		traders[p.TraderName] = trader
	}
	p.Trader = trader
	return p, nil
}

func (r *Repository) withTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
