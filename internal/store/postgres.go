package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/autoprice/internal/db"
	"github.com/sells-group/autoprice/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection. These
// run on every enforcement.
var preparedStatements = map[string]string{
	"get_recommendation":  `SELECT ` + pgRecommendationColumns + ` FROM pricing_recommendations WHERE id = $1`,
	"transition_rec":      `UPDATE pricing_recommendations SET status = $1, note = $2, updated_at = now() WHERE id = $3 AND status = 'PENDING'`,
	"get_policy":          `SELECT segment_key, tier, status, config, updated_at FROM autonomy_policies WHERE segment_key = $1`,
	"get_setting":         `SELECT key, value, updated_at FROM system_settings WHERE key = $1`,
	"insert_decision":     `INSERT INTO autonomy_decision_logs (id, recommendation_id, segment_key, tier_used, decision, confidence, expected_margin, reasons, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	"insert_price_change": `INSERT INTO price_change_logs (` + pgPriceChangeColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS products (
	id              TEXT PRIMARY KEY,
	vendor          TEXT NOT NULL,
	category_code   TEXT,
	strategy_id     TEXT,
	lifecycle_stage TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS market_accounts (
	id      TEXT PRIMARY KEY,
	name    TEXT NOT NULL DEFAULT '',
	channel TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS listings (
	product_id        TEXT NOT NULL,
	market_account_id TEXT NOT NULL,
	listing_ref       TEXT NOT NULL,
	PRIMARY KEY (product_id, market_account_id)
);

CREATE TABLE IF NOT EXISTS category_strategies (
	category_code TEXT PRIMARY KEY,
	strategy_id   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pricing_strategies (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name            TEXT NOT NULL UNIQUE,
	target_margin   DOUBLE PRECISION NOT NULL,
	min_margin      DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_delta_ratio DOUBLE PRECISION NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pricing_recommendations (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	product_id        TEXT NOT NULL,
	market_account_id TEXT NOT NULL,
	strategy_id       TEXT,
	current_price     BIGINT NOT NULL,
	recommended_price BIGINT NOT NULL,
	confidence        DOUBLE PRECISION NOT NULL,
	expected_margin   DOUBLE PRECISION NOT NULL,
	status            TEXT NOT NULL DEFAULT 'PENDING',
	reason_codes      JSONB NOT NULL DEFAULT '[]',
	experiment_id     TEXT,
	experiment_group  TEXT NOT NULL DEFAULT '',
	note              TEXT NOT NULL DEFAULT '',
	claim_token       TEXT,
	claim_expires_at  TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_recs_status_created ON pricing_recommendations(status, created_at);
CREATE INDEX IF NOT EXISTS idx_recs_strategy_created ON pricing_recommendations(strategy_id, created_at);
CREATE INDEX IF NOT EXISTS idx_recs_experiment ON pricing_recommendations(experiment_id, experiment_group);

CREATE TABLE IF NOT EXISTS price_change_logs (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	recommendation_id TEXT NOT NULL DEFAULT '',
	product_id        TEXT NOT NULL,
	market_account_id TEXT NOT NULL,
	old_price         BIGINT NOT NULL,
	new_price         BIGINT NOT NULL,
	source            TEXT NOT NULL,
	status            TEXT NOT NULL,
	error             TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_pcl_account_status_created ON price_change_logs(market_account_id, status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_pcl_product_account_created ON price_change_logs(product_id, market_account_id, created_at DESC);

CREATE TABLE IF NOT EXISTS autonomy_policies (
	segment_key TEXT PRIMARY KEY,
	tier        INTEGER NOT NULL DEFAULT 0 CHECK (tier BETWEEN 0 AND 3),
	status      TEXT NOT NULL DEFAULT 'ACTIVE',
	config      JSONB NOT NULL DEFAULT '{}',
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS autonomy_decision_logs (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	recommendation_id TEXT NOT NULL,
	segment_key       TEXT NOT NULL,
	tier_used         INTEGER NOT NULL,
	decision          TEXT NOT NULL,
	confidence        DOUBLE PRECISION NOT NULL,
	expected_margin   DOUBLE PRECISION NOT NULL,
	reasons           JSONB NOT NULL DEFAULT '[]',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_adl_segment_created ON autonomy_decision_logs(segment_key, created_at DESC);

CREATE TABLE IF NOT EXISTS pricing_experiments (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name              TEXT NOT NULL,
	market_account_id TEXT,
	test_ratio        DOUBLE PRECISION NOT NULL CHECK (test_ratio BETWEEN 0 AND 1),
	variant           JSONB NOT NULL DEFAULT '{}',
	status            TEXT NOT NULL DEFAULT 'DRAFT',
	metrics           JSONB NOT NULL DEFAULT '{}',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS product_experiment_mappings (
	experiment_id    TEXT NOT NULL,
	product_id       TEXT NOT NULL,
	experiment_group TEXT NOT NULL,
	assigned_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (experiment_id, product_id)
);

CREATE TABLE IF NOT EXISTS pricing_settings (
	market_account_id    TEXT PRIMARY KEY,
	auto_mode            TEXT NOT NULL DEFAULT 'SHADOW',
	confidence_threshold DOUBLE PRECISION NOT NULL,
	max_changes_per_hour INTEGER NOT NULL,
	cooldown_hours       INTEGER NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS system_settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tuning_recommendations (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	strategy_id   TEXT NOT NULL,
	suggested     JSONB NOT NULL DEFAULT '{}',
	reason_code   TEXT NOT NULL,
	reason_detail TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'PENDING',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	applied_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_tuning_strategy_reason ON tuning_recommendations(strategy_id, reason_code, status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Catalog ---

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	var p model.Product
	err := s.pool.QueryRow(ctx,
		`SELECT id, vendor, category_code, strategy_id, lifecycle_stage FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.Vendor, &p.CategoryCode, &p.StrategyID, &p.LifecycleStage)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get product %s", id)
	}
	return &p, nil
}

func (s *PostgresStore) UpsertProduct(ctx context.Context, p *model.Product) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO products (id, vendor, category_code, strategy_id, lifecycle_stage) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET vendor = EXCLUDED.vendor, category_code = EXCLUDED.category_code,
			strategy_id = EXCLUDED.strategy_id, lifecycle_stage = EXCLUDED.lifecycle_stage`,
		p.ID, p.Vendor, p.CategoryCode, p.StrategyID, p.LifecycleStage,
	)
	return eris.Wrapf(err, "postgres: upsert product %s", p.ID)
}

func (s *PostgresStore) GetMarketAccount(ctx context.Context, id string) (*model.MarketAccount, error) {
	var a model.MarketAccount
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, channel FROM market_accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.Channel)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get market account %s", id)
	}
	return &a, nil
}

func (s *PostgresStore) UpsertMarketAccount(ctx context.Context, a *model.MarketAccount) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO market_accounts (id, name, channel) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, channel = EXCLUDED.channel`,
		a.ID, a.Name, a.Channel,
	)
	return eris.Wrapf(err, "postgres: upsert market account %s", a.ID)
}

func (s *PostgresStore) GetListing(ctx context.Context, productID, accountID string) (*model.Listing, error) {
	var l model.Listing
	err := s.pool.QueryRow(ctx,
		`SELECT product_id, market_account_id, listing_ref FROM listings WHERE product_id = $1 AND market_account_id = $2`,
		productID, accountID,
	).Scan(&l.ProductID, &l.MarketAccountID, &l.ListingRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get listing %s/%s", productID, accountID)
	}
	return &l, nil
}

func (s *PostgresStore) UpsertListing(ctx context.Context, l *model.Listing) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO listings (product_id, market_account_id, listing_ref) VALUES ($1, $2, $3)
		ON CONFLICT (product_id, market_account_id) DO UPDATE SET listing_ref = EXCLUDED.listing_ref`,
		l.ProductID, l.MarketAccountID, l.ListingRef,
	)
	return eris.Wrapf(err, "postgres: upsert listing %s/%s", l.ProductID, l.MarketAccountID)
}

func (s *PostgresStore) GetCategoryStrategyID(ctx context.Context, categoryCode string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT strategy_id FROM category_strategies WHERE category_code = $1`, categoryCode,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "postgres: get category strategy %s", categoryCode)
	}
	return id, nil
}

func (s *PostgresStore) SetCategoryStrategy(ctx context.Context, categoryCode, strategyID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO category_strategies (category_code, strategy_id) VALUES ($1, $2)
		ON CONFLICT (category_code) DO UPDATE SET strategy_id = EXCLUDED.strategy_id`,
		categoryCode, strategyID,
	)
	return eris.Wrapf(err, "postgres: set category strategy %s", categoryCode)
}

// --- Strategies ---

const pgStrategyColumns = `id, name, target_margin, min_margin, max_delta_ratio, updated_at`

func (s *PostgresStore) CreateStrategy(ctx context.Context, st *model.PricingStrategy) error {
	if st.ID == "" {
		st.ID = newID()
	}
	st.UpdatedAt = orNow(st.UpdatedAt)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pricing_strategies (`+pgStrategyColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		st.ID, st.Name, st.TargetMargin, st.MinMargin, st.MaxDeltaRatio, st.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: create strategy %s", st.Name)
}

func (s *PostgresStore) GetStrategy(ctx context.Context, id string) (*model.PricingStrategy, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgStrategyColumns+` FROM pricing_strategies WHERE id = $1`, id)
	return scanPgStrategy(row)
}

func (s *PostgresStore) GetStrategyByName(ctx context.Context, name string) (*model.PricingStrategy, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgStrategyColumns+` FROM pricing_strategies WHERE name = $1`, name)
	return scanPgStrategy(row)
}

func (s *PostgresStore) ListStrategies(ctx context.Context) ([]model.PricingStrategy, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgStrategyColumns+` FROM pricing_strategies ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list strategies")
	}
	defer rows.Close()

	var out []model.PricingStrategy
	for rows.Next() {
		st, err := scanPgStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list strategies iterate")
}

func (s *PostgresStore) StrategyOutcome(ctx context.Context, strategyID string, since time.Time) (*model.StrategyOutcome, error) {
	out := &model.StrategyOutcome{StrategyID: strategyID}
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'PENDING'),
			COUNT(*) FILTER (WHERE status = 'APPLIED'),
			COUNT(*) FILTER (WHERE status = 'REJECTED'),
			COUNT(*) FILTER (WHERE status = 'FAIL'),
			COALESCE(AVG(expected_margin), 0)
		FROM pricing_recommendations WHERE strategy_id = $1 AND created_at >= $2`,
		strategyID, since,
	).Scan(&out.Total, &out.Pending, &out.Applied, &out.Rejected, &out.Failed, &out.AvgExpectedMargin)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: strategy outcome %s", strategyID)
	}
	return out, nil
}

func scanPgStrategy(row pgx.Row) (*model.PricingStrategy, error) {
	var st model.PricingStrategy
	err := row.Scan(&st.ID, &st.Name, &st.TargetMargin, &st.MinMargin, &st.MaxDeltaRatio, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan strategy")
	}
	return &st, nil
}

// --- Recommendations ---

const pgRecommendationColumns = `id, product_id, market_account_id, strategy_id, current_price, recommended_price,
	confidence, expected_margin, status, reason_codes, experiment_id, experiment_group, note, created_at, updated_at`

func (s *PostgresStore) CreateRecommendation(ctx context.Context, r *model.PricingRecommendation) error {
	if r.ID == "" {
		r.ID = newID()
	}
	if r.Status == "" {
		r.Status = model.RecommendationPending
	}
	r.CreatedAt = orNow(r.CreatedAt)
	r.UpdatedAt = r.CreatedAt
	reasons, err := marshalJSON(nonNilStrings(r.ReasonCodes), "reason codes")
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO pricing_recommendations (`+pgRecommendationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID, r.ProductID, r.MarketAccountID, r.StrategyID, r.CurrentPrice, r.RecommendedPrice,
		r.Confidence, r.ExpectedMargin, string(r.Status), reasons, r.ExperimentID,
		string(r.ExperimentGroup), r.Note, r.CreatedAt, r.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: create recommendation %s", r.ID)
}

func (s *PostgresStore) GetRecommendation(ctx context.Context, id string) (*model.PricingRecommendation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgRecommendationColumns+` FROM pricing_recommendations WHERE id = $1`, id)
	return scanPgRecommendation(row)
}

func (s *PostgresStore) ListRecommendations(ctx context.Context, filter RecommendationFilter) ([]model.PricingRecommendation, error) {
	query := `SELECT ` + pgRecommendationColumns + ` FROM pricing_recommendations WHERE 1=1`
	var args []any
	n := 1

	if filter.Status != "" {
		query += ` AND status = ` + placeholder(&n)
		args = append(args, string(filter.Status))
	}
	if filter.ProductID != "" {
		query += ` AND product_id = ` + placeholder(&n)
		args = append(args, filter.ProductID)
	}
	if filter.MarketAccountID != "" {
		query += ` AND market_account_id = ` + placeholder(&n)
		args = append(args, filter.MarketAccountID)
	}
	if filter.OldestFirst {
		query += ` ORDER BY created_at ASC, id ASC`
	} else {
		query += ` ORDER BY created_at DESC, id DESC`
	}
	query += ` LIMIT ` + placeholder(&n)
	args = append(args, limitOr(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ` + placeholder(&n)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list recommendations")
	}
	defer rows.Close()

	var out []model.PricingRecommendation
	for rows.Next() {
		r, err := scanPgRecommendation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list recommendations iterate")
}

func (s *PostgresStore) CountRecommendations(ctx context.Context, status model.RecommendationStatus) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM pricing_recommendations WHERE status = $1`, string(status),
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count recommendations")
}

func (s *PostgresStore) TransitionRecommendation(ctx context.Context, id string, to model.RecommendationStatus, note string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pricing_recommendations SET status = $1, note = $2, updated_at = now()
		WHERE id = $3 AND status = 'PENDING' AND (claim_expires_at IS NULL OR claim_expires_at < now())`,
		string(to), note, id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: transition recommendation %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ClaimRecommendation(ctx context.Context, id, token string, until time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pricing_recommendations SET claim_token = $1, claim_expires_at = $2, updated_at = now()
		WHERE id = $3 AND status = 'PENDING' AND (claim_expires_at IS NULL OR claim_expires_at < now())`,
		token, until.UTC(), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim recommendation %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) CompleteClaim(ctx context.Context, id, token string, to model.RecommendationStatus, note string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pricing_recommendations SET status = $1, note = $2, claim_token = NULL, claim_expires_at = NULL, updated_at = now()
		WHERE id = $3 AND status = 'PENDING' AND claim_token = $4`,
		string(to), note, id, token,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: complete claim %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ReleaseClaim(ctx context.Context, id, token string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE pricing_recommendations SET claim_token = NULL, claim_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND claim_token = $2`,
		id, token,
	)
	return eris.Wrapf(err, "postgres: release claim %s", id)
}

func (s *PostgresStore) NoteRecommendation(ctx context.Context, id, note string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE pricing_recommendations SET note = $1, updated_at = now() WHERE id = $2 AND status = 'PENDING'`,
		note, id,
	)
	return eris.Wrapf(err, "postgres: note recommendation %s", id)
}

func (s *PostgresStore) TagRecommendationExperiment(ctx context.Context, id, experimentID string, group model.ExperimentGroup) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE pricing_recommendations SET experiment_id = $1, experiment_group = $2, updated_at = now() WHERE id = $3 AND status = 'PENDING'`,
		experimentID, string(group), id,
	)
	return eris.Wrapf(err, "postgres: tag recommendation %s", id)
}

func (s *PostgresStore) AssignRecommendationStrategy(ctx context.Context, id, strategyID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE pricing_recommendations SET strategy_id = $1, updated_at = now() WHERE id = $2 AND status = 'PENDING' AND strategy_id IS NULL`,
		strategyID, id,
	)
	return eris.Wrapf(err, "postgres: assign strategy to recommendation %s", id)
}

func scanPgRecommendation(row pgx.Row) (*model.PricingRecommendation, error) {
	var r model.PricingRecommendation
	var status, group string
	var reasons []byte
	err := row.Scan(&r.ID, &r.ProductID, &r.MarketAccountID, &r.StrategyID, &r.CurrentPrice, &r.RecommendedPrice,
		&r.Confidence, &r.ExpectedMargin, &status, &reasons, &r.ExperimentID, &group, &r.Note, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan recommendation")
	}
	if err := unmarshalJSON(reasons, &r.ReasonCodes, "reason codes"); err != nil {
		return nil, err
	}
	r.Status = model.RecommendationStatus(status)
	r.ExperimentGroup = model.ExperimentGroup(group)
	return &r, nil
}

// --- Price change log ---

const pgPriceChangeColumns = `id, recommendation_id, product_id, market_account_id, old_price, new_price, source, status, error, created_at`

func (s *PostgresStore) InsertPriceChange(ctx context.Context, c *model.PriceChange) error {
	if c.ID == "" {
		c.ID = newID()
	}
	c.CreatedAt = orNow(c.CreatedAt)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_change_logs (`+pgPriceChangeColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.RecommendationID, c.ProductID, c.MarketAccountID, c.OldPrice, c.NewPrice,
		c.Source, string(c.Status), c.Error, c.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert price change for %s", c.ProductID)
}

func pgPriceChangeWhere(filter PriceChangeFilter, n *int) (string, []any) {
	where := ` WHERE 1=1`
	var args []any
	if filter.ProductID != "" {
		where += ` AND product_id = ` + placeholder(n)
		args = append(args, filter.ProductID)
	}
	if filter.MarketAccountID != "" {
		where += ` AND market_account_id = ` + placeholder(n)
		args = append(args, filter.MarketAccountID)
	}
	if filter.Status != "" {
		where += ` AND status = ` + placeholder(n)
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		where += ` AND created_at >= ` + placeholder(n)
		args = append(args, filter.Since)
	}
	return where, args
}

func (s *PostgresStore) CountPriceChanges(ctx context.Context, filter PriceChangeFilter) (int, error) {
	n := 1
	where, args := pgPriceChangeWhere(filter, &n)
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM price_change_logs`+where, args...).Scan(&count)
	return count, eris.Wrap(err, "postgres: count price changes")
}

func (s *PostgresStore) ListPriceChanges(ctx context.Context, filter PriceChangeFilter) ([]model.PriceChange, error) {
	n := 1
	where, args := pgPriceChangeWhere(filter, &n)
	query := `SELECT ` + pgPriceChangeColumns + ` FROM price_change_logs` + where + ` ORDER BY created_at DESC LIMIT ` + placeholder(&n)
	args = append(args, limitOr(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list price changes")
	}
	defer rows.Close()

	var out []model.PriceChange
	for rows.Next() {
		var c model.PriceChange
		var status string
		if err := rows.Scan(&c.ID, &c.RecommendationID, &c.ProductID, &c.MarketAccountID, &c.OldPrice, &c.NewPrice,
			&c.Source, &status, &c.Error, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan price change")
		}
		c.Status = model.PriceChangeStatus(status)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list price changes iterate")
}

// --- Autonomy policies ---

func (s *PostgresStore) GetPolicy(ctx context.Context, segmentKey string) (*model.AutonomyPolicy, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT segment_key, tier, status, config, updated_at FROM autonomy_policies WHERE segment_key = $1`, segmentKey)
	return scanPgPolicy(row)
}

func (s *PostgresStore) UpsertPolicy(ctx context.Context, p *model.AutonomyPolicy) error {
	if !p.Tier.Valid() {
		return eris.Errorf("postgres: invalid tier %d", p.Tier)
	}
	if p.Status == "" {
		p.Status = model.PolicyActive
	}
	p.UpdatedAt = nowUTC()
	cfg, err := marshalJSON(p.Config, "segment config")
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO autonomy_policies (segment_key, tier, status, config, updated_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (segment_key) DO UPDATE SET tier = EXCLUDED.tier, status = EXCLUDED.status,
			config = EXCLUDED.config, updated_at = EXCLUDED.updated_at`,
		p.SegmentKey, int(p.Tier), string(p.Status), cfg, p.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert policy %s", p.SegmentKey)
}

func (s *PostgresStore) ListPolicies(ctx context.Context, status model.PolicyStatus) ([]model.AutonomyPolicy, error) {
	query := `SELECT segment_key, tier, status, config, updated_at FROM autonomy_policies`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY segment_key`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list policies")
	}
	defer rows.Close()

	var out []model.AutonomyPolicy
	for rows.Next() {
		p, err := scanPgPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list policies iterate")
}

func (s *PostgresStore) SetPolicyState(ctx context.Context, segmentKey string, tier model.Tier, status model.PolicyStatus) (bool, error) {
	if !tier.Valid() {
		return false, eris.Errorf("postgres: invalid tier %d", tier)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE autonomy_policies SET tier = $1, status = $2, updated_at = now() WHERE segment_key = $3`,
		int(tier), string(status), segmentKey,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: set policy state %s", segmentKey)
	}
	return tag.RowsAffected() == 1, nil
}

func scanPgPolicy(row pgx.Row) (*model.AutonomyPolicy, error) {
	var p model.AutonomyPolicy
	var tier int
	var status string
	var cfg []byte
	err := row.Scan(&p.SegmentKey, &tier, &status, &cfg, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan policy")
	}
	if err := unmarshalJSON(cfg, &p.Config, "segment config"); err != nil {
		return nil, err
	}
	p.Tier = model.Tier(tier)
	p.Status = model.PolicyStatus(status)
	return &p, nil
}

// --- Autonomy decisions ---

func (s *PostgresStore) InsertDecision(ctx context.Context, d *model.AutonomyDecision) error {
	if d.ID == "" {
		d.ID = newID()
	}
	d.CreatedAt = orNow(d.CreatedAt)
	reasons, err := marshalJSON(nonNilStrings(d.Reasons), "reasons")
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO autonomy_decision_logs (id, recommendation_id, segment_key, tier_used, decision, confidence, expected_margin, reasons, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.RecommendationID, d.SegmentKey, int(d.TierUsed), string(d.Decision),
		d.Confidence, d.ExpectedMargin, reasons, d.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert decision for %s", d.RecommendationID)
}

func (s *PostgresStore) ListDecisions(ctx context.Context, filter DecisionFilter) ([]model.AutonomyDecision, error) {
	query := `SELECT id, recommendation_id, segment_key, tier_used, decision, confidence, expected_margin, reasons, created_at
		FROM autonomy_decision_logs WHERE 1=1`
	var args []any
	n := 1
	if filter.SegmentKey != "" {
		query += ` AND segment_key = ` + placeholder(&n)
		args = append(args, filter.SegmentKey)
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ` + placeholder(&n)
		args = append(args, filter.Since)
	}
	query += ` ORDER BY created_at DESC LIMIT ` + placeholder(&n)
	args = append(args, limitOr(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list decisions")
	}
	defer rows.Close()

	var out []model.AutonomyDecision
	for rows.Next() {
		var d model.AutonomyDecision
		var tier int
		var decision string
		var reasons []byte
		if err := rows.Scan(&d.ID, &d.RecommendationID, &d.SegmentKey, &tier, &decision,
			&d.Confidence, &d.ExpectedMargin, &reasons, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan decision")
		}
		if err := unmarshalJSON(reasons, &d.Reasons, "reasons"); err != nil {
			return nil, err
		}
		d.TierUsed = model.Tier(tier)
		d.Decision = model.Decision(decision)
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list decisions iterate")
}

func (s *PostgresStore) SegmentStats(ctx context.Context, segmentKey string, since time.Time) (*model.SegmentStats, error) {
	st := &model.SegmentStats{SegmentKey: segmentKey}
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE decision = 'APPLIED'),
			COUNT(*) FILTER (WHERE decision = 'PENDING'),
			COUNT(*) FILTER (WHERE decision = 'REJECTED'),
			COALESCE(AVG(confidence), 0)
		FROM autonomy_decision_logs WHERE segment_key = $1 AND created_at >= $2`,
		segmentKey, since,
	).Scan(&st.Total, &st.Applied, &st.Pending, &st.Rejected, &st.AvgConfidence)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: segment stats %s", segmentKey)
	}
	return st, nil
}

// --- Experiments ---

const pgExperimentColumns = `id, name, market_account_id, test_ratio, variant, status, metrics, created_at`

func (s *PostgresStore) CreateExperiment(ctx context.Context, e *model.PricingExperiment) error {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.Status == "" {
		e.Status = model.ExperimentDraft
	}
	e.CreatedAt = orNow(e.CreatedAt)
	variant, err := marshalJSON(e.Variant, "variant")
	if err != nil {
		return err
	}
	metrics, err := marshalJSON(e.Metrics, "metrics")
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO pricing_experiments (`+pgExperimentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Name, e.MarketAccountID, e.TestRatio, variant, string(e.Status), metrics, e.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: create experiment %s", e.Name)
}

func (s *PostgresStore) GetExperiment(ctx context.Context, id string) (*model.PricingExperiment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgExperimentColumns+` FROM pricing_experiments WHERE id = $1`, id)
	return scanPgExperiment(row)
}

func (s *PostgresStore) ListExperiments(ctx context.Context) ([]model.PricingExperiment, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgExperimentColumns+` FROM pricing_experiments ORDER BY created_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list experiments")
	}
	defer rows.Close()

	var out []model.PricingExperiment
	for rows.Next() {
		e, err := scanPgExperiment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list experiments iterate")
}

func (s *PostgresStore) GetActiveExperiment(ctx context.Context, accountID string) (*model.PricingExperiment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgExperimentColumns+` FROM pricing_experiments
		WHERE status = 'ACTIVE' AND (market_account_id IS NULL OR market_account_id = $1)
		ORDER BY created_at DESC LIMIT 1`, accountID)
	return scanPgExperiment(row)
}

func (s *PostgresStore) SetExperimentStatus(ctx context.Context, id string, status model.ExperimentStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE pricing_experiments SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: set experiment status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("experiment not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) UpdateExperimentMetrics(ctx context.Context, id string, metrics model.ExperimentMetrics) error {
	b, err := marshalJSON(metrics, "metrics")
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE pricing_experiments SET metrics = $1 WHERE id = $2`, b, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update experiment metrics %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("experiment not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) GetAssignment(ctx context.Context, experimentID, productID string) (*model.ExperimentAssignment, error) {
	var a model.ExperimentAssignment
	var group string
	err := s.pool.QueryRow(ctx,
		`SELECT experiment_id, product_id, experiment_group, assigned_at FROM product_experiment_mappings
		WHERE experiment_id = $1 AND product_id = $2`, experimentID, productID,
	).Scan(&a.ExperimentID, &a.ProductID, &group, &a.AssignedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get assignment %s/%s", experimentID, productID)
	}
	a.Group = model.ExperimentGroup(group)
	return &a, nil
}

func (s *PostgresStore) AssignIfAbsent(ctx context.Context, a *model.ExperimentAssignment) (*model.ExperimentAssignment, error) {
	a.AssignedAt = orNow(a.AssignedAt)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO product_experiment_mappings (experiment_id, product_id, experiment_group, assigned_at)
		VALUES ($1, $2, $3, $4) ON CONFLICT (experiment_id, product_id) DO NOTHING`,
		a.ExperimentID, a.ProductID, string(a.Group), a.AssignedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: assign %s/%s", a.ExperimentID, a.ProductID)
	}
	return s.GetAssignment(ctx, a.ExperimentID, a.ProductID)
}

func (s *PostgresStore) CohortMetrics(ctx context.Context, experimentID string, group model.ExperimentGroup) (*model.CohortMetrics, error) {
	m := &model.CohortMetrics{}
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'APPLIED'),
			COUNT(*) FILTER (WHERE status = 'REJECTED'),
			COUNT(*) FILTER (WHERE status = 'FAIL'),
			COALESCE(AVG(expected_margin), 0)
		FROM pricing_recommendations WHERE experiment_id = $1 AND experiment_group = $2`,
		experimentID, string(group),
	).Scan(&m.Total, &m.Applied, &m.Rejected, &m.Failed, &m.AvgExpectedMargin)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: cohort metrics %s/%s", experimentID, group)
	}
	return m, nil
}

func scanPgExperiment(row pgx.Row) (*model.PricingExperiment, error) {
	var e model.PricingExperiment
	var status string
	var variant, metrics []byte
	err := row.Scan(&e.ID, &e.Name, &e.MarketAccountID, &e.TestRatio, &variant, &status, &metrics, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan experiment")
	}
	if err := unmarshalJSON(variant, &e.Variant, "variant"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metrics, &e.Metrics, "metrics"); err != nil {
		return nil, err
	}
	e.Status = model.ExperimentStatus(status)
	return &e, nil
}

// --- Settings ---

func (s *PostgresStore) GetPricingSettings(ctx context.Context, accountID string) (*model.PricingSettings, error) {
	var ps model.PricingSettings
	var mode string
	err := s.pool.QueryRow(ctx,
		`SELECT market_account_id, auto_mode, confidence_threshold, max_changes_per_hour, cooldown_hours, updated_at
		FROM pricing_settings WHERE market_account_id = $1`, accountID,
	).Scan(&ps.MarketAccountID, &mode, &ps.ConfidenceThreshold, &ps.MaxChangesPerHour, &ps.CooldownHours, &ps.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get pricing settings %s", accountID)
	}
	if ps.AutoMode, err = model.ParseMode(mode); err != nil {
		return nil, eris.Wrapf(err, "postgres: pricing settings %s", accountID)
	}
	return &ps, nil
}

func (s *PostgresStore) UpsertPricingSettings(ctx context.Context, ps *model.PricingSettings) error {
	ps.UpdatedAt = nowUTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pricing_settings (market_account_id, auto_mode, confidence_threshold, max_changes_per_hour, cooldown_hours, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (market_account_id) DO UPDATE SET auto_mode = EXCLUDED.auto_mode,
			confidence_threshold = EXCLUDED.confidence_threshold, max_changes_per_hour = EXCLUDED.max_changes_per_hour,
			cooldown_hours = EXCLUDED.cooldown_hours, updated_at = EXCLUDED.updated_at`,
		ps.MarketAccountID, ps.AutoMode.String(), ps.ConfidenceThreshold, ps.MaxChangesPerHour,
		ps.CooldownHours, ps.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert pricing settings %s", ps.MarketAccountID)
}

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (*model.SystemSetting, error) {
	var st model.SystemSetting
	err := s.pool.QueryRow(ctx,
		`SELECT key, value, updated_at FROM system_settings WHERE key = $1`, key,
	).Scan(&st.Key, &st.Value, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get setting %s", key)
	}
	return &st, nil
}

func (s *PostgresStore) UpsertSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO system_settings (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value,
	)
	return eris.Wrapf(err, "postgres: upsert setting %s", key)
}

// --- Tuning recommendations ---

const pgTuningColumns = `id, strategy_id, suggested, reason_code, reason_detail, status, created_at, applied_at`

func (s *PostgresStore) CreateTuningRecommendation(ctx context.Context, t *model.TuningRecommendation) error {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.Status == "" {
		t.Status = model.TuningPending
	}
	t.CreatedAt = orNow(t.CreatedAt)
	suggested, err := marshalJSON(t.Suggested, "suggested config")
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tuning_recommendations (`+pgTuningColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, NULL)`,
		t.ID, t.StrategyID, suggested, t.ReasonCode, t.ReasonDetail, string(t.Status), t.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: create tuning recommendation for %s", t.StrategyID)
}

func (s *PostgresStore) GetTuningRecommendation(ctx context.Context, id string) (*model.TuningRecommendation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgTuningColumns+` FROM tuning_recommendations WHERE id = $1`, id)
	return scanPgTuning(row)
}

func (s *PostgresStore) ListTuningRecommendations(ctx context.Context, status model.TuningStatus) ([]model.TuningRecommendation, error) {
	query := `SELECT ` + pgTuningColumns + ` FROM tuning_recommendations`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tuning recommendations")
	}
	defer rows.Close()

	var out []model.TuningRecommendation
	for rows.Next() {
		t, err := scanPgTuning(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list tuning recommendations iterate")
}

func (s *PostgresStore) HasPendingTuning(ctx context.Context, strategyID, reasonCode string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tuning_recommendations WHERE strategy_id = $1 AND reason_code = $2 AND status = 'PENDING')`,
		strategyID, reasonCode,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: pending tuning %s/%s", strategyID, reasonCode)
	}
	return exists, nil
}

func (s *PostgresStore) ApplyTuning(ctx context.Context, id string, st *model.PricingStrategy, at time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: apply tuning: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	st.UpdatedAt = at.UTC()
	tag, err := tx.Exec(ctx,
		`UPDATE pricing_strategies SET target_margin = $1, min_margin = $2, max_delta_ratio = $3, updated_at = $4 WHERE id = $5`,
		st.TargetMargin, st.MinMargin, st.MaxDeltaRatio, st.UpdatedAt, st.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: apply tuning: update strategy %s", st.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("strategy not found: %s", st.ID)
	}

	tag, err = tx.Exec(ctx,
		`UPDATE tuning_recommendations SET status = 'APPLIED', applied_at = $1 WHERE id = $2 AND status = 'PENDING'`,
		at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: apply tuning: mark %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("pending tuning recommendation not found: %s", id)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: apply tuning: commit")
}

func (s *PostgresStore) ResolveTuning(ctx context.Context, id string, status model.TuningStatus, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tuning_recommendations SET status = $1, applied_at = $2 WHERE id = $3 AND status = 'PENDING'`,
		string(status), at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve tuning %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("pending tuning recommendation not found: %s", id)
	}
	return nil
}

func scanPgTuning(row pgx.Row) (*model.TuningRecommendation, error) {
	var t model.TuningRecommendation
	var status string
	var suggested []byte
	err := row.Scan(&t.ID, &t.StrategyID, &suggested, &t.ReasonCode, &t.ReasonDetail, &status, &t.CreatedAt, &t.AppliedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan tuning recommendation")
	}
	if err := unmarshalJSON(suggested, &t.Suggested, "suggested config"); err != nil {
		return nil, err
	}
	t.Status = model.TuningStatus(status)
	return &t, nil
}

// placeholder returns the next positional parameter and advances n.
func placeholder(n *int) string {
	p := "$" + strconv.Itoa(*n)
	*n++
	return p
}
