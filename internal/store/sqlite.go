package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/autoprice/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// Pragmas travel in the DSN so every pooled connection gets them.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}

const sqliteMigration = `
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
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL UNIQUE,
	target_margin   REAL NOT NULL,
	min_margin      REAL NOT NULL DEFAULT 0,
	max_delta_ratio REAL NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pricing_recommendations (
	id                TEXT PRIMARY KEY,
	product_id        TEXT NOT NULL,
	market_account_id TEXT NOT NULL,
	strategy_id       TEXT,
	current_price     INTEGER NOT NULL,
	recommended_price INTEGER NOT NULL,
	confidence        REAL NOT NULL,
	expected_margin   REAL NOT NULL,
	status            TEXT NOT NULL DEFAULT 'PENDING',
	reason_codes      TEXT NOT NULL DEFAULT '[]',
	experiment_id     TEXT,
	experiment_group  TEXT NOT NULL DEFAULT '',
	note              TEXT NOT NULL DEFAULT '',
	claim_token       TEXT,
	claim_expires_at  DATETIME,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_recs_status_created ON pricing_recommendations(status, created_at);
CREATE INDEX IF NOT EXISTS idx_recs_strategy_created ON pricing_recommendations(strategy_id, created_at);
CREATE INDEX IF NOT EXISTS idx_recs_experiment ON pricing_recommendations(experiment_id, experiment_group);

CREATE TABLE IF NOT EXISTS price_change_logs (
	id                TEXT PRIMARY KEY,
	recommendation_id TEXT NOT NULL DEFAULT '',
	product_id        TEXT NOT NULL,
	market_account_id TEXT NOT NULL,
	old_price         INTEGER NOT NULL,
	new_price         INTEGER NOT NULL,
	source            TEXT NOT NULL,
	status            TEXT NOT NULL,
	error             TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pcl_account_status_created ON price_change_logs(market_account_id, status, created_at);
CREATE INDEX IF NOT EXISTS idx_pcl_product_account_created ON price_change_logs(product_id, market_account_id, created_at);

CREATE TABLE IF NOT EXISTS autonomy_policies (
	segment_key TEXT PRIMARY KEY,
	tier        INTEGER NOT NULL DEFAULT 0 CHECK (tier BETWEEN 0 AND 3),
	status      TEXT NOT NULL DEFAULT 'ACTIVE',
	config      TEXT NOT NULL DEFAULT '{}',
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS autonomy_decision_logs (
	id                TEXT PRIMARY KEY,
	recommendation_id TEXT NOT NULL,
	segment_key       TEXT NOT NULL,
	tier_used         INTEGER NOT NULL,
	decision          TEXT NOT NULL,
	confidence        REAL NOT NULL,
	expected_margin   REAL NOT NULL,
	reasons           TEXT NOT NULL DEFAULT '[]',
	created_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_adl_segment_created ON autonomy_decision_logs(segment_key, created_at);

CREATE TABLE IF NOT EXISTS pricing_experiments (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	market_account_id TEXT,
	test_ratio        REAL NOT NULL,
	variant           TEXT NOT NULL DEFAULT '{}',
	status            TEXT NOT NULL DEFAULT 'DRAFT',
	metrics           TEXT NOT NULL DEFAULT '{}',
	created_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS product_experiment_mappings (
	experiment_id    TEXT NOT NULL,
	product_id       TEXT NOT NULL,
	experiment_group TEXT NOT NULL,
	assigned_at      DATETIME NOT NULL,
	PRIMARY KEY (experiment_id, product_id)
);

CREATE TABLE IF NOT EXISTS pricing_settings (
	market_account_id    TEXT PRIMARY KEY,
	auto_mode            TEXT NOT NULL DEFAULT 'SHADOW',
	confidence_threshold REAL NOT NULL,
	max_changes_per_hour INTEGER NOT NULL,
	cooldown_hours       INTEGER NOT NULL,
	updated_at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS system_settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tuning_recommendations (
	id            TEXT PRIMARY KEY,
	strategy_id   TEXT NOT NULL,
	suggested     TEXT NOT NULL DEFAULT '{}',
	reason_code   TEXT NOT NULL,
	reason_detail TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'PENDING',
	created_at    DATETIME NOT NULL,
	applied_at    DATETIME
);

CREATE INDEX IF NOT EXISTS idx_tuning_strategy_reason ON tuning_recommendations(strategy_id, reason_code, status);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Catalog ---

func (s *SQLiteStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	var p model.Product
	var category, strategyID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, vendor, category_code, strategy_id, lifecycle_stage FROM products WHERE id = ?`, id,
	).Scan(&p.ID, &p.Vendor, &category, &strategyID, &p.LifecycleStage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get product %s", id)
	}
	p.CategoryCode = nullString(category)
	p.StrategyID = nullString(strategyID)
	return &p, nil
}

func (s *SQLiteStore) UpsertProduct(ctx context.Context, p *model.Product) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, vendor, category_code, strategy_id, lifecycle_stage) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET vendor = excluded.vendor, category_code = excluded.category_code,
			strategy_id = excluded.strategy_id, lifecycle_stage = excluded.lifecycle_stage`,
		p.ID, p.Vendor, strOrNil(p.CategoryCode), strOrNil(p.StrategyID), p.LifecycleStage,
	)
	return eris.Wrapf(err, "sqlite: upsert product %s", p.ID)
}

func (s *SQLiteStore) GetMarketAccount(ctx context.Context, id string) (*model.MarketAccount, error) {
	var a model.MarketAccount
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, channel FROM market_accounts WHERE id = ?`, id,
	).Scan(&a.ID, &a.Name, &a.Channel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get market account %s", id)
	}
	return &a, nil
}

func (s *SQLiteStore) UpsertMarketAccount(ctx context.Context, a *model.MarketAccount) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO market_accounts (id, name, channel) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, channel = excluded.channel`,
		a.ID, a.Name, a.Channel,
	)
	return eris.Wrapf(err, "sqlite: upsert market account %s", a.ID)
}

func (s *SQLiteStore) GetListing(ctx context.Context, productID, accountID string) (*model.Listing, error) {
	var l model.Listing
	err := s.db.QueryRowContext(ctx,
		`SELECT product_id, market_account_id, listing_ref FROM listings WHERE product_id = ? AND market_account_id = ?`,
		productID, accountID,
	).Scan(&l.ProductID, &l.MarketAccountID, &l.ListingRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get listing %s/%s", productID, accountID)
	}
	return &l, nil
}

func (s *SQLiteStore) UpsertListing(ctx context.Context, l *model.Listing) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO listings (product_id, market_account_id, listing_ref) VALUES (?, ?, ?)
		ON CONFLICT (product_id, market_account_id) DO UPDATE SET listing_ref = excluded.listing_ref`,
		l.ProductID, l.MarketAccountID, l.ListingRef,
	)
	return eris.Wrapf(err, "sqlite: upsert listing %s/%s", l.ProductID, l.MarketAccountID)
}

func (s *SQLiteStore) GetCategoryStrategyID(ctx context.Context, categoryCode string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT strategy_id FROM category_strategies WHERE category_code = ?`, categoryCode,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: get category strategy %s", categoryCode)
	}
	return id, nil
}

func (s *SQLiteStore) SetCategoryStrategy(ctx context.Context, categoryCode, strategyID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO category_strategies (category_code, strategy_id) VALUES (?, ?)
		ON CONFLICT (category_code) DO UPDATE SET strategy_id = excluded.strategy_id`,
		categoryCode, strategyID,
	)
	return eris.Wrapf(err, "sqlite: set category strategy %s", categoryCode)
}

// --- Strategies ---

const sqliteStrategyColumns = `id, name, target_margin, min_margin, max_delta_ratio, updated_at`

func (s *SQLiteStore) CreateStrategy(ctx context.Context, st *model.PricingStrategy) error {
	if st.ID == "" {
		st.ID = newID()
	}
	st.UpdatedAt = orNow(st.UpdatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pricing_strategies (`+sqliteStrategyColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		st.ID, st.Name, st.TargetMargin, st.MinMargin, st.MaxDeltaRatio, sqliteTime(st.UpdatedAt),
	)
	return eris.Wrapf(err, "sqlite: create strategy %s", st.Name)
}

func (s *SQLiteStore) GetStrategy(ctx context.Context, id string) (*model.PricingStrategy, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteStrategyColumns+` FROM pricing_strategies WHERE id = ?`, id)
	return scanSQLiteStrategy(row)
}

func (s *SQLiteStore) GetStrategyByName(ctx context.Context, name string) (*model.PricingStrategy, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteStrategyColumns+` FROM pricing_strategies WHERE name = ?`, name)
	return scanSQLiteStrategy(row)
}

func (s *SQLiteStore) ListStrategies(ctx context.Context) ([]model.PricingStrategy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteStrategyColumns+` FROM pricing_strategies ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list strategies")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PricingStrategy
	for rows.Next() {
		st, err := scanSQLiteStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list strategies iterate")
}

func (s *SQLiteStore) StrategyOutcome(ctx context.Context, strategyID string, since time.Time) (*model.StrategyOutcome, error) {
	out := &model.StrategyOutcome{StrategyID: strategyID}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'PENDING' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'APPLIED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'REJECTED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'FAIL' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(expected_margin), 0)
		FROM pricing_recommendations WHERE strategy_id = ? AND created_at >= ?`,
		strategyID, sqliteTime(since),
	).Scan(&out.Total, &out.Pending, &out.Applied, &out.Rejected, &out.Failed, &out.AvgExpectedMargin)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: strategy outcome %s", strategyID)
	}
	return out, nil
}

func scanSQLiteStrategy(row scannable) (*model.PricingStrategy, error) {
	var st model.PricingStrategy
	var updated scanTime
	err := row.Scan(&st.ID, &st.Name, &st.TargetMargin, &st.MinMargin, &st.MaxDeltaRatio, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan strategy")
	}
	st.UpdatedAt = updated.Time
	return &st, nil
}

// --- Recommendations ---

const sqliteRecommendationColumns = `id, product_id, market_account_id, strategy_id, current_price, recommended_price,
	confidence, expected_margin, status, reason_codes, experiment_id, experiment_group, note, created_at, updated_at`

func (s *SQLiteStore) CreateRecommendation(ctx context.Context, r *model.PricingRecommendation) error {
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pricing_recommendations (`+sqliteRecommendationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProductID, r.MarketAccountID, strOrNil(r.StrategyID), r.CurrentPrice, r.RecommendedPrice,
		r.Confidence, r.ExpectedMargin, string(r.Status), string(reasons), strOrNil(r.ExperimentID),
		string(r.ExperimentGroup), r.Note, sqliteTime(r.CreatedAt), sqliteTime(r.UpdatedAt),
	)
	return eris.Wrapf(err, "sqlite: create recommendation %s", r.ID)
}

func (s *SQLiteStore) GetRecommendation(ctx context.Context, id string) (*model.PricingRecommendation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRecommendationColumns+` FROM pricing_recommendations WHERE id = ?`, id)
	return scanSQLiteRecommendation(row)
}

func (s *SQLiteStore) ListRecommendations(ctx context.Context, filter RecommendationFilter) ([]model.PricingRecommendation, error) {
	query := `SELECT ` + sqliteRecommendationColumns + ` FROM pricing_recommendations WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.ProductID != "" {
		query += ` AND product_id = ?`
		args = append(args, filter.ProductID)
	}
	if filter.MarketAccountID != "" {
		query += ` AND market_account_id = ?`
		args = append(args, filter.MarketAccountID)
	}
	if filter.OldestFirst {
		query += ` ORDER BY created_at ASC, id ASC`
	} else {
		query += ` ORDER BY created_at DESC, id DESC`
	}
	query += ` LIMIT ?`
	args = append(args, limitOr(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list recommendations")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PricingRecommendation
	for rows.Next() {
		r, err := scanSQLiteRecommendation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list recommendations iterate")
}

func (s *SQLiteStore) CountRecommendations(ctx context.Context, status model.RecommendationStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pricing_recommendations WHERE status = ?`, string(status),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count recommendations")
}

func (s *SQLiteStore) TransitionRecommendation(ctx context.Context, id string, to model.RecommendationStatus, note string) (bool, error) {
	now := sqliteTime(nowUTC())
	res, err := s.db.ExecContext(ctx,
		`UPDATE pricing_recommendations SET status = ?, note = ?, updated_at = ?
		WHERE id = ? AND status = 'PENDING' AND (claim_expires_at IS NULL OR claim_expires_at < ?)`,
		string(to), note, now, id, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: transition recommendation %s", id)
	}
	return sqliteAffectedOne(res)
}

func (s *SQLiteStore) ClaimRecommendation(ctx context.Context, id, token string, until time.Time) (bool, error) {
	now := sqliteTime(nowUTC())
	res, err := s.db.ExecContext(ctx,
		`UPDATE pricing_recommendations SET claim_token = ?, claim_expires_at = ?, updated_at = ?
		WHERE id = ? AND status = 'PENDING' AND (claim_expires_at IS NULL OR claim_expires_at < ?)`,
		token, sqliteTime(until), now, id, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: claim recommendation %s", id)
	}
	return sqliteAffectedOne(res)
}

func (s *SQLiteStore) CompleteClaim(ctx context.Context, id, token string, to model.RecommendationStatus, note string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pricing_recommendations SET status = ?, note = ?, claim_token = NULL, claim_expires_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'PENDING' AND claim_token = ?`,
		string(to), note, sqliteTime(nowUTC()), id, token,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: complete claim %s", id)
	}
	return sqliteAffectedOne(res)
}

func (s *SQLiteStore) ReleaseClaim(ctx context.Context, id, token string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pricing_recommendations SET claim_token = NULL, claim_expires_at = NULL, updated_at = ?
		WHERE id = ? AND claim_token = ?`,
		sqliteTime(nowUTC()), id, token,
	)
	return eris.Wrapf(err, "sqlite: release claim %s", id)
}

func sqliteAffectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) NoteRecommendation(ctx context.Context, id, note string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pricing_recommendations SET note = ?, updated_at = ? WHERE id = ? AND status = 'PENDING'`,
		note, sqliteTime(nowUTC()), id,
	)
	return eris.Wrapf(err, "sqlite: note recommendation %s", id)
}

func (s *SQLiteStore) TagRecommendationExperiment(ctx context.Context, id, experimentID string, group model.ExperimentGroup) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pricing_recommendations SET experiment_id = ?, experiment_group = ?, updated_at = ? WHERE id = ? AND status = 'PENDING'`,
		experimentID, string(group), sqliteTime(nowUTC()), id,
	)
	return eris.Wrapf(err, "sqlite: tag recommendation %s", id)
}

func (s *SQLiteStore) AssignRecommendationStrategy(ctx context.Context, id, strategyID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pricing_recommendations SET strategy_id = ?, updated_at = ? WHERE id = ? AND status = 'PENDING' AND strategy_id IS NULL`,
		strategyID, sqliteTime(nowUTC()), id,
	)
	return eris.Wrapf(err, "sqlite: assign strategy to recommendation %s", id)
}

func scanSQLiteRecommendation(row scannable) (*model.PricingRecommendation, error) {
	var r model.PricingRecommendation
	var strategyID, experimentID sql.NullString
	var status, group, reasons string
	var created, updated scanTime
	err := row.Scan(&r.ID, &r.ProductID, &r.MarketAccountID, &strategyID, &r.CurrentPrice, &r.RecommendedPrice,
		&r.Confidence, &r.ExpectedMargin, &status, &reasons, &experimentID, &group, &r.Note, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan recommendation")
	}
	if err := unmarshalJSON([]byte(reasons), &r.ReasonCodes, "reason codes"); err != nil {
		return nil, err
	}
	r.StrategyID = nullString(strategyID)
	r.ExperimentID = nullString(experimentID)
	r.Status = model.RecommendationStatus(status)
	r.ExperimentGroup = model.ExperimentGroup(group)
	r.CreatedAt = created.Time
	r.UpdatedAt = updated.Time
	return &r, nil
}

// --- Price change log ---

const sqlitePriceChangeColumns = `id, recommendation_id, product_id, market_account_id, old_price, new_price, source, status, error, created_at`

func (s *SQLiteStore) InsertPriceChange(ctx context.Context, c *model.PriceChange) error {
	if c.ID == "" {
		c.ID = newID()
	}
	c.CreatedAt = orNow(c.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_change_logs (`+sqlitePriceChangeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.RecommendationID, c.ProductID, c.MarketAccountID, c.OldPrice, c.NewPrice,
		c.Source, string(c.Status), c.Error, sqliteTime(c.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: insert price change for %s", c.ProductID)
}

func sqlitePriceChangeWhere(filter PriceChangeFilter) (string, []any) {
	where := ` WHERE 1=1`
	var args []any
	if filter.ProductID != "" {
		where += ` AND product_id = ?`
		args = append(args, filter.ProductID)
	}
	if filter.MarketAccountID != "" {
		where += ` AND market_account_id = ?`
		args = append(args, filter.MarketAccountID)
	}
	if filter.Status != "" {
		where += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		where += ` AND created_at >= ?`
		args = append(args, sqliteTime(filter.Since))
	}
	return where, args
}

func (s *SQLiteStore) CountPriceChanges(ctx context.Context, filter PriceChangeFilter) (int, error) {
	where, args := sqlitePriceChangeWhere(filter)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM price_change_logs`+where, args...).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count price changes")
}

func (s *SQLiteStore) ListPriceChanges(ctx context.Context, filter PriceChangeFilter) ([]model.PriceChange, error) {
	where, args := sqlitePriceChangeWhere(filter)
	query := `SELECT ` + sqlitePriceChangeColumns + ` FROM price_change_logs` + where + ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOr(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list price changes")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PriceChange
	for rows.Next() {
		var c model.PriceChange
		var status string
		var created scanTime
		if err := rows.Scan(&c.ID, &c.RecommendationID, &c.ProductID, &c.MarketAccountID, &c.OldPrice, &c.NewPrice,
			&c.Source, &status, &c.Error, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan price change")
		}
		c.Status = model.PriceChangeStatus(status)
		c.CreatedAt = created.Time
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list price changes iterate")
}

// --- Autonomy policies ---

func (s *SQLiteStore) GetPolicy(ctx context.Context, segmentKey string) (*model.AutonomyPolicy, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT segment_key, tier, status, config, updated_at FROM autonomy_policies WHERE segment_key = ?`, segmentKey)
	return scanSQLitePolicy(row)
}

func (s *SQLiteStore) UpsertPolicy(ctx context.Context, p *model.AutonomyPolicy) error {
	if !p.Tier.Valid() {
		return eris.Errorf("sqlite: invalid tier %d", p.Tier)
	}
	if p.Status == "" {
		p.Status = model.PolicyActive
	}
	p.UpdatedAt = nowUTC()
	cfg, err := marshalJSON(p.Config, "segment config")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO autonomy_policies (segment_key, tier, status, config, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (segment_key) DO UPDATE SET tier = excluded.tier, status = excluded.status,
			config = excluded.config, updated_at = excluded.updated_at`,
		p.SegmentKey, int(p.Tier), string(p.Status), string(cfg), sqliteTime(p.UpdatedAt),
	)
	return eris.Wrapf(err, "sqlite: upsert policy %s", p.SegmentKey)
}

func (s *SQLiteStore) ListPolicies(ctx context.Context, status model.PolicyStatus) ([]model.AutonomyPolicy, error) {
	query := `SELECT segment_key, tier, status, config, updated_at FROM autonomy_policies`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY segment_key`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list policies")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AutonomyPolicy
	for rows.Next() {
		p, err := scanSQLitePolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list policies iterate")
}

func (s *SQLiteStore) SetPolicyState(ctx context.Context, segmentKey string, tier model.Tier, status model.PolicyStatus) (bool, error) {
	if !tier.Valid() {
		return false, eris.Errorf("sqlite: invalid tier %d", tier)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE autonomy_policies SET tier = ?, status = ?, updated_at = ? WHERE segment_key = ?`,
		int(tier), string(status), sqliteTime(nowUTC()), segmentKey,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: set policy state %s", segmentKey)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func scanSQLitePolicy(row scannable) (*model.AutonomyPolicy, error) {
	var p model.AutonomyPolicy
	var tier int
	var status, cfg string
	var updated scanTime
	err := row.Scan(&p.SegmentKey, &tier, &status, &cfg, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan policy")
	}
	if err := unmarshalJSON([]byte(cfg), &p.Config, "segment config"); err != nil {
		return nil, err
	}
	p.Tier = model.Tier(tier)
	p.Status = model.PolicyStatus(status)
	p.UpdatedAt = updated.Time
	return &p, nil
}

// --- Autonomy decisions ---

func (s *SQLiteStore) InsertDecision(ctx context.Context, d *model.AutonomyDecision) error {
	if d.ID == "" {
		d.ID = newID()
	}
	d.CreatedAt = orNow(d.CreatedAt)
	reasons, err := marshalJSON(nonNilStrings(d.Reasons), "reasons")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO autonomy_decision_logs (id, recommendation_id, segment_key, tier_used, decision, confidence, expected_margin, reasons, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.RecommendationID, d.SegmentKey, int(d.TierUsed), string(d.Decision),
		d.Confidence, d.ExpectedMargin, string(reasons), sqliteTime(d.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: insert decision for %s", d.RecommendationID)
}

func (s *SQLiteStore) ListDecisions(ctx context.Context, filter DecisionFilter) ([]model.AutonomyDecision, error) {
	query := `SELECT id, recommendation_id, segment_key, tier_used, decision, confidence, expected_margin, reasons, created_at
		FROM autonomy_decision_logs WHERE 1=1`
	var args []any
	if filter.SegmentKey != "" {
		query += ` AND segment_key = ?`
		args = append(args, filter.SegmentKey)
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, sqliteTime(filter.Since))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOr(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list decisions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AutonomyDecision
	for rows.Next() {
		var d model.AutonomyDecision
		var tier int
		var decision, reasons string
		var created scanTime
		if err := rows.Scan(&d.ID, &d.RecommendationID, &d.SegmentKey, &tier, &decision,
			&d.Confidence, &d.ExpectedMargin, &reasons, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan decision")
		}
		if err := unmarshalJSON([]byte(reasons), &d.Reasons, "reasons"); err != nil {
			return nil, err
		}
		d.TierUsed = model.Tier(tier)
		d.Decision = model.Decision(decision)
		d.CreatedAt = created.Time
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list decisions iterate")
}

func (s *SQLiteStore) SegmentStats(ctx context.Context, segmentKey string, since time.Time) (*model.SegmentStats, error) {
	st := &model.SegmentStats{SegmentKey: segmentKey}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN decision = 'APPLIED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN decision = 'PENDING' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN decision = 'REJECTED' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(confidence), 0)
		FROM autonomy_decision_logs WHERE segment_key = ? AND created_at >= ?`,
		segmentKey, sqliteTime(since),
	).Scan(&st.Total, &st.Applied, &st.Pending, &st.Rejected, &st.AvgConfidence)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: segment stats %s", segmentKey)
	}
	return st, nil
}

// --- Experiments ---

const sqliteExperimentColumns = `id, name, market_account_id, test_ratio, variant, status, metrics, created_at`

func (s *SQLiteStore) CreateExperiment(ctx context.Context, e *model.PricingExperiment) error {
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pricing_experiments (`+sqliteExperimentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, strOrNil(e.MarketAccountID), e.TestRatio, string(variant), string(e.Status),
		string(metrics), sqliteTime(e.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: create experiment %s", e.Name)
}

func (s *SQLiteStore) GetExperiment(ctx context.Context, id string) (*model.PricingExperiment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteExperimentColumns+` FROM pricing_experiments WHERE id = ?`, id)
	return scanSQLiteExperiment(row)
}

func (s *SQLiteStore) ListExperiments(ctx context.Context) ([]model.PricingExperiment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteExperimentColumns+` FROM pricing_experiments ORDER BY created_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list experiments")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PricingExperiment
	for rows.Next() {
		e, err := scanSQLiteExperiment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list experiments iterate")
}

func (s *SQLiteStore) GetActiveExperiment(ctx context.Context, accountID string) (*model.PricingExperiment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteExperimentColumns+` FROM pricing_experiments
		WHERE status = 'ACTIVE' AND (market_account_id IS NULL OR market_account_id = ?)
		ORDER BY created_at DESC LIMIT 1`, accountID)
	return scanSQLiteExperiment(row)
}

func (s *SQLiteStore) SetExperimentStatus(ctx context.Context, id string, status model.ExperimentStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE pricing_experiments SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set experiment status %s", id)
	}
	return checkRowsAffected(res, "experiment", id)
}

func (s *SQLiteStore) UpdateExperimentMetrics(ctx context.Context, id string, metrics model.ExperimentMetrics) error {
	b, err := marshalJSON(metrics, "metrics")
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE pricing_experiments SET metrics = ? WHERE id = ?`, string(b), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update experiment metrics %s", id)
	}
	return checkRowsAffected(res, "experiment", id)
}

func (s *SQLiteStore) GetAssignment(ctx context.Context, experimentID, productID string) (*model.ExperimentAssignment, error) {
	var a model.ExperimentAssignment
	var group string
	var assigned scanTime
	err := s.db.QueryRowContext(ctx,
		`SELECT experiment_id, product_id, experiment_group, assigned_at FROM product_experiment_mappings
		WHERE experiment_id = ? AND product_id = ?`, experimentID, productID,
	).Scan(&a.ExperimentID, &a.ProductID, &group, &assigned)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get assignment %s/%s", experimentID, productID)
	}
	a.Group = model.ExperimentGroup(group)
	a.AssignedAt = assigned.Time
	return &a, nil
}

func (s *SQLiteStore) AssignIfAbsent(ctx context.Context, a *model.ExperimentAssignment) (*model.ExperimentAssignment, error) {
	a.AssignedAt = orNow(a.AssignedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO product_experiment_mappings (experiment_id, product_id, experiment_group, assigned_at)
		VALUES (?, ?, ?, ?) ON CONFLICT (experiment_id, product_id) DO NOTHING`,
		a.ExperimentID, a.ProductID, string(a.Group), sqliteTime(a.AssignedAt),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: assign %s/%s", a.ExperimentID, a.ProductID)
	}
	return s.GetAssignment(ctx, a.ExperimentID, a.ProductID)
}

func (s *SQLiteStore) CohortMetrics(ctx context.Context, experimentID string, group model.ExperimentGroup) (*model.CohortMetrics, error) {
	m := &model.CohortMetrics{}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'APPLIED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'REJECTED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'FAIL' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(expected_margin), 0)
		FROM pricing_recommendations WHERE experiment_id = ? AND experiment_group = ?`,
		experimentID, string(group),
	).Scan(&m.Total, &m.Applied, &m.Rejected, &m.Failed, &m.AvgExpectedMargin)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: cohort metrics %s/%s", experimentID, group)
	}
	return m, nil
}

func scanSQLiteExperiment(row scannable) (*model.PricingExperiment, error) {
	var e model.PricingExperiment
	var accountID sql.NullString
	var variant, status, metrics string
	var created scanTime
	err := row.Scan(&e.ID, &e.Name, &accountID, &e.TestRatio, &variant, &status, &metrics, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan experiment")
	}
	if err := unmarshalJSON([]byte(variant), &e.Variant, "variant"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON([]byte(metrics), &e.Metrics, "metrics"); err != nil {
		return nil, err
	}
	e.MarketAccountID = nullString(accountID)
	e.Status = model.ExperimentStatus(status)
	e.CreatedAt = created.Time
	return &e, nil
}

// --- Settings ---

func (s *SQLiteStore) GetPricingSettings(ctx context.Context, accountID string) (*model.PricingSettings, error) {
	var ps model.PricingSettings
	var mode string
	var updated scanTime
	err := s.db.QueryRowContext(ctx,
		`SELECT market_account_id, auto_mode, confidence_threshold, max_changes_per_hour, cooldown_hours, updated_at
		FROM pricing_settings WHERE market_account_id = ?`, accountID,
	).Scan(&ps.MarketAccountID, &mode, &ps.ConfidenceThreshold, &ps.MaxChangesPerHour, &ps.CooldownHours, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get pricing settings %s", accountID)
	}
	if ps.AutoMode, err = model.ParseMode(mode); err != nil {
		return nil, eris.Wrapf(err, "sqlite: pricing settings %s", accountID)
	}
	ps.UpdatedAt = updated.Time
	return &ps, nil
}

func (s *SQLiteStore) UpsertPricingSettings(ctx context.Context, ps *model.PricingSettings) error {
	ps.UpdatedAt = nowUTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pricing_settings (market_account_id, auto_mode, confidence_threshold, max_changes_per_hour, cooldown_hours, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (market_account_id) DO UPDATE SET auto_mode = excluded.auto_mode,
			confidence_threshold = excluded.confidence_threshold, max_changes_per_hour = excluded.max_changes_per_hour,
			cooldown_hours = excluded.cooldown_hours, updated_at = excluded.updated_at`,
		ps.MarketAccountID, ps.AutoMode.String(), ps.ConfidenceThreshold, ps.MaxChangesPerHour,
		ps.CooldownHours, sqliteTime(ps.UpdatedAt),
	)
	return eris.Wrapf(err, "sqlite: upsert pricing settings %s", ps.MarketAccountID)
}

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (*model.SystemSetting, error) {
	var st model.SystemSetting
	var updated scanTime
	err := s.db.QueryRowContext(ctx,
		`SELECT key, value, updated_at FROM system_settings WHERE key = ?`, key,
	).Scan(&st.Key, &st.Value, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get setting %s", key)
	}
	st.UpdatedAt = updated.Time
	return &st, nil
}

func (s *SQLiteStore) UpsertSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, sqliteTime(nowUTC()),
	)
	return eris.Wrapf(err, "sqlite: upsert setting %s", key)
}

// --- Tuning recommendations ---

const sqliteTuningColumns = `id, strategy_id, suggested, reason_code, reason_detail, status, created_at, applied_at`

func (s *SQLiteStore) CreateTuningRecommendation(ctx context.Context, t *model.TuningRecommendation) error {
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tuning_recommendations (`+sqliteTuningColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`,
		t.ID, t.StrategyID, string(suggested), t.ReasonCode, t.ReasonDetail, string(t.Status), sqliteTime(t.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: create tuning recommendation for %s", t.StrategyID)
}

func (s *SQLiteStore) GetTuningRecommendation(ctx context.Context, id string) (*model.TuningRecommendation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteTuningColumns+` FROM tuning_recommendations WHERE id = ?`, id)
	return scanSQLiteTuning(row)
}

func (s *SQLiteStore) ListTuningRecommendations(ctx context.Context, status model.TuningStatus) ([]model.TuningRecommendation, error) {
	query := `SELECT ` + sqliteTuningColumns + ` FROM tuning_recommendations`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tuning recommendations")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.TuningRecommendation
	for rows.Next() {
		t, err := scanSQLiteTuning(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list tuning recommendations iterate")
}

func (s *SQLiteStore) HasPendingTuning(ctx context.Context, strategyID, reasonCode string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tuning_recommendations WHERE strategy_id = ? AND reason_code = ? AND status = 'PENDING'`,
		strategyID, reasonCode,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: pending tuning %s/%s", strategyID, reasonCode)
	}
	return n > 0, nil
}

func (s *SQLiteStore) ApplyTuning(ctx context.Context, id string, st *model.PricingStrategy, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: apply tuning: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	st.UpdatedAt = at.UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE pricing_strategies SET target_margin = ?, min_margin = ?, max_delta_ratio = ?, updated_at = ? WHERE id = ?`,
		st.TargetMargin, st.MinMargin, st.MaxDeltaRatio, sqliteTime(st.UpdatedAt), st.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: apply tuning: update strategy %s", st.ID)
	}
	if err := checkRowsAffected(res, "strategy", st.ID); err != nil {
		return err
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE tuning_recommendations SET status = 'APPLIED', applied_at = ? WHERE id = ? AND status = 'PENDING'`,
		sqliteTime(at), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: apply tuning: mark %s", id)
	}
	if err := checkRowsAffected(res, "pending tuning recommendation", id); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: apply tuning: commit")
}

func (s *SQLiteStore) ResolveTuning(ctx context.Context, id string, status model.TuningStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tuning_recommendations SET status = ?, applied_at = ? WHERE id = ? AND status = 'PENDING'`,
		string(status), sqliteTime(at), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve tuning %s", id)
	}
	return checkRowsAffected(res, "pending tuning recommendation", id)
}

func scanSQLiteTuning(row scannable) (*model.TuningRecommendation, error) {
	var t model.TuningRecommendation
	var suggested, status string
	var created, applied scanTime
	err := row.Scan(&t.ID, &t.StrategyID, &suggested, &t.ReasonCode, &t.ReasonDetail, &status, &created, &applied)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan tuning recommendation")
	}
	if err := unmarshalJSON([]byte(suggested), &t.Suggested, "suggested config"); err != nil {
		return nil, err
	}
	t.Status = model.TuningStatus(status)
	t.CreatedAt = created.Time
	t.AppliedAt = applied.ptr()
	return &t, nil
}

// --- helpers ---

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
