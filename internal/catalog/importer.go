package catalog

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/autoprice/internal/model"
	"github.com/sells-group/autoprice/internal/store"
)

// Kind selects the CSV layout an import reads.
type Kind string

// Supported import kinds.
//
//	strategies:      name, target_margin, min_margin, max_delta_ratio[, categories]
//	products:        product_id, vendor, lifecycle_stage[, category_code, strategy,
//	                 account_id, account_name, channel, listing_ref]
//	recommendations: product_id, market_account_id, current_price, recommended_price,
//	                 confidence, expected_margin[, reason_codes, strategy]
//
// List columns (categories, reason_codes) are separated by "|". The strategy
// column holds a strategy name.
const (
	KindStrategies      Kind = "strategies"
	KindProducts        Kind = "products"
	KindRecommendations Kind = "recommendations"
)

// ParseKind validates an import kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindStrategies, KindProducts, KindRecommendations:
		return k, nil
	}
	return "", eris.Errorf("catalog: unknown import kind %q", s)
}

// RowError describes a row that was skipped.
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// Summary reports an import.
type Summary struct {
	Kind     Kind       `json:"kind"`
	Rows     int        `json:"rows"`
	Imported int        `json:"imported"`
	Skipped  int        `json:"skipped"`
	Errors   []RowError `json:"errors,omitempty"`
}

// Importer writes CSV rows through the store.
type Importer struct {
	store store.Store
}

// NewImporter creates an Importer.
func NewImporter(st store.Store) *Importer {
	return &Importer{store: st}
}

// Import reads every row of r as the given kind. A bad row is recorded in
// the summary and skipped; a store failure aborts the import.
func (im *Importer) Import(ctx context.Context, kind Kind, r io.Reader) (*Summary, error) {
	var apply func(context.Context, Record) (bool, error)
	switch kind {
	case KindStrategies:
		apply = im.importStrategy
	case KindProducts:
		apply = im.importProduct
	case KindRecommendations:
		apply = im.importRecommendation
	default:
		return nil, eris.Errorf("catalog: unknown import kind %q", kind)
	}

	log := zap.L().With(zap.String("component", "catalog"), zap.String("kind", string(kind)))
	sum := &Summary{Kind: kind}
	recCh, errCh := StreamRecords(ctx, r)
	for rec := range recCh {
		sum.Rows++
		ok, err := apply(ctx, rec)
		if err != nil {
			var bad rowError
			if eris.As(err, &bad) {
				sum.Skipped++
				sum.Errors = append(sum.Errors, RowError{Row: rec.Row, Reason: bad.reason})
				continue
			}
			// Drain so the reader goroutine exits.
			for range recCh {
			}
			return sum, eris.Wrapf(err, "catalog: row %d", rec.Row)
		}
		if ok {
			sum.Imported++
		} else {
			sum.Skipped++
		}
	}
	if err := <-errCh; err != nil {
		return sum, eris.Wrap(err, "catalog: read")
	}

	log.Info("catalog: import complete",
		zap.Int("rows", sum.Rows),
		zap.Int("imported", sum.Imported),
		zap.Int("skipped", sum.Skipped),
	)
	return sum, nil
}

// rowError marks a row-level validation failure.
type rowError struct {
	reason string
}

func (e rowError) Error() string { return e.reason }

func badRow(format string, args ...any) error {
	return rowError{reason: fmt.Sprintf(format, args...)}
}

func required(rec Record, cols ...string) error {
	var missing []string
	for _, c := range cols {
		if rec.Get(c) == "" {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return badRow("missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func parseFloat(rec Record, col string) (float64, error) {
	v, err := strconv.ParseFloat(rec.Get(col), 64)
	if err != nil {
		return 0, badRow("%s: %q is not a number", col, rec.Get(col))
	}
	return v, nil
}

func parseFraction(rec Record, col string) (float64, error) {
	v, err := parseFloat(rec, col)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 1 {
		return 0, badRow("%s: %v outside 0..1", col, v)
	}
	return v, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, "|") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// strategyID resolves a strategy name column. An empty column is nil.
func (im *Importer) strategyID(ctx context.Context, rec Record) (*string, error) {
	name := rec.Get("strategy")
	if name == "" {
		return nil, nil
	}
	s, err := im.store.GetStrategyByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, badRow("unknown strategy %q", name)
	}
	return &s.ID, nil
}

// importStrategy creates a strategy when the name is new. Existing strategies
// are left alone so tuned guardrails survive a re-import; their category
// mappings are still applied.
func (im *Importer) importStrategy(ctx context.Context, rec Record) (bool, error) {
	if err := required(rec, "name", "target_margin", "min_margin", "max_delta_ratio"); err != nil {
		return false, err
	}
	target, err := parseFraction(rec, "target_margin")
	if err != nil {
		return false, err
	}
	minMargin, err := parseFraction(rec, "min_margin")
	if err != nil {
		return false, err
	}
	ratio, err := parseFraction(rec, "max_delta_ratio")
	if err != nil {
		return false, err
	}
	if minMargin > target {
		return false, badRow("min_margin %v above target_margin %v", minMargin, target)
	}

	name := rec.Get("name")
	s, err := im.store.GetStrategyByName(ctx, name)
	if err != nil {
		return false, err
	}
	created := false
	if s == nil {
		s = &model.PricingStrategy{Name: name, TargetMargin: target, MinMargin: minMargin, MaxDeltaRatio: ratio}
		if err := im.store.CreateStrategy(ctx, s); err != nil {
			return false, err
		}
		created = true
	}
	for _, code := range splitList(rec.Get("categories")) {
		if err := im.store.SetCategoryStrategy(ctx, code, s.ID); err != nil {
			return false, err
		}
	}
	return created, nil
}

// importProduct upserts the product and, when account columns are present,
// the market account and listing.
func (im *Importer) importProduct(ctx context.Context, rec Record) (bool, error) {
	if err := required(rec, "product_id", "vendor", "lifecycle_stage"); err != nil {
		return false, err
	}
	stage := strings.ToUpper(rec.Get("lifecycle_stage"))
	switch stage {
	case model.StageLaunch, model.StageSteady, model.StageDecline:
	default:
		return false, badRow("lifecycle_stage %q must be LAUNCH, STEADY or DECLINE", rec.Get("lifecycle_stage"))
	}
	strategyID, err := im.strategyID(ctx, rec)
	if err != nil {
		return false, err
	}

	accountID := rec.Get("account_id")
	if accountID != "" || rec.Get("listing_ref") != "" {
		if err := required(rec, "account_id", "listing_ref"); err != nil {
			return false, err
		}
	}
	newAccount := accountID != "" && (rec.Get("account_name") != "" || rec.Get("channel") != "")
	if accountID != "" && !newAccount {
		acct, err := im.store.GetMarketAccount(ctx, accountID)
		if err != nil {
			return false, err
		}
		if acct == nil {
			return false, badRow("unknown account %q (add account_name and channel to create it)", accountID)
		}
	}

	p := &model.Product{
		ID:             rec.Get("product_id"),
		Vendor:         rec.Get("vendor"),
		CategoryCode:   optional(rec.Get("category_code")),
		StrategyID:     strategyID,
		LifecycleStage: stage,
	}
	if err := im.store.UpsertProduct(ctx, p); err != nil {
		return false, err
	}
	if accountID == "" {
		return true, nil
	}
	if newAccount {
		err := im.store.UpsertMarketAccount(ctx, &model.MarketAccount{
			ID:      accountID,
			Name:    rec.Get("account_name"),
			Channel: rec.Get("channel"),
		})
		if err != nil {
			return false, err
		}
	}
	err = im.store.UpsertListing(ctx, &model.Listing{
		ProductID:       p.ID,
		MarketAccountID: accountID,
		ListingRef:      rec.Get("listing_ref"),
	})
	return err == nil, err
}

// importRecommendation inserts a new PENDING recommendation for a known
// product and account.
func (im *Importer) importRecommendation(ctx context.Context, rec Record) (bool, error) {
	if err := required(rec, "product_id", "market_account_id", "current_price", "recommended_price", "confidence", "expected_margin"); err != nil {
		return false, err
	}
	current, err := strconv.ParseInt(rec.Get("current_price"), 10, 64)
	if err != nil {
		return false, badRow("current_price: %q is not an integer", rec.Get("current_price"))
	}
	recommended, err := strconv.ParseInt(rec.Get("recommended_price"), 10, 64)
	if err != nil {
		return false, badRow("recommended_price: %q is not an integer", rec.Get("recommended_price"))
	}
	confidence, err := parseFraction(rec, "confidence")
	if err != nil {
		return false, err
	}
	margin, err := parseFloat(rec, "expected_margin")
	if err != nil {
		return false, err
	}

	product, err := im.store.GetProduct(ctx, rec.Get("product_id"))
	if err != nil {
		return false, err
	}
	if product == nil {
		return false, badRow("unknown product %q", rec.Get("product_id"))
	}
	account, err := im.store.GetMarketAccount(ctx, rec.Get("market_account_id"))
	if err != nil {
		return false, err
	}
	if account == nil {
		return false, badRow("unknown account %q", rec.Get("market_account_id"))
	}
	strategyID, err := im.strategyID(ctx, rec)
	if err != nil {
		return false, err
	}

	err = im.store.CreateRecommendation(ctx, &model.PricingRecommendation{
		ProductID:        product.ID,
		MarketAccountID:  account.ID,
		StrategyID:       strategyID,
		CurrentPrice:     current,
		RecommendedPrice: recommended,
		Confidence:       confidence,
		ExpectedMargin:   margin,
		ReasonCodes:      splitList(rec.Get("reason_codes")),
	})
	return err == nil, err
}
