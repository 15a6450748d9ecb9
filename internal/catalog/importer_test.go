package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/autoprice/internal/model"
	"github.com/sells-group/autoprice/internal/store"
	"github.com/sells-group/autoprice/internal/store/storetest"
)

const strategiesCSV = `name,target_margin,min_margin,max_delta_ratio,categories
STABLE,0.20,0.10,0.15,HOME|GARDEN
GROWTH,0.10,0.05,0.25,
BROKEN,0.10,0.20,0.25,
`

const productsCSV = `Product_ID, vendor, lifecycle_stage, category_code, strategy, account_id, account_name, channel, listing_ref
# seeded by ops
p1,acme,steady,HOME,,acct1,Main,marketplace,L-p1
p2,acme,LAUNCH,,GROWTH,acct1,,,L-p2
p3,acme,RETIRED,,,,,,
p4,acme,STEADY,,NOPE,,,,
p5,acme,STEADY,,,acct9,,,L-p5
`

func importCSV(t *testing.T, im *Importer, kind Kind, body string) *Summary {
	t.Helper()
	sum, err := im.Import(context.Background(), kind, strings.NewReader(body))
	require.NoError(t, err)
	return sum
}

func TestImport_Strategies(t *testing.T) {
	st := storetest.New(t)
	im := NewImporter(st)
	ctx := context.Background()

	sum := importCSV(t, im, KindStrategies, strategiesCSV)
	assert.Equal(t, 3, sum.Rows)
	assert.Equal(t, 2, sum.Imported)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, 3, sum.Errors[0].Row)
	assert.Contains(t, sum.Errors[0].Reason, "min_margin")

	stable, err := st.GetStrategyByName(ctx, "STABLE")
	require.NoError(t, err)
	require.NotNil(t, stable)
	assert.InDelta(t, 0.15, stable.MaxDeltaRatio, 1e-9)

	id, err := st.GetCategoryStrategyID(ctx, "GARDEN")
	require.NoError(t, err)
	assert.Equal(t, stable.ID, id)

	// Re-import keeps the existing row.
	sum = importCSV(t, im, KindStrategies, "name,target_margin,min_margin,max_delta_ratio\nSTABLE,0.30,0.10,0.50\n")
	assert.Zero(t, sum.Imported)
	assert.Equal(t, 1, sum.Skipped)
	again, err := st.GetStrategyByName(ctx, "STABLE")
	require.NoError(t, err)
	assert.InDelta(t, 0.15, again.MaxDeltaRatio, 1e-9)
}

func TestImport_Products(t *testing.T) {
	st := storetest.New(t)
	im := NewImporter(st)
	ctx := context.Background()
	importCSV(t, im, KindStrategies, strategiesCSV)

	sum := importCSV(t, im, KindProducts, productsCSV)
	assert.Equal(t, 5, sum.Rows)
	assert.Equal(t, 2, sum.Imported)
	assert.Equal(t, 3, sum.Skipped)
	require.Len(t, sum.Errors, 3)
	assert.Contains(t, sum.Errors[0].Reason, "lifecycle_stage")
	assert.Contains(t, sum.Errors[1].Reason, "unknown strategy")
	assert.Contains(t, sum.Errors[2].Reason, "unknown account")

	p1, err := st.GetProduct(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, p1)
	assert.Equal(t, model.StageSteady, p1.LifecycleStage)
	require.NotNil(t, p1.CategoryCode)
	assert.Equal(t, "HOME", *p1.CategoryCode)
	assert.Nil(t, p1.StrategyID)

	p2, err := st.GetProduct(ctx, "p2")
	require.NoError(t, err)
	require.NotNil(t, p2.StrategyID)

	l, err := st.GetListing(ctx, "p2", "acct1")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, "L-p2", l.ListingRef)
}

func TestImport_Recommendations(t *testing.T) {
	st := storetest.New(t)
	storetest.SeedCatalog(t, st)
	im := NewImporter(st)

	body := `product_id,market_account_id,current_price,recommended_price,confidence,expected_margin,reason_codes
p1,acct1,10000,10400,0.97,0.18,COST_CHANGE|COMPETITOR
p1,acct1,10000,10400,1.5,0.18,
p1,acct1,ten,10400,0.9,0.18,
px,acct1,10000,10400,0.9,0.18,
`
	sum := importCSV(t, im, KindRecommendations, body)
	assert.Equal(t, 4, sum.Rows)
	assert.Equal(t, 1, sum.Imported)
	assert.Len(t, sum.Errors, 3)

	recs, err := st.ListRecommendations(context.Background(), store.RecommendationFilter{Status: model.RecommendationPending})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(10400), recs[0].RecommendedPrice)
	assert.Equal(t, []string{"COST_CHANGE", "COMPETITOR"}, recs[0].ReasonCodes)
}

func TestImport_MissingColumns(t *testing.T) {
	st := storetest.New(t)
	sum := importCSV(t, NewImporter(st), KindProducts, "product_id\np1\n")
	require.Len(t, sum.Errors, 1)
	assert.Contains(t, sum.Errors[0].Reason, "missing vendor, lifecycle_stage")
}

func TestImport_EmptyFile(t *testing.T) {
	st := storetest.New(t)
	_, err := NewImporter(st).Import(context.Background(), KindProducts, strings.NewReader(""))
	assert.ErrorContains(t, err, "file is empty")
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Products ")
	require.NoError(t, err)
	assert.Equal(t, KindProducts, k)

	_, err = ParseKind("orders")
	assert.Error(t, err)
}

func TestStreamRecords_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	recCh, errCh := StreamRecords(ctx, strings.NewReader("a,b\n1,2\n"))
	for range recCh {
	}
	assert.ErrorContains(t, <-errCh, "context cancelled")
}
