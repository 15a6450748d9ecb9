package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/autoprice/internal/autonomy"
	"github.com/sells-group/autoprice/internal/config"
	"github.com/sells-group/autoprice/internal/enforcer"
	"github.com/sells-group/autoprice/internal/experiment"
	"github.com/sells-group/autoprice/internal/governance"
	"github.com/sells-group/autoprice/internal/model"
	"github.com/sells-group/autoprice/internal/monitoring"
	"github.com/sells-group/autoprice/internal/store"
	"github.com/sells-group/autoprice/internal/store/storetest"
	"github.com/sells-group/autoprice/internal/strategy"
	"github.com/sells-group/autoprice/internal/tuning"
)

type fakeMarket struct {
	calls int
	err   error
}

func (m *fakeMarket) UpdatePrice(context.Context, string, string, int64) error {
	m.calls++
	return m.err
}

type testEnv struct {
	st  *store.SQLiteStore
	mkt *fakeMarket
	cat storetest.Catalog
	srv *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := storetest.New(t)
	gov := governance.NewManager(st, 1)
	mkt := &fakeMarket{}
	detector := tuning.NewDetector(st, tuning.ThresholdsFromConfig(config.TuningConfig{}))
	deps := Deps{
		Store: st,
		Enforcer: enforcer.New(st, mkt,
			experiment.NewManager(st, experiment.WithSeed(1)),
			strategy.NewResolver(st, nil),
			autonomy.NewGuard(st, gov, config.AutonomyConfig{}),
			config.EnforcerConfig{},
			time.Second,
		),
		Governance:  gov,
		Evolution:   autonomy.NewTuner(st, config.AutonomyConfig{}),
		Tuning:      tuning.NewTuner(st, detector, 0),
		Experiments: experiment.NewManager(st),
		Collector:   monitoring.NewCollector(st, gov, detector),
	}
	return &testEnv{st: st, mkt: mkt, cat: storetest.SeedCatalog(t, st), srv: NewServer(deps, nil)}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.srv.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "ok", decodeBody[map[string]string](t, rr)["status"])
}

func TestEnforceRecommendation(t *testing.T) {
	env := newTestEnv(t)
	rec := storetest.SeedRecommendation(t, env.st, env.cat, nil)

	rr := env.do(t, http.MethodPost, "/recommendations/"+rec.ID+"/enforce?mode=enforce", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	res := decodeBody[enforcer.Result](t, rr)
	assert.Equal(t, enforcer.OutcomeApplied, res.Outcome)
	assert.Equal(t, model.ModeEnforce, res.Mode)
	assert.Equal(t, 1, env.mkt.calls)
}

func TestEnforceRecommendation_BadRequests(t *testing.T) {
	env := newTestEnv(t)
	rec := storetest.SeedRecommendation(t, env.st, env.cat, nil)

	tests := []struct {
		name string
		path string
		code int
		want string
	}{
		{"missing mode", "/recommendations/" + rec.ID + "/enforce", http.StatusBadRequest, "mode is required"},
		{"unknown mode", "/recommendations/" + rec.ID + "/enforce?mode=yolo", http.StatusBadRequest, "unknown mode"},
		{"unknown recommendation", "/recommendations/nope/enforce?mode=SHADOW", http.StatusNotFound, "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, tt.path, nil)
			assert.Equal(t, tt.code, rr.Code)
			assert.Contains(t, decodeBody[errorBody](t, rr).Error, tt.want)
		})
	}
	assert.Zero(t, env.mkt.calls)
}

func TestProcessRecommendations_Shadow(t *testing.T) {
	env := newTestEnv(t)
	storetest.SeedRecommendation(t, env.st, env.cat, nil)
	storetest.SeedRecommendation(t, env.st, env.cat, nil)

	rr := env.do(t, http.MethodPost, "/recommendations/process?mode=SHADOW", map[string]int{"max_items": 10})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	summary := decodeBody[enforcer.BatchSummary](t, rr)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, summary.Shadow)
	assert.Zero(t, env.mkt.calls)
}

func TestRejectRecommendation(t *testing.T) {
	env := newTestEnv(t)
	rec := storetest.SeedRecommendation(t, env.st, env.cat, nil)

	rr := env.do(t, http.MethodPost, "/recommendations/"+rec.ID+"/reject", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/recommendations/"+rec.ID+"/reject", map[string]string{"reason": "wrong cost basis"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, enforcer.OutcomeRejected, decodeBody[enforcer.Result](t, rr).Outcome)

	stored, err := env.st.GetRecommendation(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecommendationRejected, stored.Status)
}

func TestKillSwitch(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPut, "/killswitches/shipping", map[string]bool{"enabled": true})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPut, "/killswitches/pricing", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPut, "/killswitches/pricing", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/killswitches", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	switches := decodeBody[map[string]bool](t, rr)
	assert.True(t, switches["pricing"])
	assert.False(t, switches["content"])
}

func TestSegmentControls(t *testing.T) {
	env := newTestEnv(t)
	key := env.cat.SegmentKey(nil)
	path := "/segments/" + key

	rr := env.do(t, http.MethodPost, "/segments/unknown/freeze", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	storetest.SeedPolicy(t, env.st, key, model.Tier3)

	rr = env.do(t, http.MethodPost, path+"/freeze", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	p := decodeBody[model.AutonomyPolicy](t, rr)
	assert.Equal(t, model.PolicyFrozen, p.Status)
	assert.Equal(t, model.Tier0, p.Tier)

	rr = env.do(t, http.MethodPost, path+"/unfreeze", map[string]int{"tier": 3})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, decodeBody[errorBody](t, rr).Error, "exceeds cap")

	rr = env.do(t, http.MethodPost, path+"/unfreeze", map[string]int{"tier": 1})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	p = decodeBody[model.AutonomyPolicy](t, rr)
	assert.Equal(t, model.PolicyActive, p.Status)
	assert.Equal(t, model.Tier1, p.Tier)

	rr = env.do(t, http.MethodPost, path+"/tier", map[string]int{"tier": 2})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, model.Tier2, decodeBody[model.AutonomyPolicy](t, rr).Tier)

	rr = env.do(t, http.MethodGet, "/segments?status=active", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]model.AutonomyPolicy](t, rr), 1)

	rr = env.do(t, http.MethodPost, "/segments/unseen/tier", map[string]int{"tier": 1})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	created := decodeBody[model.AutonomyPolicy](t, rr)
	assert.Equal(t, model.Tier1, created.Tier)
	assert.Equal(t, model.PolicyActive, created.Status)
}

func TestSegmentStatsAndDecisions(t *testing.T) {
	env := newTestEnv(t)
	key := env.cat.SegmentKey(nil)
	ctx := context.Background()
	for _, d := range []model.Decision{model.DecisionApplied, model.DecisionApplied, model.DecisionRejected} {
		require.NoError(t, env.st.InsertDecision(ctx, &model.AutonomyDecision{
			RecommendationID: "r", SegmentKey: key, TierUsed: model.Tier2, Decision: d, Confidence: 0.9,
		}))
	}

	rr := env.do(t, http.MethodGet, "/segments/"+key+"/stats?days=7", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	stats := decodeBody[model.SegmentStats](t, rr)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Applied)
	assert.Equal(t, 1, stats.Rejected)

	rr = env.do(t, http.MethodGet, "/segments/"+key+"/stats?days=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/decisions?segment_key="+key+"&limit=2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]model.AutonomyDecision](t, rr), 2)
}

func TestTuningEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/tuning/run", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decodeBody[tuning.CycleResult](t, rr)
	assert.Empty(t, res.Created)

	rr = env.do(t, http.MethodPost, "/tuning/missing/apply", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodGet, "/tuning?status=pending", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestExperimentLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/experiments", map[string]any{"name": "", "test_ratio": 0.5})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/experiments", map[string]any{
		"name":       "tighter threshold",
		"test_ratio": 0.5,
		"variant":    map[string]any{"confidence_threshold": 0.9},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	exp := decodeBody[model.PricingExperiment](t, rr)
	assert.Equal(t, model.ExperimentDraft, exp.Status)

	rr = env.do(t, http.MethodPost, "/experiments/"+exp.ID+"/status", map[string]string{"status": "active"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, model.ExperimentActive, decodeBody[model.PricingExperiment](t, rr).Status)

	rr = env.do(t, http.MethodPost, "/experiments/"+exp.ID+"/status", map[string]string{"status": "DRAFT"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodPost, "/experiments/"+exp.ID+"/summarize", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	metrics := decodeBody[model.ExperimentMetrics](t, rr)
	assert.NotNil(t, metrics.ComputedAt)

	rr = env.do(t, http.MethodGet, "/experiments", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]model.PricingExperiment](t, rr), 1)
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)
	storetest.SeedRecommendation(t, env.st, env.cat, nil)

	rr := env.do(t, http.MethodGet, "/metrics?hours=12", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	snap := decodeBody[monitoring.MetricsSnapshot](t, rr)
	assert.Equal(t, 1, snap.PendingBacklog)
	assert.Equal(t, 12, snap.LookbackHours)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/killswitches/pricing", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rr := httptest.NewRecorder()
	env.srv.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestDecode_UnknownField(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPut, "/killswitches/pricing", map[string]any{"enabled": true, "extra": 1})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeBody[errorBody](t, rr).Error, "invalid request body")
}

func TestAccountSettings(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/accounts/acct1/settings", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, model.ModeShadow, decodeBody[model.PricingSettings](t, rr).AutoMode)

	rr = env.do(t, http.MethodPut, "/accounts/acct1/settings", map[string]any{"auto_mode": "ENFORCE"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPut, "/accounts/missing/settings", map[string]any{"cooldown_hours": 2})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodPut, "/accounts/acct1/settings", map[string]any{
		"auto_mode":            "ENFORCE_AUTO",
		"confidence_threshold": 0.9,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	got := decodeBody[model.PricingSettings](t, rr)
	assert.Equal(t, model.ModeEnforceAuto, got.AutoMode)
	assert.InDelta(t, 0.9, got.ConfidenceThreshold, 1e-9)
	assert.Equal(t, model.DefaultCooldownHours, got.CooldownHours)

	stored, err := env.st.GetPricingSettings(context.Background(), "acct1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.ModeEnforceAuto, stored.AutoMode)
}
