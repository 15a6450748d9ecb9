package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/autoprice/internal/api"
	"github.com/sells-group/autoprice/internal/config"
	"github.com/sells-group/autoprice/internal/model"
	"github.com/sells-group/autoprice/internal/store/storetest"
)

type nopMarket struct{}

func (nopMarket) UpdatePrice(context.Context, string, string, int64) error { return nil }

func testEngine(t *testing.T) *engineEnv {
	t.Helper()
	c, err := config.Load()
	require.NoError(t, err)
	return newEngine(storetest.New(t), nopMarket{}, c)
}

func TestResolvePort(t *testing.T) {
	assert.Equal(t, 9090, resolvePort(9090, 8080))
	assert.Equal(t, 8080, resolvePort(0, 8080))
	assert.Equal(t, 0, resolvePort(0, 0))
}

func TestNewEngine_WiresEverything(t *testing.T) {
	env := testEngine(t)
	assert.NotNil(t, env.Governance)
	assert.NotNil(t, env.Experiments)
	assert.NotNil(t, env.Strategies)
	assert.NotNil(t, env.Guard)
	assert.NotNil(t, env.Enforcer)
	assert.NotNil(t, env.Detector)
	assert.NotNil(t, env.Tuning)
	assert.NotNil(t, env.Evolution)
	assert.NotNil(t, env.Collector)
	assert.NotNil(t, env.Alerter)
	assert.NotNil(t, env.Importer)

	deps := env.APIDeps()
	assert.Same(t, env.Enforcer, deps.Enforcer)
	assert.Same(t, env.Collector, deps.Collector)
}

func TestStartServer_GracefulShutdown(t *testing.T) {
	env := testEngine(t)
	ctx, cancel := context.WithCancel(context.Background())

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	errCh := make(chan error, 1)
	go func() {
		errCh <- startServer(ctx, api.NewServer(env.APIDeps(), nil), port)
	}()

	var ready bool
	for i := 0; i < 50; i++ {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
		if err == nil {
			_ = resp.Body.Close()
			ready = resp.StatusCode == http.StatusOK
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, ready, "server did not become ready in time")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestSchedulerJobs(t *testing.T) {
	env := testEngine(t)
	mc := config.MonitoringConfig{
		EnforceIntervalSecs:   60,
		TuningIntervalSecs:    3600,
		EvolutionIntervalSecs: 0,
		EnforceMode:           "shadow",
	}

	jobs, err := schedulerJobs(env, mc)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "enforce", jobs[0].Name)
	assert.Equal(t, time.Minute, jobs[0].Interval)
	assert.Equal(t, time.Hour, jobs[1].Interval)
	assert.Zero(t, jobs[2].Interval)

	cat := storetest.SeedCatalog(t, env.Store)
	rec := storetest.SeedRecommendation(t, env.Store, cat, nil)
	for _, job := range jobs {
		require.NoError(t, job.Run(context.Background()), job.Name)
	}

	stored, err := env.Store.GetRecommendation(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecommendationPending, stored.Status, "shadow pass must not change status")
}

func TestSchedulerJobs_BadMode(t *testing.T) {
	env := testEngine(t)
	_, err := schedulerJobs(env, config.MonitoringConfig{EnforceMode: "sometimes"})
	assert.ErrorContains(t, err, "enforce_mode")
}

func TestMarshalConfig_MasksSecrets(t *testing.T) {
	c := &config.Config{
		Store:      config.StoreConfig{Driver: "postgres", DatabaseURL: "postgres://u:p@h/db"},
		Market:     config.MarketConfig{BaseURL: "https://market.example.com", Token: "tok"},
		Monitoring: config.MonitoringConfig{WebhookURL: "https://hooks.example.com/x"},
	}
	out, err := marshalConfig(c)
	require.NoError(t, err)

	s := string(out)
	assert.NotContains(t, s, "u:p@h")
	assert.NotContains(t, s, "tok\n")
	assert.NotContains(t, s, "hooks.example.com")
	assert.Contains(t, s, "https://market.example.com")
	assert.Equal(t, "tok", c.Market.Token, "original config must be untouched")

	c.Store = config.StoreConfig{Driver: "sqlite", DatabaseURL: "local.db"}
	out, err = marshalConfig(c)
	require.NoError(t, err)
	assert.Contains(t, string(out), "local.db")
}
