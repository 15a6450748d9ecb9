package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cliEnv points the CLI at a fresh SQLite database for one test.
func cliEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AUTOPRICE_STORE_DRIVER", "sqlite")
	t.Setenv("AUTOPRICE_STORE_DATABASE_URL", filepath.Join(dir, "cli.db"))
	t.Setenv("AUTOPRICE_LOG_LEVEL", "error")
	return dir
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestCLI_KillSwitch(t *testing.T) {
	cliEnv(t)

	out, err := runCLI(t, "killswitch", "pricing", "on")
	require.NoError(t, err)
	assert.Contains(t, out, "pricing kill switch ON")

	out, err = runCLI(t, "killswitch", "pricing")
	require.NoError(t, err)
	assert.Contains(t, out, "pricing kill switch ON")

	out, err = runCLI(t, "killswitch")
	require.NoError(t, err)
	assert.Regexp(t, `content\s+off`, out)

	_, err = runCLI(t, "killswitch", "shipping", "on")
	assert.Error(t, err)
}

func TestCLI_ImportAndProcess(t *testing.T) {
	dir := cliEnv(t)

	strategies := writeFile(t, dir, "strategies.csv", "name,target_margin,min_margin,max_delta_ratio\nSTABLE,0.20,0.10,0.15\n")
	out, err := runCLI(t, "import", "strategies", "--csv", strategies)
	require.NoError(t, err)
	assert.Contains(t, out, "strategies: rows=1 imported=1")

	products := writeFile(t, dir, "products.csv",
		"product_id,vendor,lifecycle_stage,account_id,account_name,channel,listing_ref\np1,acme,STEADY,acct1,Main,marketplace,L-p1\n")
	out, err = runCLI(t, "import", "products", "--csv", products)
	require.NoError(t, err)
	assert.Contains(t, out, "products: rows=1 imported=1")

	recs := writeFile(t, dir, "recs.csv",
		"product_id,market_account_id,current_price,recommended_price,confidence,expected_margin\n"+
			"p1,acct1,10000,10500,0.98,0.2\n"+
			"p1,acct1,10000,15000,0.98,0.2\n")
	out, err = runCLI(t, "import", "recommendations", "--csv", recs)
	require.NoError(t, err)
	assert.Contains(t, out, "imported=2")

	out, err = runCLI(t, "process", "--mode", "SHADOW")
	require.NoError(t, err)
	assert.Contains(t, out, "mode=SHADOW processed=2")
	assert.Contains(t, out, "rejected=1")
	assert.Contains(t, out, "shadow=1")
}

func TestCLI_SegmentErrors(t *testing.T) {
	cliEnv(t)

	_, err := runCLI(t, "segment", "freeze", "missing-key")
	assert.ErrorContains(t, err, "no policy for segment")

	_, err = runCLI(t, "segment", "unfreeze", "missing-key", "9")
	assert.ErrorContains(t, err, "tier must be 0-3")
}

func TestCLI_ReviewRequiresReason(t *testing.T) {
	cliEnv(t)
	_, err := runCLI(t, "review", "reject", "only-id")
	assert.Error(t, err)
}

func TestCLI_Settings(t *testing.T) {
	dir := cliEnv(t)

	_, err := runCLI(t, "settings", "acct1", "--auto-mode", "ENFORCE_LITE")
	assert.ErrorContains(t, err, "not found")

	products := writeFile(t, dir, "products.csv",
		"product_id,vendor,lifecycle_stage,account_id,account_name,channel,listing_ref\np1,acme,STEADY,acct1,Main,marketplace,L-p1\n")
	_, err = runCLI(t, "import", "products", "--csv", products)
	require.NoError(t, err)

	out, err := runCLI(t, "settings", "acct1", "--auto-mode", "ENFORCE_LITE", "--cooldown-hours", "6")
	require.NoError(t, err)
	assert.Regexp(t, `auto_mode\s+ENFORCE_LITE`, out)
	assert.Regexp(t, `cooldown_hours\s+6`, out)
	assert.Regexp(t, `confidence_threshold\s+0.97`, out)
}

func TestCLI_AutonomousTierFlow(t *testing.T) {
	dir := cliEnv(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.URL.Path == "/accounts/acct1/listings/L-p1/price" {
			calls.Add(1)
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	t.Setenv("AUTOPRICE_MARKET_BASE_URL", srv.URL)

	strategies := writeFile(t, dir, "strategies.csv", "name,target_margin,min_margin,max_delta_ratio\nSTABLE,0.20,0.10,0.15\n")
	_, err := runCLI(t, "import", "strategies", "--csv", strategies)
	require.NoError(t, err)
	products := writeFile(t, dir, "products.csv",
		"product_id,vendor,lifecycle_stage,account_id,account_name,channel,listing_ref\np1,acme,STEADY,acct1,Main,marketplace,L-p1\n")
	_, err = runCLI(t, "import", "products", "--csv", products)
	require.NoError(t, err)
	recs := writeFile(t, dir, "recs.csv",
		"product_id,market_account_id,current_price,recommended_price,confidence,expected_margin\np1,acct1,10000,10500,1.0,0.2\n")
	_, err = runCLI(t, "import", "recommendations", "--csv", recs)
	require.NoError(t, err)

	out, err := runCLI(t, "process", "--mode", "ENFORCE_AUTO")
	require.NoError(t, err)
	assert.Contains(t, out, "deferred=1")
	assert.Contains(t, out, "no policy")

	out, err = runCLI(t, "segment", "list")
	require.NoError(t, err)
	key := regexp.MustCompile(`[0-9a-f]{64}`).FindString(out)
	require.NotEmpty(t, key, out)
	assert.Regexp(t, key+`\s+0\s+ACTIVE`, out)

	_, err = runCLI(t, "segment", "tier", key, "3")
	require.NoError(t, err)

	out, err = runCLI(t, "process", "--mode", "ENFORCE_AUTO")
	require.NoError(t, err)
	assert.Contains(t, out, "applied=1")
	assert.Equal(t, int32(1), calls.Load())

	out, err = runCLI(t, "evolve")
	require.NoError(t, err)
	assert.Contains(t, out, key)
}
