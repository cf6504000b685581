package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/stockpay/internal/allocation"
	"github.com/atmx/stockpay/internal/payment"
	"github.com/atmx/stockpay/internal/pricing"
	"github.com/atmx/stockpay/internal/receipt"
	"github.com/atmx/stockpay/internal/session"
	"github.com/atmx/stockpay/internal/store"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseManual(t *testing.T) {
	spends, err := parseManual([]string{"aapl=100", "TSLA= 50.5"})
	require.NoError(t, err)
	require.Len(t, spends, 2)
	assert.Equal(t, "aapl", spends[0].Symbol)
	assert.Equal(t, "100", spends[0].Amount.String())
	assert.Equal(t, "50.5", spends[1].Amount.String())

	_, err = parseManual([]string{"AAPL"})
	assert.Error(t, err)
	_, err = parseManual([]string{"AAPL=lots"})
	assert.Error(t, err)
}

func TestLoadHoldings(t *testing.T) {
	path := writeFile(t, "h.yaml", `
holdings:
  - symbol: AAPL
    quantity: "2"
  - symbol: TSLA
    quantity: "0.125"
`)
	h, err := loadHoldings(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "TSLA"}, h.Symbols())
	assert.Equal(t, "0.125", h.Quantity("TSLA").String())

	bad := writeFile(t, "bad.yaml", "holdings:\n  - symbol: AAPL\n    quantity: many\n")
	_, err = loadHoldings(bad)
	assert.Error(t, err)
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	prices := pricing.NewStaticSource(pricing.DefaultTable)
	hub := payment.NewWSHub()
	rr, err := receipt.NewRenderer("USD")
	require.NoError(t, err)
	mgr := session.NewManager(store.NewMemoryStore(), prices, hub)
	return newRouter(payment.NewService(mgr, prices, rr), hub)
}

func TestRouter_Health(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","service":"stockpay"}`, w.Body.String())
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest("OPTIONS", "/api/v1/sessions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_SessionFlow(t *testing.T) {
	router := newTestRouter(t)

	body := `{"holdings":[{"symbol":"AAPL","quantity":"1"},{"symbol":"TSLA","quantity":"1"}]}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/sessions", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var sess payment.SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/sessions/"+sess.ID+"/plans",
		strings.NewReader(`{"mode":"automatic","target":"300"}`)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var plan struct {
		Legs []struct {
			Symbol   string          `json:"symbol"`
			Quantity decimal.Decimal `json:"quantity"`
		} `json:"legs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &plan))
	require.Len(t, plan.Legs, 2)
	// TSLA (220.20) is the most expensive held asset and is sold first.
	assert.Equal(t, "TSLA", plan.Legs[0].Symbol)
	assert.Equal(t, "1", plan.Legs[0].Quantity.String())
	assert.Equal(t, "AAPL", plan.Legs[1].Symbol)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "stockpay_plans_total")
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	planManual = nil
	planConfirm = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestPlanCommand(t *testing.T) {
	t.Setenv("PRICE_FEED_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("PRICES_FILE", writeFile(t, "prices.yaml", "prices:\n  AAA: \"100\"\n  BBB: \"10\"\n"))
	holdings := writeFile(t, "h.yaml", "holdings:\n  - symbol: AAA\n    quantity: \"2\"\n  - symbol: BBB\n    quantity: \"10\"\n")

	out, err := runCLI(t, "plan", "--holdings", holdings, "--amount", "150")
	require.NoError(t, err)
	assert.Contains(t, out, "1.5000")
	assert.Contains(t, out, "Nothing settled")

	out, err = runCLI(t, "plan", "--holdings", holdings, "--amount", "150", "--confirm")
	require.NoError(t, err)
	assert.Contains(t, out, "Total paid: $150.00")
	assert.Contains(t, out, "0.5000")

	_, err = runCLI(t, "plan", "--holdings", holdings, "--amount", "500")
	var se *allocation.ShortfallError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "200", se.Deficit.String())

	_, err = runCLI(t, "plan", "--holdings", holdings, "--amount", "40", "--manual", "BBB=30")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "10 remaining")
}

func TestPricesCommand(t *testing.T) {
	t.Setenv("PRICE_FEED_URL", "")
	t.Setenv("PRICES_FILE", "")

	out, err := runCLI(t, "prices", "aapl", "ZZZZ")
	require.NoError(t, err)
	assert.Contains(t, out, "$180.00")
	assert.Contains(t, out, "ZZZZ")
	assert.Contains(t, out, "unavailable")
}
