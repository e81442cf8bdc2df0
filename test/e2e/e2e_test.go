// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"valueprop-client/internal/common/auth"
	"valueprop-client/internal/common/logger"
	"valueprop-client/internal/models"
	"valueprop-client/internal/workflow/classify"
	"valueprop-client/internal/workflow/client"
	"valueprop-client/internal/workflow/compare"
	"valueprop-client/internal/workflow/orchestrator"
)

// fakeBackend is a minimal in-process stand-in for the remote pipeline.
type fakeBackend struct {
	mu       atomic.Int64
	lastAuth atomic.Value
}

func resultJSON(provider string, cost float64, latency int64, approved bool) map[string]interface{} {
	sc := map[string]interface{}{
		"verifications":      []interface{}{},
		"overall_accuracy":   0.9,
		"hallucination_risk": 0.1,
		"approved":           approved,
		"rejection_reason":   nil,
	}
	if !approved {
		sc["rejection_reason"] = "Overall accuracy too low (0.65 < 0.7 threshold)"
	}
	return map[string]interface{}{
		"run_id":            "run-" + provider,
		"value_proposition": map[string]interface{}{"headline": "h", "problem": "p", "solution": "s", "differentiation": "d", "quantified_value": nil, "call_to_action": "c", "persona": "x", "talking_points": []string{}, "generated_at": "2026-08-30T10:00:00Z"},
		"normalized_input":  nil,
		"extracted_data":    nil,
		"self_check":        sc,
		"total_latency_ms":  latency,
		"total_cost_usd":    cost,
		"provider_used":     provider,
		"model_used":        "m",
		"success":           approved,
	}
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/workflow/execute", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Add(1)
		f.lastAuth.Store(r.Header.Get("Authorization"))
		provider := r.URL.Query().Get("provider")
		json.NewEncoder(w).Encode(resultJSON(provider, 0.004, 1500, true))
	})
	mux.HandleFunc("/api/v1/workflow/execute-parallel", func(w http.ResponseWriter, r *http.Request) {
		out := map[string]interface{}{}
		for _, p := range r.URL.Query()["providers"] {
			switch p {
			case "google":
				out[p] = resultJSON(p, 0.003, 1800, true)
			case "anthropic":
				out[p] = resultJSON(p, 0.008, 1500, true)
			default:
				out[p] = resultJSON(p, 0.015, 2000, true)
			}
		}
		json.NewEncoder(w).Encode(out)
	})
	return mux
}

func TestFullSessionAgainstFakeBackend(t *testing.T) {
	backend := &fakeBackend{}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	// Session token lives in Redis, the way the surrounding app stores it.
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	mr.Set("session:current:token", "e2e-token")

	tokens := auth.NewRedisSessionSourceWithClient(
		redis.NewClient(&redis.Options{Addr: mr.Addr()}), "session:current:token")
	defer tokens.Close()

	exec := client.New(srv.URL, 5*time.Second, tokens, logger.NewTestLogger(t))
	o := orchestrator.New(exec, logger.NewTestLogger(t), orchestrator.Options{
		MaxAttempts:    3,
		BackoffInitial: time.Millisecond,
	})

	require.NoError(t, o.SubmitInput("Customer wants to automate data entry", "", "", nil))
	require.NoError(t, o.Configure(models.RunConfig{Provider: models.ProviderGoogle, Temperature: 0.7}))
	require.NoError(t, o.Start(context.Background()))
	require.NoError(t, o.Wait(context.Background()))

	snap := o.Snapshot()
	assert.Equal(t, orchestrator.StateResults, snap.State)
	require.NotNil(t, snap.Outcome)
	assert.Equal(t, classify.KindApproved, snap.Outcome.Kind)
	assert.Equal(t, "run-google", snap.Outcome.Result.RunID)
	assert.Equal(t, "Bearer e2e-token", backend.lastAuth.Load())

	// "Create new" resets to a clean session.
	require.NoError(t, o.Reset())
	assert.Equal(t, orchestrator.StateInput, o.State())
}

func TestComparisonAgainstFakeBackend(t *testing.T) {
	backend := &fakeBackend{}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	exec := client.New(srv.URL, 5*time.Second, auth.NewStaticTokenSource("tok"), logger.NewTestLogger(t))
	agg := compare.NewAggregator(exec, logger.NewTestLogger(t))

	cmp, err := agg.Run(context.Background(),
		models.RawInput{Content: "Customer wants to automate data entry", Source: "manual"},
		[]models.Provider{models.ProviderOpenAI, models.ProviderAnthropic, models.ProviderGoogle})
	require.NoError(t, err)

	assert.Len(t, cmp.Outcomes, 3)
	require.NotNil(t, cmp.Recommended)
	assert.Equal(t, models.ProviderGoogle, *cmp.Recommended)
}

func TestTransportFailureEscalatesAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing is listening

	exec := client.New(srv.URL, time.Second, auth.NewStaticTokenSource(""), logger.NewTestLogger(t))
	o := orchestrator.New(exec, logger.NewTestLogger(t), orchestrator.Options{
		MaxAttempts:    3,
		BackoffInitial: time.Millisecond,
	})

	require.NoError(t, o.SubmitInput("Customer wants to automate data entry", "", "", nil))
	require.NoError(t, o.Start(context.Background()))
	require.NoError(t, o.Wait(context.Background()))

	snap := o.Snapshot()
	assert.Equal(t, orchestrator.StateResults, snap.State)
	require.NotNil(t, snap.Outcome)
	assert.Equal(t, classify.KindNetworkError, snap.Outcome.Kind)
	assert.True(t, snap.Outcome.AutoRetry)
}
