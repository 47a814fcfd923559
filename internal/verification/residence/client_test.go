package residence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboarding-gateway/internal/platform/config"
	"onboarding-gateway/internal/verification"
)

func newTestClient(t *testing.T, threshold float64, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewHTTPClient(config.VerifierConfig{
		BaseURL:             server.URL,
		ConfidenceThreshold: threshold,
	})
}

func verifyReq() Request {
	return Request{
		City:        "Pune",
		State:       "MH",
		PostalCode:  "411001",
		AddressHash: "a1b2c3",
	}
}

func respondWith(verified bool, confidence float64) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"verified":     verified,
			"confidence":   confidence,
			"reference_id": "res-456",
		})
	}
}

func TestVerify_VerifiedAboveThreshold(t *testing.T) {
	client := newTestClient(t, 0.8, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/residence/verifications", r.URL.Path)
		respondWith(true, 0.91)(w, r)
	})

	result, err := client.Verify(context.Background(), verifyReq())
	require.NoError(t, err)
	assert.Equal(t, verification.OutcomeSuccess, result.Outcome)
	assert.Equal(t, 0.91, result.Confidence)
	assert.Equal(t, "res-456", result.ReferenceID)
}

func TestVerify_VerifiedAtThresholdPasses(t *testing.T) {
	client := newTestClient(t, 0.8, respondWith(true, 0.8))

	result, err := client.Verify(context.Background(), verifyReq())
	require.NoError(t, err)
	assert.Equal(t, verification.OutcomeSuccess, result.Outcome)
}

func TestVerify_VerifiedBelowThresholdIsRejected(t *testing.T) {
	client := newTestClient(t, 0.8, respondWith(true, 0.79))

	result, err := client.Verify(context.Background(), verifyReq())
	require.NoError(t, err)
	assert.Equal(t, verification.OutcomeRejected, result.Outcome,
		"a positive flag below the confidence threshold is not a pass")
}

func TestVerify_NotVerifiedIsRejected(t *testing.T) {
	client := newTestClient(t, 0.8, respondWith(false, 0.99))

	result, err := client.Verify(context.Background(), verifyReq())
	require.NoError(t, err)
	assert.Equal(t, verification.OutcomeRejected, result.Outcome)
}

func TestVerify_ServerErrorIsTransient(t *testing.T) {
	client := newTestClient(t, 0.8, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	result, err := client.Verify(context.Background(), verifyReq())
	require.NoError(t, err)
	assert.Equal(t, verification.OutcomeTransient, result.Outcome)
}

func TestVerify_ClientErrorIsRejected(t *testing.T) {
	client := newTestClient(t, 0.8, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	result, err := client.Verify(context.Background(), verifyReq())
	require.NoError(t, err)
	assert.Equal(t, verification.OutcomeRejected, result.Outcome)
}

func TestVerify_MalformedBodyIsTransient(t *testing.T) {
	client := newTestClient(t, 0.8, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json"))
	})

	result, err := client.Verify(context.Background(), verifyReq())
	require.NoError(t, err)
	assert.Equal(t, verification.OutcomeTransient, result.Outcome)
}

func TestNewHTTPClient_DefaultThreshold(t *testing.T) {
	client := NewHTTPClient(config.VerifierConfig{BaseURL: "http://example.test"})
	assert.Equal(t, 0.8, client.threshold)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name       string
		verified   bool
		confidence float64
		want       verification.Outcome
	}{
		{"verified high confidence", true, 0.95, verification.OutcomeSuccess},
		{"verified at threshold", true, 0.8, verification.OutcomeSuccess},
		{"verified low confidence", true, 0.5, verification.OutcomeRejected},
		{"unverified high confidence", false, 0.95, verification.OutcomeRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(wireResponse{Verified: tc.verified, Confidence: tc.confidence}, 0.8)
			assert.Equal(t, tc.want, got.Outcome)
		})
	}
}
