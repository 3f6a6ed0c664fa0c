package risk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClient_Consult(t *testing.T) {
	var got analyzeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/analyze", r.URL.Path)
		assert.Equal(t, "req-1", r.Header.Get("X-Request-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "success",
			"risk_score": 25,
			"valuation": 150000.0,
			"asset_type": "real_estate",
			"extracted_data": {"location": "Lisbon"},
			"confidence": 0.85
		}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", zap.NewNop())
	assessment, err := client.Consult(context.Background(), Request{
		RequestID:    "req-1",
		AssetType:    "real_estate",
		DocumentText: "deed of property",
		Valuation:    uint256.NewInt(150000),
	})
	require.NoError(t, err)

	assert.Equal(t, "real_estate", got.AssetType)
	assert.Equal(t, "deed of property", got.PdfText)
	assert.Equal(t, "150000", got.Valuation)

	assert.Equal(t, uint64(25), assessment.RiskScore)
	require.NotNil(t, assessment.Valuation)
	assert.Equal(t, "150000", assessment.Valuation.Dec())
	assert.Equal(t, 0.85, assessment.Confidence)
	assert.Equal(t, "Lisbon", assessment.ExtractedData["location"])
}

func TestClient_ConsultFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"boom"}`},
		{name: "error status", status: http.StatusOK, body: `{"status":"error","error":"no text"}`},
		{name: "missing score", status: http.StatusOK, body: `{"status":"success","valuation":10}`},
		{name: "negative score", status: http.StatusOK, body: `{"status":"success","risk_score":-5}`},
		{name: "fractional score", status: http.StatusOK, body: `{"status":"success","risk_score":12.5}`},
		{name: "not json", status: http.StatusOK, body: `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, nil).Consult(context.Background(), Request{AssetType: "invoice"})
			assert.Error(t, err)
		})
	}
}

func TestClient_ConsultClampsAndIgnoresBadValuation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","risk_score":140,"valuation":-3,"confidence":3}`))
	}))
	defer srv.Close()

	assessment, err := NewClient(srv.URL, nil).Consult(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), assessment.RiskScore)
	assert.Nil(t, assessment.Valuation)
	assert.Equal(t, 1.0, assessment.Confidence)
}

func TestClient_ConsultHonoursDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(srv.URL, nil).Consult(ctx, Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_NotConfigured(t *testing.T) {
	_, err := NewClient("", nil).Consult(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestParseAnalysis(t *testing.T) {
	tests := []struct {
		name           string
		text           string
		wantOK         bool
		wantScore      uint64
		wantConfidence float64
		hasConfidence  bool
	}{
		{name: "colon", text: "Risk Score: 42\nConfidence: 0.9", wantOK: true, wantScore: 42, wantConfidence: 0.9, hasConfidence: true},
		{name: "spaces", text: "the RISK SCORE   7 overall", wantOK: true, wantScore: 7},
		{name: "clamped", text: "risk score: 250, confidence: 4.2", wantOK: true, wantScore: 100, wantConfidence: 1, hasConfidence: true},
		{name: "huge", text: "risk score: 99999999999999999999999", wantOK: true, wantScore: 100},
		{name: "absent", text: "looks fine to me", wantOK: false},
		{name: "no digits", text: "risk score: high", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analysis, ok := ParseAnalysis(tt.text)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantScore, analysis.RiskScore)
			assert.Equal(t, tt.hasConfidence, analysis.HasConfidence)
			assert.InDelta(t, tt.wantConfidence, analysis.Confidence, 1e-9)
		})
	}
}
