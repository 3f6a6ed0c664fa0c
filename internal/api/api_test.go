package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mantleforge/internal/chain"
	"mantleforge/internal/common"
	"mantleforge/internal/history"
	"mantleforge/internal/manager"
	"mantleforge/internal/mint"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testUser = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeManager struct {
	submit func(ctx context.Context, req mint.Request) (*mint.Result, error)
	status map[string]manager.Status
	last   mint.Request
}

func (f *fakeManager) Submit(ctx context.Context, req mint.Request) (*mint.Result, error) {
	f.last = req
	return f.submit(ctx, req)
}

func (f *fakeManager) Status(requestID string) (manager.Status, error) {
	if st, ok := f.status[requestID]; ok {
		return st, nil
	}
	return manager.Status{}, manager.ErrRequestNotFound
}

type fakeHistory struct {
	records  []common.MintRecord
	err      error
	lastPage history.Page
}

func (f *fakeHistory) List(ctx context.Context, address string, page history.Page) ([]common.MintRecord, error) {
	f.lastPage = page
	return f.records, f.err
}

type fakeEstimator struct {
	to   ethcommon.Address
	data []byte
	err  error
}

func (f *fakeEstimator) EstimateCost(ctx context.Context, to ethcommon.Address, data []byte) (*chain.GasCost, error) {
	f.to, f.data = to, data
	if f.err != nil {
		return nil, f.err
	}
	return &chain.GasCost{GasLimit: 21000, GasPrice: big.NewInt(20), Total: big.NewInt(420000)}, nil
}

func testServer(mgr MintSubmitter, hist HistoryLister, est GasEstimator, cfg Config) http.Handler {
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	info := Info{
		ChainID:         5003,
		ContractAddress: "0x2222222222222222222222222222222222222222",
		OracleAddress:   "0x3333333333333333333333333333333333333333",
		HistoryEnabled:  hist != nil,
	}
	return newAPIServer(cfg, info, mgr, hist, est, zap.NewNop()).RegisterRoutes()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func mintBody(valuation, riskScore string) string {
	return `{
		"signature": "0x` + strings.Repeat("11", 65) + `",
		"userAddress": "` + testUser + `",
		"assetData": {"name": "Invoice #12", "valuation": ` + valuation + `, "riskScore": ` + riskScore + `, "dataHash": "0xabc"}
	}`
}

func okSubmit(ctx context.Context, req mint.Request) (*mint.Result, error) {
	return &mint.Result{
		RequestID:        "req-1",
		TransactionID:    "0xfeed",
		RiskScore:        uint256.NewInt(15),
		Valuation:        uint256.NewInt(150000),
		GasEstimate:      210000,
		DataLogReference: "https://da.mantle.xyz/blob/0xabc",
		RiskSource:       mint.RiskSourceConsultant,
	}, nil
}

func TestMintIntent_Success(t *testing.T) {
	mgr := &fakeManager{submit: okSubmit}
	h := testServer(mgr, nil, nil, Config{})

	rec := do(t, h, http.MethodPost, "/mint-intent", mintBody(`"150000"`, `15`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(CorrelationIDHeader))

	// numbers stay numbers on the wire
	assert.JSONEq(t, `{
		"transactionId": "0xfeed",
		"dataLogReference": "https://da.mantle.xyz/blob/0xabc",
		"gasEstimate": "210000",
		"riskScore": 15,
		"valuation": 150000,
		"requestId": "req-1",
		"riskSource": "consultant"
	}`, rec.Body.String())

	assert.Equal(t, common.IntString("150000"), mgr.last.Asset.Valuation)
	assert.Equal(t, common.IntString("15"), mgr.last.Asset.RiskScore)
	assert.Equal(t, testUser, mgr.last.UserAddress)
}

func TestMintIntent_MalformedBody(t *testing.T) {
	mgr := &fakeManager{submit: func(ctx context.Context, req mint.Request) (*mint.Result, error) {
		t.Fatal("manager must not be called for malformed bodies")
		return nil, nil
	}}
	h := testServer(mgr, nil, nil, Config{})

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{name: "not json", body: `{"signature":`, field: "body"},
		{name: "empty", body: ``, field: "body"},
		{name: "missing signature", body: `{"userAddress":"` + testUser + `","assetData":{"valuation":"1","riskScore":"1","dataHash":"0x1"}}`, field: "signature"},
		{name: "missing valuation", body: `{"signature":"0x11","userAddress":"` + testUser + `","assetData":{"riskScore":"1","dataHash":"0x1"}}`, field: "assetData.valuation"},
		{name: "boolean valuation", body: mintBody(`true`, `1`), field: "assetData.valuation"},
		{name: "object risk score", body: mintBody(`"1"`, `{}`), field: "assetData.riskScore"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/mint-intent", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			body := decodeBody(t, rec)
			assert.Equal(t, "MalformedField", body["reason"])
			assert.Equal(t, tt.field, body["field"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestMintIntent_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "invalid signature",
			err:        &mint.Error{Reason: mint.ReasonInvalidSignature, State: mint.StateUserSigCheck, Message: "Invalid Signature"},
			wantStatus: http.StatusUnauthorized,
			wantBody:   `{"error":"Invalid Signature"}`,
		},
		{
			name:       "malformed field from flow",
			err:        &mint.Error{Reason: mint.ReasonMalformedField, Field: "valuation", Message: "value does not fit in uint256"},
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"assetData.valuation: value does not fit in uint256","reason":"MalformedField","field":"assetData.valuation"}`,
		},
		{
			name:       "risk too high",
			err:        &mint.Error{Reason: mint.ReasonRiskTooHigh, Message: "Risk Too High: Mint Rejected"},
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   `{"error":"Risk Too High: Mint Rejected","reason":"RiskTooHigh"}`,
		},
		{
			name:       "ledger rejected",
			err:        &mint.Error{Reason: mint.ReasonLedgerRejected, Message: "Invalid Agent Signature", TxHash: "0xfeed"},
			wantStatus: http.StatusBadGateway,
			wantBody:   `{"error":"Invalid Agent Signature","reason":"LedgerRejected","transactionId":"0xfeed"}`,
		},
		{
			name:       "timeout",
			err:        &mint.Error{Reason: mint.ReasonTimeout, Message: "ledger did not respond in time", TxHash: "0xfeed"},
			wantStatus: http.StatusGatewayTimeout,
			wantBody:   `{"error":"ledger did not respond in time","reason":"Timeout","transactionId":"0xfeed"}`,
		},
		{
			name:       "internal error hides details",
			err:        &mint.Error{Reason: mint.ReasonInternalError, Message: "failed to produce oracle signature", Err: errors.New("key material")},
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"internal error","reason":"InternalError"}`,
		},
		{
			name:       "duplicate",
			err:        manager.ErrDuplicateRequest,
			wantStatus: http.StatusConflict,
			wantBody:   `{"error":"A mint with this signature is already being processed","reason":"DuplicateRequest"}`,
		},
		{
			name:       "unknown error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"internal error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := &fakeManager{submit: func(ctx context.Context, req mint.Request) (*mint.Result, error) {
				return nil, tt.err
			}}
			h := testServer(mgr, nil, nil, Config{})

			rec := do(t, h, http.MethodPost, "/mint-intent", mintBody(`"1"`, `"1"`))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestMintIntent_RateLimited(t *testing.T) {
	mgr := &fakeManager{submit: okSubmit}
	h := testServer(mgr, nil, nil, Config{MintRateLimit: 0.001, MintRateBurst: 2})

	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodPost, "/mint-intent", mintBody(`"1"`, `"1"`))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/mint-intent", mintBody(`"1"`, `"1"`))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// other routes are not limited
	rec = do(t, h, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCorrelationIDEchoed(t *testing.T) {
	h := testServer(&fakeManager{submit: okSubmit}, nil, nil, Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(CorrelationIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(CorrelationIDHeader))
}

func TestCORS(t *testing.T) {
	h := testServer(&fakeManager{submit: okSubmit}, nil, nil, Config{CORSOrigin: "https://app.mantleforge.xyz"})

	req := httptest.NewRequest(http.MethodOptions, "/mint-intent", nil)
	req.Header.Set("Origin", "https://app.mantleforge.xyz")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.mantleforge.xyz", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthAndStatus(t *testing.T) {
	h := testServer(&fakeManager{submit: okSubmit}, &fakeHistory{}, nil, Config{})

	rec := do(t, h, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decodeBody(t, rec)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, float64(5003), health["chainId"])
	assert.Equal(t, "Mantle Sepolia", health["network"])

	rec = do(t, h, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody(t, rec)
	assert.Equal(t, "operational", status["status"])
	assert.Equal(t, "0x3333333333333333333333333333333333333333", status["agentAddress"])
	assert.Equal(t, true, status["historyEnabled"])
}

func TestMintHistory(t *testing.T) {
	hist := &fakeHistory{records: []common.MintRecord{{TxHash: "0x01", Name: "Invoice", Valuation: "5", Source: history.SourceStore, CreatedAt: time.Unix(0, 0).UTC()}}}
	h := testServer(&fakeManager{submit: okSubmit}, hist, nil, Config{})

	rec := do(t, h, http.MethodGet, "/api/mint-history/"+testUser+"?limit=5&offset=10&unknown=1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, strings.ToLower(testUser), body["address"])
	assert.Equal(t, history.Page{Limit: 5, Offset: 10}, hist.lastPage)

	rec = do(t, h, http.MethodGet, "/api/mint-history/"+testUser+"?limit=lots", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "limit", decodeBody(t, rec)["field"])

	rec = do(t, h, http.MethodGet, "/api/mint-history/0x1234", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "address", decodeBody(t, rec)["field"])

	hist.err = history.ErrStoreUnavailable
	rec = do(t, h, http.MethodGet, "/api/mint-history/"+testUser, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h = testServer(&fakeManager{submit: okSubmit}, nil, nil, Config{})
	rec = do(t, h, http.MethodGet, "/api/mint-history/"+testUser, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMintStatus(t *testing.T) {
	mgr := &fakeManager{
		submit: okSubmit,
		status: map[string]manager.Status{
			"req-1": {RequestID: "req-1", State: mint.StateSubmitted, TransactionID: "0xfeed"},
		},
	}
	h := testServer(mgr, nil, nil, Config{})

	rec := do(t, h, http.MethodGet, "/api/mint-status/req-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Submitted", body["state"])
	assert.Equal(t, "0xfeed", body["transactionId"])

	rec = do(t, h, http.MethodGet, "/api/mint-status/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEstimateGas(t *testing.T) {
	est := &fakeEstimator{}
	h := testServer(&fakeManager{submit: okSubmit}, nil, est, Config{})

	rec := do(t, h, http.MethodPost, "/api/estimate-gas", `{"to":"0x2222222222222222222222222222222222222222","data":"0x01ff"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "21000", body["gasLimit"])
	assert.Equal(t, "420000", body["gasCost"])
	assert.True(t, bytes.Equal([]byte{0x01, 0xff}, est.data))

	rec = do(t, h, http.MethodPost, "/api/estimate-gas", `{"to":"0x2222222222222222222222222222222222222222","data":"zz"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "data", decodeBody(t, rec)["field"])

	rec = do(t, h, http.MethodPost, "/api/estimate-gas", `{"data":"0x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "to", decodeBody(t, rec)["field"])

	est.err = &chain.RevertError{Reason: "Risk Too High: Mint Rejected", Err: errors.New("execution reverted")}
	rec = do(t, h, http.MethodPost, "/api/estimate-gas", `{"to":"0x2222222222222222222222222222222222222222"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Risk Too High: Mint Rejected","reason":"LedgerRejected"}`, rec.Body.String())

	est.err = errors.New("rpc down")
	rec = do(t, h, http.MethodPost, "/api/estimate-gas", `{"to":"0x2222222222222222222222222222222222222222"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
