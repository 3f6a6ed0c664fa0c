package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"mantleforge/internal/chain"
	"mantleforge/internal/common"
	"mantleforge/internal/eip712"
	"mantleforge/internal/manager"
	"mantleforge/internal/mint"
	"mantleforge/internal/mint/mocks"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

const (
	userKeyHex   = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	oracleKeyHex = "8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f"
)

// stack wires the real manager and flow behind the router, with only the
// ledger mocked.
func stack(t *testing.T) (http.Handler, *mocks.MockLedger, eip712.Domain) {
	t.Helper()
	ctrl := gomock.NewController(t)
	ledger := mocks.NewMockLedger(ctrl)

	domain, err := eip712.BuildDomain("MantleForge", "1", 5003, "0x2222222222222222222222222222222222222222")
	require.NoError(t, err)
	oracle, err := eip712.NewSigner(oracleKeyHex)
	require.NoError(t, err)

	mgr := manager.NewManager(common.NewBroadcaster(zap.NewNop()), nil, zap.NewNop())
	flow, err := mint.NewFlow(mint.Config{
		Domain:         domain,
		LedgerTimeout:  5 * time.Second,
		WaitForReceipt: false,
	}, oracle, nil, ledger, zap.NewNop(), mint.WithTransitionHook(mgr.Track))
	require.NoError(t, err)
	mgr.SetAuthorizer(flow)
	t.Cleanup(mgr.Close)

	info := Info{ChainID: 5003, OracleAddress: oracle.Address().Hex()}
	h := newAPIServer(Config{CORSOrigin: "*"}, info, mgr, nil, nil, zap.NewNop()).RegisterRoutes()
	return h, ledger, domain
}

func signedBody(t *testing.T, domain eip712.Domain, valuation, riskScore string) (string, string) {
	t.Helper()
	user, err := eip712.NewSigner(userKeyHex)
	require.NoError(t, err)

	fields, err := eip712.NewMintFields("Invoice #12", valuation, riskScore, "0xabc")
	require.NoError(t, err)
	sig, err := user.Sign(domain, eip712.BuildUserMessage(fields))
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{
		"signature":   sig,
		"userAddress": user.Address().Hex(),
		"assetData": map[string]any{
			"name":      "Invoice #12",
			"valuation": valuation,
			"riskScore": json.Number(riskScore),
			"dataHash":  "0xabc",
		},
	})
	require.NoError(t, err)
	return string(body), sig
}

func TestMintIntent_EndToEnd(t *testing.T) {
	h, ledger, domain := stack(t)
	body, sig := signedBody(t, domain, "150000", "15")

	txHash := ethcommon.HexToHash("0xfeed")
	ledger.EXPECT().
		MintRWA(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, call chain.MintCall) (*chain.Submission, error) {
			assert.Equal(t, "150000", call.Valuation.String())
			return &chain.Submission{TxHash: txHash, GasEstimate: 123456}, nil
		})

	rec := do(t, h, http.MethodPost, "/mint-intent", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody(t, rec)
	assert.Equal(t, txHash.Hex(), resp["transactionId"])
	assert.Equal(t, "123456", resp["gasEstimate"])
	assert.Equal(t, float64(15), resp["riskScore"])
	assert.Equal(t, "request", resp["riskSource"])
	assert.NotContains(t, rec.Body.String(), strings.TrimPrefix(sig, "0x"))

	// resubmitting a confirmed signature returns the same transaction
	rec = do(t, h, http.MethodPost, "/mint-intent", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, txHash.Hex(), decodeBody(t, rec)["transactionId"])

	statusRec := do(t, h, http.MethodGet, "/api/mint-status/"+resp["requestId"].(string), "")
	require.Equal(t, http.StatusOK, statusRec.Code)
	assert.Equal(t, "Confirmed", decodeBody(t, statusRec)["state"])
}

func TestMintIntent_TamperedFieldIsUnauthorized(t *testing.T) {
	h, _, domain := stack(t)
	body, _ := signedBody(t, domain, "150000", "15")

	// the ledger mock has no expectations, so any call fails the test
	tampered := strings.Replace(body, `"150000"`, `"150001"`, 1)
	rec := do(t, h, http.MethodPost, "/mint-intent", tampered)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid Signature"}`, rec.Body.String())
}

func TestMintIntent_RiskTooHighNeverReachesLedger(t *testing.T) {
	h, _, domain := stack(t)
	body, _ := signedBody(t, domain, "150000", "95")

	rec := do(t, h, http.MethodPost, "/mint-intent", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "RiskTooHigh", decodeBody(t, rec)["reason"])
}

func TestMintIntent_RecoveryIDVariantReturnsOriginalMint(t *testing.T) {
	h, ledger, domain := stack(t)
	body, sig := signedBody(t, domain, "150000", "15")

	txHash := ethcommon.HexToHash("0xfeed")
	ledger.EXPECT().
		MintRWA(gomock.Any(), gomock.Any()).
		Return(&chain.Submission{TxHash: txHash, GasEstimate: 123456}, nil).
		Times(1)

	rec := do(t, h, http.MethodPost, "/mint-intent", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decodeBody(t, rec)

	raw, err := hexutil.Decode(sig)
	require.NoError(t, err)
	raw[64] -= 27
	variant := strings.Replace(body, sig, hexutil.Encode(raw), 1)
	require.NotEqual(t, body, variant)

	rec = do(t, h, http.MethodPost, "/mint-intent", variant)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decodeBody(t, rec)
	assert.Equal(t, first["requestId"], second["requestId"])
	assert.Equal(t, txHash.Hex(), second["transactionId"])
}

func TestMintIntent_LedgerTimeoutIsNotRetried(t *testing.T) {
	h, ledger, domain := stack(t)
	body, _ := signedBody(t, domain, "150000", "15")

	ledger.EXPECT().
		MintRWA(gomock.Any(), gomock.Any()).
		Return(nil, fmt.Errorf("send mintRWA: %w", context.DeadlineExceeded)).
		Times(1)

	rec := do(t, h, http.MethodPost, "/mint-intent", body)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/mint-intent", body)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, "DuplicateRequest", decodeBody(t, rec)["reason"])
}
