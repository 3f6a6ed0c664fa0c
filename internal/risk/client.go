package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

const analyzePath = "/api/analyze"

var ErrNotConfigured = errors.New("risk consultant endpoint is not configured")

// Request is the input to a risk consultation.
type Request struct {
	RequestID    string
	AssetType    string
	DocumentText string
	Valuation    *uint256.Int
}

// Assessment is the consultant's verdict. Valuation is nil when the
// consultant did not return a usable integer valuation.
type Assessment struct {
	RiskScore     uint64
	Valuation     *uint256.Int
	AssetType     string
	Confidence    float64
	ExtractedData map[string]any
}

type analyzeRequest struct {
	AssetType string `json:"asset_type"`
	PdfText   string `json:"pdf_text"`
	Valuation string `json:"valuation,omitempty"`
}

type analyzeResponse struct {
	Status        string         `json:"status"`
	Error         string         `json:"error,omitempty"`
	RiskScore     *json.Number   `json:"risk_score"`
	Valuation     *json.Number   `json:"valuation"`
	AssetType     string         `json:"asset_type"`
	ExtractedData map[string]any `json:"extracted_data"`
	Confidence    float64        `json:"confidence"`
}

// Client talks to the risk-scoring SaaS.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	logger     *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.HTTPClient = client
	}
}

func NewClient(baseURL string, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Consult posts the asset to the scoring service. Deadlines come from ctx.
func (c *Client) Consult(ctx context.Context, in Request) (*Assessment, error) {
	if c == nil || c.BaseURL == "" {
		return nil, ErrNotConfigured
	}

	payload := analyzeRequest{
		AssetType: in.AssetType,
		PdfText:   in.DocumentText,
	}
	if in.Valuation != nil {
		payload.Valuation = in.Valuation.Dec()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+analyzePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if in.RequestID != "" {
		req.Header.Set("X-Request-ID", in.RequestID)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("risk consultation: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("risk consultant responded",
		zap.String("request_id", in.RequestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("risk consultation failed: status %d body %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var out analyzeResponse
	decoder := json.NewDecoder(io.LimitReader(resp.Body, 1<<20))
	decoder.UseNumber()
	if err := decoder.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode analyze response: %w", err)
	}

	return out.assessment()
}

func (r analyzeResponse) assessment() (*Assessment, error) {
	if r.Status != "success" {
		if r.Error != "" {
			return nil, fmt.Errorf("risk consultant returned status %q: %s", r.Status, r.Error)
		}
		return nil, fmt.Errorf("risk consultant returned status %q", r.Status)
	}
	if r.RiskScore == nil {
		return nil, errors.New("risk consultant response has no risk_score")
	}

	score, ok := integral(*r.RiskScore)
	if !ok || !score.IsUint64() {
		return nil, fmt.Errorf("risk consultant returned invalid risk_score %q", r.RiskScore.String())
	}

	assessment := &Assessment{
		RiskScore:     clampScore(score.Uint64()),
		AssetType:     r.AssetType,
		Confidence:    clampConfidence(r.Confidence),
		ExtractedData: r.ExtractedData,
	}
	if r.Valuation != nil {
		if v, ok := integral(*r.Valuation); ok {
			assessment.Valuation = v
		}
	}
	return assessment, nil
}

// integral accepts non-negative JSON numbers with no fractional part,
// including forms like 150000.0 or 1.5e5.
func integral(n json.Number) (*uint256.Int, bool) {
	f, ok := new(big.Float).SetPrec(512).SetString(n.String())
	if !ok || f.Sign() < 0 || !f.IsInt() {
		return nil, false
	}
	i, _ := f.Int(nil)
	v, overflow := uint256.FromBig(i)
	if overflow {
		return nil, false
	}
	return v, true
}
