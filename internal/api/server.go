package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"mantleforge/internal/chain"
	"mantleforge/internal/common"
	"mantleforge/internal/history"
	"mantleforge/internal/manager"
	"mantleforge/internal/mint"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// MintSubmitter is implemented by *manager.Manager.
type MintSubmitter interface {
	Submit(ctx context.Context, req mint.Request) (*mint.Result, error)
	Status(requestID string) (manager.Status, error)
}

// HistoryLister is implemented by *history.Service.
type HistoryLister interface {
	List(ctx context.Context, address string, page history.Page) ([]common.MintRecord, error)
}

// GasEstimator is implemented by *chain.Ledger.
type GasEstimator interface {
	EstimateCost(ctx context.Context, to ethcommon.Address, data []byte) (*chain.GasCost, error)
}

// Info is what the status endpoint reports. It never carries secrets.
type Info struct {
	ChainID           uint64
	ContractAddress   string
	OracleAddress     string
	RiskConsultantURL string
	HistoryEnabled    bool
	SentinelEnabled   bool
}

type Config struct {
	Port          int
	CORSOrigin    string
	MintRateLimit float64
	MintRateBurst int
}

type APIServer struct {
	port      int
	cfg       Config
	info      Info
	manager   MintSubmitter
	history   HistoryLister
	estimator GasEstimator
	limiter   *RateLimiter
	logger    *zap.Logger
}

func newAPIServer(cfg Config, info Info, mgr MintSubmitter, hist HistoryLister, estimator GasEstimator, logger *zap.Logger) *APIServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIServer{
		port:      cfg.Port,
		cfg:       cfg,
		info:      info,
		manager:   mgr,
		history:   hist,
		estimator: estimator,
		limiter:   NewRateLimiter(cfg.MintRateLimit, cfg.MintRateBurst),
		logger:    logger,
	}
}

// NewAPIServer builds the HTTP server. hist and estimator may be nil; their
// endpoints then answer 503.
func NewAPIServer(cfg Config, info Info, mgr MintSubmitter, hist HistoryLister, estimator GasEstimator, logger *zap.Logger) *http.Server {
	s := newAPIServer(cfg, info, mgr, hist, estimator, logger)

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 90 * time.Second,
	}

	return server
}
