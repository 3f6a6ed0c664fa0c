package sentinel

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"mantleforge/internal/common"
	"mantleforge/internal/risk"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

const (
	DefaultInterval = time.Hour
	// RiskIncreaseThreshold is how far a re-assessed score must rise above
	// the stored one before the ledger is updated.
	RiskIncreaseThreshold uint64 = 10
	checkTimeout             = 5 * time.Minute
)

// Assets is implemented by *history.Service.
type Assets interface {
	ListActive(ctx context.Context) ([]common.MintRecord, error)
	UpdateRisk(ctx context.Context, assetID string, riskScore uint64) error
}

// Consultant is implemented by *risk.Client.
type Consultant interface {
	Consult(ctx context.Context, req risk.Request) (*risk.Assessment, error)
}

// RiskUpdater is implemented by *chain.Ledger.
type RiskUpdater interface {
	UpdateAssetRisk(ctx context.Context, assetID *big.Int, newRisk uint64) (ethcommon.Hash, error)
}

// Report summarizes one check cycle.
type Report struct {
	Checked int
	Updated int
	Failed  int
}

type Option func(*Sentinel)

func WithInterval(d time.Duration) Option {
	return func(s *Sentinel) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithPause sets the delay between two assets within a cycle.
func WithPause(d time.Duration) Option {
	return func(s *Sentinel) {
		s.pause = d
	}
}

// Sentinel periodically re-assesses active assets and pushes significant
// risk increases on-chain.
type Sentinel struct {
	assets     Assets
	consultant Consultant
	ledger     RiskUpdater
	logger     *zap.Logger
	interval   time.Duration
	pause      time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(assets Assets, consultant Consultant, ledger RiskUpdater, logger *zap.Logger, opts ...Option) (*Sentinel, error) {
	if assets == nil || consultant == nil || ledger == nil {
		return nil, errors.New("risk sentinel needs an asset store, a risk consultant and a ledger")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sentinel{
		assets:     assets,
		consultant: consultant,
		ledger:     ledger,
		logger:     logger,
		interval:   DefaultInterval,
		pause:      time.Second,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Sentinel) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info("risk sentinel started", zap.Duration("interval", s.interval))
}

func (s *Sentinel) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("risk sentinel stopped")
}

func (s *Sentinel) run() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.runCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runCycle(ctx)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Sentinel) runCycle(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	report, err := s.Check(ctx)
	if err != nil {
		s.logger.Error("risk sentinel cycle failed", zap.Error(err))
		return
	}
	s.logger.Info("risk sentinel cycle complete",
		zap.Int("checked", report.Checked),
		zap.Int("updated", report.Updated),
		zap.Int("failed", report.Failed),
	)
}

// Check runs one cycle over every active asset. Per-asset failures are
// logged and counted, they do not stop the cycle.
func (s *Sentinel) Check(ctx context.Context) (Report, error) {
	var report Report

	assets, err := s.assets.ListActive(ctx)
	if err != nil {
		return report, fmt.Errorf("list active assets: %w", err)
	}

	for i, asset := range assets {
		if i > 0 && s.pause > 0 {
			select {
			case <-time.After(s.pause):
			case <-ctx.Done():
				return report, ctx.Err()
			}
		}

		report.Checked++
		updated, err := s.checkAsset(ctx, asset)
		if updated {
			report.Updated++
		}
		if err != nil {
			report.Failed++
			s.logger.Warn("risk check failed",
				zap.String("asset_id", asset.AssetID),
				zap.String("name", asset.Name),
				zap.Error(err),
			)
		}
	}
	return report, nil
}

func (s *Sentinel) checkAsset(ctx context.Context, asset common.MintRecord) (bool, error) {
	assetID, ok := new(big.Int).SetString(asset.AssetID, 10)
	if !ok {
		return false, fmt.Errorf("invalid asset id %q", asset.AssetID)
	}

	req := risk.Request{RequestID: "sentinel-" + asset.AssetID}
	if valuation, err := uint256.FromDecimal(asset.Valuation); err == nil {
		req.Valuation = valuation
	}

	assessment, err := s.consultant.Consult(ctx, req)
	if err != nil {
		return false, fmt.Errorf("consult risk model: %w", err)
	}

	newRisk := assessment.RiskScore
	if newRisk <= asset.RiskScore || newRisk-asset.RiskScore <= RiskIncreaseThreshold {
		s.logger.Debug("risk change acceptable",
			zap.String("asset_id", asset.AssetID),
			zap.Uint64("current_risk", asset.RiskScore),
			zap.Uint64("new_risk", newRisk),
		)
		return false, nil
	}

	txHash, err := s.ledger.UpdateAssetRisk(ctx, assetID, newRisk)
	if err != nil {
		return false, fmt.Errorf("update risk on-chain: %w", err)
	}
	s.logger.Info("asset risk updated on-chain",
		zap.String("asset_id", asset.AssetID),
		zap.Uint64("previous_risk", asset.RiskScore),
		zap.Uint64("new_risk", newRisk),
		zap.String("tx_hash", txHash.Hex()),
	)

	if err := s.assets.UpdateRisk(ctx, asset.AssetID, newRisk); err != nil {
		return true, fmt.Errorf("record updated risk: %w", err)
	}
	return true, nil
}
