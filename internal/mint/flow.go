package mint

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"runtime/debug"
	"time"

	"mantleforge/internal/chain"
	"mantleforge/internal/common"
	"mantleforge/internal/eip712"
	"mantleforge/internal/hash"
	"mantleforge/internal/risk"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// RiskConsultant scores an asset. Implemented by *risk.Client.
type RiskConsultant interface {
	Consult(ctx context.Context, req risk.Request) (*risk.Assessment, error)
}

// Ledger submits mints. Implemented by *chain.Ledger.
type Ledger interface {
	MintRWA(ctx context.Context, call chain.MintCall) (*chain.Submission, error)
	WaitConfirmed(ctx context.Context, txHash ethcommon.Hash) (*chain.Confirmation, error)
}

// RiskSource records where the resolved risk score came from.
type RiskSource string

const (
	RiskSourceAnalysis   RiskSource = "analysis"
	RiskSourceConsultant RiskSource = "consultant"
	// RiskSourceRequest is used when no consultant is configured.
	RiskSourceRequest RiskSource = "request"
	// RiskSourceFallback is used when the consultant failed or timed out.
	RiskSourceFallback RiskSource = "request_fallback"
)

type Config struct {
	Domain          eip712.Domain
	RiskThreshold   uint64
	ConsultTimeout  time.Duration
	LedgerTimeout   time.Duration
	WaitForReceipt  bool
	DataLogEndpoint string
}

// Request is one mint intent as received from a client.
type Request struct {
	RequestID   string
	Signature   string
	UserAddress string
	Asset       common.AssetData
}

type Result struct {
	RequestID        string
	TransactionID    string
	RiskScore        *uint256.Int
	Valuation        *uint256.Int
	GasEstimate      uint64
	DataLogReference string
	RiskSource       RiskSource
	Minter           string
	AssetID          *big.Int
	BlockNumber      uint64
	State            State
}

// Transition is reported to the transition hook on every state change.
type Transition struct {
	RequestID string
	From      State
	To        State
	Reason    Reason
	TxHash    string
	At        time.Time
}

type Option func(*Flow)

func WithTransitionHook(hook func(Transition)) Option {
	return func(f *Flow) {
		f.onTransition = hook
	}
}

// Flow authorizes mint intents. A single Flow serves all requests; it holds
// no per-request state.
type Flow struct {
	cfg          Config
	signer       *eip712.Signer
	consultant   RiskConsultant
	ledger       Ledger
	logger       *zap.Logger
	onTransition func(Transition)
}

// NewFlow wires the flow. consultant may be nil, in which case request values
// are used as-is.
func NewFlow(cfg Config, signer *eip712.Signer, consultant RiskConsultant, ledger Ledger, logger *zap.Logger, opts ...Option) (*Flow, error) {
	if signer == nil {
		return nil, errors.New("oracle signer is required")
	}
	if ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if cfg.RiskThreshold == 0 {
		cfg.RiskThreshold = common.RiskRejectionThreshold
	}
	if cfg.ConsultTimeout <= 0 {
		cfg.ConsultTimeout = 5 * time.Second
	}
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	f := &Flow{
		cfg:        cfg,
		signer:     signer,
		consultant: consultant,
		ledger:     ledger,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// OracleAddress is the minter the flow vouches for on-chain.
func (f *Flow) OracleAddress() ethcommon.Address {
	return f.signer.Address()
}

type run struct {
	flow   *Flow
	req    Request
	state  State
	logger *zap.Logger
}

func (r *run) advance(to State) {
	r.flow.emit(Transition{RequestID: r.req.RequestID, From: r.state, To: to, At: time.Now()})
	r.state = to
}

func (r *run) fail(reason Reason, message string, err error) *Error {
	flowErr := &Error{Reason: reason, State: r.state, Message: message, Err: err}
	return r.failWith(flowErr)
}

func (r *run) failWith(flowErr *Error) *Error {
	flowErr.State = r.state
	r.flow.emit(Transition{
		RequestID: r.req.RequestID,
		From:      r.state,
		To:        StateFailed,
		Reason:    flowErr.Reason,
		TxHash:    flowErr.TxHash,
		At:        time.Now(),
	})

	fields := []zap.Field{
		zap.String("reason", string(flowErr.Reason)),
		zap.String("state", string(r.state)),
		zap.String("message", flowErr.Message),
	}
	if flowErr.TxHash != "" {
		fields = append(fields, zap.String("tx_hash", flowErr.TxHash))
	}
	if flowErr.Err != nil {
		fields = append(fields, zap.Error(flowErr.Err))
	}
	switch flowErr.Reason {
	case ReasonInternalError, ReasonTimeout, ReasonLedgerRejected:
		r.logger.Error("mint flow failed", fields...)
	default:
		r.logger.Info("mint flow rejected", fields...)
	}

	r.state = StateFailed
	return flowErr
}

func (f *Flow) emit(t Transition) {
	if f.onTransition != nil {
		f.onTransition(t)
	}
}

// Authorize runs one mint intent to completion. The caller's context only
// carries values: cancelling it does not abort consultation or submission,
// since a sent transaction cannot be taken back.
func (f *Flow) Authorize(ctx context.Context, req Request) (result *Result, err error) {
	r := &run{
		flow:  f,
		req:   req,
		state: StateReceived,
		logger: f.logger.With(
			zap.String("request_id", req.RequestID),
			zap.String("user_address", req.UserAddress),
		),
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("mint flow panicked",
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			result = nil
			err = r.fail(ReasonInternalError, "internal error", nil)
		}
	}()

	work := context.WithoutCancel(ctx)
	r.logger.Debug("mint intent received", zap.String("asset_name", req.Asset.Name))

	fields, err := eip712.NewMintFields(
		req.Asset.Name,
		req.Asset.Valuation.String(),
		req.Asset.RiskScore.String(),
		req.Asset.DataHash,
	)
	if err != nil {
		return nil, r.failWith(malformed(err))
	}
	if !ethcommon.IsHexAddress(req.UserAddress) {
		return nil, r.failWith(&Error{Reason: ReasonMalformedField, Field: "userAddress", Message: "expected a 20 byte hex address"})
	}

	// UserSigCheck
	r.advance(StateUserSigCheck)
	userMsg := eip712.BuildUserMessage(fields)
	if !eip712.Verify(f.cfg.Domain, userMsg.Schema, userMsg.Message, req.UserAddress, req.Signature) {
		return nil, r.fail(ReasonInvalidSignature, "Invalid Signature", nil)
	}

	// RiskResolved
	resolved := f.resolveRisk(work, r, fields)
	r.advance(StateRiskResolved)

	threshold := uint256.NewInt(f.cfg.RiskThreshold)
	if !resolved.riskScore.Lt(threshold) {
		return nil, r.fail(ReasonRiskTooHigh,
			fmt.Sprintf("risk score %s is at or above the rejection threshold %d", resolved.riskScore.Dec(), f.cfg.RiskThreshold), nil)
	}

	// OracleResigned
	oracleFields := eip712.MintFields{
		Name:      fields.Name,
		Valuation: resolved.valuation,
		RiskScore: resolved.riskScore,
		DataHash:  fields.DataHash,
	}
	oracleMsg := eip712.BuildOracleMessage(oracleFields, f.signer.Address())
	oracleSig, err := f.signer.Sign(f.cfg.Domain, oracleMsg)
	if err != nil {
		return nil, r.fail(ReasonInternalError, "failed to produce oracle signature", err)
	}
	sigBytes, err := hexutil.Decode(oracleSig)
	if err != nil {
		return nil, r.fail(ReasonInternalError, "failed to decode oracle signature", err)
	}
	r.advance(StateOracleResigned)

	ledgerCtx, cancel := context.WithTimeout(work, f.cfg.LedgerTimeout)
	defer cancel()

	sub, err := f.ledger.MintRWA(ledgerCtx, chain.MintCall{
		Name:      oracleFields.Name,
		Valuation: oracleFields.Valuation.ToBig(),
		RiskScore: oracleFields.RiskScore.ToBig(),
		DataHash:  oracleFields.DataHash,
		Signature: sigBytes,
	})
	if err != nil {
		return nil, r.failWith(ledgerFailure(err, ""))
	}

	// Submitted
	r.advance(StateSubmitted)
	txHash := sub.TxHash.Hex()
	r.logger.Info("mint submitted",
		zap.String("tx_hash", txHash),
		zap.Uint64("gas_estimate", sub.GasEstimate),
		zap.String("risk_source", string(resolved.source)),
	)

	result = &Result{
		RequestID:        req.RequestID,
		TransactionID:    txHash,
		RiskScore:        resolved.riskScore,
		Valuation:        resolved.valuation,
		GasEstimate:      sub.GasEstimate,
		DataLogReference: hash.DataLogReference(f.cfg.DataLogEndpoint, fields.DataHash),
		RiskSource:       resolved.source,
		Minter:           f.signer.Address().Hex(),
	}

	if f.cfg.WaitForReceipt {
		conf, err := f.ledger.WaitConfirmed(ledgerCtx, sub.TxHash)
		if err != nil {
			return nil, r.failWith(ledgerFailure(err, txHash))
		}
		result.AssetID = conf.AssetID
		result.BlockNumber = conf.BlockNumber
	}

	// Confirmed
	r.flow.emit(Transition{RequestID: req.RequestID, From: r.state, To: StateConfirmed, TxHash: txHash, At: time.Now()})
	r.state = StateConfirmed
	result.State = StateConfirmed

	r.logger.Info("mint confirmed",
		zap.String("tx_hash", txHash),
		zap.Uint64("block_number", result.BlockNumber),
	)
	return result, nil
}

type resolution struct {
	riskScore *uint256.Int
	valuation *uint256.Int
	source    RiskSource
}

func (f *Flow) resolveRisk(ctx context.Context, r *run, fields eip712.MintFields) resolution {
	fallback := resolution{
		riskScore: fields.RiskScore,
		valuation: fields.Valuation,
		source:    RiskSourceRequest,
	}

	if analysis, ok := risk.ParseAnalysis(r.req.Asset.AnalysisText); ok {
		r.logger.Debug("risk taken from attached analysis", zap.Uint64("risk_score", analysis.RiskScore))
		return resolution{
			riskScore: uint256.NewInt(analysis.RiskScore),
			valuation: fields.Valuation,
			source:    RiskSourceAnalysis,
		}
	}

	if f.consultant == nil {
		return fallback
	}

	consultCtx, cancel := context.WithTimeout(ctx, f.cfg.ConsultTimeout)
	defer cancel()

	assessment, err := f.consultant.Consult(consultCtx, risk.Request{
		RequestID:    r.req.RequestID,
		AssetType:    r.req.Asset.AssetType,
		DocumentText: r.req.Asset.AnalysisText,
		Valuation:    fields.Valuation,
	})
	if err != nil || assessment == nil {
		r.logger.Warn("risk consultant unavailable, using request values",
			zap.String("risk_source", string(RiskSourceFallback)),
			zap.Error(err),
		)
		fallback.source = RiskSourceFallback
		return fallback
	}

	valuation := fields.Valuation
	if valuation.IsZero() && assessment.Valuation != nil {
		valuation = assessment.Valuation
	}
	return resolution{
		riskScore: uint256.NewInt(assessment.RiskScore),
		valuation: valuation,
		source:    RiskSourceConsultant,
	}
}

func malformed(err error) *Error {
	var fieldErr *eip712.FieldError
	if errors.As(err, &fieldErr) {
		return &Error{Reason: ReasonMalformedField, Field: fieldErr.Field, Message: fieldErr.Reason, Err: err}
	}
	return &Error{Reason: ReasonMalformedField, Message: err.Error(), Err: err}
}

func ledgerFailure(err error, txHash string) *Error {
	var revert *chain.RevertError
	switch {
	case errors.As(err, &revert):
		return &Error{Reason: ReasonLedgerRejected, Message: revert.Reason, TxHash: txHash, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Reason: ReasonTimeout, Message: "ledger did not respond in time", TxHash: txHash, Err: err}
	default:
		return &Error{Reason: ReasonInternalError, Message: "ledger submission failed", TxHash: txHash, Err: err}
	}
}
