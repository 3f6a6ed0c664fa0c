package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"mantleforge/internal/chain"
	"mantleforge/internal/common"
	"mantleforge/internal/eip712"
	"mantleforge/internal/mint"

	"github.com/google/uuid"
	"github.com/imkira/go-ttlmap"
	"go.uber.org/zap"
)

var (
	ErrDuplicateRequest = errors.New("a mint with this signature is already being processed")
	ErrRequestNotFound  = errors.New("mint request not found")
	ErrNoAuthorizer     = errors.New("manager has no mint flow attached")
)

// Authorizer runs the mint flow. Implemented by *mint.Flow.
type Authorizer interface {
	Authorize(ctx context.Context, req mint.Request) (*mint.Result, error)
}

// Recorder persists successful mints. Implemented by *history.Service.
type Recorder interface {
	Record(ctx context.Context, record common.MintRecord) error
}

// Manager sits in front of the mint flow: it tracks request status, refuses
// to run the same signature twice and fans results out to ticker subscribers.
type Manager struct {
	flow        Authorizer
	requests    *ttlmap.Map
	signatures  *ttlmap.Map
	claimMu     sync.Mutex
	broadcaster *common.Broadcaster
	recorder    Recorder
	logger      *zap.Logger
	ttl         time.Duration
}

func NewManager(broadcaster *common.Broadcaster, recorder Recorder, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	options := &ttlmap.Options{
		InitialCapacity: 32,
		OnWillExpire: func(key string, item ttlmap.Item) {
			logger.Debug("mint request expired", zap.String("key", key))
		},
		OnWillEvict: func(key string, item ttlmap.Item) {
			logger.Debug("mint request evicted", zap.String("key", key))
		},
	}

	return &Manager{
		requests:    ttlmap.New(options),
		signatures:  ttlmap.New(options),
		broadcaster: broadcaster,
		recorder:    recorder,
		logger:      logger,
		ttl:         RequestTTL,
	}
}

// SetAuthorizer attaches the flow. The flow is built after the manager so it
// can report transitions through Track.
func (m *Manager) SetAuthorizer(flow Authorizer) {
	m.flow = flow
}

// Track is the mint flow's transition hook.
func (m *Manager) Track(t mint.Transition) {
	entry, err := m.GetRequest(t.RequestID)
	if err != nil {
		return
	}
	entry.apply(t)
}

// Submit runs req through the mint flow unless its signature was already
// seen. A confirmed duplicate returns the original result.
func (m *Manager) Submit(ctx context.Context, req mint.Request) (*mint.Result, error) {
	if m.flow == nil {
		return nil, ErrNoAuthorizer
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	sigKey := signatureKey(req.Signature)

	entry, existing, err := m.claim(req, sigKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if res := existing.Result(); res != nil {
			m.logger.Info("duplicate mint intent, returning confirmed result",
				zap.String("request_id", req.RequestID),
				zap.String("original_request_id", existing.RequestID),
			)
			return res, nil
		}
		return nil, fmt.Errorf("%w (request %s)", ErrDuplicateRequest, existing.RequestID)
	}

	res, err := m.flow.Authorize(ctx, req)
	if err != nil {
		var flowErr *mint.Error
		if !errors.As(err, &flowErr) {
			flowErr = &mint.Error{Reason: mint.ReasonInternalError, State: mint.StateReceived, Message: "internal error", Err: err}
		}
		entry.fail(flowErr)

		// nothing reached the chain, so the user may try again
		if !mayHaveReachedChain(flowErr) {
			m.release(sigKey, req.RequestID)
		}
		m.publishRejected(req, flowErr)
		return nil, err
	}

	entry.complete(res)
	m.record(ctx, req, res)
	m.publishMinted(req, res)
	return res, nil
}

// claim registers the request, or returns the entry already holding its
// signature.
func (m *Manager) claim(req mint.Request, sigKey string) (*RequestEntry, *RequestEntry, error) {
	m.claimMu.Lock()
	defer m.claimMu.Unlock()

	if sigKey != "" {
		if item, err := m.signatures.Get(sigKey); err == nil {
			if holder, ok := item.Value().(string); ok {
				if existing, err := m.GetRequest(holder); err == nil {
					return nil, existing, nil
				}
			}
		}
	}

	entry := newRequestEntry(req, sigKey)
	if err := m.requests.Set(req.RequestID, ttlmap.NewItem(entry, ttlmap.WithTTL(m.ttl)), nil); err != nil {
		return nil, nil, fmt.Errorf("failed to track request: %w", err)
	}
	if sigKey != "" {
		if err := m.signatures.Set(sigKey, ttlmap.NewItem(req.RequestID, ttlmap.WithTTL(m.ttl)), nil); err != nil {
			return nil, nil, fmt.Errorf("failed to track signature: %w", err)
		}
	}
	return entry, nil, nil
}

func (m *Manager) release(sigKey, requestID string) {
	if sigKey == "" {
		return
	}

	m.claimMu.Lock()
	defer m.claimMu.Unlock()

	item, err := m.signatures.Get(sigKey)
	if err != nil {
		return
	}
	if holder, ok := item.Value().(string); ok && holder == requestID {
		_, _ = m.signatures.Delete(sigKey)
	}
}

func (m *Manager) GetRequest(requestID string) (*RequestEntry, error) {
	item, err := m.requests.Get(requestID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}

	entry, ok := item.Value().(*RequestEntry)
	if !ok || entry == nil {
		return nil, fmt.Errorf("invalid request entry for ID: %s", requestID)
	}
	return entry, nil
}

// Status reports where a request currently is.
func (m *Manager) Status(requestID string) (Status, error) {
	entry, err := m.GetRequest(requestID)
	if err != nil {
		return Status{}, err
	}
	return entry.Status(), nil
}

func (m *Manager) record(ctx context.Context, req mint.Request, res *mint.Result) {
	if m.recorder == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RecordTimeout)
	defer cancel()

	record := common.MintRecord{
		RequestID:   res.RequestID,
		TxHash:      res.TransactionID,
		Name:        req.Asset.Name,
		Valuation:   res.Valuation.Dec(),
		RiskScore:   res.RiskScore.Uint64(),
		DataHash:    req.Asset.DataHash,
		Originator:  strings.ToLower(req.UserAddress),
		Minter:      res.Minter,
		RiskSource:  string(res.RiskSource),
		BlockNumber: res.BlockNumber,
		IsActive:    true,
		Source:      "store",
		CreatedAt:   time.Now().UTC(),
	}
	if res.AssetID != nil {
		record.AssetID = res.AssetID.String()
	}

	if err := m.recorder.Record(ctx, record); err != nil {
		m.logger.Warn("failed to record mint history",
			zap.String("request_id", res.RequestID),
			zap.String("tx_hash", res.TransactionID),
			zap.Error(err),
		)
	}
}

func (m *Manager) publishMinted(req mint.Request, res *mint.Result) {
	m.publish(common.TickerEvent{
		Kind:       common.TickerMinted,
		Name:       req.Asset.Name,
		Valuation:  res.Valuation.Dec(),
		RiskScore:  res.RiskScore.Uint64(),
		Originator: req.UserAddress,
		TxHash:     res.TransactionID,
		Timestamp:  time.Now().UTC(),
	})
}

// publishRejected announces policy and ledger rejections. Malformed and
// unauthenticated requests are not broadcast.
func (m *Manager) publishRejected(req mint.Request, flowErr *mint.Error) {
	switch flowErr.Reason {
	case mint.ReasonRiskTooHigh, mint.ReasonLedgerRejected:
	default:
		return
	}

	m.publish(common.TickerEvent{
		Kind:       common.TickerRejected,
		Name:       req.Asset.Name,
		Valuation:  req.Asset.Valuation.String(),
		Originator: req.UserAddress,
		TxHash:     flowErr.TxHash,
		Reason:     string(flowErr.Reason),
		Timestamp:  time.Now().UTC(),
	})
}

func (m *Manager) publish(event common.TickerEvent) {
	if m.broadcaster == nil {
		return
	}
	if err := m.broadcaster.Publish(event); err != nil {
		m.logger.Warn("failed to publish ticker event", zap.String("kind", string(event.Kind)), zap.Error(err))
	}
}

// Close drains the request maps and disconnects ticker subscribers.
func (m *Manager) Close() {
	m.requests.Drain()
	m.signatures.Drain()
	if m.broadcaster != nil {
		m.broadcaster.Close()
	}
}

// signatureKey identifies a user authorization independently of how its
// signature is spelled: hex case and v as 27/28 or 0/1 all map to one key.
// Undecodable signatures fall back to their normalised text; the flow
// rejects them anyway.
func signatureKey(sig string) string {
	sig = strings.TrimSpace(sig)
	if canonical, err := eip712.CanonicalSignature(sig); err == nil {
		return strings.TrimPrefix(canonical, "0x")
	}
	return strings.ToLower(strings.TrimPrefix(sig, "0x"))
}

// mayHaveReachedChain reports whether a transaction could exist for the
// failed request. A deadline or a failed send leaves that unknown.
func mayHaveReachedChain(flowErr *mint.Error) bool {
	switch flowErr.State {
	case mint.StateSubmitted, mint.StateConfirmed:
		return true
	}
	if flowErr.Reason == mint.ReasonTimeout || flowErr.TxHash != "" {
		return true
	}
	var sendErr *chain.SendError
	return errors.As(flowErr, &sendErr)
}
