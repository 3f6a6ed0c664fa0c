package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"mantleforge/internal/chain"
	"mantleforge/internal/common"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const (
	SourceStore  = "store"
	SourceLedger = "ledger"

	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

var ErrInvalidAddress = errors.New("invalid address")

type Page struct {
	Limit  int `schema:"limit"`
	Offset int `schema:"offset"`
}

// Normalize clamps the page into the allowed range.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Store is implemented by *GormStore.
type Store interface {
	Append(ctx context.Context, record common.MintRecord) error
	ListByOriginator(ctx context.Context, originator string, page Page) ([]common.MintRecord, error)
	ListActive(ctx context.Context) ([]common.MintRecord, error)
	UpdateRisk(ctx context.Context, assetID string, riskScore uint64) error
}

// EventSource is implemented by *chain.Ledger.
type EventSource interface {
	FetchMintEvents(ctx context.Context, originator ethcommon.Address, fromBlock uint64) ([]chain.AssetMintedEvent, error)
}

type Option func(*Service)

// WithFromBlock sets the first block scanned by the ledger fallback.
func WithFromBlock(block uint64) Option {
	return func(s *Service) {
		s.fromBlock = block
	}
}

// WithOracle names the account that submits mints on users' behalf. Ledger
// events sent by it cannot be attributed to a user, so their originator is
// left empty.
func WithOracle(oracle ethcommon.Address) Option {
	return func(s *Service) {
		s.oracle = oracle
	}
}

// Service serves mint history from the side-store and falls back to ledger
// events when the store is missing or failing.
type Service struct {
	store     Store
	events    EventSource
	fromBlock uint64
	oracle    ethcommon.Address
	logger    *zap.Logger
}

// NewService accepts a nil store or a nil event source, not both.
func NewService(store Store, events EventSource, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:  store,
		events: events,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) storeAvailable() bool {
	if s.store == nil {
		return false
	}
	if g, ok := s.store.(*GormStore); ok {
		return g.Available()
	}
	return true
}

func (s *Service) Record(ctx context.Context, record common.MintRecord) error {
	if !s.storeAvailable() {
		return ErrStoreUnavailable
	}
	record.Originator = strings.ToLower(record.Originator)
	record.Minter = strings.ToLower(record.Minter)
	if err := s.store.Append(ctx, record); err != nil {
		return fmt.Errorf("append mint record: %w", err)
	}
	return nil
}

// List returns the mints originated by address, newest first. The ledger
// fallback only sees the account that sent mintRWA: for oracle-submitted
// mints that is the oracle, so a user address finds nothing there while the
// oracle address lists every such mint.
func (s *Service) List(ctx context.Context, address string, page Page) ([]common.MintRecord, error) {
	if !ethcommon.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	page = page.Normalize()

	if s.storeAvailable() {
		records, err := s.store.ListByOriginator(ctx, address, page)
		if err == nil {
			return records, nil
		}
		if s.events == nil {
			return nil, fmt.Errorf("list mint records: %w", err)
		}
		s.logger.Warn("mint history store failed, falling back to ledger events",
			zap.String("address", address),
			zap.Error(err),
		)
	}

	if s.events == nil {
		return nil, ErrStoreUnavailable
	}
	return s.fromLedger(ctx, ethcommon.HexToAddress(address), page)
}

func (s *Service) fromLedger(ctx context.Context, originator ethcommon.Address, page Page) ([]common.MintRecord, error) {
	events, err := s.events.FetchMintEvents(ctx, originator, s.fromBlock)
	if err != nil {
		return nil, fmt.Errorf("fetch ledger mint events: %w", err)
	}

	records := make([]common.MintRecord, 0, len(events))
	for _, event := range events {
		records = append(records, s.recordFromEvent(event))
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].BlockNumber > records[j].BlockNumber
	})

	if page.Offset >= len(records) {
		return []common.MintRecord{}, nil
	}
	end := page.Offset + page.Limit
	if end > len(records) {
		end = len(records)
	}
	return records[page.Offset:end], nil
}

func (s *Service) ListActive(ctx context.Context) ([]common.MintRecord, error) {
	if !s.storeAvailable() {
		return nil, ErrStoreUnavailable
	}
	return s.store.ListActive(ctx)
}

func (s *Service) UpdateRisk(ctx context.Context, assetID string, riskScore uint64) error {
	if !s.storeAvailable() {
		return ErrStoreUnavailable
	}
	return s.store.UpdateRisk(ctx, assetID, riskScore)
}

func (s *Service) recordFromEvent(event chain.AssetMintedEvent) common.MintRecord {
	sender := strings.ToLower(event.Originator.Hex())
	originator := sender
	if s.oracle != (ethcommon.Address{}) && event.Originator == s.oracle {
		originator = ""
	}

	record := common.MintRecord{
		TxHash:      event.TxHash.Hex(),
		Name:        event.Name,
		Originator:  originator,
		Minter:      sender,
		BlockNumber: event.BlockNumber,
		IsActive:    true,
		Source:      SourceLedger,
		CreatedAt:   event.Timestamp,
	}
	if event.AssetID != nil {
		record.AssetID = event.AssetID.String()
	}
	if event.Valuation != nil {
		record.Valuation = event.Valuation.String()
	}
	if event.RiskScore != nil && event.RiskScore.IsUint64() {
		record.RiskScore = event.RiskScore.Uint64()
	}
	return record
}
