package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// Backend is what the ledger client needs from a node. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// RevertError is an on-chain rejection, either during gas estimation or in a
// mined receipt with status 0.
type RevertError struct {
	Reason string
	TxHash string
	Err    error
}

func (e *RevertError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("ledger reverted tx %s: %s", e.TxHash, e.Reason)
	}
	return fmt.Sprintf("ledger reverted: %s", e.Reason)
}

func (e *RevertError) Unwrap() error {
	return e.Err
}

// SendError is a failure while handing a signed transaction to the node. The
// transaction may or may not have been broadcast.
type SendError struct {
	Method string
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s: %v", e.Method, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// MintCall carries the mintRWA arguments.
type MintCall struct {
	Name      string
	Valuation *big.Int
	RiskScore *big.Int
	DataHash  string
	Signature []byte
}

// Submission is a mint transaction accepted by the node.
type Submission struct {
	TxHash      common.Hash
	GasEstimate uint64
}

// Confirmation is a mined transaction.
type Confirmation struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Status      uint64
	AssetID     *big.Int
}

type Option func(*Ledger)

// WithPollInterval sets the first receipt polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(l *Ledger) {
		l.pollInterval = d
	}
}

// Ledger is the client for the MantleForgeFactory contract. It is built once
// by the composition root and shared by all requests.
type Ledger struct {
	backend      Backend
	contract     *bind.BoundContract
	abi          abi.ABI
	address      common.Address
	key          *ecdsa.PrivateKey
	from         common.Address
	chainID      *big.Int
	pollInterval time.Duration
	logger       *zap.Logger
}

func NewLedger(
	backend Backend,
	contractAddress common.Address,
	key *ecdsa.PrivateKey,
	chainID uint64,
	logger *zap.Logger,
	opts ...Option,
) (*Ledger, error) {
	if backend == nil {
		return nil, errors.New("ledger backend is nil")
	}
	if key == nil {
		return nil, errors.New("ledger signing key is nil")
	}
	if contractAddress == (common.Address{}) {
		return nil, errors.New("ledger contract address is not configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	parsed, err := ParseLedgerABI()
	if err != nil {
		return nil, fmt.Errorf("parse ledger ABI: %w", err)
	}

	l := &Ledger{
		backend:      backend,
		contract:     bind.NewBoundContract(contractAddress, parsed, backend, backend, backend),
		abi:          parsed,
		address:      contractAddress,
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		chainID:      new(big.Int).SetUint64(chainID),
		pollInterval: 2 * time.Second,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Ledger) Address() common.Address {
	return l.address
}

// CheckChainID compares the node's chain id with the configured one, so a
// misconfigured RPC endpoint is caught before any signature is produced.
func (l *Ledger) CheckChainID(ctx context.Context) error {
	remote, err := l.backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("fetch chain id: %w", err)
	}
	if remote.Cmp(l.chainID) != 0 {
		return fmt.Errorf("rpc chain id %s does not match configured chain id %s", remote, l.chainID)
	}
	return nil
}

// MintRWA estimates gas for the call and submits it. Reverts during
// estimation come back as *RevertError and nothing is sent. Failures after
// signing come back as *SendError.
func (l *Ledger) MintRWA(ctx context.Context, call MintCall) (*Submission, error) {
	gas, err := l.estimate(ctx, methodMintRWA, call.Name, call.Valuation, call.RiskScore, call.DataHash, call.Signature)
	if err != nil {
		return nil, err
	}

	tx, err := l.transact(ctx, gas, methodMintRWA, call.Name, call.Valuation, call.RiskScore, call.DataHash, call.Signature)
	if err != nil {
		return nil, err
	}

	l.logger.Info("mint transaction sent",
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.Uint64("gas_estimate", gas),
		zap.Uint64("nonce", tx.Nonce()),
	)
	return &Submission{TxHash: tx.Hash(), GasEstimate: gas}, nil
}

// UpdateAssetRisk is restricted to the oracle role on-chain.
func (l *Ledger) UpdateAssetRisk(ctx context.Context, assetID *big.Int, newRisk uint64) (common.Hash, error) {
	risk := new(big.Int).SetUint64(newRisk)

	gas, err := l.estimate(ctx, methodUpdateAssetRisk, assetID, risk)
	if err != nil {
		return common.Hash{}, err
	}

	tx, err := l.transact(ctx, gas, methodUpdateAssetRisk, assetID, risk)
	if err != nil {
		return common.Hash{}, err
	}

	l.logger.Info("risk update sent",
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.String("asset_id", assetID.String()),
		zap.Uint64("new_risk", newRisk),
	)
	return tx.Hash(), nil
}

func (l *Ledger) estimate(ctx context.Context, method string, params ...any) (uint64, error) {
	input, err := l.abi.Pack(method, params...)
	if err != nil {
		return 0, fmt.Errorf("pack %s: %w", method, err)
	}

	to := l.address
	gas, err := l.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: l.from,
		To:   &to,
		Data: input,
	})
	if err != nil {
		if reason, ok := RevertReason(err); ok {
			return 0, &RevertError{Reason: reason, Err: err}
		}
		return 0, fmt.Errorf("estimate gas for %s: %w", method, err)
	}
	return gas, nil
}

func (l *Ledger) transact(ctx context.Context, gas uint64, method string, params ...any) (*types.Transaction, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(l.key, l.chainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx
	opts.GasLimit = gas

	tx, err := l.contract.Transact(opts, method, params...)
	if err != nil {
		if reason, ok := RevertReason(err); ok {
			return nil, &RevertError{Reason: reason, Err: err}
		}
		return nil, &SendError{Method: method, Err: err}
	}
	return tx, nil
}

// GasCost is a fee quote for a call.
type GasCost struct {
	GasLimit uint64
	GasPrice *big.Int
	Total    *big.Int
}

// EstimateCost quotes gas for an arbitrary call sent from the oracle account.
func (l *Ledger) EstimateCost(ctx context.Context, to common.Address, data []byte) (*GasCost, error) {
	gas, err := l.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: l.from,
		To:   &to,
		Data: data,
	})
	if err != nil {
		if reason, ok := RevertReason(err); ok {
			return nil, &RevertError{Reason: reason, Err: err}
		}
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	price, err := l.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	return &GasCost{
		GasLimit: gas,
		GasPrice: price,
		Total:    new(big.Int).Mul(price, new(big.Int).SetUint64(gas)),
	}, nil
}

// WaitConfirmed polls for the receipt until it exists or ctx is done.
func (l *Ledger) WaitConfirmed(ctx context.Context, txHash common.Hash) (*Confirmation, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = l.pollInterval
	eb.MaxInterval = 8 * l.pollInterval
	eb.MaxElapsedTime = 0

	var receipt *types.Receipt
	operation := func() error {
		r, err := l.backend.TransactionReceipt(ctx, txHash)
		if err != nil {
			if !errors.Is(err, ethereum.NotFound) {
				l.logger.Warn("receipt lookup failed", zap.String("tx_hash", txHash.Hex()), zap.Error(err))
			}
			return err
		}
		receipt = r
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(eb, ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("waiting for receipt of %s: %w", txHash.Hex(), ctxErr)
		}
		return nil, fmt.Errorf("waiting for receipt of %s: %w", txHash.Hex(), err)
	}

	conf := &Confirmation{
		TxHash:  txHash,
		GasUsed: receipt.GasUsed,
		Status:  receipt.Status,
	}
	if receipt.BlockNumber != nil {
		conf.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return conf, &RevertError{Reason: "transaction reverted", TxHash: txHash.Hex()}
	}

	if event, err := FindAssetMinted(l.abi, l.address, receipt); err == nil {
		conf.AssetID = event.AssetID
	}
	return conf, nil
}

// FetchMintEvents reads AssetMinted logs for an originator from fromBlock to
// the chain head.
func (l *Ledger) FetchMintEvents(ctx context.Context, originator common.Address, fromBlock uint64) ([]AssetMintedEvent, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{l.address},
		Topics: [][]common.Hash{
			{l.abi.Events[eventAssetMinted].ID},
			nil,
			{common.BytesToHash(originator.Bytes())},
		},
	}

	logs, err := l.backend.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filter AssetMinted logs: %w", err)
	}

	blockTimes := make(map[uint64]time.Time)
	events := make([]AssetMintedEvent, 0, len(logs))
	for _, vLog := range logs {
		if vLog.Removed {
			continue
		}
		event, err := ParseAssetMinted(l.abi, vLog)
		if err != nil {
			l.logger.Warn("skipping undecodable AssetMinted log",
				zap.String("tx_hash", vLog.TxHash.Hex()),
				zap.Error(err),
			)
			continue
		}

		ts, seen := blockTimes[vLog.BlockNumber]
		if !seen {
			ts, err = FetchTimeByBlockNumber(ctx, l.backend, new(big.Int).SetUint64(vLog.BlockNumber))
			if err != nil {
				return nil, fmt.Errorf("fetch block %d time: %w", vLog.BlockNumber, err)
			}
			blockTimes[vLog.BlockNumber] = ts
		}
		event.Timestamp = ts

		events = append(events, *event)
	}
	return events, nil
}

// RevertReason extracts the reason of an execution revert from a node error.
func RevertReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if hexData, ok := dataErr.ErrorData().(string); ok {
			if data, decodeErr := hexutil.Decode(hexData); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason, true
				}
			}
		}
	}

	msg := err.Error()
	idx := strings.Index(msg, "execution reverted")
	if idx < 0 {
		return "", false
	}
	reason := strings.TrimSpace(msg[idx+len("execution reverted"):])
	reason = strings.TrimSpace(strings.TrimPrefix(reason, ":"))
	if reason == "" {
		reason = "execution reverted"
	}
	return reason, true
}
