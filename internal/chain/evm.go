package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Minimal MantleForgeFactory ABI: the two oracle entry points and the mint event.
const ledgerABI = `[
    {
        "inputs": [
            {"internalType": "string", "name": "_name", "type": "string"},
            {"internalType": "uint256", "name": "_valuation", "type": "uint256"},
            {"internalType": "uint256", "name": "_riskScore", "type": "uint256"},
            {"internalType": "string", "name": "_dataHash", "type": "string"},
            {"internalType": "bytes", "name": "_signature", "type": "bytes"}
        ],
        "name": "mintRWA",
        "outputs": [],
        "stateMutability": "nonpayable",
        "type": "function"
    },
    {
        "inputs": [
            {"internalType": "uint256", "name": "_id", "type": "uint256"},
            {"internalType": "uint256", "name": "_newRisk", "type": "uint256"}
        ],
        "name": "updateAssetRisk",
        "outputs": [],
        "stateMutability": "nonpayable",
        "type": "function"
    },
    {
        "anonymous": false,
        "inputs": [
            {"indexed": true, "internalType": "uint256", "name": "id", "type": "uint256"},
            {"indexed": false, "internalType": "string", "name": "name", "type": "string"},
            {"indexed": false, "internalType": "uint256", "name": "valuation", "type": "uint256"},
            {"indexed": false, "internalType": "uint256", "name": "riskScore", "type": "uint256"},
            {"indexed": true, "internalType": "address", "name": "originator", "type": "address"}
        ],
        "name": "AssetMinted",
        "type": "event"
    }
]`

const (
	methodMintRWA         = "mintRWA"
	methodUpdateAssetRisk = "updateAssetRisk"
	eventAssetMinted      = "AssetMinted"
)

var ErrEventNotFound = errors.New("AssetMinted event not found in transaction logs")

// ParseLedgerABI parses the embedded contract fragment.
func ParseLedgerABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(ledgerABI))
}

// AssetMintedEvent is a decoded AssetMinted log.
type AssetMintedEvent struct {
	AssetID     *big.Int
	Name        string
	Valuation   *big.Int
	RiskScore   *big.Int
	Originator  common.Address
	TxHash      common.Hash
	BlockNumber uint64
	Timestamp   time.Time
}

type assetMintedData struct {
	Name      string   `abi:"name"`
	Valuation *big.Int `abi:"valuation"`
	RiskScore *big.Int `abi:"riskScore"`
}

// ParseAssetMinted decodes vLog, which must carry the AssetMinted topic.
func ParseAssetMinted(parsed abi.ABI, vLog types.Log) (*AssetMintedEvent, error) {
	event, ok := parsed.Events[eventAssetMinted]
	if !ok {
		return nil, errors.New("ABI has no AssetMinted event")
	}
	if len(vLog.Topics) == 0 || vLog.Topics[0] != event.ID {
		return nil, ErrEventNotFound
	}

	var data assetMintedData
	if err := parsed.UnpackIntoInterface(&data, eventAssetMinted, vLog.Data); err != nil {
		return nil, fmt.Errorf("unpack AssetMinted data: %w", err)
	}

	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	topics := make(map[string]any)
	if err := abi.ParseTopicsIntoMap(topics, indexed, vLog.Topics[1:]); err != nil {
		return nil, fmt.Errorf("parse AssetMinted topics: %w", err)
	}

	id, ok := topics["id"].(*big.Int)
	if !ok {
		return nil, errors.New("failed to unpack asset id")
	}
	originator, ok := topics["originator"].(common.Address)
	if !ok {
		return nil, errors.New("failed to unpack originator address")
	}

	return &AssetMintedEvent{
		AssetID:     id,
		Name:        data.Name,
		Valuation:   data.Valuation,
		RiskScore:   data.RiskScore,
		Originator:  originator,
		TxHash:      vLog.TxHash,
		BlockNumber: vLog.BlockNumber,
	}, nil
}

// FindAssetMinted scans receipt logs emitted by contract for the mint event.
func FindAssetMinted(parsed abi.ABI, contract common.Address, receipt *types.Receipt) (*AssetMintedEvent, error) {
	sigHash := parsed.Events[eventAssetMinted].ID
	for _, vLog := range receipt.Logs {
		if vLog == nil || vLog.Address != contract {
			continue
		}
		if len(vLog.Topics) > 0 && vLog.Topics[0] == sigHash {
			return ParseAssetMinted(parsed, *vLog)
		}
	}
	return nil, ErrEventNotFound
}

// HeaderReader is the subset of a node client needed for block timestamps.
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

func FetchTimeByBlockNumber(
	ctx context.Context,
	client HeaderReader,
	blockNumber *big.Int,
) (time.Time, error) {
	header, err := client.HeaderByNumber(ctx, blockNumber)
	if err != nil {
		return time.Time{}, err
	}

	return time.Unix(int64(header.Time), 0).UTC(), nil
}
