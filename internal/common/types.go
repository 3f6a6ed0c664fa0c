package common

import (
	"bytes"
	"encoding/json"
	"reflect"
	"time"
)

/*
JSON equivalent:

	"150000" | 150000

IntString keeps the literal text of an integer field exactly as the client sent
it, whether it arrived as a JSON string or a JSON number. Conversion to an
integer happens later and explicitly, so a value like 1.5e3 is rejected instead
of being rounded through float64.
*/
type IntString string

func (i *IntString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*i = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*i = IntString(s)
		return nil
	}

	// bare JSON number, kept verbatim
	if data[0] != '-' && (data[0] < '0' || data[0] > '9') {
		return &json.UnmarshalTypeError{Value: string(data), Type: reflect.TypeOf(IntString(""))}
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return &json.UnmarshalTypeError{Value: string(data), Type: reflect.TypeOf(IntString(""))}
	}
	*i = IntString(n.String())
	return nil
}

func (i IntString) String() string {
	return string(i)
}

/*
JSON equivalent:

	assetData: {
		name: string
		valuation: string
		riskScore: string
		dataHash: string
		assetType?: string
		analysisText?: string
	}
*/
type AssetData struct {
	Name         string    `json:"name"`
	Valuation    IntString `json:"valuation" binding:"required"`
	RiskScore    IntString `json:"riskScore" binding:"required"`
	DataHash     string    `json:"dataHash" binding:"required"`
	AssetType    string    `json:"assetType,omitempty"`
	AnalysisText string    `json:"analysisText,omitempty"`
}

/*
JSON equivalent:

	POST /mint-intent
	{
		signature: string
		assetData: AssetData
		userAddress: string
	}
*/
type MintIntentRequest struct {
	Signature   string    `json:"signature" binding:"required"`
	AssetData   AssetData `json:"assetData"`
	UserAddress string    `json:"userAddress" binding:"required"`
}

/*
JSON equivalent:

	{
		transactionId: string
		dataLogReference: string
		gasEstimate: string
		riskScore: number
		valuation: number
		requestId: string
		riskSource: string
	}
*/
type MintIntentResponse struct {
	TransactionID    string      `json:"transactionId"`
	DataLogReference string      `json:"dataLogReference"`
	GasEstimate      string      `json:"gasEstimate"`
	RiskScore        json.Number `json:"riskScore"`
	Valuation        json.Number `json:"valuation"`
	RequestID        string      `json:"requestId"`
	RiskSource       string      `json:"riskSource"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
	Field  string `json:"field,omitempty"`
	TxHash string `json:"transactionId,omitempty"`
}

/*
JSON equivalent:

	{
		requestId: string
		txHash: string
		assetId?: string
		name: string
		valuation: string
		riskScore: number
		dataHash: string
		originator: string
		minter: string
		riskSource: string
		blockNumber: number
		isActive: boolean
		source: "store" | "ledger"
		createdAt: string
	}
*/
type MintRecord struct {
	RequestID   string    `json:"requestId,omitempty"`
	TxHash      string    `json:"txHash"`
	AssetID     string    `json:"assetId,omitempty"`
	Name        string    `json:"name"`
	Valuation   string    `json:"valuation"`
	RiskScore   uint64    `json:"riskScore"`
	DataHash    string    `json:"dataHash,omitempty"`
	Originator  string    `json:"originator"`
	Minter      string    `json:"minter,omitempty"`
	RiskSource  string    `json:"riskSource,omitempty"`
	BlockNumber uint64    `json:"blockNumber,omitempty"`
	IsActive    bool      `json:"isActive"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"createdAt"`
}

// TickerKind tags the events pushed to ticker subscribers.
type TickerKind string

const (
	TickerMinted   TickerKind = "MINTED"
	TickerRejected TickerKind = "REJECTED"
)

/*
JSON equivalent:

	{
		kind: "MINTED" | "REJECTED"
		name: string
		valuation: string
		riskScore: number
		originator: string
		txHash?: string
		reason?: string
		timestamp: string
	}
*/
type TickerEvent struct {
	Kind       TickerKind `json:"kind"`
	Name       string     `json:"name"`
	Valuation  string     `json:"valuation"`
	RiskScore  uint64     `json:"riskScore"`
	Originator string     `json:"originator"`
	TxHash     string     `json:"txHash,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}
