package eip712

import (
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Default domain identity shared with the web client and the ledger contract.
const (
	MantleForgeDomainName    = "MantleForge"
	MantleForgeDomainVersion = "1"
)

const mintRequestType = "MintRequest"

// EIP712Domain defines the EIP712 domain type structure
var EIP712Domain = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// UserMintRequest is the struct end users sign when asking for a mint.
var UserMintRequest = TypeSchema{
	PrimaryType: mintRequestType,
	Fields: []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "valuation", Type: "uint256"},
		{Name: "riskScore", Type: "uint256"},
		{Name: "dataHash", Type: "string"},
	},
}

// OracleMintRequest is the struct the oracle signs for mintRWA. It shares the
// primary type name with UserMintRequest but has a different type hash.
var OracleMintRequest = TypeSchema{
	PrimaryType: mintRequestType,
	Fields: []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "valuation", Type: "uint256"},
		{Name: "riskScore", Type: "uint256"},
		{Name: "dataHash", Type: "string"},
		{Name: "minter", Type: "address"},
	},
}
