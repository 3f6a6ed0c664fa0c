package eip712

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"
)

// Domain is the EIP-712 domain separator input. Client and server must build
// byte-identical domains.
type Domain struct {
	Name              string
	Version           string
	ChainID           uint64
	VerifyingContract ethcommon.Address
}

// TypeSchema is an ordered list of fields grouped under a named struct.
type TypeSchema struct {
	PrimaryType string
	Fields      []apitypes.Type
}

// MintFields are the asset fields common to both mint structs.
type MintFields struct {
	Name      string
	Valuation *uint256.Int
	RiskScore *uint256.Int
	DataHash  string
}

// TypedMessage is a struct literal bound to the schema it was built for.
type TypedMessage struct {
	Schema  TypeSchema
	Message apitypes.TypedDataMessage
}

// FieldError reports a request field that could not be converted into its
// typed-data representation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("malformed field %q: %s", e.Field, e.Reason)
}

// BuildDomain validates shape only. Nothing is defaulted, so a domain that
// differs from the signer's fails verification instead of being patched up.
func BuildDomain(name, version string, chainID uint64, verifyingContract string) (Domain, error) {
	if name == "" {
		return Domain{}, errors.New("domain name is empty")
	}
	if version == "" {
		return Domain{}, errors.New("domain version is empty")
	}
	if chainID == 0 {
		return Domain{}, errors.New("domain chain id is zero")
	}
	if !ethcommon.IsHexAddress(verifyingContract) {
		return Domain{}, fmt.Errorf("invalid verifying contract address: %q", verifyingContract)
	}

	return Domain{
		Name:              name,
		Version:           version,
		ChainID:           chainID,
		VerifyingContract: ethcommon.HexToAddress(verifyingContract),
	}, nil
}

func (d Domain) typedDataDomain() apitypes.TypedDataDomain {
	chainID := (*math.HexOrDecimal256)(new(big.Int).SetUint64(d.ChainID))

	return apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainId:           chainID,
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

// ParseUint256 converts a decimal string into an unsigned 256 bit integer.
// Signs, whitespace, fractions and exponents are all rejected.
func ParseUint256(field, raw string) (*uint256.Int, error) {
	if raw == "" {
		return nil, &FieldError{Field: field, Reason: "value is required"}
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return nil, &FieldError{Field: field, Reason: "expected a non-negative decimal integer"}
		}
	}

	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, &FieldError{Field: field, Reason: "value does not fit in uint256"}
	}
	return v, nil
}

// NewMintFields parses the raw request values of a mint request.
func NewMintFields(name, valuation, riskScore, dataHash string) (MintFields, error) {
	v, err := ParseUint256("valuation", valuation)
	if err != nil {
		return MintFields{}, err
	}
	r, err := ParseUint256("riskScore", riskScore)
	if err != nil {
		return MintFields{}, err
	}
	if strings.TrimSpace(dataHash) == "" {
		return MintFields{}, &FieldError{Field: "dataHash", Reason: "value is required"}
	}

	return MintFields{
		Name:      name,
		Valuation: v,
		RiskScore: r,
		DataHash:  dataHash,
	}, nil
}

func (f MintFields) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"name":      f.Name,
		"valuation": toBig(f.Valuation),
		"riskScore": toBig(f.RiskScore),
		"dataHash":  f.DataHash,
	}
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

// BuildUserMessage packs the fields the end user signs.
func BuildUserMessage(fields MintFields) TypedMessage {
	return TypedMessage{
		Schema:  UserMintRequest,
		Message: fields.message(),
	}
}

// BuildOracleMessage packs the oracle struct, which adds the minter address.
func BuildOracleMessage(fields MintFields, minter ethcommon.Address) TypedMessage {
	msg := fields.message()
	msg["minter"] = minter.Hex()

	return TypedMessage{
		Schema:  OracleMintRequest,
		Message: msg,
	}
}

// TypedData assembles the full EIP-712 payload for a domain, schema and message.
func TypedData(domain Domain, schema TypeSchema, message apitypes.TypedDataMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":     EIP712Domain,
			schema.PrimaryType: schema.Fields,
		},
		PrimaryType: schema.PrimaryType,
		Domain:      domain.typedDataDomain(),
		Message:     message,
	}
}

// Hash computes keccak256("\x19\x01" || domainSeparator || hashStruct(message)).
func Hash(domain Domain, schema TypeSchema, message apitypes.TypedDataMessage) (ethcommon.Hash, error) {
	hash, _, err := apitypes.TypedDataAndHash(TypedData(domain, schema, message))
	if err != nil {
		return ethcommon.Hash{}, fmt.Errorf("failed to compute EIP712 hash: %w", err)
	}
	return ethcommon.BytesToHash(hash), nil
}
