package eip712

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const signatureLength = crypto.SignatureLength

var (
	ErrSignatureLength = errors.New("signature must be 65 bytes")
	ErrSignatureV      = errors.New("signature recovery id must be 0, 1, 27 or 28")
	ErrSignatureValues = errors.New("signature r/s values out of range")
)

// Verify reports whether signatureHex over (domain, schema, message) was
// produced by claimedAddress. Every failure, including malformed input and
// encoding mismatches, yields false.
func Verify(domain Domain, schema TypeSchema, message apitypes.TypedDataMessage, claimedAddress, signatureHex string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if !ethcommon.IsHexAddress(claimedAddress) {
		return false
	}

	recovered, err := Recover(domain, schema, message, signatureHex)
	if err != nil {
		return false
	}

	claimed := ethcommon.HexToAddress(claimedAddress)
	return bytes.Equal(recovered.Bytes(), claimed.Bytes())
}

// Recover returns the address that produced signatureHex over the typed data.
func Recover(domain Domain, schema TypeSchema, message apitypes.TypedDataMessage, signatureHex string) (ethcommon.Address, error) {
	sig, err := decodeSignature(signatureHex)
	if err != nil {
		return ethcommon.Address{}, err
	}

	digest, err := Hash(domain, schema, message)
	if err != nil {
		return ethcommon.Address{}, err
	}

	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return ethcommon.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// CanonicalSignature re-encodes a signature as 0x r||s||v with v in {0, 1}, so
// the 27/28 and 0/1 spellings of one signature compare equal.
func CanonicalSignature(signatureHex string) (string, error) {
	sig, err := decodeSignature(signatureHex)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// decodeSignature returns r||s||v with v normalised to 0/1.
func decodeSignature(signatureHex string) ([]byte, error) {
	sig, err := hexutil.Decode(signatureHex)
	if err != nil {
		return nil, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != signatureLength {
		return nil, ErrSignatureLength
	}

	v := sig[64]
	switch v {
	case 27, 28:
		v -= 27
	case 0, 1:
	default:
		return nil, ErrSignatureV
	}

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(v, r, s, true) {
		return nil, ErrSignatureValues
	}

	out := make([]byte, signatureLength)
	copy(out, sig)
	out[64] = v
	return out, nil
}
