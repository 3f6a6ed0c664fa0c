package eip712

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrMissingKey = errors.New("oracle private key is not configured")

// Signer holds the oracle key. It is immutable after construction and safe
// for concurrent use. Neither the key nor anything derived from it other than
// the address is ever formatted.
type Signer struct {
	key     *ecdsa.PrivateKey
	address ethcommon.Address
}

// NewSigner parses a hex private key, with or without the 0x prefix.
func NewSigner(privateKeyHex string) (*Signer, error) {
	privateKeyHex = strings.TrimSpace(privateKeyHex)
	if privateKeyHex == "" {
		return nil, ErrMissingKey
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		// the parse error can echo key material
		return nil, errors.New("invalid oracle private key format")
	}
	return NewSignerFromKey(key), nil
}

func NewSignerFromKey(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

func (s *Signer) Address() ethcommon.Address {
	return s.address
}

// PrivateKey exposes the key to the transaction signer of the ledger client.
func (s *Signer) PrivateKey() *ecdsa.PrivateKey {
	return s.key
}

// Sign signs the typed data digest and returns a 0x-hex r||s||v signature
// with v in {27, 28}.
func (s *Signer) Sign(domain Domain, message TypedMessage) (string, error) {
	digest, err := Hash(domain, message.Schema, message.Message)
	if err != nil {
		return "", err
	}

	sig, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign digest: %w", err)
	}
	sig[64] += 27

	return hexutil.Encode(sig), nil
}

func (s Signer) String() string {
	return fmt.Sprintf("Signer(%s)", s.address.Hex())
}

func (s Signer) GoString() string {
	return s.String()
}
