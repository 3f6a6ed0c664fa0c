package hash

import (
	"errors"
	"fmt"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// DocumentHash computes the keccak256 content hash of an uploaded asset
// document. Clients sign its 0x-hex form as the dataHash field.
func DocumentHash(content []byte) ethcommon.Hash {
	return crypto.Keccak256Hash(content)
}

// DataLogReference resolves the data-availability location of a signed
// dataHash. Without a configured endpoint the hash itself is the reference.
func DataLogReference(endpoint string, dataHash string) string {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return dataHash
	}
	return fmt.Sprintf("%s/blob/%s", endpoint, dataHash)
}

var ErrDataHashFormat = errors.New("data hash must be 0x-prefixed hex of 32 bytes")

// ParseDataHash accepts exactly the form DocumentHash produces: 0x followed by
// 64 hex digits.
func ParseDataHash(s string) (ethcommon.Hash, error) {
	b, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil {
		return ethcommon.Hash{}, fmt.Errorf("%w: %v", ErrDataHashFormat, err)
	}
	if len(b) != ethcommon.HashLength {
		return ethcommon.Hash{}, fmt.Errorf("%w: got %d bytes", ErrDataHashFormat, len(b))
	}
	return ethcommon.BytesToHash(b), nil
}
