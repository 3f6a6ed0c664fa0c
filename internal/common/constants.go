package common

// ChainID represents supported network chain IDs as an enum type
type ChainID uint64

const (
	MantleMainnet ChainID = 5000
	MantleSepolia ChainID = 5003
	// Hardhat / anvil local node
	LocalDevnet ChainID = 31337
)

// RiskRejectionThreshold mirrors the ledger's own check: mintRWA reverts with
// "Risk Too High: Mint Rejected" for any risk score at or above this value.
const RiskRejectionThreshold uint64 = 90

// MaxRiskScore is the upper bound of the scoring scale used by the risk model.
const MaxRiskScore uint64 = 100

// Name reports a human readable network name, used by the status endpoint.
func (c ChainID) Name() string {
	switch c {
	case MantleMainnet:
		return "Mantle"
	case MantleSepolia:
		return "Mantle Sepolia"
	case LocalDevnet:
		return "Local Devnet"
	default:
		return "Unknown"
	}
}
