package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"mantleforge/internal/common"
	"mantleforge/internal/config"
	"mantleforge/internal/eip712"
	"mantleforge/internal/hash"

	"github.com/spf13/cobra"
)

type intentFlags struct {
	keyEnv    string
	name      string
	valuation string
	riskScore string
	dataHash  string
	document  string
	assetType string
	chainID   uint64
	contract  string
}

var signFlags intentFlags

var signIntentCmd = &cobra.Command{
	Use:   "sign-intent",
	Short: "Sign a mint intent as a user and print the POST /mint-intent body",
	Long: "Builds the user MintRequest message, signs it with the private key held\n" +
		"in the environment variable named by --key-env and prints the request body.\n" +
		"The domain is taken from the same configuration the server uses.",
	RunE: runSignIntent,
}

var verifyIntentCmd = &cobra.Command{
	Use:   "verify-intent [file]",
	Short: "Check the user signature of a POST /mint-intent body",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runVerifyIntent,
}

func init() {
	f := signIntentCmd.Flags()
	f.StringVar(&signFlags.keyEnv, "key-env", "USER_PK", "environment variable holding the user's private key")
	f.StringVar(&signFlags.name, "name", "", "asset name")
	f.StringVar(&signFlags.valuation, "valuation", "", "asset valuation, decimal integer")
	f.StringVar(&signFlags.riskScore, "risk-score", "0", "claimed risk score, decimal integer")
	f.StringVar(&signFlags.dataHash, "data-hash", "", "data log hash of the asset document")
	f.StringVar(&signFlags.document, "document", "", "path of the asset document; its keccak256 becomes the data hash")
	f.StringVar(&signFlags.assetType, "asset-type", "", "asset type passed to the risk consultant")
	_ = signIntentCmd.MarkFlagRequired("name")
	_ = signIntentCmd.MarkFlagRequired("valuation")

	for _, c := range []*cobra.Command{signIntentCmd, verifyIntentCmd} {
		c.Flags().Uint64Var(&signFlags.chainID, "chain-id", 0, "override MANTLE_CHAIN_ID")
		c.Flags().StringVar(&signFlags.contract, "contract", "", "override CONTRACT_ADDRESS")
	}
}

// intentDomain builds the domain from configuration plus flag overrides.
func intentDomain() (eip712.Domain, error) {
	cfg, err := config.Load()
	if err != nil {
		return eip712.Domain{}, err
	}
	chainID := cfg.ChainID
	if signFlags.chainID != 0 {
		chainID = signFlags.chainID
	}
	contract := cfg.ContractAddress
	if signFlags.contract != "" {
		contract = signFlags.contract
	}
	return eip712.BuildDomain(cfg.DomainName, cfg.DomainVersion, chainID, contract)
}

func runSignIntent(cmd *cobra.Command, args []string) error {
	domain, err := intentDomain()
	if err != nil {
		return err
	}

	keyHex := strings.TrimSpace(os.Getenv(signFlags.keyEnv))
	if keyHex == "" {
		return fmt.Errorf("%s is not set", signFlags.keyEnv)
	}
	signer, err := eip712.NewSigner(keyHex)
	if err != nil {
		return err
	}

	dataHash := signFlags.dataHash
	if dataHash != "" {
		parsed, err := hash.ParseDataHash(dataHash)
		if err != nil {
			return fmt.Errorf("--data-hash: %w", err)
		}
		dataHash = parsed.Hex()
	}
	if signFlags.document != "" {
		content, err := os.ReadFile(signFlags.document)
		if err != nil {
			return fmt.Errorf("read document: %w", err)
		}
		dataHash = hash.DocumentHash(content).Hex()
	}
	if dataHash == "" {
		return errors.New("one of --data-hash or --document is required")
	}

	fields, err := eip712.NewMintFields(signFlags.name, signFlags.valuation, signFlags.riskScore, dataHash)
	if err != nil {
		return err
	}
	sig, err := signer.Sign(domain, eip712.BuildUserMessage(fields))
	if err != nil {
		return err
	}

	body := common.MintIntentRequest{
		Signature:   sig,
		UserAddress: signer.Address().Hex(),
		AssetData: common.AssetData{
			Name:      fields.Name,
			Valuation: common.IntString(fields.Valuation.Dec()),
			RiskScore: common.IntString(fields.RiskScore.Dec()),
			DataHash:  dataHash,
			AssetType: signFlags.assetType,
		},
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(body)
}

func runVerifyIntent(cmd *cobra.Command, args []string) error {
	domain, err := intentDomain()
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		file, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer file.Close()
		in = file
	}

	var body common.MintIntentRequest
	if err := json.NewDecoder(in).Decode(&body); err != nil {
		return fmt.Errorf("decode intent: %w", err)
	}

	fields, err := eip712.NewMintFields(body.AssetData.Name, body.AssetData.Valuation.String(), body.AssetData.RiskScore.String(), body.AssetData.DataHash)
	if err != nil {
		return err
	}
	message := eip712.BuildUserMessage(fields)

	out := cmd.OutOrStdout()
	if eip712.Verify(domain, message.Schema, message.Message, body.UserAddress, body.Signature) {
		fmt.Fprintf(out, "valid: signed by %s\n", body.UserAddress)
		return nil
	}

	recovered, err := eip712.Recover(domain, message.Schema, message.Message, body.Signature)
	if err != nil {
		fmt.Fprintf(out, "invalid: %v\n", err)
	} else {
		fmt.Fprintf(out, "invalid: signature recovers to %s, not %s\n", recovered.Hex(), body.UserAddress)
	}
	return errors.New("signature does not match userAddress")
}
