package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain is the EIP-712 domain separator input.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// NewTypedData assembles a typed-data payload with a single primary struct.
// Message values follow apitypes conventions: integers as decimal strings,
// addresses and fixed bytes as 0x-prefixed hex.
func NewTypedData(domain Domain, primaryType string, fields []apitypes.Type, message apitypes.TypedDataMessage) *apitypes.TypedData {
	chainID := domain.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}
	return &apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			primaryType:    fields,
		},
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: message,
	}
}

// HashTypedData computes keccak256("\x19\x01" || domainSeparator || hashStruct(message)).
func HashTypedData(typedData *apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := make([]byte, 0, 66)
	rawData = append(rawData, 0x19, 0x01)
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, typedDataHash...)
	return crypto.Keccak256(rawData), nil
}

// SignTypedData hashes and signs typed data with an in-process key.
func SignTypedData(signer *Signer, typedData *apitypes.TypedData) (Signature, error) {
	hash, err := HashTypedData(typedData)
	if err != nil {
		return Signature{}, err
	}
	sig, err := signer.Sign(hash)
	if err != nil {
		return Signature{}, fmt.Errorf("failed to sign typed data: %w", err)
	}
	return sig, nil
}

// RecoverTypedSigner recovers the address that signed the typed data.
func RecoverTypedSigner(typedData *apitypes.TypedData, sig Signature) (common.Address, error) {
	hash, err := HashTypedData(typedData)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, sig)
}

// TypedDataJSON renders the payload in the shape wallets accept for
// eth_signTypedData_v4.
func TypedDataJSON(typedData *apitypes.TypedData) (string, error) {
	jsonBytes, err := json.Marshal(typedData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}
