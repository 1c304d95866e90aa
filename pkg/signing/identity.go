// Package signing obtains signatures over typed data from a signing identity
// and re-verifies every result before it is trusted.
package signing

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/hlrelay/pkg/crypto"
)

// Identity is anything that can sign typed data as a fixed address: an
// in-process key or a wallet reached over some bridge.
type Identity interface {
	Address() common.Address
	// SignTypedData returns a 65-byte [R || S || V] signature.
	SignTypedData(ctx context.Context, typedData *apitypes.TypedData) ([]byte, error)
}

// NetworkBound is implemented by identities that are connected to a chain
// and may have to be asked to switch before signing.
type NetworkBound interface {
	ChainID(ctx context.Context) (*big.Int, error)
	SwitchChain(ctx context.Context, chainID *big.Int) error
}

// LocalIdentity signs with a key held in process.
type LocalIdentity struct {
	key *crypto.Signer
}

func NewLocalIdentity(key *crypto.Signer) *LocalIdentity {
	return &LocalIdentity{key: key}
}

// LocalIdentityFromHex loads a local identity from a hex private key.
func LocalIdentityFromHex(hexKey string) (*LocalIdentity, error) {
	key, err := crypto.FromPrivateKeyHex(hexKey)
	if err != nil {
		return nil, err
	}
	return NewLocalIdentity(key), nil
}

func (l *LocalIdentity) Address() common.Address { return l.key.Address() }

func (l *LocalIdentity) SignTypedData(ctx context.Context, typedData *apitypes.TypedData) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sig, err := crypto.SignTypedData(l.key, typedData)
	if err != nil {
		return nil, err
	}
	return sig.Bytes(), nil
}
