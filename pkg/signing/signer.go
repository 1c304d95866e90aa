package signing

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/hlrelay/pkg/crypto"
	"github.com/uhyunpark/hlrelay/pkg/errs"
)

// Signer drives an identity through signing and re-verifies the result. It
// imposes no deadline of its own; callers bound the wait through ctx.
type Signer struct {
	verifier *Verifier
}

func NewSigner(verifier *Verifier) *Signer {
	return &Signer{verifier: verifier}
}

func (s *Signer) Verifier() *Verifier { return s.verifier }

// Sign asks id to sign typedData, switching its chain first when required,
// and checks that the signature recovers to id's address.
func (s *Signer) Sign(ctx context.Context, typedData *apitypes.TypedData, id Identity) (crypto.Signature, Report, error) {
	const op = "signing.sign"

	if nb, ok := id.(NetworkBound); ok && typedData.Domain.ChainId != nil {
		if err := ensureChain(ctx, nb, (*big.Int)(typedData.Domain.ChainId)); err != nil {
			return crypto.Signature{}, Report{}, err
		}
	}

	raw, err := id.SignTypedData(ctx, typedData)
	if err != nil {
		return crypto.Signature{}, Report{}, classify(op, err)
	}

	sig, err := crypto.SignatureFromBytes(raw)
	if err != nil {
		return crypto.Signature{}, Report{}, errs.Wrap(errs.KindValidation, op, err)
	}

	report, err := s.verifier.Check(typedData, sig, id.Address())
	if err != nil {
		return sig, report, err
	}
	return sig, report, nil
}

// ensureChain requests a switch when the identity is on another chain and
// only returns nil once the identity reports the wanted chain.
func ensureChain(ctx context.Context, nb NetworkBound, want *big.Int) error {
	const op = "signing.switch_chain"

	current, err := nb.ChainID(ctx)
	if err != nil {
		return classify(op, err)
	}
	if current != nil && current.Cmp(want) == 0 {
		return nil
	}

	if err := nb.SwitchChain(ctx, want); err != nil {
		return classify(op, err)
	}

	current, err = nb.ChainID(ctx)
	if err != nil {
		return classify(op, err)
	}
	if current == nil || current.Cmp(want) != 0 {
		return errs.Wrap(errs.KindIdentityUnavailable, op,
			fmt.Errorf("wallet stayed on chain %v after switching to %v", current, want))
	}
	return nil
}

func classify(op string, err error) error {
	var we *WalletError
	switch {
	case errors.As(err, &we):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errs.Wrap(errs.KindIdentityUnavailable, op, err)
	default:
		return errs.Wrap(errs.KindInternal, op, err)
	}
}
