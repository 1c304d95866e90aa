package signing

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"go.uber.org/zap"

	"github.com/uhyunpark/hlrelay/pkg/crypto"
	"github.com/uhyunpark/hlrelay/pkg/errs"
)

// MismatchPolicy decides what happens when a signature recovers to an
// address other than the expected signer.
type MismatchPolicy uint8

const (
	// LogOnly records the mismatch and lets the submission proceed; the
	// exchange remains the authority on signature validity.
	LogOnly MismatchPolicy = iota
	Abort
)

func (p MismatchPolicy) String() string {
	if p == Abort {
		return "abort"
	}
	return "log_only"
}

var ErrSignerMismatch = errors.New("recovered signer does not match expected address")

// Report is the outcome of re-verifying one signature.
type Report struct {
	Expected  common.Address `json:"expected"`
	Recovered common.Address `json:"recovered"`
	Match     bool           `json:"match"`
	Digest    common.Hash    `json:"digest"`
}

type Verifier struct {
	log        *zap.SugaredLogger
	policy     MismatchPolicy
	mismatches atomic.Int64
}

func NewVerifier(log *zap.Logger, policy MismatchPolicy) *Verifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{log: log.Sugar(), policy: policy}
}

func (v *Verifier) Policy() MismatchPolicy { return v.policy }

// Mismatches is the number of mismatching signatures seen since start.
func (v *Verifier) Mismatches() int64 { return v.mismatches.Load() }

// Check recomputes the digest of typedData, recovers the signer and compares
// it with expected. A mismatch is always logged; under Abort it is also
// returned as a validation error.
func (v *Verifier) Check(typedData *apitypes.TypedData, sig crypto.Signature, expected common.Address) (Report, error) {
	const op = "signing.verify"
	report := Report{Expected: expected}

	digest, err := crypto.HashTypedData(typedData)
	if err != nil {
		return report, errs.Wrap(errs.KindValidation, op, err)
	}
	report.Digest = common.BytesToHash(digest)

	recovered, err := crypto.RecoverAddress(digest, sig)
	if err != nil {
		v.log.Warnw("signature_unrecoverable",
			"expected", expected.Hex(),
			"primary_type", typedData.PrimaryType,
			"error", err,
		)
		v.mismatches.Add(1)
		if v.policy == Abort {
			return report, errs.Wrap(errs.KindValidation, op, err)
		}
		return report, nil
	}
	report.Recovered = recovered
	report.Match = strings.EqualFold(recovered.Hex(), expected.Hex())

	if report.Match {
		v.log.Debugw("signature_verified",
			"signer", recovered.Hex(),
			"primary_type", typedData.PrimaryType,
		)
		return report, nil
	}

	v.mismatches.Add(1)
	v.log.Warnw("signer_mismatch",
		"expected", expected.Hex(),
		"recovered", recovered.Hex(),
		"digest", report.Digest.Hex(),
		"primary_type", typedData.PrimaryType,
		"policy", v.policy.String(),
	)
	if v.policy == Abort {
		return report, errs.Wrap(errs.KindValidation, op, ErrSignerMismatch)
	}
	return report, nil
}
