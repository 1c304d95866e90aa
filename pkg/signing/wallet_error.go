package signing

import (
	"fmt"

	"github.com/uhyunpark/hlrelay/pkg/errs"
)

// EIP-1193 provider error codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnected = 4901
	CodeUnknownChain      = 4902
	CodeRequestPending    = -32002
)

// WalletError is an error reported by a browser wallet provider.
type WalletError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *WalletError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("wallet error %d", e.Code)
	}
	return fmt.Sprintf("wallet error %d: %s", e.Code, e.Message)
}

// ErrKind maps the provider code onto the relay's error taxonomy.
func (e *WalletError) ErrKind() errs.Kind {
	switch e.Code {
	case CodeUserRejected:
		return errs.KindUserRejected
	case CodeUnauthorized, CodeDisconnected, CodeChainDisconnected, CodeUnknownChain, CodeRequestPending:
		return errs.KindIdentityUnavailable
	default:
		return errs.KindInternal
	}
}

// Is lets errors.Is(err, errs.ErrUserRejected) match wallet rejections.
func (e *WalletError) Is(target error) bool {
	t, ok := target.(*errs.Error)
	return ok && t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.ErrKind()
}

// UserMessage is the text shown to the person holding the wallet.
func (e *WalletError) UserMessage() string {
	switch e.ErrKind() {
	case errs.KindUserRejected:
		return "Request was rejected in the wallet"
	case errs.KindIdentityUnavailable:
		if e.Code == CodeRequestPending {
			return "A wallet request is already pending, open the wallet to continue"
		}
		return "Wallet is locked, disconnected or on an unsupported network"
	default:
		return e.Error()
	}
}
