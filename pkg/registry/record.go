package registry

import (
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"
)

// Secret holds delegate key material. It is persisted as-is but prints as a
// placeholder everywhere else.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string   { return redacted }
func (s Secret) GoString() string { return redacted }

func (s Secret) Format(f fmt.State, _ rune) {
	fmt.Fprint(f, redacted)
}

// Reveal returns the raw value for signing.
func (s Secret) Reveal() string { return string(s) }

// Record is one owner's delegate (API) wallet. The JSON layout is the
// on-disk format.
type Record struct {
	UserAddress         string     `json:"userAddress"`
	APIWalletAddress    string     `json:"apiWalletAddress"`
	APIWalletPrivateKey Secret     `json:"apiWalletPrivateKey"`
	CreatedAt           time.Time  `json:"createdAt"`
	Authorized          bool       `json:"authorized"`
	AuthorizedAt        *time.Time `json:"authorizedAt,omitempty"`
}

func (r *Record) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("user_address", r.UserAddress)
	enc.AddString("api_wallet_address", r.APIWalletAddress)
	enc.AddBool("authorized", r.Authorized)
	enc.AddTime("created_at", r.CreatedAt)
	if r.AuthorizedAt != nil {
		enc.AddTime("authorized_at", *r.AuthorizedAt)
	}
	return nil
}

var _ zapcore.ObjectMarshaler = (*Record)(nil)
