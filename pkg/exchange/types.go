package exchange

import (
	"encoding/json"
	"fmt"

	"github.com/uhyunpark/hlrelay/pkg/action"
	"github.com/uhyunpark/hlrelay/pkg/crypto"
	"github.com/uhyunpark/hlrelay/pkg/errs"
)

// SignedEnvelope is the body POSTed to /exchange.
type SignedEnvelope struct {
	Action       action.Action        `json:"action"`
	Nonce        uint64               `json:"nonce"`
	Signature    crypto.WireSignature `json:"signature"`
	VaultAddress *string              `json:"vaultAddress"`
	ExpiresAfter *uint64              `json:"expiresAfter,omitempty"`
}

func (e *SignedEnvelope) UnmarshalJSON(b []byte) error {
	var raw struct {
		Action       json.RawMessage      `json:"action"`
		Nonce        uint64               `json:"nonce"`
		Signature    crypto.WireSignature `json:"signature"`
		VaultAddress *string              `json:"vaultAddress"`
		ExpiresAfter *uint64              `json:"expiresAfter"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	a, err := action.Decode(raw.Action)
	if err != nil {
		return err
	}
	*e = SignedEnvelope{
		Action:       a,
		Nonce:        raw.Nonce,
		Signature:    raw.Signature,
		VaultAddress: raw.VaultAddress,
		ExpiresAfter: raw.ExpiresAfter,
	}
	return nil
}

// Vault returns the vault address or "" when trading for the signer itself.
func (e *SignedEnvelope) Vault() string {
	if e.VaultAddress == nil {
		return ""
	}
	return *e.VaultAddress
}

const (
	StatusOK  = "ok"
	StatusErr = "err"
)

// Response is the exchange's discriminated reply: Payload is the success
// body when Status is "ok" and a reason string otherwise.
type Response struct {
	Status  string          `json:"status"`
	Payload json.RawMessage `json:"response,omitempty"`
}

func (r *Response) OK() bool { return r.Status == StatusOK }

// Reason extracts the failure text of an "err" response.
func (r *Response) Reason() string {
	var s string
	if err := json.Unmarshal(r.Payload, &s); err == nil {
		return s
	}
	return string(r.Payload)
}

// OrderStatus is one entry of an order response's statuses list.
type OrderStatus struct {
	Resting *struct {
		Oid   int64   `json:"oid"`
		Cloid *string `json:"cloid,omitempty"`
	} `json:"resting,omitempty"`
	Filled *struct {
		TotalSz string `json:"totalSz"`
		AvgPx   string `json:"avgPx"`
		Oid     int64  `json:"oid"`
	} `json:"filled,omitempty"`
	Error string `json:"error,omitempty"`
}

// OrderStatuses decodes {"type":"order","data":{"statuses":[...]}}. Other
// payload shapes yield no statuses.
func (r *Response) OrderStatuses() ([]OrderStatus, error) {
	if !r.OK() || len(r.Payload) == 0 {
		return nil, nil
	}
	var body struct {
		Type string `json:"type"`
		Data struct {
			Statuses []json.RawMessage `json:"statuses"`
		} `json:"data"`
	}
	if err := json.Unmarshal(r.Payload, &body); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	if body.Type != "order" {
		return nil, nil
	}
	out := make([]OrderStatus, 0, len(body.Data.Statuses))
	for _, raw := range body.Data.Statuses {
		var st OrderStatus
		// plain string statuses such as "waitingForFill" carry no detail
		if err := json.Unmarshal(raw, &st); err != nil {
			var s string
			if json.Unmarshal(raw, &s) != nil {
				return nil, fmt.Errorf("decode order status: %w", err)
			}
		}
		out = append(out, st)
	}
	return out, nil
}

// FirstOrderError returns the first per-order rejection inside an ok response.
func (r *Response) FirstOrderError() (string, bool) {
	statuses, err := r.OrderStatuses()
	if err != nil {
		return "", false
	}
	for _, st := range statuses {
		if st.Error != "" {
			return st.Error, true
		}
	}
	return "", false
}

// RejectedError is an exchange-side refusal. Its message is the exchange's
// reason text, unmodified.
type RejectedError struct {
	Reason     string
	HTTPStatus int
}

func (e *RejectedError) Error() string { return e.Reason }

func (e *RejectedError) ErrKind() errs.Kind { return errs.KindExchangeRejected }

func (e *RejectedError) Is(target error) bool {
	return target == errs.ErrExchangeRejected
}
