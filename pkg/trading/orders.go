package trading

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hlrelay/pkg/action"
	"github.com/uhyunpark/hlrelay/pkg/crypto"
	"github.com/uhyunpark/hlrelay/pkg/errs"
	"github.com/uhyunpark/hlrelay/pkg/exchange"
	"github.com/uhyunpark/hlrelay/pkg/signing"
)

// OrderRequest is an order submission. With Signature set the action was
// signed by the caller's wallet and is forwarded unmodified; otherwise the
// relay signs with the owner's API wallet, or the server wallet when
// UserAddress is empty.
type OrderRequest struct {
	UserAddress  string
	Action       *action.OrderAction
	Nonce        uint64
	Signature    *crypto.WireSignature
	VaultAddress string
	ExpiresAfter *uint64
}

type OrderResult struct {
	Response     *exchange.Response
	Signer       string
	Nonce        uint64
	Verification *signing.Report
}

func (s *Service) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	const op = "trading.place_order"

	if req.Action == nil {
		return nil, errs.Validation(op, "action is required")
	}
	if err := req.Action.Validate(); err != nil {
		return nil, err
	}
	if req.UserAddress != "" {
		if _, err := crypto.NormalizeAddress(req.UserAddress); err != nil {
			return nil, errs.Validation(op, "userAddress: %v", err)
		}
	}

	var (
		env    *exchange.SignedEnvelope
		report signing.Report
		signer string
		err    error
	)
	if req.Signature != nil {
		env, report, err = s.forwardSigned(req)
		signer = req.UserAddress
	} else {
		env, report, signer, err = s.signOrder(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	resp, err := s.gateway.Submit(ctx, env)
	if err == nil {
		if reason, ok := resp.FirstOrderError(); ok {
			err = &exchange.RejectedError{Reason: reason}
		}
	}
	if err != nil {
		s.log.Warnw("order_rejected", "owner", req.UserAddress, "signer", signer, "nonce", env.Nonce, "error", err)
		s.publish(EventOrderRejected, req.UserAddress, orderEventData(env.Nonce, len(req.Action.Orders), errs.KindOf(err).String()))
		return nil, err
	}

	s.log.Infow("order_submitted", "owner", req.UserAddress, "signer", signer, "nonce", env.Nonce, "orders", len(req.Action.Orders))
	s.publish(EventOrderSubmitted, req.UserAddress, orderEventData(env.Nonce, len(req.Action.Orders), ""))

	return &OrderResult{Response: resp, Signer: signer, Nonce: env.Nonce, Verification: &report}, nil
}

// forwardSigned checks a wallet-produced signature for diagnostics and
// passes the action on exactly as signed. The signature is re-rendered in the
// order wire convention, since wallets differ on v and hex prefixes.
func (s *Service) forwardSigned(req OrderRequest) (*exchange.SignedEnvelope, signing.Report, error) {
	const op = "trading.forward_order"
	if req.Nonce == 0 {
		return nil, signing.Report{}, errs.Validation(op, "nonce is required for a signed order")
	}
	sig, err := crypto.ParseWire(*req.Signature)
	if err != nil {
		return nil, signing.Report{}, errs.Validation(op, "signature: %v", err)
	}

	var report signing.Report
	if req.UserAddress != "" {
		td, err := action.OrderTypedData(req.Action, req.Nonce, req.VaultAddress, req.ExpiresAfter, s.cfg.Network)
		if err != nil {
			return nil, report, errs.Validation(op, "%v", err)
		}
		expected, _ := crypto.NormalizeAddress(req.UserAddress)
		report, err = s.signer.Verifier().Check(td, sig, common.HexToAddress(expected))
		if err != nil {
			return nil, report, err
		}
	}

	return &exchange.SignedEnvelope{
		Action:       req.Action,
		Nonce:        req.Nonce,
		Signature:    sig.Wire(s.cfg.OrderStyle),
		VaultAddress: optional(req.VaultAddress),
		ExpiresAfter: req.ExpiresAfter,
	}, report, nil
}

func (s *Service) signOrder(ctx context.Context, req OrderRequest) (*exchange.SignedEnvelope, signing.Report, string, error) {
	const op = "trading.sign_order"

	id, vault, err := s.identityFor(req)
	if err != nil {
		return nil, signing.Report{}, "", err
	}

	normalized, err := s.Normalize(ctx, req.Action)
	if err != nil {
		return nil, signing.Report{}, "", err
	}

	nonce := s.nonce(req.Nonce)
	td, err := action.OrderTypedData(normalized, nonce, vault, req.ExpiresAfter, s.cfg.Network)
	if err != nil {
		return nil, signing.Report{}, "", errs.Wrap(errs.KindValidation, op, err)
	}
	sig, report, err := s.signer.Sign(ctx, td, id)
	if err != nil {
		return nil, report, "", err
	}

	return &exchange.SignedEnvelope{
		Action:       normalized,
		Nonce:        nonce,
		Signature:    sig.Wire(s.cfg.OrderStyle),
		VaultAddress: optional(vault),
		ExpiresAfter: req.ExpiresAfter,
	}, report, id.Address().Hex(), nil
}

func (s *Service) identityFor(req OrderRequest) (signing.Identity, string, error) {
	const op = "trading.identity"
	if req.UserAddress != "" {
		id, err := s.registry.Identity(req.UserAddress)
		if err != nil {
			return nil, "", err
		}
		return id, req.VaultAddress, nil
	}
	if s.serverID == nil {
		return nil, "", errs.E(errs.KindIdentityUnavailable, op, "no userAddress given and no server API wallet configured")
	}
	vault := req.VaultAddress
	if vault == "" {
		vault = s.cfg.VaultAddress
	}
	return s.serverID, vault, nil
}

// Normalize returns a copy of a with canonical decimals rounded to each
// asset's lot size and price tick.
func (s *Service) Normalize(ctx context.Context, a *action.OrderAction) (*action.OrderAction, error) {
	const op = "trading.normalize"

	out := *a
	out.Orders = make([]action.OrderWire, len(a.Orders))
	for i, o := range a.Orders {
		meta, err := s.assets.Lookup(ctx, o.Asset)
		if err != nil {
			return nil, err
		}

		sz := action.RoundSize(decimal.RequireFromString(o.Size), meta.SzDecimals)
		if !sz.IsPositive() {
			return nil, errs.Validation(op, "orders[%d]: size %s is below the %s lot size", i, o.Size, meta.Name)
		}
		o.Size = sz.String()
		o.LimitPx = action.RoundPrice(decimal.RequireFromString(o.LimitPx), meta.SzDecimals).String()

		if t := o.OrderType.Trigger; t != nil {
			trig := *t
			trig.TriggerPx = action.RoundPrice(decimal.RequireFromString(t.TriggerPx), meta.SzDecimals).String()
			o.OrderType = action.OrderTypeWire{Trigger: &trig}
		}
		if o.Cloid != nil {
			c := strings.ToLower(*o.Cloid)
			o.Cloid = &c
		}
		out.Orders[i] = o
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReportWalletError records a failure the caller's wallet reported before
// anything was signed and returns it classified.
func (s *Service) ReportWalletError(owner, during string, we *signing.WalletError) error {
	s.log.Infow("wallet_error", "owner", owner, "during", during, "code", we.Code, "kind", we.ErrKind().String())
	s.publish(EventWalletError, owner, map[string]any{"during": during, "code": we.Code, "message": we.UserMessage()})
	return we
}

// orderEventData is what account subscribers see of an order. Channels are
// unauthenticated, so exchange payloads and rejection reasons stay out.
func orderEventData(nonce uint64, orders int, kind string) map[string]any {
	data := map[string]any{"nonce": nonce, "orders": orders}
	if kind != "" {
		data["kind"] = kind
	}
	return data
}

// IsRejected reports whether err came from the exchange refusing an action.
func IsRejected(err error) bool {
	var r *exchange.RejectedError
	return errors.As(err, &r)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
