package trading

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/hlrelay/pkg/action"
	"github.com/uhyunpark/hlrelay/pkg/crypto"
	"github.com/uhyunpark/hlrelay/pkg/errs"
	"github.com/uhyunpark/hlrelay/pkg/exchange"
	"github.com/uhyunpark/hlrelay/pkg/registry"
	"github.com/uhyunpark/hlrelay/pkg/signing"
)

type WalletStatus struct {
	Exists           bool
	APIWalletAddress string
	Authorized       bool
}

func (s *Service) CheckWallet(owner string) (*WalletStatus, error) {
	rec, err := s.registry.Get(owner)
	if errors.Is(err, errs.ErrNotFound) {
		return &WalletStatus{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &WalletStatus{Exists: true, APIWalletAddress: rec.APIWalletAddress, Authorized: rec.Authorized}, nil
}

// CreateResult is returned by CreateWallet. AuthMessage and TypedData are set
// while the delegate still needs the owner's approval.
type CreateResult struct {
	Created          bool
	APIWalletAddress string
	Authorized       bool
	AuthMessage      *action.ApproveAgentAction
	TypedData        *apitypes.TypedData
}

func (r *CreateResult) NeedsAuthorization() bool { return !r.Authorized }

// CreateWallet returns the owner's delegate wallet, generating it on first
// use, along with the approval the owner has to sign for it.
func (s *Service) CreateWallet(ctx context.Context, owner string) (*CreateResult, error) {
	rec, created, err := s.registry.CreateIfAbsent(owner)
	if err != nil {
		return nil, err
	}

	res := &CreateResult{
		Created:          created,
		APIWalletAddress: rec.APIWalletAddress,
		Authorized:       rec.Authorized,
	}
	if rec.Authorized {
		return res, nil
	}

	msg, err := action.NewApproveAgent(s.cfg.Network, s.cfg.SignatureChainID,
		common.HexToAddress(rec.APIWalletAddress), "", s.nonce(0))
	if err != nil {
		return nil, err
	}
	td, err := action.ApproveAgentTypedData(msg)
	if err != nil {
		return nil, err
	}
	res.AuthMessage, res.TypedData = msg, td

	if created {
		s.publish(EventWalletCreated, rec.UserAddress, map[string]any{"apiWalletAddress": rec.APIWalletAddress})
	}
	return res, nil
}

// AuthorizeRequest carries the owner-signed agent approval.
type AuthorizeRequest struct {
	UserAddress      string
	APIWalletAddress string
	Action           *action.ApproveAgentAction
	Nonce            uint64
	Signature        crypto.WireSignature
}

type AuthorizeResult struct {
	Response          *exchange.Response
	Record            *registry.Record
	AlreadyAuthorized bool
	Verification      *signing.Report
}

// AuthorizeWallet forwards the owner's approval of its delegate and marks
// the delegate authorized once the exchange has accepted it. Nothing is
// recorded when the exchange refuses.
func (s *Service) AuthorizeWallet(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	const op = "trading.authorize_wallet"

	if req.Action == nil {
		return nil, errs.Validation(op, "signedAction.action is required")
	}
	rec, err := s.registry.Get(req.UserAddress)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(req.APIWalletAddress, rec.APIWalletAddress) {
		return nil, errs.Validation(op, "apiWalletAddress %s is not the api wallet of %s", req.APIWalletAddress, rec.UserAddress)
	}
	if !strings.EqualFold(req.Action.AgentAddress, rec.APIWalletAddress) {
		return nil, errs.Validation(op, "approval names agent %s, expected %s", req.Action.AgentAddress, rec.APIWalletAddress)
	}
	if rec.Authorized {
		return &AuthorizeResult{Record: rec, AlreadyAuthorized: true}, nil
	}

	if req.Action.Type == "" {
		req.Action.Type = action.KindApproveAgent
	}
	if err := req.Action.Validate(); err != nil {
		return nil, err
	}
	if !strings.EqualFold(req.Action.HyperliquidChain, string(s.cfg.Network)) {
		return nil, errs.Validation(op, "approval is for %s, relay is on %s", req.Action.HyperliquidChain, s.cfg.Network)
	}
	nonce := req.Nonce
	if nonce == 0 {
		nonce = req.Action.Nonce
	}
	if nonce != req.Action.Nonce {
		return nil, errs.Validation(op, "nonce %d does not match action nonce %d", nonce, req.Action.Nonce)
	}

	sig, err := crypto.ParseWire(req.Signature)
	if err != nil {
		return nil, errs.Validation(op, "signature: %v", err)
	}
	td, err := action.ApproveAgentTypedData(req.Action)
	if err != nil {
		return nil, err
	}
	report, err := s.signer.Verifier().Check(td, sig, common.HexToAddress(rec.UserAddress))
	if err != nil {
		return nil, err
	}

	env := &exchange.SignedEnvelope{
		Action:    req.Action,
		Nonce:     nonce,
		Signature: sig.Wire(s.cfg.AgentStyle),
	}
	resp, err := s.gateway.Submit(ctx, env)
	if err != nil {
		s.log.Warnw("agent_approval_rejected", "owner", rec.UserAddress, "agent", rec.APIWalletAddress, "error", err)
		return nil, err
	}

	authorized, err := s.registry.MarkAuthorized(rec.UserAddress)
	if err != nil {
		return nil, err
	}
	s.publish(EventWalletAuthorized, rec.UserAddress, map[string]any{"apiWalletAddress": rec.APIWalletAddress})

	return &AuthorizeResult{Response: resp, Record: authorized, Verification: &report}, nil
}
