package api

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/hlrelay/pkg/action"
	"github.com/uhyunpark/hlrelay/pkg/crypto"
	"github.com/uhyunpark/hlrelay/pkg/signing"
)

// Request and response bodies for the REST endpoints and WebSocket messages.

// ==============================
// REST Request Types
// ==============================

// OrderRequest is the payload for POST /api/trading/order.
type OrderRequest struct {
	UserAddress  string                `json:"userAddress,omitempty"`
	Action       *action.OrderAction   `json:"action"`
	Nonce        uint64                `json:"nonce"`
	Signature    *crypto.WireSignature `json:"signature,omitempty"`    // set when the browser wallet signed
	VaultAddress string                `json:"vaultAddress,omitempty"` // subaccount or vault trading on behalf of
	ExpiresAfter *uint64               `json:"expiresAfter,omitempty"`
	WalletError  *signing.WalletError  `json:"walletError,omitempty"` // wallet refused before anything was signed
}

// CreateWalletRequest is the payload for POST /api/wallet/create.
type CreateWalletRequest struct {
	UserAddress string `json:"userAddress"`
}

// SignedApproval is the approveAgent action signed by the owner's wallet.
type SignedApproval struct {
	Action    *action.ApproveAgentAction `json:"action"`
	Nonce     uint64                     `json:"nonce"`
	Signature crypto.WireSignature       `json:"signature"`
}

// AuthorizeWalletRequest is the payload for POST /api/wallet/authorize.
type AuthorizeWalletRequest struct {
	UserAddress      string               `json:"userAddress"`
	APIWalletAddress string               `json:"apiWalletAddress"`
	SignedAction     *SignedApproval      `json:"signedAction"`
	WalletError      *signing.WalletError `json:"walletError,omitempty"`
}

// ==============================
// REST Response Types
// ==============================

// OrderResponse mirrors the exchange reply: status is "ok" or "err".
type OrderResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
	Error    string          `json:"error,omitempty"`
	Kind     string          `json:"kind,omitempty"`
}

type WalletCheckResponse struct {
	Exists           bool   `json:"exists"`
	APIWalletAddress string `json:"apiWalletAddress,omitempty"`
	Authorized       bool   `json:"authorized"`
}

type CreateWalletResponse struct {
	Success            bool                       `json:"success"`
	Exists             bool                       `json:"exists"`
	APIWalletAddress   string                     `json:"apiWalletAddress"`
	Authorized         bool                       `json:"authorized"`
	NeedsAuthorization bool                       `json:"needsAuthorization"`
	AuthMessage        *action.ApproveAgentAction `json:"authMessage,omitempty"`
	TypedData          *apitypes.TypedData        `json:"typedData,omitempty"` // ready for eth_signTypedData_v4
	Message            string                     `json:"message,omitempty"`
}

type AuthorizeWalletResponse struct {
	Success           bool            `json:"success"`
	Result            json.RawMessage `json:"result,omitempty"`
	AlreadyAuthorized bool            `json:"alreadyAuthorized,omitempty"`
	SignerVerified    *bool           `json:"signerVerified,omitempty"`
	Message           string          `json:"message,omitempty"`
}

type HealthResponse struct {
	Status           string    `json:"status"`
	Timestamp        time.Time `json:"timestamp"`
	Network          string    `json:"network"`
	SignerMismatches int64     `json:"signer_mismatches"`
	WSClients        int       `json:"ws_clients"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is pushed to every client subscribed to Channel.
type WSMessage struct {
	Channel string    `json:"channel"`
	Type    string    `json:"type"` // trading event name, e.g. "order_submitted"
	Time    time.Time `json:"time"`
	Data    any       `json:"data,omitempty"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["account:0xabc...", "account:server"]
}
