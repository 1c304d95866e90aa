package action

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/hlrelay/pkg/crypto"
	"github.com/uhyunpark/hlrelay/pkg/errs"
)

const (
	// DefaultSignatureChainID is Arbitrum One, what browser wallets are
	// normally connected to when approving agents.
	DefaultSignatureChainID = "0xa4b1"

	l1ChainID            = 1337
	approveAgentType     = "HyperliquidTransaction:ApproveAgent"
	defaultAgentPrefix   = "Bot"
	agentNameNonceDigits = 6
)

var (
	l1Domain = crypto.Domain{
		Name:    "Exchange",
		Version: "1",
		ChainID: big.NewInt(l1ChainID),
	}

	agentFields = []apitypes.Type{
		{Name: "source", Type: "string"},
		{Name: "connectionId", Type: "bytes32"},
	}

	approveAgentFields = []apitypes.Type{
		{Name: "hyperliquidChain", Type: "string"},
		{Name: "agentAddress", Type: "address"},
		{Name: "agentName", Type: "string"},
		{Name: "nonce", Type: "uint64"},
	}
)

// OrderTypedData wraps the action hash in the phantom agent struct that is
// actually signed for order actions.
func OrderTypedData(a *OrderAction, nonce uint64, vault string, expiresAfter *uint64, network Network) (*apitypes.TypedData, error) {
	hash, err := Hash(a, nonce, vault, expiresAfter)
	if err != nil {
		return nil, err
	}
	return crypto.NewTypedData(l1Domain, "Agent", agentFields, apitypes.TypedDataMessage{
		"source":       network.Source(),
		"connectionId": "0x" + hex.EncodeToString(hash),
	}), nil
}

// ApproveAgentTypedData builds the user-signed payload for an agent approval.
func ApproveAgentTypedData(a *ApproveAgentAction) (*apitypes.TypedData, error) {
	chainID, ok := math.ParseBig256(a.SignatureChainID)
	if !ok || a.SignatureChainID == "" {
		return nil, errs.Validation("action.approve_agent", "invalid signatureChainId %q", a.SignatureChainID)
	}
	domain := crypto.Domain{
		Name:    "HyperliquidSignTransaction",
		Version: "1",
		ChainID: chainID,
	}
	return crypto.NewTypedData(domain, approveAgentType, approveAgentFields, apitypes.TypedDataMessage{
		"hyperliquidChain": a.HyperliquidChain,
		"agentAddress":     strings.ToLower(a.AgentAddress),
		"agentName":        a.AgentName,
		"nonce":            strconv.FormatUint(a.Nonce, 10),
	}), nil
}

// TypedDataFor returns the one signing payload that is valid for the action's kind.
func TypedDataFor(a Action, nonce uint64, vault string, expiresAfter *uint64, network Network) (*apitypes.TypedData, error) {
	switch act := a.(type) {
	case *OrderAction:
		return OrderTypedData(act, nonce, vault, expiresAfter, network)
	case *ApproveAgentAction:
		if act.Nonce != nonce {
			return nil, errs.Validation("action.approve_agent", "action nonce %d does not match envelope nonce %d", act.Nonce, nonce)
		}
		return ApproveAgentTypedData(act)
	default:
		return nil, fmt.Errorf("no signing scheme for %T", a)
	}
}

// NewApproveAgent builds the approval an owner signs to register agent as
// its delegate. An empty name defaults to "Bot" plus the nonce's last digits.
func NewApproveAgent(network Network, signatureChainID string, agent common.Address, name string, nonce uint64) (*ApproveAgentAction, error) {
	if signatureChainID == "" {
		signatureChainID = DefaultSignatureChainID
	}
	if name == "" {
		name = DefaultAgentName(nonce)
	}
	a := &ApproveAgentAction{
		Type:             KindApproveAgent,
		HyperliquidChain: string(network),
		SignatureChainID: signatureChainID,
		AgentAddress:     strings.ToLower(agent.Hex()),
		AgentName:        name,
		Nonce:            nonce,
	}
	return a, a.Validate()
}

func DefaultAgentName(nonce uint64) string {
	digits := strconv.FormatUint(nonce, 10)
	if len(digits) > agentNameNonceDigits {
		digits = digits[len(digits)-agentNameNonceDigits:]
	}
	return defaultAgentPrefix + digits
}
