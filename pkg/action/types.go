// Package action builds the exchange's action payloads and the exact bytes
// and typed data that get signed for them.
package action

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/uhyunpark/hlrelay/pkg/errs"
)

// Kind is the value of an action's "type" field.
type Kind string

const (
	KindOrder        Kind = "order"
	KindApproveAgent Kind = "approveAgent"
)

// Action is any payload that can be placed in a signed envelope.
type Action interface {
	Kind() Kind
	Validate() error
}

type Tif string

const (
	TifGtc Tif = "Gtc"
	TifIoc Tif = "Ioc"
	TifAlo Tif = "Alo"
)

// ParseTif accepts the exchange spelling and the upper-case form used by UIs.
func ParseTif(s string) (Tif, error) {
	switch strings.ToLower(s) {
	case "gtc", "":
		return TifGtc, nil
	case "ioc":
		return TifIoc, nil
	case "alo":
		return TifAlo, nil
	}
	return "", fmt.Errorf("unknown time in force %q", s)
}

type Tpsl string

const (
	TpslTakeProfit Tpsl = "tp"
	TpslStopLoss   Tpsl = "sl"
)

type Grouping string

const (
	GroupingNA           Grouping = "na"
	GroupingNormalTpsl   Grouping = "normalTpsl"
	GroupingPositionTpsl Grouping = "positionTpsl"
)

// Field order in the wire structs below is the msgpack map order and must
// not be rearranged.

type LimitWire struct {
	Tif Tif `json:"tif" msgpack:"tif"`
}

type TriggerWire struct {
	IsMarket  bool   `json:"isMarket" msgpack:"isMarket"`
	TriggerPx string `json:"triggerPx" msgpack:"triggerPx"`
	Tpsl      Tpsl   `json:"tpsl" msgpack:"tpsl"`
}

type OrderTypeWire struct {
	Limit   *LimitWire   `json:"limit,omitempty" msgpack:"limit,omitempty"`
	Trigger *TriggerWire `json:"trigger,omitempty" msgpack:"trigger,omitempty"`
}

type OrderWire struct {
	Asset      int           `json:"a" msgpack:"a"`
	IsBuy      bool          `json:"b" msgpack:"b"`
	LimitPx    string        `json:"p" msgpack:"p"`
	Size       string        `json:"s" msgpack:"s"`
	ReduceOnly bool          `json:"r" msgpack:"r"`
	OrderType  OrderTypeWire `json:"t" msgpack:"t"`
	Cloid      *string       `json:"c,omitempty" msgpack:"c,omitempty"`
}

type BuilderInfo struct {
	Builder string `json:"b" msgpack:"b"`
	Fee     int    `json:"f" msgpack:"f"`
}

type OrderAction struct {
	Type     Kind         `json:"type" msgpack:"type"`
	Orders   []OrderWire  `json:"orders" msgpack:"orders"`
	Grouping Grouping     `json:"grouping" msgpack:"grouping"`
	Builder  *BuilderInfo `json:"builder,omitempty" msgpack:"builder,omitempty"`
}

func (a *OrderAction) Kind() Kind { return KindOrder }

// ApproveAgentAction registers a delegate signer for the owner that signs it.
// Only hyperliquidChain, agentAddress, agentName and nonce are covered by the
// signature.
type ApproveAgentAction struct {
	Type             Kind   `json:"type"`
	HyperliquidChain string `json:"hyperliquidChain"`
	SignatureChainID string `json:"signatureChainId"`
	AgentAddress     string `json:"agentAddress"`
	AgentName        string `json:"agentName"`
	Nonce            uint64 `json:"nonce"`
}

func (a *ApproveAgentAction) Kind() Kind { return KindApproveAgent }

// OrderIntent is a single order as a caller describes it, before it is
// rendered in wire form.
type OrderIntent struct {
	Asset      int
	IsBuy      bool
	Size       string
	Price      string
	ReduceOnly bool
	Tif        Tif
	Cloid      string
}

// Wire renders the intent as a limit order with canonical decimal strings.
func (o OrderIntent) Wire() (OrderWire, error) {
	const op = "action.intent"
	if o.Asset < 0 {
		return OrderWire{}, errs.Validation(op, "asset index must be >= 0, got %d", o.Asset)
	}
	px, err := NormalizeDecimal(o.Price)
	if err != nil {
		return OrderWire{}, errs.Validation(op, "price: %v", err)
	}
	sz, err := NormalizeDecimal(o.Size)
	if err != nil {
		return OrderWire{}, errs.Validation(op, "size: %v", err)
	}
	tif := o.Tif
	if tif == "" {
		tif = TifGtc
	}
	w := OrderWire{
		Asset:      o.Asset,
		IsBuy:      o.IsBuy,
		LimitPx:    px,
		Size:       sz,
		ReduceOnly: o.ReduceOnly,
		OrderType:  OrderTypeWire{Limit: &LimitWire{Tif: tif}},
	}
	if o.Cloid != "" {
		cloid := o.Cloid
		w.Cloid = &cloid
	}
	return w, w.validate(0)
}

// NewOrderAction wraps intents in an ungrouped order action.
func NewOrderAction(intents ...OrderIntent) (*OrderAction, error) {
	a := &OrderAction{Type: KindOrder, Grouping: GroupingNA}
	for _, in := range intents {
		w, err := in.Wire()
		if err != nil {
			return nil, err
		}
		a.Orders = append(a.Orders, w)
	}
	return a, a.Validate()
}

// Decode parses a JSON action, dispatching on its "type" field.
func Decode(raw []byte) (Action, error) {
	const op = "action.decode"
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, errs.Validation(op, "malformed action: %v", err)
	}

	var a Action
	switch head.Type {
	case KindOrder:
		a = &OrderAction{}
	case KindApproveAgent:
		a = &ApproveAgentAction{}
	case "":
		return nil, errs.Validation(op, "action type is required")
	default:
		return nil, errs.Validation(op, "unsupported action type %q", head.Type)
	}
	if err := json.Unmarshal(raw, a); err != nil {
		return nil, errs.Validation(op, "malformed %s action: %v", head.Type, err)
	}
	return a, nil
}
