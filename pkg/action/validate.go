package action

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hlrelay/pkg/errs"
)

const (
	MaxAgentNameLen    = 16
	maxOrdersPerAction = 100
)

func (a *OrderAction) Validate() error {
	const op = "action.order"
	if a.Type != KindOrder {
		return errs.Validation(op, "type must be %q, got %q", KindOrder, a.Type)
	}
	if len(a.Orders) == 0 {
		return errs.Validation(op, "at least one order is required")
	}
	if len(a.Orders) > maxOrdersPerAction {
		return errs.Validation(op, "too many orders: %d", len(a.Orders))
	}
	switch a.Grouping {
	case GroupingNA, GroupingNormalTpsl, GroupingPositionTpsl:
	default:
		return errs.Validation(op, "unknown grouping %q", a.Grouping)
	}
	if a.Builder != nil && !common.IsHexAddress(a.Builder.Builder) {
		return errs.Validation(op, "invalid builder address %q", a.Builder.Builder)
	}
	for i := range a.Orders {
		if err := a.Orders[i].validate(i); err != nil {
			return err
		}
	}
	return nil
}

func (w *OrderWire) validate(i int) error {
	const op = "action.order"
	if w.Asset < 0 {
		return errs.Validation(op, "orders[%d]: asset index must be >= 0", i)
	}
	if err := positiveDecimal(w.LimitPx); err != nil {
		return errs.Validation(op, "orders[%d].p: %v", i, err)
	}
	if err := positiveDecimal(w.Size); err != nil {
		return errs.Validation(op, "orders[%d].s: %v", i, err)
	}
	t := w.OrderType
	switch {
	case t.Limit != nil && t.Trigger != nil:
		return errs.Validation(op, "orders[%d].t: limit and trigger are exclusive", i)
	case t.Limit != nil:
		switch t.Limit.Tif {
		case TifGtc, TifIoc, TifAlo:
		default:
			return errs.Validation(op, "orders[%d].t: unknown tif %q", i, t.Limit.Tif)
		}
	case t.Trigger != nil:
		if err := positiveDecimal(t.Trigger.TriggerPx); err != nil {
			return errs.Validation(op, "orders[%d].t.triggerPx: %v", i, err)
		}
		if t.Trigger.Tpsl != TpslTakeProfit && t.Trigger.Tpsl != TpslStopLoss {
			return errs.Validation(op, "orders[%d].t: unknown tpsl %q", i, t.Trigger.Tpsl)
		}
	default:
		return errs.Validation(op, "orders[%d].t: order type is required", i)
	}
	return nil
}

func positiveDecimal(s string) error {
	if s == "" {
		return errs.E(errs.KindValidation, "", "value is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return errs.E(errs.KindValidation, "", "not a decimal string")
	}
	if !d.IsPositive() {
		return errs.E(errs.KindValidation, "", "must be positive")
	}
	return nil
}

func (a *ApproveAgentAction) Validate() error {
	const op = "action.approve_agent"
	if a.Type != KindApproveAgent {
		return errs.Validation(op, "type must be %q, got %q", KindApproveAgent, a.Type)
	}
	if _, err := ParseNetwork(a.HyperliquidChain); err != nil {
		return errs.Validation(op, "%v", err)
	}
	if _, ok := math.ParseBig256(a.SignatureChainID); !ok || a.SignatureChainID == "" {
		return errs.Validation(op, "invalid signatureChainId %q", a.SignatureChainID)
	}
	if !common.IsHexAddress(a.AgentAddress) {
		return errs.Validation(op, "invalid agentAddress %q", a.AgentAddress)
	}
	if n := len(a.AgentName); n == 0 || n > MaxAgentNameLen {
		return errs.Validation(op, "agentName must be 1-%d characters, got %d", MaxAgentNameLen, n)
	}
	if a.Nonce == 0 {
		return errs.Validation(op, "nonce is required")
	}
	return nil
}
