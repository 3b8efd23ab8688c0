package guarantee

import (
	"clientops-controlplane/pkg/lifecycle"
	"clientops-controlplane/pkg/payout"
)

type Status string

const (
	StatusActive                    Status = "active"
	StatusConditionsMet             Status = "conditions_met"
	StatusRefundIssued              Status = "refund_issued"
	StatusCreditIssued              Status = "credit_issued"
	StatusRolloverUpsellApplied     Status = "rollover_upsell_applied"
	StatusRolloverContinuityApplied Status = "rollover_continuity_applied"
	StatusExpired                   Status = "expired"
	StatusVoided                    Status = "voided"
)

// Terminal states accept no further events.
func (s Status) Terminal() bool {
	_, open := transitions[s]
	return !open
}

type Event string

const (
	EventConditionsMet            Event = "conditions_met"
	EventVoid                     Event = "void"
	EventExpire                   Event = "expire"
	EventPayoutRefund             Event = "payout_refund"
	EventPayoutCredit             Event = "payout_credit"
	EventPayoutRolloverUpsell     Event = "payout_rollover_upsell"
	EventPayoutRolloverContinuity Event = "payout_rollover_continuity"
)

var transitions = lifecycle.Table[Status, Event]{
	StatusActive: {
		EventConditionsMet: StatusConditionsMet,
		EventVoid:          StatusVoided,
		EventExpire:        StatusExpired,
	},
	StatusConditionsMet: {
		EventVoid:                     StatusVoided,
		EventExpire:                   StatusExpired,
		EventPayoutRefund:             StatusRefundIssued,
		EventPayoutCredit:             StatusCreditIssued,
		EventPayoutRolloverUpsell:     StatusRolloverUpsellApplied,
		EventPayoutRolloverContinuity: StatusRolloverContinuityApplied,
	},
}

// unconditionalPayouts lets an unconditional guarantee pay out while still
// active; it has nothing to verify first.
var unconditionalPayouts = lifecycle.Table[Status, Event]{
	StatusActive: {
		EventPayoutRefund:             StatusRefundIssued,
		EventPayoutCredit:             StatusCreditIssued,
		EventPayoutRolloverUpsell:     StatusRolloverUpsellApplied,
		EventPayoutRolloverContinuity: StatusRolloverContinuityApplied,
	},
}

var verbs = map[Event]string{
	EventConditionsMet:            "advance",
	EventVoid:                     "resolve",
	EventExpire:                   "resolve",
	EventPayoutRefund:             "pay out",
	EventPayoutCredit:             "pay out",
	EventPayoutRolloverUpsell:     "pay out",
	EventPayoutRolloverContinuity: "pay out",
}

// Transition applies ev to from using the guarantee table.
func Transition(from Status, ev Event, typ GuaranteeType) (Status, error) {
	if to, ok := transitions.Next(from, ev); ok {
		return to, nil
	}
	if typ == Unconditional {
		if to, ok := unconditionalPayouts.Next(from, ev); ok {
			return to, nil
		}
	}
	return "", &lifecycle.TransitionError{Entity: "guarantee", Verb: verbs[ev], From: string(from)}
}

// SourcesOf lists the states from which ev is legal, used for guarded writes.
func SourcesOf(ev Event, typ GuaranteeType) []Status {
	out := transitions.Sources(ev)
	if typ == Unconditional {
		out = append(out, unconditionalPayouts.Sources(ev)...)
	}
	return out
}

func payoutEvent(t payout.Type) Event {
	switch t {
	case payout.Refund:
		return EventPayoutRefund
	case payout.Credit:
		return EventPayoutCredit
	case payout.RolloverUpsell:
		return EventPayoutRolloverUpsell
	default:
		return EventPayoutRolloverContinuity
	}
}

// Resolution is the manual terminal outcome an admin may record.
type Resolution string

const (
	ResolutionVoided  Resolution = "voided"
	ResolutionExpired Resolution = "expired"
)

func (r Resolution) event() Event {
	if r == ResolutionExpired {
		return EventExpire
	}
	return EventVoid
}
