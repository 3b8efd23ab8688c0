package campaign

import (
	"clientops-controlplane/pkg/lifecycle"
	"clientops-controlplane/pkg/payout"
)

type EnrollmentStatus string

const (
	EnrollmentActive          EnrollmentStatus = "active"
	EnrollmentCriteriaMet     EnrollmentStatus = "criteria_met"
	EnrollmentPayoutPending   EnrollmentStatus = "payout_pending"
	EnrollmentRefundIssued    EnrollmentStatus = "refund_issued"
	EnrollmentCreditIssued    EnrollmentStatus = "credit_issued"
	EnrollmentRolloverApplied EnrollmentStatus = "rollover_applied"
	EnrollmentExpired         EnrollmentStatus = "expired"
	EnrollmentWithdrawn       EnrollmentStatus = "withdrawn"
)

// openStatuses block a second enrollment of the same client in a campaign.
var openStatuses = []EnrollmentStatus{EnrollmentActive, EnrollmentCriteriaMet, EnrollmentPayoutPending}

func (s EnrollmentStatus) Terminal() bool {
	_, open := enrollmentTransitions[s]
	return !open
}

type EnrollmentEvent string

const (
	EventCriteriaMet    EnrollmentEvent = "criteria_met"
	EventChoosePayout   EnrollmentEvent = "choose_payout"
	EventPayoutRefund   EnrollmentEvent = "payout_refund"
	EventPayoutCredit   EnrollmentEvent = "payout_credit"
	EventPayoutRollover EnrollmentEvent = "payout_rollover"
	EventExpire         EnrollmentEvent = "expire"
	EventWithdraw       EnrollmentEvent = "withdraw"
)

var enrollmentTransitions = lifecycle.Table[EnrollmentStatus, EnrollmentEvent]{
	EnrollmentActive: {
		EventCriteriaMet: EnrollmentCriteriaMet,
		EventExpire:      EnrollmentExpired,
		EventWithdraw:    EnrollmentWithdrawn,
	},
	EnrollmentCriteriaMet: {
		EventChoosePayout:   EnrollmentPayoutPending,
		EventPayoutRefund:   EnrollmentRefundIssued,
		EventPayoutCredit:   EnrollmentCreditIssued,
		EventPayoutRollover: EnrollmentRolloverApplied,
		EventExpire:         EnrollmentExpired,
		EventWithdraw:       EnrollmentWithdrawn,
	},
	EnrollmentPayoutPending: {
		EventPayoutRefund:   EnrollmentRefundIssued,
		EventPayoutCredit:   EnrollmentCreditIssued,
		EventPayoutRollover: EnrollmentRolloverApplied,
		EventExpire:         EnrollmentExpired,
		EventWithdraw:       EnrollmentWithdrawn,
	},
}

var enrollmentVerbs = map[EnrollmentEvent]string{
	EventCriteriaMet:    "advance",
	EventChoosePayout:   "choose payout for",
	EventPayoutRefund:   "resolve",
	EventPayoutCredit:   "resolve",
	EventPayoutRollover: "resolve",
	EventExpire:         "close",
	EventWithdraw:       "close",
}

func TransitionEnrollment(from EnrollmentStatus, ev EnrollmentEvent) (EnrollmentStatus, error) {
	if to, ok := enrollmentTransitions.Next(from, ev); ok {
		return to, nil
	}
	return "", &lifecycle.TransitionError{Entity: "enrollment", Verb: enrollmentVerbs[ev], From: string(from)}
}

func payoutEvent(t payout.Type) EnrollmentEvent {
	switch t {
	case payout.Refund:
		return EventPayoutRefund
	case payout.Credit:
		return EventPayoutCredit
	default:
		return EventPayoutRollover
	}
}

// Closure is the manual terminal outcome an admin may record on an enrollment.
type Closure string

const (
	ClosureExpired   Closure = "expired"
	ClosureWithdrawn Closure = "withdrawn"
)

func (c Closure) event() EnrollmentEvent {
	if c == ClosureExpired {
		return EventExpire
	}
	return EventWithdraw
}

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignArchived  CampaignStatus = "archived"
)

// campaignTransitions is keyed by the target status; the event is the status
// the admin asks for.
var campaignTransitions = lifecycle.Table[CampaignStatus, CampaignStatus]{
	CampaignDraft:     {CampaignActive: CampaignActive},
	CampaignActive:    {CampaignPaused: CampaignPaused, CampaignCompleted: CampaignCompleted, CampaignArchived: CampaignArchived},
	CampaignPaused:    {CampaignActive: CampaignActive, CampaignArchived: CampaignArchived},
	CampaignCompleted: {CampaignArchived: CampaignArchived},
	CampaignArchived:  {CampaignDraft: CampaignDraft},
}

func TransitionCampaign(from, to CampaignStatus) error {
	if campaignTransitions.Allows(from, to) {
		return nil
	}
	return &lifecycle.TransitionError{Entity: "campaign", Verb: "move to " + string(to) + " a", From: string(from)}
}
