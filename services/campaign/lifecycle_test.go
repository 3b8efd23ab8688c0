package campaign

import (
	"testing"

	"clientops-controlplane/pkg/lifecycle"
	"clientops-controlplane/pkg/payout"

	"github.com/stretchr/testify/require"
)

func TestEnrollmentTransitionTable(t *testing.T) {
	statuses := []EnrollmentStatus{
		EnrollmentActive, EnrollmentCriteriaMet, EnrollmentPayoutPending, EnrollmentRefundIssued,
		EnrollmentCreditIssued, EnrollmentRolloverApplied, EnrollmentExpired, EnrollmentWithdrawn,
	}
	events := []EnrollmentEvent{
		EventCriteriaMet, EventChoosePayout, EventPayoutRefund, EventPayoutCredit,
		EventPayoutRollover, EventExpire, EventWithdraw,
	}
	payouts := map[EnrollmentEvent]EnrollmentStatus{
		EventPayoutRefund:   EnrollmentRefundIssued,
		EventPayoutCredit:   EnrollmentCreditIssued,
		EventPayoutRollover: EnrollmentRolloverApplied,
		EventExpire:         EnrollmentExpired,
		EventWithdraw:       EnrollmentWithdrawn,
	}
	legal := map[EnrollmentStatus]map[EnrollmentEvent]EnrollmentStatus{
		EnrollmentActive: {
			EventCriteriaMet: EnrollmentCriteriaMet,
			EventExpire:      EnrollmentExpired,
			EventWithdraw:    EnrollmentWithdrawn,
		},
		EnrollmentCriteriaMet:   {EventChoosePayout: EnrollmentPayoutPending},
		EnrollmentPayoutPending: {},
	}
	for ev, to := range payouts {
		legal[EnrollmentCriteriaMet][ev] = to
		legal[EnrollmentPayoutPending][ev] = to
	}

	for _, from := range statuses {
		for _, ev := range events {
			to, err := TransitionEnrollment(from, ev)
			want, ok := legal[from][ev]
			if !ok {
				var te *lifecycle.TransitionError
				require.ErrorAs(t, err, &te, "%s --%s--> should be rejected", from, ev)
				require.Equal(t, "enrollment", te.Entity)
				require.Equal(t, string(from), te.From)
				continue
			}
			require.NoError(t, err)
			require.Equal(t, want, to)
		}
	}
}

func TestEnrollmentTerminal(t *testing.T) {
	require.False(t, EnrollmentActive.Terminal())
	require.False(t, EnrollmentCriteriaMet.Terminal())
	require.False(t, EnrollmentPayoutPending.Terminal())
	require.True(t, EnrollmentRefundIssued.Terminal())
	require.True(t, EnrollmentRolloverApplied.Terminal())
	require.True(t, EnrollmentWithdrawn.Terminal())
}

func TestChoosePayoutMessage(t *testing.T) {
	_, err := TransitionEnrollment(EnrollmentActive, EventChoosePayout)
	require.EqualError(t, err, "Cannot choose payout for enrollment with status: active")
}

func TestPayoutEvent(t *testing.T) {
	require.Equal(t, EventPayoutRefund, payoutEvent(payout.Refund))
	require.Equal(t, EventPayoutCredit, payoutEvent(payout.Credit))
	require.Equal(t, EventPayoutRollover, payoutEvent(payout.RolloverUpsell))
	require.Equal(t, EventPayoutRollover, payoutEvent(payout.RolloverContinuity))
}

func TestCampaignTransitions(t *testing.T) {
	allowed := [][2]CampaignStatus{
		{CampaignDraft, CampaignActive},
		{CampaignActive, CampaignPaused},
		{CampaignActive, CampaignCompleted},
		{CampaignActive, CampaignArchived},
		{CampaignPaused, CampaignActive},
		{CampaignPaused, CampaignArchived},
		{CampaignCompleted, CampaignArchived},
		{CampaignArchived, CampaignDraft},
	}
	for _, p := range allowed {
		require.NoError(t, TransitionCampaign(p[0], p[1]), "%s -> %s", p[0], p[1])
	}

	require.Error(t, TransitionCampaign(CampaignDraft, CampaignPaused))
	require.Error(t, TransitionCampaign(CampaignCompleted, CampaignActive))
	require.Error(t, TransitionCampaign(CampaignArchived, CampaignActive))
	require.Error(t, TransitionCampaign(CampaignActive, CampaignActive))
}
