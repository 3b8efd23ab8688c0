package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"clientops-controlplane/pkg/db/pagination"
	"clientops-controlplane/pkg/errutil"
	"clientops-controlplane/pkg/lifecycle"
	"clientops-controlplane/pkg/payout"
	"clientops-controlplane/pkg/sequence"
	"clientops-controlplane/pkg/task/mock"
	"clientops-controlplane/services/continuity"
	"clientops-controlplane/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var baseTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeSequence struct {
	NextCampaignCodeFn func(ctx context.Context) (string, error)
	NextCreditCodeFn   func(ctx context.Context, prefix, ref string) (string, error)
}

func (f *fakeSequence) NextCampaignCode(ctx context.Context) (string, error) {
	return f.NextCampaignCodeFn(ctx)
}

func (f *fakeSequence) NextCreditCode(ctx context.Context, prefix, ref string) (string, error) {
	return f.NextCreditCodeFn(ctx, prefix, ref)
}

var _ sequence.Generator = (*fakeSequence)(nil)

type fakePlans struct {
	GetPlanFn func(ctx context.Context, id string) (*continuity.Plan, error)
}

func (f *fakePlans) GetPlan(ctx context.Context, id string) (*continuity.Plan, error) {
	return f.GetPlanFn(ctx, id)
}

type fixture struct {
	svc *Service
	enq *mock.MockEnqueuer
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, Models()...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	enq := mock.NewMockEnqueuer(gomock.NewController(t))
	f := &fixture{enq: enq, now: baseTime}

	f.svc = NewService(ServiceParams{
		DB:   db,
		Node: node,
		Seq: &fakeSequence{
			NextCampaignCodeFn: func(context.Context) (string, error) {
				return "CMP-TEST", nil
			},
			NextCreditCodeFn: func(_ context.Context, prefix, _ string) (string, error) {
				return prefix + "-TESTCODE", nil
			},
		},
		Enqueue: enq,
		Plans: &fakePlans{
			GetPlanFn: func(_ context.Context, id string) (*continuity.Plan, error) {
				return &continuity.Plan{ID: id, Name: "Retainer", BillingInterval: continuity.IntervalMonth, AmountPerInterval: 150}, nil
			},
		},
	})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) expectNotifications(n int) {
	f.enq.EXPECT().Enqueue(gomock.Any(), gomock.Any()).Return(&asynq.TaskInfo{}, nil).Times(n)
}

func ptr[T any](v T) *T { return &v }

func requireStatus(t *testing.T, err error, want errutil.CoreStatus) {
	t.Helper()
	require.Error(t, err)
	var be errutil.BaseError
	require.True(t, errors.As(err, &be), "expected BaseError, got %T", err)
	require.Equal(t, want, be.Status(), be.Message)
}

func requireMessage(t *testing.T, err error, want string) {
	t.Helper()
	var be errutil.BaseError
	require.True(t, errors.As(err, &be), "expected BaseError, got %T", err)
	require.Equal(t, want, be.Message)
}

func (f *fixture) campaign(t *testing.T, name string) *Campaign {
	t.Helper()
	c, err := f.svc.CreateCampaign(context.Background(), "admin-1", CreateCampaignRequest{
		Name:              name,
		CampaignType:      FreeChallenge,
		MinPurchaseAmount: 100,
		PayoutType:        payout.Refund,
		PayoutAmountType:  payout.AmountPercentage,
		PayoutAmountValue: ptr(20.0),
	})
	require.NoError(t, err)
	return c
}

// activeCampaign has two required criteria and one optional one.
func (f *fixture) activeCampaign(t *testing.T) *Campaign {
	t.Helper()
	ctx := context.Background()
	c := f.campaign(t, "Spring Challenge")

	inputs := []CriterionInput{
		{LabelTemplate: "Attend kickoff", CriteriaType: CriteriaAction, TrackingSource: SourceManual},
		{
			LabelTemplate:    "Generate {{monthly_leads}} leads",
			CriteriaType:     CriteriaResult,
			TrackingSource:   SourceOnboardingMilestone,
			TrackingConfig:   TrackingConfig{Match: `attributes.step == "leads"`, ValueField: "count"},
			ThresholdSource:  ptr("audit.monthly_leads"),
			ThresholdDefault: ptr("25"),
		},
		{LabelTemplate: "Fill survey", CriteriaType: CriteriaAction, TrackingSource: SourceManual, Required: ptr(false)},
	}
	for _, in := range inputs {
		_, err := f.svc.CreateCriterion(ctx, c.ID, in)
		require.NoError(t, err)
	}

	c, err := f.svc.ChangeStatus(ctx, c.ID, ChangeStatusRequest{Status: CampaignActive})
	require.NoError(t, err)
	require.Len(t, c.Criteria, 3)
	return c
}

func (f *fixture) enroll(t *testing.T, campaignID string) *Enrollment {
	t.Helper()
	e, err := f.svc.Enroll(context.Background(), campaignID, EnrollRequest{
		ClientEmail:    "Jane@Example.com",
		ClientName:     "Jane",
		OrderID:        ptr("order-1"),
		PurchaseAmount: ptr(1000.0),
		PersonalizationContext: PersonalizationContext{
			AuditData: map[string]any{"monthly_leads": float64(40)},
		},
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) meetCriteria(t *testing.T, e *Enrollment) {
	t.Helper()
	for _, p := range e.Progress {
		if !p.Required {
			continue
		}
		_, err := f.svc.VerifyProgress(context.Background(), "admin-1", e.CampaignID, e.ID, p.ID, VerifyProgressRequest{Status: lifecycle.MilestoneMet})
		require.NoError(t, err)
	}
}

func TestCreateCampaignSlug(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.campaign(t, "Spring Challenge")
	require.Equal(t, "spring-challenge", c.Slug)
	require.Equal(t, "CMP-TEST", c.Code)
	require.Equal(t, CampaignDraft, c.Status)
	require.Equal(t, 90, c.CompletionWindowDays)
	require.Equal(t, 1.0, c.RolloverBonusMultiplier)
	require.Equal(t, "admin-1", c.CreatedBy)

	_, err := f.svc.CreateCampaign(ctx, "admin-1", CreateCampaignRequest{
		Name:             "Another",
		Slug:             "spring-challenge",
		CampaignType:     BonusCredit,
		PayoutType:       payout.Credit,
		PayoutAmountType: payout.AmountFull,
	})
	requireStatus(t, err, errutil.StatusConflict)
	requireMessage(t, err, "A campaign with this slug already exists")

	_, err = f.svc.CreateCampaign(ctx, "admin-1", CreateCampaignRequest{
		Name:             "Bad",
		Slug:             "Bad Slug",
		CampaignType:     BonusCredit,
		PayoutType:       payout.Credit,
		PayoutAmountType: payout.AmountFull,
	})
	requireStatus(t, err, errutil.StatusValidationFailed)

	_, err = f.svc.CreateCampaign(ctx, "admin-1", CreateCampaignRequest{
		Name:             "Fixed without value",
		CampaignType:     BonusCredit,
		PayoutType:       payout.Credit,
		PayoutAmountType: payout.AmountFixed,
	})
	requireStatus(t, err, errutil.StatusValidationFailed)
}

func TestUpdateCampaign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.campaign(t, "Taken Name")
	c := f.campaign(t, "Spring Challenge")

	_, err := f.svc.UpdateCampaign(ctx, c.ID, UpdateCampaignRequest{Slug: ptr("taken-name")})
	requireStatus(t, err, errutil.StatusConflict)

	updated, err := f.svc.UpdateCampaign(ctx, c.ID, UpdateCampaignRequest{
		Name:                 ptr("Summer Challenge"),
		Slug:                 ptr("spring-challenge"),
		CompletionWindowDays: ptr(30),
	})
	require.NoError(t, err)
	require.Equal(t, "Summer Challenge", updated.Name)
	require.Equal(t, "spring-challenge", updated.Slug)
	require.Equal(t, 30, updated.CompletionWindowDays)

	_, err = f.svc.UpdateCampaign(ctx, "missing", UpdateCampaignRequest{Name: ptr("x")})
	requireStatus(t, err, errutil.StatusNotFound)
}

func TestChangeStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.campaign(t, "Spring Challenge")

	_, err := f.svc.ChangeStatus(ctx, c.ID, ChangeStatusRequest{Status: CampaignPaused})
	requireStatus(t, err, errutil.StatusConflict)

	for _, next := range []CampaignStatus{CampaignActive, CampaignPaused, CampaignArchived, CampaignDraft} {
		c, err = f.svc.ChangeStatus(ctx, c.ID, ChangeStatusRequest{Status: next})
		require.NoError(t, err)
		require.Equal(t, next, c.Status)
	}
}

func TestGetAndListCampaigns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	active := f.activeCampaign(t)
	draft := f.campaign(t, "Autumn Challenge")

	got, err := f.svc.GetCampaign(ctx, active.ID)
	require.NoError(t, err)
	require.Len(t, got.Criteria, 3)
	require.Equal(t, "Attend kickoff", got.Criteria[0].LabelTemplate)

	_, err = f.svc.GetCampaign(ctx, "missing")
	requireStatus(t, err, errutil.StatusNotFound)

	all, err := f.svc.ListCampaigns(ctx, ListCampaignsRequest{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	drafts, err := f.svc.ListCampaigns(ctx, ListCampaignsRequest{Status: CampaignDraft})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	require.Equal(t, draft.ID, drafts[0].ID)

	_, err = f.svc.ListCampaigns(ctx, ListCampaignsRequest{Status: "bogus"})
	requireStatus(t, err, errutil.StatusValidationFailed)
}

func TestCriteriaOrderingAndValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.campaign(t, "Spring Challenge")

	first, err := f.svc.CreateCriterion(ctx, c.ID, CriterionInput{LabelTemplate: "One", CriteriaType: CriteriaAction, TrackingSource: SourceManual})
	require.NoError(t, err)
	second, err := f.svc.CreateCriterion(ctx, c.ID, CriterionInput{LabelTemplate: "Two", CriteriaType: CriteriaAction, TrackingSource: SourceManual})
	require.NoError(t, err)
	require.Equal(t, 0, first.DisplayOrder)
	require.Equal(t, 1, second.DisplayOrder)
	require.True(t, first.Required)

	_, err = f.svc.CreateCriterion(ctx, c.ID, CriterionInput{
		LabelTemplate:  "Broken",
		CriteriaType:   CriteriaAction,
		TrackingSource: SourceChatSession,
		TrackingConfig: TrackingConfig{Match: `attributes.step ==`},
	})
	requireStatus(t, err, errutil.StatusValidationFailed)

	updated, err := f.svc.UpdateCriterion(ctx, c.ID, second.ID, UpdateCriterionRequest{DisplayOrder: ptr(0), Required: ptr(false)})
	require.NoError(t, err)
	require.False(t, updated.Required)

	require.NoError(t, f.svc.DeleteCriterion(ctx, c.ID, first.ID))
	list, err := f.svc.ListCriteria(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, second.ID, list[0].ID)

	err = f.svc.DeleteCriterion(ctx, c.ID, first.ID)
	requireStatus(t, err, errutil.StatusNotFound)
}

func TestCloneCampaign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.activeCampaign(t)

	clone, err := f.svc.CloneCampaign(ctx, "admin-2", src.ID, CloneCampaignRequest{})
	require.NoError(t, err)
	require.NotEqual(t, src.ID, clone.ID)
	require.Equal(t, "spring-challenge-copy", clone.Slug)
	require.Equal(t, "Spring Challenge (Copy)", clone.Name)
	require.Equal(t, CampaignDraft, clone.Status)
	require.Equal(t, "admin-2", clone.CreatedBy)
	require.Len(t, clone.Criteria, 3)
	for i, c := range clone.Criteria {
		require.Equal(t, clone.ID, c.CampaignID)
		require.NotEqual(t, src.Criteria[i].ID, c.ID)
		require.Equal(t, src.Criteria[i].LabelTemplate, c.LabelTemplate)
		require.Equal(t, src.Criteria[i].Required, c.Required)
	}

	again, err := f.svc.CloneCampaign(ctx, "admin-2", src.ID, CloneCampaignRequest{})
	require.NoError(t, err)
	require.Equal(t, "spring-challenge-copy-2", again.Slug)
}

func TestEnrollMaterializesProgress(t *testing.T) {
	f := newFixture(t)
	c := f.activeCampaign(t)
	f.expectNotifications(1)

	e := f.enroll(t, c.ID)
	require.Equal(t, "jane@example.com", e.ClientEmail)
	require.Equal(t, EnrollmentActive, e.Status)
	require.Equal(t, EnrollAdminManual, e.EnrollmentSource)
	require.True(t, e.DeadlineAt.Equal(baseTime.Add(90*24*time.Hour)))
	require.Equal(t, 90, e.DaysRemaining)
	require.Equal(t, 0, e.OverallProgress)
	require.False(t, e.IsExpired)

	require.Len(t, e.Progress, 3)
	require.Equal(t, "Attend kickoff", e.Progress[0].Label)
	require.False(t, e.Progress[0].AutoTracked)
	require.Equal(t, "Generate 40 leads", e.Progress[1].Label)
	require.Equal(t, "40", *e.Progress[1].TargetValue)
	require.True(t, e.Progress[1].AutoTracked)
	require.False(t, e.Progress[2].Required)
	for _, p := range e.Progress {
		require.Equal(t, lifecycle.MilestonePending, p.Status)
	}
}

func TestEnrollRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft := f.campaign(t, "Draft Campaign")
	_, err := f.svc.Enroll(ctx, draft.ID, EnrollRequest{ClientEmail: "a@example.com"})
	requireStatus(t, err, errutil.StatusUnprocessableEntity)

	c := f.activeCampaign(t)
	_, err = f.svc.Enroll(ctx, c.ID, EnrollRequest{ClientEmail: "a@example.com", PurchaseAmount: ptr(50.0)})
	requireStatus(t, err, errutil.StatusValidationFailed)

	f.expectNotifications(1)
	f.enroll(t, c.ID)
	_, err = f.svc.Enroll(ctx, c.ID, EnrollRequest{ClientEmail: "JANE@example.com"})
	requireStatus(t, err, errutil.StatusConflict)
	requireMessage(t, err, "Client already has an active enrollment in this campaign")
}

func TestEnrollAfterDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.activeCampaign(t)

	_, err := f.svc.UpdateCampaign(ctx, c.ID, UpdateCampaignRequest{EnrollmentDeadline: ptr(baseTime.Add(-time.Hour))})
	require.NoError(t, err)

	_, err = f.svc.Enroll(ctx, c.ID, EnrollRequest{ClientEmail: "a@example.com"})
	requireStatus(t, err, errutil.StatusUnprocessableEntity)
}

func TestSubmitProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.activeCampaign(t)
	f.expectNotifications(1)
	e := f.enroll(t, c.ID)
	target := e.Progress[0]

	_, err := f.svc.SubmitProgress(ctx, e.ID, target.ID, SubmitProgressRequest{ClientEmail: "mallory@example.com", ClientEvidence: "done"})
	requireStatus(t, err, errutil.StatusForbidden)

	unchanged, err := f.svc.GetEnrollment(ctx, c.ID, e.ID)
	require.NoError(t, err)
	require.Nil(t, unchanged.Progress[0].ClientEvidence)
	require.Equal(t, lifecycle.MilestonePending, unchanged.Progress[0].Status)

	p, err := f.svc.SubmitProgress(ctx, e.ID, target.ID, SubmitProgressRequest{ClientEmail: "jane@example.com", ClientEvidence: "Joined the call", CurrentValue: ptr("1")})
	require.NoError(t, err)
	require.Equal(t, lifecycle.MilestoneInProgress, p.Status)
	require.Equal(t, "Joined the call", *p.ClientEvidence)

	fresh, err := f.svc.GetEnrollment(ctx, c.ID, e.ID)
	require.NoError(t, err)
	require.Equal(t, lifecycle.MilestoneInProgress, fresh.Progress[0].Status)
	require.Equal(t, "1", *fresh.Progress[0].CurrentValue)
	require.Equal(t, EnrollmentActive, fresh.Status)
}

func TestVerifyProgressAdvancesOnLastRequired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.activeCampaign(t)
	f.expectNotifications(2)
	e := f.enroll(t, c.ID)

	res, err := f.svc.VerifyProgress(ctx, "admin-1", c.ID, e.ID, e.Progress[2].ID, VerifyProgressRequest{Status: lifecycle.MilestoneNotMet})
	require.NoError(t, err)
	require.False(t, res.AllRequiredMet)

	res, err = f.svc.VerifyProgress(ctx, "admin-1", c.ID, e.ID, e.Progress[1].ID, VerifyProgressRequest{Status: lifecycle.MilestoneWaived, AdminNotes: ptr("counted offline")})
	require.NoError(t, err)
	require.False(t, res.AllRequiredMet)
	require.Equal(t, EnrollmentActive, res.EnrollmentStatus)
	require.Equal(t, 100, res.Progress.ProgressValue)

	res, err = f.svc.VerifyProgress(ctx, "admin-1", c.ID, e.ID, e.Progress[0].ID, VerifyProgressRequest{Status: lifecycle.MilestoneMet})
	require.NoError(t, err)
	require.True(t, res.AllRequiredMet)
	require.Equal(t, EnrollmentCriteriaMet, res.EnrollmentStatus)
	require.Equal(t, "admin-1", *res.Progress.AdminVerifiedBy)

	fresh, err := f.svc.GetEnrollment(ctx, c.ID, e.ID)
	require.NoError(t, err)
	require.Equal(t, 67, fresh.OverallProgress)

	_, err = f.svc.VerifyProgress(ctx, "admin-1", c.ID, e.ID, e.Progress[2].ID, VerifyProgressRequest{Status: lifecycle.MilestoneMet})
	requireStatus(t, err, errutil.StatusConflict)

	_, err = f.svc.VerifyProgress(ctx, "admin-1", c.ID, e.ID, e.Progress[2].ID, VerifyProgressRequest{Status: lifecycle.MilestonePending})
	requireStatus(t, err, errutil.StatusValidationFailed)
}

func TestChoosePayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.activeCampaign(t)
	f.expectNotifications(3)
	e := f.enroll(t, c.ID)

	_, err := f.svc.ChoosePayout(ctx, e.ID, ChoosePayoutRequest{ClientEmail: "jane@example.com", PayoutType: payout.Credit})
	requireStatus(t, err, errutil.StatusConflict)
	requireMessage(t, err, "Cannot choose payout for enrollment with status: active")

	f.meetCriteria(t, e)

	_, err = f.svc.ChoosePayout(ctx, e.ID, ChoosePayoutRequest{ClientEmail: "jane@example.com", PayoutType: payout.Type("cash")})
	requireStatus(t, err, errutil.StatusValidationFailed)

	_, err = f.svc.ChoosePayout(ctx, e.ID, ChoosePayoutRequest{ClientEmail: "other@example.com", PayoutType: payout.Credit})
	requireStatus(t, err, errutil.StatusForbidden)

	out, err := f.svc.ChoosePayout(ctx, e.ID, ChoosePayoutRequest{ClientEmail: "jane@example.com", PayoutType: payout.Credit})
	require.NoError(t, err)
	require.Equal(t, EnrollmentPayoutPending, out.Status)
	require.Equal(t, payout.Credit, *out.ChosenPayoutType)
	require.Equal(t, "Client selected payout: credit", *out.ResolutionNotes)
}

func TestResolvePayoutUsesChosenType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.activeCampaign(t)
	// enrolled, criteria met, payout chosen, resolved
	f.expectNotifications(4)
	e := f.enroll(t, c.ID)
	f.meetCriteria(t, e)

	_, err := f.svc.ChoosePayout(ctx, e.ID, ChoosePayoutRequest{ClientEmail: "jane@example.com", PayoutType: payout.Credit})
	require.NoError(t, err)

	out, err := f.svc.ResolvePayout(ctx, "admin-1", c.ID, e.ID, ResolveEnrollmentRequest{})
	require.NoError(t, err)
	require.Equal(t, EnrollmentCreditIssued, out.Status)
	require.Equal(t, "CAMP-TESTCODE", *out.CreditCode)
	require.Equal(t, 200.0, *out.PayoutAmount)
	require.NotNil(t, out.ResolvedAt)
	require.Equal(t, "Payout issued: credit of 200.00, code CAMP-TESTCODE.", *out.ResolutionNotes)

	_, err = f.svc.ResolvePayout(ctx, "admin-1", c.ID, e.ID, ResolveEnrollmentRequest{})
	requireStatus(t, err, errutil.StatusConflict)
}

func TestResolvePayoutCreditCodeFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.activeCampaign(t)
	// enrolled, criteria met, payout chosen
	f.expectNotifications(3)
	e := f.enroll(t, c.ID)
	f.meetCriteria(t, e)
	_, err := f.svc.ChoosePayout(ctx, e.ID, ChoosePayoutRequest{ClientEmail: "jane@example.com", PayoutType: payout.Credit})
	require.NoError(t, err)

	f.svc.seq = &fakeSequence{
		NextCreditCodeFn: func(context.Context, string, string) (string, error) {
			return "", errors.New("redis down")
		},
	}
	_, err = f.svc.ResolvePayout(ctx, "admin-1", c.ID, e.ID, ResolveEnrollmentRequest{})
	requireStatus(t, err, errutil.StatusInternal)

	got, err := f.svc.GetEnrollment(ctx, c.ID, e.ID)
	require.NoError(t, err)
	require.Equal(t, EnrollmentPayoutPending, got.Status)
	require.Nil(t, got.CreditCode)
}

func TestResolvePayoutDefaultsToCampaignRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.activeCampaign(t)
	// enrolled, criteria met, refund requested, resolved
	f.expectNotifications(4)
	e := f.enroll(t, c.ID)

	_, err := f.svc.ResolvePayout(ctx, "admin-1", c.ID, e.ID, ResolveEnrollmentRequest{})
	requireStatus(t, err, errutil.StatusConflict)

	f.meetCriteria(t, e)
	out, err := f.svc.ResolvePayout(ctx, "admin-1", c.ID, e.ID, ResolveEnrollmentRequest{})
	require.NoError(t, err)
	require.Equal(t, EnrollmentRefundIssued, out.Status)
	require.Equal(t, 200.0, *out.PayoutAmount)
	require.Nil(t, out.CreditCode)
}

func TestResolvePayoutContinuity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.activeCampaign(t)

	_, err := f.svc.UpdateCampaign(ctx, c.ID, UpdateCampaignRequest{
		PayoutAmountType:         ptr(payout.AmountFixed),
		PayoutAmountValue:        ptr(450.0),
		RolloverContinuityPlanID: ptr("plan-1"),
	})
	require.NoError(t, err)

	f.expectNotifications(3)
	e := f.enroll(t, c.ID)
	f.meetCriteria(t, e)

	out, err := f.svc.ResolvePayout(ctx, "admin-1", c.ID, e.ID, ResolveEnrollmentRequest{PayoutType: ptr(payout.RolloverContinuity)})
	require.NoError(t, err)
	require.Equal(t, EnrollmentRolloverApplied, out.Status)
	require.Equal(t, 450.0, *out.PayoutAmount)
	require.Contains(t, *out.ResolutionNotes, "covers 3 month cycle(s) of Retainer")
}

func TestCloseEnrollment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.activeCampaign(t)
	f.expectNotifications(2)
	e := f.enroll(t, c.ID)

	out, err := f.svc.CloseEnrollment(ctx, "admin-1", c.ID, e.ID, CloseEnrollmentRequest{Status: ClosureWithdrawn})
	require.NoError(t, err)
	require.Equal(t, EnrollmentWithdrawn, out.Status)
	require.Equal(t, "Enrollment marked withdrawn by admin.", *out.ResolutionNotes)
	require.Equal(t, 0, out.DaysRemaining)

	_, err = f.svc.CloseEnrollment(ctx, "admin-1", c.ID, e.ID, CloseEnrollmentRequest{Status: ClosureExpired})
	requireStatus(t, err, errutil.StatusConflict)
	requireMessage(t, err, "Cannot close enrollment with status: withdrawn")

	_, err = f.svc.SubmitProgress(ctx, e.ID, e.Progress[0].ID, SubmitProgressRequest{ClientEmail: "jane@example.com", ClientEvidence: "late"})
	requireStatus(t, err, errutil.StatusConflict)

	// A closed enrollment frees the client to enroll again.
	f.expectNotifications(1)
	f.enroll(t, c.ID)
}

func TestListEnrollments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.activeCampaign(t)
	f.expectNotifications(3)

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		f.now = f.now.Add(time.Minute)
		_, err := f.svc.Enroll(ctx, c.ID, EnrollRequest{ClientEmail: email})
		require.NoError(t, err)
	}

	out, err := f.svc.ListEnrollments(ctx, c.ID, ListEnrollmentsRequest{Pagination: pagination.Pagination{Limit: 2}})
	require.NoError(t, err)
	require.EqualValues(t, 3, out.Total)
	require.Len(t, out.Data, 2)
	require.Equal(t, "c@example.com", out.Data[0].ClientEmail)
	require.Len(t, out.Data[0].Progress, 3)

	out, err = f.svc.ListEnrollments(ctx, c.ID, ListEnrollmentsRequest{ClientEmail: "B@example.com"})
	require.NoError(t, err)
	require.EqualValues(t, 1, out.Total)

	out, err = f.svc.ListEnrollments(ctx, c.ID, ListEnrollmentsRequest{Status: EnrollmentWithdrawn})
	require.NoError(t, err)
	require.EqualValues(t, 0, out.Total)
	require.Empty(t, out.Data)
}

func TestGetClientEnrollment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.activeCampaign(t)
	f.expectNotifications(1)
	e := f.enroll(t, c.ID)

	_, err := f.svc.GetClientEnrollment(ctx, e.ID, ClientAccess{ClientEmail: "other@example.com"})
	requireStatus(t, err, errutil.StatusForbidden)

	out, err := f.svc.GetClientEnrollment(ctx, e.ID, ClientAccess{ClientEmail: "JANE@example.com"})
	require.NoError(t, err)
	require.Equal(t, e.ID, out.ID)

	_, err = f.svc.GetEnrollment(ctx, "other-campaign", e.ID)
	requireStatus(t, err, errutil.StatusNotFound)
}
