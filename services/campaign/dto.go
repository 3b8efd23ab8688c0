package campaign

import (
	"time"

	"clientops-controlplane/pkg/db/pagination"
	"clientops-controlplane/pkg/lifecycle"
	"clientops-controlplane/pkg/payout"
)

type CreateCampaignRequest struct {
	Name                     string            `json:"name" validate:"notblank,max=255"`
	Slug                     string            `json:"slug" validate:"omitempty,max=255"`
	Description              string            `json:"description" validate:"max=5000"`
	CampaignType             CampaignType      `json:"campaign_type" validate:"required,oneof=win_money_back free_challenge bonus_credit"`
	StartsAt                 *time.Time        `json:"starts_at"`
	EndsAt                   *time.Time        `json:"ends_at"`
	EnrollmentDeadline       *time.Time        `json:"enrollment_deadline"`
	CompletionWindowDays     *int              `json:"completion_window_days" validate:"omitempty,gt=0,lte=3650"`
	MinPurchaseAmount        float64           `json:"min_purchase_amount" validate:"gte=0"`
	PayoutType               payout.Type       `json:"payout_type" validate:"required,payouttype"`
	PayoutAmountType         payout.AmountType `json:"payout_amount_type" validate:"required,amounttype"`
	PayoutAmountValue        *float64          `json:"payout_amount_value" validate:"omitempty,gte=0"`
	RolloverBonusMultiplier  *float64          `json:"rollover_bonus_multiplier" validate:"omitempty,gt=0"`
	RolloverContinuityPlanID *string           `json:"rollover_continuity_plan_id"`
	PromoCopy                string            `json:"promo_copy" validate:"max=10000"`
}

type UpdateCampaignRequest struct {
	Name                     *string            `json:"name" validate:"omitempty,notblank,max=255"`
	Slug                     *string            `json:"slug" validate:"omitempty,max=255"`
	Description              *string            `json:"description" validate:"omitempty,max=5000"`
	StartsAt                 *time.Time         `json:"starts_at"`
	EndsAt                   *time.Time         `json:"ends_at"`
	EnrollmentDeadline       *time.Time         `json:"enrollment_deadline"`
	CompletionWindowDays     *int               `json:"completion_window_days" validate:"omitempty,gt=0,lte=3650"`
	MinPurchaseAmount        *float64           `json:"min_purchase_amount" validate:"omitempty,gte=0"`
	PayoutType               *payout.Type       `json:"payout_type" validate:"omitempty,payouttype"`
	PayoutAmountType         *payout.AmountType `json:"payout_amount_type" validate:"omitempty,amounttype"`
	PayoutAmountValue        *float64           `json:"payout_amount_value" validate:"omitempty,gte=0"`
	RolloverBonusMultiplier  *float64           `json:"rollover_bonus_multiplier" validate:"omitempty,gt=0"`
	RolloverContinuityPlanID *string            `json:"rollover_continuity_plan_id"`
	PromoCopy                *string            `json:"promo_copy" validate:"omitempty,max=10000"`
}

type ListCampaignsRequest struct {
	Status       CampaignStatus `form:"status" json:"status" validate:"omitempty,oneof=draft active paused completed archived"`
	CampaignType CampaignType   `form:"campaign_type" json:"campaign_type" validate:"omitempty,oneof=win_money_back free_challenge bonus_credit"`
}

type CloneCampaignRequest struct {
	Name *string `json:"name" validate:"omitempty,notblank,max=255"`
	Slug *string `json:"slug" validate:"omitempty,max=255"`
}

type ChangeStatusRequest struct {
	Status CampaignStatus `json:"status" validate:"required,oneof=draft active paused completed archived"`
}

type CriterionInput struct {
	LabelTemplate       string         `json:"label_template" validate:"notblank,max=500"`
	DescriptionTemplate *string        `json:"description_template" validate:"omitempty,max=5000"`
	CriteriaType        CriteriaType   `json:"criteria_type" validate:"required,oneof=action result"`
	TrackingSource      TrackingSource `json:"tracking_source" validate:"required,oneof=manual onboarding_milestone chat_session video_watch diagnostic_completion custom_webhook"`
	TrackingConfig      TrackingConfig `json:"tracking_config"`
	ThresholdSource     *string        `json:"threshold_source" validate:"omitempty,max=255"`
	ThresholdDefault    *string        `json:"threshold_default" validate:"omitempty,max=255"`
	Required            *bool          `json:"required"`
	DisplayOrder        *int           `json:"display_order" validate:"omitempty,gte=0"`
}

type UpdateCriterionRequest struct {
	LabelTemplate       *string         `json:"label_template" validate:"omitempty,notblank,max=500"`
	DescriptionTemplate *string         `json:"description_template" validate:"omitempty,max=5000"`
	CriteriaType        *CriteriaType   `json:"criteria_type" validate:"omitempty,oneof=action result"`
	TrackingSource      *TrackingSource `json:"tracking_source" validate:"omitempty,oneof=manual onboarding_milestone chat_session video_watch diagnostic_completion custom_webhook"`
	TrackingConfig      *TrackingConfig `json:"tracking_config"`
	ThresholdSource     *string         `json:"threshold_source" validate:"omitempty,max=255"`
	ThresholdDefault    *string         `json:"threshold_default" validate:"omitempty,max=255"`
	Required            *bool           `json:"required"`
	DisplayOrder        *int            `json:"display_order" validate:"omitempty,gte=0"`
}

type EnrollRequest struct {
	ClientEmail            string                 `json:"client_email" validate:"required,email"`
	ClientName             string                 `json:"client_name" validate:"max=255"`
	UserID                 *string                `json:"user_id" validate:"omitempty,max=64"`
	OrderID                *string                `json:"order_id" validate:"omitempty,max=64"`
	PurchaseAmount         *float64               `json:"purchase_amount" validate:"omitempty,gte=0"`
	EnrollmentSource       EnrollmentSource       `json:"enrollment_source" validate:"omitempty,oneof=auto_purchase admin_manual sales_conversation"`
	PersonalizationContext PersonalizationContext `json:"personalization_context"`
}

type ListEnrollmentsRequest struct {
	Status      EnrollmentStatus `form:"status" json:"status" validate:"omitempty,oneof=active criteria_met payout_pending refund_issued credit_issued rollover_applied expired withdrawn"`
	ClientEmail string           `form:"client_email" json:"client_email" validate:"omitempty,max=255"`
	pagination.Pagination
}

type ListEnrollmentsResult struct {
	Data []*Enrollment `json:"data"`
	pagination.PageInfo
}

type ClientAccess struct {
	ClientEmail string `form:"client_email" json:"client_email" validate:"required,email"`
}

type SubmitProgressRequest struct {
	ClientEmail    string  `json:"client_email" validate:"required,email"`
	ClientEvidence string  `json:"client_evidence" validate:"notblank,max=10000"`
	CurrentValue   *string `json:"current_value" validate:"omitempty,max=255"`
}

type VerifyProgressRequest struct {
	Status       lifecycle.MilestoneStatus `json:"status" validate:"required,oneof=met not_met waived"`
	AdminNotes   *string                   `json:"admin_notes" validate:"omitempty,max=5000"`
	CurrentValue *string                   `json:"current_value" validate:"omitempty,max=255"`
}

type VerifyProgressResult struct {
	Progress         *Progress        `json:"progress"`
	AllRequiredMet   bool             `json:"all_required_met"`
	EnrollmentStatus EnrollmentStatus `json:"enrollment_status"`
}

type ChoosePayoutRequest struct {
	ClientEmail string      `json:"client_email" validate:"required,email"`
	PayoutType  payout.Type `json:"payout_type" validate:"required,payouttype"`
}

type ResolveEnrollmentRequest struct {
	PayoutType *payout.Type `json:"payout_type" validate:"omitempty,payouttype"`
	Notes      *string      `json:"notes" validate:"omitempty,max=5000"`
}

type CloseEnrollmentRequest struct {
	Status Closure `json:"status" validate:"required,oneof=expired withdrawn"`
	Notes  *string `json:"notes" validate:"omitempty,max=5000"`
}
