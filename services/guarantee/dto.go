package guarantee

import (
	"time"

	"clientops-controlplane/pkg/db/pagination"
	"clientops-controlplane/pkg/lifecycle"
	"clientops-controlplane/pkg/payout"
)

type ConditionInput struct {
	ID                 string             `json:"id" validate:"notblank,max=64"`
	Label              string             `json:"label" validate:"notblank,max=255"`
	VerificationMethod VerificationMethod `json:"verification_method" validate:"required,oneof=admin_verified client_self_report"`
	Required           *bool              `json:"required"`
	TargetValue        *float64           `json:"target_value" validate:"omitempty,gte=0"`
}

type CreateTemplateRequest struct {
	Name                     string            `json:"name" validate:"notblank,max=255"`
	Description              string            `json:"description" validate:"max=5000"`
	GuaranteeType            GuaranteeType     `json:"guarantee_type" validate:"required,oneof=conditional unconditional"`
	DurationDays             int               `json:"duration_days" validate:"gt=0,lte=3650"`
	Conditions               []ConditionInput  `json:"conditions" validate:"dive"`
	DefaultPayoutType        payout.Type       `json:"default_payout_type" validate:"required,payouttype"`
	PayoutAmountType         payout.AmountType `json:"payout_amount_type" validate:"required,amounttype"`
	PayoutAmountValue        *float64          `json:"payout_amount_value" validate:"omitempty,gte=0"`
	RolloverUpsellServiceIDs []string          `json:"rollover_upsell_service_ids"`
	RolloverContinuityPlanID *string           `json:"rollover_continuity_plan_id"`
	RolloverBonusMultiplier  *float64          `json:"rollover_bonus_multiplier" validate:"omitempty,gt=0"`
}

type UpdateTemplateRequest struct {
	Name                     *string            `json:"name" validate:"omitempty,notblank,max=255"`
	Description              *string            `json:"description" validate:"omitempty,max=5000"`
	DurationDays             *int               `json:"duration_days" validate:"omitempty,gt=0,lte=3650"`
	Conditions               *[]ConditionInput  `json:"conditions" validate:"omitempty,dive"`
	DefaultPayoutType        *payout.Type       `json:"default_payout_type" validate:"omitempty,payouttype"`
	PayoutAmountType         *payout.AmountType `json:"payout_amount_type" validate:"omitempty,amounttype"`
	PayoutAmountValue        *float64           `json:"payout_amount_value" validate:"omitempty,gte=0"`
	RolloverContinuityPlanID *string            `json:"rollover_continuity_plan_id"`
	RolloverBonusMultiplier  *float64           `json:"rollover_bonus_multiplier" validate:"omitempty,gt=0"`
	IsActive                 *bool              `json:"is_active"`
}

type ListTemplatesRequest struct {
	ActiveOnly bool `form:"active" json:"active"`
}

type CreateInstanceRequest struct {
	TemplateID     string       `json:"template_id" validate:"notblank"`
	ClientEmail    string       `json:"client_email" validate:"required,email"`
	ClientName     string       `json:"client_name" validate:"max=255"`
	OrderID        *string      `json:"order_id" validate:"omitempty,max=64"`
	UserID         *string      `json:"user_id" validate:"omitempty,max=64"`
	PurchaseAmount float64      `json:"purchase_amount" validate:"gte=0"`
	PayoutType     *payout.Type `json:"payout_type" validate:"omitempty,payouttype"`
	StartsAt       *time.Time   `json:"starts_at"`
}

type ListInstancesRequest struct {
	Status      Status `form:"status" json:"status" validate:"omitempty,oneof=active conditions_met refund_issued credit_issued rollover_upsell_applied rollover_continuity_applied expired voided"`
	ClientEmail string `form:"client_email" json:"client_email" validate:"omitempty,max=255"`
	TemplateID  string `form:"template_id" json:"template_id" validate:"omitempty,max=32"`
	pagination.Pagination
}

type ListInstancesResult struct {
	Data []*Instance `json:"data"`
	pagination.PageInfo
}

type ClientAccess struct {
	ClientEmail string `form:"client_email" json:"client_email" validate:"required,email"`
}

type SubmitEvidenceRequest struct {
	ClientEmail    string   `json:"client_email" validate:"required,email"`
	ClientEvidence string   `json:"client_evidence" validate:"notblank,max=10000"`
	CurrentValue   *float64 `json:"current_value" validate:"omitempty,gte=0"`
}

type EvidenceUploadRequest struct {
	ClientEmail string `json:"client_email" validate:"required,email"`
	FileName    string `json:"file_name" validate:"notblank,max=255"`
}

type EvidenceUpload struct {
	UploadURL string    `json:"upload_url"`
	ObjectKey string    `json:"object_key"`
	ExpiresAt time.Time `json:"expires_at"`
}

type VerifyMilestoneRequest struct {
	Status       lifecycle.MilestoneStatus `json:"status" validate:"required,oneof=met not_met waived"`
	AdminNotes   *string                   `json:"admin_notes" validate:"omitempty,max=5000"`
	CurrentValue *float64                  `json:"current_value" validate:"omitempty,gte=0"`
}

type VerifyResult struct {
	Milestone      *Milestone `json:"milestone"`
	AllRequiredMet bool       `json:"all_required_met"`
	InstanceStatus Status     `json:"instance_status"`
}

type ResolveRequest struct {
	Resolution Resolution `json:"resolution" validate:"required,oneof=voided expired"`
	Notes      *string    `json:"notes" validate:"omitempty,max=5000"`
}

type PayoutRequest struct {
	PayoutType *payout.Type `json:"payout_type" validate:"omitempty,payouttype"`
	Notes      *string      `json:"notes" validate:"omitempty,max=5000"`
}

type Outcome string

const (
	OutcomeExpired           Outcome = "expired"
	OutcomePendingConditions Outcome = "pending_conditions"
	OutcomeReady             Outcome = "ready"
)

type Evaluation struct {
	Outcome           Outcome     `json:"outcome"`
	Instance          *Instance   `json:"instance"`
	PendingConditions []Milestone `json:"pending_conditions,omitempty"`
	PayoutType        payout.Type `json:"payout_type,omitempty"`
	PayoutAmount      *float64    `json:"payout_amount,omitempty"`
	RolloverCredit    *float64    `json:"rollover_credit,omitempty"`
}
