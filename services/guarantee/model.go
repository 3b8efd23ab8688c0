package guarantee

import (
	"encoding/json"
	"time"

	"clientops-controlplane/pkg/lifecycle"
	"clientops-controlplane/pkg/payout"

	"gorm.io/datatypes"
)

type GuaranteeType string
type VerificationMethod string

const (
	Conditional   GuaranteeType = "conditional"
	Unconditional GuaranteeType = "unconditional"

	AdminVerified    VerificationMethod = "admin_verified"
	ClientSelfReport VerificationMethod = "client_self_report"
)

// Condition is one entry of a template's condition list. It is copied into
// every instance at creation time.
type Condition struct {
	ID                 string             `json:"id"`
	Label              string             `json:"label"`
	VerificationMethod VerificationMethod `json:"verification_method"`
	Required           bool               `json:"required"`
	TargetValue        *float64           `json:"target_value,omitempty"`
}

type Template struct {
	ID                       string            `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Name                     string            `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Description              string            `gorm:"column:description;type:text" json:"description"`
	GuaranteeType            GuaranteeType     `gorm:"column:guarantee_type;type:varchar(32);not null;default:'conditional'" json:"guarantee_type"`
	DurationDays             int               `gorm:"column:duration_days;not null" json:"duration_days"`
	Conditions               datatypes.JSON    `gorm:"column:conditions;type:jsonb" json:"conditions"`
	DefaultPayoutType        payout.Type       `gorm:"column:default_payout_type;type:varchar(32);not null;default:'refund'" json:"default_payout_type"`
	PayoutAmountType         payout.AmountType `gorm:"column:payout_amount_type;type:varchar(32);not null;default:'full'" json:"payout_amount_type"`
	PayoutAmountValue        *float64          `gorm:"column:payout_amount_value" json:"payout_amount_value,omitempty"`
	RolloverUpsellServiceIDs datatypes.JSON    `gorm:"column:rollover_upsell_service_ids;type:jsonb" json:"rollover_upsell_service_ids,omitempty"`
	RolloverContinuityPlanID *string           `gorm:"column:rollover_continuity_plan_id;type:varchar(32)" json:"rollover_continuity_plan_id,omitempty"`
	RolloverBonusMultiplier  float64           `gorm:"column:rollover_bonus_multiplier;not null;default:1" json:"rollover_bonus_multiplier"`
	IsActive                 bool              `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedBy                string            `gorm:"column:created_by;type:varchar(64)" json:"created_by,omitempty"`
	CreatedAt                time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Template) TableName() string { return "guarantee_templates" }

// ParseConditions decodes the stored condition list.
func (t *Template) ParseConditions() ([]Condition, error) {
	var out []Condition
	if len(t.Conditions) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(t.Conditions, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Template) PayoutTerms() payout.Terms {
	return payout.Terms{Type: t.PayoutAmountType, Value: t.PayoutAmountValue}
}

type Instance struct {
	ID                   string         `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	TemplateID           string         `gorm:"column:template_id;type:varchar(32);index;not null" json:"template_id"`
	OrderID              *string        `gorm:"column:order_id;type:varchar(64);index" json:"order_id,omitempty"`
	ClientEmail          string         `gorm:"column:client_email;type:varchar(255);index;not null" json:"client_email"`
	ClientName           string         `gorm:"column:client_name;type:varchar(255)" json:"client_name"`
	UserID               *string        `gorm:"column:user_id;type:varchar(64)" json:"user_id,omitempty"`
	PurchaseAmount       float64        `gorm:"column:purchase_amount;not null;default:0" json:"purchase_amount"`
	PayoutType           payout.Type    `gorm:"column:payout_type;type:varchar(32);not null" json:"payout_type"`
	Status               Status         `gorm:"column:status;type:varchar(40);index;not null;default:'active'" json:"status"`
	ConditionsSnapshot   datatypes.JSON `gorm:"column:conditions_snapshot;type:jsonb" json:"conditions_snapshot"`
	StartsAt             time.Time      `gorm:"column:starts_at;not null" json:"starts_at"`
	ExpiresAt            time.Time      `gorm:"column:expires_at;not null" json:"expires_at"`
	ResolvedAt           *time.Time     `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
	ResolutionNotes      *string        `gorm:"column:resolution_notes;type:text" json:"resolution_notes,omitempty"`
	PayoutAmount         *float64       `gorm:"column:payout_amount" json:"payout_amount,omitempty"`
	RolloverCreditAmount *float64       `gorm:"column:rollover_credit_amount" json:"rollover_credit_amount,omitempty"`
	CreditCode           *string        `gorm:"column:credit_code;type:varchar(64)" json:"credit_code,omitempty"`
	CoveredCycles        *int           `gorm:"column:covered_cycles" json:"covered_cycles,omitempty"`
	SubscriptionPlanID   *string        `gorm:"column:subscription_plan_id;type:varchar(32)" json:"subscription_plan_id,omitempty"`
	CreatedAt            time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`

	Template   *Template   `gorm:"foreignKey:TemplateID;references:ID" json:"template,omitempty"`
	Milestones []Milestone `gorm:"foreignKey:InstanceID;references:ID" json:"milestones,omitempty"`

	IsExpired     bool `gorm:"-" json:"is_expired"`
	DaysRemaining int  `gorm:"-" json:"days_remaining"`
}

func (Instance) TableName() string { return "guarantee_instances" }

// decorate fills the read-time fields derived from the clock.
func (i *Instance) decorate(now time.Time) {
	i.IsExpired = !i.Status.Terminal() && !now.Before(i.ExpiresAt)
	if i.Status.Terminal() {
		i.DaysRemaining = 0
		return
	}
	i.DaysRemaining = lifecycle.DaysRemaining(i.ExpiresAt, now)
}

type Milestone struct {
	ID                string                    `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	InstanceID        string                    `gorm:"column:instance_id;type:varchar(32);not null;uniqueIndex:idx_milestone_condition" json:"instance_id"`
	ConditionID       string                    `gorm:"column:condition_id;type:varchar(64);not null;uniqueIndex:idx_milestone_condition" json:"condition_id"`
	ConditionLabel    string                    `gorm:"column:condition_label;type:varchar(255);not null" json:"condition_label"`
	Required          bool                      `gorm:"column:required;not null" json:"required"`
	Status            lifecycle.MilestoneStatus `gorm:"column:status;type:varchar(20);not null;default:'not_met'" json:"status"`
	ProgressValue     int                       `gorm:"column:progress_value;not null;default:0" json:"progress_value"`
	CurrentValue      *float64                  `gorm:"column:current_value" json:"current_value,omitempty"`
	TargetValue       *float64                  `gorm:"column:target_value" json:"target_value,omitempty"`
	ClientEvidence    *string                   `gorm:"column:client_evidence;type:text" json:"client_evidence,omitempty"`
	ClientSubmittedAt *time.Time                `gorm:"column:client_submitted_at" json:"client_submitted_at,omitempty"`
	EvidenceObjectKey *string                   `gorm:"column:evidence_object_key;type:varchar(512)" json:"evidence_object_key,omitempty"`
	VerifiedBy        *string                   `gorm:"column:verified_by;type:varchar(64)" json:"verified_by,omitempty"`
	VerifiedAt        *time.Time                `gorm:"column:verified_at" json:"verified_at,omitempty"`
	AdminNotes        *string                   `gorm:"column:admin_notes;type:text" json:"admin_notes,omitempty"`
	CreatedAt         time.Time                 `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time                 `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Milestone) TableName() string { return "guarantee_milestones" }

func (m Milestone) IsRequired() bool                         { return m.Required }
func (m Milestone) CurrentStatus() lifecycle.MilestoneStatus { return m.Status }

// Models lists every table owned by this package, in migration order.
func Models() []any {
	return []any{&Template{}, &Instance{}, &Milestone{}}
}
