package campaign

import (
	"encoding/json"
	"time"

	"clientops-controlplane/pkg/lifecycle"
	"clientops-controlplane/pkg/payout"

	"gorm.io/datatypes"
)

type CampaignType string
type CriteriaType string
type TrackingSource string
type EnrollmentSource string

const (
	WinMoneyBack  CampaignType = "win_money_back"
	FreeChallenge CampaignType = "free_challenge"
	BonusCredit   CampaignType = "bonus_credit"

	CriteriaAction CriteriaType = "action"
	CriteriaResult CriteriaType = "result"

	SourceManual               TrackingSource = "manual"
	SourceOnboardingMilestone  TrackingSource = "onboarding_milestone"
	SourceChatSession          TrackingSource = "chat_session"
	SourceVideoWatch           TrackingSource = "video_watch"
	SourceDiagnosticCompletion TrackingSource = "diagnostic_completion"
	SourceCustomWebhook        TrackingSource = "custom_webhook"

	EnrollAutoPurchase      EnrollmentSource = "auto_purchase"
	EnrollAdminManual       EnrollmentSource = "admin_manual"
	EnrollSalesConversation EnrollmentSource = "sales_conversation"
)

// Campaign is an attraction offer definition. Enrollments copy its criteria at
// enrollment time, so later edits never reach existing enrollments.
type Campaign struct {
	ID                       string            `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Code                     string            `gorm:"column:code;type:varchar(32);index" json:"code"`
	Name                     string            `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Slug                     string            `gorm:"column:slug;type:varchar(255);not null;uniqueIndex:idx_campaign_slug" json:"slug"`
	Description              string            `gorm:"column:description;type:text" json:"description"`
	CampaignType             CampaignType      `gorm:"column:campaign_type;type:varchar(32);not null" json:"campaign_type"`
	Status                   CampaignStatus    `gorm:"column:status;type:varchar(20);not null;index" json:"status"`
	StartsAt                 *time.Time        `gorm:"column:starts_at" json:"starts_at,omitempty"`
	EndsAt                   *time.Time        `gorm:"column:ends_at" json:"ends_at,omitempty"`
	EnrollmentDeadline       *time.Time        `gorm:"column:enrollment_deadline" json:"enrollment_deadline,omitempty"`
	CompletionWindowDays     int               `gorm:"column:completion_window_days;not null" json:"completion_window_days"`
	MinPurchaseAmount        float64           `gorm:"column:min_purchase_amount;not null" json:"min_purchase_amount"`
	PayoutType               payout.Type       `gorm:"column:payout_type;type:varchar(32);not null" json:"payout_type"`
	PayoutAmountType         payout.AmountType `gorm:"column:payout_amount_type;type:varchar(32);not null" json:"payout_amount_type"`
	PayoutAmountValue        *float64          `gorm:"column:payout_amount_value" json:"payout_amount_value,omitempty"`
	RolloverBonusMultiplier  float64           `gorm:"column:rollover_bonus_multiplier;not null" json:"rollover_bonus_multiplier"`
	RolloverContinuityPlanID *string           `gorm:"column:rollover_continuity_plan_id;type:varchar(32)" json:"rollover_continuity_plan_id,omitempty"`
	PromoCopy                string            `gorm:"column:promo_copy;type:text" json:"promo_copy"`
	CreatedBy                string            `gorm:"column:created_by;type:varchar(64)" json:"created_by,omitempty"`
	CreatedAt                time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`

	Criteria []CriteriaTemplate `gorm:"foreignKey:CampaignID;references:ID" json:"criteria,omitempty"`
}

func (Campaign) TableName() string { return "attraction_campaigns" }

// IsEnrollable reports whether the campaign accepts enrollments at now.
func (c *Campaign) IsEnrollable(now time.Time) bool {
	if c.Status != CampaignActive {
		return false
	}
	if c.StartsAt != nil && c.StartsAt.After(now) {
		return false
	}
	if c.EnrollmentDeadline != nil && c.EnrollmentDeadline.Before(now) {
		return false
	}
	if c.EndsAt != nil && c.EndsAt.Before(now) {
		return false
	}
	return true
}

func (c *Campaign) PayoutTerms() payout.Terms {
	return payout.Terms{Type: c.PayoutAmountType, Value: c.PayoutAmountValue}
}

// TrackingConfig is the decoded form of a criterion's tracking_config.
type TrackingConfig struct {
	// Match is a CEL expression over source, client_email and attributes.
	Match string `json:"match,omitempty"`
	// ValueField names the attribute copied into current_value.
	ValueField string `json:"value_field,omitempty"`
}

func parseTrackingConfig(raw datatypes.JSON) (TrackingConfig, error) {
	var tc TrackingConfig
	if len(raw) == 0 {
		return tc, nil
	}
	err := json.Unmarshal(raw, &tc)
	return tc, err
}

type CriteriaTemplate struct {
	ID                  string         `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	CampaignID          string         `gorm:"column:campaign_id;type:varchar(32);not null;index" json:"campaign_id"`
	LabelTemplate       string         `gorm:"column:label_template;type:varchar(500);not null" json:"label_template"`
	DescriptionTemplate *string        `gorm:"column:description_template;type:text" json:"description_template,omitempty"`
	CriteriaType        CriteriaType   `gorm:"column:criteria_type;type:varchar(16);not null" json:"criteria_type"`
	TrackingSource      TrackingSource `gorm:"column:tracking_source;type:varchar(32);not null" json:"tracking_source"`
	TrackingConfig      datatypes.JSON `gorm:"column:tracking_config;type:jsonb" json:"tracking_config"`
	ThresholdSource     *string        `gorm:"column:threshold_source;type:varchar(255)" json:"threshold_source,omitempty"`
	ThresholdDefault    *string        `gorm:"column:threshold_default;type:varchar(255)" json:"threshold_default,omitempty"`
	Required            bool           `gorm:"column:required;not null" json:"required"`
	DisplayOrder        int            `gorm:"column:display_order;not null" json:"display_order"`
	CreatedAt           time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (CriteriaTemplate) TableName() string { return "campaign_criteria_templates" }

type Enrollment struct {
	ID                     string           `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	CampaignID             string           `gorm:"column:campaign_id;type:varchar(32);not null;index" json:"campaign_id"`
	ClientEmail            string           `gorm:"column:client_email;type:varchar(255);not null;index" json:"client_email"`
	ClientName             string           `gorm:"column:client_name;type:varchar(255)" json:"client_name"`
	UserID                 *string          `gorm:"column:user_id;type:varchar(64)" json:"user_id,omitempty"`
	OrderID                *string          `gorm:"column:order_id;type:varchar(64)" json:"order_id,omitempty"`
	PurchaseAmount         *float64         `gorm:"column:purchase_amount" json:"purchase_amount,omitempty"`
	EnrollmentSource       EnrollmentSource `gorm:"column:enrollment_source;type:varchar(32);not null" json:"enrollment_source"`
	Status                 EnrollmentStatus `gorm:"column:status;type:varchar(20);not null;index" json:"status"`
	EnrolledAt             time.Time        `gorm:"column:enrolled_at;not null" json:"enrolled_at"`
	DeadlineAt             time.Time        `gorm:"column:deadline_at;not null" json:"deadline_at"`
	ResolvedAt             *time.Time       `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
	ResolutionNotes        *string          `gorm:"column:resolution_notes;type:text" json:"resolution_notes,omitempty"`
	ChosenPayoutType       *payout.Type     `gorm:"column:chosen_payout_type;type:varchar(32)" json:"chosen_payout_type,omitempty"`
	PayoutAmount           *float64         `gorm:"column:payout_amount" json:"payout_amount,omitempty"`
	CreditCode             *string          `gorm:"column:credit_code;type:varchar(64)" json:"credit_code,omitempty"`
	PersonalizationContext datatypes.JSON   `gorm:"column:personalization_context;type:jsonb" json:"personalization_context"`
	CreatedAt              time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`

	Campaign *Campaign  `gorm:"foreignKey:CampaignID;references:ID" json:"campaign,omitempty"`
	Progress []Progress `gorm:"foreignKey:EnrollmentID;references:ID" json:"progress,omitempty"`

	IsExpired       bool `gorm:"-" json:"is_expired"`
	DaysRemaining   int  `gorm:"-" json:"days_remaining"`
	OverallProgress int  `gorm:"-" json:"overall_progress"`
}

func (Enrollment) TableName() string { return "campaign_enrollments" }

func (e *Enrollment) decorate(now time.Time) {
	open := !e.Status.Terminal()
	e.IsExpired = open && !now.Before(e.DeadlineAt)
	e.DaysRemaining = 0
	if open {
		e.DaysRemaining = lifecycle.DaysRemaining(e.DeadlineAt, now)
	}
	e.OverallProgress = lifecycle.CompletionPercent(e.Progress)
}

// Progress is one materialized criterion of an enrollment together with its
// tracking state.
type Progress struct {
	ID                  string                    `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	EnrollmentID        string                    `gorm:"column:enrollment_id;type:varchar(32);not null;uniqueIndex:idx_progress_criterion" json:"enrollment_id"`
	TemplateCriterionID string                    `gorm:"column:template_criterion_id;type:varchar(32);not null;uniqueIndex:idx_progress_criterion" json:"template_criterion_id"`
	Label               string                    `gorm:"column:label;type:varchar(500);not null" json:"label"`
	Description         *string                   `gorm:"column:description;type:text" json:"description,omitempty"`
	CriteriaType        CriteriaType              `gorm:"column:criteria_type;type:varchar(16);not null" json:"criteria_type"`
	TrackingSource      TrackingSource            `gorm:"column:tracking_source;type:varchar(32);not null;index" json:"tracking_source"`
	TrackingConfig      datatypes.JSON            `gorm:"column:tracking_config;type:jsonb" json:"tracking_config"`
	TargetValue         *string                   `gorm:"column:target_value;type:varchar(255)" json:"target_value,omitempty"`
	Required            bool                      `gorm:"column:required;not null" json:"required"`
	DisplayOrder        int                       `gorm:"column:display_order;not null" json:"display_order"`
	Status              lifecycle.MilestoneStatus `gorm:"column:status;type:varchar(20);not null" json:"status"`
	ProgressValue       int                       `gorm:"column:progress_value;not null" json:"progress_value"`
	CurrentValue        *string                   `gorm:"column:current_value;type:varchar(255)" json:"current_value,omitempty"`
	AutoTracked         bool                      `gorm:"column:auto_tracked;not null" json:"auto_tracked"`
	AutoSourceRef       *string                   `gorm:"column:auto_source_ref;type:varchar(255)" json:"auto_source_ref,omitempty"`
	ClientEvidence      *string                   `gorm:"column:client_evidence;type:text" json:"client_evidence,omitempty"`
	ClientSubmittedAt   *time.Time                `gorm:"column:client_submitted_at" json:"client_submitted_at,omitempty"`
	AdminVerifiedBy     *string                   `gorm:"column:admin_verified_by;type:varchar(64)" json:"admin_verified_by,omitempty"`
	AdminVerifiedAt     *time.Time                `gorm:"column:admin_verified_at" json:"admin_verified_at,omitempty"`
	AdminNotes          *string                   `gorm:"column:admin_notes;type:text" json:"admin_notes,omitempty"`
	CreatedAt           time.Time                 `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time                 `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Progress) TableName() string { return "campaign_progress" }

func (p Progress) IsRequired() bool                         { return p.Required }
func (p Progress) CurrentStatus() lifecycle.MilestoneStatus { return p.Status }

func Models() []any {
	return []any{&Campaign{}, &CriteriaTemplate{}, &Enrollment{}, &Progress{}}
}
