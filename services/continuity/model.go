package continuity

import "time"

type BillingInterval string

const (
	IntervalWeek    BillingInterval = "week"
	IntervalMonth   BillingInterval = "month"
	IntervalQuarter BillingInterval = "quarter"
	IntervalYear    BillingInterval = "year"
)

// Plan is a recurring billing plan that rollover-to-continuity payouts are
// credited against.
type Plan struct {
	ID                   string          `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Name                 string          `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Description          string          `gorm:"column:description;type:text" json:"description"`
	BillingInterval      BillingInterval `gorm:"column:billing_interval;type:varchar(16);not null;default:'month'" json:"billing_interval"`
	BillingIntervalCount int             `gorm:"column:billing_interval_count;not null;default:1" json:"billing_interval_count"`
	AmountPerInterval    float64         `gorm:"column:amount_per_interval;not null" json:"amount_per_interval"`
	Currency             string          `gorm:"column:currency;type:varchar(8);not null;default:'usd'" json:"currency"`
	TrialDays            int             `gorm:"column:trial_days;not null;default:0" json:"trial_days"`
	IsActive             bool            `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt            time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Plan) TableName() string { return "continuity_plans" }

func Models() []any {
	return []any{&Plan{}}
}
