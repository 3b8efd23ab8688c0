package continuity

import (
	"context"
	"strings"

	"clientops-controlplane/pkg/db/option"
	"clientops-controlplane/pkg/errutil"
	"clientops-controlplane/pkg/repository"
	"clientops-controlplane/pkg/validation"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PlanReader is the read side other services depend on.
type PlanReader interface {
	GetPlan(ctx context.Context, id string) (*Plan, error)
}

type Service struct {
	node *snowflake.Node
	plan repository.Repository[Plan]
}

type ServiceParams struct {
	fx.In

	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		node: p.Node,
		plan: repository.ProvideStore[Plan](p.DB),
	}
}

type CreatePlanRequest struct {
	Name                 string          `json:"name" validate:"notblank,max=255"`
	Description          string          `json:"description"`
	BillingInterval      BillingInterval `json:"billing_interval" validate:"required,oneof=week month quarter year"`
	BillingIntervalCount int             `json:"billing_interval_count" validate:"omitempty,gte=1"`
	AmountPerInterval    float64         `json:"amount_per_interval" validate:"gt=0"`
	Currency             string          `json:"currency" validate:"omitempty,len=3"`
	TrialDays            int             `json:"trial_days" validate:"gte=0"`
}

type UpdatePlanRequest struct {
	Name              *string  `json:"name" validate:"omitempty,notblank,max=255"`
	Description       *string  `json:"description"`
	AmountPerInterval *float64 `json:"amount_per_interval" validate:"omitempty,gt=0"`
	IsActive          *bool    `json:"is_active"`
}

func (s *Service) CreatePlan(ctx context.Context, req CreatePlanRequest) (*Plan, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	count := req.BillingIntervalCount
	if count == 0 {
		count = 1
	}
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = "usd"
	}

	p := &Plan{
		ID:                   s.node.Generate().String(),
		Name:                 strings.TrimSpace(req.Name),
		Description:          req.Description,
		BillingInterval:      req.BillingInterval,
		BillingIntervalCount: count,
		AmountPerInterval:    req.AmountPerInterval,
		Currency:             currency,
		TrialDays:            req.TrialDays,
		IsActive:             true,
	}

	if err := s.plan.Create(ctx, p); err != nil {
		zap.L().Error("failed to create continuity plan", zap.Error(err))
		return nil, errutil.Internal("failed to create continuity plan", err)
	}

	return p, nil
}

func (s *Service) UpdatePlan(ctx context.Context, id string, req UpdatePlanRequest) (*Plan, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	if _, err := s.GetPlan(ctx, id); err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if req.Name != nil {
		updates["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.AmountPerInterval != nil {
		updates["amount_per_interval"] = *req.AmountPerInterval
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if len(updates) > 0 {
		if err := s.plan.Update(ctx, id, &updates); err != nil {
			zap.L().Error("failed to update continuity plan", zap.String("plan_id", id), zap.Error(err))
			return nil, errutil.Internal("failed to update continuity plan", err)
		}
	}

	return s.GetPlan(ctx, id)
}

func (s *Service) GetPlan(ctx context.Context, id string) (*Plan, error) {
	p, err := s.plan.FindOne(ctx, &Plan{ID: id})
	if err != nil {
		zap.L().Error("failed to get continuity plan", zap.String("plan_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to get continuity plan", err)
	}
	if p == nil {
		return nil, errutil.NotFound("continuity plan not found", nil)
	}
	return p, nil
}

func (s *Service) ListPlans(ctx context.Context, activeOnly bool) ([]*Plan, error) {
	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: "amount_per_interval", OrderBy: "asc", Allow: map[string]bool{"amount_per_interval": true}}),
	}
	if activeOnly {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "is_active", Operator: option.EQ, Value: true}))
	}

	plans, err := s.plan.Find(ctx, &Plan{}, opts...)
	if err != nil {
		zap.L().Error("failed to list continuity plans", zap.Error(err))
		return nil, errutil.Internal("failed to list continuity plans", err)
	}
	return plans, nil
}
