package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"clientops-controlplane/pkg/celengine"
	"clientops-controlplane/pkg/db/option"
	"clientops-controlplane/pkg/errutil"
	"clientops-controlplane/pkg/featureflags"
	"clientops-controlplane/pkg/logger"
	"clientops-controlplane/pkg/metrics"
	"clientops-controlplane/pkg/payout"
	"clientops-controlplane/pkg/repository"
	"clientops-controlplane/pkg/sequence"
	"clientops-controlplane/pkg/task"
	"clientops-controlplane/pkg/validation"
	"clientops-controlplane/services/continuity"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("clientops-controlplane/services/campaign")

const defaultCompletionWindowDays = 90

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	seq   sequence.Generator
	enq   task.Enqueuer
	flags featureflags.FeatureFlag
	plans continuity.PlanReader
	now   func() time.Time

	campaign   repository.Repository[Campaign]
	criteria   repository.Repository[CriteriaTemplate]
	enrollment repository.Repository[Enrollment]
	progress   repository.Repository[Progress]
}

type ServiceParams struct {
	fx.In

	DB      *gorm.DB
	Node    *snowflake.Node
	Seq     sequence.Generator
	Enqueue task.Enqueuer            `optional:"true"`
	Flags   featureflags.FeatureFlag `optional:"true"`
	Plans   continuity.PlanReader    `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:         p.DB,
		node:       p.Node,
		seq:        p.Seq,
		enq:        p.Enqueue,
		flags:      p.Flags,
		plans:      p.Plans,
		now:        time.Now,
		campaign:   repository.ProvideStore[Campaign](p.DB),
		criteria:   repository.ProvideStore[CriteriaTemplate](p.DB),
		enrollment: repository.ProvideStore[Enrollment](p.DB),
		progress:   repository.ProvideStore[Progress](p.DB),
	}
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func sameEmail(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// orderedBy preloads an association sorted by column.
func orderedBy(association, column string) option.QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Preload(association, func(tx *gorm.DB) *gorm.DB {
			return tx.Order(column)
		})
	}
}

// ========================================================
// Campaigns
// ========================================================

func checkPayoutConfig(amountType payout.AmountType, value *float64, payoutType payout.Type, planID *string) error {
	if amountType == payout.AmountFixed && value == nil {
		return errutil.Field("payout_amount_value", "is required for a fixed payout")
	}
	if amountType == payout.AmountPercentage && value != nil && *value > 100 {
		return errutil.Field("payout_amount_value", "must not exceed 100 for a percentage payout")
	}
	if payoutType == payout.RolloverContinuity && (planID == nil || *planID == "") {
		return errutil.Field("rollover_continuity_plan_id", "is required when the payout is rollover_continuity")
	}
	return nil
}

func (s *Service) resolveSlug(raw, name string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		v = slug.Make(name)
	}
	if !slugPattern.MatchString(v) {
		return "", errutil.Field("slug", "must be lowercase words separated by single hyphens")
	}
	return v, nil
}

func (s *Service) slugTaken(ctx context.Context, value, exceptID string) (bool, error) {
	existing, err := s.campaign.FindOne(ctx, &Campaign{Slug: value})
	if err != nil {
		return false, err
	}
	return existing != nil && existing.ID != exceptID, nil
}

func (s *Service) CreateCampaign(ctx context.Context, adminID string, req CreateCampaignRequest) (*Campaign, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if err := checkPayoutConfig(req.PayoutAmountType, req.PayoutAmountValue, req.PayoutType, req.RolloverContinuityPlanID); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	value, err := s.resolveSlug(req.Slug, name)
	if err != nil {
		return nil, err
	}
	taken, err := s.slugTaken(ctx, value, "")
	if err != nil {
		logger.FromContext(ctx).Error("failed to check campaign slug", zap.Error(err))
		return nil, errutil.Internal("failed to create campaign", err)
	}
	if taken {
		return nil, errutil.Conflict("A campaign with this slug already exists", nil)
	}

	code, err := s.seq.NextCampaignCode(ctx)
	if err != nil {
		logger.FromContext(ctx).Error("failed to issue campaign code", zap.Error(err))
		return nil, errutil.Internal("failed to create campaign", err)
	}

	window := defaultCompletionWindowDays
	if req.CompletionWindowDays != nil {
		window = *req.CompletionWindowDays
	}
	multiplier := 1.0
	if req.RolloverBonusMultiplier != nil {
		multiplier = *req.RolloverBonusMultiplier
	}

	c := &Campaign{
		ID:                       s.node.Generate().String(),
		Code:                     code,
		Name:                     name,
		Slug:                     value,
		Description:              req.Description,
		CampaignType:             req.CampaignType,
		Status:                   CampaignDraft,
		StartsAt:                 req.StartsAt,
		EndsAt:                   req.EndsAt,
		EnrollmentDeadline:       req.EnrollmentDeadline,
		CompletionWindowDays:     window,
		MinPurchaseAmount:        req.MinPurchaseAmount,
		PayoutType:               req.PayoutType,
		PayoutAmountType:         req.PayoutAmountType,
		PayoutAmountValue:        req.PayoutAmountValue,
		RolloverBonusMultiplier:  multiplier,
		RolloverContinuityPlanID: req.RolloverContinuityPlanID,
		PromoCopy:                req.PromoCopy,
		CreatedBy:                adminID,
	}

	if err := s.campaign.Create(ctx, c); err != nil {
		logger.FromContext(ctx).Error("failed to create campaign", zap.Error(err))
		return nil, errutil.Internal("failed to create campaign", err)
	}
	return c, nil
}

func (s *Service) UpdateCampaign(ctx context.Context, id string, req UpdateCampaignRequest) (*Campaign, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	current, err := s.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if req.Name != nil {
		updates["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Slug != nil {
		value, err := s.resolveSlug(*req.Slug, current.Name)
		if err != nil {
			return nil, err
		}
		taken, err := s.slugTaken(ctx, value, id)
		if err != nil {
			logger.FromContext(ctx).Error("failed to check campaign slug", zap.Error(err))
			return nil, errutil.Internal("failed to update campaign", err)
		}
		if taken {
			return nil, errutil.Conflict("A campaign with this slug already exists", nil)
		}
		updates["slug"] = value
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.StartsAt != nil {
		updates["starts_at"] = *req.StartsAt
	}
	if req.EndsAt != nil {
		updates["ends_at"] = *req.EndsAt
	}
	if req.EnrollmentDeadline != nil {
		updates["enrollment_deadline"] = *req.EnrollmentDeadline
	}
	if req.CompletionWindowDays != nil {
		updates["completion_window_days"] = *req.CompletionWindowDays
	}
	if req.MinPurchaseAmount != nil {
		updates["min_purchase_amount"] = *req.MinPurchaseAmount
	}
	if req.PromoCopy != nil {
		updates["promo_copy"] = *req.PromoCopy
	}
	if req.RolloverBonusMultiplier != nil {
		updates["rollover_bonus_multiplier"] = *req.RolloverBonusMultiplier
	}

	payoutType := current.PayoutType
	if req.PayoutType != nil {
		payoutType = *req.PayoutType
		updates["payout_type"] = payoutType
	}
	amountType := current.PayoutAmountType
	if req.PayoutAmountType != nil {
		amountType = *req.PayoutAmountType
		updates["payout_amount_type"] = amountType
	}
	amountValue := current.PayoutAmountValue
	if req.PayoutAmountValue != nil {
		amountValue = req.PayoutAmountValue
		updates["payout_amount_value"] = *req.PayoutAmountValue
	}
	planID := current.RolloverContinuityPlanID
	if req.RolloverContinuityPlanID != nil {
		planID = req.RolloverContinuityPlanID
		updates["rollover_continuity_plan_id"] = *req.RolloverContinuityPlanID
	}
	if err := checkPayoutConfig(amountType, amountValue, payoutType, planID); err != nil {
		return nil, err
	}

	if len(updates) > 0 {
		if err := s.campaign.Update(ctx, id, &updates); err != nil {
			logger.FromContext(ctx).Error("failed to update campaign", zap.String("campaign_id", id), zap.Error(err))
			return nil, errutil.Internal("failed to update campaign", err)
		}
	}
	return s.GetCampaign(ctx, id)
}

func (s *Service) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	c, err := s.campaign.FindOne(ctx, &Campaign{ID: id}, orderedBy("Criteria", "display_order"))
	if err != nil {
		logger.FromContext(ctx).Error("failed to get campaign", zap.String("campaign_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to get campaign", err)
	}
	if c == nil {
		return nil, errutil.NotFound("campaign not found", nil)
	}
	return c, nil
}

func (s *Service) ListCampaigns(ctx context.Context, req ListCampaignsRequest) ([]*Campaign, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	items, err := s.campaign.Find(ctx, &Campaign{Status: req.Status, CampaignType: req.CampaignType},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to list campaigns", zap.Error(err))
		return nil, errutil.Internal("failed to list campaigns", err)
	}
	return items, nil
}

// CloneCampaign copies a campaign and its criteria into a new draft.
func (s *Service) CloneCampaign(ctx context.Context, adminID, id string, req CloneCampaignRequest) (*Campaign, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	src, err := s.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}

	name := src.Name + " (Copy)"
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
	}

	var value string
	if req.Slug != nil {
		value, err = s.resolveSlug(*req.Slug, name)
		if err != nil {
			return nil, err
		}
		taken, err := s.slugTaken(ctx, value, "")
		if err != nil {
			return nil, errutil.Internal("failed to clone campaign", err)
		}
		if taken {
			return nil, errutil.Conflict("A campaign with this slug already exists", nil)
		}
	} else {
		value, err = s.freeSlug(ctx, src.Slug+"-copy")
		if err != nil {
			logger.FromContext(ctx).Error("failed to check campaign slug", zap.Error(err))
			return nil, errutil.Internal("failed to clone campaign", err)
		}
	}

	code, err := s.seq.NextCampaignCode(ctx)
	if err != nil {
		logger.FromContext(ctx).Error("failed to issue campaign code", zap.Error(err))
		return nil, errutil.Internal("failed to clone campaign", err)
	}

	clone := *src
	clone.ID = s.node.Generate().String()
	clone.Code = code
	clone.Name = name
	clone.Slug = value
	clone.Status = CampaignDraft
	clone.CreatedBy = adminID
	clone.CreatedAt = time.Time{}
	clone.UpdatedAt = time.Time{}
	clone.Criteria = nil

	criteria := make([]*CriteriaTemplate, 0, len(src.Criteria))
	for i := range src.Criteria {
		c := src.Criteria[i]
		c.ID = s.node.Generate().String()
		c.CampaignID = clone.ID
		c.CreatedAt = time.Time{}
		c.UpdatedAt = time.Time{}
		criteria = append(criteria, &c)
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Criteria").Create(&clone).Error; err != nil {
			return err
		}
		if len(criteria) == 0 {
			return nil
		}
		return s.criteria.WithTrx(tx).BatchCreate(ctx, criteria)
	}); err != nil {
		logger.FromContext(ctx).Error("failed to clone campaign", zap.String("campaign_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to clone campaign", err)
	}

	return s.GetCampaign(ctx, clone.ID)
}

func (s *Service) freeSlug(ctx context.Context, base string) (string, error) {
	candidate := base
	for i := 2; ; i++ {
		taken, err := s.slugTaken(ctx, candidate, "")
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

// ChangeStatus moves the campaign definition along its status table. The
// write is guarded on the status that was read.
func (s *Service) ChangeStatus(ctx context.Context, id string, req ChangeStatusRequest) (*Campaign, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	c, err := s.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := TransitionCampaign(c.Status, req.Status); err != nil {
		metrics.Rejected("campaign", string(req.Status), string(c.Status))
		return nil, errutil.Conflict(err.Error(), err)
	}

	res := s.db.WithContext(ctx).Model(&Campaign{}).
		Where("id = ? AND status = ?", id, c.Status).
		Update("status", req.Status)
	if res.Error != nil {
		logger.FromContext(ctx).Error("failed to change campaign status", zap.String("campaign_id", id), zap.Error(res.Error))
		return nil, errutil.Internal("failed to change campaign status", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, errutil.Conflict("campaign status changed concurrently", nil)
	}

	metrics.Transition("campaign", string(c.Status), string(req.Status))
	return s.GetCampaign(ctx, id)
}

// ========================================================
// Criteria templates
// ========================================================

func encodeTrackingConfig(tc TrackingConfig) ([]byte, error) {
	if err := celengine.ValidateExpression(tc.Match); err != nil {
		return nil, errutil.Field("tracking_config.match", err.Error())
	}
	return json.Marshal(tc)
}

func (s *Service) CreateCriterion(ctx context.Context, campaignID string, req CriterionInput) (*CriteriaTemplate, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}

	cfg, err := encodeTrackingConfig(req.TrackingConfig)
	if err != nil {
		return nil, err
	}

	order := 0
	if req.DisplayOrder != nil {
		order = *req.DisplayOrder
	} else {
		last := -1
		if err := s.db.WithContext(ctx).Model(&CriteriaTemplate{}).
			Where("campaign_id = ?", campaignID).
			Select("COALESCE(MAX(display_order), -1)").Scan(&last).Error; err != nil {
			logger.FromContext(ctx).Error("failed to read criteria order", zap.String("campaign_id", campaignID), zap.Error(err))
			return nil, errutil.Internal("failed to create criterion", err)
		}
		order = last + 1
	}

	required := true
	if req.Required != nil {
		required = *req.Required
	}

	c := &CriteriaTemplate{
		ID:                  s.node.Generate().String(),
		CampaignID:          campaignID,
		LabelTemplate:       strings.TrimSpace(req.LabelTemplate),
		DescriptionTemplate: req.DescriptionTemplate,
		CriteriaType:        req.CriteriaType,
		TrackingSource:      req.TrackingSource,
		TrackingConfig:      cfg,
		ThresholdSource:     req.ThresholdSource,
		ThresholdDefault:    req.ThresholdDefault,
		Required:            required,
		DisplayOrder:        order,
	}
	if err := s.criteria.Create(ctx, c); err != nil {
		logger.FromContext(ctx).Error("failed to create criterion", zap.String("campaign_id", campaignID), zap.Error(err))
		return nil, errutil.Internal("failed to create criterion", err)
	}
	return c, nil
}

func (s *Service) findCriterion(ctx context.Context, campaignID, id string) (*CriteriaTemplate, error) {
	c, err := s.criteria.FindOne(ctx, &CriteriaTemplate{ID: id, CampaignID: campaignID})
	if err != nil {
		logger.FromContext(ctx).Error("failed to get criterion", zap.String("criterion_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to get criterion", err)
	}
	if c == nil {
		return nil, errutil.NotFound("criterion not found", nil)
	}
	return c, nil
}

// UpdateCriterion edits a criterion template. Progress rows already
// materialized from it keep their snapshot.
func (s *Service) UpdateCriterion(ctx context.Context, campaignID, id string, req UpdateCriterionRequest) (*CriteriaTemplate, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if _, err := s.findCriterion(ctx, campaignID, id); err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if req.LabelTemplate != nil {
		updates["label_template"] = strings.TrimSpace(*req.LabelTemplate)
	}
	if req.DescriptionTemplate != nil {
		updates["description_template"] = *req.DescriptionTemplate
	}
	if req.CriteriaType != nil {
		updates["criteria_type"] = *req.CriteriaType
	}
	if req.TrackingSource != nil {
		updates["tracking_source"] = *req.TrackingSource
	}
	if req.TrackingConfig != nil {
		cfg, err := encodeTrackingConfig(*req.TrackingConfig)
		if err != nil {
			return nil, err
		}
		updates["tracking_config"] = cfg
	}
	if req.ThresholdSource != nil {
		updates["threshold_source"] = *req.ThresholdSource
	}
	if req.ThresholdDefault != nil {
		updates["threshold_default"] = *req.ThresholdDefault
	}
	if req.Required != nil {
		updates["required"] = *req.Required
	}
	if req.DisplayOrder != nil {
		updates["display_order"] = *req.DisplayOrder
	}

	if len(updates) > 0 {
		if err := s.criteria.Update(ctx, id, &updates); err != nil {
			logger.FromContext(ctx).Error("failed to update criterion", zap.String("criterion_id", id), zap.Error(err))
			return nil, errutil.Internal("failed to update criterion", err)
		}
	}
	return s.findCriterion(ctx, campaignID, id)
}

func (s *Service) ListCriteria(ctx context.Context, campaignID string) ([]*CriteriaTemplate, error) {
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	items, err := s.criteria.Find(ctx, &CriteriaTemplate{CampaignID: campaignID}, func(db *gorm.DB) *gorm.DB {
		return db.Order("display_order")
	})
	if err != nil {
		logger.FromContext(ctx).Error("failed to list criteria", zap.String("campaign_id", campaignID), zap.Error(err))
		return nil, errutil.Internal("failed to list criteria", err)
	}
	return items, nil
}

func (s *Service) DeleteCriterion(ctx context.Context, campaignID, id string) error {
	if _, err := s.findCriterion(ctx, campaignID, id); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&CriteriaTemplate{}).Error; err != nil {
		logger.FromContext(ctx).Error("failed to delete criterion", zap.String("criterion_id", id), zap.Error(err))
		return errutil.Internal("failed to delete criterion", err)
	}
	return nil
}
