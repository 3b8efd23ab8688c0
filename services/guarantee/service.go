package guarantee

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"clientops-controlplane/pkg/db/option"
	"clientops-controlplane/pkg/db/pagination"
	"clientops-controlplane/pkg/errutil"
	"clientops-controlplane/pkg/lifecycle"
	"clientops-controlplane/pkg/logger"
	"clientops-controlplane/pkg/metrics"
	"clientops-controlplane/pkg/minio"
	"clientops-controlplane/pkg/payout"
	"clientops-controlplane/pkg/repository"
	"clientops-controlplane/pkg/sequence"
	"clientops-controlplane/pkg/task"
	"clientops-controlplane/pkg/validation"
	"clientops-controlplane/services/continuity"
	"clientops-controlplane/services/notification"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("clientops-controlplane/services/guarantee")

// ========================================================
// Service Definition
// ========================================================

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	seq     sequence.Generator
	enq     task.Enqueuer
	plans   continuity.PlanReader
	storage minio.Storage
	now     func() time.Time

	template  repository.Repository[Template]
	instance  repository.Repository[Instance]
	milestone repository.Repository[Milestone]
}

type ServiceParams struct {
	fx.In

	DB      *gorm.DB
	Node    *snowflake.Node
	Seq     sequence.Generator
	Enqueue task.Enqueuer         `optional:"true"`
	Plans   continuity.PlanReader `optional:"true"`
	Storage minio.Storage         `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		seq:       p.Seq,
		enq:       p.Enqueue,
		plans:     p.Plans,
		storage:   p.Storage,
		now:       time.Now,
		template:  repository.ProvideStore[Template](p.DB),
		instance:  repository.ProvideStore[Instance](p.DB),
		milestone: repository.ProvideStore[Milestone](p.DB),
	}
}

func sameEmail(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ========================================================
// Templates
// ========================================================

func buildConditions(in []ConditionInput) ([]Condition, error) {
	seen := make(map[string]bool, len(in))
	out := make([]Condition, 0, len(in))
	for i, c := range in {
		id := strings.TrimSpace(c.ID)
		if seen[id] {
			return nil, errutil.Field(fmt.Sprintf("conditions[%d].id", i), "must be unique within the template")
		}
		seen[id] = true

		required := true
		if c.Required != nil {
			required = *c.Required
		}
		out = append(out, Condition{
			ID:                 id,
			Label:              strings.TrimSpace(c.Label),
			VerificationMethod: c.VerificationMethod,
			Required:           required,
			TargetValue:        c.TargetValue,
		})
	}
	return out, nil
}

func checkPayoutConfig(amountType payout.AmountType, value *float64, defaultType payout.Type, planID *string) error {
	if amountType == payout.AmountFixed && value == nil {
		return errutil.Field("payout_amount_value", "is required for a fixed payout")
	}
	if amountType == payout.AmountPercentage && value != nil && *value > 100 {
		return errutil.Field("payout_amount_value", "must not exceed 100 for a percentage payout")
	}
	if defaultType == payout.RolloverContinuity && (planID == nil || *planID == "") {
		return errutil.Field("rollover_continuity_plan_id", "is required when the default payout is rollover_continuity")
	}
	return nil
}

func (s *Service) CreateTemplate(ctx context.Context, adminID string, req CreateTemplateRequest) (*Template, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	conditions, err := buildConditions(req.Conditions)
	if err != nil {
		return nil, err
	}
	if req.GuaranteeType == Conditional && len(conditions) == 0 {
		return nil, errutil.Field("conditions", "a conditional guarantee needs at least one condition")
	}
	if err := checkPayoutConfig(req.PayoutAmountType, req.PayoutAmountValue, req.DefaultPayoutType, req.RolloverContinuityPlanID); err != nil {
		return nil, err
	}

	condJSON, err := json.Marshal(conditions)
	if err != nil {
		return nil, errutil.Internal("failed to create guarantee template", err)
	}
	upsellIDs := req.RolloverUpsellServiceIDs
	if upsellIDs == nil {
		upsellIDs = []string{}
	}
	upsellJSON, err := json.Marshal(upsellIDs)
	if err != nil {
		return nil, errutil.Internal("failed to create guarantee template", err)
	}

	multiplier := 1.0
	if req.RolloverBonusMultiplier != nil {
		multiplier = *req.RolloverBonusMultiplier
	}

	t := &Template{
		ID:                       s.node.Generate().String(),
		Name:                     strings.TrimSpace(req.Name),
		Description:              req.Description,
		GuaranteeType:            req.GuaranteeType,
		DurationDays:             req.DurationDays,
		Conditions:               condJSON,
		DefaultPayoutType:        req.DefaultPayoutType,
		PayoutAmountType:         req.PayoutAmountType,
		PayoutAmountValue:        req.PayoutAmountValue,
		RolloverUpsellServiceIDs: upsellJSON,
		RolloverContinuityPlanID: req.RolloverContinuityPlanID,
		RolloverBonusMultiplier:  multiplier,
		IsActive:                 true,
		CreatedBy:                adminID,
	}

	if err := s.template.Create(ctx, t); err != nil {
		logger.FromContext(ctx).Error("failed to create guarantee template", zap.Error(err))
		return nil, errutil.Internal("failed to create guarantee template", err)
	}

	return t, nil
}

// UpdateTemplate edits a template. Existing instances keep their condition
// snapshot and are not affected.
func (s *Service) UpdateTemplate(ctx context.Context, id string, req UpdateTemplateRequest) (*Template, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	current, err := s.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if req.Name != nil {
		updates["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.DurationDays != nil {
		updates["duration_days"] = *req.DurationDays
	}
	if req.Conditions != nil {
		conditions, err := buildConditions(*req.Conditions)
		if err != nil {
			return nil, err
		}
		if current.GuaranteeType == Conditional && len(conditions) == 0 {
			return nil, errutil.Field("conditions", "a conditional guarantee needs at least one condition")
		}
		b, err := json.Marshal(conditions)
		if err != nil {
			return nil, errutil.Internal("failed to update guarantee template", err)
		}
		updates["conditions"] = b
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
	defaultType := current.DefaultPayoutType
	if req.DefaultPayoutType != nil {
		defaultType = *req.DefaultPayoutType
		updates["default_payout_type"] = defaultType
	}
	planID := current.RolloverContinuityPlanID
	if req.RolloverContinuityPlanID != nil {
		planID = req.RolloverContinuityPlanID
		updates["rollover_continuity_plan_id"] = *req.RolloverContinuityPlanID
	}
	if err := checkPayoutConfig(amountType, amountValue, defaultType, planID); err != nil {
		return nil, err
	}
	if req.RolloverBonusMultiplier != nil {
		updates["rollover_bonus_multiplier"] = *req.RolloverBonusMultiplier
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if len(updates) > 0 {
		if err := s.template.Update(ctx, id, &updates); err != nil {
			logger.FromContext(ctx).Error("failed to update guarantee template", zap.String("template_id", id), zap.Error(err))
			return nil, errutil.Internal("failed to update guarantee template", err)
		}
	}

	return s.GetTemplate(ctx, id)
}

func (s *Service) GetTemplate(ctx context.Context, id string) (*Template, error) {
	t, err := s.template.FindOne(ctx, &Template{ID: id})
	if err != nil {
		logger.FromContext(ctx).Error("failed to get guarantee template", zap.String("template_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to get guarantee template", err)
	}
	if t == nil {
		return nil, errutil.NotFound("guarantee template not found", nil)
	}
	return t, nil
}

func (s *Service) ListTemplates(ctx context.Context, req ListTemplatesRequest) ([]*Template, error) {
	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
	}
	if req.ActiveOnly {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "is_active", Value: true}))
	}

	templates, err := s.template.Find(ctx, &Template{}, opts...)
	if err != nil {
		logger.FromContext(ctx).Error("failed to list guarantee templates", zap.Error(err))
		return nil, errutil.Internal("failed to list guarantee templates", err)
	}
	return templates, nil
}

// ========================================================
// Instances
// ========================================================

// CreateInstance attaches a guarantee to a purchase and materializes one
// milestone per template condition, all inside one transaction.
func (s *Service) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*Instance, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	tmpl, err := s.GetTemplate(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}
	if !tmpl.IsActive {
		return nil, errutil.UnprocessableEntity("guarantee template is not active", nil)
	}

	conditions, err := tmpl.ParseConditions()
	if err != nil {
		logger.FromContext(ctx).Error("failed to decode template conditions", zap.String("template_id", tmpl.ID), zap.Error(err))
		return nil, errutil.Internal("failed to create guarantee", err)
	}

	startsAt := s.now().UTC()
	if req.StartsAt != nil {
		startsAt = req.StartsAt.UTC()
	}
	payoutType := tmpl.DefaultPayoutType
	if req.PayoutType != nil {
		payoutType = *req.PayoutType
	}

	inst := &Instance{
		ID:                 s.node.Generate().String(),
		TemplateID:         tmpl.ID,
		OrderID:            req.OrderID,
		ClientEmail:        normalizeEmail(req.ClientEmail),
		ClientName:         strings.TrimSpace(req.ClientName),
		UserID:             req.UserID,
		PurchaseAmount:     req.PurchaseAmount,
		PayoutType:         payoutType,
		Status:             StatusActive,
		ConditionsSnapshot: tmpl.Conditions,
		StartsAt:           startsAt,
		ExpiresAt:          lifecycle.WindowEnd(startsAt, tmpl.DurationDays),
	}

	milestones := make([]*Milestone, 0, len(conditions))
	for _, c := range conditions {
		milestones = append(milestones, &Milestone{
			ID:             s.node.Generate().String(),
			InstanceID:     inst.ID,
			ConditionID:    c.ID,
			ConditionLabel: c.Label,
			Required:       c.Required,
			Status:         lifecycle.MilestoneNotMet,
			ProgressValue:  0,
			TargetValue:    c.TargetValue,
		})
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.instance.WithTrx(tx).Create(ctx, inst); err != nil {
			return err
		}
		return s.milestone.WithTrx(tx).BatchCreate(ctx, milestones)
	}); err != nil {
		logger.FromContext(ctx).Error("failed to create guarantee", zap.String("template_id", tmpl.ID), zap.Error(err))
		return nil, errutil.Internal("failed to create guarantee", err)
	}

	return s.GetInstance(ctx, inst.ID)
}

func (s *Service) loadInstance(ctx context.Context, id string) (*Instance, error) {
	inst, err := s.instance.FindOne(ctx, &Instance{ID: id}, option.WithPreload("Template", "Milestones"))
	if err != nil {
		logger.FromContext(ctx).Error("failed to get guarantee", zap.String("instance_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to get guarantee", err)
	}
	if inst == nil {
		return nil, errutil.NotFound("guarantee not found", nil)
	}
	return inst, nil
}

func (s *Service) GetInstance(ctx context.Context, id string) (*Instance, error) {
	inst, err := s.loadInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	inst.decorate(s.now())
	return inst, nil
}

// GetClientInstance returns the instance only to the client it belongs to.
func (s *Service) GetClientInstance(ctx context.Context, id string, req ClientAccess) (*Instance, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	inst, err := s.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sameEmail(inst.ClientEmail, req.ClientEmail) {
		return nil, errutil.Forbidden("email does not match guarantee record", nil)
	}
	return inst, nil
}

func (s *Service) ListInstances(ctx context.Context, req ListInstancesRequest) (*ListInstancesResult, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	query := &Instance{
		Status:      req.Status,
		ClientEmail: normalizeEmail(req.ClientEmail),
		TemplateID:  req.TemplateID,
	}

	total, err := s.instance.Count(ctx, query)
	if err != nil {
		logger.FromContext(ctx).Error("failed to count guarantees", zap.Error(err))
		return nil, errutil.Internal("failed to list guarantees", err)
	}

	page := req.Pagination.Normalize()
	items, err := s.instance.Find(ctx, query,
		option.WithPreload("Template", "Milestones"),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.ApplyPagination(page),
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to list guarantees", zap.Error(err))
		return nil, errutil.Internal("failed to list guarantees", err)
	}

	now := s.now()
	for _, it := range items {
		it.decorate(now)
	}

	return &ListInstancesResult{Data: items, PageInfo: pagination.BuildPageInfo(page, total)}, nil
}

// DeleteInstance is the explicit admin cleanup path; milestones go with it.
func (s *Service) DeleteInstance(ctx context.Context, id string) error {
	if _, err := s.loadInstance(ctx, id); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("instance_id = ?", id).Delete(&Milestone{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&Instance{}).Error
	}); err != nil {
		logger.FromContext(ctx).Error("failed to delete guarantee", zap.String("instance_id", id), zap.Error(err))
		return errutil.Internal("failed to delete guarantee", err)
	}
	return nil
}

// ========================================================
// Milestones
// ========================================================

func (s *Service) findMilestone(ctx context.Context, instanceID, conditionID string) (*Milestone, error) {
	m, err := s.milestone.FindOne(ctx, &Milestone{InstanceID: instanceID, ConditionID: conditionID})
	if err != nil {
		logger.FromContext(ctx).Error("failed to get milestone", zap.String("instance_id", instanceID), zap.Error(err))
		return nil, errutil.Internal("failed to get milestone", err)
	}
	if m == nil {
		return nil, errutil.NotFound("milestone not found", nil)
	}
	return m, nil
}

// clientMilestone runs the checks shared by every client-side milestone write:
// the instance exists, the email matches and the instance is still active.
func (s *Service) clientMilestone(ctx context.Context, instanceID, conditionID, email string) (*Instance, *Milestone, error) {
	inst, err := s.instance.FindOne(ctx, &Instance{ID: instanceID})
	if err != nil {
		logger.FromContext(ctx).Error("failed to get guarantee", zap.String("instance_id", instanceID), zap.Error(err))
		return nil, nil, errutil.Internal("failed to get guarantee", err)
	}
	if inst == nil {
		return nil, nil, errutil.NotFound("guarantee not found", nil)
	}
	if !sameEmail(inst.ClientEmail, email) {
		return nil, nil, errutil.Forbidden("email does not match guarantee record", nil)
	}
	if inst.Status != StatusActive {
		return nil, nil, errutil.Conflict(fmt.Sprintf("Cannot submit evidence for guarantee with status: %s", inst.Status), nil)
	}
	m, err := s.findMilestone(ctx, instanceID, conditionID)
	if err != nil {
		return nil, nil, err
	}
	return inst, m, nil
}

// SubmitEvidence records the client's evidence text. It never changes the
// milestone status; only an admin verification does.
func (s *Service) SubmitEvidence(ctx context.Context, instanceID, conditionID string, req SubmitEvidenceRequest) (*Milestone, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	_, m, err := s.clientMilestone(ctx, instanceID, conditionID, req.ClientEmail)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	evidence := strings.TrimSpace(req.ClientEvidence)
	updates := map[string]any{
		"client_evidence":     evidence,
		"client_submitted_at": now,
	}
	if req.CurrentValue != nil {
		updates["current_value"] = *req.CurrentValue
	}

	if err := s.milestone.Update(ctx, m.ID, &updates); err != nil {
		logger.FromContext(ctx).Error("failed to submit evidence", zap.String("milestone_id", m.ID), zap.Error(err))
		return nil, errutil.Internal("failed to submit evidence", err)
	}

	m.ClientEvidence = &evidence
	m.ClientSubmittedAt = &now
	if req.CurrentValue != nil {
		m.CurrentValue = req.CurrentValue
	}
	return m, nil
}

// EvidenceUploadURL hands the client a presigned PUT URL for an evidence file
// and records the object key on the milestone.
func (s *Service) EvidenceUploadURL(ctx context.Context, instanceID, conditionID string, req EvidenceUploadRequest) (*EvidenceUpload, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if s.storage == nil {
		return nil, errutil.NotImplemented("evidence uploads are not enabled", nil)
	}

	_, m, err := s.clientMilestone(ctx, instanceID, conditionID, req.ClientEmail)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("guarantees/%s/%s/%s-%s", instanceID, conditionID, s.node.Generate().String(), sanitizeFileName(req.FileName))
	u, expiresAt, err := s.storage.PresignUpload(ctx, key)
	if errors.Is(err, minio.ErrNotConfigured) {
		return nil, errutil.NotImplemented("evidence uploads are not enabled", err)
	}
	if err != nil {
		logger.FromContext(ctx).Error("failed to presign evidence upload", zap.String("milestone_id", m.ID), zap.Error(err))
		return nil, errutil.Internal("failed to create evidence upload", err)
	}

	if err := s.milestone.Update(ctx, m.ID, &map[string]any{"evidence_object_key": key}); err != nil {
		logger.FromContext(ctx).Error("failed to record evidence object", zap.String("milestone_id", m.ID), zap.Error(err))
		return nil, errutil.Internal("failed to create evidence upload", err)
	}

	return &EvidenceUpload{UploadURL: u.String(), ObjectKey: key, ExpiresAt: expiresAt}, nil
}

func sanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// VerifyMilestone records an admin verdict and then recomputes, from all
// milestones of the instance, whether it advances to conditions_met.
//
// Two verifications racing on sibling milestones can both read a stale set
// and neither advance; the next verification of any milestone corrects it.
func (s *Service) VerifyMilestone(ctx context.Context, adminID, instanceID, conditionID string, req VerifyMilestoneRequest) (*VerifyResult, error) {
	ctx, span := tracer.Start(ctx, "guarantee.VerifyMilestone")
	defer span.End()
	zapLog := logger.FromContext(ctx).With(zap.String("instance_id", instanceID), zap.String("condition_id", conditionID))

	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	inst, err := s.instance.FindOne(ctx, &Instance{ID: instanceID}, option.WithPreload("Template"))
	if err != nil {
		zapLog.Error("failed to get guarantee", zap.Error(err))
		return nil, errutil.Internal("failed to get guarantee", err)
	}
	if inst == nil {
		return nil, errutil.NotFound("guarantee not found", nil)
	}
	if inst.Status != StatusActive {
		return nil, errutil.Conflict(fmt.Sprintf("Cannot verify milestone for guarantee with status: %s", inst.Status), nil)
	}

	m, err := s.findMilestone(ctx, instanceID, conditionID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	updates := map[string]any{
		"status":         req.Status,
		"progress_value": req.Status.Progress(),
		"verified_by":    adminID,
		"verified_at":    now,
	}
	if req.AdminNotes != nil {
		updates["admin_notes"] = *req.AdminNotes
	}
	if req.CurrentValue != nil {
		updates["current_value"] = *req.CurrentValue
	}
	if err := s.milestone.Update(ctx, m.ID, &updates); err != nil {
		zapLog.Error("failed to verify milestone", zap.Error(err))
		return nil, errutil.Internal("failed to verify milestone", err)
	}

	m.Status = req.Status
	m.ProgressValue = req.Status.Progress()
	m.VerifiedBy = &adminID
	m.VerifiedAt = &now
	if req.AdminNotes != nil {
		m.AdminNotes = req.AdminNotes
	}
	if req.CurrentValue != nil {
		m.CurrentValue = req.CurrentValue
	}

	siblings, err := s.milestone.Find(ctx, &Milestone{InstanceID: instanceID})
	if err != nil {
		zapLog.Error("failed to reload milestones", zap.Error(err))
		return nil, errutil.Internal("failed to verify milestone", err)
	}

	result := &VerifyResult{Milestone: m, InstanceStatus: inst.Status}
	result.AllRequiredMet = lifecycle.AllRequiredMet(siblings)
	if !result.AllRequiredMet {
		return result, nil
	}

	to, advanced, err := s.apply(ctx, s.db, inst, EventConditionsMet, map[string]any{})
	if err != nil {
		return nil, err
	}
	result.InstanceStatus = to
	if advanced {
		zapLog.Info("guarantee conditions met")
		notification.Publish(ctx, s.enq, notification.Event{
			Event:       notification.GuaranteeConditionsMet,
			Entity:      "guarantee",
			EntityID:    inst.ID,
			ClientEmail: inst.ClientEmail,
			Status:      string(to),
			OccurredAt:  now,
		})
	}

	return result, nil
}

// ========================================================
// Resolution
// ========================================================

func guaranteeType(inst *Instance) GuaranteeType {
	if inst.Template != nil {
		return inst.Template.GuaranteeType
	}
	return Conditional
}

// apply performs a guarded status write: the row only changes if it is still
// in a state from which ev is legal. It reports whether this call made the
// change. An already-applied conditions_met advance is not an error.
func (s *Service) apply(ctx context.Context, db *gorm.DB, inst *Instance, ev Event, updates map[string]any) (Status, bool, error) {
	typ := guaranteeType(inst)
	to, err := Transition(inst.Status, ev, typ)
	if err != nil {
		if ev == EventConditionsMet && inst.Status == StatusConditionsMet {
			return inst.Status, false, nil
		}
		metrics.Rejected("guarantee", string(ev), string(inst.Status))
		return "", false, errutil.Conflict(err.Error(), err)
	}

	updates["status"] = to
	res := db.WithContext(ctx).
		Model(&Instance{}).
		Where("id = ? AND status IN ?", inst.ID, SourcesOf(ev, typ)).
		Updates(updates)
	if res.Error != nil {
		logger.FromContext(ctx).Error("failed to update guarantee status", zap.String("instance_id", inst.ID), zap.Error(res.Error))
		return "", false, errutil.Internal("failed to update guarantee", res.Error)
	}

	if res.RowsAffected == 0 {
		var current Instance
		if err := db.WithContext(ctx).Select("status").Where("id = ?", inst.ID).First(&current).Error; err != nil {
			return "", false, errutil.Internal("failed to update guarantee", err)
		}
		if ev == EventConditionsMet && current.Status == StatusConditionsMet {
			return current.Status, false, nil
		}
		metrics.Rejected("guarantee", string(ev), string(current.Status))
		terr := &lifecycle.TransitionError{Entity: "guarantee", Verb: verbs[ev], From: string(current.Status)}
		return "", false, errutil.Conflict(terr.Error(), terr)
	}

	metrics.Transition("guarantee", string(inst.Status), string(to))
	inst.Status = to
	return to, true, nil
}

// Resolve lets an admin void or expire a guarantee that has not been paid out.
func (s *Service) Resolve(ctx context.Context, adminID, id string, req ResolveRequest) (*Instance, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	inst, err := s.loadInstance(ctx, id)
	if err != nil {
		return nil, err
	}

	notes := fmt.Sprintf("Guarantee marked %s by admin.", req.Resolution)
	if req.Notes != nil && strings.TrimSpace(*req.Notes) != "" {
		notes = strings.TrimSpace(*req.Notes)
	}

	now := s.now().UTC()
	to, _, err := s.apply(ctx, s.db, inst, req.Resolution.event(), map[string]any{
		"resolved_at":      now,
		"resolution_notes": notes,
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("guarantee resolved", zap.String("instance_id", id), zap.String("status", string(to)), zap.String("admin_id", adminID))
	notification.Publish(ctx, s.enq, notification.Event{
		Event:       notification.GuaranteeResolved,
		Entity:      "guarantee",
		EntityID:    inst.ID,
		ClientEmail: inst.ClientEmail,
		Status:      string(to),
		OccurredAt:  now,
		Data:        map[string]any{"notes": notes},
	})

	return s.GetInstance(ctx, id)
}

const expiredNote = "Guarantee window expired with unmet conditions."

// Evaluate checks an active guarantee against its window and conditions. An
// expired window resolves the guarantee as expired; unmet required conditions
// are reported without any write; otherwise the guarantee is advanced to
// conditions_met and the payout it would receive is computed.
func (s *Service) Evaluate(ctx context.Context, adminID, id string) (*Evaluation, error) {
	inst, err := s.loadInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Status.Terminal() {
		return nil, errutil.Conflict(fmt.Sprintf("Cannot evaluate guarantee with status: %s", inst.Status), nil)
	}

	now := s.now().UTC()
	expired := !now.Before(inst.ExpiresAt)

	if expired && inst.Status == StatusActive {
		if _, _, err := s.apply(ctx, s.db, inst, EventExpire, map[string]any{
			"resolved_at":      now,
			"resolution_notes": expiredNote,
		}); err != nil {
			return nil, err
		}
		notification.Publish(ctx, s.enq, notification.Event{
			Event:       notification.GuaranteeResolved,
			Entity:      "guarantee",
			EntityID:    inst.ID,
			ClientEmail: inst.ClientEmail,
			Status:      string(StatusExpired),
			OccurredAt:  now,
			Data:        map[string]any{"notes": expiredNote, "evaluated_by": adminID},
		})
		fresh, err := s.GetInstance(ctx, id)
		if err != nil {
			return nil, err
		}
		return &Evaluation{Outcome: OutcomeExpired, Instance: fresh}, nil
	}

	pending := lifecycle.Outstanding(inst.Milestones)
	if guaranteeType(inst) == Conditional && len(pending) > 0 {
		inst.decorate(now)
		return &Evaluation{Outcome: OutcomePendingConditions, Instance: inst, PendingConditions: pending}, nil
	}

	if inst.Status == StatusActive && guaranteeType(inst) == Conditional {
		to, advanced, err := s.apply(ctx, s.db, inst, EventConditionsMet, map[string]any{})
		if err != nil {
			return nil, err
		}
		if advanced {
			notification.Publish(ctx, s.enq, notification.Event{
				Event:       notification.GuaranteeConditionsMet,
				Entity:      "guarantee",
				EntityID:    inst.ID,
				ClientEmail: inst.ClientEmail,
				Status:      string(to),
				OccurredAt:  now,
			})
		}
	}

	eval := &Evaluation{Outcome: OutcomeReady, Instance: inst, PayoutType: inst.PayoutType}
	if inst.Template != nil {
		amount, err := payout.Amount(inst.PurchaseAmount, inst.Template.PayoutTerms())
		if err != nil {
			return nil, errutil.UnprocessableEntity("guarantee template has an invalid payout configuration", err)
		}
		eval.PayoutAmount = &amount
		if inst.PayoutType.IsRollover() {
			credit := payout.RolloverCredit(amount, inst.Template.RolloverBonusMultiplier)
			eval.RolloverCredit = &credit
		}
	}
	inst.decorate(now)

	return eval, nil
}

// ResolvePayout moves a guarantee whose conditions are met (or an active
// unconditional guarantee) into the terminal state for the chosen payout.
func (s *Service) ResolvePayout(ctx context.Context, adminID, id string, req PayoutRequest) (*Instance, error) {
	ctx, span := tracer.Start(ctx, "guarantee.ResolvePayout")
	defer span.End()
	zapLog := logger.FromContext(ctx).With(zap.String("instance_id", id))

	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	inst, err := s.loadInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Template == nil {
		return nil, errutil.UnprocessableEntity("guarantee template no longer exists", nil)
	}

	payoutType := inst.PayoutType
	if req.PayoutType != nil {
		payoutType = *req.PayoutType
	}
	ev := payoutEvent(payoutType)

	if _, err := Transition(inst.Status, ev, inst.Template.GuaranteeType); err != nil {
		metrics.Rejected("guarantee", string(ev), string(inst.Status))
		return nil, errutil.Conflict(err.Error(), err)
	}

	amount, err := payout.Amount(inst.PurchaseAmount, inst.Template.PayoutTerms())
	if err != nil {
		return nil, errutil.UnprocessableEntity("guarantee template has an invalid payout configuration", err)
	}

	now := s.now().UTC()
	updates := map[string]any{
		"payout_type":   payoutType,
		"payout_amount": amount,
		"resolved_at":   now,
	}
	notes := fmt.Sprintf("Payout issued: %s of %.2f.", payoutType, amount)
	data := map[string]any{"payout_type": payoutType, "payout_amount": amount}

	// Credit codes are issued only once the guarded write has succeeded.
	var creditPrefix string
	var creditAmount float64

	switch payoutType {
	case payout.Credit, payout.RolloverUpsell:
		credit := amount
		prefix := "GUAR"
		if payoutType == payout.RolloverUpsell {
			credit = payout.RolloverCredit(amount, inst.Template.RolloverBonusMultiplier)
			updates["rollover_credit_amount"] = credit
			prefix = "UPSELL"
		}
		creditPrefix = prefix
		creditAmount = credit
		data["credit_amount"] = credit

	case payout.RolloverContinuity:
		planID := inst.Template.RolloverContinuityPlanID
		if planID == nil || *planID == "" {
			return nil, errutil.UnprocessableEntity("guarantee template has no continuity plan", nil)
		}
		if s.plans == nil {
			return nil, errutil.UnprocessableEntity("continuity plans are not available", nil)
		}
		plan, err := s.plans.GetPlan(ctx, *planID)
		if err != nil {
			return nil, err
		}
		credit := payout.RolloverCredit(amount, inst.Template.RolloverBonusMultiplier)
		cycles, residual := payout.CyclesCovered(credit, plan.AmountPerInterval)
		updates["rollover_credit_amount"] = credit
		updates["covered_cycles"] = cycles
		updates["subscription_plan_id"] = plan.ID
		data["credit_amount"] = credit
		data["covered_cycles"] = cycles
		data["residual_credit"] = residual
		notes = fmt.Sprintf("Payout issued: %.2f credit covers %d %s cycle(s) of %s.", credit, cycles, plan.BillingInterval, plan.Name)
	}

	customNotes := req.Notes != nil && strings.TrimSpace(*req.Notes) != ""
	if customNotes {
		notes = strings.TrimSpace(*req.Notes)
	}
	updates["resolution_notes"] = notes

	var to Status
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if to, _, err = s.apply(ctx, tx, inst, ev, updates); err != nil {
			return err
		}
		if creditPrefix == "" {
			return nil
		}

		code, err := s.seq.NextCreditCode(ctx, creditPrefix, inst.ID)
		if err != nil {
			zapLog.Error("failed to issue credit code", zap.Error(err))
			return errutil.Internal("failed to issue credit code", err)
		}
		data["credit_code"] = code
		codeUpdates := map[string]any{"credit_code": code}
		if !customNotes {
			codeUpdates["resolution_notes"] = fmt.Sprintf("Payout issued: %s of %.2f, code %s.", payoutType, creditAmount, code)
		}
		if err := tx.WithContext(ctx).Model(&Instance{}).Where("id = ?", inst.ID).Updates(codeUpdates).Error; err != nil {
			zapLog.Error("failed to record credit code", zap.Error(err))
			return errutil.Internal("failed to record credit code", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zapLog.Info("guarantee payout resolved", zap.String("status", string(to)), zap.String("admin_id", adminID))

	if payoutType == payout.Refund {
		orderID := ""
		if inst.OrderID != nil {
			orderID = *inst.OrderID
		}
		notification.PublishRefund(ctx, s.enq, notification.RefundRequest{
			Entity:      "guarantee",
			EntityID:    inst.ID,
			OrderID:     orderID,
			ClientEmail: inst.ClientEmail,
			Amount:      amount,
			RequestedAt: now,
		})
	}
	notification.Publish(ctx, s.enq, notification.Event{
		Event:       notification.GuaranteePayoutIssued,
		Entity:      "guarantee",
		EntityID:    inst.ID,
		ClientEmail: inst.ClientEmail,
		Status:      string(to),
		OccurredAt:  now,
		Data:        data,
	})

	return s.GetInstance(ctx, id)
}
