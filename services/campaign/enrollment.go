package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"clientops-controlplane/pkg/db/option"
	"clientops-controlplane/pkg/db/pagination"
	"clientops-controlplane/pkg/errutil"
	"clientops-controlplane/pkg/lifecycle"
	"clientops-controlplane/pkg/logger"
	"clientops-controlplane/pkg/metrics"
	"clientops-controlplane/pkg/payout"
	"clientops-controlplane/pkg/validation"
	"clientops-controlplane/services/notification"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) publish(ctx context.Context, name notification.Name, e *Enrollment, data map[string]any) {
	notification.Publish(ctx, s.enq, notification.Event{
		Event:       name,
		Entity:      "enrollment",
		EntityID:    e.ID,
		ClientEmail: e.ClientEmail,
		Status:      string(e.Status),
		OccurredAt:  s.now().UTC(),
		Data:        data,
	})
}

// Enroll creates an enrollment and materializes one progress row per
// criterion of the campaign, in one transaction.
func (s *Service) Enroll(ctx context.Context, campaignID string, req EnrollRequest) (*Enrollment, error) {
	ctx, span := tracer.Start(ctx, "campaign.Enroll")
	defer span.End()

	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	c, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if !c.IsEnrollable(now) {
		return nil, errutil.UnprocessableEntity("campaign is not accepting enrollments", nil)
	}
	if req.PurchaseAmount != nil && *req.PurchaseAmount < c.MinPurchaseAmount {
		return nil, errutil.Field("purchase_amount", fmt.Sprintf("must be at least %.2f for this campaign", c.MinPurchaseAmount))
	}

	email := normalizeEmail(req.ClientEmail)
	open, err := s.enrollment.Count(ctx, &Enrollment{CampaignID: campaignID, ClientEmail: email},
		option.ApplyOperator(option.Condition{Field: "status", Operator: option.IN, Value: openStatuses}),
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to check existing enrollment", zap.String("campaign_id", campaignID), zap.Error(err))
		return nil, errutil.Internal("failed to enroll client", err)
	}
	if open > 0 {
		return nil, errutil.Conflict("Client already has an active enrollment in this campaign", nil)
	}

	pcJSON, err := json.Marshal(req.PersonalizationContext)
	if err != nil {
		return nil, errutil.Internal("failed to enroll client", err)
	}

	source := req.EnrollmentSource
	if source == "" {
		source = EnrollAdminManual
	}

	e := &Enrollment{
		ID:                     s.node.Generate().String(),
		CampaignID:             c.ID,
		ClientEmail:            email,
		ClientName:             strings.TrimSpace(req.ClientName),
		UserID:                 req.UserID,
		OrderID:                req.OrderID,
		PurchaseAmount:         req.PurchaseAmount,
		EnrollmentSource:       source,
		Status:                 EnrollmentActive,
		EnrolledAt:             now,
		DeadlineAt:             lifecycle.WindowEnd(now, c.CompletionWindowDays),
		PersonalizationContext: pcJSON,
	}

	rows := make([]*Progress, 0, len(c.Criteria))
	for _, tmpl := range c.Criteria {
		m := materialize(tmpl, req.PersonalizationContext)
		rows = append(rows, &Progress{
			ID:                  s.node.Generate().String(),
			EnrollmentID:        e.ID,
			TemplateCriterionID: tmpl.ID,
			Label:               m.Label,
			Description:         m.Description,
			CriteriaType:        tmpl.CriteriaType,
			TrackingSource:      tmpl.TrackingSource,
			TrackingConfig:      tmpl.TrackingConfig,
			TargetValue:         m.TargetValue,
			Required:            tmpl.Required,
			DisplayOrder:        tmpl.DisplayOrder,
			Status:              lifecycle.MilestonePending,
			AutoTracked:         tmpl.TrackingSource != SourceManual,
		})
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.enrollment.WithTrx(tx).Create(ctx, e); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return s.progress.WithTrx(tx).BatchCreate(ctx, rows)
	}); err != nil {
		logger.FromContext(ctx).Error("failed to enroll client", zap.String("campaign_id", campaignID), zap.Error(err))
		return nil, errutil.Internal("failed to enroll client", err)
	}

	logger.FromContext(ctx).Info("client enrolled", zap.String("campaign_id", campaignID), zap.String("enrollment_id", e.ID))
	s.publish(ctx, notification.EnrollmentCreated, e, map[string]any{
		"campaign_id": c.ID,
		"deadline_at": e.DeadlineAt,
	})

	return s.GetEnrollment(ctx, campaignID, e.ID)
}

func (s *Service) loadEnrollment(ctx context.Context, id string) (*Enrollment, error) {
	e, err := s.enrollment.FindOne(ctx, &Enrollment{ID: id}, option.WithPreload("Campaign"), orderedBy("Progress", "display_order"))
	if err != nil {
		logger.FromContext(ctx).Error("failed to get enrollment", zap.String("enrollment_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to get enrollment", err)
	}
	if e == nil {
		return nil, errutil.NotFound("enrollment not found", nil)
	}
	return e, nil
}

// GetEnrollment returns the enrollment when it belongs to campaignID.
func (s *Service) GetEnrollment(ctx context.Context, campaignID, id string) (*Enrollment, error) {
	e, err := s.loadEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.CampaignID != campaignID {
		return nil, errutil.NotFound("enrollment not found", nil)
	}
	e.decorate(s.now())
	return e, nil
}

func (s *Service) GetClientEnrollment(ctx context.Context, id string, req ClientAccess) (*Enrollment, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	e, err := s.loadEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sameEmail(e.ClientEmail, req.ClientEmail) {
		return nil, errutil.Forbidden("email does not match enrollment record", nil)
	}
	e.decorate(s.now())
	return e, nil
}

func (s *Service) ListEnrollments(ctx context.Context, campaignID string, req ListEnrollmentsRequest) (*ListEnrollmentsResult, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	query := &Enrollment{
		CampaignID:  campaignID,
		Status:      req.Status,
		ClientEmail: normalizeEmail(req.ClientEmail),
	}
	total, err := s.enrollment.Count(ctx, query)
	if err != nil {
		logger.FromContext(ctx).Error("failed to count enrollments", zap.String("campaign_id", campaignID), zap.Error(err))
		return nil, errutil.Internal("failed to list enrollments", err)
	}

	page := req.Pagination.Normalize()
	items, err := s.enrollment.Find(ctx, query,
		orderedBy("Progress", "display_order"),
		option.WithSortBy(option.QuerySortBy{SortBy: "enrolled_at", OrderBy: "desc", Allow: map[string]bool{"enrolled_at": true}}),
		option.ApplyPagination(page),
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to list enrollments", zap.String("campaign_id", campaignID), zap.Error(err))
		return nil, errutil.Internal("failed to list enrollments", err)
	}

	now := s.now()
	for _, it := range items {
		it.decorate(now)
	}
	return &ListEnrollmentsResult{Data: items, PageInfo: pagination.BuildPageInfo(page, total)}, nil
}

// apply performs a guarded status write on an enrollment. It reports whether
// this call made the change; a repeated criteria_met advance is not an error.
func (s *Service) apply(ctx context.Context, db *gorm.DB, e *Enrollment, ev EnrollmentEvent, updates map[string]any) (EnrollmentStatus, bool, error) {
	to, err := TransitionEnrollment(e.Status, ev)
	if err != nil {
		if ev == EventCriteriaMet && e.Status == EnrollmentCriteriaMet {
			return e.Status, false, nil
		}
		metrics.Rejected("enrollment", string(ev), string(e.Status))
		return "", false, errutil.Conflict(err.Error(), err)
	}

	updates["status"] = to
	res := db.WithContext(ctx).
		Model(&Enrollment{}).
		Where("id = ? AND status IN ?", e.ID, enrollmentTransitions.Sources(ev)).
		Updates(updates)
	if res.Error != nil {
		logger.FromContext(ctx).Error("failed to update enrollment status", zap.String("enrollment_id", e.ID), zap.Error(res.Error))
		return "", false, errutil.Internal("failed to update enrollment", res.Error)
	}

	if res.RowsAffected == 0 {
		var current Enrollment
		if err := db.WithContext(ctx).Select("status").Where("id = ?", e.ID).First(&current).Error; err != nil {
			return "", false, errutil.Internal("failed to update enrollment", err)
		}
		if ev == EventCriteriaMet && current.Status == EnrollmentCriteriaMet {
			return current.Status, false, nil
		}
		metrics.Rejected("enrollment", string(ev), string(current.Status))
		terr := &lifecycle.TransitionError{Entity: "enrollment", Verb: enrollmentVerbs[ev], From: string(current.Status)}
		return "", false, errutil.Conflict(terr.Error(), terr)
	}

	metrics.Transition("enrollment", string(e.Status), string(to))
	e.Status = to
	return to, true, nil
}

func (s *Service) findProgress(ctx context.Context, enrollmentID, id string) (*Progress, error) {
	p, err := s.progress.FindOne(ctx, &Progress{ID: id, EnrollmentID: enrollmentID})
	if err != nil {
		logger.FromContext(ctx).Error("failed to get progress", zap.String("progress_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to get progress", err)
	}
	if p == nil {
		return nil, errutil.NotFound("progress not found", nil)
	}
	return p, nil
}

// SubmitProgress records client evidence for one criterion. A pending row
// moves to in_progress; the row is never marked met here.
func (s *Service) SubmitProgress(ctx context.Context, enrollmentID, progressID string, req SubmitProgressRequest) (*Progress, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	e, err := s.enrollment.FindOne(ctx, &Enrollment{ID: enrollmentID})
	if err != nil {
		logger.FromContext(ctx).Error("failed to get enrollment", zap.String("enrollment_id", enrollmentID), zap.Error(err))
		return nil, errutil.Internal("failed to get enrollment", err)
	}
	if e == nil {
		return nil, errutil.NotFound("enrollment not found", nil)
	}
	if !sameEmail(e.ClientEmail, req.ClientEmail) {
		return nil, errutil.Forbidden("email does not match enrollment record", nil)
	}
	if e.Status != EnrollmentActive {
		return nil, errutil.Conflict(fmt.Sprintf("Cannot submit progress for enrollment with status: %s", e.Status), nil)
	}

	p, err := s.findProgress(ctx, enrollmentID, progressID)
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
		p.CurrentValue = req.CurrentValue
	}
	if p.Status == lifecycle.MilestonePending {
		updates["status"] = lifecycle.MilestoneInProgress
		p.Status = lifecycle.MilestoneInProgress
	}

	if err := s.progress.Update(ctx, p.ID, &updates); err != nil {
		logger.FromContext(ctx).Error("failed to submit progress", zap.String("progress_id", p.ID), zap.Error(err))
		return nil, errutil.Internal("failed to submit progress", err)
	}

	p.ClientEvidence = &evidence
	p.ClientSubmittedAt = &now
	return p, nil
}

// VerifyProgress records an admin verdict on one criterion and advances the
// enrollment to criteria_met once every required row is satisfied.
func (s *Service) VerifyProgress(ctx context.Context, adminID, campaignID, enrollmentID, progressID string, req VerifyProgressRequest) (*VerifyProgressResult, error) {
	ctx, span := tracer.Start(ctx, "campaign.VerifyProgress")
	defer span.End()
	zapLog := logger.FromContext(ctx).With(zap.String("enrollment_id", enrollmentID), zap.String("progress_id", progressID))

	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	e, err := s.enrollment.FindOne(ctx, &Enrollment{ID: enrollmentID, CampaignID: campaignID})
	if err != nil {
		zapLog.Error("failed to get enrollment", zap.Error(err))
		return nil, errutil.Internal("failed to get enrollment", err)
	}
	if e == nil {
		return nil, errutil.NotFound("enrollment not found", nil)
	}
	if e.Status != EnrollmentActive {
		return nil, errutil.Conflict(fmt.Sprintf("Cannot verify progress for enrollment with status: %s", e.Status), nil)
	}

	p, err := s.findProgress(ctx, enrollmentID, progressID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	updates := map[string]any{
		"status":            req.Status,
		"progress_value":    req.Status.Progress(),
		"admin_verified_by": adminID,
		"admin_verified_at": now,
	}
	if req.AdminNotes != nil {
		updates["admin_notes"] = *req.AdminNotes
		p.AdminNotes = req.AdminNotes
	}
	if req.CurrentValue != nil {
		updates["current_value"] = *req.CurrentValue
		p.CurrentValue = req.CurrentValue
	}
	if err := s.progress.Update(ctx, p.ID, &updates); err != nil {
		zapLog.Error("failed to verify progress", zap.Error(err))
		return nil, errutil.Internal("failed to verify progress", err)
	}
	p.Status = req.Status
	p.ProgressValue = req.Status.Progress()
	p.AdminVerifiedBy = &adminID
	p.AdminVerifiedAt = &now

	siblings, err := s.progress.Find(ctx, &Progress{EnrollmentID: enrollmentID})
	if err != nil {
		zapLog.Error("failed to reload progress", zap.Error(err))
		return nil, errutil.Internal("failed to verify progress", err)
	}

	result := &VerifyProgressResult{Progress: p, EnrollmentStatus: e.Status}
	result.AllRequiredMet = lifecycle.AllRequiredMet(siblings)
	if !result.AllRequiredMet {
		return result, nil
	}

	to, advanced, err := s.apply(ctx, s.db, e, EventCriteriaMet, map[string]any{})
	if err != nil {
		return nil, err
	}
	result.EnrollmentStatus = to
	if advanced {
		zapLog.Info("enrollment criteria met")
		s.publish(ctx, notification.EnrollmentCriteriaMet, e, map[string]any{"campaign_id": e.CampaignID})
	}
	return result, nil
}

// ChoosePayout is the client's pick of payout form once criteria are met.
func (s *Service) ChoosePayout(ctx context.Context, enrollmentID string, req ChoosePayoutRequest) (*Enrollment, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	e, err := s.loadEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if !sameEmail(e.ClientEmail, req.ClientEmail) {
		return nil, errutil.Forbidden("email does not match enrollment record", nil)
	}

	if _, _, err := s.apply(ctx, s.db, e, EventChoosePayout, map[string]any{
		"chosen_payout_type": req.PayoutType,
		"resolution_notes":   fmt.Sprintf("Client selected payout: %s", req.PayoutType),
	}); err != nil {
		return nil, err
	}

	s.publish(ctx, notification.EnrollmentPayoutChosen, e, map[string]any{"payout_type": req.PayoutType})
	return s.GetClientEnrollment(ctx, enrollmentID, ClientAccess{ClientEmail: req.ClientEmail})
}

// ResolvePayout issues the payout of an enrollment whose criteria are met.
// The payout form is the request's, else the client's choice, else the
// campaign default.
func (s *Service) ResolvePayout(ctx context.Context, adminID, campaignID, enrollmentID string, req ResolveEnrollmentRequest) (*Enrollment, error) {
	ctx, span := tracer.Start(ctx, "campaign.ResolvePayout")
	defer span.End()
	zapLog := logger.FromContext(ctx).With(zap.String("enrollment_id", enrollmentID))

	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	e, err := s.GetEnrollment(ctx, campaignID, enrollmentID)
	if err != nil {
		return nil, err
	}
	if e.Campaign == nil {
		return nil, errutil.UnprocessableEntity("campaign no longer exists", nil)
	}

	payoutType := e.Campaign.PayoutType
	if e.ChosenPayoutType != nil {
		payoutType = *e.ChosenPayoutType
	}
	if req.PayoutType != nil {
		payoutType = *req.PayoutType
	}
	ev := payoutEvent(payoutType)

	if _, err := TransitionEnrollment(e.Status, ev); err != nil {
		metrics.Rejected("enrollment", string(ev), string(e.Status))
		return nil, errutil.Conflict(err.Error(), err)
	}

	spend := 0.0
	if e.PurchaseAmount != nil {
		spend = *e.PurchaseAmount
	}
	amount, err := payout.Amount(spend, e.Campaign.PayoutTerms())
	if err != nil {
		return nil, errutil.UnprocessableEntity("campaign has an invalid payout configuration", err)
	}

	now := s.now().UTC()
	updates := map[string]any{
		"chosen_payout_type": payoutType,
		"resolved_at":        now,
	}
	data := map[string]any{"payout_type": payoutType}
	credit := amount
	if payoutType.IsRollover() {
		credit = payout.RolloverCredit(amount, e.Campaign.RolloverBonusMultiplier)
	}
	notes := fmt.Sprintf("Payout issued: %s of %.2f.", payoutType, credit)

	// Credit codes are issued only once the guarded write has succeeded.
	var creditPrefix string

	switch payoutType {
	case payout.Credit, payout.RolloverUpsell:
		prefix := "CAMP"
		if payoutType == payout.RolloverUpsell {
			prefix = "UPSELL"
		}
		creditPrefix = prefix

	case payout.RolloverContinuity:
		planID := e.Campaign.RolloverContinuityPlanID
		if planID == nil || *planID == "" {
			return nil, errutil.UnprocessableEntity("campaign has no continuity plan", nil)
		}
		if s.plans == nil {
			return nil, errutil.UnprocessableEntity("continuity plans are not available", nil)
		}
		plan, err := s.plans.GetPlan(ctx, *planID)
		if err != nil {
			return nil, err
		}
		cycles, residual := payout.CyclesCovered(credit, plan.AmountPerInterval)
		data["subscription_plan_id"] = plan.ID
		data["covered_cycles"] = cycles
		data["residual_credit"] = residual
		notes = fmt.Sprintf("Payout issued: %.2f credit covers %d %s cycle(s) of %s.", credit, cycles, plan.BillingInterval, plan.Name)
	}

	customNotes := req.Notes != nil && strings.TrimSpace(*req.Notes) != ""
	if customNotes {
		notes = strings.TrimSpace(*req.Notes)
	}
	updates["payout_amount"] = credit
	updates["resolution_notes"] = notes
	data["payout_amount"] = credit

	var to EnrollmentStatus
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if to, _, err = s.apply(ctx, tx, e, ev, updates); err != nil {
			return err
		}
		if creditPrefix == "" {
			return nil
		}

		code, err := s.seq.NextCreditCode(ctx, creditPrefix, e.ID)
		if err != nil {
			zapLog.Error("failed to issue credit code", zap.Error(err))
			return errutil.Internal("failed to issue credit code", err)
		}
		data["credit_code"] = code
		codeUpdates := map[string]any{"credit_code": code}
		if !customNotes {
			codeUpdates["resolution_notes"] = fmt.Sprintf("Payout issued: %s of %.2f, code %s.", payoutType, credit, code)
		}
		if err := tx.WithContext(ctx).Model(&Enrollment{}).Where("id = ?", e.ID).Updates(codeUpdates).Error; err != nil {
			zapLog.Error("failed to record credit code", zap.Error(err))
			return errutil.Internal("failed to record credit code", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	zapLog.Info("enrollment payout resolved", zap.String("status", string(to)), zap.String("admin_id", adminID))

	if payoutType == payout.Refund {
		orderID := ""
		if e.OrderID != nil {
			orderID = *e.OrderID
		}
		notification.PublishRefund(ctx, s.enq, notification.RefundRequest{
			Entity:      "enrollment",
			EntityID:    e.ID,
			OrderID:     orderID,
			ClientEmail: e.ClientEmail,
			Amount:      amount,
			RequestedAt: now,
		})
	}
	s.publish(ctx, notification.EnrollmentResolved, e, data)

	return s.GetEnrollment(ctx, campaignID, enrollmentID)
}

// CloseEnrollment ends an open enrollment without a payout.
func (s *Service) CloseEnrollment(ctx context.Context, adminID, campaignID, enrollmentID string, req CloseEnrollmentRequest) (*Enrollment, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	e, err := s.GetEnrollment(ctx, campaignID, enrollmentID)
	if err != nil {
		return nil, err
	}

	notes := fmt.Sprintf("Enrollment marked %s by admin.", req.Status)
	if req.Notes != nil && strings.TrimSpace(*req.Notes) != "" {
		notes = strings.TrimSpace(*req.Notes)
	}

	to, _, err := s.apply(ctx, s.db, e, req.Status.event(), map[string]any{
		"resolved_at":      s.now().UTC(),
		"resolution_notes": notes,
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("enrollment closed", zap.String("enrollment_id", enrollmentID), zap.String("status", string(to)), zap.String("admin_id", adminID))
	s.publish(ctx, notification.EnrollmentResolved, e, map[string]any{"notes": notes})

	return s.GetEnrollment(ctx, campaignID, enrollmentID)
}
