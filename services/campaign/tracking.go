package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"clientops-controlplane/pkg/celengine"
	"clientops-controlplane/pkg/errutil"
	"clientops-controlplane/pkg/featureflags"
	"clientops-controlplane/pkg/lifecycle"
	"clientops-controlplane/pkg/logger"
	"clientops-controlplane/pkg/metrics"
	"clientops-controlplane/pkg/task"
	"clientops-controlplane/pkg/taskname"
	"clientops-controlplane/pkg/validation"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TrackingEvent is reported by an external tracker (onboarding tool, chat,
// video host, diagnostic, webhook) when a client does something a campaign
// criterion may be watching for.
type TrackingEvent struct {
	ClientEmail string         `json:"client_email" validate:"required,email"`
	Source      TrackingSource `json:"source" validate:"required,oneof=onboarding_milestone chat_session video_watch diagnostic_completion custom_webhook"`
	Ref         string         `json:"ref" validate:"max=255"`
	Attributes  map[string]any `json:"attributes"`
	OccurredAt  *time.Time     `json:"occurred_at"`
}

type TrackingAccepted struct {
	TaskID string `json:"task_id"`
}

// QueueTrackingEvent validates ev and hands it to the worker.
func (s *Service) QueueTrackingEvent(ctx context.Context, ev TrackingEvent) (*TrackingAccepted, error) {
	if err := validation.Struct(ev); err != nil {
		return nil, err
	}
	if s.enq == nil {
		return nil, errutil.NotImplemented("tracking events are not enabled", nil)
	}

	t, err := task.NewJSONTask(taskname.CampaignTrackingEvent, ev, asynq.MaxRetry(3))
	if err != nil {
		return nil, errutil.Internal("failed to queue tracking event", err)
	}
	info, err := s.enq.Enqueue(ctx, t)
	if err != nil {
		logger.FromContext(ctx).Error("failed to queue tracking event", zap.String("source", string(ev.Source)), zap.Error(err))
		return nil, errutil.Internal("failed to queue tracking event", err)
	}
	out := &TrackingAccepted{}
	if info != nil {
		out.TaskID = info.ID
	}
	return out, nil
}

// ApplyTrackingEvent updates the auto-tracked progress rows of the client's
// active enrollments that watch ev.Source and whose match expression accepts
// the event. A pending row becomes in_progress. Rows are never marked met;
// that stays an admin verification. It returns the number of rows touched.
func (s *Service) ApplyTrackingEvent(ctx context.Context, ev TrackingEvent) (int, error) {
	ctx, span := tracer.Start(ctx, "campaign.ApplyTrackingEvent")
	defer span.End()
	zapLog := logger.FromContext(ctx).With(zap.String("source", string(ev.Source)))

	if err := validation.Struct(ev); err != nil {
		return 0, err
	}
	email := normalizeEmail(ev.ClientEmail)

	active := s.db.WithContext(ctx).Model(&Enrollment{}).Select("id").
		Where("client_email = ? AND status = ?", email, EnrollmentActive)

	var rows []*Progress
	if err := s.db.WithContext(ctx).
		Where("enrollment_id IN (?)", active).
		Where("auto_tracked = ? AND tracking_source = ?", true, ev.Source).
		Where("status IN ?", []lifecycle.MilestoneStatus{lifecycle.MilestonePending, lifecycle.MilestoneInProgress}).
		Find(&rows).Error; err != nil {
		zapLog.Error("failed to load tracked progress", zap.Error(err))
		return 0, errutil.Internal("failed to apply tracking event", err)
	}

	attrs := ev.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	vars := map[string]any{
		"source":       string(ev.Source),
		"client_email": email,
		"attributes":   attrs,
	}

	touched := 0
	for _, p := range rows {
		cfg, err := parseTrackingConfig(p.TrackingConfig)
		if err != nil {
			zapLog.Warn("skipping progress with unreadable tracking config", zap.String("progress_id", p.ID), zap.Error(err))
			continue
		}
		ok, err := celengine.Evaluate(cfg.Match, vars)
		if err != nil {
			zapLog.Warn("tracking match failed", zap.String("progress_id", p.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		updates := map[string]any{"status": lifecycle.MilestoneInProgress}
		if ev.Ref != "" {
			updates["auto_source_ref"] = ev.Ref
		}
		if cfg.ValueField != "" {
			if v, found := attrs[cfg.ValueField]; found && v != nil {
				updates["current_value"] = stringify(v)
			}
		}

		res := s.db.WithContext(ctx).Model(&Progress{}).
			Where("id = ? AND status IN ?", p.ID, []lifecycle.MilestoneStatus{lifecycle.MilestonePending, lifecycle.MilestoneInProgress}).
			Updates(updates)
		if res.Error != nil {
			zapLog.Error("failed to apply tracking event", zap.String("progress_id", p.ID), zap.Error(res.Error))
			return touched, errutil.Internal("failed to apply tracking event", res.Error)
		}
		touched += int(res.RowsAffected)
	}

	metrics.AutoTracked(string(ev.Source), touched)
	zapLog.Info("tracking event applied", zap.Int("rows", touched))
	return touched, nil
}

// TrackingHandler consumes campaign tracking tasks on the worker.
type TrackingHandler struct {
	svc   *Service
	flags featureflags.FeatureFlag
}

func NewTrackingHandler(svc *Service, flags featureflags.FeatureFlag) *TrackingHandler {
	return &TrackingHandler{svc: svc, flags: flags}
}

func (h *TrackingHandler) Handle(ctx context.Context, t *asynq.Task) error {
	if h.flags == nil || !h.flags.IsEnabled(ctx, featureflags.CampaignAutoTracking, false) {
		zap.L().Debug("campaign auto tracking disabled, dropping event")
		return nil
	}

	var ev TrackingEvent
	if err := json.Unmarshal(t.Payload(), &ev); err != nil {
		return fmt.Errorf("decode tracking event: %v: %w", err, asynq.SkipRetry)
	}
	ev.ClientEmail = strings.TrimSpace(ev.ClientEmail)

	_, err := h.svc.ApplyTrackingEvent(ctx, ev)
	if err != nil && errutil.StatusOf(err) == errutil.StatusValidationFailed {
		return fmt.Errorf("invalid tracking event: %v: %w", err, asynq.SkipRetry)
	}
	return err
}

// RegisterTracking binds the tracking task type on mux.
func RegisterTracking(mux *asynq.ServeMux, h *TrackingHandler) {
	mux.HandleFunc(taskname.CampaignTrackingEvent, h.Handle)
}
