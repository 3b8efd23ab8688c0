package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"clientops-controlplane/pkg/errutil"
	"clientops-controlplane/pkg/featureflags"
	"clientops-controlplane/pkg/lifecycle"
	"clientops-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func leadsEvent(email string, attrs map[string]any) TrackingEvent {
	return TrackingEvent{
		ClientEmail: email,
		Source:      SourceOnboardingMilestone,
		Ref:         "evt-1",
		Attributes:  attrs,
	}
}

func TestApplyTrackingEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.activeCampaign(t)
	f.expectNotifications(1)
	e := f.enroll(t, c.ID)

	cases := []struct {
		name string
		ev   TrackingEvent
	}{
		{"other source", TrackingEvent{ClientEmail: "jane@example.com", Source: SourceChatSession, Attributes: map[string]any{"step": "leads"}}},
		{"match rejects", leadsEvent("jane@example.com", map[string]any{"step": "kickoff"})},
		{"missing attribute", leadsEvent("jane@example.com", map[string]any{"count": 3})},
		{"other client", leadsEvent("bob@example.com", map[string]any{"step": "leads"})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n, err := f.svc.ApplyTrackingEvent(ctx, tc.ev)
			require.NoError(t, err)
			require.Zero(t, n)
		})
	}

	n, err := f.svc.ApplyTrackingEvent(ctx, leadsEvent("JANE@example.com", map[string]any{"step": "leads", "count": 12}))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	fresh, err := f.svc.GetEnrollment(ctx, c.ID, e.ID)
	require.NoError(t, err)
	tracked := fresh.Progress[1]
	require.Equal(t, lifecycle.MilestoneInProgress, tracked.Status)
	require.Equal(t, "12", *tracked.CurrentValue)
	require.Equal(t, "evt-1", *tracked.AutoSourceRef)
	require.Equal(t, lifecycle.MilestonePending, fresh.Progress[0].Status)

	// Repeated events keep updating the value but never mark the row met.
	n, err = f.svc.ApplyTrackingEvent(ctx, leadsEvent("jane@example.com", map[string]any{"step": "leads", "count": 45}))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	fresh, err = f.svc.GetEnrollment(ctx, c.ID, e.ID)
	require.NoError(t, err)
	require.Equal(t, lifecycle.MilestoneInProgress, fresh.Progress[1].Status)
	require.Equal(t, "45", *fresh.Progress[1].CurrentValue)

	_, err = f.svc.VerifyProgress(ctx, "admin-1", c.ID, e.ID, tracked.ID, VerifyProgressRequest{Status: lifecycle.MilestoneMet})
	require.NoError(t, err)
	n, err = f.svc.ApplyTrackingEvent(ctx, leadsEvent("jane@example.com", map[string]any{"step": "leads", "count": 50}))
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = f.svc.ApplyTrackingEvent(ctx, TrackingEvent{ClientEmail: "jane@example.com", Source: SourceManual})
	requireStatus(t, err, errutil.StatusValidationFailed)
}

func TestApplyTrackingEventHonoursCancellation(t *testing.T) {
	f := newFixture(t)
	c := f.activeCampaign(t)
	f.expectNotifications(1)
	f.enroll(t, c.ID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.ApplyTrackingEvent(ctx, leadsEvent("jane@example.com", map[string]any{"step": "leads", "count": 12}))
	requireStatus(t, err, errutil.StatusInternal)
}

func TestQueueTrackingEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.enq.EXPECT().Enqueue(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
		require.Equal(t, taskname.CampaignTrackingEvent, task.Type())
		var ev TrackingEvent
		require.NoError(t, json.Unmarshal(task.Payload(), &ev))
		require.Equal(t, SourceVideoWatch, ev.Source)
		return &asynq.TaskInfo{ID: "task-1"}, nil
	})

	out, err := f.svc.QueueTrackingEvent(ctx, TrackingEvent{ClientEmail: "jane@example.com", Source: SourceVideoWatch})
	require.NoError(t, err)
	require.Equal(t, "task-1", out.TaskID)

	_, err = f.svc.QueueTrackingEvent(ctx, TrackingEvent{ClientEmail: "not-an-email", Source: SourceVideoWatch})
	requireStatus(t, err, errutil.StatusValidationFailed)
}

func TestTrackingHandler(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.activeCampaign(t)
	f.expectNotifications(1)
	e := f.enroll(t, c.ID)

	payload, err := json.Marshal(leadsEvent("jane@example.com", map[string]any{"step": "leads", "count": 7}))
	require.NoError(t, err)
	task := asynq.NewTask(taskname.CampaignTrackingEvent, payload)

	disabled := NewTrackingHandler(f.svc, featureflags.Static{})
	require.NoError(t, disabled.Handle(ctx, task))
	fresh, err := f.svc.GetEnrollment(ctx, c.ID, e.ID)
	require.NoError(t, err)
	require.Equal(t, lifecycle.MilestonePending, fresh.Progress[1].Status)

	enabled := NewTrackingHandler(f.svc, featureflags.Static{featureflags.CampaignAutoTracking: true})
	require.NoError(t, enabled.Handle(ctx, task))
	fresh, err = f.svc.GetEnrollment(ctx, c.ID, e.ID)
	require.NoError(t, err)
	require.Equal(t, lifecycle.MilestoneInProgress, fresh.Progress[1].Status)
	require.Equal(t, "7", *fresh.Progress[1].CurrentValue)

	err = enabled.Handle(ctx, asynq.NewTask(taskname.CampaignTrackingEvent, []byte("{not json")))
	require.True(t, errors.Is(err, asynq.SkipRetry))

	bad, err := json.Marshal(TrackingEvent{ClientEmail: "jane@example.com", Source: SourceManual})
	require.NoError(t, err)
	err = enabled.Handle(ctx, asynq.NewTask(taskname.CampaignTrackingEvent, bad))
	require.True(t, errors.Is(err, asynq.SkipRetry))
}
