package notification

import (
	"context"
	"time"

	"clientops-controlplane/pkg/logger"
	"clientops-controlplane/pkg/task"
	"clientops-controlplane/pkg/taskname"

	"go.uber.org/zap"
)

type Name string

const (
	GuaranteeConditionsMet Name = "guarantee.conditions_met"
	GuaranteeResolved      Name = "guarantee.resolved"
	GuaranteePayoutIssued  Name = "guarantee.payout_issued"
	EnrollmentCreated      Name = "campaign.enrollment_created"
	EnrollmentCriteriaMet  Name = "campaign.criteria_met"
	EnrollmentPayoutChosen Name = "campaign.payout_chosen"
	EnrollmentResolved     Name = "campaign.enrollment_resolved"
)

// Event is the payload posted to the automation webhook.
type Event struct {
	Event       Name           `json:"event"`
	Entity      string         `json:"entity"`
	EntityID    string         `json:"entity_id"`
	ClientEmail string         `json:"client_email"`
	Status      string         `json:"status"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Data        map[string]any `json:"data,omitempty"`
}

// RefundRequest asks the payment collaborator to refund a client.
type RefundRequest struct {
	Entity      string    `json:"entity"`
	EntityID    string    `json:"entity_id"`
	OrderID     string    `json:"order_id,omitempty"`
	ClientEmail string    `json:"client_email"`
	Amount      float64   `json:"amount"`
	RequestedAt time.Time `json:"requested_at"`
}

// Publish enqueues ev for delivery. Failures are logged and swallowed: a lost
// notification never fails the state change that produced it.
func Publish(ctx context.Context, enq task.Enqueuer, ev Event) {
	enqueue(ctx, enq, taskname.LifecycleNotify, ev, zap.String("event", string(ev.Event)), zap.String("entity_id", ev.EntityID))
}

func PublishRefund(ctx context.Context, enq task.Enqueuer, req RefundRequest) {
	enqueue(ctx, enq, taskname.PayoutRefundRequested, req, zap.String("entity_id", req.EntityID))
}

func enqueue(ctx context.Context, enq task.Enqueuer, typename string, payload any, fields ...zap.Field) {
	if enq == nil {
		return
	}

	t, err := task.NewJSONTask(typename, payload)
	if err != nil {
		logger.FromContext(ctx).Error("failed to build notification task", append(fields, zap.Error(err))...)
		return
	}

	if _, err := enq.Enqueue(ctx, t); err != nil {
		logger.FromContext(ctx).Error("failed to enqueue notification", append(fields, zap.Error(err))...)
	}
}
