package notification

import (
	"context"
	"errors"

	"clientops-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Handler struct {
	sender Sender
}

type HandlerParams struct {
	fx.In
	Sender Sender
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{sender: p.Sender}
}

func (h *Handler) HandleLifecycle(ctx context.Context, t *asynq.Task) error {
	return h.deliver(ctx, taskname.LifecycleNotify, t)
}

func (h *Handler) HandleRefundRequest(ctx context.Context, t *asynq.Task) error {
	return h.deliver(ctx, taskname.PayoutRefundRequested, t)
}

func (h *Handler) deliver(ctx context.Context, kind string, t *asynq.Task) error {
	err := h.sender.Send(ctx, kind, t.Payload())
	if errors.Is(err, ErrNoWebhook) {
		zap.L().Warn("automation webhook not configured, dropping notification", zap.String("kind", kind))
		return nil
	}
	if err != nil {
		zap.L().Error("failed to deliver notification", zap.String("kind", kind), zap.Error(err))
		return err
	}
	return nil
}

// Register binds the notification task types on mux.
func Register(mux *asynq.ServeMux, h *Handler) {
	mux.HandleFunc(taskname.LifecycleNotify, h.HandleLifecycle)
	mux.HandleFunc(taskname.PayoutRefundRequested, h.HandleRefundRequest)
}
