package notification

import "go.uber.org/fx"

// Module wires webhook delivery into an asynq worker.
var Module = fx.Module("notification.module",
	fx.Provide(NewWebhookSender, NewHandler),
	fx.Invoke(Register),
)
