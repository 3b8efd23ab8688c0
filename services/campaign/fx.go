package campaign

import "go.uber.org/fx"

var Module = fx.Module("campaign.module",
	fx.Provide(
		NewService,
		NewHandler,
	),
)

// WorkerModule consumes tracking events; it expects Module to be present.
var WorkerModule = fx.Module("campaign.worker",
	fx.Provide(NewTrackingHandler),
	fx.Invoke(RegisterTracking),
)
