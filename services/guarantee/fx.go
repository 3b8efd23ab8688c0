package guarantee

import "go.uber.org/fx"

var Module = fx.Module("guarantee.module",
	fx.Provide(
		NewService,
		NewHandler,
	),
)
