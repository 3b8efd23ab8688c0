package continuity

import "go.uber.org/fx"

var Module = fx.Module("continuity.module",
	fx.Provide(
		NewService,
		NewHandler,
		func(s *Service) PlanReader { return s },
	),
)
