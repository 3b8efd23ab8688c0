package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clientops",
		Name:      "lifecycle_transitions_total",
		Help:      "State transitions applied to guarantees and enrollments.",
	}, []string{"entity", "from", "to"})

	rejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clientops",
		Name:      "lifecycle_rejections_total",
		Help:      "Transitions rejected because the current state does not allow them.",
	}, []string{"entity", "event", "from"})

	autoTracked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clientops",
		Name:      "auto_tracking_updates_total",
		Help:      "Progress rows updated by auto-tracking events.",
	}, []string{"source"})
)

func Transition(entity, from, to string) {
	transitions.WithLabelValues(entity, from, to).Inc()
}

func Rejected(entity, event, from string) {
	rejected.WithLabelValues(entity, event, from).Inc()
}

func AutoTracked(source string, n int) {
	autoTracked.WithLabelValues(source).Add(float64(n))
}

// Handler exposes the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
