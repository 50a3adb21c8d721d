package gate

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	agentdoorRegistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentdoor_registrations_total",
		Help: "Total registration attempts by result.",
	}, []string{"result"})

	agentdoorVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentdoor_verifications_total",
		Help: "Total register/verify attempts by result.",
	}, []string{"result"})

	agentdoorAuthsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentdoor_auths_total",
		Help: "Total auth attempts by result.",
	}, []string{"result"})

	agentdoorGuardRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentdoor_guard_rejections_total",
		Help: "Total AgentRequired rejections by reason.",
	}, []string{"reason"})
)

func recordRegistration(result string) { agentdoorRegistrationsTotal.WithLabelValues(result).Inc() }
func recordVerification(result string) { agentdoorVerificationsTotal.WithLabelValues(result).Inc() }
func recordAuth(result string)         { agentdoorAuthsTotal.WithLabelValues(result).Inc() }
func recordGuardRejection(reason string) {
	agentdoorGuardRejectionsTotal.WithLabelValues(reason).Inc()
}

// MetricsHandler returns a gin handler serving the process's Prometheus
// registry in the standard exposition format. Hosts mount it themselves
// (the gate never exposes it on its own routes, since scraping is a
// host-level concern).
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
