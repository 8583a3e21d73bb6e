package mode

import "github.com/prometheus/client_golang/prometheus"

var modeChangesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dashboard_mode_changes_total",
		Help: "Mode change attempts by outcome",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(modeChangesTotal)
}
