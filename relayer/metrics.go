package relayer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/provideplatform/mixer/common"
)

const metricsResultSettled = "settled"

var (
	withdrawalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mixer",
		Subsystem: "relayer",
		Name:      "withdrawals_total",
		Help:      "Relayed withdrawals by result code.",
	}, []string{"result", "class"})

	withdrawalSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mixer",
		Subsystem: "relayer",
		Name:      "withdrawal_duration_seconds",
		Help:      "Time from relay request to ledger verdict.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(withdrawalsTotal, withdrawalSeconds)
}

func observeWithdrawal(err error, elapsed time.Duration) {
	withdrawalSeconds.Observe(elapsed.Seconds())

	if err == nil {
		withdrawalsTotal.WithLabelValues(metricsResultSettled, "").Inc()
		return
	}

	code := common.CodeOf(err)
	if code == "" {
		code = common.ErrRelayerInternal.Code
	}
	withdrawalsTotal.WithLabelValues(code, string(common.ClassOf(err))).Inc()
}
