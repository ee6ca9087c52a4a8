package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	MessagesSent      prometheus.Counter
	SendRejected      *prometheus.CounterVec
	SlotsExhausted    prometheus.Counter
	SlotsReleased     prometheus.Counter
	IdentityReveals   prometheus.Counter
	UsersVerified     prometheus.Counter
	ReferralsAccepted prometheus.Counter
	SendDuration      prometheus.Histogram
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		MessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vouch_messages_sent_total",
			Help: "Total number of messages committed through the gateway",
		}),
		SendRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vouch_send_rejected_total",
			Help: "Send attempts rejected by the gateway, by error code",
		}, []string{"code"}),
		SlotsExhausted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vouch_slots_exhausted_total",
			Help: "Slot reservations refused because the period allowance ran out",
		}),
		SlotsReleased: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vouch_slots_released_total",
			Help: "Compensating slot releases after a failed send pipeline",
		}),
		IdentityReveals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vouch_identity_reveals_total",
			Help: "Fresh identity revelations recorded",
		}),
		UsersVerified: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vouch_users_verified_total",
			Help: "Users promoted to verified status",
		}),
		ReferralsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vouch_referrals_accepted_total",
			Help: "Referrals counted toward verification",
		}),
		SendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vouch_send_duration_seconds",
			Help:    "Latency of the full send pipeline",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}
