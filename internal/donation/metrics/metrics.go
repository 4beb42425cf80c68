package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the donation lifecycle.
// Tracks transitions by outcome and the duration of the arbitration path.
type Metrics struct {
	DonationsCreated    prometheus.Counter
	DonationTransitions *prometheus.CounterVec
	RequestsSubmitted   prometheus.Counter
	Arbitrations        *prometheus.CounterVec
	ArbitrationDuration prometheus.Histogram
	PickupsConfirmed    prometheus.Counter
	Reviews             *prometheus.CounterVec
}

// New creates and registers the collectors on reg. Passing nil uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		DonationsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "replate_donations_created_total",
			Help: "Total number of donations created",
		}),
		DonationTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "replate_donation_transitions_total",
			Help: "Donation status transitions by resulting status",
		}, []string{"status"}),
		RequestsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "replate_requests_submitted_total",
			Help: "Total number of requests submitted by charities",
		}),
		Arbitrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "replate_arbitrations_total",
			Help: "Request acceptances by outcome (won, lost, error)",
		}, []string{"outcome"}),
		ArbitrationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "replate_arbitration_duration_seconds",
			Help:    "Duration of AcceptRequest including the unit of work",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		PickupsConfirmed: f.NewCounter(prometheus.CounterOpts{
			Name: "replate_pickups_confirmed_total",
			Help: "Total number of pickups confirmed by charities",
		}),
		Reviews: f.NewCounterVec(prometheus.CounterOpts{
			Name: "replate_reviews_total",
			Help: "Review submissions by outcome (created, denied, duplicate)",
		}, []string{"outcome"}),
	}
}

// ObserveArbitration records one AcceptRequest call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveArbitration(start time.Time, outcome string) {
	m.Arbitrations.WithLabelValues(outcome).Inc()
	m.ArbitrationDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementTransition(status string) {
	m.DonationTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementReview(outcome string) {
	m.Reviews.WithLabelValues(outcome).Inc()
}
