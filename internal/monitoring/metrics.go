package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lotteryDraws = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventchain_lottery_draws_total",
			Help: "Lottery trigger attempts by outcome",
		},
		[]string{"outcome"},
	)

	lotteryAllocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventchain_lottery_allocations_total",
			Help: "Applications allocated by a draw",
		},
		[]string{"status"},
	)

	paymentConfirmations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventchain_payment_confirmations_total",
			Help: "Payment confirmations by source and whether they changed state",
		},
		[]string{"source", "result"},
	)

	mintAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventchain_mint_attempts_total",
			Help: "Calls to the minting collaborator by result",
		},
		[]string{"result"},
	)

	mintQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventchain_mint_queue_depth",
			Help: "Mint jobs per status",
		},
		[]string{"status"},
	)

	mintDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventchain_mint_job_duration_seconds",
			Help:    "Time from claim to completion of a mint job",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	checkIns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventchain_checkins_total",
			Help: "Check-in attempts by outcome",
		},
		[]string{"outcome"},
	)

	certificates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventchain_certificates_total",
			Help: "Certificate issue calls by result",
		},
		[]string{"result"},
	)

	chainAttestations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventchain_chain_attestations_total",
			Help: "Attendance and certificate writes to the token contract by result",
		},
		[]string{"kind", "result"},
	)

	realtimeSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventchain_realtime_subscribers",
			Help: "Open dashboard subscriptions",
		},
	)
)

func LotteryDraw(outcome string) { lotteryDraws.WithLabelValues(outcome).Inc() }

func LotteryAllocated(selected, waitlisted int) {
	lotteryAllocations.WithLabelValues("SELECTED").Add(float64(selected))
	lotteryAllocations.WithLabelValues("WAITLISTED").Add(float64(waitlisted))
}

func PaymentConfirmation(source string, applied bool) {
	result := "duplicate"
	if applied {
		result = "applied"
	}
	paymentConfirmations.WithLabelValues(source, result).Inc()
}

func MintAttempt(result string) { mintAttempts.WithLabelValues(result).Inc() }

func MintQueueDepth(status string, n int) { mintQueueDepth.WithLabelValues(status).Set(float64(n)) }

func MintDuration(d time.Duration) { mintDuration.Observe(d.Seconds()) }

func CheckIn(outcome string) { checkIns.WithLabelValues(outcome).Inc() }

func Certificate(result string) { certificates.WithLabelValues(result).Inc() }

func ChainAttestation(kind, result string) { chainAttestations.WithLabelValues(kind, result).Inc() }

func SubscriberJoined() { realtimeSubscribers.Inc() }

func SubscriberLeft() { realtimeSubscribers.Dec() }
