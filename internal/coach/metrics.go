package coach

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rallycoach_sessions_started_total",
		Help: "Sessions started by player type",
	}, []string{"player_type"})

	sessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rallycoach_sessions_ended_total",
		Help: "Sessions ended by reason",
	}, []string{"reason"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rallycoach_active_sessions",
		Help: "Sessions currently held in memory",
	})

	repliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rallycoach_replies_total",
		Help: "Coach replies by kind",
	}, []string{"kind"})

	turnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rallycoach_turn_duration_seconds",
		Help:    "Time to process one player utterance",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"mode"})

	retrievedChunks = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rallycoach_retrieved_chunks",
		Help:    "Knowledge chunks retrieved per turn",
		Buckets: []float64{0, 1, 2, 3, 5, 10},
	})

	upstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rallycoach_upstream_errors_total",
		Help: "Upstream failures by service and kind",
	}, []string{"service", "kind"})

	endSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rallycoach_end_signals_total",
		Help: "Session-end signals by confidence tier",
	}, []string{"tier"})
)
