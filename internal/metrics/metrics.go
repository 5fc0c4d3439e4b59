// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "relay_freight"

var (
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	LegsBooked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "legs_booked_total",
		Help:      "Legs booked by kind (direct, final, partial).",
	}, []string{"kind"})

	LegsCanceled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "legs_canceled_total",
		Help:      "Legs canceled by a courier or requester.",
	})

	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlements_total",
		Help:      "Pickup confirmations by outcome.",
	}, []string{"outcome"})

	ChargedMinorUnits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "charged_minor_units_total",
		Help:      "Amount charged to requesters in minor currency units.",
	}, []string{"currency"})

	OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_messages_total",
		Help:      "Outbox messages processed by result.",
	}, []string{"event_type", "result"})
)

// Settlement outcomes.
const (
	OutcomeSettled        = "settled"
	OutcomeFree           = "free"
	OutcomeAlreadySettled = "already_settled"
	OutcomePaymentFailed  = "payment_failed"
	OutcomeRejected       = "rejected"
)
