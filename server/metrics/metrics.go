package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "guardian"

var (
	SOSTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sos_triggered_total",
		Help:      "SOS events created, by whether the event is a test",
	}, []string{"test"})

	// ChannelFailures counts fan-out errors that were logged instead of returned
	ChannelFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sos_channel_failures_total",
		Help:      "Fan-out failures per notification channel",
	}, []string{"channel"})

	FamilyAlerts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "family_alerts_published_total",
		Help:      "Realtime alerts published to family members",
	})

	CallSequences = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "call_sequences_total",
		Help:      "Finished emergency call sequences by final state",
	}, []string{"state"})

	EmailsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "emails_delivered_total",
		Help:      "Email delivery attempts by outcome",
	}, []string{"outcome"})

	DeadEmails = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "email_queue_dead",
		Help:      "Failed emails that used up every retry",
	})

	PendingEmails = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "email_queue_pending",
		Help:      "Emails waiting in the queue",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
