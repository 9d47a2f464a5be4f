// Package metrics holds the prometheus collectors of a ReplyPipe process.
package metrics

import (
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/appointment"
	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "replypipe"

// Metrics implements the observer interfaces of the llm, transfer, messaging
// and pipeline packages.
type Metrics struct {
	ProviderCalls    *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	MessagesSent     *prometheus.CounterVec
	StickyFailovers  *prometheus.CounterVec
	StickyChats      prometheus.Gauge
	TransfersCreated *prometheus.CounterVec
	FlowOutcomes     *prometheus.CounterVec
	InboundMessages  *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
	SessionsReaped   prometheus.Counter
}

// NewMetrics registers every collector on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ProviderCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_provider_calls_total",
			Help:      "LLM provider calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		ProviderLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_provider_duration_seconds",
			Help:      "Time taken by a single LLM provider call",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 30},
		}, []string{"provider"}),
		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outbound sends by channel and outcome",
		}, []string{"channel", "outcome"}),
		StickyFailovers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sticky_failovers_total",
			Help:      "Chats pinned to the backup channel after a primary failure",
		}, []string{"from", "to"}),
		StickyChats: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sticky_chats",
			Help:      "Chats currently pinned to the backup channel",
		}),
		TransfersCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_created_total",
			Help:      "Transfers to a human by reason and notification mode",
		}, []string{"reason", "mode"}),
		FlowOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_flow_outcomes_total",
			Help:      "Finished booking sessions by outcome",
		}, []string{"outcome"}),
		InboundMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound messages by how they were handled",
		}, []string{"outcome"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "appointment_sessions_active",
			Help:      "Booking sessions held in memory",
		}),
		SessionsReaped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_sessions_reaped_total",
			Help:      "Expired booking sessions removed by the reaper",
		}),
	}
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// ProviderCall records one LLM provider attempt.
func (m *Metrics) ProviderCall(provider string, success bool, elapsed time.Duration) {
	m.ProviderCalls.WithLabelValues(provider, outcome(success)).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// MessageSent records one channel send.
func (m *Metrics) MessageSent(channel models.ChannelName, success bool) {
	m.MessagesSent.WithLabelValues(string(channel), outcome(success)).Inc()
}

// StickyFailover records a chat being pinned to the backup channel.
func (m *Metrics) StickyFailover(from, to models.ChannelName) {
	m.StickyFailovers.WithLabelValues(string(from), string(to)).Inc()
}

// StickySize sets the sticky-set gauge.
func (m *Metrics) StickySize(n int) {
	m.StickyChats.Set(float64(n))
}

// TransferCreated records a new transfer.
func (m *Metrics) TransferCreated(reason models.TransferReason, silent bool) {
	mode := "explicit"
	if silent {
		mode = "silent"
	}
	m.TransfersCreated.WithLabelValues(string(reason), mode).Inc()
}

// FlowOutcome records a finished booking session. It matches the
// appointment.WithOutcomeHook signature.
func (m *Metrics) FlowOutcome(o appointment.Outcome) {
	m.FlowOutcomes.WithLabelValues(string(o)).Inc()
}

// InboundProcessed records how an inbound message was handled.
func (m *Metrics) InboundProcessed(result string) {
	m.InboundMessages.WithLabelValues(result).Inc()
}

// SessionsSwept records a reaper pass.
func (m *Metrics) SessionsSwept(removed, remaining int) {
	m.SessionsReaped.Add(float64(removed))
	m.ActiveSessions.Set(float64(remaining))
}
