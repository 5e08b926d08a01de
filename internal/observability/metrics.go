package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	connEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nsqwire",
			Subsystem: "conn",
			Name:      "events_total",
			Help:      "Connection lifecycle events (open, open_failed, drop, close).",
		},
		[]string{"addr", "event"},
	)
	heartbeats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nsqwire",
			Subsystem: "conn",
			Name:      "heartbeats_total",
			Help:      "Heartbeats answered with NOP.",
		},
		[]string{"addr"},
	)
	protocolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nsqwire",
			Subsystem: "conn",
			Name:      "protocol_errors_total",
			Help:      "ERROR frames received from nsqd.",
		},
		[]string{"addr", "code"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nsqwire",
			Subsystem: "conn",
			Name:      "command_duration_seconds",
			Help:      "Round trip of acknowledged commands.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"addr", "command", "success"},
	)
	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nsqwire",
			Subsystem: "consumer",
			Name:      "messages_received_total",
			Help:      "Messages delivered to the consumer queue.",
		},
		[]string{"topic", "channel"},
	)
	messageResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nsqwire",
			Subsystem: "consumer",
			Name:      "message_responses_total",
			Help:      "FIN/REQ/TOUCH commands sent for delivered messages.",
		},
		[]string{"addr", "action"},
	)
	lookupPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nsqwire",
			Subsystem: "lookup",
			Name:      "polls_total",
			Help:      "Discovery polls by result.",
		},
		[]string{"lookupd", "topic", "result"},
	)
	lookupProducers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "nsqwire",
			Subsystem: "lookup",
			Name:      "producers",
			Help:      "Producer connections currently owned by a lookup.",
		},
		[]string{"lookupd", "topic"},
	)
	published = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nsqwire",
			Subsystem: "producer",
			Name:      "published_total",
			Help:      "Messages acknowledged by nsqd.",
		},
		[]string{"topic", "command"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connEvents,
			heartbeats,
			protocolErrors,
			commandDuration,
			messagesReceived,
			messageResponses,
			lookupPolls,
			lookupProducers,
			published,
		)
	})
}

func RecordConnEvent(addr, event string) {
	RegisterMetrics()
	connEvents.WithLabelValues(addr, event).Inc()
}

func RecordHeartbeat(addr string) {
	RegisterMetrics()
	heartbeats.WithLabelValues(addr).Inc()
}

func RecordProtocolError(addr, code string) {
	RegisterMetrics()
	if code == "" {
		code = "unknown"
	}
	protocolErrors.WithLabelValues(addr, code).Inc()
}

func RecordCommand(addr, command string, duration time.Duration, success bool) {
	RegisterMetrics()
	successLabel := "false"
	if success {
		successLabel = "true"
	}
	commandDuration.WithLabelValues(addr, command, successLabel).Observe(duration.Seconds())
}

func RecordMessageReceived(topic, channel string) {
	RegisterMetrics()
	messagesReceived.WithLabelValues(topic, channel).Inc()
}

func RecordMessageResponse(addr, action string) {
	RegisterMetrics()
	messageResponses.WithLabelValues(addr, action).Inc()
}

func RecordLookupPoll(lookupd, topic, result string) {
	RegisterMetrics()
	lookupPolls.WithLabelValues(lookupd, topic, result).Inc()
}

func SetLookupProducers(lookupd, topic string, n int) {
	RegisterMetrics()
	lookupProducers.WithLabelValues(lookupd, topic).Set(float64(n))
}

func RecordPublished(topic, command string, n int) {
	RegisterMetrics()
	published.WithLabelValues(topic, command).Add(float64(n))
}
