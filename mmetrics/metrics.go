// Package mmetrics contains the Prometheus metrics for a murmur node.
//
// Every method on [*Metrics] is safe to call on a nil receiver,
// so components can treat metrics as optional.
package mmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "murmur"

// Fanout RPC outcomes, used as the "result" label.
const (
	FanoutSent    = "sent"
	FanoutFailed  = "failed"
	FanoutAborted = "aborted"
)

// Metrics holds the collectors for one node.
type Metrics struct {
	messages       *prometheus.CounterVec
	valuesRecorded prometheus.Counter
	duplicates     prometheus.Counter
	fanout         *prometheus.CounterVec
	storeValues    prometheus.Gauge
	journalErrors  prometheus.Counter
}

// New creates the collectors and registers them on reg.
// It panics if registration fails,
// which only happens when reg already has murmur collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound messages handled, by message type.",
		}, []string{"type"}),
		valuesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "values_recorded_total",
			Help:      "Values learned for the first time.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_values_total",
			Help:      "Broadcasts carrying an already known value.",
		}),
		fanout: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_rpcs_total",
			Help:      "Fanout RPCs to neighbors, by result.",
		}, []string{"result"}),
		storeValues: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_values",
			Help:      "Number of values in the value store.",
		}),
		journalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_errors_total",
			Help:      "Failed attempts to persist a learned value.",
		}),
	}

	reg.MustRegister(
		m.messages,
		m.valuesRecorded,
		m.duplicates,
		m.fanout,
		m.storeValues,
		m.journalErrors,
	)

	return m
}

func (m *Metrics) ObserveMessage(typ string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(typ).Inc()
}

// ObserveRecorded counts a newly learned value
// and sets the store size gauge to storeLen.
func (m *Metrics) ObserveRecorded(storeLen int) {
	if m == nil {
		return
	}
	m.valuesRecorded.Inc()
	m.storeValues.Set(float64(storeLen))
}

func (m *Metrics) ObserveDuplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

// ObserveFanout counts n fanout RPCs with the given result,
// one of [FanoutSent], [FanoutFailed], or [FanoutAborted].
func (m *Metrics) ObserveFanout(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.fanout.WithLabelValues(result).Add(float64(n))
}

// SetStoreValues sets the store size gauge,
// for instance after restoring from a journal.
func (m *Metrics) SetStoreValues(n int) {
	if m == nil {
		return
	}
	m.storeValues.Set(float64(n))
}

func (m *Metrics) ObserveJournalError() {
	if m == nil {
		return
	}
	m.journalErrors.Inc()
}
