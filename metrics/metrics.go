// Package metrics exposes Prometheus counters for the content workflow engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "contentflow"

// Collector groups the workflow counters. A nil *Collector is valid and
// records nothing.
type Collector struct {
	transitions     *prometheus.CounterVec
	guardRejections *prometheus.CounterVec
	invalid         *prometheus.CounterVec
	actionFailures  *prometheus.CounterVec
	rollbacks       *prometheus.CounterVec
}

// NewCollector creates the counters and registers them with reg.
// A nil reg leaves them unregistered.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Committed workflow transitions.",
		}, []string{"from", "to", "event"}),
		guardRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_rejections_total",
			Help:      "Transitions rejected by a guard.",
		}, []string{"guard", "event"}),
		invalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_transitions_total",
			Help:      "Requested events with no edge from the current state.",
		}, []string{"state", "event"}),
		actionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_failures_total",
			Help:      "Post-commit actions that failed.",
		}, []string{"action"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Administrative rollbacks.",
		}, []string{"to"}),
	}
	if reg != nil {
		reg.MustRegister(c.transitions, c.guardRejections, c.invalid, c.actionFailures, c.rollbacks)
	}
	return c
}

// Transition counts a committed transition.
func (c *Collector) Transition(from, to, event string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(from, to, event).Inc()
}

// GuardRejected counts a guard rejection.
func (c *Collector) GuardRejected(guard, event string) {
	if c == nil {
		return
	}
	c.guardRejections.WithLabelValues(guard, event).Inc()
}

// InvalidTransition counts an event requested from a state with no matching edge.
func (c *Collector) InvalidTransition(state, event string) {
	if c == nil {
		return
	}
	c.invalid.WithLabelValues(state, event).Inc()
}

// ActionFailed counts a failed action.
func (c *Collector) ActionFailed(action string) {
	if c == nil {
		return
	}
	c.actionFailures.WithLabelValues(action).Inc()
}

// Rollback counts a rollback.
func (c *Collector) Rollback(to string) {
	if c == nil {
		return
	}
	c.rollbacks.WithLabelValues(to).Inc()
}

// Transitions returns the committed-transitions counter.
func (c *Collector) Transitions() *prometheus.CounterVec { return c.transitions }

// GuardRejections returns the guard-rejections counter.
func (c *Collector) GuardRejections() *prometheus.CounterVec { return c.guardRejections }

// InvalidTransitions returns the invalid-transitions counter.
func (c *Collector) InvalidTransitions() *prometheus.CounterVec { return c.invalid }

// ActionFailures returns the action-failures counter.
func (c *Collector) ActionFailures() *prometheus.CounterVec { return c.actionFailures }

// Rollbacks returns the rollbacks counter.
func (c *Collector) Rollbacks() *prometheus.CounterVec { return c.rollbacks }
