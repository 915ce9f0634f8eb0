package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.Transition("draft", "review", "SUBMIT_FOR_REVIEW")
	c.Transition("draft", "review", "SUBMIT_FOR_REVIEW")
	c.GuardRejected("hasApprovalPermission", "APPROVE")
	c.InvalidTransition("archived", "PUBLISH")
	c.ActionFailed("notifyAuthor")
	c.Rollback("draft")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.transitions.WithLabelValues("draft", "review", "SUBMIT_FOR_REVIEW")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.guardRejections.WithLabelValues("hasApprovalPermission", "APPROVE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.invalid.WithLabelValues("archived", "PUBLISH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.actionFailures.WithLabelValues("notifyAuthor")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rollbacks.WithLabelValues("draft")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 5)
}

func TestCollector_Nil(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.Transition("a", "b", "c")
		c.GuardRejected("g", "e")
		c.InvalidTransition("s", "e")
		c.ActionFailed("a")
		c.Rollback("draft")
	})
}
