package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveDecision("ban", false)
	m.ObserveDecision("ban", false)
	m.ObserveDegraded("ban", "timeout")

	assert.InDelta(t, 2, testutil.ToFloat64(m.EnforcementDecisions.WithLabelValues("ban", "denied")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.EnforcementDegraded.WithLabelValues("ban", "timeout")), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	// a second set on the same registry is a programming error
	assert.Panics(t, func() { New(reg) })
}

func TestNewWithoutRegistry(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil)
		New(nil)
	})
}
