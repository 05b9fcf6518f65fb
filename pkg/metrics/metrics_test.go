package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestManagerRecordsCounters(t *testing.T) {
	m, err := NewManager(DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	m.RecordReferences("orders", "vendorId", "legacy-internal-id", 3)
	m.RecordReferences("orders", "vendorId", "legacy-internal-id", 2)
	m.RecordWrites("orders", "rewrite", "applied", 4)
	m.RecordWrites("orders", "rewrite", "conflict", 1)
	m.RecordDuplicatesDeleted("productvendors", 2)
	m.RecordBatch("orders", "rewrite", 15*time.Millisecond)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.referencesTotal.WithLabelValues("orders", "vendorId", "legacy-internal-id")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.writesTotal.WithLabelValues("orders", "rewrite", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writesTotal.WithLabelValues("orders", "rewrite", "conflict")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.duplicatesDeleted.WithLabelValues("productvendors")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.batchDuration))
}

func TestNilManagerIsSafe(t *testing.T) {
	var m *Manager

	assert.NotPanics(t, func() {
		m.RecordReferences("orders", "vendorId", "valid", 1)
		m.RecordWrites("orders", "rewrite", "applied", 1)
		m.RecordDuplicatesDeleted("productvendors", 1)
		m.RecordBatch("orders", "rewrite", time.Second)
	})
	assert.NoError(t, m.Push(context.Background()))
}

func TestPushWithoutGatewayIsNoop(t *testing.T) {
	m, err := NewManager(nil, nil)
	require.NoError(t, err)

	assert.NoError(t, m.Push(context.Background()))
	assert.NotNil(t, m.GetRegistry())
}
