package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorAggregates(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpPhaseExecute, 10*time.Millisecond)
	c.RecordTiming(OpPhaseExecute, 30*time.Millisecond)
	c.RecordFailure(OpPhaseExecute, 20*time.Millisecond)

	snap := c.Snapshot()
	require.NotNil(t, snap.PhaseExecute)
	assert.Equal(t, int64(3), snap.PhaseExecute.Count)
	assert.Equal(t, int64(1), snap.PhaseExecute.Failures)
	assert.Equal(t, int64(60), snap.PhaseExecute.TotalTimeMs)
	assert.Equal(t, 20.0, snap.PhaseExecute.AvgTimeMs)
	assert.Equal(t, int64(10), snap.PhaseExecute.MinTimeMs)
	assert.Equal(t, int64(30), snap.PhaseExecute.MaxTimeMs)
	assert.Nil(t, snap.Classify)
}

func TestCollectorObserve(t *testing.T) {
	c := NewCollector()
	c.Observe(OpClassify, time.Now(), nil)
	c.Observe(OpClassify, time.Now(), errors.New("boom"))

	op := c.Operation(OpClassify)
	require.NotNil(t, op)
	assert.Equal(t, int64(2), op.Count)
	assert.Equal(t, int64(1), op.Failures)
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.RecordTiming(OpCheckpointWrite, time.Second)
	assert.Nil(t, c.Operation(OpCheckpointWrite))
	assert.Equal(t, Snapshot{}, c.Snapshot())
}
