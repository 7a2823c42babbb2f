package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerage/config"
	"brokerage/models"
)

type countingTarget struct{ n atomic.Int32 }

func (c *countingTarget) Trigger(t models.RefreshTrigger) bool {
	if t == models.TriggerSchedule {
		c.n.Add(1)
	}
	return true
}

func TestIntervalFiresScheduleTrigger(t *testing.T) {
	target := &countingTarget{}
	s := New(config.SchedulerConfig{Interval: 10 * time.Millisecond}, target)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	require.Eventually(t, func() bool { return target.n.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestInvalidCronRejected(t *testing.T) {
	s := New(config.SchedulerConfig{Cron: "not a cron"}, &countingTarget{})
	err := s.Start(context.Background())
	assert.Error(t, err)
}

func TestNoScheduleIsValid(t *testing.T) {
	s := New(config.SchedulerConfig{}, &countingTarget{})
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}
