package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusNeedsRetry.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
}

func TestOrderStatus_IsWaiting(t *testing.T) {
	assert.True(t, StatusPending.IsWaiting())
	assert.True(t, StatusNeedsRetry.IsWaiting())
	assert.False(t, StatusRunning.IsWaiting())
	assert.False(t, StatusCompleted.IsWaiting())
	assert.False(t, StatusFailed.IsWaiting())
}

func TestOrderStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusRunning))
	assert.True(t, StatusNeedsRetry.CanTransitionTo(StatusRunning))
	assert.True(t, StatusRunning.CanTransitionTo(StatusCompleted))
	assert.True(t, StatusRunning.CanTransitionTo(StatusNeedsRetry))
	assert.True(t, StatusRunning.CanTransitionTo(StatusFailed))

	// Terminal statuses permit nothing.
	assert.False(t, StatusCompleted.CanTransitionTo(StatusRunning))
	assert.False(t, StatusFailed.CanTransitionTo(StatusNeedsRetry))

	assert.False(t, StatusPending.CanTransitionTo(StatusCompleted))
	assert.False(t, StatusNeedsRetry.CanTransitionTo(StatusFailed))
}

func TestOrderStatus_Valid(t *testing.T) {
	assert.True(t, StatusPending.Valid())
	assert.True(t, StatusRunning.Valid())
	assert.False(t, OrderStatus("archived").Valid())
	assert.False(t, OrderStatus("").Valid())
}

func TestOrder_RetryEligible(t *testing.T) {
	now := time.Now()
	recent := now.Add(-24 * time.Hour)
	old := now.Add(-36 * 24 * time.Hour)

	order := &Order{Status: StatusNeedsRetry, FirstFailureTime: &recent}
	assert.True(t, order.RetryEligible(now))

	order.FirstFailureTime = &old
	assert.False(t, order.RetryEligible(now), "36-day-old failures are outside the window")

	order.FirstFailureTime = nil
	assert.False(t, order.RetryEligible(now))

	order.Status = StatusPending
	order.FirstFailureTime = &recent
	assert.False(t, order.RetryEligible(now))
}

func TestOrder_RetryEligibleAtWindowBoundary(t *testing.T) {
	now := time.Now()
	exactly := now.Add(-RetryWindow)

	order := &Order{Status: StatusNeedsRetry, FirstFailureTime: &exactly}
	assert.True(t, order.RetryEligible(now), "the window is inclusive")

	justPast := now.Add(-RetryWindow - time.Second)
	order.FirstFailureTime = &justPast
	assert.False(t, order.RetryEligible(now))
}
