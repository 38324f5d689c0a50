package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectPolicyGivesUpAfterMaxAttempts(t *testing.T) {
	p := newReconnectPolicy(time.Millisecond, 2)
	ctx := context.Background()

	assert.True(t, p.Wait(ctx))
	assert.True(t, p.Wait(ctx))
	assert.False(t, p.Wait(ctx))
}

func TestReconnectPolicyResetRearmsBudget(t *testing.T) {
	p := newReconnectPolicy(time.Millisecond, 1)
	ctx := context.Background()

	assert.True(t, p.Wait(ctx))
	assert.False(t, p.Wait(ctx))

	p.Reset()
	assert.True(t, p.Wait(ctx))
}

func TestReconnectPolicyHonorsContextCancel(t *testing.T) {
	p := newReconnectPolicy(time.Minute, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan bool, 1)
	go func() { done <- p.Wait(ctx) }()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return on cancelled context")
	}
}
