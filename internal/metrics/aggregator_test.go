package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestName(t *testing.T) {
	assert.Equal(t, "acc.conv.messages_sent", Name("acc", "conv", "messages_sent"))
}

func TestRegisterOnce(t *testing.T) {
	a := NewAggregator()
	assert.True(t, a.Register("a.b.c"))
	assert.False(t, a.Register("a.b.c"))
	assert.Equal(t, 1, a.Registered())
}

func TestLastValueWinsAndFlushClears(t *testing.T) {
	a := NewAggregator()
	a.Set("acc.c2.sent", 1)
	a.Set("acc.c1.sent", 5)
	a.Set("acc.c1.sent", 7)

	samples := a.Flush()
	require.Len(t, samples, 2)
	assert.Equal(t, "acc.c1.sent", samples[0].Name)
	assert.Equal(t, 7.0, samples[0].Value)
	assert.Equal(t, "acc.c2.sent", samples[1].Name)

	assert.Empty(t, a.Flush())
}

func TestIdleNamesAreForgotten(t *testing.T) {
	a := NewAggregator()
	a.Set("acc.retired.sent", 1)
	a.Set("acc.live.sent", 1)
	a.Flush()
	assert.Equal(t, 2, a.Registered())

	a.Set("acc.live.sent", 2)
	a.Flush()
	assert.Equal(t, 1, a.Registered())
	assert.True(t, a.Register("acc.retired.sent"))
}

type recordingPublisher struct {
	mu    sync.Mutex
	calls [][]Sample
	err   error
}

func (p *recordingPublisher) PublishMetrics(_ context.Context, samples []Sample) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, samples)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func TestRunPublishesAndFlushesOnShutdown(t *testing.T) {
	a := NewAggregator()
	pub := &recordingPublisher{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		a.Run(ctx, 10*time.Millisecond, pub, nil)
		close(done)
	}()

	a.Set("acc.c.sent", 3)
	assert.Eventually(t, func() bool { return pub.count() >= 1 }, time.Second, 5*time.Millisecond)

	a.Set("acc.c.sent", 4)
	cancel()
	<-done

	pub.mu.Lock()
	defer pub.mu.Unlock()
	last := pub.calls[len(pub.calls)-1]
	require.Len(t, last, 1)
	assert.Equal(t, 4.0, last[0].Value)
}

func TestRunSurvivesPublishErrors(t *testing.T) {
	a := NewAggregator()
	pub := &recordingPublisher{err: errors.New("broker down")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go a.Run(ctx, 5*time.Millisecond, pub, nil)

	a.Set("x.y.z", 1)
	assert.Eventually(t, func() bool { return pub.count() >= 1 }, time.Second, 5*time.Millisecond)
	a.Set("x.y.z", 2)
	assert.Eventually(t, func() bool { return pub.count() >= 2 }, time.Second, 5*time.Millisecond)
}
