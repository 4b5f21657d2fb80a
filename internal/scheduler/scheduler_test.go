package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kaajbazar/service-booking/internal/application"
	"github.com/kaajbazar/service-booking/internal/platform/clock"
	"github.com/kaajbazar/service-booking/internal/platform/domain"
)

type call struct {
	actor      application.Actor
	start, end time.Time
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (g *fakeGenerator) GeneratePayoutsForPeriod(_ context.Context, actor application.Actor, start, end time.Time) (*application.GeneratePayoutsResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call{actor: actor, start: start, end: end})
	if g.err != nil {
		return nil, g.err
	}
	return &application.GeneratePayoutsResult{}, nil
}

func (g *fakeGenerator) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func TestScheduler_RunOnceUsesLookbackWindow(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC))
	gen := &fakeGenerator{}
	s := New(gen, Config{LookbackDays: 2}, clk, zap.NewNop())

	require.NoError(t, s.RunOnce(context.Background()))

	require.Len(t, gen.calls, 1)
	assert.Equal(t, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), gen.calls[0].start)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), gen.calls[0].end)
	assert.True(t, gen.calls[0].actor.IsAdmin())
}

func TestScheduler_RunOnceErrors(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))

	locked := &fakeGenerator{err: domain.NewConflictError("a payout run is already in progress")}
	assert.NoError(t, New(locked, Config{}, clk, zap.NewNop()).RunOnce(context.Background()))

	broken := &fakeGenerator{err: errors.New("db down")}
	assert.Error(t, New(broken, Config{}, clk, zap.NewNop()).RunOnce(context.Background()))
}

func TestScheduler_StartAndStop(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	gen := &fakeGenerator{}
	s := New(gen, Config{RunInterval: 10 * time.Millisecond}, clk, zap.NewNop())

	stop := s.Start(context.Background())
	assert.Eventually(t, func() bool { return gen.count() >= 2 }, time.Second, 5*time.Millisecond)
	stop()

	after := gen.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, gen.count())
}
