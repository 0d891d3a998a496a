package main

import (
	"context"
	"testing"
	"time"

	"github.com/avvvet/bingo-engine/internal/bingo"
	"github.com/avvvet/bingo-engine/internal/comm"
	"github.com/avvvet/bingo-engine/internal/enginesvc/broker"
	"github.com/avvvet/bingo-engine/internal/enginesvc/service"
	"github.com/avvvet/bingo-engine/internal/registry"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func setup(t *testing.T) (*caller, *service.GameService, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	svc := service.NewGameService(registry.New(registry.Options{}), service.Options{Clock: clock.Now})
	b := broker.NewBroker(nil, svc)

	c := newCaller(broker.Local{Broker: b, Caller: "house"}, "house")
	c.now = clock.Now
	c.sleep = func(ctx context.Context, d time.Duration) bool {
		if d > 0 {
			clock.now = clock.now.Add(d)
		}
		return ctx.Err() == nil
	}
	return c, svc, clock
}

func TestRunDrawsUntilThePoolIsExhausted(t *testing.T) {
	c, svc, _ := setup(t)
	ctx := context.Background()

	view, err := svc.CreateGame(ctx, "house", registry.Params{
		TurnDuration: 2 * time.Second,
		JoinDuration: 30 * time.Second,
		EntryFee:     decimal.NewFromInt(10),
		Policy:       bingo.WithoutReplacement,
	})
	require.NoError(t, err)

	c.run(ctx, view.ID)

	drawn, err := svc.Drawn(view.ID)
	require.NoError(t, err)
	assert.Len(t, drawn, bingo.MaxNumber+1)
}

func TestRunStopsWhenTheGameIsWon(t *testing.T) {
	c, svc, clock := setup(t)
	ctx := context.Background()

	view, err := svc.CreateGame(ctx, "house", registry.Params{
		TurnDuration: time.Second,
		JoinDuration: 30 * time.Second,
		EntryFee:     decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	_, err = svc.JoinGame(ctx, "alice", view.ID, decimal.NewFromInt(10))
	require.NoError(t, err)

	// alice claims as soon as her board wins
	sleep := c.sleep
	c.sleep = func(ctx context.Context, d time.Duration) bool {
		if drawn, _ := svc.Drawn(view.ID); len(drawn) >= bingo.MinDrawsToCheck {
			if res, err := svc.CheckBoard("alice", view.ID); err == nil && res.Won {
				_, err := svc.ClaimWin(ctx, "alice", view.ID)
				require.NoError(t, err)
			}
		}
		return sleep(ctx, d)
	}

	c.run(ctx, view.ID)

	got, err := svc.GetGame(view.ID)
	require.NoError(t, err)
	assert.Equal(t, bingo.Ended, got.Phase)
	assert.Equal(t, bingo.Identity("alice"), got.Winner)
	assert.True(t, clock.now.After(view.JoinDeadline))
}

func TestOnEventIgnoresOtherOperators(t *testing.T) {
	c, _, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c.onEvent(ctx, bingo.Event{Type: bingo.EventGameCreated, GameID: "g", Player: "someone-else"})
	c.mu.Lock()
	assert.Empty(t, c.running)
	c.mu.Unlock()

	c.onEvent(ctx, bingo.Event{Type: bingo.EventGameWon, GameID: "g"})
	c.wait()
}

func TestStartAndStop(t *testing.T) {
	c, _, _ := setup(t)
	ctx := context.Background()
	block := make(chan struct{})
	c.engine = engineFunc(func(ctx context.Context, msgType string, req, out interface{}) error {
		<-ctx.Done()
		close(block)
		return ctx.Err()
	})

	c.onEvent(ctx, bingo.Event{Type: bingo.EventGameCreated, GameID: "g", Player: "house"})
	c.onEvent(ctx, bingo.Event{Type: bingo.EventGameCreated, GameID: "g", Player: "house"})
	c.mu.Lock()
	assert.Len(t, c.running, 1)
	c.mu.Unlock()

	c.onEvent(ctx, bingo.Event{Type: bingo.EventGameWon, GameID: "g"})
	<-block
	c.wait()
	c.mu.Lock()
	assert.Empty(t, c.running)
	c.mu.Unlock()
}

type engineFunc func(ctx context.Context, msgType string, req, out interface{}) error

func (f engineFunc) Call(ctx context.Context, msgType string, req, out interface{}) error {
	return f(ctx, msgType, req, out)
}

var _ comm.Engine = engineFunc(nil)
