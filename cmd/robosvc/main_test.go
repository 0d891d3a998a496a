package main

import (
	"context"
	"sync"
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

type queue struct {
	mu     sync.Mutex
	events []bingo.Event
}

func (q *queue) Notify(ev bingo.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
}

func (q *queue) drain() []bingo.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}

type world struct {
	svc   *service.GameService
	clock *testClock
	queue *queue
	bots  *robots
}

func newWorld(ids ...string) *world {
	q := &queue{}
	clock := &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	svc := service.NewGameService(registry.New(registry.Options{Notifier: q}), service.Options{Clock: clock.Now})
	b := broker.NewBroker(nil, svc)
	bots := newRobots(ids, func(id bingo.Identity) comm.Engine {
		return broker.Local{Broker: b, Caller: string(id)}
	})
	return &world{svc: svc, clock: clock, queue: q, bots: bots}
}

func (w *world) deliver(ctx context.Context) {
	for {
		evs := w.queue.drain()
		if len(evs) == 0 {
			return
		}
		for _, ev := range evs {
			w.bots.handle(ctx, ev)
		}
	}
}

func TestRobotsJoinAndClaim(t *testing.T) {
	w := newWorld("robot-1", "robot-2")
	ctx := context.Background()

	view, err := w.svc.CreateGame(ctx, "house", registry.Params{
		TurnDuration: time.Second,
		JoinDuration: 30 * time.Second,
		EntryFee:     decimal.NewFromInt(10),
		Policy:       bingo.WithoutReplacement,
	})
	require.NoError(t, err)
	w.deliver(ctx)

	players, err := w.svc.Players(view.ID)
	require.NoError(t, err)
	assert.Equal(t, []bingo.Identity{"robot-1", "robot-2"}, players)

	st := w.bots.games[view.ID]
	require.NotNil(t, st)
	for _, p := range players {
		board, err := w.svc.Board(view.ID, p)
		require.NoError(t, err)
		assert.Equal(t, board, st.Boards[p])
	}

	w.clock.now = w.clock.now.Add(30 * time.Second)
	for i := 0; i <= bingo.MaxNumber; i++ {
		if got, _ := w.svc.GetGame(view.ID); got.Phase == bingo.Ended {
			break
		}
		_, _, err := w.svc.DrawNumber(ctx, "house", view.ID)
		require.NoError(t, err)
		w.deliver(ctx)
		w.clock.now = w.clock.now.Add(time.Second)
	}

	got, err := w.svc.GetGame(view.ID)
	require.NoError(t, err)
	require.Equal(t, bingo.Ended, got.Phase)
	assert.Contains(t, players, got.Winner)
	assert.True(t, decimal.NewFromInt(20).Equal(got.Payout.Amount))
	assert.NotContains(t, w.bots.games, view.ID)
}

func TestRobotsResyncAfterMissedEvents(t *testing.T) {
	w := newWorld("robot-1")
	ctx := context.Background()

	view, err := w.svc.CreateGame(ctx, "house", registry.Params{
		TurnDuration: time.Second,
		JoinDuration: 30 * time.Second,
		EntryFee:     decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	w.deliver(ctx)

	w.clock.now = w.clock.now.Add(30 * time.Second)
	for i := 0; i < 3; i++ {
		_, _, err := w.svc.DrawNumber(ctx, "house", view.ID)
		require.NoError(t, err)
		w.clock.now = w.clock.now.Add(time.Second)
	}
	evs := w.queue.drain()
	require.Len(t, evs, 3)

	// only the last draw arrives
	w.bots.handle(ctx, evs[2])

	st := w.bots.games[view.ID]
	require.NotNil(t, st)
	drawn, err := w.svc.Drawn(view.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint8(drawn), st.Drawn)
	assert.Equal(t, evs[2].Seq, st.Seq)

	// a late duplicate is ignored
	w.bots.handle(ctx, evs[1])
	assert.Len(t, st.Drawn, 3)
}

func TestRobotsIgnoreUnknownGames(t *testing.T) {
	w := newWorld("robot-1")
	n := uint8(3)
	w.bots.handle(context.Background(), bingo.Event{GameID: "other", Seq: 1, Type: bingo.EventNumberDrawn, Number: &n})
	assert.Empty(t, w.bots.games)
}
