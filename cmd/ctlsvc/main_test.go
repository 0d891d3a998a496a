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

func TestControllerKeepsOneJoinableGamePerTier(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	svc := service.NewGameService(registry.New(registry.Options{}), service.Options{Clock: clock.Now})
	b := broker.NewBroker(nil, svc)

	ctl := &controller{
		engine: broker.Local{Broker: b, Caller: "house"},
		fees:   []decimal.Decimal{decimal.NewFromInt(10), decimal.NewFromInt(20)},
		template: comm.CreateGame{
			TurnDuration: comm.Duration(time.Second),
			JoinDuration: comm.Duration(30 * time.Second),
		},
		open: make(map[string]bingo.GameID),
	}
	ctx := context.Background()

	ctl.tick(ctx)
	games := svc.ListGames()
	require.Len(t, games, 2)

	first, err := svc.GetGame(games[0])
	require.NoError(t, err)
	assert.Equal(t, bingo.Identity("house"), first.Operator)
	assert.True(t, decimal.NewFromInt(10).Equal(first.Config.EntryFee))

	ctl.tick(ctx)
	assert.Len(t, svc.ListGames(), 2)

	clock.now = clock.now.Add(30 * time.Second)
	ctl.tick(ctx)
	assert.Len(t, svc.ListGames(), 4)
	assert.NotEqual(t, games[0], ctl.open["10"])
}
