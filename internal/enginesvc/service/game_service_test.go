package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/avvvet/bingo-engine/internal/bingo"
	"github.com/avvvet/bingo-engine/internal/registry"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time      { return c.now }
func (c *clock) Add(d time.Duration) { c.now = c.now.Add(d) }
func newClock() *clock               { return &clock{now: t0} }

type fakeStore struct {
	mu    sync.Mutex
	saved map[bingo.GameID]bingo.Snapshot
	order []bingo.GameID
	fail  error
	// reversed makes LoadAll return the newest game first
	reversed bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[bingo.GameID]bingo.Snapshot)}
}

func (s *fakeStore) Save(_ context.Context, snap bingo.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if _, ok := s.saved[snap.ID]; !ok {
		s.order = append(s.order, snap.ID)
	}
	s.saved[snap.ID] = snap
	return nil
}

func (s *fakeStore) LoadAll(context.Context) ([]bingo.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bingo.Snapshot, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.saved[id])
	}
	if s.reversed {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

type fakeHistory struct {
	events map[string][]bingo.Event
}

func (h *fakeHistory) Since(_ context.Context, stream string, after uint64) ([]bingo.Event, error) {
	var out []bingo.Event
	for _, ev := range h.events[stream] {
		if ev.Seq > after {
			out = append(out, ev)
		}
	}
	return out, nil
}

// cells yields 0..24 for the first board then cycles, so every board is
// 0..24 and draws of 10, 11, 13 and 14 complete the middle row.
type cells struct{ i int }

func (c *cells) IntN(n int) int {
	v := []int{10, 11, 13, 14}
	var out int
	if c.i < 25 {
		out = c.i
	} else {
		out = v[(c.i-25)%len(v)]
	}
	c.i++
	return out % n
}

type flakyLedger struct {
	mu   sync.Mutex
	fail bool
	paid []bingo.Payout
}

func (l *flakyLedger) Transfer(_ context.Context, p bingo.Payout) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return errors.New("ledger down")
	}
	l.paid = append(l.paid, p)
	return nil
}

var params = registry.Params{
	TurnDuration: time.Second,
	JoinDuration: 10 * time.Second,
	EntryFee:     decimal.NewFromInt(20),
}

func newService(t *testing.T, ledger bingo.Ledger, store Store, history History) (*GameService, *clock) {
	t.Helper()
	c := newClock()
	reg := registry.New(registry.Options{
		Ledger:     ledger,
		NewEntropy: func() bingo.Entropy { return &cells{} },
	})
	return NewGameService(reg, Options{Store: store, History: history, Clock: c.Now}), c
}

func TestFullGameIsPersisted(t *testing.T) {
	store := newFakeStore()
	ledger := &flakyLedger{}
	s, c := newService(t, ledger, store, nil)
	ctx := context.Background()

	view, err := s.CreateGame(ctx, "house", params)
	require.NoError(t, err)
	assert.Equal(t, bingo.Joining, view.Phase)
	id := view.ID

	for _, p := range []bingo.Identity{"alice", "bob"} {
		_, err := s.JoinGame(ctx, p, id, decimal.NewFromInt(20))
		require.NoError(t, err)
	}

	_, _, err = s.DrawNumber(ctx, "house", id)
	require.ErrorIs(t, err, bingo.ErrJoinWindowStillOpen)

	c.Add(10 * time.Second)
	for i := 1; i <= 4; i++ {
		n, count, err := s.DrawNumber(ctx, "house", id)
		require.NoError(t, err)
		assert.Equal(t, i, count)
		assert.Contains(t, []uint8{10, 11, 13, 14}, n)
		c.Add(time.Second)
	}

	res, err := s.CheckBoard("bob", id)
	require.NoError(t, err)
	assert.True(t, res.Won)

	claim, err := s.ClaimWin(ctx, "alice", id)
	require.NoError(t, err)
	assert.Equal(t, bingo.Identity("alice"), claim.Winner)
	assert.True(t, decimal.NewFromInt(40).Equal(claim.Payout.Amount))
	require.Len(t, ledger.paid, 1)

	_, err = s.ClaimWin(ctx, "bob", id)
	require.ErrorIs(t, err, bingo.ErrGameEnded)

	snap := store.saved[id]
	assert.True(t, snap.Ended)
	assert.Equal(t, bingo.Identity("alice"), snap.Winner)
	require.NotNil(t, snap.Payout)
	assert.True(t, snap.Payout.Settled)
	assert.Len(t, snap.Drawn, 4)
	assert.Len(t, snap.Players, 2)
}

func TestUnknownGame(t *testing.T) {
	s, _ := newService(t, nil, nil, nil)
	_, err := s.GetGame("nope")
	assert.ErrorIs(t, err, bingo.ErrGameNotFound)
	_, err = s.JoinGame(context.Background(), "alice", "nope", decimal.NewFromInt(20))
	assert.ErrorIs(t, err, bingo.ErrGameNotFound)
	err = s.UpdateEntryFee(context.Background(), "house", "nope", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, bingo.ErrGameNotFound)
}

func TestCreateFailsWhenGameCannotBeStored(t *testing.T) {
	store := newFakeStore()
	store.fail = errors.New("db down")
	s, _ := newService(t, nil, store, nil)
	ctx := context.Background()

	_, err := s.CreateGame(ctx, "house", params)
	require.Error(t, err)
	assert.Empty(t, s.ListGames())
	created, err := s.Events(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, created)

	store.fail = nil
	view, err := s.CreateGame(ctx, "house", params)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), store.saved[view.ID].Position)
}

func TestFailedSaveDoesNotFailTheOperation(t *testing.T) {
	store := newFakeStore()
	s, _ := newService(t, nil, store, nil)

	view, err := s.CreateGame(context.Background(), "house", params)
	require.NoError(t, err)
	store.fail = errors.New("db down")
	_, err = s.JoinGame(context.Background(), "alice", view.ID, decimal.NewFromInt(20))
	require.NoError(t, err)
}

func TestRestartContinuesCreationSequence(t *testing.T) {
	store := newFakeStore()
	s, _ := newService(t, nil, store, nil)
	ctx := context.Background()

	store.fail = errors.New("db down")
	_, err := s.CreateGame(ctx, "house", params)
	require.Error(t, err)
	store.fail = nil
	first, err := s.CreateGame(ctx, "house", params)
	require.NoError(t, err)
	seen, err := s.Events(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, seen, 1)
	last := seen[0].Seq

	restarted, _ := newService(t, nil, store, nil)
	_, err = restarted.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, []bingo.GameID{first.ID}, restarted.ListGames())

	next, err := restarted.CreateGame(ctx, "house", params)
	require.NoError(t, err)
	fresh, err := restarted.Events(ctx, "", last)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, next.ID, fresh[0].GameID)
	assert.Equal(t, last+1, fresh[0].Seq)
}

func TestRestoreKeepsCreationOrder(t *testing.T) {
	store := newFakeStore()
	s, _ := newService(t, nil, store, nil)
	ctx := context.Background()

	var ids []bingo.GameID
	for i := 0; i < 3; i++ {
		view, err := s.CreateGame(ctx, "house", params)
		require.NoError(t, err)
		ids = append(ids, view.ID)
	}
	_, err := s.JoinGame(ctx, "alice", ids[0], decimal.NewFromInt(20))
	require.NoError(t, err)
	store.reversed = true

	restarted, _ := newService(t, nil, store, nil)
	_, err = restarted.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids, restarted.ListGames())
}

func TestUpdatesArePersisted(t *testing.T) {
	store := newFakeStore()
	s, _ := newService(t, nil, store, nil)
	ctx := context.Background()

	view, err := s.CreateGame(ctx, "house", params)
	require.NoError(t, err)

	require.NoError(t, s.UpdateEntryFee(ctx, "house", view.ID, decimal.NewFromInt(50)))
	require.NoError(t, s.UpdateJoinWindow(ctx, "house", view.ID, time.Minute))
	require.NoError(t, s.UpdateDrawCooldown(ctx, "house", view.ID, 3*time.Second))
	assert.ErrorIs(t, s.UpdateEntryFee(ctx, "alice", view.ID, decimal.NewFromInt(1)), bingo.ErrNotOperator)

	cfg := store.saved[view.ID].Config
	assert.True(t, decimal.NewFromInt(50).Equal(cfg.EntryFee))
	assert.Equal(t, time.Minute, cfg.JoinDuration)
	assert.Equal(t, 3*time.Second, cfg.DrawCooldown)
}

func TestRestoreFromStore(t *testing.T) {
	store := newFakeStore()
	s, c := newService(t, nil, store, nil)
	ctx := context.Background()

	first, err := s.CreateGame(ctx, "house", params)
	require.NoError(t, err)
	second, err := s.CreateGame(ctx, "house", params)
	require.NoError(t, err)
	_, err = s.JoinGame(ctx, "alice", second.ID, decimal.NewFromInt(20))
	require.NoError(t, err)

	restarted, _ := newService(t, nil, store, nil)
	restarted.opts.Clock = c.Now
	n, err := restarted.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []bingo.GameID{first.ID, second.ID}, restarted.ListGames())

	players, err := restarted.Players(second.ID)
	require.NoError(t, err)
	assert.Equal(t, []bingo.Identity{"alice"}, players)

	_, err = restarted.JoinGame(ctx, "alice", second.ID, decimal.NewFromInt(20))
	assert.ErrorIs(t, err, bingo.ErrAlreadyJoined)
}

func TestEventsFallBackToHistory(t *testing.T) {
	store := newFakeStore()
	s, _ := newService(t, nil, store, nil)
	ctx := context.Background()

	recorded := &fakeHistory{events: map[string][]bingo.Event{}}
	view, err := s.CreateGame(ctx, "house", params)
	require.NoError(t, err)
	_, err = s.JoinGame(ctx, "alice", view.ID, decimal.NewFromInt(20))
	require.NoError(t, err)
	evs, err := s.Events(ctx, view.ID, 0)
	require.NoError(t, err)
	recorded.events[string(view.ID)] = evs
	reg, err := s.Events(ctx, "", 0)
	require.NoError(t, err)
	recorded.events["registry"] = reg

	restarted, _ := newService(t, nil, store, recorded)
	_, err = restarted.Restore(ctx)
	require.NoError(t, err)
	_, err = restarted.JoinGame(ctx, "bob", view.ID, decimal.NewFromInt(20))
	require.NoError(t, err)

	all, err := restarted.Events(ctx, view.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, uint64(1), all[0].Seq)
	assert.Equal(t, bingo.Identity("alice"), all[0].Player)
	assert.Equal(t, uint64(2), all[1].Seq)
	assert.Equal(t, bingo.Identity("bob"), all[1].Player)

	tail, err := restarted.Events(ctx, view.ID, 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, bingo.Identity("bob"), tail[0].Player)

	created, err := restarted.Events(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, view.ID, created[0].GameID)
}

func TestReconcilePersistsSettledPayout(t *testing.T) {
	store := newFakeStore()
	ledger := &flakyLedger{fail: true}
	s, c := newService(t, ledger, store, nil)
	ctx := context.Background()

	view, err := s.CreateGame(ctx, "house", params)
	require.NoError(t, err)
	_, err = s.JoinGame(ctx, "alice", view.ID, decimal.NewFromInt(20))
	require.NoError(t, err)
	c.Add(10 * time.Second)
	for i := 0; i < 4; i++ {
		_, _, err := s.DrawNumber(ctx, "house", view.ID)
		require.NoError(t, err)
		c.Add(time.Second)
	}

	_, err = s.ClaimWin(ctx, "alice", view.ID)
	require.ErrorIs(t, err, bingo.ErrSettlementPending)
	require.NotNil(t, store.saved[view.ID].Payout)
	assert.False(t, store.saved[view.ID].Payout.Settled)

	require.ErrorIs(t, s.Reconcile(ctx), bingo.ErrSettlementPending)

	ledger.fail = false
	require.NoError(t, s.Reconcile(ctx))
	assert.True(t, store.saved[view.ID].Payout.Settled)
	assert.Len(t, ledger.paid, 1)
}

func TestBalance(t *testing.T) {
	s, _ := newService(t, nil, nil, nil)
	_, err := s.Balance(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrNoWallet)

	mem := bingo.NewMemoryLedger()
	require.NoError(t, mem.Transfer(context.Background(), bingo.Payout{GameID: "g", To: "alice", Amount: decimal.NewFromInt(7)}))
	s.opts.Wallet = MemoryWallet{Ledger: mem}
	bal, err := s.Balance(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(7).Equal(bal))
}
