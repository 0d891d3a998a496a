package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/avvvet/bingo-engine/internal/bingo"
	"github.com/avvvet/bingo-engine/internal/journal"
	"github.com/avvvet/bingo-engine/internal/registry"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Store persists game snapshots.
type Store interface {
	Save(ctx context.Context, snap bingo.Snapshot) error
	LoadAll(ctx context.Context) ([]bingo.Snapshot, error)
}

// History serves events that are no longer in memory.
type History interface {
	Since(ctx context.Context, stream string, after uint64) ([]bingo.Event, error)
}

// Wallet reports what a user holds.
type Wallet interface {
	Balance(ctx context.Context, user bingo.Identity) (decimal.Decimal, error)
}

// MemoryWallet reads balances from an in-memory ledger.
type MemoryWallet struct {
	Ledger *bingo.MemoryLedger
}

func (w MemoryWallet) Balance(_ context.Context, user bingo.Identity) (decimal.Decimal, error) {
	return w.Ledger.Balance(user), nil
}

var ErrNoWallet = errors.New("no wallet configured")

// Options wires the optional backends of a GameService. Any of them may be
// nil; Clock defaults to time.Now.
type Options struct {
	Store   Store
	History History
	Wallet  Wallet
	Clock   func() time.Time
}

// GameService is the one entry point the transports use. It reads the clock,
// resolves games and keeps the stored projection current.
type GameService struct {
	registry *registry.Registry
	opts     Options
}

func NewGameService(reg *registry.Registry, opts Options) *GameService {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &GameService{registry: reg, opts: opts}
}

func (s *GameService) now() time.Time { return s.opts.Clock() }

func (s *GameService) persist(ctx context.Context, g *bingo.Game) {
	if s.opts.Store == nil {
		return
	}
	if err := s.opts.Store.Save(ctx, g.Snapshot()); err != nil {
		log.WithField("game", g.ID()).Errorf("Error [GameStore.Save] %s", err)
	}
}

// Restore loads every stored game into the registry in creation order.
func (s *GameService) Restore(ctx context.Context) (int, error) {
	if s.opts.Store == nil {
		return 0, nil
	}
	snaps, err := s.opts.Store.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	sort.SliceStable(snaps, func(i, j int) bool { return snaps[i].Position < snaps[j].Position })
	for _, snap := range snaps {
		if _, err := s.registry.Restore(snap); err != nil {
			return 0, err
		}
	}
	return len(snaps), nil
}

// CreateGame stores the new game before it is announced. A game that cannot
// be stored is not created.
func (s *GameService) CreateGame(ctx context.Context, caller bingo.Identity, p registry.Params) (bingo.View, error) {
	var commit func(*bingo.Game) error
	if s.opts.Store != nil {
		commit = func(g *bingo.Game) error {
			return s.opts.Store.Save(ctx, g.Snapshot())
		}
	}
	now := s.now()
	g, err := s.registry.Create(now, caller, p, commit)
	if err != nil {
		return bingo.View{}, err
	}
	return g.View(now), nil
}

func (s *GameService) ListGames() []bingo.GameID {
	return s.registry.ListGames()
}

func (s *GameService) GetGame(id bingo.GameID) (bingo.View, error) {
	g, err := s.registry.Game(id)
	if err != nil {
		return bingo.View{}, err
	}
	return g.View(s.now()), nil
}

func (s *GameService) JoinGame(ctx context.Context, caller bingo.Identity, id bingo.GameID, paid decimal.Decimal) (bingo.Board, error) {
	g, err := s.registry.Game(id)
	if err != nil {
		return bingo.Board{}, err
	}
	board, err := g.Join(s.now(), caller, paid)
	if err != nil {
		return bingo.Board{}, err
	}
	s.persist(ctx, g)
	return board, nil
}

// DrawNumber returns the drawn number and how many numbers have been drawn.
func (s *GameService) DrawNumber(ctx context.Context, caller bingo.Identity, id bingo.GameID) (uint8, int, error) {
	g, err := s.registry.Game(id)
	if err != nil {
		return 0, 0, err
	}
	n, err := g.Draw(s.now(), caller)
	if err != nil {
		return 0, 0, err
	}
	s.persist(ctx, g)
	return n, len(g.Drawn()), nil
}

// ClaimWin persists an accepted claim even when its payout is still pending.
func (s *GameService) ClaimWin(ctx context.Context, caller bingo.Identity, id bingo.GameID) (bingo.Claim, error) {
	g, err := s.registry.Game(id)
	if err != nil {
		return bingo.Claim{}, err
	}
	claim, err := g.ClaimWin(ctx, s.now(), caller)
	if err == nil || errors.Is(err, bingo.ErrSettlementPending) {
		s.persist(ctx, g)
	}
	return claim, err
}

func (s *GameService) CheckBoard(caller bingo.Identity, id bingo.GameID) (bingo.WinResult, error) {
	g, err := s.registry.Game(id)
	if err != nil {
		return bingo.WinResult{}, err
	}
	return g.CheckBoard(caller)
}

func (s *GameService) UpdateEntryFee(ctx context.Context, caller bingo.Identity, id bingo.GameID, fee decimal.Decimal) error {
	return s.update(ctx, id, func(g *bingo.Game, now time.Time) error {
		return g.UpdateEntryFee(now, caller, fee)
	})
}

func (s *GameService) UpdateJoinWindow(ctx context.Context, caller bingo.Identity, id bingo.GameID, d time.Duration) error {
	return s.update(ctx, id, func(g *bingo.Game, now time.Time) error {
		return g.UpdateJoinWindow(now, caller, d)
	})
}

func (s *GameService) UpdateDrawCooldown(ctx context.Context, caller bingo.Identity, id bingo.GameID, d time.Duration) error {
	return s.update(ctx, id, func(g *bingo.Game, now time.Time) error {
		return g.UpdateDrawCooldown(now, caller, d)
	})
}

func (s *GameService) update(ctx context.Context, id bingo.GameID, fn func(*bingo.Game, time.Time) error) error {
	g, err := s.registry.Game(id)
	if err != nil {
		return err
	}
	if err := fn(g, s.now()); err != nil {
		return err
	}
	s.persist(ctx, g)
	return nil
}

func (s *GameService) Players(id bingo.GameID) ([]bingo.Identity, error) {
	g, err := s.registry.Game(id)
	if err != nil {
		return nil, err
	}
	return g.Players(), nil
}

func (s *GameService) Board(id bingo.GameID, player bingo.Identity) (bingo.Board, error) {
	g, err := s.registry.Game(id)
	if err != nil {
		return bingo.Board{}, err
	}
	return g.Board(player)
}

func (s *GameService) Drawn(id bingo.GameID) (bingo.Numbers, error) {
	g, err := s.registry.Game(id)
	if err != nil {
		return nil, err
	}
	return g.Drawn(), nil
}

// Events returns the events of a game with Seq > after, or the
// game_created events of the registry when id is empty. Events from before
// the last restart come from History.
func (s *GameService) Events(ctx context.Context, id bingo.GameID, after uint64) ([]bingo.Event, error) {
	if id == "" {
		return s.withHistory(ctx, journal.RegistryStream, after, s.registry.Seq(), s.registry.Events(after))
	}
	g, err := s.registry.Game(id)
	if err != nil {
		return nil, err
	}
	return s.withHistory(ctx, string(id), after, g.Seq(), g.Events(after))
}

func (s *GameService) withHistory(ctx context.Context, stream string, after, head uint64, recent []bingo.Event) ([]bingo.Event, error) {
	if s.opts.History == nil || after >= head {
		return recent, nil
	}
	first := head + 1
	if len(recent) > 0 {
		first = recent[0].Seq
	}
	if first == after+1 {
		return recent, nil
	}

	older, err := s.opts.History.Since(ctx, stream, after)
	if err != nil {
		return nil, fmt.Errorf("read event history of %s: %w", stream, err)
	}
	out := make([]bingo.Event, 0, len(older)+len(recent))
	for _, ev := range older {
		if ev.Seq < first {
			out = append(out, ev)
		}
	}
	return append(out, recent...), nil
}

func (s *GameService) Balance(ctx context.Context, user bingo.Identity) (decimal.Decimal, error) {
	if s.opts.Wallet == nil {
		return decimal.Zero, ErrNoWallet
	}
	return s.opts.Wallet.Balance(ctx, user)
}

// Reconcile retries pending payouts and persists the ones that settle.
func (s *GameService) Reconcile(ctx context.Context) error {
	settled, err := s.registry.Reconcile(ctx)
	for _, g := range settled {
		s.persist(ctx, g)
	}
	return err
}
