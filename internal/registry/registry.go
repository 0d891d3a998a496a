package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avvvet/bingo-engine/internal/bingo"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Params are the caller-supplied settings of a new game.
type Params struct {
	TurnDuration time.Duration
	JoinDuration time.Duration
	EntryFee     decimal.Decimal
	Policy       bingo.DrawPolicy
}

// Options configures a Registry. NewEntropy is called once per game.
type Options struct {
	Ledger     bingo.Ledger
	Notifier   bingo.Notifier
	NewEntropy func() bingo.Entropy
	NewID      func() bingo.GameID
	Logger     *log.Entry
}

// Registry creates games and remembers every one of them in creation order.
type Registry struct {
	mu     sync.RWMutex
	games  []*bingo.Game
	byID   map[bingo.GameID]*bingo.Game
	seq    uint64
	events []bingo.Event

	opts Options
}

func New(opts Options) *Registry {
	if opts.Ledger == nil {
		opts.Ledger = bingo.NewMemoryLedger()
	}
	if opts.NewEntropy == nil {
		opts.NewEntropy = bingo.NewCryptoEntropy
	}
	if opts.NewID == nil {
		opts.NewID = func() bingo.GameID { return bingo.GameID(uuid.NewString()) }
	}
	if opts.Logger == nil {
		opts.Logger = log.NewEntry(log.StandardLogger())
	}
	return &Registry{
		byID: make(map[bingo.GameID]*bingo.Game),
		opts: opts,
	}
}

func (r *Registry) gameOptions() bingo.Options {
	return bingo.Options{
		Entropy:  r.opts.NewEntropy(),
		Ledger:   r.opts.Ledger,
		Notifier: r.opts.Notifier,
		Logger:   r.opts.Logger,
	}
}

// CreateGame starts a game in the Joining phase whose join window closes
// at now + p.JoinDuration and whose draw cooldown is p.TurnDuration.
func (r *Registry) CreateGame(now time.Time, operator bingo.Identity, p Params) (*bingo.Game, error) {
	return r.Create(now, operator, p, nil)
}

// Create is CreateGame with a commit step. commit runs under the registry
// lock after the game is built and before it is registered. If it fails the
// game is discarded and the registry is left as it was.
func (r *Registry) Create(now time.Time, operator bingo.Identity, p Params, commit func(*bingo.Game) error) (*bingo.Game, error) {
	if operator == "" {
		return nil, fmt.Errorf("%w: operator is required", bingo.ErrInvalidConfig)
	}
	cfg := bingo.Config{
		EntryFee:     p.EntryFee,
		JoinDuration: p.JoinDuration,
		DrawCooldown: p.TurnDuration,
		Policy:       p.Policy,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.opts.NewID()
	if _, dup := r.byID[id]; dup {
		return nil, fmt.Errorf("game id %s already in use", id)
	}
	opts := r.gameOptions()
	opts.Position = r.seq + 1
	g, err := bingo.NewGame(id, operator, now, cfg, opts)
	if err != nil {
		return nil, err
	}
	if commit != nil {
		if err := commit(g); err != nil {
			return nil, fmt.Errorf("failed to store game %s: %w", id, err)
		}
	}
	r.add(g)

	r.seq = g.Position()
	ev := bingo.Event{GameID: id, Seq: r.seq, Type: bingo.EventGameCreated, At: now, Player: operator, Amount: cfg.EntryFee, Duration: cfg.JoinDuration}
	r.events = append(r.events, ev)
	if r.opts.Notifier != nil {
		r.opts.Notifier.Notify(ev)
	}

	r.opts.Logger.WithFields(log.Fields{"game": id, "operator": operator}).
		Infof("game created: fee %s, join %s, cooldown %s, policy %s", cfg.EntryFee, cfg.JoinDuration, cfg.DrawCooldown, g.Config().Policy)
	return g, nil
}

// add must be called with r.mu held.
func (r *Registry) add(g *bingo.Game) {
	r.games = append(r.games, g)
	r.byID[g.ID()] = g
}

// Restore re-registers a previously persisted game without emitting a
// game_created event. Snapshots must be restored in Position order. The
// registry sequence resumes after the highest restored position; a snapshot
// without one is placed after the games already registered.
func (r *Registry) Restore(s bingo.Snapshot) (*bingo.Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byID[s.ID]; dup {
		return nil, fmt.Errorf("game %s already registered", s.ID)
	}
	if s.Position == 0 {
		s.Position = r.seq + 1
	}
	g, err := bingo.Restore(s, r.gameOptions())
	if err != nil {
		return nil, err
	}
	r.add(g)
	if g.Position() > r.seq {
		r.seq = g.Position()
	}
	return g, nil
}

// Seq is the sequence number of the last game_created event.
func (r *Registry) Seq() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seq
}

// ListGames returns every game id in creation order.
func (r *Registry) ListGames() []bingo.GameID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]bingo.GameID, len(r.games))
	for i, g := range r.games {
		ids[i] = g.ID()
	}
	return ids
}

// Game looks a game up by id.
func (r *Registry) Game(id bingo.GameID) (*bingo.Game, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.byID[id]
	if !ok {
		return nil, bingo.ErrGameNotFound
	}
	return g, nil
}

// Events returns game_created events with Seq > after.
func (r *Registry) Events(after uint64) []bingo.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []bingo.Event
	for _, ev := range r.events {
		if ev.Seq > after {
			out = append(out, ev)
		}
	}
	return out
}

// Reconcile retries every pending payout. It returns the games whose payout
// settled during this pass and the combined errors of those still pending.
func (r *Registry) Reconcile(ctx context.Context) ([]*bingo.Game, error) {
	r.mu.RLock()
	games := append([]*bingo.Game(nil), r.games...)
	r.mu.RUnlock()

	var (
		settled []*bingo.Game
		errs    []error
	)
	for _, g := range games {
		p, ok := g.Payout()
		if !ok || p.Settled {
			continue
		}
		if err := g.Reconcile(ctx); err != nil {
			errs = append(errs, fmt.Errorf("game %s: %w", g.ID(), err))
			continue
		}
		r.opts.Logger.WithField("game", g.ID()).Infof("payout of %s to %s settled", p.Amount, p.To)
		settled = append(settled, g)
	}
	return settled, errors.Join(errs...)
}
