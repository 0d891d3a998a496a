package bingo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// MinDrawsToCheck is the number of draws required before a board can be
// checked or claimed.
const MinDrawsToCheck = 4

// Identity identifies a caller: the operator or a player.
type Identity string

// GameID is an opaque game handle assigned by the registry.
type GameID string

// Phase is derived from the clock and the ended flag; see Game.Phase.
type Phase int

const (
	Joining Phase = iota
	Drawing
	Ended
)

func (p Phase) String() string {
	switch p {
	case Joining:
		return "joining"
	case Drawing:
		return "drawing"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(text []byte) error {
	switch string(text) {
	case "joining":
		*p = Joining
	case "drawing":
		*p = Drawing
	case "ended":
		*p = Ended
	default:
		return fmt.Errorf("unknown phase %q", text)
	}
	return nil
}

// DrawPolicy decides whether a value may be drawn more than once.
type DrawPolicy string

const (
	WithReplacement    DrawPolicy = "replacement"
	WithoutReplacement DrawPolicy = "unique"
)

// ParseDrawPolicy accepts "replacement", "unique" or "" (replacement).
func ParseDrawPolicy(s string) (DrawPolicy, error) {
	switch DrawPolicy(s) {
	case "", WithReplacement:
		return WithReplacement, nil
	case WithoutReplacement:
		return WithoutReplacement, nil
	}
	return "", fmt.Errorf("%w: unknown draw policy %q", ErrInvalidConfig, s)
}

// Config is the operator-controlled part of a game.
type Config struct {
	EntryFee     decimal.Decimal `json:"entry_fee"`
	JoinDuration time.Duration   `json:"join_duration"`
	DrawCooldown time.Duration   `json:"draw_cooldown"`
	Policy       DrawPolicy      `json:"draw_policy"`
}

func (c Config) validate() error {
	if c.EntryFee.IsNegative() {
		return fmt.Errorf("%w: entry fee must not be negative", ErrInvalidConfig)
	}
	if c.JoinDuration < 0 {
		return fmt.Errorf("%w: join duration must not be negative", ErrInvalidConfig)
	}
	if c.DrawCooldown < 0 {
		return fmt.Errorf("%w: draw cooldown must not be negative", ErrInvalidConfig)
	}
	if _, err := ParseDrawPolicy(string(c.Policy)); err != nil {
		return err
	}
	return nil
}

// Options carries a game's collaborators. Zero values get defaults:
// crypto entropy, an in-memory ledger, no notifier and the standard logger.
type Options struct {
	Entropy  Entropy
	Ledger   Ledger
	Notifier Notifier
	Logger   *log.Entry

	// Position is the sequence number of the game's game_created event in
	// the registry that owns it.
	Position uint64
}

func (o Options) withDefaults(id GameID, operator Identity) Options {
	if o.Entropy == nil {
		o.Entropy = NewCryptoEntropy()
	}
	if o.Ledger == nil {
		o.Ledger = NewMemoryLedger()
	}
	if o.Notifier == nil {
		o.Notifier = nopNotifier{}
	}
	if o.Logger == nil {
		o.Logger = log.NewEntry(log.StandardLogger())
	}
	o.Logger = o.Logger.WithFields(log.Fields{"game": id, "operator": operator})
	return o
}

// Game is one bingo match. All methods are safe for concurrent use; every
// operation runs under the game's mutex and either commits fully or
// returns an error without changing anything.
type Game struct {
	mu sync.Mutex

	id        GameID
	operator  Identity
	createdAt time.Time
	position  uint64
	cfg       Config

	players    []Identity
	boards     map[Identity]Board
	drawn      []uint8
	lastDrawAt time.Time
	pot        decimal.Decimal
	winner     Identity
	ended      bool
	payout     *Payout

	seq    uint64
	events []Event

	entropy  Entropy
	ledger   Ledger
	notifier Notifier
	log      *log.Entry
}

// NewGame returns a game in the Joining phase whose join window closes at
// createdAt + cfg.JoinDuration.
func NewGame(id GameID, operator Identity, createdAt time.Time, cfg Config, opts Options) (*Game, error) {
	if cfg.Policy == "" {
		cfg.Policy = WithReplacement
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults(id, operator)
	return &Game{
		id:        id,
		operator:  operator,
		createdAt: createdAt,
		position:  opts.Position,
		cfg:       cfg,
		boards:    make(map[Identity]Board),
		pot:       decimal.Zero,
		entropy:   opts.Entropy,
		ledger:    opts.Ledger,
		notifier:  opts.Notifier,
		log:       opts.Logger,
	}, nil
}

func (g *Game) ID() GameID           { return g.id }
func (g *Game) Operator() Identity   { return g.operator }
func (g *Game) CreatedAt() time.Time { return g.createdAt }
func (g *Game) Position() uint64     { return g.position }

func (g *Game) deadline() time.Time {
	return g.createdAt.Add(g.cfg.JoinDuration)
}

func (g *Game) phase(now time.Time) Phase {
	switch {
	case g.ended:
		return Ended
	case now.Before(g.deadline()):
		return Joining
	default:
		return Drawing
	}
}

// Phase returns the phase at now.
func (g *Game) Phase(now time.Time) Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase(now)
}

// Config returns the current configuration.
func (g *Game) Config() Config {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg
}

// JoinDeadline returns the instant the join window closes.
func (g *Game) JoinDeadline() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.deadline()
}

// Players returns joined players in join order.
func (g *Game) Players() []Identity {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Identity(nil), g.players...)
}

// Board returns the board generated for player when they joined.
func (g *Game) Board(player Identity) (Board, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.boards[player]
	if !ok {
		return Board{}, ErrNotAPlayer
	}
	return b, nil
}

// Drawn returns the drawn numbers in draw order.
func (g *Game) Drawn() Numbers {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]uint8(nil), g.drawn...)
}

// Pot returns the escrowed entry fees. It is zero once the game is won.
func (g *Game) Pot() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pot
}

// Winner returns the winner, if any.
func (g *Game) Winner() (Identity, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.winner, g.ended
}

// Payout returns the winner's payout once the game has ended.
func (g *Game) Payout() (Payout, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.payout == nil {
		return Payout{}, false
	}
	return *g.payout, true
}

// Events returns the events with Seq > after.
func (g *Game) Events(after uint64) []Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	return eventsSince(g.events, after)
}

// Seq returns the sequence number of the last committed event.
func (g *Game) Seq() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}

// emit must be called with g.mu held, after the state change is applied.
func (g *Game) emit(ev Event) {
	g.seq++
	ev.GameID = g.id
	ev.Seq = g.seq
	g.events = append(g.events, ev)
	g.notifier.Notify(ev)
}

// Join registers player for paid, which must equal the entry fee exactly,
// and returns the board generated for them.
func (g *Game) Join(now time.Time, player Identity, paid decimal.Decimal) (Board, error) {
	if player == "" {
		return Board{}, ErrNoIdentity
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase(now) != Joining {
		return Board{}, ErrJoinWindowClosed
	}
	if _, ok := g.boards[player]; ok {
		return Board{}, ErrAlreadyJoined
	}
	if !paid.Equal(g.cfg.EntryFee) {
		return Board{}, ErrIncorrectFee
	}

	board := GenerateBoard(g.entropy)
	g.players = append(g.players, player)
	g.boards[player] = board
	g.pot = g.pot.Add(paid)

	g.emit(Event{Type: EventPlayerJoined, At: now, Player: player, Amount: paid})
	g.log.WithField("player", player).Infof("player joined, pot %s", g.pot)
	return board, nil
}

// Draw appends one number to the drawn sequence. Only the operator may
// draw, only after the join window, and at most once per cooldown.
func (g *Game) Draw(now time.Time, caller Identity) (uint8, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if caller != g.operator {
		return 0, ErrNotOperator
	}
	switch g.phase(now) {
	case Joining:
		return 0, ErrJoinWindowStillOpen
	case Ended:
		return 0, ErrGameEnded
	}
	if len(g.drawn) > 0 && now.Before(g.lastDrawAt.Add(g.cfg.DrawCooldown)) {
		return 0, ErrDrawCooldownActive
	}

	n, err := g.next()
	if err != nil {
		return 0, err
	}
	g.drawn = append(g.drawn, n)
	g.lastDrawAt = now

	g.emit(Event{Type: EventNumberDrawn, At: now, Number: &n})
	g.log.Infof("number %d drawn (%d total)", n, len(g.drawn))
	return n, nil
}

func (g *Game) next() (uint8, error) {
	if g.cfg.Policy != WithoutReplacement {
		return uint8(g.entropy.IntN(MaxNumber + 1)), nil
	}
	var used [MaxNumber + 1]bool
	for _, n := range g.drawn {
		used[n] = true
	}
	free := make([]uint8, 0, MaxNumber+1-len(g.drawn))
	for v := 0; v <= MaxNumber; v++ {
		if !used[v] {
			free = append(free, uint8(v))
		}
	}
	if len(free) == 0 {
		return 0, ErrDrawPoolExhausted
	}
	return free[g.entropy.IntN(len(free))], nil
}

// CheckBoard evaluates caller's board against the numbers drawn so far
// without changing anything. It stays available after the game ends.
func (g *Game) CheckBoard(caller Identity) (WinResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	board, ok := g.boards[caller]
	if !ok {
		return WinResult{}, ErrNotAPlayer
	}
	if len(g.drawn) < MinDrawsToCheck {
		return WinResult{}, ErrTooFewDraws
	}
	return CheckWin(board, g.drawn), nil
}

// Claim is an accepted win.
type Claim struct {
	Winner Identity  `json:"winner"`
	Result WinResult `json:"result"`
	Payout Payout    `json:"payout"`
}

// ClaimWin ends the game in caller's favour if their board has a complete
// line, and pays them the whole pot. The state change commits before the
// ledger is called; if the transfer fails the claim stands, the payout
// stays pending and the returned error wraps ErrSettlementPending.
func (g *Game) ClaimWin(ctx context.Context, now time.Time, caller Identity) (Claim, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	board, ok := g.boards[caller]
	if !ok {
		return Claim{}, ErrNotAPlayer
	}
	if g.ended {
		return Claim{}, ErrGameEnded
	}
	if len(g.drawn) < MinDrawsToCheck {
		return Claim{}, ErrTooFewDraws
	}
	res := CheckWin(board, g.drawn)
	if !res.Won {
		g.log.WithField("player", caller).Debug("claim rejected, no winning line")
		return Claim{}, ErrNoWinningLine
	}

	g.winner = caller
	g.ended = true
	g.payout = &Payout{GameID: g.id, To: caller, Amount: g.pot, At: now}
	g.pot = decimal.Zero

	line := res.Line
	g.emit(Event{Type: EventGameWon, At: now, Player: caller, Amount: g.payout.Amount, Line: &line})
	g.log.WithField("player", caller).Infof("game won on %s with %v, paying %s", res.Line, res.Numbers, g.payout.Amount)

	err := g.settle(ctx)
	return Claim{Winner: caller, Result: res, Payout: *g.payout}, err
}

// settle must be called with g.mu held.
func (g *Game) settle(ctx context.Context) error {
	if g.payout == nil || g.payout.Settled {
		return nil
	}
	if err := g.ledger.Transfer(ctx, *g.payout); err != nil {
		g.log.Errorf("payout of %s to %s failed: %s", g.payout.Amount, g.payout.To, err)
		return fmt.Errorf("%w: %w", ErrSettlementPending, err)
	}
	g.payout.Settled = true
	return nil
}

// Reconcile retries a pending payout. It is a no-op when nothing is pending.
func (g *Game) Reconcile(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.settle(ctx)
}

// configurable checks the preconditions shared by the Update operations.
func (g *Game) configurable(now time.Time, caller Identity) error {
	if caller != g.operator {
		return ErrNotOperator
	}
	if g.phase(now) != Joining {
		return ErrConfigLocked
	}
	return nil
}

// UpdateEntryFee changes the fee for players who join from now on.
func (g *Game) UpdateEntryFee(now time.Time, caller Identity, fee decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.configurable(now, caller); err != nil {
		return err
	}
	if fee.IsNegative() {
		return fmt.Errorf("%w: entry fee must not be negative", ErrInvalidConfig)
	}
	g.cfg.EntryFee = fee
	g.emit(Event{Type: EventEntryFeeUpdated, At: now, Amount: fee})
	g.log.Infof("entry fee updated to %s", fee)
	return nil
}

// UpdateJoinWindow sets the join duration. The deadline stays relative to
// the game's creation time.
func (g *Game) UpdateJoinWindow(now time.Time, caller Identity, d time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.configurable(now, caller); err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("%w: join duration must not be negative", ErrInvalidConfig)
	}
	g.cfg.JoinDuration = d
	g.emit(Event{Type: EventJoinWindowUpdated, At: now, Duration: d})
	g.log.Infof("join window updated to %s, closes at %s", d, g.deadline().Format(time.RFC3339))
	return nil
}

// UpdateDrawCooldown sets the minimum time between draws.
func (g *Game) UpdateDrawCooldown(now time.Time, caller Identity, d time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.configurable(now, caller); err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("%w: draw cooldown must not be negative", ErrInvalidConfig)
	}
	g.cfg.DrawCooldown = d
	g.emit(Event{Type: EventDrawCooldownUpdated, At: now, Duration: d})
	g.log.Infof("draw cooldown updated to %s", d)
	return nil
}
