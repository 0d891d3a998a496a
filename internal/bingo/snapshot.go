package bingo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PlayerBoard is a joined player and their board.
type PlayerBoard struct {
	Player Identity `json:"player"`
	Board  Board    `json:"board"`
}

// Snapshot is the durable record of a game.
type Snapshot struct {
	ID         GameID          `json:"id"`
	Operator   Identity        `json:"operator"`
	CreatedAt  time.Time       `json:"created_at"`
	Position   uint64          `json:"position"`
	Config     Config          `json:"config"`
	Players    []PlayerBoard   `json:"players"`
	Drawn      Numbers         `json:"drawn"`
	LastDrawAt time.Time       `json:"last_draw_at"`
	Pot        decimal.Decimal `json:"pot"`
	Winner     Identity        `json:"winner,omitempty"`
	Ended      bool            `json:"ended"`
	Payout     *Payout         `json:"payout,omitempty"`
	Seq        uint64          `json:"seq"`
}

// Snapshot returns a consistent copy of the game's state.
func (g *Game) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Snapshot{
		ID:         g.id,
		Operator:   g.operator,
		CreatedAt:  g.createdAt,
		Position:   g.position,
		Config:     g.cfg,
		Players:    make([]PlayerBoard, 0, len(g.players)),
		Drawn:      append([]uint8(nil), g.drawn...),
		LastDrawAt: g.lastDrawAt,
		Pot:        g.pot,
		Winner:     g.winner,
		Ended:      g.ended,
		Seq:        g.seq,
	}
	for _, p := range g.players {
		s.Players = append(s.Players, PlayerBoard{Player: p, Board: g.boards[p]})
	}
	if g.payout != nil {
		p := *g.payout
		s.Payout = &p
	}
	return s
}

// Restore rebuilds a game from a snapshot. Event sequence numbers continue
// from s.Seq; events committed before the snapshot are not replayed.
func Restore(s Snapshot, opts Options) (*Game, error) {
	opts.Position = s.Position
	g, err := NewGame(s.ID, s.Operator, s.CreatedAt, s.Config, opts)
	if err != nil {
		return nil, err
	}
	for _, pb := range s.Players {
		if _, dup := g.boards[pb.Player]; dup {
			return nil, fmt.Errorf("restore game %s: player %s appears twice", s.ID, pb.Player)
		}
		g.players = append(g.players, pb.Player)
		g.boards[pb.Player] = pb.Board
	}
	if s.Ended && s.Payout == nil {
		return nil, fmt.Errorf("restore game %s: ended without a payout", s.ID)
	}
	g.drawn = append([]uint8(nil), s.Drawn...)
	g.lastDrawAt = s.LastDrawAt
	g.pot = s.Pot
	g.winner = s.Winner
	g.ended = s.Ended
	if s.Payout != nil {
		p := *s.Payout
		g.payout = &p
	}
	g.seq = s.Seq
	return g, nil
}

// View is the public state of a game: everything but the boards.
type View struct {
	ID           GameID          `json:"id"`
	Operator     Identity        `json:"operator"`
	CreatedAt    time.Time       `json:"created_at"`
	Phase        Phase           `json:"phase"`
	Config       Config          `json:"config"`
	JoinDeadline time.Time       `json:"join_deadline"`
	Players      []Identity      `json:"players"`
	Drawn        Numbers         `json:"drawn"`
	Pot          decimal.Decimal `json:"pot"`
	Winner       Identity        `json:"winner,omitempty"`
	Payout       *Payout         `json:"payout,omitempty"`
	Seq          uint64          `json:"seq"`
}

// View returns the public state at now.
func (g *Game) View(now time.Time) View {
	g.mu.Lock()
	defer g.mu.Unlock()

	v := View{
		ID:           g.id,
		Operator:     g.operator,
		CreatedAt:    g.createdAt,
		Phase:        g.phase(now),
		Config:       g.cfg,
		JoinDeadline: g.deadline(),
		Players:      append([]Identity{}, g.players...),
		Drawn:        append([]uint8{}, g.drawn...),
		Pot:          g.pot,
		Winner:       g.winner,
		Seq:          g.seq,
	}
	if g.payout != nil {
		p := *g.payout
		v.Payout = &p
	}
	return v
}
