package bingo

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// EventType names an observable state change.
type EventType string

const (
	EventGameCreated         EventType = "game_created"
	EventPlayerJoined        EventType = "player_joined"
	EventNumberDrawn         EventType = "number_drawn"
	EventGameWon             EventType = "game_won"
	EventEntryFeeUpdated     EventType = "entry_fee_updated"
	EventJoinWindowUpdated   EventType = "join_window_updated"
	EventDrawCooldownUpdated EventType = "draw_cooldown_updated"
)

// Event is one committed state change. Seq is 1-based and gapless per game
// (per registry for game_created), so a poller that remembers the last Seq
// it saw observes every event exactly once.
type Event struct {
	GameID   GameID          `json:"game_id"`
	Seq      uint64          `json:"seq"`
	Type     EventType       `json:"type"`
	At       time.Time       `json:"at"`
	Player   Identity        `json:"player,omitempty"`
	Number   *uint8          `json:"number,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	Duration time.Duration   `json:"duration,omitempty"`
	Line     *Line           `json:"line,omitempty"`
}

// Notifier receives events right after they commit, in Seq order. It is
// called with the game lock held and must not block or call back into the
// game.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(ev Event) { f(ev) }

// MultiNotifier fans an event out to several notifiers in order.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ev Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ev)
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

// eventsSince returns a copy of the events in log with Seq > after.
func eventsSince(log []Event, after uint64) []Event {
	i := sort.Search(len(log), func(i int) bool { return log[i].Seq > after })
	if i == len(log) {
		return nil
	}
	out := make([]Event, len(log)-i)
	copy(out, log[i:])
	return out
}
