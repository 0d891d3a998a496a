package bingo

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Payout moves a game's pot to its winner. GameID is the idempotency key:
// a ledger that has already applied a payout for a game must treat a
// repeat as success without moving funds again.
type Payout struct {
	GameID  GameID          `json:"game_id"`
	To      Identity        `json:"to"`
	Amount  decimal.Decimal `json:"amount"`
	At      time.Time       `json:"at"`
	Settled bool            `json:"settled"`
}

// Ledger is the value-transfer capability the engine pays winners through.
type Ledger interface {
	Transfer(ctx context.Context, p Payout) error
}

// MemoryLedger keeps balances in memory.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[Identity]decimal.Decimal
	applied  map[GameID]Payout
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[Identity]decimal.Decimal),
		applied:  make(map[GameID]Payout),
	}
}

func (l *MemoryLedger) Transfer(_ context.Context, p Payout) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.applied[p.GameID]; ok {
		return nil
	}
	l.applied[p.GameID] = p
	l.balances[p.To] = l.balances[p.To].Add(p.Amount)
	return nil
}

// Balance returns everything paid to id so far.
func (l *MemoryLedger) Balance(id Identity) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[id]
}

// Payouts returns the number of distinct payouts applied.
func (l *MemoryLedger) Payouts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.applied)
}
