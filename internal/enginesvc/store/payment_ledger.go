package store

import (
	"context"
	"fmt"

	"github.com/avvvet/bingo-engine/internal/bingo"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// TTypeBingoWin marks payout rows in balances.
const TTypeBingoWin = "bingo-win"

// PaymentLedger pays winners by crediting the balances table. The game id is
// the row's tref, so a repeated payout for the same game inserts nothing.
type PaymentLedger struct {
	db *pgxpool.Pool
}

func NewPaymentLedger(db *pgxpool.Pool) *PaymentLedger {
	return &PaymentLedger{db: db}
}

func (l *PaymentLedger) Transfer(ctx context.Context, p bingo.Payout) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO balances (user_id, ttype, dr, cr, tref, status)
		VALUES ($1, $2, $3, 0, $4, 'completed')
		ON CONFLICT (ttype, tref) DO NOTHING
	`, string(p.To), TTypeBingoWin, p.Amount, string(p.GameID))
	if err != nil {
		return fmt.Errorf("failed to credit %s for game %s: %w", p.To, p.GameID, err)
	}
	return nil
}

// Balance is the completed dr minus cr of a user.
func (l *PaymentLedger) Balance(ctx context.Context, user bingo.Identity) (decimal.Decimal, error) {
	var totalDr, totalCr decimal.Decimal

	err := l.db.QueryRow(ctx, `
        SELECT
            COALESCE(SUM(dr), 0),
            COALESCE(SUM(cr), 0)
        FROM balances
        WHERE user_id = $1 AND status = 'completed'
    `, string(user)).Scan(&totalDr, &totalCr)
	if err != nil {
		return decimal.Zero, err
	}

	return totalDr.Sub(totalCr), nil
}
