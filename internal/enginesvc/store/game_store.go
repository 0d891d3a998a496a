package store

import (
	"context"
	"fmt"
	"time"

	"github.com/avvvet/bingo-engine/internal/bingo"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// GameStore projects game snapshots into postgres so a restarted engine can
// pick its games back up.
type GameStore struct {
	db *pgxpool.Pool
}

func NewGameStore(db *pgxpool.Pool) *GameStore {
	return &GameStore{db: db}
}

// Save upserts s. A snapshot older than the stored row (lower event_seq)
// leaves the game row untouched; boards never change once written.
func (s *GameStore) Save(ctx context.Context, snap bingo.Snapshot) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		winner       *string
		payoutAmount decimal.NullDecimal
		payoutAt     *time.Time
		settled      bool
		lastDrawAt   *time.Time
	)
	if snap.Winner != "" {
		w := string(snap.Winner)
		winner = &w
	}
	if snap.Payout != nil {
		payoutAmount = decimal.NewNullDecimal(snap.Payout.Amount)
		at := snap.Payout.At
		payoutAt = &at
		settled = snap.Payout.Settled
	}
	if !snap.LastDrawAt.IsZero() {
		at := snap.LastDrawAt
		lastDrawAt = &at
	}

	const upsertGame = `
INSERT INTO games (
	id, operator, entry_fee, join_duration_ns, draw_cooldown_ns, draw_policy,
	drawn, last_draw_at, pot, winner, ended, payout_amount, payout_at,
	payout_settled, event_seq, created_at, registry_seq, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now())
ON CONFLICT (id) DO UPDATE SET
	entry_fee        = EXCLUDED.entry_fee,
	join_duration_ns = EXCLUDED.join_duration_ns,
	draw_cooldown_ns = EXCLUDED.draw_cooldown_ns,
	drawn            = EXCLUDED.drawn,
	last_draw_at     = EXCLUDED.last_draw_at,
	pot              = EXCLUDED.pot,
	winner           = EXCLUDED.winner,
	ended            = EXCLUDED.ended,
	payout_amount    = EXCLUDED.payout_amount,
	payout_at        = EXCLUDED.payout_at,
	payout_settled   = EXCLUDED.payout_settled,
	event_seq        = EXCLUDED.event_seq,
	updated_at       = now()
WHERE games.event_seq <= EXCLUDED.event_seq
`
	_, err = tx.Exec(ctx, upsertGame,
		string(snap.ID),
		string(snap.Operator),
		snap.Config.EntryFee,
		int64(snap.Config.JoinDuration),
		int64(snap.Config.DrawCooldown),
		string(snap.Config.Policy),
		toSmallints(snap.Drawn),
		lastDrawAt,
		snap.Pot,
		winner,
		snap.Ended,
		payoutAmount,
		payoutAt,
		settled,
		int64(snap.Seq),
		snap.CreatedAt,
		int64(snap.Position),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert game %s: %w", snap.ID, err)
	}

	const insertPlayer = `
INSERT INTO game_players (game_id, position, player, board)
VALUES ($1, $2, $3, $4)
ON CONFLICT (game_id, player) DO NOTHING
`
	batch := &pgx.Batch{}
	for i, pb := range snap.Players {
		batch.Queue(insertPlayer, string(snap.ID), i, string(pb.Player), toSmallints(pb.Board.Cells()))
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert players of game %s: %w", snap.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit game %s: %w", snap.ID, err)
	}
	return nil
}

// LoadAll returns every stored game in creation order. registry_seq is fixed
// when the game is created; game_no only breaks ties between rows migrated
// from before the column existed.
func (s *GameStore) LoadAll(ctx context.Context) ([]bingo.Snapshot, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, operator, entry_fee, join_duration_ns, draw_cooldown_ns, draw_policy,
		       drawn, last_draw_at, pot, winner, ended, payout_amount, payout_at,
		       payout_settled, event_seq, created_at, registry_seq
		FROM games
		ORDER BY registry_seq, game_no
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query games: %w", err)
	}
	defer rows.Close()

	var snaps []bingo.Snapshot
	index := make(map[bingo.GameID]int)
	for rows.Next() {
		var (
			snap                 bingo.Snapshot
			id, operator, policy string
			joinNs, cooldownNs   int64
			drawn                []int16
			lastDrawAt           *time.Time
			winner               *string
			payoutAmount         decimal.NullDecimal
			payoutAt             *time.Time
			settled              bool
			seq, position        int64
		)
		err := rows.Scan(
			&id, &operator, &snap.Config.EntryFee, &joinNs, &cooldownNs, &policy,
			&drawn, &lastDrawAt, &snap.Pot, &winner, &snap.Ended, &payoutAmount, &payoutAt,
			&settled, &seq, &snap.CreatedAt, &position,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan game: %w", err)
		}

		snap.ID = bingo.GameID(id)
		snap.Operator = bingo.Identity(operator)
		snap.Config.JoinDuration = time.Duration(joinNs)
		snap.Config.DrawCooldown = time.Duration(cooldownNs)
		snap.Config.Policy = bingo.DrawPolicy(policy)
		if snap.Drawn, err = fromSmallints(drawn); err != nil {
			return nil, fmt.Errorf("game %s drawn: %w", id, err)
		}
		if lastDrawAt != nil {
			snap.LastDrawAt = *lastDrawAt
		}
		if winner != nil {
			snap.Winner = bingo.Identity(*winner)
		}
		if payoutAmount.Valid {
			snap.Payout = &bingo.Payout{
				GameID:  snap.ID,
				To:      snap.Winner,
				Amount:  payoutAmount.Decimal,
				Settled: settled,
			}
			if payoutAt != nil {
				snap.Payout.At = *payoutAt
			}
		}
		snap.Seq = uint64(seq)
		snap.Position = uint64(position)
		snap.Players = []bingo.PlayerBoard{}

		index[snap.ID] = len(snaps)
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read games: %w", err)
	}

	players, err := s.db.Query(ctx, `
		SELECT game_id, player, board
		FROM game_players
		ORDER BY game_id, position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query players: %w", err)
	}
	defer players.Close()

	for players.Next() {
		var (
			gameID, player string
			cells          []int16
		)
		if err := players.Scan(&gameID, &player, &cells); err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		i, ok := index[bingo.GameID(gameID)]
		if !ok {
			continue
		}
		numbers, err := fromSmallints(cells)
		if err != nil {
			return nil, fmt.Errorf("game %s board of %s: %w", gameID, player, err)
		}
		board, ok := bingo.BoardFromCells(numbers)
		if !ok {
			return nil, fmt.Errorf("game %s board of %s has %d cells", gameID, player, len(cells))
		}
		snaps[i].Players = append(snaps[i].Players, bingo.PlayerBoard{Player: bingo.Identity(player), Board: board})
	}
	if err := players.Err(); err != nil {
		return nil, fmt.Errorf("failed to read players: %w", err)
	}

	return snaps, nil
}

func toSmallints(ns []uint8) []int16 {
	out := make([]int16, len(ns))
	for i, n := range ns {
		out[i] = int16(n)
	}
	return out
}

func fromSmallints(vs []int16) (bingo.Numbers, error) {
	out := make(bingo.Numbers, len(vs))
	for i, v := range vs {
		if v < 0 || v > bingo.MaxNumber {
			return nil, fmt.Errorf("number %d out of range", v)
		}
		out[i] = uint8(v)
	}
	return out, nil
}
