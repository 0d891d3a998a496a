package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the engine's tables. balances keeps the wallet layout the
// payment services already read: a row per movement, balance = dr - cr.
const Schema = `
CREATE TABLE IF NOT EXISTS games (
	id               TEXT PRIMARY KEY,
	game_no          BIGSERIAL,
	registry_seq     BIGINT NOT NULL DEFAULT 0,
	operator         TEXT NOT NULL,
	entry_fee        NUMERIC NOT NULL,
	join_duration_ns BIGINT NOT NULL,
	draw_cooldown_ns BIGINT NOT NULL,
	draw_policy      TEXT NOT NULL,
	drawn            SMALLINT[] NOT NULL DEFAULT '{}',
	last_draw_at     TIMESTAMPTZ,
	pot              NUMERIC NOT NULL DEFAULT 0,
	winner           TEXT,
	ended            BOOLEAN NOT NULL DEFAULT false,
	payout_amount    NUMERIC,
	payout_at        TIMESTAMPTZ,
	payout_settled   BOOLEAN NOT NULL DEFAULT false,
	event_seq        BIGINT NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

ALTER TABLE games ADD COLUMN IF NOT EXISTS registry_seq BIGINT NOT NULL DEFAULT 0;
UPDATE games SET registry_seq = game_no WHERE registry_seq = 0;

CREATE TABLE IF NOT EXISTS game_players (
	game_id    TEXT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
	position   INT NOT NULL,
	player     TEXT NOT NULL,
	board      SMALLINT[] NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT unique_game_user PRIMARY KEY (game_id, player),
	CONSTRAINT unique_game_position UNIQUE (game_id, position)
);

CREATE TABLE IF NOT EXISTS balances (
	id         BIGSERIAL PRIMARY KEY,
	user_id    TEXT NOT NULL,
	ttype      TEXT NOT NULL,
	dr         NUMERIC NOT NULL DEFAULT 0,
	cr         NUMERIC NOT NULL DEFAULT 0,
	tref       TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT unique_ttype_tref UNIQUE (ttype, tref)
);
`

// Migrate applies Schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
