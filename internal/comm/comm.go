package comm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/avvvet/bingo-engine/internal/bingo"
	"github.com/shopspring/decimal"
)

const (
	EngineSubject = "bingo.engine" // request/reply
	EventsSubject = "bingo.events" // engine events, one WSMessage per event
)

// request types on EngineSubject
const (
	TypeCreateGame         = "create-game"
	TypeListGames          = "list-games"
	TypeGetGame            = "get-game"
	TypeJoinGame           = "join-game"
	TypeDrawNumber         = "draw-number"
	TypeClaimWin           = "claim-win"
	TypeCheckBoard         = "check-board"
	TypeUpdateEntryFee     = "update-entry-fee"
	TypeUpdateJoinWindow   = "update-join-window"
	TypeUpdateDrawCooldown = "update-draw-cooldown"
	TypeGetBoard           = "get-board"
	TypeGetEvents          = "get-events"
)

type WSMessage struct {
	Type     string          `json:"type"` // e.g. "join-game", "number_drawn"
	Data     json.RawMessage `json:"data"`
	SocketId string          `json:"socketid,omitempty"`
	Caller   string          `json:"caller,omitempty"` // authenticated identity of the sender
}

type ErrorBody struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorBody) Error() string { return e.Message }

// Reply answers a request on EngineSubject.
type Reply struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ErrorBody      `json:"error,omitempty"`
}

// ErrorFrom describes err for the wire.
func ErrorFrom(err error) *ErrorBody {
	return &ErrorBody{
		Kind:    bingo.KindOf(err).String(),
		Code:    bingo.CodeOf(err),
		Message: err.Error(),
	}
}

// Duration is a time.Duration that reads either a Go duration string
// ("5s") or a number of seconds, and writes the string form.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	secs, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("duration must be a string like \"5s\" or a number of seconds: %s", b)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

type CreateGame struct {
	TurnDuration Duration        `json:"turn_duration"`
	JoinDuration Duration        `json:"join_duration"`
	EntryFee     decimal.Decimal `json:"entry_fee"`
	Policy       string          `json:"draw_policy,omitempty"`
}

type GameRef struct {
	GameID bingo.GameID `json:"game_id"`
}

type JoinGame struct {
	GameID bingo.GameID    `json:"game_id"`
	Amount decimal.Decimal `json:"amount"`
}

type UpdateEntryFee struct {
	GameID   bingo.GameID    `json:"game_id"`
	EntryFee decimal.Decimal `json:"entry_fee"`
}

type UpdateDuration struct {
	GameID   bingo.GameID `json:"game_id"`
	Duration Duration     `json:"duration"`
}

type GetBoard struct {
	GameID bingo.GameID   `json:"game_id"`
	Player bingo.Identity `json:"player"`
}

// GetEvents polls a game's events, or the registry's when GameID is empty.
type GetEvents struct {
	GameID bingo.GameID `json:"game_id,omitempty"`
	After  uint64       `json:"after"`
}

type GameList struct {
	Games []bingo.GameID `json:"games"`
}

type BoardData struct {
	GameID bingo.GameID   `json:"game_id"`
	Player bingo.Identity `json:"player"`
	Board  bingo.Board    `json:"board"`
}

type DrawData struct {
	GameID bingo.GameID `json:"game_id"`
	Number int          `json:"number"`
	Count  int          `json:"count"`
}

type EventList struct {
	Events []bingo.Event `json:"events"`
}
