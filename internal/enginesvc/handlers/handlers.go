package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/avvvet/bingo-engine/internal/bingo"
	"github.com/avvvet/bingo-engine/internal/comm"
	"github.com/avvvet/bingo-engine/internal/enginesvc/service"
	"github.com/avvvet/bingo-engine/internal/registry"
	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

type Handler struct {
	tokenAuth   *jwtauth.JWTAuth
	GameService *service.GameService
	port        string
}

func NewHandler(gameService *service.GameService, port string) *Handler {
	return &Handler{GameService: gameService, port: port}
}

type Response struct {
	Message   string      `json:"message"`
	Code      int         `json:"code"`
	Data      interface{} `json:"data"`
	Error     string      `json:"error"`
	Kind      string      `json:"kind,omitempty"`
	ErrorCode string      `json:"error_code,omitempty"`
}

func (rs *Handler) CreateResponse(w http.ResponseWriter, rsp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rsp.Code)

	json.NewEncoder(w).Encode(rsp)
}

// statusOf maps an engine error kind to an HTTP status.
func statusOf(err error) int {
	switch bingo.KindOf(err) {
	case bingo.KindAuthorization:
		return http.StatusForbidden
	case bingo.KindPhase:
		return http.StatusConflict
	case bingo.KindValidation:
		return http.StatusBadRequest
	case bingo.KindInsufficientEvidence, bingo.KindNoWin:
		return http.StatusUnprocessableEntity
	case bingo.KindNotFound:
		return http.StatusNotFound
	case bingo.KindSettlement:
		return http.StatusAccepted
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, data interface{}) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		log.Errorf("Error %s %s: %s", r.Method, r.URL.Path, err)
	}
	h.CreateResponse(w, Response{
		Message:   http.StatusText(code),
		Code:      code,
		Data:      data,
		Error:     err.Error(),
		Kind:      bingo.KindOf(err).String(),
		ErrorCode: bingo.CodeOf(err),
	})
}

func (h *Handler) ok(w http.ResponseWriter, code int, message string, data interface{}) {
	h.CreateResponse(w, Response{Message: message, Code: code, Data: data})
}

// caller is the sub claim of the verified token.
func caller(r *http.Request) bingo.Identity {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return bingo.Identity(sub)
}

func gameID(r *http.Request) bingo.GameID {
	return bingo.GameID(chi.URLParam(r, "id"))
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %s", bingo.ErrInvalidConfig, err)
	}
	return nil
}

func after(r *http.Request) (uint64, error) {
	s := r.URL.Query().Get("after")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: after must be a sequence number", bingo.ErrInvalidConfig)
	}
	return n, nil
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.ok(w, http.StatusOK, "engine service is running at port "+h.port, nil)
}

func (h *Handler) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req comm.CreateGame
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	policy, err := bingo.ParseDrawPolicy(req.Policy)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	view, err := h.GameService.CreateGame(r.Context(), caller(r), registry.Params{
		TurnDuration: time.Duration(req.TurnDuration),
		JoinDuration: time.Duration(req.JoinDuration),
		EntryFee:     req.EntryFee,
		Policy:       policy,
	})
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	h.ok(w, http.StatusCreated, "game created", view)
}

func (h *Handler) ListGames(w http.ResponseWriter, r *http.Request) {
	h.ok(w, http.StatusOK, "games", comm.GameList{Games: h.GameService.ListGames()})
}

func (h *Handler) GetGame(w http.ResponseWriter, r *http.Request) {
	view, err := h.GameService.GetGame(gameID(r))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	h.ok(w, http.StatusOK, "game", view)
}

func (h *Handler) JoinGame(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	id := gameID(r)
	player := caller(r)
	board, err := h.GameService.JoinGame(r.Context(), player, id, req.Amount)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	h.ok(w, http.StatusOK, "joined", comm.BoardData{GameID: id, Player: player, Board: board})
}

func (h *Handler) DrawNumber(w http.ResponseWriter, r *http.Request) {
	id := gameID(r)
	n, count, err := h.GameService.DrawNumber(r.Context(), caller(r), id)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	h.ok(w, http.StatusOK, "number drawn", comm.DrawData{GameID: id, Number: int(n), Count: count})
}

func (h *Handler) ClaimWin(w http.ResponseWriter, r *http.Request) {
	claim, err := h.GameService.ClaimWin(r.Context(), caller(r), gameID(r))
	if errors.Is(err, bingo.ErrSettlementPending) {
		h.fail(w, r, err, claim)
		return
	}
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	h.ok(w, http.StatusOK, "bingo", claim)
}

func (h *Handler) CheckBoard(w http.ResponseWriter, r *http.Request) {
	res, err := h.GameService.CheckBoard(caller(r), gameID(r))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	h.ok(w, http.StatusOK, "checked", res)
}

func (h *Handler) UpdateEntryFee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntryFee decimal.Decimal `json:"entry_fee"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	id := gameID(r)
	if err := h.GameService.UpdateEntryFee(r.Context(), caller(r), id, req.EntryFee); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	h.GetGame(w, r)
}

func (h *Handler) updateDuration(update func(*http.Request, bingo.GameID, comm.Duration) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Duration comm.Duration `json:"duration"`
		}
		if err := decodeBody(r, &req); err != nil {
			h.fail(w, r, err, nil)
			return
		}
		if err := update(r, gameID(r), req.Duration); err != nil {
			h.fail(w, r, err, nil)
			return
		}
		h.GetGame(w, r)
	}
}

func (h *Handler) UpdateJoinWindow() http.HandlerFunc {
	return h.updateDuration(func(r *http.Request, id bingo.GameID, d comm.Duration) error {
		return h.GameService.UpdateJoinWindow(r.Context(), caller(r), id, time.Duration(d))
	})
}

func (h *Handler) UpdateDrawCooldown() http.HandlerFunc {
	return h.updateDuration(func(r *http.Request, id bingo.GameID, d comm.Duration) error {
		return h.GameService.UpdateDrawCooldown(r.Context(), caller(r), id, time.Duration(d))
	})
}

func (h *Handler) Players(w http.ResponseWriter, r *http.Request) {
	players, err := h.GameService.Players(gameID(r))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	h.ok(w, http.StatusOK, "players", players)
}

func (h *Handler) Board(w http.ResponseWriter, r *http.Request) {
	id := gameID(r)
	player := bingo.Identity(chi.URLParam(r, "player"))
	board, err := h.GameService.Board(id, player)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	h.ok(w, http.StatusOK, "board", comm.BoardData{GameID: id, Player: player, Board: board})
}

func (h *Handler) Drawn(w http.ResponseWriter, r *http.Request) {
	drawn, err := h.GameService.Drawn(gameID(r))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	h.ok(w, http.StatusOK, "drawn", drawn)
}

func (h *Handler) events(w http.ResponseWriter, r *http.Request, id bingo.GameID) {
	n, err := after(r)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	events, err := h.GameService.Events(r.Context(), id, n)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	if events == nil {
		events = []bingo.Event{}
	}
	h.ok(w, http.StatusOK, "events", comm.EventList{Events: events})
}

func (h *Handler) GameEvents(w http.ResponseWriter, r *http.Request) {
	h.events(w, r, gameID(r))
}

func (h *Handler) RegistryEvents(w http.ResponseWriter, r *http.Request) {
	h.events(w, r, "")
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.GameService.Balance(r.Context(), caller(r))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	h.ok(w, http.StatusOK, "balance", map[string]string{"balance": bal.StringFixed(2)})
}
