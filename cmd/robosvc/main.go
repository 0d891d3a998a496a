// cmd/robosvc/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"time"

	config "github.com/avvvet/bingo-engine/configs"
	"github.com/avvvet/bingo-engine/internal/bingo"
	"github.com/avvvet/bingo-engine/internal/comm"
	natscli "github.com/avvvet/bingo-engine/internal/nats"
	log "github.com/sirupsen/logrus"
)

const SERVICE_NAME = "robot"

var instanceId string

func init() {
	config.LoadEnv(SERVICE_NAME)
	instanceId = config.CreateUniqueInstance(SERVICE_NAME)
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
}

func main() {
	log.Printf("Starting Robot Service...")
	cfg := config.MustLoad()

	// Connect to NATS
	nc, err := natscli.Connect(cfg.NatsURL, cfg.NatsToken, SERVICE_NAME+"_"+instanceId)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer nc.Conn.Close()
	log.Infof("NATS connected at %s", nc.Url)

	client := comm.NewClient(nc.Conn, "")
	r := newRobots(cfg.RobotIDs, func(id bingo.Identity) comm.Engine {
		return client.As(string(id))
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	sub, err := comm.SubscribeEvents(nc.Conn, func(ev bingo.Event) {
		r.handle(ctx, ev)
	})
	if err != nil {
		log.Fatalf("Failed to subscribe to %s: %v", comm.EventsSubject, err)
	}
	defer sub.Unsubscribe()

	log.Printf("Robot Service fully operational with %d robots", len(cfg.RobotIDs))
	<-ctx.Done()
}

// RobotGameState is what the robots know about one game they play.
type RobotGameState struct {
	GameID bingo.GameID
	Seq    uint64 // last game event applied
	Drawn  []uint8
	Boards map[bingo.Identity]bingo.Board
}

type robots struct {
	ids    []bingo.Identity
	engine func(bingo.Identity) comm.Engine

	mu    sync.Mutex
	games map[bingo.GameID]*RobotGameState
}

func newRobots(ids []string, engine func(bingo.Identity) comm.Engine) *robots {
	r := &robots{
		engine: engine,
		games:  make(map[bingo.GameID]*RobotGameState),
	}
	for _, id := range ids {
		r.ids = append(r.ids, bingo.Identity(id))
	}
	return r
}

func (r *robots) handle(ctx context.Context, ev bingo.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.Type == bingo.EventGameCreated {
		r.joinGame(ctx, ev.GameID)
		return
	}

	st, ok := r.games[ev.GameID]
	if !ok {
		return
	}
	if ev.Seq <= st.Seq {
		return
	}
	if ev.Seq != st.Seq+1 {
		log.Warnf("game %s: missed events %d..%d, resyncing", ev.GameID, st.Seq+1, ev.Seq-1)
		if !r.resync(ctx, st) {
			return
		}
		if ev.Seq <= st.Seq {
			r.checkBoards(ctx, st)
			return
		}
	}
	st.Seq = ev.Seq

	switch ev.Type {
	case bingo.EventNumberDrawn:
		if ev.Number != nil {
			st.Drawn = append(st.Drawn, *ev.Number)
		}
		r.checkBoards(ctx, st)
	case bingo.EventGameWon:
		log.Infof("game %s won by %s", ev.GameID, ev.Player)
		delete(r.games, ev.GameID)
	}
}

func call(ctx context.Context, e comm.Engine, msgType string, req, out interface{}) error {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return e.Call(reqCtx, msgType, req, out)
}

// joinGame has every robot join id at its current entry fee.
func (r *robots) joinGame(ctx context.Context, id bingo.GameID) {
	if len(r.ids) == 0 {
		return
	}
	var view bingo.View
	if err := call(ctx, r.engine(r.ids[0]), comm.TypeGetGame, comm.GameRef{GameID: id}, &view); err != nil {
		log.Errorf("Error [get-game] %s: %s", id, err)
		return
	}

	st := &RobotGameState{
		GameID: id,
		Seq:    view.Seq,
		Drawn:  append([]uint8(nil), view.Drawn...),
		Boards: make(map[bingo.Identity]bingo.Board),
	}
	for _, robot := range r.ids {
		var joined comm.BoardData
		err := call(ctx, r.engine(robot), comm.TypeJoinGame, comm.JoinGame{GameID: id, Amount: view.Config.EntryFee}, &joined)
		if err != nil {
			log.Warnf("robot %s could not join game %s: %s", robot, id, err)
			continue
		}
		st.Boards[robot] = joined.Board
	}
	if len(st.Boards) == 0 {
		return
	}
	// the joins above are game events too
	if err := call(ctx, r.engine(r.ids[0]), comm.TypeGetGame, comm.GameRef{GameID: id}, &view); err == nil {
		st.Seq = view.Seq
		st.Drawn = append([]uint8(nil), view.Drawn...)
	}
	r.games[id] = st
	log.Infof("%d robots joined game %s for %s", len(st.Boards), id, view.Config.EntryFee)
}

func (r *robots) resync(ctx context.Context, st *RobotGameState) bool {
	var view bingo.View
	if err := call(ctx, r.engine(r.ids[0]), comm.TypeGetGame, comm.GameRef{GameID: st.GameID}, &view); err != nil {
		log.Errorf("Error [get-game] %s: %s", st.GameID, err)
		return false
	}
	if view.Phase == bingo.Ended {
		delete(r.games, st.GameID)
		return false
	}
	st.Seq = view.Seq
	st.Drawn = append([]uint8(nil), view.Drawn...)
	return true
}

// checkBoards claims for the first robot whose board has a line.
func (r *robots) checkBoards(ctx context.Context, st *RobotGameState) {
	if len(st.Drawn) < bingo.MinDrawsToCheck {
		return
	}
	for _, robot := range r.ids {
		board, ok := st.Boards[robot]
		if !ok {
			continue
		}
		res := bingo.CheckWin(board, st.Drawn)
		if !res.Won {
			continue
		}

		var claim bingo.Claim
		err := call(ctx, r.engine(robot), comm.TypeClaimWin, comm.GameRef{GameID: st.GameID}, &claim)
		switch comm.CodeOf(err) {
		case "":
			if err != nil {
				log.Errorf("Error [claim-win] robot %s game %s: %s", robot, st.GameID, err)
				continue
			}
		case bingo.ErrSettlementPending.Code:
		case bingo.ErrGameEnded.Code:
			delete(r.games, st.GameID)
			return
		default:
			log.Warnf("robot %s claim on game %s rejected: %s", robot, st.GameID, err)
			continue
		}
		log.Infof("robot %s won game %s on %s, payout %s", robot, st.GameID, res.Line, claim.Payout.Amount)
		delete(r.games, st.GameID)
		return
	}
}
