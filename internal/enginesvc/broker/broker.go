package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avvvet/bingo-engine/internal/bingo"
	"github.com/avvvet/bingo-engine/internal/comm"
	"github.com/avvvet/bingo-engine/internal/enginesvc/service"
	"github.com/avvvet/bingo-engine/internal/registry"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

type Broker struct {
	Conn        *nats.Conn
	GameService *service.GameService
	Timeout     time.Duration
}

func NewBroker(nc *nats.Conn, gameService *service.GameService) *Broker {
	return &Broker{
		Conn:        nc,
		GameService: gameService,
		Timeout:     10 * time.Second,
	}
}

// handles a request on comm.EngineSubject and answers on its reply subject
func (b *Broker) handleMessage(msgNat *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), b.Timeout)
	defer cancel()

	reply := b.Dispatch(ctx, msgNat.Data)
	if msgNat.Reply == "" {
		return
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		log.Errorf("Error marshalling reply %s", err)
		return
	}
	if err := msgNat.Respond(payload); err != nil {
		log.Errorf("Error responding on %s: %s", msgNat.Reply, err)
	}
}

// Dispatch decodes one request envelope, runs it and builds the reply.
func (b *Broker) Dispatch(ctx context.Context, data []byte) comm.Reply {
	msg := &comm.WSMessage{}
	if err := json.Unmarshal(data, msg); err != nil {
		log.Errorf("Error nats message %s", err)
		return failure(fmt.Errorf("%w: malformed request: %s", bingo.ErrInvalidConfig, err))
	}

	out, err := b.run(ctx, bingo.Identity(msg.Caller), msg)
	if err != nil {
		if bingo.KindOf(err) == bingo.KindUnknown {
			log.Errorf("Error [%s] %s", msg.Type, err)
		} else {
			log.Debugf("[%s] rejected for %q: %s", msg.Type, msg.Caller, err)
		}
		r := failure(err)
		if errors.Is(err, bingo.ErrSettlementPending) {
			// the claim stands, only its payout is late
			r.Data, _ = json.Marshal(out)
		}
		return r
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return failure(err)
	}
	return comm.Reply{Data: payload}
}

func failure(err error) comm.Reply {
	return comm.Reply{Error: comm.ErrorFrom(err)}
}

func decode(data json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s", bingo.ErrInvalidConfig, err)
	}
	return nil
}

func (b *Broker) run(ctx context.Context, caller bingo.Identity, msg *comm.WSMessage) (interface{}, error) {
	s := b.GameService

	switch msg.Type {
	case comm.TypeCreateGame:
		var req comm.CreateGame
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		policy, err := bingo.ParseDrawPolicy(req.Policy)
		if err != nil {
			return nil, err
		}
		return s.CreateGame(ctx, caller, registry.Params{
			TurnDuration: time.Duration(req.TurnDuration),
			JoinDuration: time.Duration(req.JoinDuration),
			EntryFee:     req.EntryFee,
			Policy:       policy,
		})

	case comm.TypeListGames:
		return comm.GameList{Games: s.ListGames()}, nil

	case comm.TypeGetGame:
		var req comm.GameRef
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		return s.GetGame(req.GameID)

	case comm.TypeJoinGame:
		var req comm.JoinGame
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		board, err := s.JoinGame(ctx, caller, req.GameID, req.Amount)
		if err != nil {
			return nil, err
		}
		return comm.BoardData{GameID: req.GameID, Player: caller, Board: board}, nil

	case comm.TypeDrawNumber:
		var req comm.GameRef
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		n, count, err := s.DrawNumber(ctx, caller, req.GameID)
		if err != nil {
			return nil, err
		}
		return comm.DrawData{GameID: req.GameID, Number: int(n), Count: count}, nil

	case comm.TypeClaimWin:
		var req comm.GameRef
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		return s.ClaimWin(ctx, caller, req.GameID)

	case comm.TypeCheckBoard:
		var req comm.GameRef
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		return s.CheckBoard(caller, req.GameID)

	case comm.TypeUpdateEntryFee:
		var req comm.UpdateEntryFee
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		if err := s.UpdateEntryFee(ctx, caller, req.GameID, req.EntryFee); err != nil {
			return nil, err
		}
		return s.GetGame(req.GameID)

	case comm.TypeUpdateJoinWindow, comm.TypeUpdateDrawCooldown:
		var req comm.UpdateDuration
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		update := s.UpdateJoinWindow
		if msg.Type == comm.TypeUpdateDrawCooldown {
			update = s.UpdateDrawCooldown
		}
		if err := update(ctx, caller, req.GameID, time.Duration(req.Duration)); err != nil {
			return nil, err
		}
		return s.GetGame(req.GameID)

	case comm.TypeGetBoard:
		var req comm.GetBoard
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		if req.Player == "" {
			req.Player = caller
		}
		board, err := s.Board(req.GameID, req.Player)
		if err != nil {
			return nil, err
		}
		return comm.BoardData{GameID: req.GameID, Player: req.Player, Board: board}, nil

	case comm.TypeGetEvents:
		var req comm.GetEvents
		if err := decode(msg.Data, &req); err != nil {
			return nil, err
		}
		events, err := s.Events(ctx, req.GameID, req.After)
		if err != nil {
			return nil, err
		}
		if events == nil {
			events = []bingo.Event{}
		}
		return comm.EventList{Events: events}, nil

	default:
		return nil, fmt.Errorf("%w: unknown message type %q", bingo.ErrInvalidConfig, msg.Type)
	}
}

// Notify publishes ev on comm.EventsSubject. It is called with the game's
// lock held, and nats.Conn.Publish only buffers.
func (b *Broker) Notify(ev bingo.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Errorf("Error marshalling event %s: %s", ev.Type, err)
		return
	}

	msg := &comm.WSMessage{
		Type: string(ev.Type),
		Data: data,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("Error %s", err)
		return
	}

	b.Publish(comm.EventsSubject, payload)
}

// consume engine requests, load balanced across engine instances
func (b *Broker) QueueSubscribeEngine(queueGroup string) (*nats.Subscription, error) {
	sub, err := b.Conn.QueueSubscribe(comm.EngineSubject, queueGroup, b.handleMessage)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (b *Broker) Publish(topic string, payload []byte) error {
	if b.Conn == nil {
		return nil
	}
	err := b.Conn.Publish(topic, payload)
	if err != nil {
		log.Errorf("Error publishing to topic %s: %s", topic, err)
		return err
	}

	return nil
}

// Local is a comm.Engine that dispatches in-process as Caller.
type Local struct {
	Broker *Broker
	Caller string
}

func (l Local) Call(ctx context.Context, msgType string, req, out interface{}) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	env, err := json.Marshal(comm.WSMessage{Type: msgType, Data: data, Caller: l.Caller})
	if err != nil {
		return err
	}
	payload, err := json.Marshal(l.Broker.Dispatch(ctx, env))
	if err != nil {
		return err
	}
	return comm.DecodeReply(payload, out)
}
