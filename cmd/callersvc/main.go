// cmd/callersvc/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	config "github.com/avvvet/bingo-engine/configs"
	"github.com/avvvet/bingo-engine/internal/bingo"
	"github.com/avvvet/bingo-engine/internal/comm"
	natscli "github.com/avvvet/bingo-engine/internal/nats"
)

const SERVICE_NAME = "caller"

var instanceId string

func init() {
	config.LoadEnv(SERVICE_NAME)
	instanceId = config.CreateUniqueInstance(SERVICE_NAME)
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
}

func main() {
	cfg := config.MustLoad()

	// connect to NATS
	n, err := natscli.Connect(cfg.NatsURL, cfg.NatsToken, SERVICE_NAME+"_"+instanceId)
	if err != nil {
		log.Fatalf("unable to connect to NATS: %v", err)
	}
	defer n.Conn.Close()
	log.Infof("NATS connected at %s", n.Url)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c := newCaller(comm.NewClient(n.Conn, cfg.OperatorID), bingo.Identity(cfg.OperatorID))

	// follow game_created and game_won
	sub, err := comm.SubscribeEvents(n.Conn, func(ev bingo.Event) {
		c.onEvent(ctx, ev)
	})
	if err != nil {
		log.Fatalf("subscribe error: %v", err)
	}
	defer sub.Unsubscribe()

	// games created before this process started
	c.resume(ctx)

	<-ctx.Done()
	c.wait()
	log.Infof("%s service stopped", SERVICE_NAME)
}

// caller draws numbers for every game its operator owns.
type caller struct {
	engine   comm.Engine
	operator bingo.Identity
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) bool

	mu      sync.Mutex
	running map[bingo.GameID]context.CancelFunc
	wg      sync.WaitGroup
}

func newCaller(engine comm.Engine, operator bingo.Identity) *caller {
	return &caller{
		engine:   engine,
		operator: operator,
		now:      time.Now,
		sleep:    sleepCtx,
		running:  make(map[bingo.GameID]context.CancelFunc),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *caller) onEvent(ctx context.Context, ev bingo.Event) {
	switch ev.Type {
	case bingo.EventGameCreated:
		if ev.Player != c.operator {
			return
		}
		c.start(ctx, ev.GameID)
	case bingo.EventGameWon:
		c.stop(ev.GameID)
	}
}

func (c *caller) resume(ctx context.Context) {
	var list comm.GameList
	if err := c.engine.Call(ctx, comm.TypeListGames, nil, &list); err != nil {
		log.Errorf("Error [list-games] %s", err)
		return
	}
	for _, id := range list.Games {
		var view bingo.View
		if err := c.engine.Call(ctx, comm.TypeGetGame, comm.GameRef{GameID: id}, &view); err != nil {
			log.Errorf("Error [get-game] %s: %s", id, err)
			continue
		}
		if view.Operator == c.operator && view.Phase != bingo.Ended {
			c.start(ctx, id)
		}
	}
}

func (c *caller) start(ctx context.Context, id bingo.GameID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.running[id]; ok {
		return
	}
	gameCtx, cancel := context.WithCancel(ctx)
	c.running[id] = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.stop(id)
		c.run(gameCtx, id)
	}()
}

func (c *caller) stop(id bingo.GameID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.running[id]; ok {
		cancel()
		delete(c.running, id)
	}
}

func (c *caller) wait() { c.wg.Wait() }

// run waits out the join window, then draws once per cooldown until the
// game ends.
func (c *caller) run(ctx context.Context, id bingo.GameID) {
	var view bingo.View
	if err := c.engine.Call(ctx, comm.TypeGetGame, comm.GameRef{GameID: id}, &view); err != nil {
		log.Errorf("Error [get-game] %s: %s", id, err)
		return
	}
	if !c.sleep(ctx, view.JoinDeadline.Sub(c.now())) {
		return
	}
	log.Infof("caller started for game %s", id)

	wait := view.Config.DrawCooldown
	if wait <= 0 {
		wait = time.Second
	}
	for {
		var draw comm.DrawData
		err := c.engine.Call(ctx, comm.TypeDrawNumber, comm.GameRef{GameID: id}, &draw)
		switch comm.CodeOf(err) {
		case "":
			if err != nil {
				log.Warnf("Error [draw-number] %s: %s", id, err)
			} else {
				log.Infof("game %s: number %d (%d drawn)", id, draw.Number, draw.Count)
			}
		case bingo.ErrDrawCooldownActive.Code, bingo.ErrJoinWindowStillOpen.Code:
			// too early, try next tick
		case bingo.ErrGameEnded.Code, bingo.ErrDrawPoolExhausted.Code, bingo.ErrGameNotFound.Code:
			log.Infof("caller done for game %s: %s", id, err)
			return
		default:
			log.Errorf("caller for game %s stopped: %s", id, err)
			return
		}
		if !c.sleep(ctx, wait) {
			return
		}
	}
}
