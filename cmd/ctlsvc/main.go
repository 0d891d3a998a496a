package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	config "github.com/avvvet/bingo-engine/configs"
	"github.com/avvvet/bingo-engine/internal/bingo"
	"github.com/avvvet/bingo-engine/internal/comm"
	natscli "github.com/avvvet/bingo-engine/internal/nats"
)

const SERVICE_NAME = "ctl"

var instanceId string

func init() {
	config.LoadEnv(SERVICE_NAME)
	instanceId = config.CreateUniqueInstance(SERVICE_NAME)
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
}

func main() {
	cfg := config.MustLoad()

	fees, err := cfg.Fees()
	if err != nil {
		log.Fatalf("FEE_TIERS: %v", err)
	}
	policy, err := bingo.ParseDrawPolicy(cfg.DrawPolicy)
	if err != nil {
		log.Fatalf("DRAW_POLICY: %v", err)
	}

	// Connect to NATS
	n, err := natscli.Connect(cfg.NatsURL, cfg.NatsToken, SERVICE_NAME+"_"+instanceId)
	if err != nil {
		log.Errorf("Error: unable to connect to NATS server %v", err)
		os.Exit(1)
	}
	defer n.Conn.Close()
	log.Printf("NATS connection established successfully %s", n.Url)

	ctl := &controller{
		engine: comm.NewClient(n.Conn, cfg.OperatorID),
		fees:   fees,
		template: comm.CreateGame{
			TurnDuration: comm.Duration(cfg.TurnDuration),
			JoinDuration: comm.Duration(cfg.JoinDuration),
			Policy:       string(policy),
		},
		open: make(map[string]bingo.GameID),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		ctl.tick(ctx)
		select {
		case <-ctx.Done():
			log.Infof("%s service stopped", SERVICE_NAME)
			return
		case <-ticker.C:
		}
	}
}

// controller keeps one joinable game open per fee tier.
type controller struct {
	engine   comm.Engine
	fees     []decimal.Decimal
	template comm.CreateGame
	open     map[string]bingo.GameID // fee tier -> game last created for it
}

func (c *controller) tick(ctx context.Context) {
	for _, fee := range c.fees {
		tier := fee.String()
		if id, ok := c.open[tier]; ok && c.joinable(ctx, id) {
			continue
		}

		req := c.template
		req.EntryFee = fee

		reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		var view bingo.View
		err := c.engine.Call(reqCtx, comm.TypeCreateGame, req, &view)
		cancel()
		if err != nil {
			log.Errorf("Error [create-game] tier %s: %s", tier, err)
			continue
		}
		c.open[tier] = view.ID
		log.Infof("game %s opened for tier %s, joining until %s", view.ID, tier, view.JoinDeadline.Format(time.RFC3339))
	}
}

func (c *controller) joinable(ctx context.Context, id bingo.GameID) bool {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var view bingo.View
	if err := c.engine.Call(reqCtx, comm.TypeGetGame, comm.GameRef{GameID: id}, &view); err != nil {
		log.Warnf("Error [get-game] %s: %s", id, err)
		return false
	}
	return view.Phase == bingo.Joining
}
