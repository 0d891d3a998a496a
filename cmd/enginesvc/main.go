package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	"go.mongodb.org/mongo-driver/mongo"

	config "github.com/avvvet/bingo-engine/configs"
	"github.com/avvvet/bingo-engine/internal/bingo"
	mongodb "github.com/avvvet/bingo-engine/internal/db"
	"github.com/avvvet/bingo-engine/internal/enginesvc/broker"
	"github.com/avvvet/bingo-engine/internal/enginesvc/db"
	handlers "github.com/avvvet/bingo-engine/internal/enginesvc/handlers"
	"github.com/avvvet/bingo-engine/internal/enginesvc/service"
	"github.com/avvvet/bingo-engine/internal/enginesvc/store"
	"github.com/avvvet/bingo-engine/internal/journal"
	nats "github.com/avvvet/bingo-engine/internal/nats"
	"github.com/avvvet/bingo-engine/internal/registry"
	log "github.com/sirupsen/logrus"
)

const SERVICE_NAME = "engine"

var instanceId string

func init() {
	config.LoadEnv(SERVICE_NAME)
	instanceId = config.CreateUniqueInstance(SERVICE_NAME)
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
}

func main() {
	cfg := config.MustLoad()
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET_KEY is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svcOpts := service.Options{}
	var ledger bingo.Ledger

	// pg connection: durable games and payouts
	if cfg.PostgresURL != "" {
		dbpool, err := db.Connect(cfg.PostgresURL)
		if err != nil {
			log.Fatalf("Failed to connect to DB: %v", err)
		}
		defer db.ClosePool()
		log.Printf("pg connection established successfully")

		if err := store.Migrate(ctx, dbpool); err != nil {
			log.Fatalf("%v", err)
		}
		payments := store.NewPaymentLedger(dbpool)
		ledger = payments
		svcOpts.Wallet = payments
		svcOpts.Store = store.NewGameStore(dbpool)
	} else {
		log.Warn("POSTGRES_URL not set, games and payouts are kept in memory")
		mem := bingo.NewMemoryLedger()
		ledger = mem
		svcOpts.Wallet = service.MemoryWallet{Ledger: mem}
	}

	// mongo connection: event journal
	var events *journal.Journal
	if cfg.MongoURI != "" {
		mdb, err := mongodb.ConnectToDB(cfg.MongoURI)
		if err != nil {
			log.Fatalf("Failed to connect to MongoDB: %v", err)
		}
		defer mongodb.Disconnect(mdb)
		if err := mongodb.CreateEventIndexes(mdb, journal.Collection); err != nil {
			log.Fatalf("%v", err)
		}
		log.Printf("mongo connection established successfully")

		events = newJournal(mdb.Collection(journal.Collection))
		svcOpts.History = events
		go events.Run(ctx)
	}

	// Connect to NATS
	n, err := nats.Connect(cfg.NatsURL, cfg.NatsToken, SERVICE_NAME+"_"+instanceId)
	if err != nil {
		log.Errorf("Error: unable to connect to NATS server %v", err)
		os.Exit(1)
	}
	defer n.Conn.Close()
	log.Printf("NATS connection established successfully %s", n.Url)

	b := broker.NewBroker(n.Conn, nil)
	notifiers := bingo.MultiNotifier{b}
	if events != nil {
		notifiers = append(notifiers, events)
	}

	reg := registry.New(registry.Options{
		Ledger:   ledger,
		Notifier: notifiers,
	})
	gameService := service.NewGameService(reg, svcOpts)
	b.GameService = gameService

	restored, err := gameService.Restore(ctx)
	if err != nil {
		log.Fatalf("Failed to restore games: %v", err)
	}
	log.Infof("%d games restored", restored)

	go reconcile(ctx, gameService, cfg.TurnDuration)

	sub, err := b.QueueSubscribeEngine("engine")
	if err != nil {
		log.Errorf("Error: unable to subscribe to queue %v", err)
		os.Exit(1)
	}

	// Setup router
	r := chi.NewRouter()
	c := config.CORS()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(c.Handler)

	// to protect the service api from any over requests
	r.Use(httprate.LimitByIP(cfg.RateLimit, 1*time.Minute))

	// Init handlers and routes
	h := handlers.NewHandler(gameService, cfg.ServicePort)
	h.InitAuth(cfg.JWTSecret, cfg.OperatorID)
	h.SetRoutes(r)

	// Create server with timeout settings
	server := &http.Server{
		Addr:         ":" + cfg.ServicePort,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	// Wait for interrupt signal to gracefully shutdown the server
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	sub.Unsubscribe()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}

	cancel()
	if events != nil {
		select {
		case <-events.Done():
		case <-shutdownCtx.Done():
			log.Warn("event journal did not flush in time")
		}
		if d := events.Dropped(); d > 0 {
			log.Warnf("event journal dropped %d events", d)
		}
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}

func newJournal(c *mongo.Collection) *journal.Journal {
	return journal.New(c, 1024)
}

// reconcile retries pending payouts until ctx is done.
func reconcile(ctx context.Context, s *service.GameService, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Reconcile(ctx); err != nil {
				log.Warnf("payouts still pending: %v", err)
			}
		}
	}
}
