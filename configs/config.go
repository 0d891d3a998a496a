package config

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/gofrs/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var InstanceId string

// Config is read from the environment after .env has been loaded.
type Config struct {
	ServicePort  string        `env:"SERVICE_PORT" envDefault:"8080"`
	PostgresURL  string        `env:"POSTGRES_URL"`
	MongoURI     string        `env:"MONGODB_URI"`
	NatsURL      string        `env:"NATS_URL" envDefault:"nats://localhost:4224"`
	NatsToken    string        `env:"NATS_TOKEN"`
	JWTSecret    string        `env:"JWT_SECRET_KEY"`
	RateLimit    int           `env:"RATE_LIMIT" envDefault:"100"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`
	LogStdout    bool          `env:"LOG_STDOUT" envDefault:"false"`
	DrawPolicy   string        `env:"DRAW_POLICY" envDefault:"replacement"`
	OperatorID   string        `env:"OPERATOR_ID" envDefault:"house"`
	FeeTiers     []string      `env:"FEE_TIERS" envSeparator:"," envDefault:"10,20,40,50,100,200"`
	JoinDuration time.Duration `env:"JOIN_DURATION" envDefault:"30s"`
	TurnDuration time.Duration `env:"TURN_DURATION" envDefault:"5s"`
	RobotIDs     []string      `env:"ROBOT_IDS" envSeparator:"," envDefault:"robot-1,robot-2,robot-3"`
}

// Fees parses FeeTiers.
func (c Config) Fees() ([]decimal.Decimal, error) {
	fees := make([]decimal.Decimal, 0, len(c.FeeTiers))
	for _, s := range c.FeeTiers {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid fee tier %q: %w", s, err)
		}
		fees = append(fees, d)
	}
	return fees, nil
}

func LoadEnv(service string) {
	log.Infof("%s service configuration and env variables loading started ...", service)
	if err := godotenv.Load("./.env"); err != nil {
		log.Warnf("no .env file loaded, using process environment: %s", err)
		return
	}
	log.Info(".env file loaded.")
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return c, nil
}

// MustLoad is Load for process startup.
func MustLoad() Config {
	c, err := Load()
	if err != nil {
		log.Fatalf("configuration error: %s", err)
	}
	return c
}

func CreateUniqueInstance(service string) string {
	id, err := uuid.NewV4() // instance identifier
	if err != nil {
		log.Errorf("error generating instanceId: %s", err)
		os.Exit(1)
	}
	InstanceId = id.String()
	log.Infof(service+" service with Instance ID: %s is ready", id)
	return id.String()
}

func GetInstanceId() string {
	return InstanceId
}

func CORS() *cors.Cors {
	corsOptions := cors.New(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	})

	return corsOptions
}

// Logging sends logrus output to .l_g/<service>.log, or stdout when
// LOG_STDOUT is set, at LOG_LEVEL.
func Logging(service string) {
	log.SetFormatter(&log.TextFormatter{})

	level, err := log.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if os.Getenv("LOG_STDOUT") == "true" {
		log.SetOutput(os.Stdout)
		return
	}

	logFolder := ".l_g"

	_, err = os.Stat(logFolder)
	if os.IsNotExist(err) {
		err = os.Mkdir(logFolder, 0755)
		if err != nil {
			log.Warnf("unable to create folder for log %s", err)
			return
		}
	}

	logFilePath := filepath.Join(logFolder, service+".log")

	file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Fatal("Failed to open log file:", err)
	}

	log.SetOutput(file)

	log.Infof("log to file started for service: %s", service)
}

func CustomLoggerMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				log.WithField("request_id", middleware.GetReqID(r.Context())).Printf("%s %s %s %d %s %s",
					r.Method,
					r.RequestURI,
					r.RemoteAddr,
					ww.Status(),
					http.StatusText(ww.Status()),
					time.Since(start),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
