package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"

	"github.com/linesmerrill/police-cad-dispatch/logging"
)

// Store backends
const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"
)

// Config holds the project config values
type Config struct {
	URL          string `env:"DB_URI"`
	DatabaseName string `env:"DB_NAME" envDefault:"police-cad"`
	BaseURL      string `env:"BASE_URL"`
	Port         string `env:"PORT" envDefault:"8080"`
	Env          string `env:"ENV" envDefault:"production"`
	Store        string `env:"STORE" envDefault:"memory"`

	// SeedUsersFile is a JSON file of dispatchers loaded when STORE=memory
	SeedUsersFile string `env:"SEED_USERS_FILE"`

	RedisAddr          string `env:"REDIS_ADDR"`
	RedisChannelPrefix string `env:"REDIS_CHANNEL_PREFIX" envDefault:"dispatch"`

	BusQueueSize   int `env:"BUS_QUEUE_SIZE" envDefault:"256"`
	BusHistorySize int `env:"BUS_HISTORY_SIZE" envDefault:"1024"`

	StreamTicketSecret string        `env:"STREAM_TICKET_SECRET"`
	StreamTicketTTL    time.Duration `env:"STREAM_TICKET_TTL" envDefault:"1m"`

	CloudinaryURL string `env:"CLOUDINARY_URL"`

	SendgridAPIKey string `env:"SENDGRID_API_KEY"`
	AlertFromEmail string `env:"ALERT_FROM_EMAIL" envDefault:"dispatch@lines-police-cad.com"`

	// AlertRecipients maps an agency to the semicolon separated addresses
	// notified of its code1 calls, e.g. "sasp=a@x.com;b@x.com,bcso=c@x.com"
	AlertRecipients map[string]string `env:"ALERT_RECIPIENTS" envSeparator:"," envKeyValSeparator:"="`

	ReconcileSchedule string        `env:"RECONCILE_SCHEDULE" envDefault:"@every 5m"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
}

// New parses the environment, sets up the global zap logger and returns the
// resulting config
func New() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger, err := setLogger(cfg.Env)
	if err != nil {
		return nil, err
	}
	_ = zap.ReplaceGlobals(logger)

	return &cfg, nil
}

func (c Config) validate() error {
	switch c.Store {
	case StoreMemory:
		if c.RedisAddr != "" {
			return errors.New("REDIS_ADDR requires STORE=mongo, instances relaying events must share one store")
		}
	case StoreMongo:
		if c.URL == "" {
			return errors.New("DB_URI is required when STORE=mongo")
		}
	default:
		return fmt.Errorf("invalid STORE %q (must be %q or %q)", c.Store, StoreMemory, StoreMongo)
	}
	if c.BusQueueSize <= 0 || c.BusHistorySize <= 0 {
		return errors.New("BUS_QUEUE_SIZE and BUS_HISTORY_SIZE must be positive")
	}
	return nil
}

// AlertRecipientsFor returns the alert addresses configured for an agency
func (c Config) AlertRecipientsFor(agencyID string) []string {
	var out []string
	for _, addr := range strings.Split(c.AlertRecipients[agencyID], ";") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

func setLogger(env string) (*zap.Logger, error) {
	return logging.New(env)
}

// ErrorStatus is a useful function that will log, write http headers and body for a
// give message, status code and err
func ErrorStatus(message string, httpStatusCode int, w http.ResponseWriter, err error) {
	zap.S().With(zap.Error(err)).Error(message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusCode)
	_, _ = w.Write([]byte(fmt.Sprintf(`{"response": "%s, %v"}`, message, err)))
}
