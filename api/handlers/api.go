package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/linesmerrill/police-cad-dispatch/api"
	"github.com/linesmerrill/police-cad-dispatch/bus"
	"github.com/linesmerrill/police-cad-dispatch/config"
	"github.com/linesmerrill/police-cad-dispatch/databases"
	"github.com/linesmerrill/police-cad-dispatch/dispatch"
	"github.com/linesmerrill/police-cad-dispatch/geo"
	"github.com/linesmerrill/police-cad-dispatch/models"
)

// AuthorizationTTL is how long the agencies of a user are cached
const AuthorizationTTL = time.Minute

// App stores the router and the dispatch core, so it can be reused
type App struct {
	Router      *mux.Router
	Config      config.Config
	Calls       databases.CallDatabase
	Users       databases.UserDatabase
	Bus         *bus.Bus
	Geo         *geo.Index
	Coordinator *dispatch.Coordinator
	Media       MediaUploader
	Metrics     *api.Metrics
	Tickets     *api.TicketIssuer
	Agencies    *api.AgencyAuthorizer

	client databases.ClientHelper
}

// New creates a new mux router and all the routes
func (a *App) New() *mux.Router {
	if a.Metrics == nil {
		a.Metrics = api.NewMetrics()
	}
	// setup go-guardian for middleware
	m := api.NewMiddlewareDB(a.Users)
	m.Agencies = a.Agencies
	timeout := api.TimeoutMiddleware(a.Config.RequestTimeout)
	protected := func(h http.HandlerFunc) http.Handler {
		return timeout(m.Middleware(h))
	}

	c := Call{Coordinator: a.Coordinator, Media: a.Media}
	s := Stream{Coordinator: a.Coordinator, Feed: a.Bus, Tickets: a.Tickets}

	r := mux.NewRouter()
	r.Use(a.Metrics.Middleware)

	// healthchex
	r.HandleFunc("/health", healthCheckHandler)
	r.Handle("/metrics", a.Metrics.Handler())

	apiCreate := r.PathPrefix("/api/v1").Subrouter()

	apiCreate.Handle("/auth/token", timeout(http.HandlerFunc(m.CreateToken))).Methods("POST")
	apiCreate.Handle("/auth/logout", protected(m.RevokeToken)).Methods("DELETE")

	apiCreate.Handle("/agency/{agency_id}/calls", protected(c.CallsHandler)).Methods("GET")
	apiCreate.Handle("/agency/{agency_id}/calls", protected(c.CreateCallHandler)).Methods("POST")
	apiCreate.Handle("/agency/{agency_id}/calls/{call_id}", protected(c.CallByIDHandler)).Methods("GET")
	apiCreate.Handle("/agency/{agency_id}/calls/{call_id}", protected(c.UpdateCallHandler)).Methods("PATCH")
	apiCreate.Handle("/agency/{agency_id}/calls/{call_id}", protected(c.DeleteCallHandler)).Methods("DELETE")
	apiCreate.Handle("/agency/{agency_id}/calls/{call_id}/status", protected(c.ChangeStatusHandler)).Methods("PUT")
	apiCreate.Handle("/agency/{agency_id}/calls/{call_id}/units/{unit_id}", protected(c.AssignUnitHandler)).Methods("PUT")
	apiCreate.Handle("/agency/{agency_id}/calls/{call_id}/units/{unit_id}", protected(c.UnassignUnitHandler)).Methods("DELETE")
	apiCreate.Handle("/agency/{agency_id}/calls/{call_id}/image", protected(c.UploadImageHandler)).Methods("POST")
	apiCreate.Handle("/agency/{agency_id}/map", protected(c.MapHandler)).Methods("GET")

	apiCreate.Handle("/agency/{agency_id}/stream-ticket", protected(s.TicketHandler)).Methods("POST")
	// the websocket carries its own ticket and outlives any request timeout
	apiCreate.Handle("/agency/{agency_id}/stream", http.HandlerFunc(s.StreamHandler)).Methods("GET")

	return r
}

// Initialize opens the configured stores and builds the dispatch core
func (a *App) Initialize(ctx context.Context) error {
	if err := a.openStores(ctx); err != nil {
		return err
	}

	a.Bus = bus.New(bus.Config{
		QueueSize:   a.Config.BusQueueSize,
		HistorySize: a.Config.BusHistorySize,
	})
	a.Geo = geo.NewIndex()
	a.Agencies = api.NewAgencyAuthorizer(a.Users, AuthorizationTTL)
	a.Coordinator = dispatch.New(a.Calls, a.Bus, a.Geo, a.Agencies)

	a.Metrics = api.NewMetrics()
	a.Bus.OnPublish(a.Metrics.ObserveEvent)
	a.Metrics.GaugeFunc("bus_subscribers", "Realtime subscribers attached to the change bus", func() float64 {
		return float64(a.Bus.SubscriberCount())
	})
	a.Metrics.CounterFunc("bus_overflows_total", "Subscriber queue overflows answered with a resync", func() float64 {
		return float64(a.Bus.Overflows())
	})

	a.Tickets = api.NewTicketIssuer(a.Config.StreamTicketSecret, a.Config.StreamTicketTTL)

	if a.Config.CloudinaryURL != "" {
		media, err := NewCloudinaryUploader(a.Config.CloudinaryURL)
		if err != nil {
			return err
		}
		a.Media = media
	}

	// rebuild the geo index of calls already in the store
	agencies, err := a.Calls.Agencies(ctx)
	if err != nil {
		return fmt.Errorf("failed to list agencies: %w", err)
	}
	for _, agencyID := range agencies {
		if _, err := a.Coordinator.Reconcile(ctx, agencyID); err != nil {
			return err
		}
	}

	// initialize api router
	a.initializeRoutes()
	return nil
}

func (a *App) openStores(ctx context.Context) error {
	if a.Config.Store != config.StoreMongo {
		users, err := loadSeedUsers(a.Config.SeedUsersFile)
		if err != nil {
			return err
		}
		a.Calls = databases.NewMemoryCallDatabase()
		a.Users = databases.NewMemoryUserDatabase(users...)
		zap.S().Infow("using the in-memory store", "users", len(users))
		return nil
	}

	client, err := databases.NewClient(&a.Config)
	if err != nil {
		// if we fail to create a new database client, then kill the pod
		zap.S().With(err).Error("failed to create new client")
		return err
	}
	if err := client.Connect(ctx); err != nil {
		// if we fail to connect to the database, then kill the pod
		zap.S().With(err).Error("failed to connect to database")
		return err
	}
	a.client = client
	zap.S().Info("police-cad-dispatch has connected to the database")

	db := databases.NewDatabase(&a.Config, client)
	if err := databases.EnsureCallIndexes(ctx, db); err != nil {
		return fmt.Errorf("failed to create call indexes: %w", err)
	}
	a.Calls = databases.NewCallDatabase(db)
	a.Users = databases.NewUserDatabase(db)
	return nil
}

// seedUser is the on-disk form of a dispatcher for the in-memory store
type seedUser struct {
	ID           string   `json:"_id"`
	Email        string   `json:"email"`
	Name         string   `json:"name"`
	CallSign     string   `json:"callSign"`
	PasswordHash string   `json:"passwordHash"`
	Agencies     []string `json:"agencies"`
}

func loadSeedUsers(path string) ([]models.User, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed users: %w", err)
	}
	var seeds []seedUser
	if err := json.Unmarshal(b, &seeds); err != nil {
		return nil, fmt.Errorf("failed to decode seed users: %w", err)
	}
	users := make([]models.User, 0, len(seeds))
	for _, s := range seeds {
		users = append(users, models.User{
			ID: s.ID,
			Details: models.UserDetails{
				Email:    s.Email,
				Name:     s.Name,
				CallSign: s.CallSign,
				Password: s.PasswordHash,
				Agencies: s.Agencies,
			},
		})
	}
	return users, nil
}

// Close releases the database connection and the geo indexes
func (a *App) Close(ctx context.Context) {
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.Geo != nil {
		if err := a.Geo.Close(); err != nil {
			zap.S().Errorw("failed to close geo index", "error", err)
		}
	}
	if a.client != nil {
		if err := a.client.Disconnect(ctx); err != nil {
			zap.S().Errorw("failed to disconnect from database", "error", err)
		}
	}
}

func (a *App) initializeRoutes() {
	a.Router = a.New()
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	b, _ := json.Marshal(models.HealthCheckResponse{
		Alive: true,
	})
	_, _ = io.WriteString(w, string(b))
}
