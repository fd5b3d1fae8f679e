package api

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaj13/go-guardian/auth"
	"github.com/shaj13/go-guardian/auth/strategies/basic"
	"github.com/shaj13/go-guardian/auth/strategies/bearer"
	"github.com/shaj13/go-guardian/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/linesmerrill/police-cad-dispatch/databases"
)

// TokenTTL is how long an issued bearer token stays valid
const TokenTTL = 24 * time.Hour

// MiddlewareDB authenticates requests against the user database
type MiddlewareDB struct {
	DB       databases.UserDatabase
	Agencies *AgencyAuthorizer

	authenticator auth.Authenticator
	cache         store.Cache
}

// NewMiddlewareDB returns a MiddlewareDB with go-guardian set up
func NewMiddlewareDB(db databases.UserDatabase) *MiddlewareDB {
	m := &MiddlewareDB{DB: db}
	m.SetupGoGuardian()
	return m
}

// SetupGoGuardian sets up the go-guardian strategies
func (m *MiddlewareDB) SetupGoGuardian() {
	m.authenticator = auth.New()
	m.cache = store.NewFIFO(context.Background(), TokenTTL)
	basicStrategy := basic.New(m.ValidateUser, m.cache)
	tokenStrategy := bearer.New(bearer.NoOpAuthenticate, m.cache)

	m.authenticator.EnableStrategy(basic.StrategyKey, basicStrategy)
	m.authenticator.EnableStrategy(bearer.CachedStrategyKey, tokenStrategy)
}

// Middleware rejects unauthenticated requests and stores the user on the
// request context
func (m *MiddlewareDB) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		user, err := m.authenticator.Authenticate(r)
		if err != nil {
			zap.S().Errorw("unauthorized",
				"url", r.URL)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error": "unauthorized"}`))
			return
		}
		zap.S().Debugf("User %s Authenticated", user.UserName())
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// CreateToken checks the basic auth credentials and returns a bearer token
func (m *MiddlewareDB) CreateToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	email, password, ok := r.BasicAuth()
	if !ok {
		http.Error(w, "basic auth failed", http.StatusUnauthorized)
		return
	}

	user, err := m.ValidateUser(r.Context(), r, email, password)
	if err != nil {
		zap.S().Infow("token request rejected", "email", email, "error", err)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token := uuid.New().String()
	tokenStrategy := m.authenticator.Strategy(bearer.CachedStrategyKey)
	if err := auth.Append(tokenStrategy, token, user, r); err != nil {
		http.Error(w, "failed to store token", http.StatusInternalServerError)
		return
	}

	responseBody, err := json.Marshal(map[string]string{
		"token": token,
		"_id":   user.ID(),
	})
	if err != nil {
		http.Error(w, "failed to marshal response", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(responseBody)
}

// ValidateUser checks an email and password against the user database
func (m *MiddlewareDB) ValidateUser(ctx context.Context, r *http.Request, email, password string) (auth.Info, error) {
	user, err := m.DB.FindByEmail(ctx, email)
	if errors.Is(err, databases.ErrNotFound) {
		return nil, fmt.Errorf("no matching email found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	usernameHash := sha256.Sum256([]byte(email))
	expectedUsernameHash := sha256.Sum256([]byte(user.Details.Email))
	usernameMatch := subtle.ConstantTimeCompare(usernameHash[:], expectedUsernameHash[:]) == 1

	if err := bcrypt.CompareHashAndPassword([]byte(user.Details.Password), []byte(password)); err != nil {
		return nil, fmt.Errorf("failed to compare password")
	}
	if !usernameMatch {
		return nil, fmt.Errorf("invalid credentials")
	}
	return auth.NewDefaultUser(email, user.ID, nil, nil), nil
}

// RevokeToken revokes the bearer token of the request
func (m *MiddlewareDB) RevokeToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	reqToken, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || reqToken == "" {
		http.Error(w, "bearer token required", http.StatusBadRequest)
		return
	}

	tokenStrategy := m.authenticator.Strategy(bearer.CachedStrategyKey)
	if err := auth.Revoke(tokenStrategy, reqToken, r); err != nil {
		http.Error(w, "failed to revoke token", http.StatusInternalServerError)
		return
	}
	if id := UserID(r); id != "" && m.Agencies != nil {
		m.Agencies.Forget(id)
	}
	body, _ := json.Marshal(map[string]string{"revoked token": reqToken})
	_, _ = w.Write(body)
}
