package databases

// go generate: mockery --name UserDatabase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/linesmerrill/police-cad-dispatch/models"
)

const userName = "users"

// UserDatabase contains the methods to use with the user database
type UserDatabase interface {
	FindOne(ctx context.Context, filter interface{}) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type userDatabase struct {
	db DatabaseHelper
}

// NewUserDatabase initializes a new instance of user database with the provided db connection
func NewUserDatabase(db DatabaseHelper) UserDatabase {
	return &userDatabase{
		db: db,
	}
}

func (u *userDatabase) FindOne(ctx context.Context, filter interface{}) (*models.User, error) {
	user := &models.User{}
	err := u.db.Collection(userName).FindOne(ctx, filter).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("user: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (u *userDatabase) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return u.FindOne(ctx, bson.M{"user.email": email})
}

func (u *userDatabase) FindByID(ctx context.Context, id string) (*models.User, error) {
	return u.FindOne(ctx, bson.M{"_id": id})
}

type memoryUserDatabase struct {
	mu    sync.RWMutex
	byID  map[string]models.User
	email map[string]string
}

// NewMemoryUserDatabase returns a UserDatabase holding users, used when no
// mongo store is configured
func NewMemoryUserDatabase(users ...models.User) UserDatabase {
	m := &memoryUserDatabase{
		byID:  make(map[string]models.User, len(users)),
		email: make(map[string]string, len(users)),
	}
	for _, u := range users {
		m.byID[u.ID] = u
		m.email[strings.ToLower(u.Details.Email)] = u.ID
	}
	return m
}

// FindOne supports the same two filters the mongo lookups build
func (m *memoryUserDatabase) FindOne(ctx context.Context, filter interface{}) (*models.User, error) {
	f, ok := filter.(bson.M)
	if !ok {
		return nil, fmt.Errorf("unsupported user filter %T", filter)
	}
	if email, ok := f["user.email"].(string); ok {
		return m.FindByEmail(ctx, email)
	}
	if id, ok := f["_id"].(string); ok {
		return m.FindByID(ctx, id)
	}
	return nil, fmt.Errorf("unsupported user filter %v", f)
}

func (m *memoryUserDatabase) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	id, ok := m.email[strings.ToLower(email)]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("user: %w", ErrNotFound)
	}
	return m.FindByID(ctx, id)
}

func (m *memoryUserDatabase) FindByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("user: %w", ErrNotFound)
	}
	u.Details.Agencies = slices.Clone(u.Details.Agencies)
	return &u, nil
}
