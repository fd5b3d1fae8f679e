package databases_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/linesmerrill/police-cad-dispatch/config"
	"github.com/linesmerrill/police-cad-dispatch/databases"
	"github.com/linesmerrill/police-cad-dispatch/databases/mocks"
	"github.com/linesmerrill/police-cad-dispatch/models"
)

func TestNewUserDatabase(t *testing.T) {
	t.Setenv("STORE", "mongo")
	t.Setenv("DB_URI", "mongodb://127.0.0.1:27017")
	t.Setenv("DB_NAME", "test")
	conf, err := config.New()
	require.NoError(t, err)

	dbClient, err := databases.NewClient(conf)
	require.NoError(t, err)

	assert.NotNil(t, databases.NewUserDatabase(databases.NewDatabase(conf, dbClient)))
}

// decodeUser fills the **models.User the store hands to Decode
func decodeUser(id string, agencies ...string) func(mock.Arguments) {
	return func(args mock.Arguments) {
		u := args.Get(0).(**models.User)
		(*u).ID = id
		(*u).Details.Agencies = agencies
	}
}

func TestUserDatabase_Lookups(t *testing.T) {
	found := &mocks.SingleResultHelper{}
	found.On("Decode", mock.Anything).Return(nil).Run(decodeUser("user-1", "sasp", "samc"))
	missing := &mocks.SingleResultHelper{}
	missing.On("Decode", mock.Anything).Return(mongo.ErrNoDocuments)
	broken := &mocks.SingleResultHelper{}
	broken.On("Decode", mock.Anything).Return(errors.New("mocked-error"))

	collection := &mocks.CollectionHelper{}
	collection.On("FindOne", context.Background(), bson.M{"user.email": "dispatch@sasp.gov"}).Return(found)
	collection.On("FindOne", context.Background(), bson.M{"_id": "user-1"}).Return(found)
	collection.On("FindOne", context.Background(), bson.M{"user.email": "ghost@sasp.gov"}).Return(missing)
	collection.On("FindOne", context.Background(), bson.M{"_id": "flaky"}).Return(broken)
	dbHelper := &mocks.DatabaseHelper{}
	dbHelper.On("Collection", "users").Return(collection)

	userDB := databases.NewUserDatabase(dbHelper)
	ctx := context.Background()

	user, err := userDB.FindByEmail(ctx, "dispatch@sasp.gov")
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, []string{"sasp", "samc"}, user.Details.Agencies)

	user, err = userDB.FindByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)

	user, err = userDB.FindByEmail(ctx, "ghost@sasp.gov")
	assert.Nil(t, user)
	assert.ErrorIs(t, err, databases.ErrNotFound)

	user, err = userDB.FindByID(ctx, "flaky")
	assert.Nil(t, user)
	assert.EqualError(t, err, "mocked-error")
	assert.NotErrorIs(t, err, databases.ErrNotFound)
}

func TestMemoryUserDatabase(t *testing.T) {
	userDB := databases.NewMemoryUserDatabase(models.User{
		ID:      "user-1",
		Details: models.UserDetails{Email: "Dispatch@SASP.gov", Agencies: []string{"sasp"}},
	})
	ctx := context.Background()

	user, err := userDB.FindByEmail(ctx, "dispatch@sasp.gov")
	assert.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)

	user, err = userDB.FindOne(ctx, bson.M{"_id": "user-1"})
	assert.NoError(t, err)
	assert.Equal(t, []string{"sasp"}, user.Details.Agencies)

	// callers get their own copy of the agencies
	user.Details.Agencies[0] = "bcso"
	user, err = userDB.FindByID(ctx, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, []string{"sasp"}, user.Details.Agencies)

	_, err = userDB.FindByID(ctx, "ghost")
	assert.ErrorIs(t, err, databases.ErrNotFound)

	_, err = userDB.FindOne(ctx, bson.M{"user.name": "x"})
	assert.Error(t, err)
}
