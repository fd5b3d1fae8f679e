package api_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/linesmerrill/police-cad-dispatch/api"
	"github.com/linesmerrill/police-cad-dispatch/databases"
	"github.com/linesmerrill/police-cad-dispatch/databases/mocks"
	"github.com/linesmerrill/police-cad-dispatch/models"
)

func TestAgencyAuthorizer_CachesLookups(t *testing.T) {
	db := &mocks.UserDatabase{}
	db.On("FindByID", mock.Anything, "user-1").
		Return(&models.User{ID: "user-1", Details: models.UserDetails{Agencies: []string{"sasp", "samc"}}}, nil).
		Once()
	a := api.NewAgencyAuthorizer(db, time.Minute)

	for range 3 {
		agencies, err := a.Agencies(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"sasp", "samc"}, agencies)
	}
	db.AssertNumberOfCalls(t, "FindByID", 1)
}

func TestAgencyAuthorizer_ReturnsCopies(t *testing.T) {
	db := &mocks.UserDatabase{}
	db.On("FindByID", mock.Anything, "user-1").
		Return(&models.User{ID: "user-1", Details: models.UserDetails{Agencies: []string{"sasp"}}}, nil)
	a := api.NewAgencyAuthorizer(db, time.Minute)

	agencies, err := a.Agencies(context.Background(), "user-1")
	require.NoError(t, err)
	agencies[0] = "bcso"

	agencies, err = a.Agencies(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"sasp"}, agencies)
}

func TestAgencyAuthorizer_Forget(t *testing.T) {
	db := &mocks.UserDatabase{}
	db.On("FindByID", mock.Anything, "user-1").
		Return(&models.User{ID: "user-1", Details: models.UserDetails{Agencies: []string{"sasp"}}}, nil)
	a := api.NewAgencyAuthorizer(db, time.Minute)

	_, err := a.Agencies(context.Background(), "user-1")
	require.NoError(t, err)
	a.Forget("user-1")
	_, err = a.Agencies(context.Background(), "user-1")
	require.NoError(t, err)
	db.AssertNumberOfCalls(t, "FindByID", 2)
}

func TestAgencyAuthorizer_UnknownUser(t *testing.T) {
	db := &mocks.UserDatabase{}
	db.On("FindByID", mock.Anything, "ghost").Return(nil, fmt.Errorf("user: %w", databases.ErrNotFound))
	a := api.NewAgencyAuthorizer(db, time.Minute)

	agencies, err := a.Agencies(context.Background(), "ghost")
	assert.NoError(t, err)
	assert.Empty(t, agencies)
}

func TestAgencyAuthorizer_StoreError(t *testing.T) {
	db := &mocks.UserDatabase{}
	db.On("FindByID", mock.Anything, "user-1").Return(nil, errors.New("mocked-error"))
	a := api.NewAgencyAuthorizer(db, time.Minute)

	_, err := a.Agencies(context.Background(), "user-1")
	assert.EqualError(t, err, "mocked-error")
}
