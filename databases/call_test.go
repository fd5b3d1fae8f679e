package databases_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/linesmerrill/police-cad-dispatch/databases"
	"github.com/linesmerrill/police-cad-dispatch/databases/mocks"
	"github.com/linesmerrill/police-cad-dispatch/models"
)

func TestCallDatabase_Get(t *testing.T) {
	var dbHelper databases.DatabaseHelper
	var collectionHelper databases.CollectionHelper
	var srHelperMissing databases.SingleResultHelper
	var srHelperCorrect databases.SingleResultHelper

	dbHelper = &mocks.DatabaseHelper{}
	collectionHelper = &mocks.CollectionHelper{}
	srHelperMissing = &mocks.SingleResultHelper{}
	srHelperCorrect = &mocks.SingleResultHelper{}

	srHelperMissing.(*mocks.SingleResultHelper).
		On("Decode", mock.Anything).
		Return(mongo.ErrNoDocuments)

	srHelperCorrect.(*mocks.SingleResultHelper).
		On("Decode", mock.Anything).
		Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.Call)
		(*arg).ID = "call-1"
		(*arg).AgencyID = "sasp"
	})

	collectionHelper.(*mocks.CollectionHelper).
		On("FindOne", context.Background(), bson.M{"_id": "call-1", "agencyId": "sasp"}).
		Return(srHelperCorrect)
	collectionHelper.(*mocks.CollectionHelper).
		On("FindOne", context.Background(), bson.M{"_id": "call-1", "agencyId": "samc"}).
		Return(srHelperMissing)

	dbHelper.(*mocks.DatabaseHelper).
		On("Collection", "calls").Return(collectionHelper)

	callDB := databases.NewCallDatabase(dbHelper)

	call, err := callDB.Get(context.Background(), "sasp", "call-1")
	assert.NoError(t, err)
	assert.Equal(t, "call-1", call.ID)

	call, err = callDB.Get(context.Background(), "samc", "call-1")
	assert.Nil(t, call)
	assert.True(t, errors.Is(err, databases.ErrNotFound))
}

func TestCallDatabase_PutInsertsNewCall(t *testing.T) {
	dbHelper := &mocks.DatabaseHelper{}
	collectionHelper := &mocks.CollectionHelper{}
	srHelper := &mocks.SingleResultHelper{}

	srHelper.On("Decode", mock.Anything).Return(mongo.ErrNoDocuments)
	collectionHelper.On("FindOne", mock.Anything, bson.M{"_id": "call-1", "agencyId": "sasp"}).Return(srHelper)
	collectionHelper.On("InsertOne", mock.Anything, mock.MatchedBy(func(c models.Call) bool {
		return c.ID == "call-1" && c.AgencyID == "sasp" && c.Version == 1
	})).Return(&mocks.InsertOneResultHelper{}, nil)
	dbHelper.On("Collection", "calls").Return(collectionHelper)

	callDB := databases.NewCallDatabase(dbHelper)
	stored, err := callDB.Put(context.Background(), "sasp", models.Call{ID: "call-1", AgencyID: "other"})

	require.NoError(t, err)
	assert.Equal(t, "sasp", stored.AgencyID)
	assert.Equal(t, int64(1), stored.Version)
	collectionHelper.AssertExpectations(t)
}

func TestCallDatabase_PutInsertOnlyTakenID(t *testing.T) {
	dbHelper := &mocks.DatabaseHelper{}
	collectionHelper := &mocks.CollectionHelper{}

	duplicate := mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000, Message: "E11000 duplicate key"}}}
	collectionHelper.On("InsertOne", mock.Anything, mock.Anything).Return(nil, duplicate)
	dbHelper.On("Collection", "calls").Return(collectionHelper)

	callDB := databases.NewCallDatabase(dbHelper)
	stored, err := callDB.Put(context.Background(), "sasp", models.Call{ID: "call-1"}, databases.InsertOnly())

	assert.Nil(t, stored)
	assert.ErrorIs(t, err, databases.ErrConflict)
	collectionHelper.AssertNotCalled(t, "FindOne", mock.Anything, mock.Anything)
	collectionHelper.AssertNotCalled(t, "ReplaceOne", mock.Anything, mock.Anything, mock.Anything)
}

func TestCallDatabase_PutUpdateOnlyMissing(t *testing.T) {
	dbHelper := &mocks.DatabaseHelper{}
	collectionHelper := &mocks.CollectionHelper{}
	srHelper := &mocks.SingleResultHelper{}

	srHelper.On("Decode", mock.Anything).Return(mongo.ErrNoDocuments)
	collectionHelper.On("FindOne", mock.Anything, mock.Anything).Return(srHelper)
	dbHelper.On("Collection", "calls").Return(collectionHelper)

	callDB := databases.NewCallDatabase(dbHelper)
	_, err := callDB.Put(context.Background(), "sasp", models.Call{ID: "call-1"}, databases.UpdateOnly())

	assert.ErrorIs(t, err, databases.ErrNotFound)
	collectionHelper.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestCallDatabase_PutIfVersionConflict(t *testing.T) {
	dbHelper := &mocks.DatabaseHelper{}
	collectionHelper := &mocks.CollectionHelper{}
	srHelper := &mocks.SingleResultHelper{}
	updateResult := &mocks.UpdateResultHelper{}

	updateResult.On("MatchedCount").Return(int64(0))
	collectionHelper.On("ReplaceOne", mock.Anything, bson.M{"_id": "call-1", "agencyId": "sasp", "__v": int64(3)}, mock.Anything).
		Return(updateResult, nil)
	// the record still exists, so the mismatch is a conflict rather than a miss
	srHelper.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.Call)
		(*arg).ID = "call-1"
		(*arg).Version = 4
	})
	collectionHelper.On("FindOne", mock.Anything, mock.Anything).Return(srHelper)
	dbHelper.On("Collection", "calls").Return(collectionHelper)

	callDB := databases.NewCallDatabase(dbHelper)
	_, err := callDB.Put(context.Background(), "sasp", models.Call{ID: "call-1"}, databases.IfVersion(3))

	assert.ErrorIs(t, err, databases.ErrConflict)
}

func TestCallDatabase_PutIfVersionSuccess(t *testing.T) {
	dbHelper := &mocks.DatabaseHelper{}
	collectionHelper := &mocks.CollectionHelper{}
	updateResult := &mocks.UpdateResultHelper{}

	updateResult.On("MatchedCount").Return(int64(1))
	collectionHelper.On("ReplaceOne", mock.Anything, bson.M{"_id": "call-1", "agencyId": "sasp", "__v": int64(3)}, mock.MatchedBy(func(c models.Call) bool {
		return c.Version == 4
	})).Return(updateResult, nil)
	dbHelper.On("Collection", "calls").Return(collectionHelper)

	callDB := databases.NewCallDatabase(dbHelper)
	stored, err := callDB.Put(context.Background(), "sasp", models.Call{ID: "call-1", Version: 3}, databases.IfVersion(3))

	require.NoError(t, err)
	assert.Equal(t, int64(4), stored.Version)
	collectionHelper.AssertNotCalled(t, "FindOne", mock.Anything, mock.Anything)
}

func TestCallDatabase_List(t *testing.T) {
	dbHelper := &mocks.DatabaseHelper{}
	collectionHelper := &mocks.CollectionHelper{}
	cursorHelper := &mocks.CursorHelper{}

	cursorHelper.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(*[]models.Call)
		*arg = []models.Call{{ID: "first"}, {ID: "second"}}
	})
	collectionHelper.On("Find", mock.Anything, bson.M{
		"agencyId": "sasp",
		"status":   bson.M{"$in": []models.Status{models.StatusPending}},
	}, mock.Anything).Return(cursorHelper, nil)
	dbHelper.On("Collection", "calls").Return(collectionHelper)

	callDB := databases.NewCallDatabase(dbHelper)
	seq, err := callDB.List(context.Background(), "sasp", models.CallFilter{Statuses: []models.Status{models.StatusPending}})
	require.NoError(t, err)

	var ids []string
	for c := range seq {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"first", "second"}, ids)
	assert.Len(t, slices.Collect(seq), 2)
}

func TestCallDatabase_ListFindError(t *testing.T) {
	dbHelper := &mocks.DatabaseHelper{}
	collectionHelper := &mocks.CollectionHelper{}

	collectionHelper.On("Find", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("mocked-error"))
	dbHelper.On("Collection", "calls").Return(collectionHelper)

	callDB := databases.NewCallDatabase(dbHelper)
	_, err := callDB.List(context.Background(), "sasp", models.CallFilter{})
	assert.EqualError(t, err, "mocked-error")
}

func TestCallDatabase_Delete(t *testing.T) {
	dbHelper := &mocks.DatabaseHelper{}
	collectionHelper := &mocks.CollectionHelper{}
	deleted := &mocks.DeleteResultHelper{}
	missing := &mocks.DeleteResultHelper{}

	deleted.On("DeletedCount").Return(int64(1))
	missing.On("DeletedCount").Return(int64(0))
	collectionHelper.On("DeleteOne", mock.Anything, bson.M{"_id": "call-1", "agencyId": "sasp"}).Return(deleted, nil)
	collectionHelper.On("DeleteOne", mock.Anything, bson.M{"_id": "call-2", "agencyId": "sasp"}).Return(missing, nil)
	dbHelper.On("Collection", "calls").Return(collectionHelper)

	callDB := databases.NewCallDatabase(dbHelper)
	assert.NoError(t, callDB.Delete(context.Background(), "sasp", "call-1"))
	assert.ErrorIs(t, callDB.Delete(context.Background(), "sasp", "call-2"), databases.ErrNotFound)
}

func TestCallDatabase_Agencies(t *testing.T) {
	dbHelper := &mocks.DatabaseHelper{}
	collectionHelper := &mocks.CollectionHelper{}

	collectionHelper.On("Distinct", mock.Anything, "agencyId", bson.M{}).
		Return([]interface{}{"sasp", "bcso", "", 12}, nil)
	dbHelper.On("Collection", "calls").Return(collectionHelper)

	callDB := databases.NewCallDatabase(dbHelper)
	agencies, err := callDB.Agencies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"bcso", "sasp"}, agencies)
}
