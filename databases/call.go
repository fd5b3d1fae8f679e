package databases

// go generate: mockery --name CallDatabase

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"regexp"
	"slices"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linesmerrill/police-cad-dispatch/models"
)

const callName = "calls"

// CallDatabase contains the methods to use with the call database. Every
// method is scoped to one agency: a call stored under another agency does not
// exist as far as the caller is concerned.
type CallDatabase interface {
	Put(ctx context.Context, agencyID string, call models.Call, opts ...PutOption) (*models.Call, error)
	Get(ctx context.Context, agencyID, id string) (*models.Call, error)
	List(ctx context.Context, agencyID string, filter models.CallFilter) (iter.Seq[models.Call], error)
	Delete(ctx context.Context, agencyID, id string) error
	Agencies(ctx context.Context) ([]string, error)
}

type putOptions struct {
	insertOnly   bool
	updateOnly   bool
	checkVersion bool
	version      int64
}

// PutOption changes how Put treats an existing record
type PutOption func(*putOptions)

// InsertOnly makes Put fail with ErrConflict when the id is already taken
func InsertOnly() PutOption {
	return func(o *putOptions) {
		o.insertOnly = true
	}
}

// UpdateOnly makes Put fail with ErrNotFound instead of inserting
func UpdateOnly() PutOption {
	return func(o *putOptions) {
		o.updateOnly = true
	}
}

// IfVersion makes Put fail with ErrConflict unless the stored version is v.
// It implies UpdateOnly.
func IfVersion(v int64) PutOption {
	return func(o *putOptions) {
		o.updateOnly = true
		o.checkVersion = true
		o.version = v
	}
}

func newPutOptions(opts []PutOption) putOptions {
	var o putOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

var errMissingID = errors.New("call id is required")

type callDatabase struct {
	db DatabaseHelper
}

// NewCallDatabase initializes a new instance of call database with the provided db connection
func NewCallDatabase(db DatabaseHelper) CallDatabase {
	return &callDatabase{
		db: db,
	}
}

// EnsureCallIndexes creates the index backing the dispatch ordering of List
func EnsureCallIndexes(ctx context.Context, db DatabaseHelper) error {
	_, err := db.Collection(callName).CreateIndex(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "agencyId", Value: 1}, {Key: "priority", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	return err
}

func (c *callDatabase) Put(ctx context.Context, agencyID string, call models.Call, opts ...PutOption) (*models.Call, error) {
	if call.ID == "" {
		return nil, errMissingID
	}
	o := newPutOptions(opts)
	call = call.Clone()
	call.AgencyID = agencyID
	coll := c.db.Collection(callName)
	if o.insertOnly {
		return c.insert(ctx, call)
	}

	expected := o.version
	if !o.checkVersion {
		current, err := c.Get(ctx, agencyID, call.ID)
		switch {
		case errors.Is(err, ErrNotFound):
			if o.updateOnly {
				return nil, err
			}
			return c.insert(ctx, call)
		case err != nil:
			return nil, err
		}
		expected = current.Version
	}

	call.Version = expected + 1
	filter := bson.M{"_id": call.ID, "agencyId": agencyID, "__v": expected}
	res, err := coll.ReplaceOne(ctx, filter, call)
	if err != nil {
		return nil, err
	}
	if res.MatchedCount() == 0 {
		if _, err := c.Get(ctx, agencyID, call.ID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("replace call %s at version %d: %w", call.ID, expected, ErrConflict)
	}
	return &call, nil
}

// insert relies on the unique _id to reject a taken id
func (c *callDatabase) insert(ctx context.Context, call models.Call) (*models.Call, error) {
	call.Version = 1
	if _, err := c.db.Collection(callName).InsertOne(ctx, call); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("insert call %s: %w", call.ID, ErrConflict)
		}
		return nil, err
	}
	return &call, nil
}

func (c *callDatabase) Get(ctx context.Context, agencyID, id string) (*models.Call, error) {
	call := &models.Call{}
	err := c.db.Collection(callName).FindOne(ctx, bson.M{"_id": id, "agencyId": agencyID}).Decode(&call)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("call %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return call, nil
}

func (c *callDatabase) List(ctx context.Context, agencyID string, filter models.CallFilter) (iter.Seq[models.Call], error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "priority", Value: 1},
		{Key: "createdAt", Value: -1},
		{Key: "_id", Value: 1},
	})
	cr, err := c.db.Collection(callName).Find(ctx, callFilterQuery(agencyID, filter), opts)
	if err != nil {
		return nil, err
	}
	var calls []models.Call
	if err := cr.Decode(&calls); err != nil {
		return nil, err
	}
	return slices.Values(calls), nil
}

func (c *callDatabase) Delete(ctx context.Context, agencyID, id string) error {
	res, err := c.db.Collection(callName).DeleteOne(ctx, bson.M{"_id": id, "agencyId": agencyID})
	if err != nil {
		return err
	}
	if res.DeletedCount() == 0 {
		return fmt.Errorf("call %s: %w", id, ErrNotFound)
	}
	return nil
}

func (c *callDatabase) Agencies(ctx context.Context) ([]string, error) {
	values, err := c.db.Collection(callName).Distinct(ctx, "agencyId", bson.M{})
	if err != nil {
		return nil, err
	}
	agencies := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			agencies = append(agencies, s)
		}
	}
	slices.Sort(agencies)
	return agencies, nil
}

// callFilterQuery translates a CallFilter into a mongo query. Free text is
// matched case-insensitively against the human readable fields.
func callFilterQuery(agencyID string, f models.CallFilter) bson.M {
	q := bson.M{"agencyId": agencyID}
	if len(f.CallTypes) > 0 {
		q["callType"] = bson.M{"$in": f.CallTypes}
	}
	if len(f.Priorities) > 0 {
		q["priority"] = bson.M{"$in": f.Priorities}
	}
	if len(f.Statuses) > 0 {
		q["status"] = bson.M{"$in": f.Statuses}
	}
	if text := strings.TrimSpace(f.Text); text != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(text), Options: "i"}
		q["$or"] = bson.A{
			bson.M{"title": re},
			bson.M{"description": re},
			bson.M{"notes": re},
			bson.M{"location.address": re},
		}
	}
	return q
}
