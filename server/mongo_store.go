package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore owns the MongoDB connection and exposes the blob and
// profile collections as MetadataStore / ProfileStore implementations.
type MongoStore struct {
	client   *mongo.Client
	Blobs    *MongoBlobStore
	Profiles *MongoProfileStore
}

// MongoBlobStore implements MetadataStore over the "blobs" collection.
type MongoBlobStore struct {
	coll *mongo.Collection
}

// MongoProfileStore implements ProfileStore over the "profiles"
// collection.
type MongoProfileStore struct {
	coll *mongo.Collection
}

// NewMongoStore connects to MongoDB, pings it, and returns a store
// over the named database.
func NewMongoStore(ctx context.Context, uri, databaseName string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %v", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %v", err)
	}

	database := client.Database(databaseName)
	return &MongoStore{
		client:   client,
		Blobs:    &MongoBlobStore{coll: database.Collection("blobs")},
		Profiles: &MongoProfileStore{coll: database.Collection("profiles")},
	}, nil
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func blobQuery(filter BlobFilter) bson.M {
	query := bson.M{}

	if filter.ID != "" {
		query["id"] = filter.ID
	}
	if filter.CorrelationID != "" {
		query["correlationId"] = filter.CorrelationID
	}
	if len(filter.Profiles) > 0 {
		query["profile"] = bson.M{"$in": filter.Profiles}
	}
	if filter.ContentType != "" {
		query["contentType"] = filter.ContentType
	}
	if len(filter.States) > 0 {
		query["state"] = bson.M{"$in": filter.States}
	}
	if clause := timeClause(filter.CreationTime); clause != nil {
		query["creationTime"] = clause
	}
	if clause := timeClause(filter.ModificationTime); clause != nil {
		query["modificationTime"] = clause
	}

	return query
}

// timeClause maps a one-element filter to an exact match and a
// two-element filter to an inclusive range.
func timeClause(times []time.Time) interface{} {
	switch len(times) {
	case 1:
		return times[0]
	case 2:
		return bson.M{"$gte": times[0], "$lte": times[1]}
	default:
		return nil
	}
}

// Find queries blob metadata ordered by creation time, oldest first,
// so pagination offsets are stable across calls.
func (s *MongoBlobStore) Find(ctx context.Context, filter BlobFilter, offset, limit int) ([]Blob, error) {
	opts := options.Find().
		SetSort(bson.M{"creationTime": 1}).
		SetSkip(int64(offset))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.coll.Find(ctx, blobQuery(filter), opts)
	if err != nil {
		return nil, storeErr("find blobs", err)
	}
	defer cursor.Close(ctx)

	var results []Blob
	for cursor.Next(ctx) {
		var blob Blob
		if err := cursor.Decode(&blob); err != nil {
			return nil, storeErr("decode blob", err)
		}
		results = append(results, blob)
	}
	if err := cursor.Err(); err != nil {
		return nil, storeErr("blob cursor", err)
	}

	return results, nil
}

func (s *MongoBlobStore) FindOne(ctx context.Context, id string) (*Blob, error) {
	var blob Blob
	err := s.coll.FindOne(ctx, bson.M{"id": id}).Decode(&blob)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: blob %s", ErrNotFound, id)
		}
		return nil, storeErr("find blob", err)
	}
	return &blob, nil
}

func (s *MongoBlobStore) Insert(ctx context.Context, blob *Blob) error {
	if _, err := s.coll.InsertOne(ctx, blob); err != nil {
		return storeErr("insert blob", err)
	}
	return nil
}

func (s *MongoBlobStore) Update(ctx context.Context, id string, patch BlobPatch) error {
	set := bson.M{"modificationTime": patch.ModificationTime}
	if patch.State != nil {
		set["state"] = *patch.State
	}
	if patch.TransformationError != nil {
		set["processingInfo.transformationError"] = patch.TransformationError
	}
	if patch.NumberOfRecords != nil {
		set["processingInfo.numberOfRecords"] = *patch.NumberOfRecords
	}
	if patch.FailedRecords != nil {
		set["processingInfo.failedRecords"] = patch.FailedRecords
	}

	result, err := s.coll.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": set})
	if err != nil {
		return storeErr("update blob", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: blob %s", ErrNotFound, id)
	}
	return nil
}

// AppendImportResult pushes one import result and recomputes the state
// in a single aggregation-pipeline update, so concurrent record
// completions each observe their own post-append counts and the
// PROCESSED threshold cannot be miscounted.
func (s *MongoBlobStore) AppendImportResult(ctx context.Context, id string, result ImportResult) (BlobState, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$set", Value: bson.M{
			"processingInfo.importResults": bson.M{"$concatArrays": bson.A{
				bson.M{"$ifNull": bson.A{"$processingInfo.importResults", bson.A{}}},
				bson.A{bson.M{
					"status":    result.Status,
					"timestamp": result.Timestamp,
					"metadata":  result.Metadata,
				}},
			}},
			"modificationTime": result.Timestamp,
		}}},
		bson.D{{Key: "$set", Value: bson.M{
			// The threshold only counts once transformationDone has set
			// numberOfRecords; until then appends never complete the blob.
			"state": bson.M{"$cond": bson.A{
				bson.M{"$and": bson.A{
					bson.M{"$gt": bson.A{"$processingInfo.numberOfRecords", 0}},
					bson.M{"$gte": bson.A{
						bson.M{"$add": bson.A{
							bson.M{"$size": "$processingInfo.importResults"},
							bson.M{"$size": bson.M{"$ifNull": bson.A{"$processingInfo.failedRecords", bson.A{}}}},
						}},
						"$processingInfo.numberOfRecords",
					}},
				}},
				StateProcessed,
				StateTransformed,
			}},
		}}},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated Blob
	err := s.coll.FindOneAndUpdate(ctx, bson.M{"id": id}, pipeline, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", fmt.Errorf("%w: blob %s", ErrNotFound, id)
		}
		return "", storeErr("append import result", err)
	}
	return updated.State, nil
}

func (s *MongoBlobStore) Delete(ctx context.Context, id string) error {
	result, err := s.coll.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return storeErr("delete blob", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%w: blob %s", ErrNotFound, id)
	}
	return nil
}

func (s *MongoBlobStore) CountByProfile(ctx context.Context, profile string) (int64, error) {
	count, err := s.coll.CountDocuments(ctx, bson.M{"profile": profile})
	if err != nil {
		return 0, storeErr("count blobs", err)
	}
	return count, nil
}

func (s *MongoProfileStore) FindByName(ctx context.Context, name string) (*Profile, error) {
	var profile Profile
	err := s.coll.FindOne(ctx, bson.M{"name": name}).Decode(&profile)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: profile %s", ErrNotFound, name)
		}
		return nil, storeErr("find profile", err)
	}
	return &profile, nil
}

func (s *MongoProfileStore) Upsert(ctx context.Context, profile *Profile) (bool, error) {
	update := bson.M{"$set": bson.M{"groups": profile.Groups}}
	opts := options.Update().SetUpsert(true)
	result, err := s.coll.UpdateOne(ctx, bson.M{"name": profile.Name}, update, opts)
	if err != nil {
		return false, storeErr("upsert profile", err)
	}
	return result.UpsertedCount > 0, nil
}

func (s *MongoProfileStore) FindAll(ctx context.Context) ([]Profile, error) {
	cursor, err := s.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.M{"name": 1}))
	if err != nil {
		return nil, storeErr("find profiles", err)
	}
	defer cursor.Close(ctx)

	var profiles []Profile
	for cursor.Next(ctx) {
		var profile Profile
		if err := cursor.Decode(&profile); err != nil {
			return nil, storeErr("decode profile", err)
		}
		profiles = append(profiles, profile)
	}
	if err := cursor.Err(); err != nil {
		return nil, storeErr("profile cursor", err)
	}

	return profiles, nil
}

func (s *MongoProfileStore) Delete(ctx context.Context, name string) error {
	result, err := s.coll.DeleteOne(ctx, bson.M{"name": name})
	if err != nil {
		return storeErr("delete profile", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%w: profile %s", ErrNotFound, name)
	}
	return nil
}
