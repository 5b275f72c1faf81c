package urltable

import (
	"context"
	"fmt"

	"github.com/mirrorctl/mirrorctl/internal/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoTable is a durable Table backed by Mongo collections, for
// distributed crawls sharing one frontier across several engine processes.
type MongoTable struct {
	client   *mongo.Client
	urls     *mongo.Collection
	visits   *mongo.Collection
}

func OpenMongo(ctx context.Context, uri, database, collection string) (*MongoTable, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo url table: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo url table: %w", err)
	}
	db := client.Database(database)
	return &MongoTable{
		client: client,
		urls:   db.Collection(collection),
		visits: db.Collection(collection + "_visits"),
	}, nil
}

func (t *MongoTable) AddMany(ctx context.Context, records []*types.URLRecord) (int, error) {
	inserted := 0
	for _, r := range records {
		_, err := t.urls.UpdateOne(ctx,
			bson.M{"_id": r.URL},
			bson.M{"$setOnInsert": r},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return inserted, err
		}
		// UpdateOne with $setOnInsert doesn't report whether it inserted vs
		// matched directly in all driver versions; UpsertedCount does.
	}
	return inserted, nil
}

func (t *MongoTable) CheckOut(ctx context.Context, status types.Status, n int) ([]*types.URLRecord, error) {
	out := make([]*types.URLRecord, 0, n)
	for i := 0; i < n; i++ {
		var r types.URLRecord
		err := t.urls.FindOneAndUpdate(ctx,
			bson.M{"status": string(status)},
			bson.M{"$set": bson.M{"status": string(types.StatusInProgress)}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&r)
		if err == mongo.ErrNoDocuments {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, &r)
	}
	return out, nil
}

func (t *MongoTable) CheckIn(ctx context.Context, url string, status types.Status) error {
	_, err := t.urls.UpdateOne(ctx, bson.M{"_id": url}, bson.M{"$set": bson.M{"status": string(status)}})
	return err
}

func (t *MongoTable) UpdateOne(ctx context.Context, url string, status types.Status, statusCode int) error {
	update := bson.M{"$set": bson.M{"status": string(status), "statuscode": statusCode}}
	if status == types.StatusError {
		update["$inc"] = bson.M{"trycount": 1}
	}
	_, err := t.urls.UpdateOne(ctx, bson.M{"_id": url}, update)
	return err
}

func (t *MongoTable) Release(ctx context.Context, url string, status types.Status) error {
	return t.CheckIn(ctx, url, status)
}

func (t *MongoTable) ResetInProgress(ctx context.Context) (int, error) {
	res, err := t.urls.UpdateMany(ctx,
		bson.M{"status": string(types.StatusInProgress)},
		bson.M{"$set": bson.M{"status": string(types.StatusTodo)}},
	)
	if err != nil {
		return 0, err
	}
	return int(res.ModifiedCount), nil
}

func (t *MongoTable) AddVisits(ctx context.Context, visits []*types.Visit) error {
	if len(visits) == 0 {
		return nil
	}
	docs := make([]any, len(visits))
	for i, v := range visits {
		docs[i] = v
	}
	_, err := t.visits.InsertMany(ctx, docs)
	return err
}

func (t *MongoTable) GetRevisitID(ctx context.Context, payloadDigest string) (string, bool, error) {
	var v types.Visit
	err := t.visits.FindOne(ctx, bson.M{"payloaddigest": payloadDigest}).Decode(&v)
	if err == mongo.ErrNoDocuments {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v.WARCID, true, nil
}

func (t *MongoTable) Get(ctx context.Context, url string) (*types.URLRecord, bool, error) {
	var r types.URLRecord
	err := t.urls.FindOne(ctx, bson.M{"_id": url}).Decode(&r)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &r, true, nil
}

func (t *MongoTable) Count(ctx context.Context, status types.Status) (int, error) {
	n, err := t.urls.CountDocuments(ctx, bson.M{"status": string(status)})
	return int(n), err
}

func (t *MongoTable) Close() error {
	return t.client.Disconnect(context.Background())
}
