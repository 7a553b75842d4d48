package etl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoSink writes documents with an unordered BulkWrite of ReplaceOne
// upserts keyed by _id, so a failing document does not stop the rest.
type MongoSink struct {
	Client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoSink(client *mongo.Client, database, collection string) *MongoSink {
	return &MongoSink{
		Client: client,
		coll:   client.Database(database).Collection(collection),
	}
}

func (m *MongoSink) Ping(ctx context.Context) error {
	return m.Client.Ping(ctx, readpref.Primary())
}

func (m *MongoSink) BulkUpsert(ctx context.Context, items []BulkItem) ([]ItemResult, error) {
	if len(items) == 0 {
		return nil, nil
	}
	writes := make([]mongo.WriteModel, len(items))
	for i, item := range items {
		writes[i] = mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": item.ID}).
			SetReplacement(mongoValue(item.Body)).
			SetUpsert(true)
	}

	results := make([]ItemResult, len(items))
	for i := range results {
		results[i] = ItemResult{Status: ItemIndexed}
	}

	_, err := m.coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err == nil {
		return results, nil
	}

	// Per-document write errors are rejections; anything else (network,
	// timeout, write concern) says nothing reliable about individual items.
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) && bwe.WriteConcernError == nil && len(bwe.WriteErrors) > 0 {
		for _, we := range bwe.WriteErrors {
			if we.Index < 0 || we.Index >= len(results) {
				continue
			}
			status := ItemRejected
			if retryableWriteCode(we.Code) {
				status = ItemNotAttempted
			}
			results[we.Index] = ItemResult{Status: status, Reason: fmt.Sprintf("code %d: %s", we.Code, we.Message)}
		}
		return results, nil
	}
	return nil, fmt.Errorf("mongo bulk write: %w", err)
}

// mongoValue stores integers beyond int64 as Decimal128. The default
// json.Number encoder would fall back to a lossy double.
func mongoValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = mongoValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = mongoValue(e)
		}
		return out
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if d, err := primitive.ParseDecimal128(x.String()); err == nil {
			return d
		}
		return x.String()
	default:
		return v
	}
}

// retryableWriteCode reports server codes worth resending: exceeded time
// limit, interrupted operations and write conflicts.
func retryableWriteCode(code int) bool {
	switch code {
	case 50, 11600, 11602, 112:
		return true
	default:
		return false
	}
}

func (m *MongoSink) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}
