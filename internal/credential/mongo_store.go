package credential

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore accesses credentials held as {key, value} documents in a
// collection, mirroring the KV key families.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore connects to the document store.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, storeErr(KindDocument, "connect", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, storeErr(KindDocument, "ping", err)
	}
	return &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(collection),
	}, nil
}

func (s *MongoStore) Kind() string { return KindDocument }

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

type kvDoc struct {
	Key   string `bson:"key"`
	Value string `bson:"value"`
}

func (s *MongoStore) loadFamily(ctx context.Context, bases []string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	for _, base := range bases {
		filter := bson.M{"$or": bson.A{
			bson.M{"key": base},
			bson.M{"key": bson.M{"$regex": "^" + base + ":"}},
		}}
		cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "key", Value: 1}}))
		if err != nil {
			return nil, err
		}
		var docs []kvDoc
		if err := cur.All(ctx, &docs); err != nil {
			return nil, err
		}
		for _, d := range docs {
			if _, dup := out[d.Key]; dup {
				continue
			}
			out[d.Key] = []byte(d.Value)
		}
	}
	return out, nil
}

func (s *MongoStore) LoadAll(ctx context.Context) ([]*Record, error) {
	tokens, err := s.loadFamily(ctx, TokenKeys)
	if err != nil {
		return nil, storeErr(KindDocument, "load token keys", err)
	}
	registrations, err := s.loadFamily(ctx, RegistrationKeys)
	if err != nil {
		return nil, storeErr(KindDocument, "load registration keys", err)
	}
	recs, err := assembleRecords(tokens, registrations)
	if err != nil {
		return nil, storeErr(KindDocument, "parse", err)
	}
	return recs, nil
}

func (s *MongoStore) LoadByKey(ctx context.Context, key string) (*Record, error) {
	var doc kvDoc
	err := s.coll.FindOne(ctx, bson.M{"key": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr(KindDocument, "load "+key, err)
	}

	rec, err := parseTokenPayload(key, []byte(doc.Value))
	if err != nil {
		return nil, storeErr(KindDocument, "parse "+key, err)
	}
	for _, regKey := range registrationCandidates(key) {
		var regDoc kvDoc
		err := s.coll.FindOne(ctx, bson.M{"key": regKey}).Decode(&regDoc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return nil, storeErr(KindDocument, "load registration "+regKey, err)
		}
		if reg, err := parseRegistrationPayload([]byte(regDoc.Value)); err == nil {
			rec.ClientID = reg.ClientID
			rec.ClientSecret = reg.ClientSecret
			if rec.SSORegion == "" {
				rec.SSORegion = reg.Region
			}
			break
		}
	}
	rec.DetectMechanism()
	return rec, nil
}

func (s *MongoStore) Save(ctx context.Context, rec *Record) error {
	payload, err := encodeTokenPayload(rec)
	if err != nil {
		return storeErr(KindDocument, "encode "+rec.Key, err)
	}
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"key": rec.Key},
		bson.M{"$set": bson.M{"value": string(payload)}})
	if err != nil {
		return storeErr(KindDocument, "save "+rec.Key, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*MongoStore)(nil)
