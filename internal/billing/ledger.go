package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"kiro2api-go/internal/config"
)

// Ledger lookup errors.
var (
	ErrUserNotFound = errors.New("no active user for api key")
	ErrNoBalance    = errors.New("no credit record for user")
)

// Ledger is the credit backend the engine settles against.
type Ledger interface {
	// FindActiveUserID resolves an incoming API key to a user id. Inactive
	// or unknown keys return ErrUserNotFound.
	FindActiveUserID(ctx context.Context, apiKey string) (any, error)
	// Balance returns the user's current credit balance, ErrNoBalance when
	// the user has no credit record.
	Balance(ctx context.Context, userID any) (decimal.Decimal, error)
	// DeductAtomic decrements the balance only when it covers the amount.
	// Returns false when the predicate fails or the record is missing.
	DeductAtomic(ctx context.Context, userID any, amount decimal.Decimal) (bool, error)
}

// MongoLedger keeps users and credit balances in two collections. Field and
// collection names are configurable so the gateway can attach to an existing
// account database.
type MongoLedger struct {
	client  *mongo.Client
	users   *mongo.Collection
	credits *mongo.Collection
	cfg     config.MongoConfig
}

func NewMongoLedger(ctx context.Context, cfg config.MongoConfig) (*MongoLedger, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("ledger connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ledger ping: %w", err)
	}
	db := client.Database(cfg.Database)
	return &MongoLedger{
		client:  client,
		users:   db.Collection(cfg.UsersColl),
		credits: db.Collection(cfg.CreditsColl),
		cfg:     cfg,
	}, nil
}

func (l *MongoLedger) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return l.client.Disconnect(ctx)
}

func (l *MongoLedger) FindActiveUserID(ctx context.Context, apiKey string) (any, error) {
	var doc bson.M
	err := l.users.FindOne(ctx, bson.M{
		l.cfg.UserAPIKeyField: apiKey,
		l.cfg.UserActiveField: true,
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user lookup: %w", err)
	}
	id, ok := doc[l.cfg.UserIDField]
	if !ok {
		return nil, fmt.Errorf("user document missing %q field", l.cfg.UserIDField)
	}
	return id, nil
}

func (l *MongoLedger) Balance(ctx context.Context, userID any) (decimal.Decimal, error) {
	var doc bson.M
	err := l.credits.FindOne(ctx, bson.M{l.cfg.CreditsUserIDField: userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return decimal.Zero, ErrNoBalance
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance lookup: %w", err)
	}
	return decodeBalance(doc[l.cfg.CreditsBalanceField])
}

// DeductAtomic runs the balance check and decrement as one conditional
// update, so concurrent requests can never drive the balance negative.
func (l *MongoLedger) DeductAtomic(ctx context.Context, userID any, amount decimal.Decimal) (bool, error) {
	amt, _ := amount.Float64()
	res, err := l.credits.UpdateOne(ctx,
		bson.M{
			l.cfg.CreditsUserIDField:  userID,
			l.cfg.CreditsBalanceField: bson.M{"$gte": amt},
		},
		bson.M{"$inc": bson.M{l.cfg.CreditsBalanceField: -amt}})
	if err != nil {
		return false, fmt.Errorf("deduct: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

func decodeBalance(v any) (decimal.Decimal, error) {
	switch b := v.(type) {
	case float64:
		return decimal.NewFromFloat(b), nil
	case int32:
		return decimal.NewFromInt(int64(b)), nil
	case int64:
		return decimal.NewFromInt(b), nil
	case string:
		d, err := decimal.NewFromString(b)
		if err != nil {
			return decimal.Zero, fmt.Errorf("balance field: %w", err)
		}
		return d, nil
	case primitive.Decimal128:
		d, err := decimal.NewFromString(b.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("balance field: %w", err)
		}
		return d, nil
	case nil:
		return decimal.Zero, ErrNoBalance
	default:
		return decimal.Zero, fmt.Errorf("balance field has unsupported type %T", v)
	}
}

var _ Ledger = (*MongoLedger)(nil)
