package repository

import (
	"context"
	"fmt"
	"time"

	"payndeliver-cart/internal/model"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoDBCartRepository implements CartRepository using MongoDB.
type MongoDBCartRepository struct {
	client     *mongo.Client
	db         *mongo.Database
	collection *mongo.Collection
	log        *zap.Logger
}

// NewMongoDBCartRepository creates a new MongoDB cart repository.
func NewMongoDBCartRepository(ctx context.Context, uri, database, collection string, log *zap.Logger) (*MongoDBCartRepository, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("mongodb-carts")

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(5 * time.Minute).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)
	coll := db.Collection(collection)

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "updated_at", Value: 1}}},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		log.Warn("failed to create indexes", zap.Error(err))
	}

	log.Info("connected", zap.String("database", database), zap.String("collection", collection))
	return &MongoDBCartRepository{
		client:     client,
		db:         db,
		collection: coll,
		log:        log,
	}, nil
}

// cartDocument represents a cart in MongoDB. Prices are kept as decimal
// strings so no precision is lost to BSON doubles.
type cartDocument struct {
	UserID    string            `bson:"user_id"`
	Products  []productDocument `bson:"products"`
	Total     string            `bson:"total"`
	UpdatedAt time.Time         `bson:"updated_at"`
}

type productDocument struct {
	ID       string `bson:"id"`
	Name     string `bson:"name"`
	Price    string `bson:"price"`
	Quantity int    `bson:"quantity"`
	Image    string `bson:"image,omitempty"`
}

func toDocument(cart *model.Cart) cartDocument {
	products := make([]productDocument, len(cart.Products))
	for i, p := range cart.Products {
		products[i] = productDocument{
			ID:       p.ID,
			Name:     p.Name,
			Price:    p.Price.String(),
			Quantity: p.Quantity,
			Image:    p.Image,
		}
	}
	return cartDocument{
		UserID:    cart.UserID,
		Products:  products,
		Total:     model.Total(cart.Products).String(),
		UpdatedAt: cart.UpdatedAt.UTC(),
	}
}

func (d cartDocument) toCart() (*model.Cart, error) {
	products := make([]model.LineItem, len(d.Products))
	for i, p := range d.Products {
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, fmt.Errorf("cart %s: invalid price %q for product %s: %w", d.UserID, p.Price, p.ID, err)
		}
		products[i] = model.LineItem{
			ID:       p.ID,
			Name:     p.Name,
			Price:    price,
			Quantity: p.Quantity,
			Image:    p.Image,
		}
	}
	return &model.Cart{
		UserID:    d.UserID,
		Products:  products,
		Total:     model.Total(products),
		UpdatedAt: d.UpdatedAt.UTC(),
	}, nil
}

func upsertModel(cart *model.Cart) *mongo.UpdateOneModel {
	return mongo.NewUpdateOneModel().
		SetFilter(bson.M{"user_id": cart.UserID}).
		SetUpdate(bson.M{"$set": toDocument(cart)}).
		SetUpsert(true)
}

// GetCart retrieves a cart by user ID.
func (r *MongoDBCartRepository) GetCart(ctx context.Context, userID string) (*model.Cart, error) {
	var doc cartDocument
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return doc.toCart()
}

// UpsertCart creates or replaces a cart.
func (r *MongoDBCartRepository) UpsertCart(ctx context.Context, cart *model.Cart) error {
	doc := toDocument(cart)
	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, bson.M{"user_id": cart.UserID}, bson.M{"$set": doc}, opts); err != nil {
		return fmt.Errorf("failed to upsert cart: %w", err)
	}
	return nil
}

// BatchUpsertCarts upserts several carts with one unordered bulk write.
func (r *MongoDBCartRepository) BatchUpsertCarts(ctx context.Context, carts []*model.Cart) error {
	if len(carts) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, len(carts))
	for i, cart := range carts {
		models[i] = upsertModel(cart)
	}

	opts := options.BulkWrite().SetOrdered(false)
	if _, err := r.collection.BulkWrite(ctx, models, opts); err != nil {
		return fmt.Errorf("failed to batch upsert: %w", err)
	}

	r.log.Debug("batch upserted carts", zap.Int("carts", len(carts)))
	return nil
}

// DeleteCart removes a cart.
func (r *MongoDBCartRepository) DeleteCart(ctx context.Context, userID string) (bool, error) {
	result, err := r.collection.DeleteOne(ctx, bson.M{"user_id": userID})
	if err != nil {
		return false, fmt.Errorf("failed to delete cart: %w", err)
	}
	return result.DeletedCount > 0, nil
}

// DeleteInactiveCarts deletes carts that haven't been updated within the threshold.
func (r *MongoDBCartRepository) DeleteInactiveCarts(ctx context.Context, threshold time.Duration) (int64, error) {
	filter := bson.M{
		"updated_at": bson.M{
			"$lt": time.Now().Add(-threshold).UTC(),
		},
	}

	result, err := r.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to delete inactive carts: %w", err)
	}
	if result.DeletedCount > 0 {
		r.log.Info("cleaned up inactive carts", zap.Int64("deleted", result.DeletedCount), zap.Duration("threshold", threshold))
	}
	return result.DeletedCount, nil
}

// GetStats returns statistics about the cart collection.
func (r *MongoDBCartRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})
	stats["status"] = "connected"

	count, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return stats, err
	}
	stats["total_carts"] = count

	opts := options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	var doc cartDocument
	if err := r.collection.FindOne(ctx, bson.M{}, opts).Decode(&doc); err == nil {
		stats["last_update"] = doc.UpdatedAt
	}

	result := r.db.RunCommand(ctx, bson.D{{Key: "collStats", Value: r.collection.Name()}})
	var collStats bson.M
	if err := result.Decode(&collStats); err == nil {
		switch size := collStats["size"].(type) {
		case int64:
			stats["db_size_bytes"] = size
		case int32:
			stats["db_size_bytes"] = int64(size)
		}
	}

	return stats, nil
}

// Ping checks the MongoDB connection.
func (r *MongoDBCartRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

// Close closes the MongoDB connection.
func (r *MongoDBCartRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

var _ CartRepository = (*MongoDBCartRepository)(nil)
