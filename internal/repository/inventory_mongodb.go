package repository

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

	"stockledger-api/internal/model"
	"stockledger-api/pkg/apierror"
)

const (
	itemsCollection        = "items"
	transactionsCollection = "stock_transactions"
	countersCollection     = "counters"
)

// MongoStore implements Store using MongoDB. Multi-document transactions
// require a replica set or sharded cluster.
type MongoStore struct {
	*mongoOps
	client *mongo.Client
	db     *mongo.Database
}

type mongoOps struct {
	items    *mongo.Collection
	txns     *mongo.Collection
	counters *mongo.Collection
}

// itemDocument is an item as stored in MongoDB. Integer ids come from the counters collection.
type itemDocument struct {
	ID                int64                `bson:"_id"`
	WalmartItemID     string               `bson:"walmart_item_id"`
	Name              string               `bson:"name"`
	Brand             *string              `bson:"brand"`
	Category          string               `bson:"category"`
	Quantity          int                  `bson:"quantity"`
	Unit              string               `bson:"unit"`
	Price             primitive.Decimal128 `bson:"price"`
	CurrentStock      int                  `bson:"current_stock"`
	MinStockThreshold int                  `bson:"min_stock_threshold"`
	MaxStockThreshold int                  `bson:"max_stock_threshold"`
	Revision          int64                `bson:"revision"`
	CreatedAt         time.Time            `bson:"created_at"`
	UpdatedAt         time.Time            `bson:"updated_at"`
}

type transactionDocument struct {
	ID            int64     `bson:"_id"`
	ItemID        int64     `bson:"item_id"`
	Kind          string    `bson:"transaction_type"`
	Quantity      int       `bson:"quantity"`
	PreviousStock int       `bson:"previous_stock"`
	NewStock      int       `bson:"new_stock"`
	Reason        *string   `bson:"reason"`
	PerformedBy   *string   `bson:"performed_by"`
	OccurredAt    time.Time `bson:"occurred_at"`
}

// NewMongoStore connects to MongoDB and ensures the indexes exist.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(5 * time.Minute).
		SetRetryWrites(true)

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)
	store := &MongoStore{
		mongoOps: &mongoOps{
			items:    db.Collection(itemsCollection),
			txns:     db.Collection(transactionsCollection),
			counters: db.Collection(countersCollection),
		},
		client: client,
		db:     db,
	}

	if err := store.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.items.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "walmart_item_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create items index: %w", err)
	}

	_, err = s.txns.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "item_id", Value: 1}, {Key: "occurred_at", Value: 1}}},
		{Keys: bson.D{{Key: "occurred_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create transaction indexes: %w", err)
	}
	return nil
}

// WithinTx runs fn in a MongoDB session transaction. The driver may invoke fn
// more than once on transient errors.
func (s *MongoStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return apierror.StorageFailure(err, "start session")
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, s.mongoOps)
	})
	if err != nil {
		if _, ok := apierror.As(err); ok {
			return err
		}
		return apierror.StorageFailure(err, "mongodb transaction")
	}
	return nil
}

// Ping checks the MongoDB connection.
func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return apierror.StorageFailure(err, "ping mongodb")
	}
	return nil
}

// Info returns document counts and the items collection size.
func (s *MongoStore) Info(ctx context.Context) (map[string]interface{}, error) {
	info := map[string]interface{}{"backend": "mongodb"}

	items, err := s.items.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, apierror.StorageFailure(err, "count items")
	}
	txns, err := s.txns.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, apierror.StorageFailure(err, "count transactions")
	}
	info["total_items"] = items
	info["total_transactions"] = txns

	result := s.db.RunCommand(ctx, bson.D{{Key: "collStats", Value: s.items.Name()}})
	var collStats bson.M
	if err := result.Decode(&collStats); err == nil {
		switch size := collStats["size"].(type) {
		case int64:
			info["db_size_bytes"] = size
		case int32:
			info["db_size_bytes"] = int64(size)
		}
	}
	return info, nil
}

// Close closes the MongoDB connection.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// nextID allocates the next integer id for a collection.
func (o *mongoOps) nextID(ctx context.Context, name string) (int64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := o.counters.FindOneAndUpdate(ctx, bson.M{"_id": name}, bson.M{"$inc": bson.M{"seq": int64(1)}}, opts).
		Decode(&counter)
	if err != nil {
		return 0, apierror.StorageFailure(err, "allocate "+name+" id")
	}
	return counter.Seq, nil
}

func (o *mongoOps) CreateItem(ctx context.Context, item *model.Item) error {
	price, err := toDecimal128(item.Price)
	if err != nil {
		return apierror.InvalidInput("invalid price",
			apierror.FieldError{Field: "price", Message: err.Error()})
	}

	id, err := o.nextID(ctx, itemsCollection)
	if err != nil {
		return err
	}

	ts := mongoNow()
	doc := itemDocument{
		ID:                id,
		WalmartItemID:     item.WalmartItemID,
		Name:              item.Name,
		Brand:             item.Brand,
		Category:          item.Category,
		Quantity:          item.Quantity,
		Unit:              item.Unit,
		Price:             price,
		CurrentStock:      item.CurrentStock,
		MinStockThreshold: item.MinStockThreshold,
		MaxStockThreshold: item.MaxStockThreshold,
		CreatedAt:         ts,
		UpdatedAt:         ts,
	}

	if _, err := o.items.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return duplicateKey(item.WalmartItemID)
		}
		return apierror.StorageFailure(err, "insert item")
	}

	item.ID = id
	item.CreatedAt, item.UpdatedAt = ts, ts
	return nil
}

func (o *mongoOps) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	var doc itemDocument
	err := o.items.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, itemNotFound(id)
	}
	if err != nil {
		return nil, apierror.StorageFailure(err, "find item")
	}
	return doc.toModel()
}

// LockItem bumps the item's revision so a concurrent transaction touching the
// same document fails with a write conflict and is retried by the driver.
func (o *mongoOps) LockItem(ctx context.Context, id int64) (*model.Item, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc itemDocument
	err := o.items.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"revision": int64(1)}}, opts).
		Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, itemNotFound(id)
	}
	if err != nil {
		return nil, apierror.StorageFailure(err, "lock item")
	}
	return doc.toModel()
}

func (o *mongoOps) ListItems(ctx context.Context, offset, limit int) ([]model.Item, error) {
	return o.findItems(ctx, bson.M{}, offset, limit)
}

func (o *mongoOps) ListLowStockItems(ctx context.Context, offset, limit int) ([]model.Item, error) {
	return o.findItems(ctx, lowStockFilter(), offset, limit)
}

func (o *mongoOps) ListAlertItems(ctx context.Context) ([]model.Item, error) {
	return o.findItems(ctx, alertFilter(), 0, 0)
}

func lowStockFilter() bson.M {
	return bson.M{"$expr": bson.M{"$lt": bson.A{"$current_stock", "$min_stock_threshold"}}}
}

func alertFilter() bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"current_stock": 0},
		lowStockFilter(),
		bson.M{"$expr": bson.M{"$gt": bson.A{"$current_stock", "$max_stock_threshold"}}},
	}}
}

func (o *mongoOps) findItems(ctx context.Context, filter bson.M, offset, limit int) ([]model.Item, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := o.items.Find(ctx, filter, opts)
	if err != nil {
		return nil, apierror.StorageFailure(err, "find items")
	}
	defer cursor.Close(ctx)

	items := make([]model.Item, 0)
	for cursor.Next(ctx) {
		var doc itemDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, apierror.StorageFailure(err, "decode item")
		}
		item, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := cursor.Err(); err != nil {
		return nil, apierror.StorageFailure(err, "iterate items")
	}
	return items, nil
}

func (o *mongoOps) UpdateItem(ctx context.Context, id int64, patch model.ItemPatch) (*model.Item, error) {
	patch = patch.Normalized()
	if _, err := o.GetItem(ctx, id); err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return o.GetItem(ctx, id)
	}

	if key, ok := patch.WalmartItemID.Get(); ok {
		taken, err := o.items.CountDocuments(ctx, bson.M{"walmart_item_id": key, "_id": bson.M{"$ne": id}})
		if err != nil {
			return nil, apierror.StorageFailure(err, "check walmart_item_id")
		}
		if taken > 0 {
			return nil, duplicateKey(key)
		}
	}

	set := bson.M{"updated_at": mongoNow()}
	for _, f := range patchFields(patch) {
		if price, ok := f.value.(decimal.Decimal); ok {
			d128, err := toDecimal128(price)
			if err != nil {
				return nil, apierror.InvalidInput("invalid price",
					apierror.FieldError{Field: "price", Message: err.Error()})
			}
			set[f.column] = d128
			continue
		}
		set[f.column] = f.value
	}

	if _, err := o.items.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set}); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			key, _ := patch.WalmartItemID.Get()
			return nil, duplicateKey(key)
		}
		return nil, apierror.StorageFailure(err, "update item")
	}
	return o.GetItem(ctx, id)
}

func (o *mongoOps) ApplyStock(ctx context.Context, id int64, newStock int, at time.Time) error {
	update := bson.M{"$set": bson.M{
		"current_stock": newStock,
		"updated_at":    at.UTC().Truncate(time.Millisecond),
	}}
	result, err := o.items.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return apierror.StorageFailure(err, "update stock")
	}
	if result.MatchedCount == 0 {
		return itemNotFound(id)
	}
	return nil
}

func (o *mongoOps) DeleteItem(ctx context.Context, id int64) error {
	result, err := o.items.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return apierror.StorageFailure(err, "delete item")
	}
	if result.DeletedCount == 0 {
		return itemNotFound(id)
	}
	return nil
}

func (o *mongoOps) AggregateStats(ctx context.Context) (model.Stats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":         nil,
			"total_items": bson.M{"$sum": 1},
			"total_stock": bson.M{"$sum": "$current_stock"},
			"low_stock_items": bson.M{"$sum": bson.M{
				"$cond": bson.A{bson.M{"$lt": bson.A{"$current_stock", "$min_stock_threshold"}}, 1, 0},
			}},
			"out_of_stock_items": bson.M{"$sum": bson.M{
				"$cond": bson.A{bson.M{"$eq": bson.A{"$current_stock", 0}}, 1, 0},
			}},
		}}},
	}

	cursor, err := o.items.Aggregate(ctx, pipeline)
	if err != nil {
		return model.Stats{}, apierror.StorageFailure(err, "aggregate stats")
	}
	defer cursor.Close(ctx)

	var row struct {
		TotalItems      int64 `bson:"total_items"`
		TotalStock      int64 `bson:"total_stock"`
		LowStockItems   int64 `bson:"low_stock_items"`
		OutOfStockItems int64 `bson:"out_of_stock_items"`
	}
	if cursor.Next(ctx) {
		if err := cursor.Decode(&row); err != nil {
			return model.Stats{}, apierror.StorageFailure(err, "decode stats")
		}
	}
	if err := cursor.Err(); err != nil {
		return model.Stats{}, apierror.StorageFailure(err, "aggregate stats")
	}

	return model.Stats{
		TotalItems:      row.TotalItems,
		TotalStock:      row.TotalStock,
		LowStockItems:   row.LowStockItems,
		OutOfStockItems: row.OutOfStockItems,
	}, nil
}

func (o *mongoOps) AppendTransaction(ctx context.Context, txn *model.Transaction) error {
	if txn.Timestamp.IsZero() {
		txn.Timestamp = mongoNow()
	} else {
		txn.Timestamp = txn.Timestamp.UTC().Truncate(time.Millisecond)
	}

	id, err := o.nextID(ctx, transactionsCollection)
	if err != nil {
		return err
	}

	doc := transactionDocument{
		ID:            id,
		ItemID:        txn.ItemID,
		Kind:          string(txn.Kind),
		Quantity:      txn.Quantity,
		PreviousStock: txn.PreviousStock,
		NewStock:      txn.NewStock,
		Reason:        txn.Reason,
		PerformedBy:   txn.PerformedBy,
		OccurredAt:    txn.Timestamp,
	}
	if _, err := o.txns.InsertOne(ctx, doc); err != nil {
		return apierror.StorageFailure(err, "append transaction")
	}
	txn.ID = id
	return nil
}

func (o *mongoOps) ListTransactionsByItem(ctx context.Context, itemID int64, offset, limit int) ([]model.Transaction, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "occurred_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	return o.findTransactions(ctx, bson.M{"item_id": itemID}, opts)
}

func (o *mongoOps) ListRecentTransactions(ctx context.Context, limit int) ([]model.Transaction, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "occurred_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	return o.findTransactions(ctx, bson.M{}, opts)
}

func (o *mongoOps) findTransactions(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]model.Transaction, error) {
	cursor, err := o.txns.Find(ctx, filter, opts)
	if err != nil {
		return nil, apierror.StorageFailure(err, "find transactions")
	}
	defer cursor.Close(ctx)

	txns := make([]model.Transaction, 0)
	for cursor.Next(ctx) {
		var doc transactionDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, apierror.StorageFailure(err, "decode transaction")
		}
		txns = append(txns, model.Transaction{
			ID:            doc.ID,
			ItemID:        doc.ItemID,
			Kind:          model.TransactionKind(doc.Kind),
			Quantity:      doc.Quantity,
			PreviousStock: doc.PreviousStock,
			NewStock:      doc.NewStock,
			Reason:        doc.Reason,
			PerformedBy:   doc.PerformedBy,
			Timestamp:     doc.OccurredAt.UTC(),
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, apierror.StorageFailure(err, "iterate transactions")
	}
	return txns, nil
}

func (d itemDocument) toModel() (*model.Item, error) {
	price, err := decimal.NewFromString(d.Price.String())
	if err != nil {
		return nil, apierror.StorageFailure(err, "decode price")
	}
	return &model.Item{
		ID:                d.ID,
		WalmartItemID:     d.WalmartItemID,
		Name:              d.Name,
		Brand:             d.Brand,
		Category:          d.Category,
		Quantity:          d.Quantity,
		Unit:              d.Unit,
		Price:             price,
		CurrentStock:      d.CurrentStock,
		MinStockThreshold: d.MinStockThreshold,
		MaxStockThreshold: d.MaxStockThreshold,
		CreatedAt:         d.CreatedAt.UTC(),
		UpdatedAt:         d.UpdatedAt.UTC(),
	}, nil
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	return primitive.ParseDecimal128(d.String())
}

// mongoNow returns the current time at BSON datetime precision.
func mongoNow() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

var (
	_ Store = (*MongoStore)(nil)
	_ Tx    = (*mongoOps)(nil)
)
