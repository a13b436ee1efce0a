package store

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

	"github.com/tradedesk/portfolio-engine/internal/model"
)

// MongoStore implements Store on MongoDB with one collection per book
// (holdings, positions) plus orders. Decimals are stored as Decimal128.
//
// ApplyOrder writes the order and then the lot change without a
// multi-document transaction, so it works against a standalone server.
type MongoStore struct {
	db *mongo.Database
}

// NewMongoStore creates a new MongoDB-backed store on the given database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

// EnsureIndexes creates the (owner, symbol) unique indexes and the order
// listing index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	for _, book := range []model.Book{model.BookHoldings, model.BookPositions} {
		_, err := s.lots(book).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "symbol", Value: 1}},
			Options: options.Index().SetUnique(true),
		})
		if err != nil {
			return fmt.Errorf("index %s: %w", book, err)
		}
	}
	_, err := s.orders().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("index orders: %w", err)
	}
	return nil
}

type holdingDoc struct {
	ID           string               `bson:"_id"`
	OwnerID      string               `bson:"owner_id"`
	Symbol       string               `bson:"symbol"`
	Product      string               `bson:"product,omitempty"`
	Qty          int64                `bson:"qty"`
	AvgCost      primitive.Decimal128 `bson:"avg_cost"`
	Price        primitive.Decimal128 `bson:"price"`
	NetChangePct primitive.Decimal128 `bson:"net_change_pct"`
	DayChangePct primitive.Decimal128 `bson:"day_change_pct"`
	IsLoss       bool                 `bson:"is_loss"`
	CreatedAt    time.Time            `bson:"created_at"`
	UpdatedAt    time.Time            `bson:"updated_at"`
}

type orderDoc struct {
	ID        string               `bson:"_id"`
	OwnerID   string               `bson:"owner_id"`
	Symbol    string               `bson:"symbol"`
	Qty       int64                `bson:"qty"`
	Price     primitive.Decimal128 `bson:"price"`
	Side      string               `bson:"side"`
	Product   string               `bson:"product,omitempty"`
	Status    string               `bson:"status"`
	CreatedAt time.Time            `bson:"created_at"`
}

func (s *MongoStore) lots(book model.Book) *mongo.Collection { return s.db.Collection(string(book)) }
func (s *MongoStore) orders() *mongo.Collection             { return s.db.Collection("orders") }

func (s *MongoStore) ListHoldings(ctx context.Context, book model.Book, ownerID string) ([]model.Holding, error) {
	return s.findHoldings(ctx, book, bson.M{"owner_id": ownerID})
}

func (s *MongoStore) ListAllHoldings(ctx context.Context, book model.Book) ([]model.Holding, error) {
	return s.findHoldings(ctx, book, bson.M{})
}

func (s *MongoStore) findHoldings(ctx context.Context, book model.Book, filter bson.M) ([]model.Holding, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "symbol", Value: 1}})
	cur, err := s.lots(book).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []holdingDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	holdings := make([]model.Holding, 0, len(docs))
	for _, d := range docs {
		holdings = append(holdings, d.toModel())
	}
	return holdings, nil
}

func (s *MongoStore) GetHolding(ctx context.Context, book model.Book, ownerID, symbol string) (*model.Holding, error) {
	var d holdingDoc
	err := s.lots(book).FindOne(ctx, bson.M{"owner_id": ownerID, "symbol": symbol}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%s %s for %s: %w", book, symbol, ownerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", book, symbol, err)
	}
	h := d.toModel()
	return &h, nil
}

func (s *MongoStore) UpdateHoldingQuote(ctx context.Context, book model.Book, h *model.Holding) error {
	var enc decimalEncoder
	set := bson.M{
		"price":          enc.encode(h.Price),
		"net_change_pct": enc.encode(h.NetChangePct),
		"day_change_pct": enc.encode(h.DayChangePct),
		"is_loss":        h.IsLoss,
		"updated_at":     h.UpdatedAt,
	}
	if enc.err != nil {
		return fmt.Errorf("%s %s: %w", book, h.ID, enc.err)
	}
	res, err := s.lots(book).UpdateOne(ctx, bson.M{"_id": h.ID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s %s: %w", book, h.ID, ErrNotFound)
	}
	return nil
}

// ApplyOrder writes the lot change, then the order. There is no transaction,
// so a failed order insert leaves the lot change applied.
func (s *MongoStore) ApplyOrder(ctx context.Context, o *model.Order, change model.HoldingChange) error {
	h := change.Holding
	var enc decimalEncoder
	doc := fromModel(h, &enc)
	od := orderDoc{
		ID:        o.ID,
		OwnerID:   o.OwnerID,
		Symbol:    o.Symbol,
		Qty:       o.Qty,
		Price:     enc.encode(o.Price),
		Side:      string(o.Side),
		Product:   o.Product,
		Status:    o.Status,
		CreatedAt: o.CreatedAt,
	}
	if enc.err != nil {
		return fmt.Errorf("%s %s %s: %w", change.Op, change.Book, h.Symbol, enc.err)
	}

	coll := s.lots(change.Book)
	key := bson.M{"owner_id": h.OwnerID, "symbol": h.Symbol}

	var err error
	switch change.Op {
	case model.ChangeCreate:
		_, err = coll.InsertOne(ctx, doc)
	case model.ChangeUpdate:
		var res *mongo.UpdateResult
		res, err = coll.UpdateOne(ctx, key, bson.M{"$set": bson.M{
			"qty":        doc.Qty,
			"avg_cost":   doc.AvgCost,
			"price":      doc.Price,
			"updated_at": doc.UpdatedAt,
		}})
		if err == nil && res.MatchedCount == 0 {
			err = ErrNotFound
		}
	case model.ChangeDelete:
		var res *mongo.DeleteResult
		res, err = coll.DeleteOne(ctx, key)
		if err == nil && res.DeletedCount == 0 {
			err = ErrNotFound
		}
	default:
		err = fmt.Errorf("unknown holding change %s", change.Op)
	}
	if err != nil {
		return fmt.Errorf("%s %s %s: %w", change.Op, change.Book, h.Symbol, err)
	}

	if _, err := s.orders().InsertOne(ctx, od); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *MongoStore) ListOrders(ctx context.Context, ownerID string) ([]model.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.orders().Find(ctx, bson.M{"owner_id": ownerID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []orderDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	orders := make([]model.Order, 0, len(docs))
	for _, d := range docs {
		orders = append(orders, model.Order{
			ID:        d.ID,
			OwnerID:   d.OwnerID,
			Symbol:    d.Symbol,
			Qty:       d.Qty,
			Price:     fromDecimal128(d.Price),
			Side:      model.Side(d.Side),
			Product:   d.Product,
			Status:    d.Status,
			CreatedAt: d.CreatedAt,
		})
	}
	return orders, nil
}

func (s *MongoStore) DeleteOrder(ctx context.Context, ownerID, orderID string) error {
	res, err := s.orders().DeleteOne(ctx, bson.M{"_id": orderID, "owner_id": ownerID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return nil
}

func fromModel(h model.Holding, enc *decimalEncoder) holdingDoc {
	return holdingDoc{
		ID:           h.ID,
		OwnerID:      h.OwnerID,
		Symbol:       h.Symbol,
		Product:      h.Product,
		Qty:          h.Qty,
		AvgCost:      enc.encode(h.AvgCost),
		Price:        enc.encode(h.Price),
		NetChangePct: enc.encode(h.NetChangePct),
		DayChangePct: enc.encode(h.DayChangePct),
		IsLoss:       h.IsLoss,
		CreatedAt:    h.CreatedAt,
		UpdatedAt:    h.UpdatedAt,
	}
}

func (d holdingDoc) toModel() model.Holding {
	return model.Holding{
		ID:           d.ID,
		OwnerID:      d.OwnerID,
		Symbol:       d.Symbol,
		Product:      d.Product,
		Qty:          d.Qty,
		AvgCost:      fromDecimal128(d.AvgCost),
		Price:        fromDecimal128(d.Price),
		NetChangePct: fromDecimal128(d.NetChangePct),
		DayChangePct: fromDecimal128(d.DayChangePct),
		IsLoss:       d.IsLoss,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// decimalEncoder converts decimals to Decimal128 and keeps the first value
// that does not fit.
type decimalEncoder struct {
	err error
}

func (e *decimalEncoder) encode(d decimal.Decimal) primitive.Decimal128 {
	v, err := toDecimal128(d)
	if err != nil && e.err == nil {
		e.err = err
	}
	return v
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("decimal %s does not fit Decimal128: %w", d.String(), err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}
