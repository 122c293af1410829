package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kursadbilgin/push-engine/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo collection names.
const (
	CollectionSubscriptions = "pushSubscriptions"
	CollectionPending       = "pendingNotifications"
	CollectionNotifications = "notifications"
)

type subscriptionKeysDocument struct {
	P256dh string `bson:"p256dh"`
	Auth   string `bson:"auth"`
}

type subscriptionBodyDocument struct {
	Endpoint string                   `bson:"endpoint"`
	Keys     subscriptionKeysDocument `bson:"keys"`
}

type subscriptionDocument struct {
	ID           primitive.ObjectID       `bson:"_id,omitempty"`
	UserID       string                   `bson:"userId"`
	Username     string                   `bson:"username,omitempty"`
	Subscription subscriptionBodyDocument `bson:"subscription"`
	UserAgent    string                   `bson:"userAgent,omitempty"`
	CreatedAt    time.Time                `bson:"createdAt"`
	UpdatedAt    time.Time                `bson:"updatedAt"`
}

type notificationDataDocument struct {
	URL string `bson:"url"`
	Tag string `bson:"tag,omitempty"`
}

type payloadDocument struct {
	Title     string                   `bson:"title"`
	Body      string                   `bson:"body"`
	Message   string                   `bson:"message"`
	Icon      string                   `bson:"icon"`
	Badge     string                   `bson:"badge"`
	Data      notificationDataDocument `bson:"data"`
	Tag       string                   `bson:"tag"`
	Timestamp int64                    `bson:"timestamp"`
}

type pendingDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    string             `bson:"userId"`
	Payload   payloadDocument    `bson:"payload"`
	CreatedAt time.Time          `bson:"createdAt"`
}

type notificationDocument struct {
	ID        primitive.ObjectID       `bson:"_id,omitempty"`
	UserID    string                   `bson:"userId"`
	Title     string                   `bson:"title"`
	Body      string                   `bson:"body"`
	Icon      string                   `bson:"icon"`
	Data      notificationDataDocument `bson:"data"`
	Tag       string                   `bson:"tag"`
	Read      bool                     `bson:"read"`
	CreatedAt time.Time                `bson:"createdAt"`
	ReadAt    *time.Time               `bson:"readAt"`
}

func (d *subscriptionDocument) toDomain() *domain.Subscription {
	return &domain.Subscription{
		ID:       d.ID.Hex(),
		UserID:   d.UserID,
		Username: d.Username,
		Endpoint: d.Subscription.Endpoint,
		Keys: domain.Keys{
			P256dh: d.Subscription.Keys.P256dh,
			Auth:   d.Subscription.Keys.Auth,
		},
		UserAgent: d.UserAgent,
		UpdatedAt: d.UpdatedAt,
	}
}

func payloadToDocument(p domain.Payload) payloadDocument {
	return payloadDocument{
		Title:     p.Title,
		Body:      p.Body,
		Message:   p.Message,
		Icon:      p.Icon,
		Badge:     p.Badge,
		Data:      notificationDataDocument{URL: p.Data.URL, Tag: p.Data.Tag},
		Tag:       p.Tag,
		Timestamp: p.Timestamp,
	}
}

func (d payloadDocument) toDomain() domain.Payload {
	return domain.Payload{
		Title:     d.Title,
		Body:      d.Body,
		Message:   d.Message,
		Icon:      d.Icon,
		Badge:     d.Badge,
		Data:      domain.NotificationData{URL: d.Data.URL, Tag: d.Data.Tag},
		Tag:       d.Tag,
		Timestamp: d.Timestamp,
	}
}

func (d *notificationDocument) toDomain() *domain.Notification {
	return &domain.Notification{
		ID:        d.ID.Hex(),
		UserID:    d.UserID,
		Title:     d.Title,
		Body:      d.Body,
		Icon:      d.Icon,
		Data:      domain.NotificationData{URL: d.Data.URL, Tag: d.Data.Tag},
		Tag:       d.Tag,
		Read:      d.Read,
		CreatedAt: d.CreatedAt,
		ReadAt:    d.ReadAt,
	}
}

func parseObjectID(id, kind string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(strings.TrimSpace(id))
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: invalid %s id", domain.ErrValidation, kind)
	}
	return oid, nil
}

type MongoSubscriptionRepo struct {
	collection *mongo.Collection
}

func NewMongoSubscriptionRepo(db *mongo.Database) *MongoSubscriptionRepo {
	return &MongoSubscriptionRepo{collection: db.Collection(CollectionSubscriptions)}
}

func (r *MongoSubscriptionRepo) Upsert(ctx context.Context, sub *domain.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}

	updatedAt := sub.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	update := bson.M{
		"$set": bson.M{
			"username": sub.Username,
			"subscription": subscriptionBodyDocument{
				Endpoint: sub.Endpoint,
				Keys:     subscriptionKeysDocument{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
			},
			"userAgent": sub.UserAgent,
			"updatedAt": updatedAt,
		},
		"$setOnInsert": bson.M{"createdAt": updatedAt},
	}

	_, err := r.collection.UpdateOne(ctx, bson.M{"userId": sub.UserID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}

	stored, err := r.GetByUser(ctx, sub.UserID)
	if err != nil {
		return fmt.Errorf("failed to reload subscription: %w", err)
	}
	*sub = *stored
	return nil
}

func (r *MongoSubscriptionRepo) GetByUser(ctx context.Context, userID string) (*domain.Subscription, error) {
	var doc subscriptionDocument
	err := r.collection.FindOne(ctx, bson.M{"userId": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *MongoSubscriptionRepo) Find(ctx context.Context, userID string) ([]domain.Subscription, error) {
	filter := bson.M{}
	if userID = strings.TrimSpace(userID); userID != "" {
		filter["userId"] = userID
	}

	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []subscriptionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	subs := make([]domain.Subscription, 0, len(docs))
	for i := range docs {
		subs = append(subs, *docs[i].toDomain())
	}
	return subs, nil
}

func (r *MongoSubscriptionRepo) DeleteByID(ctx context.Context, id string) error {
	oid, err := parseObjectID(id, "subscription")
	if err != nil {
		return err
	}

	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MongoSubscriptionRepo) DeleteByEndpoint(ctx context.Context, userID, endpoint string) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{"userId": userID, "subscription.endpoint": endpoint})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (r *MongoSubscriptionRepo) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{"userId": userID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

type MongoPendingRepo struct {
	collection *mongo.Collection
}

func NewMongoPendingRepo(db *mongo.Database) *MongoPendingRepo {
	return &MongoPendingRepo{collection: db.Collection(CollectionPending)}
}

func (r *MongoPendingRepo) Enqueue(ctx context.Context, p *domain.PendingNotification) error {
	if p == nil || strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("%w: pending notification needs a user", domain.ErrValidation)
	}

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	doc := pendingDocument{
		ID:        primitive.NewObjectID(),
		UserID:    p.UserID,
		Payload:   payloadToDocument(p.Payload),
		CreatedAt: createdAt,
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to enqueue pending notification: %w", err)
	}

	p.ID = doc.ID.Hex()
	p.CreatedAt = createdAt
	return nil
}

func (r *MongoPendingRepo) ListByUser(ctx context.Context, userID string) ([]domain.PendingNotification, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"userId": userID}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []pendingDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	pending := make([]domain.PendingNotification, 0, len(docs))
	for _, doc := range docs {
		pending = append(pending, domain.PendingNotification{
			ID:        doc.ID.Hex(),
			UserID:    doc.UserID,
			Payload:   doc.Payload.toDomain(),
			CreatedAt: doc.CreatedAt,
		})
	}
	return pending, nil
}

func (r *MongoPendingRepo) ListUsers(ctx context.Context, after string, limit int) ([]string, error) {
	filter := bson.M{}
	if after != "" {
		filter["userId"] = bson.M{"$gt": after}
	}

	values, err := r.collection.Distinct(ctx, "userId", filter)
	if err != nil {
		return nil, err
	}

	userIDs := make([]string, 0, len(values))
	for _, v := range values {
		if id, ok := v.(string); ok && id != "" && id > after {
			userIDs = append(userIDs, id)
		}
	}
	// distinct gives no ordering guarantee
	slices.Sort(userIDs)

	if limit = clampLimit(limit); len(userIDs) > limit {
		userIDs = userIDs[:limit]
	}
	return userIDs, nil
}

func (r *MongoPendingRepo) Delete(ctx context.Context, id string) error {
	oid, err := parseObjectID(id, "pending notification")
	if err != nil {
		return err
	}

	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type MongoNotificationRepo struct {
	collection *mongo.Collection
}

func NewMongoNotificationRepo(db *mongo.Database) *MongoNotificationRepo {
	return &MongoNotificationRepo{collection: db.Collection(CollectionNotifications)}
}

func (r *MongoNotificationRepo) CreateIfAbsent(ctx context.Context, n *domain.Notification) (bool, error) {
	if n == nil {
		return false, fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}
	if err := n.Validate(); err != nil {
		return false, err
	}

	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	filter := bson.M{"userId": n.UserID, "tag": n.Tag}
	insert := bson.M{
		"$setOnInsert": bson.M{
			"title":     n.Title,
			"body":      n.Body,
			"icon":      n.Icon,
			"data":      notificationDataDocument{URL: n.Data.URL, Tag: n.Data.Tag},
			"read":      n.Read,
			"createdAt": createdAt,
			"readAt":    n.ReadAt,
		},
	}

	res, err := r.collection.UpdateOne(ctx, filter, insert, options.Update().SetUpsert(true))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return false, fmt.Errorf("failed to save notification: %w", err)
	}
	created := err == nil && res.UpsertedCount > 0

	var doc notificationDocument
	if err := r.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		return false, fmt.Errorf("failed to load notification: %w", err)
	}
	*n = *doc.toDomain()
	return created, nil
}

func (r *MongoNotificationRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(clampLimit(limit)))

	cursor, err := r.collection.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []notificationDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	notifications := make([]domain.Notification, 0, len(docs))
	for i := range docs {
		notifications = append(notifications, *docs[i].toDomain())
	}
	return notifications, nil
}

func (r *MongoNotificationRepo) MarkRead(ctx context.Context, userID, id string, read bool, at time.Time) (bool, error) {
	oid, err := parseObjectID(id, "notification")
	if err != nil {
		return false, err
	}

	var readAt *time.Time
	if read {
		readAt = &at
	}

	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": oid, "userId": userID},
		bson.M{"$set": bson.M{"read": read, "readAt": readAt}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

func (r *MongoNotificationRepo) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := r.collection.UpdateMany(ctx,
		bson.M{"userId": userID, "read": false},
		bson.M{"$set": bson.M{"read": true, "readAt": at}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MongoNotificationRepo) Delete(ctx context.Context, userID, id string) (bool, error) {
	oid, err := parseObjectID(id, "notification")
	if err != nil {
		return false, err
	}

	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": oid, "userId": userID})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}
