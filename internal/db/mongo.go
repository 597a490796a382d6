package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ConnectDB initializes and returns a MongoDB client and database instance.
func ConnectDB(uri, dbName string) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the primary node
	ctxPing, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(ctxPing, readpref.Primary()); err != nil {
		// Disconnect if ping fails
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(dbName)
	return client, db, nil
}

// DisconnectDB closes the MongoDB client connection.
func DisconnectDB(client *mongo.Client) error {
	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect MongoDB: %w", err)
	}
	return nil
}

// EnsureIndexes creates the indexes the pipeline's invariants depend on:
// stakeholder email uniqueness, one endorsement per (stakeholder, campaign),
// and verification token value uniqueness.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	stakeholderIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := db.Collection("stakeholders").Indexes().CreateOne(ctx, stakeholderIdx); err != nil {
		return fmt.Errorf("failed to create stakeholder email index: %w", err)
	}

	endorsementIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "stakeholder_id", Value: 1}, {Key: "campaign_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := db.Collection("endorsements").Indexes().CreateOne(ctx, endorsementIdx); err != nil {
		return fmt.Errorf("failed to create endorsement pair index: %w", err)
	}

	tokenIdx := mongo.IndexModel{
		Keys: bson.D{{Key: "verification_token.value", Value: 1}},
		Options: options.Index().SetUnique(true).SetPartialFilterExpression(
			bson.M{"verification_token.value": bson.M{"$type": "string"}},
		),
	}
	if _, err := db.Collection("endorsements").Indexes().CreateOne(ctx, tokenIdx); err != nil {
		return fmt.Errorf("failed to create token value index: %w", err)
	}

	campaignIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "slug", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := db.Collection("campaigns").Indexes().CreateOne(ctx, campaignIdx); err != nil {
		return fmt.Errorf("failed to create campaign slug index: %w", err)
	}

	return nil
}
