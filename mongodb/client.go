// Package mongodb backs the tool catalog, user permissions and the activity
// log with MongoDB.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

const connectTimeout = 10 * time.Second

// Connect opens an instrumented client and verifies it against the primary.
func Connect(ctx context.Context, uri, dbName string) (*mongo.Database, error) {
	if dbName == "" {
		return nil, fmt.Errorf("mongodb: database name is required")
	}

	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(connectTimeout).
		SetMonitor(otelmongo.NewMonitor())

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := Ping(ctx, client); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB primary: %w", err)
	}

	log.Info().Str("database", dbName).Msg("MongoDB client initialized")
	return client.Database(dbName), nil
}

// Ping checks the primary with a short timeout. Used by health checks.
func Ping(ctx context.Context, client *mongo.Client) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return client.Ping(pingCtx, readpref.Primary())
}

// Close disconnects the client behind db.
func Close(ctx context.Context, db *mongo.Database) {
	if db == nil {
		return
	}
	log.Info().Msg("Closing MongoDB connection")
	if err := db.Client().Disconnect(ctx); err != nil {
		log.Error().Err(err).Msg("Error closing MongoDB connection")
	}
}
