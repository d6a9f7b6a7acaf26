package db

import (
	"context"
	"database/sql"

	"go.mongodb.org/mongo-driver/mongo"
)

// DBProvider is an interface for database clients that provide access to a sql.DB handle.
// This allows both PostgresClient and SupabaseClient to be used as replication targets.
type DBProvider interface {
	DB() *sql.DB
}

// CollectionProvider hands out the collection SummaryStore operates on.
// *Manager is the production implementation.
type CollectionProvider interface {
	Collection(ctx context.Context) (*mongo.Collection, error)
}
