package db

import (
	"log"
)

// Schema for the federation tables
const (
	sqlCreateActorsTable = `CREATE TABLE IF NOT EXISTS actors (
		id TEXT NOT NULL PRIMARY KEY,
		url TEXT UNIQUE NOT NULL,
		preferred_name TEXT NOT NULL,
		inbox_uri TEXT NOT NULL,
		shared_inbox_uri TEXT DEFAULT '',
		followers_uri TEXT DEFAULT '',
		public_key_pem TEXT NOT NULL,
		private_key_pem TEXT DEFAULT '',
		server_id TEXT,
		last_fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateActorsIndices = `
		CREATE INDEX IF NOT EXISTS idx_actors_url ON actors(url);
		CREATE INDEX IF NOT EXISTS idx_actors_inbox_uri ON actors(inbox_uri);
		CREATE INDEX IF NOT EXISTS idx_actors_shared_inbox_uri ON actors(shared_inbox_uri);
		CREATE INDEX IF NOT EXISTS idx_actors_server_id ON actors(server_id);
	`

	sqlCreateServersTable = `CREATE TABLE IF NOT EXISTS servers (
		id TEXT NOT NULL PRIMARY KEY,
		host TEXT UNIQUE NOT NULL,
		federation_allowed INTEGER DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS actor_follows (
		id TEXT NOT NULL PRIMARY KEY,
		actor_id TEXT NOT NULL,
		target_actor_id TEXT NOT NULL,
		uri TEXT UNIQUE NOT NULL,
		state TEXT NOT NULL DEFAULT 'pending',
		score INTEGER NOT NULL DEFAULT 100,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(actor_id, target_actor_id)
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_actor_follows_actor_id ON actor_follows(actor_id);
		CREATE INDEX IF NOT EXISTS idx_actor_follows_target_actor_id ON actor_follows(target_actor_id);
		CREATE INDEX IF NOT EXISTS idx_actor_follows_score ON actor_follows(score);
	`

	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		id TEXT NOT NULL PRIMARY KEY,
		activity_uri TEXT UNIQUE NOT NULL,
		activity_type TEXT NOT NULL,
		actor_uri TEXT,
		object_uri TEXT,
		raw_json TEXT,
		local INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateActivitiesIndices = `
		CREATE INDEX IF NOT EXISTS idx_activities_object_uri ON activities(object_uri);
		CREATE INDEX IF NOT EXISTS idx_activities_actor_uri ON activities(actor_uri);
		CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at);
	`

	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue (
		id TEXT NOT NULL PRIMARY KEY,
		inbox_uri TEXT NOT NULL,
		activity_json TEXT NOT NULL,
		signing_actor_url TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		next_retry_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryQueueIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry_at ON delivery_queue(next_retry_at);
	`
)

// RunMigrations creates the federation tables and indices, idempotently
func (db *DB) RunMigrations() error {
	statements := []string{
		sqlCreateActorsTable,
		sqlCreateActorsIndices,
		sqlCreateServersTable,
		sqlCreateFollowsTable,
		sqlCreateFollowsIndices,
		sqlCreateActivitiesTable,
		sqlCreateActivitiesIndices,
		sqlCreateDeliveryQueueTable,
		sqlCreateDeliveryQueueIndices,
	}

	for _, stmt := range statements {
		if _, err := db.db.Exec(stmt); err != nil {
			log.Printf("Migration failed: %v", err)
			return err
		}
	}

	return nil
}
