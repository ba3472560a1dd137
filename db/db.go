package db

import (
	"context"
	"database/sql"
	"log"
	"time"

	"loxodon/domain"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

const (
	//Actors
	sqlInsertActor = `INSERT INTO actors(id, url, preferred_name, inbox_uri, shared_inbox_uri, followers_uri, public_key_pem, private_key_pem, server_id, last_fetched_at)
                        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateActor = `UPDATE actors SET preferred_name = ?, inbox_uri = ?, shared_inbox_uri = ?, followers_uri = ?, public_key_pem = ?, last_fetched_at = ?
                        WHERE url = ?`
	sqlSelectActorColumns = `id, url, preferred_name, inbox_uri, shared_inbox_uri, followers_uri, public_key_pem, private_key_pem, server_id, last_fetched_at`
	sqlSelectActorByURL   = `SELECT ` + sqlSelectActorColumns + ` FROM actors WHERE url = ?`
	sqlSelectActorById    = `SELECT ` + sqlSelectActorColumns + ` FROM actors WHERE id = ?`
	sqlSelectActorByName  = `SELECT ` + sqlSelectActorColumns + ` FROM actors WHERE preferred_name = ? AND server_id IS NULL`
	sqlDeleteActorByURL   = `DELETE FROM actors WHERE url = ?`
	sqlCountLocalActors   = `SELECT COUNT(*) FROM actors WHERE server_id IS NULL`

	//Servers
	sqlInsertServer       = `INSERT INTO servers(id, host, federation_allowed, created_at) VALUES (?, ?, ?, ?)`
	sqlSelectServerByHost = `SELECT id, host, federation_allowed, created_at FROM servers WHERE host = ?`
	sqlUpdateServerPolicy = `UPDATE servers SET federation_allowed = ? WHERE host = ?`
)

// NewDB opens the database at the given path and runs the schema setup.
// Tests pass ":memory:" here, the app passes a file path.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Configure connection pool for concurrent access. An in-memory
	// database must stay on a single connection, each pooled connection
	// would otherwise see its own empty database.
	if path == ":memory:" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	// Try to enable WAL mode, ignore failure for in-memory databases
	var journalMode string
	if err := sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		log.Printf("Warning: Failed to enable WAL mode: %v", err)
	} else {
		log.Printf("Database journal mode: %s", journalMode)
	}

	// Optimize PRAGMAs for the federation workload
	sqlDB.Exec("PRAGMA synchronous = NORMAL")
	sqlDB.Exec("PRAGMA cache_size = -64000")
	sqlDB.Exec("PRAGMA temp_store = MEMORY")
	sqlDB.Exec("PRAGMA busy_timeout = 5000")
	sqlDB.Exec("PRAGMA foreign_keys = ON")

	db := &DB{db: sqlDB}

	if err := db.RunMigrations(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return db, nil
}

// Close closes the underlying connection pool
func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) CreateActor(actor *domain.Actor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActor,
			actor.Id.String(),
			actor.URL,
			actor.PreferredName,
			actor.InboxURI,
			actor.SharedInboxURI,
			actor.FollowersURI,
			actor.PublicKeyPem,
			actor.PrivateKeyPem,
			serverIdOrNil(actor.ServerId),
			actor.LastFetchedAt,
		)
		return err
	})
}

// UpdateActor refreshes the mutable fields of a cached remote actor
func (db *DB) UpdateActor(actor *domain.Actor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActor,
			actor.PreferredName,
			actor.InboxURI,
			actor.SharedInboxURI,
			actor.FollowersURI,
			actor.PublicKeyPem,
			actor.LastFetchedAt,
			actor.URL,
		)
		return err
	})
}

func (db *DB) ReadActorByURL(url string) (error, *domain.Actor) {
	return db.scanActor(db.db.QueryRow(sqlSelectActorByURL, url))
}

func (db *DB) ReadActorById(id uuid.UUID) (error, *domain.Actor) {
	return db.scanActor(db.db.QueryRow(sqlSelectActorById, id.String()))
}

// ReadLocalActorByName finds a local actor by its preferred username
func (db *DB) ReadLocalActorByName(name string) (error, *domain.Actor) {
	return db.scanActor(db.db.QueryRow(sqlSelectActorByName, name))
}

// DeleteActorByURL removes an actor and every follow edge touching it
func (db *DB) DeleteActorByURL(url string) error {
	err, actor := db.ReadActorByURL(url)
	if err != nil || actor == nil {
		return err
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlDeleteFollowsForActor, actor.Id.String(), actor.Id.String()); err != nil {
			return err
		}
		_, err := tx.Exec(sqlDeleteActorByURL, url)
		return err
	})
}

func (db *DB) CountLocalActors() (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountLocalActors).Scan(&count)
	return err, count
}

func (db *DB) CreateServer(server *domain.Server) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertServer,
			server.Id.String(),
			server.Host,
			boolToInt(server.FederationAllowed),
			server.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadServerByHost(host string) (error, *domain.Server) {
	row := db.db.QueryRow(sqlSelectServerByHost, host)
	var server domain.Server
	var id string
	var allowed int
	err := row.Scan(&id, &server.Host, &allowed, &server.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	server.Id, err = uuid.Parse(id)
	if err != nil {
		return err, nil
	}
	server.FederationAllowed = allowed != 0
	return nil, &server
}

// UpdateServerPolicy flips the federation-allowed flag for a host
func (db *DB) UpdateServerPolicy(host string, allowed bool) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateServerPolicy, boolToInt(allowed), host)
		return err
	})
}

func (db *DB) scanActor(row *sql.Row) (error, *domain.Actor) {
	var actor domain.Actor
	var id string
	var serverId sql.NullString
	err := row.Scan(&id, &actor.URL, &actor.PreferredName, &actor.InboxURI, &actor.SharedInboxURI,
		&actor.FollowersURI, &actor.PublicKeyPem, &actor.PrivateKeyPem, &serverId, &actor.LastFetchedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	actor.Id, err = uuid.Parse(id)
	if err != nil {
		return err, nil
	}
	if serverId.Valid {
		parsed, err := uuid.Parse(serverId.String)
		if err != nil {
			return err, nil
		}
		actor.ServerId = &parsed
	}
	return nil, &actor
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}

func serverIdOrNil(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return id.String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
