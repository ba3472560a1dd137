package db

import (
	"database/sql"
	"time"

	"loxodon/domain"

	"github.com/google/uuid"
)

const (
	sqlInsertFollow = `INSERT INTO actor_follows(id, actor_id, target_actor_id, uri, state, score, created_at, updated_at)
                        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectFollowColumns  = `id, actor_id, target_actor_id, uri, state, score, created_at, updated_at`
	sqlSelectFollowByURI    = `SELECT ` + sqlSelectFollowColumns + ` FROM actor_follows WHERE uri = ?`
	sqlSelectFollowByActors = `SELECT ` + sqlSelectFollowColumns + ` FROM actor_follows WHERE actor_id = ? AND target_actor_id = ?`
	sqlUpdateFollowState    = `UPDATE actor_follows SET state = ?, updated_at = ? WHERE uri = ?`
	sqlDeleteFollowByURI    = `DELETE FROM actor_follows WHERE uri = ?`
	sqlDeleteFollowsForActor = `DELETE FROM actor_follows WHERE actor_id = ? OR target_actor_id = ?`

	// the follower's inbox (direct or shared) keys the score and prune updates,
	// because deliveries go out to follower inboxes
	sqlUpdateFollowScoreByInbox = `UPDATE actor_follows
                        SET score = MAX(?, MIN(?, score + ?)), updated_at = ?
                        WHERE actor_id IN (SELECT id FROM actors WHERE inbox_uri = ? OR shared_inbox_uri = ?)`
	sqlDeleteFollowsByInbox = `DELETE FROM actor_follows
                        WHERE actor_id IN (SELECT id FROM actors WHERE inbox_uri = ? OR shared_inbox_uri = ?)`

	sqlSelectAcceptedFollowers = `SELECT actors.id, actors.url, actors.preferred_name, actors.inbox_uri, actors.shared_inbox_uri, actors.followers_uri, actors.public_key_pem, actors.private_key_pem, actors.server_id, actors.last_fetched_at FROM actors
                        INNER JOIN actor_follows ON actor_follows.actor_id = actors.id
                        WHERE actor_follows.target_actor_id = ? AND actor_follows.state = 'accepted'`

	sqlCountFollowers = `SELECT COUNT(*) FROM actor_follows WHERE target_actor_id = ? AND state = 'accepted'`
	sqlCountFollowing = `SELECT COUNT(*) FROM actor_follows WHERE actor_id = ? AND state = 'accepted'`
)

func (db *DB) CreateFollow(follow *domain.ActorFollow) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollow,
			follow.Id.String(),
			follow.ActorId.String(),
			follow.TargetActorId.String(),
			follow.URI,
			string(follow.State),
			follow.Score,
			follow.CreatedAt,
			follow.UpdatedAt,
		)
		return err
	})
}

func (db *DB) ReadFollowByURI(uri string) (error, *domain.ActorFollow) {
	return db.scanFollow(db.db.QueryRow(sqlSelectFollowByURI, uri))
}

// ReadFollowByActors loads the single edge between a follower and a target
func (db *DB) ReadFollowByActors(followerId, targetId uuid.UUID) (error, *domain.ActorFollow) {
	return db.scanFollow(db.db.QueryRow(sqlSelectFollowByActors, followerId.String(), targetId.String()))
}

func (db *DB) UpdateFollowState(uri string, state domain.FollowState) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateFollowState, string(state), time.Now(), uri)
		return err
	})
}

func (db *DB) DeleteFollowByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowByURI, uri)
		return err
	})
}

// UpdateFollowScoreByInbox bumps the score of every edge whose follower
// is reached through the given inbox, clamped to [min, max]
func (db *DB) UpdateFollowScoreByInbox(inboxURI string, delta, min, max int) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateFollowScoreByInbox, min, max, delta, time.Now(), inboxURI, inboxURI)
		return err
	})
}

// DeleteFollowsByInbox removes every edge whose follower is reached through
// the given inbox. Returns the number of removed edges.
func (db *DB) DeleteFollowsByInbox(inboxURI string) (error, int64) {
	var removed int64
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlDeleteFollowsByInbox, inboxURI, inboxURI)
		if err != nil {
			return err
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	return err, removed
}

// ReadAcceptedFollowers lists the follower actors of a target with an
// accepted edge, for outbound broadcast
func (db *DB) ReadAcceptedFollowers(targetId uuid.UUID) (error, *[]domain.Actor) {
	rows, err := db.db.Query(sqlSelectAcceptedFollowers, targetId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var actors []domain.Actor

	for rows.Next() {
		var actor domain.Actor
		var id string
		var serverId sql.NullString
		if err := rows.Scan(&id, &actor.URL, &actor.PreferredName, &actor.InboxURI, &actor.SharedInboxURI,
			&actor.FollowersURI, &actor.PublicKeyPem, &actor.PrivateKeyPem, &serverId, &actor.LastFetchedAt); err != nil {
			return err, &actors
		}
		actor.Id, err = uuid.Parse(id)
		if err != nil {
			return err, &actors
		}
		if serverId.Valid {
			parsed, err := uuid.Parse(serverId.String)
			if err != nil {
				return err, &actors
			}
			actor.ServerId = &parsed
		}
		actors = append(actors, actor)
	}
	if err = rows.Err(); err != nil {
		return err, &actors
	}

	return nil, &actors
}

func (db *DB) CountFollowers(targetId uuid.UUID) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountFollowers, targetId.String()).Scan(&count)
	return err, count
}

func (db *DB) CountFollowing(actorId uuid.UUID) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountFollowing, actorId.String()).Scan(&count)
	return err, count
}

func (db *DB) scanFollow(row *sql.Row) (error, *domain.ActorFollow) {
	var follow domain.ActorFollow
	var id, actorId, targetId, state string
	err := row.Scan(&id, &actorId, &targetId, &follow.URI, &state, &follow.Score, &follow.CreatedAt, &follow.UpdatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	follow.Id, err = uuid.Parse(id)
	if err != nil {
		return err, nil
	}
	follow.ActorId, err = uuid.Parse(actorId)
	if err != nil {
		return err, nil
	}
	follow.TargetActorId, err = uuid.Parse(targetId)
	if err != nil {
		return err, nil
	}
	follow.State = domain.FollowState(state)
	return nil, &follow
}
