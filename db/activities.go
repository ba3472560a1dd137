package db

import (
	"database/sql"
	"time"

	"loxodon/domain"

	"github.com/google/uuid"
)

const (
	sqlInsertActivity = `INSERT INTO activities(id, activity_uri, activity_type, actor_uri, object_uri, raw_json, local, created_at)
                        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateActivity = `UPDATE activities SET raw_json = ?, object_uri = ? WHERE activity_uri = ?`
	sqlSelectActivityColumns     = `id, activity_uri, activity_type, actor_uri, object_uri, raw_json, local, created_at`
	sqlSelectActivityByURI       = `SELECT ` + sqlSelectActivityColumns + ` FROM activities WHERE activity_uri = ?`
	sqlSelectActivityByObjectURI = `SELECT ` + sqlSelectActivityColumns + ` FROM activities WHERE object_uri = ?`
	sqlDeleteActivity            = `DELETE FROM activities WHERE id = ?`
	sqlDeleteActivitiesByActor   = `DELETE FROM activities WHERE actor_uri = ?`
	sqlSelectRecentActivities    = `SELECT ` + sqlSelectActivityColumns + ` FROM activities
                        WHERE activity_type = 'Create' ORDER BY created_at DESC LIMIT ?`

	sqlInsertDelivery = `INSERT INTO delivery_queue(id, inbox_uri, activity_json, signing_actor_url, attempts, next_retry_at, created_at)
                        VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectPendingDeliveries = `SELECT id, inbox_uri, activity_json, signing_actor_url, attempts, next_retry_at, created_at
                        FROM delivery_queue WHERE next_retry_at <= ? ORDER BY next_retry_at ASC LIMIT ?`
	sqlUpdateDeliveryAttempt  = `UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteDelivery         = `DELETE FROM delivery_queue WHERE id = ?`
	sqlCountPendingDeliveries = `SELECT COUNT(*) FROM delivery_queue`
)

func (db *DB) CreateActivity(activity *domain.ActivityRecord) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActivity,
			activity.Id.String(),
			activity.ActivityURI,
			activity.ActivityType,
			activity.ActorURI,
			activity.ObjectURI,
			activity.RawJSON,
			boolToInt(activity.Local),
			activity.CreatedAt,
		)
		return err
	})
}

func (db *DB) UpdateActivity(activity *domain.ActivityRecord) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActivity, activity.RawJSON, activity.ObjectURI, activity.ActivityURI)
		return err
	})
}

func (db *DB) ReadActivityByURI(uri string) (error, *domain.ActivityRecord) {
	return db.scanActivity(db.db.QueryRow(sqlSelectActivityByURI, uri))
}

func (db *DB) ReadActivityByObjectURI(objectURI string) (error, *domain.ActivityRecord) {
	return db.scanActivity(db.db.QueryRow(sqlSelectActivityByObjectURI, objectURI))
}

func (db *DB) DeleteActivity(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteActivity, id.String())
		return err
	})
}

func (db *DB) DeleteActivitiesByActor(actorURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteActivitiesByActor, actorURI)
		return err
	})
}

// ReadRecentActivities lists the latest stored Create activities, newest first
func (db *DB) ReadRecentActivities(limit int) (error, *[]domain.ActivityRecord) {
	rows, err := db.db.Query(sqlSelectRecentActivities, limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var records []domain.ActivityRecord

	for rows.Next() {
		record, err := scanActivityRow(rows)
		if err != nil {
			return err, &records
		}
		records = append(records, *record)
	}
	if err = rows.Err(); err != nil {
		return err, &records
	}

	return nil, &records
}

func (db *DB) EnqueueDelivery(job *domain.DeliveryJob) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDelivery,
			job.Id.String(),
			job.InboxURI,
			job.ActivityJSON,
			job.SigningActorURL,
			job.Attempts,
			job.NextRetryAt,
			job.CreatedAt,
		)
		return err
	})
}

// ReadPendingDeliveries returns jobs whose retry time has come, oldest first
func (db *DB) ReadPendingDeliveries(limit int) (error, *[]domain.DeliveryJob) {
	rows, err := db.db.Query(sqlSelectPendingDeliveries, time.Now(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var jobs []domain.DeliveryJob

	for rows.Next() {
		var job domain.DeliveryJob
		var id string
		if err := rows.Scan(&id, &job.InboxURI, &job.ActivityJSON, &job.SigningActorURL,
			&job.Attempts, &job.NextRetryAt, &job.CreatedAt); err != nil {
			return err, &jobs
		}
		job.Id, err = uuid.Parse(id)
		if err != nil {
			return err, &jobs
		}
		jobs = append(jobs, job)
	}
	if err = rows.Err(); err != nil {
		return err, &jobs
	}

	return nil, &jobs
}

func (db *DB) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateDeliveryAttempt, attempts, nextRetry, id.String())
		return err
	})
}

func (db *DB) DeleteDelivery(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteDelivery, id.String())
		return err
	})
}

func (db *DB) CountPendingDeliveries() (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountPendingDeliveries).Scan(&count)
	return err, count
}

func (db *DB) scanActivity(row *sql.Row) (error, *domain.ActivityRecord) {
	var record domain.ActivityRecord
	var id string
	var local int
	err := row.Scan(&id, &record.ActivityURI, &record.ActivityType, &record.ActorURI,
		&record.ObjectURI, &record.RawJSON, &local, &record.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	record.Id, err = uuid.Parse(id)
	if err != nil {
		return err, nil
	}
	record.Local = local != 0
	return nil, &record
}

func scanActivityRow(rows *sql.Rows) (*domain.ActivityRecord, error) {
	var record domain.ActivityRecord
	var id string
	var local int
	if err := rows.Scan(&id, &record.ActivityURI, &record.ActivityType, &record.ActorURI,
		&record.ObjectURI, &record.RawJSON, &local, &record.CreatedAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	record.Id = parsed
	record.Local = local != 0
	return &record, nil
}
