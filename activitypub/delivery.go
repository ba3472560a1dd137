package activitypub

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"loxodon/db"
	"loxodon/domain"
	"loxodon/metrics"
	"loxodon/util"
)

// deliveryMaxAttempts is the job queue's give-up ceiling
const deliveryMaxAttempts = 10

// backoffMinutes spaces retries exponentially: 1m, 5m, 15m, 1h, 4h, 24h
var backoffMinutes = []int{1, 5, 15, 60, 240, 1440}

// DeliveryClient performs one signed HTTP POST to one inbox. It holds no
// state and never retries; retry policy lives entirely in the queue.
type DeliveryClient struct {
	database *db.DB
	conf     *util.AppConfig
	client   *http.Client
}

func NewDeliveryClient(database *db.DB, conf *util.AppConfig) *DeliveryClient {
	return &DeliveryClient{
		database: database,
		conf:     conf,
		// a hung remote peer must not occupy a worker indefinitely
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Deliver signs and posts one activity. Any failure (network, non-2xx)
// comes back as an error so the queue's retry policy takes over.
func (c *DeliveryClient) Deliver(job *domain.DeliveryJob) error {
	err, signingActor := c.database.ReadActorByURL(job.SigningActorURL)
	if err != nil || signingActor == nil {
		return fmt.Errorf("signing actor %s not found", job.SigningActorURL)
	}
	if signingActor.PrivateKeyPem == "" {
		return fmt.Errorf("signing actor %s has no private key", job.SigningActorURL)
	}

	privateKey, err := ParsePrivateKey(signingActor.PrivateKeyPem)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	body := []byte(job.ActivityJSON)
	req, err := http.NewRequest("POST", job.InboxURI, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	inboxURL, err := url.Parse(job.InboxURI)
	if err != nil {
		return fmt.Errorf("invalid inbox URI: %w", err)
	}
	req.Header.Set("Host", inboxURL.Host)
	req.Host = inboxURL.Host

	keyID := job.SigningActorURL + "#main-key"
	if err := SignRequest(req, privateKey, keyID, body); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}

	return nil
}

// DeliveryWorker drains the persisted delivery queue. Each outcome is
// reported to the health tracker and to the follow score bookkeeping;
// exhausted jobs surface only as a failure signal, never as an error to
// whoever scheduled them.
type DeliveryWorker struct {
	database *db.DB
	client   *DeliveryClient
	tracker  *FollowHealthTracker
	follows  *FollowService
	conf     *util.AppConfig
	stop     chan struct{}
}

func NewDeliveryWorker(database *db.DB, client *DeliveryClient, tracker *FollowHealthTracker, follows *FollowService, conf *util.AppConfig) *DeliveryWorker {
	return &DeliveryWorker{
		database: database,
		client:   client,
		tracker:  tracker,
		follows:  follows,
		conf:     conf,
		stop:     make(chan struct{}),
	}
}

// Start launches the queue polling loop
func (w *DeliveryWorker) Start() {
	log.Println("Starting delivery worker...")
	interval := time.Duration(w.conf.Conf.DeliveryIntervalSec) * time.Second

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.ProcessQueue()
			case <-w.stop:
				return
			}
		}
	}()
}

func (w *DeliveryWorker) Stop() {
	close(w.stop)
}

// ProcessQueue delivers one batch of due jobs. Jobs run sequentially per
// tick; parallelism comes from deliveries to distinct servers rarely
// sharing a tick in practice, and failures stay isolated per URI.
func (w *DeliveryWorker) ProcessQueue() {
	err, jobs := w.database.ReadPendingDeliveries(w.conf.Conf.DeliveryBatch)
	if err != nil {
		log.Printf("DeliveryWorker: Failed to read queue: %v", err)
		return
	}

	if jobs == nil || len(*jobs) == 0 {
		return
	}

	log.Printf("DeliveryWorker: Processing %d pending deliveries", len(*jobs))

	for _, job := range *jobs {
		if err := w.client.Deliver(&job); err != nil {
			w.reportOutcome(job.InboxURI, false)

			job.Attempts++
			if job.Attempts >= deliveryMaxAttempts {
				// exhausted: the health signal above is the only trace
				log.Printf("DeliveryWorker: Giving up on delivery to %s after %d attempts", job.InboxURI, job.Attempts)
				w.database.DeleteDelivery(job.Id)
				continue
			}

			backoff := backoffMinutes[min(job.Attempts-1, len(backoffMinutes)-1)]
			job.NextRetryAt = time.Now().Add(time.Duration(backoff) * time.Minute)
			log.Printf("DeliveryWorker: Delivery to %s failed (attempt %d), retry in %dm: %v",
				job.InboxURI, job.Attempts, backoff, err)
			w.database.UpdateDeliveryAttempt(job.Id, job.Attempts, job.NextRetryAt)
		} else {
			w.reportOutcome(job.InboxURI, true)
			w.database.DeleteDelivery(job.Id)
		}
	}
}

func (w *DeliveryWorker) reportOutcome(inboxURI string, success bool) {
	outcome := domain.DeliveryOutcome{URI: inboxURI, Success: success, At: time.Now()}

	if success {
		w.tracker.UpdateHealth([]string{inboxURI}, nil)
		metrics.DeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		w.tracker.UpdateHealth(nil, []string{inboxURI})
		metrics.DeliveriesTotal.WithLabelValues("failure").Inc()
	}

	if err := w.follows.ApplyDeliveryOutcome(outcome); err != nil {
		log.Printf("DeliveryWorker: Failed to update follow score for %s: %v", inboxURI, err)
	}
}
