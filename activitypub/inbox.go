package activitypub

import (
	"log"
	"sync/atomic"

	"loxodon/domain"
)

// inboxBatch is one HTTP request's worth of inbound activities together
// with the verification context the caller established
type inboxBatch struct {
	activities     []Activity
	signatureActor *domain.Actor
	inboxActor     *domain.Actor
}

// InboxManager feeds inbound activities to the processor through a single
// worker goroutine. One worker is the point: activities within a batch run
// strictly in array order, and no two batches ever run concurrently, so
// Follow/Accept/Reject/Undo touching the same edge are serialized without
// locking. Federation volume is far below one worker's capacity.
type InboxManager struct {
	batches   chan inboxBatch
	pending   atomic.Int64
	processor *ActivityProcessor
	done      chan struct{}
}

func NewInboxManager(processor *ActivityProcessor) *InboxManager {
	return &InboxManager{
		batches:   make(chan inboxBatch, 256),
		processor: processor,
		done:      make(chan struct{}),
	}
}

// Start launches the single worker. Call once.
func (m *InboxManager) Start() {
	go m.run()
}

// Stop drains nothing and waits for the in-flight batch to finish
func (m *InboxManager) Stop() {
	close(m.batches)
	<-m.done
}

// Enqueue accepts a batch and returns immediately. When the queue is
// saturated the batch is dropped and logged; the sender already got its
// 202 and at-least-once redelivery is the remote side's job.
func (m *InboxManager) Enqueue(activities []Activity, signatureActor, inboxActor *domain.Actor) {
	if len(activities) == 0 {
		return
	}

	batch := inboxBatch{
		activities:     activities,
		signatureActor: signatureActor,
		inboxActor:     inboxActor,
	}

	select {
	case m.batches <- batch:
		m.pending.Add(int64(len(activities)))
	default:
		log.Printf("Inbox: Queue full, dropping batch of %d activities from %s",
			len(activities), signatureActor.URL)
	}
}

// PendingCount reports queued plus in-flight activities
func (m *InboxManager) PendingCount() int64 {
	return m.pending.Load()
}

func (m *InboxManager) run() {
	defer close(m.done)

	for batch := range m.batches {
		for i := range batch.activities {
			m.processOne(&batch.activities[i], batch.signatureActor, batch.inboxActor)
			m.pending.Add(-1)
		}
	}
}

// processOne isolates one activity: a handler error or panic is logged
// and the batch moves on, a bad activity does not poison its siblings
func (m *InboxManager) processOne(activity *Activity, signatureActor, inboxActor *domain.Actor) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Inbox: Panic processing %s %s: %v", activity.Type, activity.ID, r)
		}
	}()

	if err := m.processor.Process(activity, ProcessContext{
		SignatureActor: signatureActor,
		InboxActor:     inboxActor,
	}); err != nil {
		log.Printf("Inbox: Failed to process %s %s: %v", activity.Type, activity.ID, err)
	}
}
