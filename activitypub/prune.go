package activitypub

import (
	"log"
	"sync"
	"time"

	"loxodon/util"
)

// FollowPruner removes follow edges of destinations that stay unhealthy.
// Marking unhealthy and pruning are deliberately decoupled: the tracker
// marks, this sweep decides. An inbox must be unhealthy for several
// consecutive sweeps before its edges go, a burst of failures between two
// sweeps never mass-deletes follows on its own.
type FollowPruner struct {
	tracker *FollowHealthTracker
	follows *FollowService
	conf    *util.AppConfig

	mu      sync.Mutex
	strikes map[string]int
	stop    chan struct{}
}

func NewFollowPruner(tracker *FollowHealthTracker, follows *FollowService, conf *util.AppConfig) *FollowPruner {
	return &FollowPruner{
		tracker: tracker,
		follows: follows,
		conf:    conf,
		strikes: make(map[string]int),
		stop:    make(chan struct{}),
	}
}

// Start launches the periodic sweep
func (p *FollowPruner) Start() {
	interval := time.Duration(p.conf.Conf.PruneIntervalSec) * time.Second

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Sweep()
			case <-p.stop:
				return
			}
		}
	}()
}

func (p *FollowPruner) Stop() {
	close(p.stop)
}

// Sweep counts a strike for every currently unhealthy inbox and prunes
// the ones that reached the strike threshold. Inboxes that recovered
// since the last sweep lose their strikes.
func (p *FollowPruner) Sweep() {
	bad := p.tracker.BadInboxes()

	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[string]bool, len(bad))
	for _, uri := range bad {
		seen[uri] = true
		p.strikes[uri]++
	}

	// recovery clears the slate
	for uri := range p.strikes {
		if !seen[uri] {
			delete(p.strikes, uri)
		}
	}

	for _, uri := range bad {
		if p.strikes[uri] < p.conf.Conf.PruneStrikes {
			continue
		}

		removed, err := p.follows.RemoveByInbox(uri)
		if err != nil {
			log.Printf("Prune: Failed to remove follows for %s: %v", uri, err)
			continue
		}
		log.Printf("Prune: Removed %d follows for persistently unreachable inbox %s", removed, uri)

		p.tracker.Forget(uri)
		delete(p.strikes, uri)
	}
}
