package replica

import (
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/cvvkv/cvvkv/internal/version"
)

// AntiEntropyScheduler periodically drives RequestSync against a
// configured set of peers, supplying the production driver that
// original_source/src/cvv/replica.py leaves entirely to its caller
// (typically test code). It generalizes the teacher's
// internal/storage/scheduler.go Scheduler from cron-triggered SQL jobs to
// cron-triggered sync rounds.
type AntiEntropyScheduler struct {
	mu      sync.Mutex
	replica *Replica
	peers   []version.ReplicaID
	cron    *cron.Cron
	entryID cron.EntryID
}

// NewAntiEntropyScheduler returns a scheduler that will sync r against
// peers once started.
func NewAntiEntropyScheduler(r *Replica, peers []version.ReplicaID) *AntiEntropyScheduler {
	return &AntiEntropyScheduler{
		replica: r,
		peers:   peers,
		cron:    cron.New(),
	}
}

// Start schedules anti-entropy rounds per the given cron expression and
// begins running them in the background. schedule is a standard 5-field
// cron expression (no seconds field), e.g. "*/5 * * * *" for every five
// minutes. It picks one peer per round,
// round-robin, so a cluster with many peers doesn't burst all its sync
// traffic at once.
func (s *AntiEntropyScheduler) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := 0
	id, err := s.cron.AddFunc(schedule, func() {
		s.mu.Lock()
		if len(s.peers) == 0 {
			s.mu.Unlock()
			return
		}
		peer := s.peers[next%len(s.peers)]
		next++
		s.mu.Unlock()

		log.Printf("antientropy: requesting sync from %s", peer)
		s.replica.RequestSync(peer)
	})
	if err != nil {
		return err
	}
	s.entryID = id
	s.cron.Start()
	return nil
}

// Stop halts the scheduler. In-flight sync rounds are allowed to finish.
func (s *AntiEntropyScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Remove(s.entryID)
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// AddPeer adds a peer to the anti-entropy rotation.
func (s *AntiEntropyScheduler) AddPeer(id version.ReplicaID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = append(s.peers, id)
}
