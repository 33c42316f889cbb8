package cluster

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/racepix/racepix/internal/constants"
)

type waiter struct {
	userID    string
	onSettled func(refunded int)
}

// eventTimer pairs a pending timer with the generation it was armed for.
// A firing whose generation no longer matches the map entry is stale and
// must not run a pass or settle waiters.
type eventTimer struct {
	timer *time.Timer
	gen   uint64
}

// Scheduler debounces clustering per event. Every Schedule call replaces the
// event's timer; a burst of finishing upload batches collapses into one
// pass that runs after the event has been quiet for the debounce window.
type Scheduler struct {
	engine   *Engine
	debounce time.Duration

	mu      sync.Mutex
	gen     uint64
	timers  map[string]*eventTimer
	waiters map[string][]waiter
	closed  bool
	wg      sync.WaitGroup
}

func NewScheduler(engine *Engine, debounce time.Duration) *Scheduler {
	if debounce <= 0 {
		debounce = constants.DefaultClusterDebounceSeconds * time.Second
	}
	return &Scheduler{
		engine:   engine,
		debounce: debounce,
		timers:   make(map[string]*eventTimer),
		waiters:  make(map[string][]waiter),
	}
}

// Schedule queues a clustering pass for the event. onSettled may be nil;
// otherwise it runs after the pass completes with the credits refunded to
// userID during that pass.
func (s *Scheduler) Schedule(eventID, userID string, onSettled func(refunded int)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		if onSettled != nil {
			onSettled(0)
		}
		return
	}

	if onSettled != nil {
		s.waiters[eventID] = append(s.waiters[eventID], waiter{userID: userID, onSettled: onSettled})
	}

	// Timers are replaced, never Reset: a timer that already fired may be
	// blocked on s.mu right now, and re-arming it would make one WaitGroup
	// slot fire twice. When Stop fails the in-flight firing keeps the old
	// slot, sees a newer generation and returns without doing anything, so
	// the replacement needs a slot of its own.
	needSlot := true
	if et, ok := s.timers[eventID]; ok && et.timer.Stop() {
		needSlot = false
	}
	if needSlot {
		s.wg.Add(1)
	}
	s.armTimer(eventID)
}

// armTimer installs a fresh debounce timer for the event. Caller holds s.mu
// and has already accounted a WaitGroup slot.
func (s *Scheduler) armTimer(eventID string) {
	s.gen++
	gen := s.gen
	s.timers[eventID] = &eventTimer{
		gen: gen,
		timer: time.AfterFunc(s.debounce, func() {
			defer s.wg.Done()
			s.fire(eventID, gen)
		}),
	}
}

// RunNow triggers an immediate pass, bypassing the debounce. Pending
// waiters of the event are settled by it.
func (s *Scheduler) RunNow(ctx context.Context, eventID string) (*Summary, error) {
	s.mu.Lock()
	if et, ok := s.timers[eventID]; ok {
		if et.timer.Stop() {
			s.wg.Done()
		}
		// A firing that lost the Stop race finds the entry gone and no-ops.
		delete(s.timers, eventID)
	}
	pending := s.waiters[eventID]
	delete(s.waiters, eventID)
	s.mu.Unlock()

	summary, err := s.engine.Run(ctx, eventID)
	notify(pending, summary)
	return summary, err
}

// Close waits for in-flight timers. New Schedule calls settle immediately
// with zero refunds.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for eventID, et := range s.timers {
		if et.timer.Stop() {
			// Never fired; run the pass now on the timer's WaitGroup slot
			// so waiters are not stranded.
			go func(eventID string, gen uint64) {
				defer s.wg.Done()
				s.fire(eventID, gen)
			}(eventID, et.gen)
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) fire(eventID string, gen uint64) {
	s.mu.Lock()
	et, ok := s.timers[eventID]
	if !ok || et.gen != gen {
		// Replaced or consumed while this firing waited for the lock.
		s.mu.Unlock()
		return
	}
	delete(s.timers, eventID)
	pending := s.waiters[eventID]
	delete(s.waiters, eventID)
	s.mu.Unlock()

	summary, err := s.engine.Run(context.Background(), eventID)
	if err != nil {
		log.Printf("clustering pass for event %s: %v", eventID, err)
	}
	notify(pending, summary)
}

func notify(pending []waiter, summary *Summary) {
	for _, w := range pending {
		refunded := 0
		if summary != nil {
			refunded = summary.RefundsByUser[w.userID]
		}
		w.onSettled(refunded)
	}
}
