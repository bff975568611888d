package usage

import (
	"context"
	"log"
	"sync"
	"time"
)

const recordTimeout = 5 * time.Second

type event struct {
	userID string
	delta  Delta
	log    *LogEntry
}

// Accountant applies usage events off the request path. Writes are
// best-effort: failures are logged and dropped, and a full queue sheds
// events rather than blocking the caller.
type Accountant struct {
	store  Store
	events chan event
	wg     sync.WaitGroup
	now    func() time.Time

	closeOnce sync.Once
}

func NewAccountant(store Store, buffer int) *Accountant {
	if buffer <= 0 {
		buffer = 1024
	}
	a := &Accountant{
		store:  store,
		events: make(chan event, buffer),
		now:    time.Now,
	}
	a.wg.Add(1)
	go a.drain()
	return a
}

func (a *Accountant) drain() {
	defer a.wg.Done()
	for ev := range a.events {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if ev.userID != "" {
			y, m := a.monthKey()
			if err := a.store.IncrementMonthly(ctx, ev.userID, y, m, ev.delta); err != nil {
				log.Printf("usage: failed to increment monthly counters for user %s: %v", ev.userID, err)
			}
		}
		if ev.log != nil {
			if err := a.store.AppendLog(ctx, ev.log); err != nil {
				log.Printf("usage: failed to append usage log for user %s: %v", ev.log.UserID, err)
			}
		}
		cancel()
	}
}

func (a *Accountant) monthKey() (int, int) {
	now := a.now().UTC()
	return now.Year(), int(now.Month())
}

func (a *Accountant) enqueue(ev event) {
	select {
	case a.events <- ev:
	default:
		log.Printf("usage: event queue full, dropping record for user %s", ev.userID)
	}
}

// RecordHit counts a served cache hit and the spend it avoided.
func (a *Accountant) RecordHit(userID string, tokensSaved int64, costSaved float64) {
	a.enqueue(event{
		userID: userID,
		delta: Delta{
			Requests:    1,
			CacheHits:   1,
			TokensSaved: tokensSaved,
			CostSaved:   costSaved,
		},
	})
}

// RecordMiss counts an upstream call.
func (a *Accountant) RecordMiss(userID string) {
	a.enqueue(event{
		userID: userID,
		delta: Delta{
			Requests:    1,
			CacheMisses: 1,
		},
	})
}

// Append queues an immutable audit row.
func (a *Accountant) Append(entry *LogEntry) {
	a.enqueue(event{log: entry})
}

// Close flushes queued events and stops the drain goroutine.
func (a *Accountant) Close() {
	a.closeOnce.Do(func() {
		close(a.events)
	})
	a.wg.Wait()
}
