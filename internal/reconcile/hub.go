package reconcile

import (
	"sync"
	"time"

	"github.com/gilco1973/videobroker/internal/job"
)

// eventBuffer is the per-subscriber channel capacity. A subscriber that
// falls this far behind loses events rather than blocking updates.
const eventBuffer = 8

// Event is one published job state change.
type Event struct {
	Job job.Job   `json:"job"`
	At  time.Time `json:"at"`
}

// Hub fans job state changes out to per-job subscribers. The websocket
// event stream attaches here. Publishing never blocks: slow subscribers
// drop events and are expected to re-read the job record.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[chan Event]struct{}),
	}
}

// Subscribe registers interest in one job's events. The returned cancel
// function must be called to release the subscription; after cancel the
// channel is closed.
func (h *Hub) Subscribe(jobID string) (<-chan Event, func()) {
	ch := make(chan Event, eventBuffer)

	h.mu.Lock()
	set, ok := h.subs[jobID]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[jobID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		set, ok := h.subs[jobID]
		if !ok {
			return
		}
		if _, live := set[ch]; !live {
			return
		}
		delete(set, ch)
		if len(set) == 0 {
			delete(h.subs, jobID)
		}
		close(ch)
	}
	return ch, cancel
}

// Publish delivers a job state change to the job's subscribers.
func (h *Hub) Publish(j *job.Job) {
	ev := Event{Job: *j.Clone(), At: time.Now()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[j.ID] {
		select {
		case ch <- ev:
		default:
			// Subscriber is backed up; drop rather than block the
			// update path.
		}
	}
}
