// Package progress implements C10: a per-upload single-producer/many-
// consumer broadcast of ingest progress records. Grounded on the
// teacher's internal/extraction/jobstore.go (mutex-guarded map +
// background cleanup) for its lifecycle shape, generalized from a
// request-keyed job map to an upload-keyed subscriber hub.
package progress

import "sync"

// Record is one progress snapshot, matching the HTTP wire shape from
// spec §6's SSE stream.
type Record struct {
	State        string `json:"state"`
	CurrentPage  int    `json:"current_page"`
	TotalPages   int    `json:"total_pages"`
	Message      string `json:"message,omitempty"`
	ExtractState string `json:"extract_state,omitempty"`
}

// Terminal reports whether this record's state is one the pipeline never
// leaves: done or error. interrupted is not terminal, since resume
// continues from it.
func (r Record) Terminal() bool {
	return r.State == "done" || r.State == "error"
}

type subscriber struct {
	ch     chan Record
	closed bool
}

// Hub fans out Records for one upload to any number of subscribers.
// Publish is wait-free for the producer: an ordinary record that does not
// fit a subscriber's full buffer is skipped for that subscriber, which
// stays connected.
type Hub struct {
	mu          sync.Mutex
	latest      Record
	haveLatest  bool
	subscribers map[int]*subscriber
	nextID      int
	closed      bool
}

// NewHub creates an empty hub with no prior record.
func NewHub() *Hub {
	return &Hub{subscribers: map[int]*subscriber{}}
}

// Subscribe registers a new subscriber and immediately delivers the
// latest record, if any, per spec §4.10. The returned channel is closed
// when Unsubscribe is called or after the hub delivers its terminal record.
func (h *Hub) Subscribe() (<-chan Record, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	sub := &subscriber{ch: make(chan Record, 8)}
	h.subscribers[id] = sub

	if h.haveLatest {
		select {
		case sub.ch <- h.latest:
		default:
		}
	}
	if h.closed {
		h.closeSub(id)
	}

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.closeSub(id)
	}
	return sub.ch, unsubscribe
}

func (h *Hub) closeSub(id int) {
	sub, ok := h.subscribers[id]
	if !ok || sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	delete(h.subscribers, id)
}

// Publish broadcasts rec to every connected subscriber. For ordinary
// records, a subscriber whose buffer is full misses rec but is not
// disconnected, and the producer never blocks. The terminal record is different: spec §4.10 requires
// it reach everyone still connected, so a full buffer is drained by one
// slot (discarding its oldest queued record) to make guaranteed room
// rather than silently skipping the subscriber. Single-producer per Hub,
// so draining one slot is always enough — nothing else is sending.
func (h *Hub) Publish(rec Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.latest = rec
	h.haveLatest = true

	if rec.Terminal() {
		for _, sub := range h.subscribers {
			sendGuaranteed(sub.ch, rec)
		}
		for id := range h.subscribers {
			h.closeSub(id)
		}
		h.closed = true
		return
	}

	for _, sub := range h.subscribers {
		select {
		case sub.ch <- rec:
		default:
			// slow subscriber: drop the record rather than block the producer.
		}
	}
}

// sendGuaranteed delivers rec to ch, discarding the oldest buffered record
// first if the buffer is full. Safe under Hub.mu since Hub is the only
// sender; a subscriber only ever reads from ch.
func sendGuaranteed(ch chan Record, rec Record) {
	select {
	case ch <- rec:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- rec:
	default:
		// the subscriber drained concurrently and raced a refill from
		// elsewhere; since Hub is the sole producer this cannot happen,
		// but fall through rather than block indefinitely.
	}
}
