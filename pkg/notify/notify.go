package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"chronosnap-pi/pkg/types"
	"chronosnap-pi/pkg/utils"
)

const (
	EventStatus = "status"
	EventError  = "error"
)

type StatusSink interface {
	PublishStatus(types.Snapshot)
}

type ErrorSink interface {
	NotifyError(sequenceID, message string)
}

// Event is what subscribers of a Hub receive.
type Event struct {
	Type       string          `json:"type"`
	Status     *types.Snapshot `json:"status,omitempty"`
	SequenceID string          `json:"sequenceId,omitempty"`
	Message    string          `json:"message,omitempty"`
	Time       time.Time       `json:"time"`
}

// Fanout forwards snapshots and errors to every registered sink.
type Fanout struct {
	Statuses []StatusSink
	Errors   []ErrorSink
}

func (f Fanout) PublishStatus(s types.Snapshot) {
	for _, sink := range f.Statuses {
		sink.PublishStatus(s)
	}
}

func (f Fanout) NotifyError(sequenceID, message string) {
	for _, sink := range f.Errors {
		sink.NotifyError(sequenceID, message)
	}
}

// Log writes snapshots and errors to the logger.
type Log struct {
	Logger *zap.SugaredLogger
}

func NewLog() Log {
	return Log{Logger: utils.GetLogger()}
}

func (l Log) PublishStatus(s types.Snapshot) {
	l.Logger.Debugf("status: %s running=%t captured=%d remaining=%d",
		s.State, s.Running, s.ImagesCaptured, s.ImagesRemaining)
}

func (l Log) NotifyError(sequenceID, message string) {
	l.Logger.Errorf("sequence %s failed: %s", sequenceID, message)
}

// Hub broadcasts events to subscribers without blocking the publisher.
// A subscriber that falls behind loses its oldest pending event.
type Hub struct {
	lock   sync.Mutex
	subs   map[chan Event]struct{}
	last   *types.Snapshot
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 1
	}
	return &Hub{
		subs:   make(map[chan Event]struct{}),
		buffer: buffer,
	}
}

// Subscribe returns a channel of events, primed with the latest snapshot,
// and a function that unsubscribes and closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.lock.Lock()
	defer h.lock.Unlock()
	ch := make(chan Event, h.buffer)
	if h.last != nil {
		s := *h.last
		ch <- Event{Type: EventStatus, Status: &s, SequenceID: s.SequenceID, Time: time.Now()}
	}
	h.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.lock.Lock()
			defer h.lock.Unlock()
			delete(h.subs, ch)
			close(ch)
		})
	}
}

// Last returns the most recent snapshot, if any.
func (h *Hub) Last() (types.Snapshot, bool) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.last == nil {
		return types.Snapshot{}, false
	}
	return *h.last, true
}

func (h *Hub) PublishStatus(s types.Snapshot) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.last = &s
	h.broadcast(Event{Type: EventStatus, Status: &s, SequenceID: s.SequenceID, Time: time.Now()})
}

func (h *Hub) NotifyError(sequenceID, message string) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.broadcast(Event{Type: EventError, SequenceID: sequenceID, Message: message, Time: time.Now()})
}

func (h *Hub) broadcast(ev Event) {
	for ch := range h.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		// drop the oldest event to make room
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}
