package agentloop

import (
	"sync"
	"sync/atomic"
	"time"
)

type EventKind string

// Progress events, in roughly the order a step produces them.
const (
	EventSessionStart     EventKind = "session_start"
	EventContextTrimmed   EventKind = "context_trimmed"
	EventModelRequest     EventKind = "model_request"
	EventModelReply       EventKind = "model_reply"
	EventLoopDetection    EventKind = "loop_detection"
	EventParseError       EventKind = "parse_error"
	EventActionParsed     EventKind = "action_parsed"
	EventActionError      EventKind = "action_error"
	EventActionResult     EventKind = "action_result"
	EventValidationStart  EventKind = "validation_start"
	EventValidationResult EventKind = "validation_result"
	EventStepLimit        EventKind = "step_limit"
	EventError            EventKind = "error"
	EventSessionEnd       EventKind = "session_end"
)

type SessionEvent struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Step      int            `json:"step"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventEmitter publishes SessionEvents on a buffered channel. Emit never
// blocks: events that do not fit are counted and discarded.
type EventEmitter struct {
	sessionID string
	ch        chan SessionEvent
	dropped   atomic.Int64

	mu     sync.RWMutex // guards closed against a concurrent Emit
	closed bool
}

func NewEventEmitter(sessionID string, buffer int) *EventEmitter {
	return &EventEmitter{sessionID: sessionID, ch: make(chan SessionEvent, max(buffer, 1))}
}

func (e *EventEmitter) Emit(kind EventKind, step int, data map[string]any) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- SessionEvent{Kind: kind, Timestamp: time.Now(), SessionID: e.sessionID, Step: step, Data: data}:
	default:
		e.dropped.Add(1)
	}
}

func (e *EventEmitter) Events() <-chan SessionEvent { return e.ch }

// Dropped reports how many events were discarded because the buffer was full.
func (e *EventEmitter) Dropped() int64 { return e.dropped.Load() }

// Close ends the stream. Later calls and later Emits are no-ops.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.ch)
}
