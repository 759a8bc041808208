package engine

import (
	"time"

	"lerian-entity-resolver/internal/types"
)

// EventType names an engine event
type EventType string

const (
	EventItemSucceeded  EventType = "item.succeeded"
	EventItemFailed     EventType = "item.failed"
	EventBatchCompleted EventType = "batch.completed"
	EventContextUpdated EventType = "context.updated"
	EventContextCleared EventType = "context.cleared"
)

// Event is published after the engine changed something for a user
type Event struct {
	Type      EventType    `json:"type"`
	UserID    types.UserID `json:"user_id"`
	BatchID   string       `json:"batch_id,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Data      interface{}  `json:"data,omitempty"`
}

// Publisher receives engine events; Publish must not block
type Publisher interface {
	Publish(Event)
}

// WithPublisher sets the event publisher
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func (e *Engine) publish(ev Event) {
	if e.publisher == nil {
		return
	}
	ev.Timestamp = time.Now()
	e.publisher.Publish(ev)
}

// publishBatch emits one event per item, in index order, then the summary
func (e *Engine) publishBatch(result *types.BatchResult) {
	if e.publisher == nil {
		return
	}

	s, f := 0, 0
	for s < len(result.Successful) || f < len(result.Failed) {
		if f >= len(result.Failed) || (s < len(result.Successful) && result.Successful[s].Index < result.Failed[f].Index) {
			e.publish(Event{Type: EventItemSucceeded, UserID: result.UserID, BatchID: result.ID, Data: result.Successful[s]})
			s++
			continue
		}
		e.publish(Event{Type: EventItemFailed, UserID: result.UserID, BatchID: result.ID, Data: result.Failed[f]})
		f++
	}
	e.publish(Event{Type: EventBatchCompleted, UserID: result.UserID, BatchID: result.ID, Data: result.Summary})
}
