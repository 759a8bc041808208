package patterns

import (
	"context"
	"sync"

	"lerian-entity-resolver/internal/types"
)

// Conversation is the history an upstream caller supplies for one request
type Conversation struct {
	Messages []Message       `json:"messages"`
	Memories []MemorySummary `json:"memories"`
}

// IsEmpty reports whether the conversation carries no history at all
func (c Conversation) IsEmpty() bool {
	return len(c.Messages) == 0 && len(c.Memories) == 0
}

type conversationKey struct{}

// WithConversation attaches conv to ctx for the duration of a request
func WithConversation(ctx context.Context, conv Conversation) context.Context {
	return context.WithValue(ctx, conversationKey{}, conv)
}

// ConversationFrom returns the conversation attached to ctx
func ConversationFrom(ctx context.Context) (Conversation, bool) {
	if ctx == nil {
		return Conversation{}, false
	}
	conv, ok := ctx.Value(conversationKey{}).(Conversation)
	return conv, ok
}

// HistorySource supplies conversation history for a user when the request
// does not carry one
type HistorySource interface {
	History(ctx context.Context, userID types.UserID) (Conversation, error)
}

// StaticHistory is a HistorySource backed by a map, safe for concurrent use
type StaticHistory struct {
	mu    sync.RWMutex
	convs map[types.UserID]Conversation
}

// NewStaticHistory creates an empty StaticHistory
func NewStaticHistory() *StaticHistory {
	return &StaticHistory{convs: make(map[types.UserID]Conversation)}
}

// Put replaces the history of userID
func (h *StaticHistory) Put(userID types.UserID, conv Conversation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.convs[userID] = conv
}

// History returns the stored history, or an empty conversation
func (h *StaticHistory) History(_ context.Context, userID types.UserID) (Conversation, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.convs[userID], nil
}

// Resolve returns the conversation for a request: the one attached to ctx,
// else the one from source. ok is false when neither yields history.
func Resolve(ctx context.Context, source HistorySource, userID types.UserID) (conv Conversation, ok bool, err error) {
	if conv, found := ConversationFrom(ctx); found && !conv.IsEmpty() {
		return conv, true, nil
	}
	if source == nil {
		return Conversation{}, false, nil
	}
	conv, err = source.History(ctx, userID)
	if err != nil {
		return Conversation{}, false, err
	}
	return conv, !conv.IsEmpty(), nil
}
