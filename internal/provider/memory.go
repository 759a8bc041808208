package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lerian-entity-resolver/internal/similarity"
	"lerian-entity-resolver/internal/types"
)

// Status values written by MemoryProvider
const (
	StatusOpen      = "open"
	StatusCompleted = "completed"
)

// List is a task list held by MemoryProvider
type List struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type storedEntity struct {
	entity types.Entity
	seq    uint64
}

type userData struct {
	entities map[string]*storedEntity
	lists    map[string]*List
}

// MemoryProvider is an in-memory Collaborator, safe for concurrent use
type MemoryProvider struct {
	mu    sync.RWMutex
	users map[types.UserID]*userData
	seq   uint64
	loc   *time.Location
	newID func() string
}

// NewMemoryProvider creates an empty provider. Due dates are interpreted in loc,
// UTC when nil.
func NewMemoryProvider(loc *time.Location) *MemoryProvider {
	if loc == nil {
		loc = time.UTC
	}
	return &MemoryProvider{
		users: make(map[types.UserID]*userData),
		loc:   loc,
		newID: uuid.NewString,
	}
}

func (p *MemoryProvider) user(userID types.UserID) *userData {
	u, ok := p.users[userID]
	if !ok {
		u = &userData{
			entities: make(map[string]*storedEntity),
			lists:    make(map[string]*List),
		}
		p.users[userID] = u
	}
	return u
}

// Seed inserts entities as-is, assigning ids to those without one
func (p *MemoryProvider) Seed(userID types.UserID, entities ...types.Entity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u := p.user(userID)
	for _, e := range entities {
		if e.ID == "" {
			e.ID = p.newID()
		}
		p.seq++
		u.entities[e.ID] = &storedEntity{entity: e, seq: p.seq}
	}
}

// Entities returns the user's entities in insertion order
func (p *MemoryProvider) Entities(_ context.Context, userID types.UserID) ([]types.Entity, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	u, ok := p.users[userID]
	if !ok {
		return []types.Entity{}, nil
	}
	stored := make([]*storedEntity, 0, len(u.entities))
	for _, s := range u.entities {
		stored = append(stored, s)
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].seq < stored[j].seq })

	out := make([]types.Entity, len(stored))
	for i, s := range stored {
		out[i] = s.entity
	}
	return out, nil
}

// Lists returns the user's lists sorted by title
func (p *MemoryProvider) Lists(userID types.UserID) []List {
	p.mu.RLock()
	defer p.mu.RUnlock()

	u, ok := p.users[userID]
	if !ok {
		return nil
	}
	out := make([]List, 0, len(u.lists))
	for _, l := range u.lists {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

func (p *MemoryProvider) CreateEntity(ctx context.Context, payload types.EntityCreatePayload, userID types.UserID) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	u := p.user(userID)

	if payload.ListID != "" {
		if _, ok := u.lists[payload.ListID]; !ok {
			return Rejected(fmt.Sprintf("list %s does not exist", payload.ListID)), nil
		}
	}

	due, err := p.parseDue(payload.DueDate, payload.DueTime)
	if err != nil {
		return Rejected(err.Error()), nil
	}

	kind := payload.Kind
	if kind == "" {
		kind = types.KindTask
		if payload.DueTime != "" {
			kind = types.KindEvent
		}
	}

	entity := types.Entity{
		ID:     p.newID(),
		Title:  strings.TrimSpace(payload.Description),
		Kind:   kind,
		Due:    due,
		Status: StatusOpen,
		ListID: payload.ListID,
	}
	if payload.Notes != "" {
		entity.Payload = map[string]interface{}{"notes": payload.Notes}
	}

	p.seq++
	u.entities[entity.ID] = &storedEntity{entity: entity, seq: p.seq}
	return Succeeded(entity.ID), nil
}

func (p *MemoryProvider) CompleteEntity(ctx context.Context, ref types.EntityRef, completion map[string]interface{}, userID types.UserID) (*Outcome, error) {
	return p.mutate(ctx, ref, userID, func(e *types.Entity) []string {
		if e.Status == StatusCompleted {
			return []string{fmt.Sprintf("%q is already completed", e.Title)}
		}
		e.Status = StatusCompleted
		if len(completion) > 0 {
			e.Payload = merge(e.Payload, map[string]interface{}{"completion": completion})
		}
		return nil
	})
}

func (p *MemoryProvider) UpdateEntity(ctx context.Context, ref types.EntityRef, patch map[string]interface{}, userID types.UserID) (*Outcome, error) {
	return p.mutate(ctx, ref, userID, func(e *types.Entity) []string {
		var errs []string
		extra := make(map[string]interface{})
		date, clock := e.DateKey(), e.TimeKey()
		dueChanged := false

		for key, value := range patch {
			s, isString := value.(string)
			switch key {
			case "title", "description":
				if !isString || strings.TrimSpace(s) == "" {
					errs = append(errs, key+" must be a non-empty string")
					continue
				}
				e.Title = strings.TrimSpace(s)
			case "status":
				if !isString {
					errs = append(errs, "status must be a string")
					continue
				}
				e.Status = s
			case "due_date":
				date, dueChanged = s, true
			case "due_time":
				clock, dueChanged = s, true
			default:
				extra[key] = value
			}
		}

		if dueChanged {
			due, err := p.parseDue(date, clock)
			if err != nil {
				errs = append(errs, err.Error())
			} else {
				e.Due = due
			}
		}
		if len(extra) > 0 {
			e.Payload = merge(e.Payload, extra)
		}
		return errs
	})
}

func (p *MemoryProvider) DeleteEntity(ctx context.Context, ref types.EntityRef, userID types.UserID) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	u := p.user(userID)
	s, errs := find(u, ref)
	if len(errs) > 0 {
		return Rejected(errs...), nil
	}
	delete(u.entities, s.entity.ID)
	return Succeeded(s.entity.ID), nil
}

func (p *MemoryProvider) CreateList(ctx context.Context, payload types.ListPayload, userID types.UserID) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	u := p.user(userID)
	title := strings.TrimSpace(payload.Title)
	if l := findList(u, types.ListPayload{Title: title}); l != nil {
		return Rejected(fmt.Sprintf("a list named %q already exists", l.Title)), nil
	}
	list := &List{ID: p.newID(), Title: title}
	u.lists[list.ID] = list
	return Succeeded(list.ID), nil
}

func (p *MemoryProvider) UpdateList(ctx context.Context, payload types.ListPayload, userID types.UserID) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	u := p.user(userID)
	list := findList(u, payload)
	if list == nil {
		return Rejected("list not found"), nil
	}
	list.Title = strings.TrimSpace(payload.NewTitle)
	return Succeeded(list.ID), nil
}

// DeleteList removes the list and every entity filed under it
func (p *MemoryProvider) DeleteList(ctx context.Context, payload types.ListPayload, userID types.UserID) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	u := p.user(userID)
	list := findList(u, payload)
	if list == nil {
		return Rejected("list not found"), nil
	}
	for id, s := range u.entities {
		if s.entity.ListID == list.ID {
			delete(u.entities, id)
		}
	}
	delete(u.lists, list.ID)
	return Succeeded(list.ID), nil
}

func (p *MemoryProvider) mutate(ctx context.Context, ref types.EntityRef, userID types.UserID, apply func(*types.Entity) []string) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	s, errs := find(p.user(userID), ref)
	if len(errs) > 0 {
		return Rejected(errs...), nil
	}

	updated := s.entity
	updated.Payload = merge(nil, s.entity.Payload)
	if errs := apply(&updated); len(errs) > 0 {
		return Rejected(errs...), nil
	}
	s.entity = updated
	return Succeeded(updated.ID), nil
}

func (p *MemoryProvider) parseDue(date, clock string) (*time.Time, error) {
	return types.ParseDue(date, clock, p.loc)
}

// find resolves ref by id, then by glyph-insensitive title
func find(u *userData, ref types.EntityRef) (*storedEntity, []string) {
	if ref.ID != "" {
		if s, ok := u.entities[ref.ID]; ok {
			return s, nil
		}
		return nil, []string{fmt.Sprintf("entity %s not found", ref.ID)}
	}

	want := similarity.Normalize(ref.Title)
	var matches []*storedEntity
	for _, s := range u.entities {
		if similarity.Normalize(s.entity.Title) == want {
			matches = append(matches, s)
		}
	}
	switch len(matches) {
	case 0:
		return nil, []string{fmt.Sprintf("no entity titled %q", ref.Title)}
	case 1:
		return matches[0], nil
	default:
		return nil, []string{fmt.Sprintf("%d entities are titled %q", len(matches), ref.Title)}
	}
}

func findList(u *userData, ref types.ListPayload) *List {
	if ref.ID != "" {
		return u.lists[ref.ID]
	}
	want := similarity.Normalize(ref.Title)
	for _, l := range u.lists {
		if similarity.Normalize(l.Title) == want {
			return l
		}
	}
	return nil
}

func merge(base, extra map[string]interface{}) map[string]interface{} {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
