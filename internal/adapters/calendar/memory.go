package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/remindly/core/internal/domain/entities"
	"github.com/remindly/core/internal/ports"
)

// Memory is an in-process calendar. It backs the "memory" sync provider
// and lets tests play the part of a user editing their calendar.
type Memory struct {
	mu     sync.Mutex
	events map[string]ports.RemoteEvent
	keys   map[string]string
	calls  map[string]int
	errs   map[string][]error
	nextID int
}

// NewMemory creates an empty in-memory calendar
func NewMemory() *Memory {
	return &Memory{
		events: make(map[string]ports.RemoteEvent),
		keys:   make(map[string]string),
		calls:  make(map[string]int),
		errs:   make(map[string][]error),
	}
}

// Operation names accepted by FailNext and Calls
const (
	OpCreate = "create"
	OpGet    = "get"
	OpDelete = "delete"
	OpList   = "list"
)

// FailNext queues errors returned by the next calls of op, in order
func (m *Memory) FailNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[op] = append(m.errs[op], errs...)
}

// Calls reports how many times op was invoked
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Event returns the stored event, if any
func (m *Memory) Event(remoteID string) (ports.RemoteEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[remoteID]
	return ev, ok && ev.Exists
}

// Len counts live events
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.Exists {
			n++
		}
	}
	return n
}

// SimulateEdit changes an event the way a user would from their calendar app
func (m *Memory) SimulateEdit(remoteID, title string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev, ok := m.events[remoteID]; ok {
		ev.Title = title
		ev.Time = at.UTC()
		m.events[remoteID] = ev
	}
}

// AddEvent stores an event the way a user would create one in their
// calendar app and returns its id
func (m *Memory) AddEvent(title string, at time.Time) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := fmt.Sprintf("evt-%d", m.nextID)
	m.events[id] = ports.RemoteEvent{ID: id, Title: title, Time: at.UTC(), Exists: true}
	return id
}

// SimulateDelete removes an event the way a user would
func (m *Memory) SimulateDelete(remoteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev, ok := m.events[remoteID]; ok {
		ev.Exists = false
		m.events[remoteID] = ev
	}
}

func (m *Memory) next(op string) error {
	m.calls[op]++
	queue := m.errs[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	m.errs[op] = queue[1:]
	return err
}

func (m *Memory) CreateEvent(ctx context.Context, draft ports.EventDraft) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.next(OpCreate); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if id, ok := m.keys[draft.Key]; ok {
		if ev := m.events[id]; !ev.Exists {
			m.events[id] = ports.RemoteEvent{ID: id, Title: draft.Title, Time: draft.Time.UTC(), Exists: true}
		}
		return id, nil
	}

	m.nextID++
	id := fmt.Sprintf("evt-%d", m.nextID)
	m.keys[draft.Key] = id
	m.events[id] = ports.RemoteEvent{
		ID:     id,
		Title:  draft.Title,
		Time:   draft.Time.UTC(),
		Exists: true,
	}
	return id, nil
}

func (m *Memory) GetEvent(ctx context.Context, remoteID string) (ports.RemoteEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.next(OpGet); err != nil {
		return ports.RemoteEvent{}, err
	}
	if err := ctx.Err(); err != nil {
		return ports.RemoteEvent{}, err
	}

	ev, ok := m.events[remoteID]
	if !ok || !ev.Exists {
		return ports.RemoteEvent{ID: remoteID, Exists: false}, nil
	}
	return ev, nil
}

func (m *Memory) DeleteEvent(ctx context.Context, remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.next(OpDelete); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ev, ok := m.events[remoteID]
	if !ok || !ev.Exists {
		return entities.ErrRemoteEventNotFound
	}
	ev.Exists = false
	m.events[remoteID] = ev
	return nil
}

func (m *Memory) ListEvents(ctx context.Context, from, to time.Time) ([]ports.RemoteEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.next(OpList); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []ports.RemoteEvent
	for _, ev := range m.events {
		if ev.Exists && !ev.Time.Before(from) && !ev.Time.After(to) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time.Equal(out[j].Time) {
			return out[i].ID < out[j].ID
		}
		return out[i].Time.Before(out[j].Time)
	})
	return out, nil
}

var _ ports.CalendarAdapter = (*Memory)(nil)
