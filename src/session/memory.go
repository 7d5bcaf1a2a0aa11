package session

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	session Session
	events  []Event
}

// MemoryService is a process-local Service.
type MemoryService struct {
	mu       sync.RWMutex
	sessions map[Key]*memoryRecord
}

func NewMemoryService() *MemoryService {
	return &MemoryService{sessions: make(map[Key]*memoryRecord)}
}

func (m *MemoryService) Get(_ context.Context, key Key) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[key]
	if !ok {
		return nil, nil
	}
	s := rec.session
	return &s, nil
}

func (m *MemoryService) Create(_ context.Context, key Key) (*Session, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[key]; ok {
		return nil, ErrExists
	}
	now := time.Now().UTC()
	rec := &memoryRecord{session: Session{Key: key, CreatedAt: now, UpdatedAt: now}}
	m.sessions[key] = rec
	s := rec.session
	return &s, nil
}

func (m *MemoryService) AppendEvent(_ context.Context, key Key, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[key]
	if !ok {
		return ErrNotFound
	}
	ev = stamp(ev)
	rec.events = append(rec.events, ev)
	rec.session.UpdatedAt = ev.CreatedAt
	return nil
}

func (m *MemoryService) Events(_ context.Context, key Key, limit int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[key]
	if !ok {
		return nil, ErrNotFound
	}
	events := rec.events
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return append([]Event(nil), events...), nil
}

func (m *MemoryService) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryService) Close() error { return nil }

var _ Service = (*MemoryService)(nil)
