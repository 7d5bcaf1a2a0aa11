// Package session keeps conversation sessions and their event history.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrExists   = errors.New("session already exists")
)

// Event roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Key identifies a session within an application and user.
type Key struct {
	App  string `json:"app" bson:"app"`
	User string `json:"user_id" bson:"user"`
	ID   string `json:"session_id" bson:"id"`
}

func (k Key) String() string { return k.App + "/" + k.User + "/" + k.ID }

func (k Key) validate() error {
	if strings.TrimSpace(k.App) == "" || strings.TrimSpace(k.User) == "" || strings.TrimSpace(k.ID) == "" {
		return fmt.Errorf("invalid session key %q", k.String())
	}
	return nil
}

// Event is one entry of a session's history.
type Event struct {
	Role      string    `json:"role" bson:"role"`
	Content   string    `json:"content" bson:"content"`
	Tool      string    `json:"tool,omitempty" bson:"tool,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

type Session struct {
	Key
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Service stores sessions. Get returns (nil, nil) for an unknown key.
// Events returns the most recent limit events in chronological order, or
// all of them when limit <= 0.
type Service interface {
	Get(ctx context.Context, key Key) (*Session, error)
	Create(ctx context.Context, key Key) (*Session, error)
	AppendEvent(ctx context.Context, key Key, ev Event) error
	Events(ctx context.Context, key Key, limit int) ([]Event, error)
	Delete(ctx context.Context, key Key) error
	Close() error
}

// GetOrCreate returns the session for key, creating it when missing.
func GetOrCreate(ctx context.Context, svc Service, key Key) (*Session, error) {
	s, err := svc.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if s != nil {
		return s, nil
	}
	s, err = svc.Create(ctx, key)
	if errors.Is(err, ErrExists) {
		if s, err = svc.Get(ctx, key); err == nil && s == nil {
			err = ErrNotFound
		}
	}
	return s, err
}

func stamp(ev Event) Event {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	return ev
}

// Config selects a backend for Open.
type Config struct {
	Backend       string
	SQLitePath    string
	MongoURI      string
	MongoDatabase string
}

// Open builds the Service named by cfg.Backend: memory, sqlite or mongo.
func Open(ctx context.Context, cfg Config) (Service, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = "sessions.db"
		}
		return NewSQLiteService(ctx, path)
	case "memory":
		return NewMemoryService(), nil
	case "mongo", "mongodb":
		return NewMongoService(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}
