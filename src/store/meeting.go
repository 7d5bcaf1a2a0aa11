package store

import (
	"errors"
	"time"
)

var (
	// ErrNotConnected is returned by a Store without a pool.
	ErrNotConnected = errors.New("database not connected")
	// ErrReadOnly is returned when a query is anything other than a single SELECT.
	ErrReadOnly = errors.New("read-only mode: only single SELECT queries are allowed, use insert_meeting for INSERT operations")
)

// Meeting is a row of the meetings table. Date is YYYY-MM-DD and Time, when
// set, HH:MM:SS.
type Meeting struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Date      string    `json:"meeting_date"`
	Time      string    `json:"meeting_time,omitempty"`
	Reasoning string    `json:"reasoning,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// Result is the tabular output of a read-only query.
type Result struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	Truncated bool             `json:"truncated,omitempty"`
}
