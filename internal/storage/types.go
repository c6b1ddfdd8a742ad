// Package storage keeps a history of runs and the messages they published,
// so a whole run can be retracted later.
package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("storage: not found")
	ErrClosed   = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON snapshot + journal next to Path
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Run is one finished pipeline run. Result holds the full result document.
type Run struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	SourceLink string    `json:"source_link"`
	FinalURL   string    `json:"final_url,omitempty"`
	Caption    string    `json:"caption,omitempty"`
	Result     string    `json:"result,omitempty"`
}

// Post is one delivered message. RetractedAt is zero while it is live.
type Post struct {
	RunID       string    `json:"run_id"`
	Channel     string    `json:"channel"`
	MessageID   int       `json:"message_id"`
	PostedAt    time.Time `json:"posted_at"`
	RetractedAt time.Time `json:"retracted_at,omitempty"`
}

func (p Post) Live() bool { return p.RetractedAt.IsZero() }

func (p Post) key() postKey { return postKey{p.Channel, p.MessageID} }

type postKey struct {
	channel string
	id      int
}
