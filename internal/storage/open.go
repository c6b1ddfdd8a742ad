package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "postbot/pkg/logx"
)

// Store is the persistence API used by the pipeline recorder, the retraction
// paths and the retention sweeper.
type Store interface {
	SaveRun(ctx context.Context, run Run, posts []Post) error
	GetRun(ctx context.Context, id string) (Run, error)
	RecentRuns(ctx context.Context, limit int) ([]Run, error)
	// LivePosts returns the non-retracted posts of a run.
	LivePosts(ctx context.Context, runID string) ([]Post, error)
	// LivePostsBefore returns non-retracted posts published before cutoff,
	// oldest first.
	LivePostsBefore(ctx context.Context, cutoff time.Time, limit int) ([]Post, error)
	MarkRetracted(ctx context.Context, posts []Post, at time.Time) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
