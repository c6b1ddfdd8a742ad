package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "postbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveRun(ctx context.Context, run Run, posts []Post) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs(id, started_at, finished_at, success, err, source_link, final_url, caption, result)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET finished_at=excluded.finished_at, success=excluded.success,
		   err=excluded.err, final_url=excluded.final_url, caption=excluded.caption, result=excluded.result`,
		run.ID, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(), boolInt(run.Success),
		nullStr(run.Error), run.SourceLink, nullStr(run.FinalURL), nullStr(run.Caption), nullStr(run.Result),
	)
	if err != nil {
		return err
	}
	for _, p := range posts {
		if p.RunID == "" {
			p.RunID = run.ID
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO posts(run_id, channel, message_id, posted_at) VALUES(?,?,?,?)
			 ON CONFLICT(channel, message_id) DO UPDATE SET run_id=excluded.run_id, posted_at=excluded.posted_at`,
			p.RunID, p.Channel, p.MessageID, p.PostedAt.UnixMilli(),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const runColumns = `id, started_at, finished_at, success, err, source_link, final_url, caption, result`

func (s *sqliteStore) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return r, err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) LivePosts(ctx context.Context, runID string) ([]Post, error) {
	return s.queryPosts(ctx,
		`SELECT run_id, channel, message_id, posted_at FROM posts
		 WHERE run_id = ? AND retracted_at IS NULL ORDER BY posted_at, channel`, runID)
}

func (s *sqliteStore) LivePostsBefore(ctx context.Context, cutoff time.Time, limit int) ([]Post, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryPosts(ctx,
		`SELECT run_id, channel, message_id, posted_at FROM posts
		 WHERE retracted_at IS NULL AND posted_at < ? ORDER BY posted_at, channel LIMIT ?`,
		cutoff.UnixMilli(), limit)
}

func (s *sqliteStore) queryPosts(ctx context.Context, q string, args ...any) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Post
	for rows.Next() {
		var p Post
		var posted int64
		if err := rows.Scan(&p.RunID, &p.Channel, &p.MessageID, &posted); err != nil {
			return nil, err
		}
		p.PostedAt = time.UnixMilli(posted)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MarkRetracted(ctx context.Context, posts []Post, at time.Time) error {
	if len(posts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, p := range posts {
		if _, err := tx.ExecContext(ctx,
			`UPDATE posts SET retracted_at = ? WHERE channel = ? AND message_id = ?`,
			at.UnixMilli(), p.Channel, p.MessageID,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r                            Run
		started, finished, success   int64
		errText, final, capt, result sql.NullString
	)
	if err := sc.Scan(&r.ID, &started, &finished, &success, &errText, &r.SourceLink, &final, &capt, &result); err != nil {
		return Run{}, err
	}
	r.StartedAt = time.UnixMilli(started)
	r.FinishedAt = time.UnixMilli(finished)
	r.Success = success != 0
	r.Error, r.FinalURL, r.Caption, r.Result = errText.String, final.String, capt.String, result.String
	return r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
