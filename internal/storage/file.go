package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "postbot/pkg/logx"
)

// fileStore keeps everything in memory and persists it as:
//   - <prefix>.snapshot.json (periodic full snapshot)
//   - <prefix>.journal.jsonl (append-only journal since the snapshot)
//
// The journal is compacted into the snapshot every compactEvery writes.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File

	runs  map[string]Run
	posts map[postKey]Post

	writes       int
	compactEvery int
}

type snapshot struct {
	Runs  []Run  `json:"runs"`
	Posts []Post `json:"posts"`
}

// journalRecord is one journal line: a saved run with its posts, or a
// retraction mark.
type journalRecord struct {
	Run       *Run      `json:"run,omitempty"`
	Posts     []Post    `json:"posts,omitempty"`
	Retracted []Post    `json:"retracted,omitempty"`
	At        time.Time `json:"at,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
		runs:         map[string]Run{},
		posts:        map[postKey]Post{},
		compactEvery: 200,
	}
	journalPath := prefix + ".journal.jsonl"
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("snapshot unreadable, starting from journal", logx.Err(err))
	}
	if err := s.replay(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("journal replay incomplete", logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) SaveRun(_ context.Context, run Run, posts []Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	s.applyRun(run, posts)
	return s.appendLocked(journalRecord{Run: &run, Posts: posts})
}

func (s *fileStore) GetRun(_ context.Context, id string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return r, nil
}

func (s *fileStore) RecentRuns(_ context.Context, limit int) ([]Run, error) {
	s.mu.Lock()
	out := make([]Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fileStore) LivePosts(_ context.Context, runID string) ([]Post, error) {
	return s.filterPosts(func(p Post) bool { return p.RunID == runID }, 0), nil
}

func (s *fileStore) LivePostsBefore(_ context.Context, cutoff time.Time, limit int) ([]Post, error) {
	return s.filterPosts(func(p Post) bool { return p.PostedAt.Before(cutoff) }, limit), nil
}

func (s *fileStore) filterPosts(keep func(Post) bool, limit int) []Post {
	s.mu.Lock()
	var out []Post
	for _, p := range s.posts {
		if p.Live() && keep(p) {
			out = append(out, p)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PostedAt.Equal(out[j].PostedAt) {
			return out[i].PostedAt.Before(out[j].PostedAt)
		}
		return out[i].Channel < out[j].Channel
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *fileStore) MarkRetracted(_ context.Context, posts []Post, at time.Time) error {
	if len(posts) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	s.applyRetracted(posts, at)
	return s.appendLocked(journalRecord{Retracted: posts, At: at})
}

func (s *fileStore) applyRun(run Run, posts []Post) {
	s.runs[run.ID] = run
	for _, p := range posts {
		if p.RunID == "" {
			p.RunID = run.ID
		}
		s.posts[p.key()] = p
	}
}

func (s *fileStore) applyRetracted(posts []Post, at time.Time) {
	for _, p := range posts {
		if cur, ok := s.posts[p.key()]; ok {
			cur.RetractedAt = at
			s.posts[p.key()] = cur
		}
	}
}

func (s *fileStore) appendLocked(rec journalRecord) error {
	if err := json.NewEncoder(s.journal).Encode(rec); err != nil {
		return err
	}
	s.writes++
	if s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	snap := snapshot{Runs: make([]Run, 0, len(s.runs)), Posts: make([]Post, 0, len(s.posts))}
	for _, r := range s.runs {
		snap.Runs = append(snap.Runs, r)
	}
	for _, p := range s.posts {
		snap.Posts = append(snap.Posts, p)
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, r := range snap.Runs {
		s.runs[r.ID] = r
	}
	for _, p := range snap.Posts {
		s.posts[p.key()] = p
	}
	return nil
}

func (s *fileStore) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	for sc.Scan() {
		var rec journalRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		if rec.Run != nil {
			s.applyRun(*rec.Run, rec.Posts)
		}
		if len(rec.Retracted) > 0 {
			s.applyRetracted(rec.Retracted, rec.At)
		}
	}
	return sc.Err()
}
