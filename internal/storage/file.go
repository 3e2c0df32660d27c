package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "tasker/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.state.snapshot.json (periodic snapshot)
//   - <prefix>.state.journal.jsonl (append-only journal)
//   - <prefix>.firings.jsonl       (append-only history, rewritten on compaction)
//
// Both the journal and the history are compacted from memory.
type fileStore struct {
	log     logx.Logger
	history int

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	state        map[string]string
	stateWrites  int

	firingsPath   string
	firings       *os.File
	recent        map[string][]FiringRecord // oldest first, at most history each
	firingAppends int
}

type stateRecord struct {
	Key   string `json:"k"`
	Value string `json:"v"`
}

const journalCompactEvery = 500

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
		history:      cfg.historySize(),
		snapshotPath: prefix + ".state.snapshot.json",
		state:        map[string]string{},
		firingsPath:  prefix + ".firings.jsonl",
		recent:       map[string][]FiringRecord{},
	}
	journalPath := prefix + ".state.journal.jsonl"

	if err := loadSnapshot(s.snapshotPath, s.state); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("state snapshot unreadable; starting from journal", logx.Err(err))
	}
	if err := replayJournal(journalPath, s.state); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("state journal unreadable", logx.Err(err))
	}
	if err := s.loadFirings(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("firing history unreadable", logx.Err(err))
	}

	var err error
	s.journal, err = os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.firings, err = os.OpenFile(s.firingsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = s.journal.Close()
		return nil, err
	}
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journal != nil {
		if err := s.compactStateLocked(); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, s.journal.Close())
		s.journal = nil
	}
	if s.firings != nil {
		errs = append(errs, s.firings.Close())
		s.firings = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) GetState(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state[key]
	return v, ok, nil
}

func (s *fileStore) PutState(ctx context.Context, key, value string) error {
	_ = ctx
	if strings.TrimSpace(key) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return errors.New("state journal closed")
	}
	if prev, ok := s.state[key]; ok && prev == value {
		return nil
	}
	s.state[key] = value

	if err := json.NewEncoder(s.journal).Encode(stateRecord{Key: key, Value: value}); err != nil {
		return err
	}
	s.stateWrites++
	if s.stateWrites%journalCompactEvery == 0 {
		if err := s.compactStateLocked(); err != nil {
			s.log.Debug("state compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) AppendFiring(ctx context.Context, r FiringRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firings == nil {
		return errors.New("firing history closed")
	}
	if err := json.NewEncoder(s.firings).Encode(r); err != nil {
		return err
	}
	s.remember(r)

	s.firingAppends++
	if s.firingAppends >= s.history*2 {
		if err := s.compactFiringsLocked(); err != nil {
			s.log.Debug("history compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentFirings(ctx context.Context, schedule string, limit int) ([]FiringRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.recent[schedule]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]FiringRecord, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

func (s *fileStore) remember(r FiringRecord) {
	list := append(s.recent[r.Schedule], r)
	if len(list) > s.history {
		list = append([]FiringRecord(nil), list[len(list)-s.history:]...)
	}
	s.recent[r.Schedule] = list
}

func (s *fileStore) loadFirings() error {
	f, err := os.Open(s.firingsPath)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r FiringRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Schedule == "" {
			continue
		}
		s.remember(r)
	}
	return sc.Err()
}

func (s *fileStore) compactStateLocked() error {
	if err := writeJSONAtomic(s.snapshotPath, s.state); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err := s.journal.Seek(0, 2)
	return err
}

// compactFiringsLocked rewrites the history file from memory.
func (s *fileStore) compactFiringsLocked() error {
	tmp := s.firingsPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, list := range s.recent {
		for _, r := range list {
			if err := enc.Encode(r); err != nil {
				_ = f.Close()
				return err
			}
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := s.firings.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.firingsPath); err != nil {
		return err
	}
	s.firings, err = os.OpenFile(s.firingsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	s.firingAppends = 0
	return nil
}

func writeJSONAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func loadSnapshot(path string, out map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]string
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(path string, out map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r stateRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Key == "" {
			continue
		}
		out[r.Key] = r.Value
	}
	return sc.Err()
}
