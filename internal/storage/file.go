package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	logx "eventsched/pkg/logx"
)

const (
	journalOpSave      = "save"
	journalOpRemoveAll = "remove_all"

	compactEvery = 256
)

// fileStore keeps group records in memory and mirrors every change to disk.
//
// Files:
//   - <prefix>.events.snapshot.json (group -> events, rewritten on compaction)
//   - <prefix>.events.journal.jsonl (append-only, one line per Save/RemoveAll)
//
// On open the snapshot is loaded and the journal replayed on top of it.
type fileStore struct {
	log logx.Logger
	fs  afero.Fs

	mu sync.Mutex

	snapshotPath string
	journal      afero.File
	groups       map[string][]fileEvent

	writes int
}

type journalRecord struct {
	Op     string      `json:"op"`
	Group  string      `json:"group"`
	Events []fileEvent `json:"events,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".events.snapshot.json"
	journalPath := prefix + ".events.journal.jsonl"

	groups := map[string][]fileEvent{}
	if err := loadSnapshot(fs, snapPath, groups); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayJournal(fs, journalPath, groups, log); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := fs.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	log.Debug("file store opened", logx.String("snapshot", snapPath), logx.Int("groups", len(groups)))
	return &fileStore{
		log:          log,
		fs:           fs,
		snapshotPath: snapPath,
		journal:      jf,
		groups:       groups,
	}, nil
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

func (s *fileStore) Load(ctx context.Context, group string) ([]Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	return decodeRecords(s.groups[group])
}

func (s *fileStore) Save(ctx context.Context, group string, records []Record) error {
	_ = ctx
	events := encodeRecords(persistentOnly(records))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: journalOpSave, Group: group, Events: events}); err != nil {
		return err
	}
	if len(events) == 0 {
		delete(s.groups, group)
	} else {
		s.groups[group] = events
	}
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) RemoveAll(ctx context.Context, group string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: journalOpRemoveAll, Group: group}); err != nil {
		return err
	}
	delete(s.groups, group)
	s.maybeCompactLocked()
	return nil
}

// Compact folds the journal into the snapshot.
func (s *fileStore) Compact(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	return s.compactLocked()
}

func (s *fileStore) appendLocked(rec journalRecord) error {
	if s.journal == nil {
		return ErrClosed
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := s.journal.Write(b); err != nil {
		return err
	}
	if err := s.journal.Sync(); err != nil {
		return err
	}
	s.writes++
	return nil
}

func (s *fileStore) maybeCompactLocked() {
	if s.writes%compactEvery != 0 {
		return
	}
	// Best-effort; the journal still holds everything.
	if err := s.compactLocked(); err != nil {
		s.log.Debug("journal compact failed", logx.Err(err))
	}
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.groups); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := s.fs.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(fs afero.Fs, path string, out map[string][]fileEvent) error {
	f, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string][]fileEvent
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(fs afero.Fs, path string, out map[string][]fileEvent, log logx.Logger) error {
	f, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// A torn last line after a crash is expected; anything else is logged.
			log.Warn("skipping unreadable journal line", logx.Int("line", line), logx.Err(err))
			continue
		}
		switch r.Op {
		case journalOpSave:
			if len(r.Events) == 0 {
				delete(out, r.Group)
			} else {
				out[r.Group] = r.Events
			}
		case journalOpRemoveAll:
			delete(out, r.Group)
		}
	}
	return sc.Err()
}
