// Package store implements the ECLIA Session Store (spec §4.1): an
// append-only transcript plus a single-writer meta snapshot per session,
// crash-safe via write-temp-then-rename.
package store

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/eclia/gateway/internal/apperror"
	"github.com/eclia/gateway/internal/artifact"
	"github.com/eclia/gateway/pkg/types"
)

const (
	metaFilename       = "meta.json"
	transcriptFilename = "transcript.ndjson"
)

// Store owns the on-disk layout under <root>/.eclia/sessions/<id>/.
type Store struct {
	root     string // <dataRoot>/.eclia/sessions
	dataRoot string // the gateway's data root, for locating sibling trees like artifacts
}

// New returns a Store rooted at <root>/.eclia/sessions.
func New(root string) *Store {
	return &Store{root: filepath.Join(root, ".eclia", "sessions"), dataRoot: root}
}

func (s *Store) sessionDir(id string) string {
	return filepath.Join(s.root, id)
}

func (s *Store) metaPath(id string) string {
	return filepath.Join(s.sessionDir(id), metaFilename)
}

func (s *Store) transcriptPath(id string) string {
	return filepath.Join(s.sessionDir(id), transcriptFilename)
}

func (s *Store) exists(id string) bool {
	_, err := os.Stat(s.sessionDir(id))
	return err == nil
}

// IsValidSessionID enforces the session id charset rule.
func (s *Store) IsValidSessionID(id string) bool {
	return types.IsValidSessionID(id)
}

// writeMetaAtomic marshals meta and writes it via temp-file + rename so a
// reader never observes a partial meta.json.
func writeMetaAtomic(path string, meta *types.Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readMeta(path string) (*types.Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta types.Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// EnsureSession creates the session directory and meta.json if absent; it is
// idempotent — calling it twice with the same id is equivalent to calling it
// once. seed, if non-nil, supplies the initial title/origin.
func (s *Store) EnsureSession(id string, now int64, seed *types.Meta) (*types.Meta, error) {
	if !types.IsValidSessionID(id) {
		return nil, apperror.New(apperror.KindInvalidRequest, "invalid session id %q", id)
	}
	if s.exists(id) {
		return readMeta(s.metaPath(id))
	}
	if err := os.MkdirAll(s.sessionDir(id), 0o755); err != nil {
		return nil, err
	}
	meta := &types.Meta{ID: id, CreatedAt: now, UpdatedAt: now}
	if seed != nil {
		meta.Title = seed.Title
		meta.Origin = seed.Origin
	}
	if err := writeMetaAtomic(s.metaPath(id), meta); err != nil {
		return nil, err
	}
	// transcript.ndjson is created lazily on first append.
	return meta, nil
}

// ReadTranscript returns the session's meta and its full record list. A
// trailing partial line (e.g. from a crash mid-append) is tolerated and
// silently dropped, not repaired.
func (s *Store) ReadTranscript(id string) (*types.Meta, []types.Record, error) {
	if !s.exists(id) {
		return nil, nil, apperror.ErrSessionNotFound
	}
	meta, err := readMeta(s.metaPath(id))
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(s.transcriptPath(id))
	if os.IsNotExist(err) {
		return meta, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var records []types.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		rec, err := types.UnmarshalRecord(line)
		if err != nil {
			// Tolerate a trailing partial/corrupt line: stop, don't repair.
			break
		}
		records = append(records, rec)
	}
	return meta, records, nil
}

// appendLine appends one NDJSON line under the session's file lock.
func (s *Store) appendLine(id string, line []byte) error {
	if !s.exists(id) {
		return apperror.ErrSessionNotFound
	}
	lock := newFilelock(s.transcriptPath(id))
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	f, err := os.OpenFile(s.transcriptPath(id), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// AppendTranscript appends one message record. Fails with ErrSessionNotFound
// if the session directory is missing.
func (s *Store) AppendTranscript(id string, rec *types.MessageRecord) error {
	rec.Kind = "message"
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.appendLine(id, data)
}

// AppendTurn appends a turn-close marker.
func (s *Store) AppendTurn(id string, rec *types.TurnRecord) error {
	rec.Kind = "turn"
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.appendLine(id, data)
}

// UpdateMeta performs a read-modify-write of meta.json with atomic rename.
func (s *Store) UpdateMeta(id string, patch func(*types.Meta)) error {
	if !s.exists(id) {
		return apperror.ErrSessionNotFound
	}
	meta, err := readMeta(s.metaPath(id))
	if err != nil {
		return err
	}
	patch(meta)
	return writeMetaAtomic(s.metaPath(id), meta)
}

// ResetSession truncates transcript.ndjson to empty, keeping meta.json.
func (s *Store) ResetSession(id string) error {
	if !s.exists(id) {
		return apperror.ErrSessionNotFound
	}
	lock := newFilelock(s.transcriptPath(id))
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()
	return os.WriteFile(s.transcriptPath(id), nil, 0o644)
}

// DeleteSession removes the session directory and its artifact subtree.
// locked reports whether the session lock is currently held by an in-flight
// request; callers must pass false only after confirming the session lock is
// free.
func (s *Store) DeleteSession(id string, locked bool) error {
	if locked {
		return apperror.New(apperror.KindSessionInUse, "session %q is in use", id)
	}
	if !s.exists(id) {
		return apperror.ErrSessionNotFound
	}
	if err := os.RemoveAll(s.sessionDir(id)); err != nil {
		return err
	}
	return os.RemoveAll(artifact.SessionDir(s.dataRoot, id))
}

// ListSessions enumerates meta.json across all session directories, sorted
// by UpdatedAt descending.
func (s *Store) ListSessions() ([]*types.Meta, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var metas []*types.Meta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := readMeta(s.metaPath(e.Name()))
		if err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].UpdatedAt > metas[j].UpdatedAt })
	return metas, nil
}
