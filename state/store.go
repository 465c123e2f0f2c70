package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pahedl-app/pahedl/errs"
	"github.com/pahedl-app/pahedl/filesystem"
	"github.com/pahedl-app/pahedl/log"
)

// documentVersion is the current schema version of the state file.
const documentVersion = 1

// document is the on-disk shape of the state file.
type document struct {
	Version int                        `json:"version"`
	Records map[string]*DownloadRecord `json:"records"`
}

// Store serializes all access to the download state document behind a single
// mutex. Every mutation is flushed with an atomic tmp-write-fsync-rename so
// the file stays parseable across crashes.
type Store struct {
	path string

	mu      sync.Mutex
	records map[string]*DownloadRecord
}

// Open loads the state document at path, starting fresh when the file is
// absent. A corrupt document is logged and replaced rather than blocking
// startup.
func Open(path string) (*Store, error) {
	s := &Store{
		path:    path,
		records: make(map[string]*DownloadRecord),
	}

	fs := filesystem.API()
	if err := fs.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, err
	}

	data, err := fs.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warnf("state file %s is corrupt, starting fresh: %v", path, err)
		return s, nil
	}
	if doc.Records != nil {
		s.records = doc.Records
	}
	return s, nil
}

// Add creates an InProgress record for a new episode job and returns its ID.
func (s *Store) Add(animeName, slug string, episode int, filePath, audio, resolution string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	record := &DownloadRecord{
		ID:         newID(slug, episode, ts),
		AnimeName:  animeName,
		Slug:       slug,
		Episode:    episode,
		Status:     StatusInProgress,
		FilePath:   filePath,
		StartedAt:  ts,
		UpdatedAt:  ts,
		AudioType:  optional(audio),
		Resolution: optional(resolution),
	}
	s.records[record.ID] = record
	return record.ID, s.save()
}

// Get returns a copy of the record, if present.
func (s *Store) Get(id string) (DownloadRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return DownloadRecord{}, false
	}
	return *record, true
}

// UpdateProgress records downloaded byte (or segment) counts for an
// in-flight job. A nil total leaves the known size untouched.
func (s *Store) UpdateProgress(id string, downloaded int64, total *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil
	}
	record.DownloadedBytes = downloaded
	if total != nil {
		record.FileSize = total
	}
	record.UpdatedAt = now()
	return s.save()
}

// SetSourceURL caches the resolved playlist URL on the record for resume.
func (s *Store) SetSourceURL(id, sourceURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil
	}
	record.SourceURL = sourceURL
	record.UpdatedAt = now()
	return s.save()
}

// Reopen returns a terminal record to InProgress for a resume run, clearing
// its terminal fields.
func (s *Store) Reopen(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return errs.New(errs.EpisodeNotFound, "no record %q", id)
	}
	record.Status = StatusInProgress
	record.CompletedAt = nil
	record.ErrorMessage = nil
	record.UpdatedAt = now()
	return s.save()
}

// MarkCompleted finalizes a record as Completed and settles its byte counter
// on the known file size.
func (s *Store) MarkCompleted(id string) error {
	return s.finalize(id, StatusCompleted, nil)
}

// MarkFailed finalizes a record as Failed with the terminal error message.
func (s *Store) MarkFailed(id, message string) error {
	return s.finalize(id, StatusFailed, &message)
}

// MarkCancelled finalizes a record as Cancelled.
func (s *Store) MarkCancelled(id string) error {
	return s.finalize(id, StatusCancelled, nil)
}

func (s *Store) finalize(id string, status Status, message *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil
	}

	ts := now()
	record.Status = status
	record.UpdatedAt = ts
	record.CompletedAt = &ts
	record.ErrorMessage = message
	if status == StatusCompleted && record.FileSize != nil {
		record.DownloadedBytes = *record.FileSize
	}
	return s.save()
}

// ListIncomplete returns records eligible for resume, ordered by start time
// and then by ID.
func (s *Store) ListIncomplete() []DownloadRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []DownloadRecord
	for _, record := range s.records {
		if record.Status == StatusInProgress || record.Status == StatusFailed {
			out = append(out, *record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt != out[j].StartedAt {
			return out[i].StartedAt < out[j].StartedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Remove deletes a record.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	return s.save()
}

// ClearCompleted drops every Completed record.
func (s *Store) ClearCompleted() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, record := range s.records {
		if record.Status == StatusCompleted {
			delete(s.records, id)
		}
	}
	return s.save()
}

// Validate checks a record's on-disk integrity without mutating it: the file
// must exist, completed files must match the recorded size exactly, and
// in-flight files must be at least as large as the progress counter claims.
func (s *Store) Validate(id string) (bool, error) {
	record, ok := s.Get(id)
	if !ok {
		return false, errs.New(errs.EpisodeNotFound, "no record %q", id)
	}

	info, err := filesystem.API().Stat(record.FilePath)
	if err != nil {
		return false, nil
	}

	if record.Status == StatusCompleted {
		if record.FileSize != nil && info.Size() != *record.FileSize {
			return false, nil
		}
		return true, nil
	}
	if record.FileSize != nil && info.Size() < record.DownloadedBytes {
		return false, nil
	}
	return true, nil
}

// save writes the document atomically: marshal, write a sibling .tmp, fsync,
// rename over the target. Callers hold the mutex.
func (s *Store) save() error {
	doc := document{Version: documentVersion, Records: s.records}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	fs := filesystem.API()
	tmp := s.path + ".tmp"

	f, err := fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return fs.Rename(tmp, s.path)
}
