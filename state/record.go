// Package state persists per-episode download records so interrupted work
// survives process restarts.
package state

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of one download record.
type Status string

const (
	StatusInProgress Status = "inprogress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// DownloadRecord describes one episode's download. ID is the key of the
// on-disk map; records are mutated only by their owning job and by store
// maintenance commands.
type DownloadRecord struct {
	ID              string  `json:"id"`
	AnimeName       string  `json:"anime_name"`
	Slug            string  `json:"slug"`
	Episode         int     `json:"episode"`
	Status          Status  `json:"status"`
	FilePath        string  `json:"file_path"`
	DownloadedBytes int64   `json:"downloaded_bytes"`
	FileSize        *int64  `json:"file_size"`
	StartedAt       int64   `json:"started_at"`
	UpdatedAt       int64   `json:"updated_at"`
	CompletedAt     *int64  `json:"completed_at"`
	ErrorMessage    *string `json:"error_message"`
	AudioType       *string `json:"audio_type"`
	Resolution      *string `json:"resolution"`

	// SourceURL caches the resolved playlist URL so resume can skip
	// re-scraping while the link is still valid.
	SourceURL string `json:"source_url,omitempty"`
}

// newID derives a stable record identifier from the episode coordinates and
// the moment the job started.
func newID(slug string, episode int, startedAt int64) string {
	return fmt.Sprintf("%s-ep%d-%d", slug, episode, startedAt)
}

func now() int64 {
	return time.Now().Unix()
}

// optional converts an empty string to a nil pointer for nullable JSON fields.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
