package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// TaskState represents the lifecycle state of a transfer task
type TaskState string

const (
	StateQueued         TaskState = "queued"
	StateDownloading    TaskState = "downloading"
	StatePostProcessing TaskState = "post_processing"
	StateUploading      TaskState = "uploading"
	StateCompleted      TaskState = "completed"
	StateFailed         TaskState = "failed"
	StateCanceled       TaskState = "canceled"
)

// IsTerminal reports whether no further transitions are possible from s.
func (s TaskState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

// IsActive reports whether the task is bound to a transfer engine.
func (s TaskState) IsActive() bool {
	return s == StateDownloading || s == StatePostProcessing || s == StateUploading
}

// Priority controls admission ordering in the concurrency gate.
// High-priority tasks (sudo/admin submissions) are dequeued ahead of
// normal-priority tasks regardless of enqueue time.
type Priority int

const (
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

// SourceTag identifies which download engine services a source
type SourceTag string

const (
	SourceDirect   SourceTag = "direct"   // plain HTTP/FTP link
	SourceMagnet   SourceTag = "magnet"   // torrent / magnet URI
	SourceVideo    SourceTag = "video"    // video-site URL handled by an extractor
	SourceChatFile SourceTag = "chatfile" // file forwarded from the chat platform
)

// DestTag identifies which upload engine services a destination
type DestTag string

const (
	DestS3     DestTag = "s3"     // S3-compatible remote storage
	DestGDrive DestTag = "gdrive" // cloud drive folder
	DestChat   DestTag = "chat"   // delivery back into the chat
)

// Source is the tagged locator of what to download
type Source struct {
	Tag     SourceTag `json:"tag"`
	Locator string    `json:"locator"`
}

// Destination is the tagged target of one upload leg
type Destination struct {
	Tag    DestTag `json:"tag"`
	Target string  `json:"target"` // bucket/prefix, folder ID, chat ID...
}

// Structural submission errors. These surface immediately at submit time
// and never enter the queue.
var (
	ErrInvalidSource     = errors.New("source cannot be classified")
	ErrNoDestinations    = errors.New("at least one destination is required")
	ErrEngineUnavailable = errors.New("no engine registered for tag")
	ErrNotFound          = errors.New("task not found")
	ErrAlreadyTerminal   = errors.New("task already in a terminal state")
	ErrNotTerminal       = errors.New("task is not in a terminal state")
	ErrNotRetryable      = errors.New("task is not retryable")
)

// videoHosts are the sites routed to the extractor engine rather than the
// plain HTTP downloader.
var videoHosts = []string{
	"youtube.com",
	"youtu.be",
	"vimeo.com",
	"dailymotion.com",
	"twitch.tv",
}

// ClassifySource maps a raw locator onto a source tag. Returns
// ErrInvalidSource when the locator matches no known scheme.
func ClassifySource(raw string) (Source, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Source{}, ErrInvalidSource
	}

	if strings.HasPrefix(raw, "magnet:") {
		return Source{Tag: SourceMagnet, Locator: raw}, nil
	}
	if strings.HasPrefix(raw, "tg-file:") {
		return Source{Tag: SourceChatFile, Locator: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return Source{}, ErrInvalidSource
	}

	switch u.Scheme {
	case "http", "https":
		host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
		for _, vh := range videoHosts {
			if host == vh || strings.HasSuffix(host, "."+vh) {
				return Source{Tag: SourceVideo, Locator: raw}, nil
			}
		}
		return Source{Tag: SourceDirect, Locator: raw}, nil
	case "ftp":
		return Source{Tag: SourceDirect, Locator: raw}, nil
	}

	return Source{}, ErrInvalidSource
}

// ErrorKind classifies terminal task failures
type ErrorKind string

const (
	KindInvalidSource        ErrorKind = "invalid_source"
	KindNoDestinations       ErrorKind = "no_destinations"
	KindEngineUnavailable    ErrorKind = "engine_unavailable"
	KindTransferError        ErrorKind = "transfer_error"
	KindQuotaExceeded        ErrorKind = "quota_exceeded"
	KindCancelTimeout        ErrorKind = "cancel_timeout"
	KindInterruptedByRestart ErrorKind = "interrupted_by_restart"
)

// TaskError is the failure detail carried by a task in the failed state
type TaskError struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Progress is the advisory transfer progress recomputed from the latest
// engine event. TotalBytes is nil when the source does not report a size.
type Progress struct {
	TransferredBytes int64   `json:"transferred_bytes"`
	TotalBytes       *int64  `json:"total_bytes,omitempty"`
	SpeedBps         float64 `json:"speed_bps"`
	ETA              string  `json:"eta,omitempty"`
}

// SubmitRequest is the submission payload for a new transfer pipeline
type SubmitRequest struct {
	Source       string        `json:"source" binding:"required"`
	Destinations []Destination `json:"destinations" binding:"required"`
	OwnerID      string        `json:"owner_id" binding:"required"`
	Priority     Priority      `json:"priority"`
	PostProcess  bool          `json:"post_process"`
	MaxRetries   int           `json:"max_retries"`
}

// TaskSnapshot is a point-in-time copy of a task record, safe to hand to
// readers while the scheduler keeps mutating the authoritative record.
type TaskSnapshot struct {
	ID            string        `json:"id"`
	OwnerID       string        `json:"owner_id"`
	Source        Source        `json:"source"`
	Destinations  []Destination `json:"destinations"`
	State         TaskState     `json:"state"`
	CurrentDest   int           `json:"current_dest"`
	PostProcess   bool          `json:"post_process,omitempty"`
	Priority      Priority      `json:"task_priority,omitempty"`
	PayloadPath   string        `json:"payload_path,omitempty"`
	Progress      Progress      `json:"progress"`
	RetryCount    int           `json:"retry_count"`
	MaxRetries    int           `json:"max_retries"`
	QueuePosition int           `json:"queue_position,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
	Error         *TaskError    `json:"error,omitempty"`
}
