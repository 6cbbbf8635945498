// Package core provides the domain models and interfaces shared by the
// pipeline packages.
package core

import (
	"encoding/json"
	"time"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	StatusWaiting   JobStatus = "waiting"
	StatusActive    JobStatus = "active"
	StatusDelayed   JobStatus = "delayed" // Scheduled for a backoff retry
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusStalled   JobStatus = "stalled" // Worker died mid-execution
)

// Terminal reports whether the status is a final one.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Priority is the job priority class. High-priority jobs are served before
// normal ones; within a class, dispatch is first-in-first-out.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Rank maps the priority class onto a sortable integer (higher runs first).
func (p Priority) Rank() int {
	if p == PriorityHigh {
		return 1
	}
	return 0
}

// Query is the caller's raw natural-language text plus an arbitrary context
// map. The context only affects the fingerprint; the pipeline never
// interprets it.
type Query struct {
	Text    string            `json:"text"`
	Context map[string]string `json:"context,omitempty"`
}

// Job represents a unit of queued generation work.
type Job struct {
	ID           string `gorm:"primaryKey;size:64"`
	QueryText    string `gorm:"type:text;not null"`
	QueryContext []byte `gorm:"type:bytes"` // JSON-encoded context map
	Fingerprint  string `gorm:"index;size:64;not null"`
	CallbackURL  string `gorm:"size:2048"`

	Priority Priority `gorm:"size:10;default:'normal'"`
	Rank     int      `gorm:"index;default:0"` // Derived from Priority, used for dequeue ordering

	Status   JobStatus `gorm:"index;size:20;default:'waiting'"`
	Progress int       `gorm:"default:0"` // 0..100, coarse milestones

	Attempt     int    `gorm:"default:0"`
	MaxAttempts int    `gorm:"default:3"`
	LastError   string `gorm:"type:text"`
	Result      []byte `gorm:"type:bytes"` // JSON-encoded Result, set on completion

	RunAt       *time.Time `gorm:"index"` // Earliest dispatch time for delayed retries
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`

	LockedBy        string     `gorm:"size:255"`
	LockedUntil     *time.Time `gorm:"index"`
	LastHeartbeatAt *time.Time
}

// Query reconstructs the originating query from the stored columns.
func (j *Job) Query() Query {
	q := Query{Text: j.QueryText}
	if len(j.QueryContext) > 0 {
		_ = json.Unmarshal(j.QueryContext, &q.Context)
	}
	return q
}

// DecodeResult unmarshals the stored result payload, if any.
func (j *Job) DecodeResult() (*Result, error) {
	if len(j.Result) == 0 {
		return nil, nil
	}
	var res Result
	if err := json.Unmarshal(j.Result, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// KVEntry is a row in the shared key-value table backing the result cache
// and the in-flight tracker. Keys are prefixed per namespace so the two
// never collide; queue state lives in the jobs table.
type KVEntry struct {
	K         string    `gorm:"primaryKey;size:512;column:k"`
	V         []byte    `gorm:"type:bytes;column:v"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName keeps the table name stable regardless of GORM pluralization.
func (KVEntry) TableName() string { return "kv_entries" }
