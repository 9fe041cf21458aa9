package docsync

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a BackupJob.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobType distinguishes explicit backups, scheduled backups and imports.
type JobType string

const (
	JobManual JobType = "manual"
	JobAuto   JobType = "auto"
	JobImport JobType = "import"
)

// ParseBackupType accepts "manual" and "auto". An empty string means manual.
func ParseBackupType(s string) (JobType, error) {
	switch JobType(s) {
	case "", JobManual:
		return JobManual, nil
	case JobAuto:
		return JobAuto, nil
	default:
		return "", fmt.Errorf("unknown backup type: %q", s)
	}
}

// NoChangesCommit is recorded as the commit hash when a backup found nothing to commit.
const NoChangesCommit = "no-changes"

// BackupJob records one export or import run.
type BackupJob struct {
	ID          string     `json:"id"`
	Status      JobStatus  `json:"status"`
	JobType     JobType    `json:"jobType"`
	TriggeredBy string     `json:"triggeredBy"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
	CommitHash  string     `json:"commitHash,omitempty"`
	Result      string     `json:"result,omitempty"`
	ExportPath  string     `json:"exportPath,omitempty"`
	SnapshotKey string     `json:"snapshotKey,omitempty"`
}
