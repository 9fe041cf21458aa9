package app

import (
	"time"

	"docsync-go/internal/docsync"
)

// Operation identifies one CLI invocation. Its ID prefixes every log line
// and its name is recorded as the trigger of jobs it starts.
type Operation struct {
	ID        string
	Name      string
	StartedAt time.Time
}

// NewOperation creates an Operation stamped with the current time.
func NewOperation(name string, clock docsync.Clock) *Operation {
	now := clock.Now().UTC()
	return &Operation{
		ID:        now.Format("20060102T150405Z"),
		Name:      name,
		StartedAt: now,
	}
}

// TriggeredBy is the identity recorded on jobs started by this operation.
func (op *Operation) TriggeredBy() string {
	if op.Name == "" {
		return "cli"
	}
	return "cli:" + op.Name
}
