package docsync

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotConfigured means no repository URL has been set.
	ErrNotConfigured = errors.New("git backup is not configured: repository URL is empty")

	// ErrDisabled means the feature flag is off.
	ErrDisabled = errors.New("git backup is disabled")

	// ErrNoHeader means a file does not start with a metadata header.
	ErrNoHeader = errors.New("no metadata header")

	// ErrJobNotFound is returned when a job id is unknown.
	ErrJobNotFound = errors.New("job not found")
)

// CommandError is returned when an external command exits unsuccessfully or
// cannot be started. ExitCode is -1 when the process never ran.
type CommandError struct {
	Command  string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Command, strings.Join(e.Args, " "))
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		fmt.Fprintf(&b, ": %s", stderr)
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// StderrContains reports whether the captured stderr contains any of the
// given substrings, case-insensitively.
func (e *CommandError) StderrContains(substrings ...string) bool {
	lower := strings.ToLower(e.Stderr)
	for _, s := range substrings {
		if strings.Contains(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// exitedNonZero reports whether err is a CommandError from a process that ran
// and returned a non-zero status. Existence probes use it to tell "no" apart
// from "could not ask".
func exitedNonZero(err error) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr) && cmdErr.ExitCode > 0
}

// SSHKeyError reports an unusable SSH private key.
type SSHKeyError struct {
	Path   string
	Reason string
	Err    error
}

func (e *SSHKeyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ssh key %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("ssh key %s: %s", e.Path, e.Reason)
}

func (e *SSHKeyError) Unwrap() error {
	return e.Err
}

// MalformedHeaderError reports a metadata header that could not be parsed.
type MalformedHeaderError struct {
	Line   int
	Reason string
}

func (e *MalformedHeaderError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed metadata header (line %d): %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("malformed metadata header: %s", e.Reason)
}
