// Package gitexec runs git (or any command) as a child process.
package gitexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"docsync-go/internal/docsync"
)

// waitDelay bounds how long Run waits for output pipes after the process
// is killed, in case a grandchild (ssh) still holds them open.
const waitDelay = 5 * time.Second

// ExecRunner implements docsync.CommandRunner with os/exec. Every command
// runs under Timeout and never prompts for credentials.
type ExecRunner struct {
	Timeout time.Duration
	logger  docsync.Logger
}

var _ docsync.CommandRunner = (*ExecRunner)(nil)

// NewExecRunner creates an ExecRunner. A zero timeout disables the limit.
func NewExecRunner(timeout time.Duration, logger docsync.Logger) *ExecRunner {
	if logger == nil {
		logger = docsync.NewNopLogger()
	}
	return &ExecRunner{Timeout: timeout, logger: logger}
}

func (r *ExecRunner) Run(ctx context.Context, cmd docsync.Command) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = Env(os.Environ(), cmd.SSHKeyPath)
	c.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	r.logger.Debug("ran command",
		"command", cmd.Name,
		"args", strings.Join(cmd.Args, " "),
		"dir", cmd.Dir,
		"duration", time.Since(start),
	)
	if err == nil {
		return stdout.String(), nil
	}

	cerr := &docsync.CommandError{
		Command:  cmd.Name,
		Args:     cmd.Args,
		ExitCode: -1,
		Stderr:   stderr.String(),
		Err:      err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cerr.ExitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		cerr.ExitCode = -1
		cerr.Err = fmt.Errorf("%w: %v", ctxErr, err)
	}
	return stdout.String(), cerr
}

// Env returns base plus the variables that keep git non-interactive. With a
// key path, GIT_SSH_COMMAND pins ssh to that key and skips host key prompts.
func Env(base []string, sshKeyPath string) []string {
	env := make([]string, 0, len(base)+2)
	for _, kv := range base {
		if strings.HasPrefix(kv, "GIT_SSH_COMMAND=") || strings.HasPrefix(kv, "GIT_TERMINAL_PROMPT=") {
			continue
		}
		env = append(env, kv)
	}
	env = append(env, "GIT_TERMINAL_PROMPT=0")
	if sshKeyPath != "" {
		env = append(env, "GIT_SSH_COMMAND="+SSHCommand(sshKeyPath))
	}
	return env
}

// SSHCommand is the ssh invocation git uses for a private key.
func SSHCommand(keyPath string) string {
	return "ssh -i " + shellQuote(keyPath) +
		" -o IdentitiesOnly=yes -o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null"
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
