// Package command runs external build and push tools as scoped subprocess
// invocations. Arguments are always passed as a parameterized list, never
// through a shell, and a non-zero exit is data rather than an error.
package command

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
)

// Command describes one tool invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env entries are appended to the ambient environment.
	Env   []string
	Stdin string
}

// Outcome captures the full result of a finished or failed invocation.
// Succeeded is false both when the tool exited non-zero and when it could not
// be started at all; Err is set only in the latter case so callers can tell
// "the build failed" apart from "docker is not installed".
type Outcome struct {
	Succeeded bool
	Stdout    string
	Stderr    string
	Err       error
}

// Runner is the process-launch seam; packages driving external tools accept
// one so tests can substitute a fake.
type Runner func(ctx context.Context, cmd Command) Outcome

// Run executes cmd, blocking until it finishes or ctx is cancelled. Output is
// captured in full; these tools are run for their side effects and their
// output only matters for post-hoc diagnostics.
func Run(ctx context.Context, cmd Command) Outcome {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	outcome := Outcome{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}

	switch err.(type) {
	case nil:
		outcome.Succeeded = true
	case *exec.ExitError:
		// the tool ran and reported failure; stderr carries the diagnostic
	default:
		outcome.Err = err
		if outcome.Stderr == "" {
			outcome.Stderr = err.Error()
		}
	}

	return outcome
}
