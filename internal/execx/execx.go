// Package execx runs external commands with logging and optional
// privilege escalation through sudo.
//
// The privileged parts of the image pipeline (kpartx, mount, umount and
// the internal-build re-exec) go through this package so that every
// invocation is logged the same way and sudo wrapping preserves the
// working directory and environment of the original command.
package execx

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
)

// Cmd describes a single external command invocation.
type Cmd struct {
	// Name is the program to run.
	Name string
	// Args are the program arguments, not including the program name.
	Args []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Env holds extra KEY=VALUE pairs appended to the inherited environment.
	Env []string
	// Sudo wraps the invocation in sudo. Dir and Env are set on the sudo
	// process itself, so both survive the escalation.
	Sudo bool
}

// String renders the command for logging.
func (c *Cmd) String() string {
	parts := make([]string, 0, len(c.Args)+2)
	if c.Sudo {
		parts = append(parts, "sudo")
	}
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		if strings.ContainsAny(a, " \t'\"") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

func (c *Cmd) build(ctx context.Context) *exec.Cmd {
	name, args := c.Name, c.Args
	if c.Sudo {
		args = append([]string{name}, args...)
		name = "sudo"
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	return cmd
}

// Runner executes external commands. The concrete implementation shells
// out; tests substitute a recording fake.
type Runner interface {
	// Run executes the command, streaming stdout and stderr to the
	// calling process, and fails on a non-zero exit status.
	Run(ctx context.Context, c *Cmd) error

	// Output executes the command and returns its captured stdout.
	// Stderr streams to the calling process.
	Output(ctx context.Context, c *Cmd) ([]byte, error)
}

type runner struct{}

// New returns a Runner backed by os/exec.
func New() Runner {
	return runner{}
}

func (runner) Run(ctx context.Context, c *Cmd) error {
	log.Printf("running: %s", c)
	cmd := c.build(ctx)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return checkStatus(c, cmd.Run())
}

func (runner) Output(ctx context.Context, c *Cmd) ([]byte, error) {
	log.Printf("running: %s", c)
	cmd := c.build(ctx)
	cmd.Stderr = os.Stderr
	out, err := cmd.Output()
	return out, checkStatus(c, err)
}

func checkStatus(c *Cmd, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%s exited with %s", c.Name, exitErr.ProcessState)
	}
	return fmt.Errorf("%s: %w", c.Name, err)
}
