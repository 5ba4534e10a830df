// Package shell runs external commands (npm, git, docker, python) and turns
// failures into errors that carry the command line and its output.
package shell

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Command describes one process invocation.
type Command struct {
	Dir  string
	Env  []string // extra KEY=VALUE pairs appended to the parent environment
	Name string
	Args []string
}

// New builds a Command from a name and arguments.
func New(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// In returns a copy of c that runs in dir.
func (c Command) In(dir string) Command {
	c.Dir = dir
	return c
}

// With returns a copy of c with extra environment variables.
func (c Command) With(env ...string) Command {
	c.Env = append(append([]string(nil), c.Env...), env...)
	return c
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner executes commands. Managers take a Runner so tests can swap in fakes.
type Runner interface {
	Run(ctx context.Context, c Command) (string, error)
}

// Error is returned when a command exits unsuccessfully.
type Error struct {
	Command string
	Output  string
	Err     error
}

func (e *Error) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Command, e.Output, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Exec runs commands on the host.
type Exec struct{}

// Run executes c and returns its combined output with trailing whitespace
// removed. Leading whitespace is kept since some formats are column based.
func (Exec) Run(ctx context.Context, c Command) (string, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	out, err := cmd.CombinedOutput()
	trimmed := strings.TrimRight(string(out), " \t\r\n")
	if err != nil {
		return trimmed, &Error{Command: c.String(), Output: strings.TrimSpace(trimmed), Err: err}
	}
	return trimmed, nil
}

// Run executes c with the host runner.
func Run(ctx context.Context, c Command) (string, error) {
	return Exec{}.Run(ctx, c)
}

// Tail returns at most the last n lines of s.
func Tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
