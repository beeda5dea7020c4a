// Package cmdrun abstracts the external OS configuration tools behind
// runner interfaces so the callers are testable with fakes.
package cmdrun

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	pkgerrors "foxden/pkg/errors"
)

// Runner executes a single external command.
type Runner interface {
	// Run executes the command, returning a CommandError on non-zero exit.
	Run(name string, args ...string) error

	// Output executes the command and returns its combined output.
	Output(name string, args ...string) (string, error)
}

// BatchRunner executes a batch of commands that require elevation.
// Elevation is requested once per batch, never per command.
type BatchRunner interface {
	RunBatch(commands [][]string) error
}

// ExecRunner runs commands directly.
type ExecRunner struct{}

func (ExecRunner) Run(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return &pkgerrors.CommandError{
			Command: name + " " + strings.Join(args, " "),
			Output:  strings.TrimSpace(string(out)),
			Err:     err,
		}
	}
	return nil
}

func (ExecRunner) Output(name string, args ...string) (string, error) {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return "", &pkgerrors.CommandError{
			Command: name + " " + strings.Join(args, " "),
			Output:  strings.TrimSpace(string(out)),
			Err:     err,
		}
	}
	return string(out), nil
}

// NewPrivilegedRunner returns a BatchRunner appropriate for the current
// privilege level: direct execution when already root, otherwise a runner
// that asks the OS for elevation once per batch.
func NewPrivilegedRunner() BatchRunner {
	if os.Geteuid() == 0 {
		return &directBatchRunner{run: ExecRunner{}}
	}
	return &elevatedBatchRunner{}
}

// directBatchRunner runs each command in order, stopping at the first failure.
type directBatchRunner struct {
	run Runner
}

func (r *directBatchRunner) RunBatch(commands [][]string) error {
	for _, cmd := range commands {
		if len(cmd) == 0 {
			continue
		}
		if err := r.run.Run(cmd[0], cmd[1:]...); err != nil {
			return err
		}
	}
	return nil
}

// elevatedBatchRunner joins the batch into one shell invocation executed
// with administrator privileges, so the user is prompted at most once.
type elevatedBatchRunner struct{}

func (r *elevatedBatchRunner) RunBatch(commands [][]string) error {
	if len(commands) == 0 {
		return nil
	}

	lines := make([]string, 0, len(commands))
	for _, cmd := range commands {
		if len(cmd) == 0 {
			continue
		}
		quoted := make([]string, len(cmd))
		for i, a := range cmd {
			quoted[i] = shellQuote(a)
		}
		lines = append(lines, strings.Join(quoted, " "))
	}
	script := strings.Join(lines, " && ")

	out, err := exec.Command("osascript", "-e",
		fmt.Sprintf("do shell script %q with administrator privileges", script)).CombinedOutput()
	if err != nil {
		text := strings.TrimSpace(string(out))
		if strings.Contains(text, "User canceled") || strings.Contains(text, "-128") {
			return pkgerrors.ErrElevationDeclined
		}
		return &pkgerrors.CommandError{
			Command: script,
			Output:  text,
			Err:     err,
		}
	}
	return nil
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$&|;<>()*?[]#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
