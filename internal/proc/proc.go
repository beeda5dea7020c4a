// Package proc wraps external process lifecycles behind an opaque handle.
// Each handle is exclusively owned by the session entry that spawned it.
package proc

import (
	"bytes"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Handle is an opaque reference to a spawned external process.
type Handle interface {
	// Pid returns the OS process id.
	Pid() int

	// IsAlive reports whether the process is still running.
	IsAlive() bool

	// Terminate asks the process to exit, escalating to SIGKILL after
	// the timeout. Safe to call on an already-dead process.
	Terminate(timeout time.Duration) error

	// Stderr returns everything the process has written to stderr.
	Stderr() string
}

// Launcher spawns processes. The exec-backed implementation is used in
// production; tests substitute fakes.
type Launcher interface {
	Launch(name string, args ...string) (Handle, error)
}

// ExecLauncher launches real OS processes detached from the parent's
// process group so they survive CLI exit.
type ExecLauncher struct {
	// Env entries appended to the inherited environment.
	Env []string
}

// Launch starts the binary and begins reaping it in the background.
func (l *ExecLauncher) Launch(name string, args ...string) (Handle, error) {
	cmd := exec.Command(name, args...)
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	h := &osHandle{cmd: cmd, done: make(chan struct{})}
	cmd.Stdout = &h.output
	cmd.Stderr = &h.output

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	atomic.StoreInt32(&h.running, 1)
	go func() {
		cmd.Wait()
		atomic.StoreInt32(&h.running, 0)
		close(h.done)
	}()

	return h, nil
}

// Adopt wraps a process spawned by a previous run of this program,
// identified by pid. The adopted handle has no captured stderr and
// cannot wait on the process, so Terminate polls instead.
func Adopt(pid int) Handle {
	return &adoptedHandle{pid: pid}
}

type adoptedHandle struct {
	pid int
}

func (h *adoptedHandle) Pid() int { return h.pid }

func (h *adoptedHandle) IsAlive() bool {
	if h.pid <= 0 {
		return false
	}
	p, err := os.FindProcess(h.pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

func (h *adoptedHandle) Terminate(timeout time.Duration) error {
	p, err := os.FindProcess(h.pid)
	if err != nil {
		return nil
	}
	if err := p.Signal(os.Interrupt); err != nil {
		return nil
	}

	// Not our child, so there is nothing to Wait on; poll liveness.
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.Signal(syscall.Signal(0)) != nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	p.Kill()
	return nil
}

func (h *adoptedHandle) Stderr() string { return "" }

type osHandle struct {
	cmd     *exec.Cmd
	running int32
	done    chan struct{}
	output  lockedBuffer
}

// lockedBuffer serializes the process's writes against Stderr() readers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (h *osHandle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *osHandle) IsAlive() bool {
	if atomic.LoadInt32(&h.running) == 0 {
		return false
	}
	// Signal 0 probes liveness without delivering anything.
	return h.cmd.Process.Signal(syscall.Signal(0)) == nil
}

func (h *osHandle) Terminate(timeout time.Duration) error {
	if h.cmd.Process == nil || atomic.LoadInt32(&h.running) == 0 {
		return nil
	}

	if err := h.cmd.Process.Signal(os.Interrupt); err != nil {
		// Interrupt undeliverable; fall back to SIGKILL.
		h.cmd.Process.Kill()
		return nil
	}

	select {
	case <-h.done:
	case <-time.After(timeout):
		h.cmd.Process.Kill()
	}
	return nil
}

func (h *osHandle) Stderr() string {
	return h.output.String()
}
