package engine

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"foxden/internal/proc"
	"foxden/internal/settings"
	"foxden/internal/storage/models"
	pkgerrors "foxden/pkg/errors"
)

type fakeHandle struct {
	pid        int
	alive      atomic.Bool
	stderr     string
	terminated atomic.Bool
}

func (h *fakeHandle) Pid() int       { return h.pid }
func (h *fakeHandle) IsAlive() bool  { return h.alive.Load() }
func (h *fakeHandle) Stderr() string { return h.stderr }
func (h *fakeHandle) Terminate(time.Duration) error {
	h.alive.Store(false)
	h.terminated.Store(true)
	return nil
}

type fakeLauncher struct {
	mu       sync.Mutex
	launches int
	handles  []*fakeHandle
	failWith error
	// dieImmediately makes spawned handles report dead right away
	dieImmediately bool
	stderr         string
}

func (l *fakeLauncher) Launch(name string, args ...string) (proc.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failWith != nil {
		return nil, l.failWith
	}
	l.launches++
	h := &fakeHandle{pid: 1000 + l.launches, stderr: l.stderr}
	h.alive.Store(!l.dieImmediately)
	l.handles = append(l.handles, h)
	return h, nil
}

func newTestManager(t *testing.T, launcher proc.Launcher) *Manager {
	t.Helper()
	cfg := settings.Default()
	cfg.EngineGrace = 10 * time.Millisecond

	m := NewManager(cfg, launcher)
	m.resolve = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	dir := t.TempDir()
	m.configDir = func() (string, error) { return dir, nil }
	stateDir := t.TempDir()
	m.stateDir = func() (string, error) { return stateDir, nil }
	return m
}

func shadowsocksDescriptor(name string) *models.Descriptor {
	d := models.NewDescriptor(models.KindShadowsocks)
	d.Name = name
	d.Host = "example.com"
	d.Port = 8388
	d.Shadowsocks = &models.ShadowsocksSettings{Method: "aes-256-gcm", Password: "secret"}
	return d
}

func TestStartAllocatesDistinctPorts(t *testing.T) {
	launcher := &fakeLauncher{}
	m := newTestManager(t, launcher)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ports := make(map[int]string)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			profile := fmt.Sprintf("profile-%d", i)
			s, err := m.Start(profile, shadowsocksDescriptor(profile))
			if err != nil {
				t.Errorf("Start(%s): %v", profile, err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if other, dup := ports[s.SocksPort]; dup {
				t.Errorf("port %d assigned to both %s and %s", s.SocksPort, other, profile)
			}
			ports[s.SocksPort] = profile
		}(i)
	}
	wg.Wait()

	for port := range ports {
		if port < 24000 {
			t.Errorf("port %d below base port", port)
		}
		if (port-24000)%2 != 0 {
			t.Errorf("port %d not aligned to the two-port stride", port)
		}
	}
}

func TestStartStickyPortReuse(t *testing.T) {
	launcher := &fakeLauncher{}
	m := newTestManager(t, launcher)

	s1, err := m.Start("alpha", shadowsocksDescriptor("alpha"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.Start("beta", shadowsocksDescriptor("beta")); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := m.Stop("alpha"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	s2, err := m.Start("alpha", shadowsocksDescriptor("alpha"))
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if s2.SocksPort != s1.SocksPort {
		t.Errorf("restart port = %d, want sticky %d", s2.SocksPort, s1.SocksPort)
	}
	if s2.HTTPPort != s2.SocksPort+1 {
		t.Errorf("HTTP port = %d, want SOCKS+1", s2.HTTPPort)
	}
}

func TestStartIdempotentForLiveSession(t *testing.T) {
	launcher := &fakeLauncher{}
	m := newTestManager(t, launcher)

	s1, err := m.Start("alpha", shadowsocksDescriptor("alpha"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	s2, err := m.Start("alpha", shadowsocksDescriptor("alpha"))
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if s1 != s2 {
		t.Error("second Start should return the existing session")
	}
	if launcher.launches != 1 {
		t.Errorf("launches = %d, want 1", launcher.launches)
	}
}

func TestStartReportsEarlyExitWithStderr(t *testing.T) {
	launcher := &fakeLauncher{dieImmediately: true, stderr: "config error: invalid outbound"}
	m := newTestManager(t, launcher)

	_, err := m.Start("alpha", shadowsocksDescriptor("alpha"))
	if !errors.Is(err, pkgerrors.ErrEngineStartFailed) {
		t.Fatalf("err = %v, want ErrEngineStartFailed", err)
	}

	var startErr *pkgerrors.StartError
	if !errors.As(err, &startErr) {
		t.Fatalf("err = %T, want *StartError", err)
	}
	if startErr.Stderr == "" {
		t.Error("StartError should carry the engine's stderr")
	}
}

func TestStopUnknownProfileIsNoop(t *testing.T) {
	m := newTestManager(t, &fakeLauncher{})
	if err := m.Stop("ghost"); err != nil {
		t.Fatalf("Stop on unknown profile: %v", err)
	}
}

func TestStopAllTerminatesEverything(t *testing.T) {
	launcher := &fakeLauncher{}
	m := newTestManager(t, launcher)

	for _, p := range []string{"a", "b", "c"} {
		if _, err := m.Start(p, shadowsocksDescriptor(p)); err != nil {
			t.Fatalf("Start(%s): %v", p, err)
		}
	}

	m.StopAll()

	if got := len(m.Sessions()); got != 0 {
		t.Errorf("sessions after StopAll = %d, want 0", got)
	}
	for _, h := range launcher.handles {
		if !h.terminated.Load() {
			t.Errorf("pid %d was not terminated", h.pid)
		}
	}
}

func TestRecoverAdoptsLiveEngines(t *testing.T) {
	launcher := &fakeLauncher{}
	m1 := newTestManager(t, launcher)

	started, err := m1.Start("alpha", shadowsocksDescriptor("alpha"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	livePid := started.Pid()

	// A fresh manager over the same state directory stands in for a
	// new process.
	m2 := NewManager(m1.cfg, &fakeLauncher{})
	m2.resolve = m1.resolve
	m2.configDir = m1.configDir
	m2.stateDir = m1.stateDir
	m2.adopt = func(pid int) proc.Handle {
		h := &fakeHandle{pid: pid}
		h.alive.Store(pid == livePid)
		return h
	}

	m2.Recover()

	session, ok := m2.Session("alpha")
	if !ok {
		t.Fatal("live engine was not re-attached")
	}
	if session.SocksPort != started.SocksPort || session.HTTPPort != started.HTTPPort {
		t.Errorf("recovered ports %d/%d, want %d/%d",
			session.SocksPort, session.HTTPPort, started.SocksPort, started.HTTPPort)
	}

	// The recovered port must be excluded from fresh allocation.
	other, err := m2.Start("beta", shadowsocksDescriptor("beta"))
	if err != nil {
		t.Fatalf("Start beta: %v", err)
	}
	if other.SocksPort == session.SocksPort {
		t.Errorf("beta reused alpha's recovered port %d", other.SocksPort)
	}
}

func TestRecoverCleansDeadEngineState(t *testing.T) {
	launcher := &fakeLauncher{}
	m1 := newTestManager(t, launcher)

	started, err := m1.Start("gone", shadowsocksDescriptor("gone"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	configPath := started.ConfigPath

	m2 := NewManager(m1.cfg, &fakeLauncher{})
	m2.resolve = m1.resolve
	m2.configDir = m1.configDir
	m2.stateDir = m1.stateDir
	m2.adopt = func(pid int) proc.Handle {
		h := &fakeHandle{pid: pid}
		return h
	}

	m2.Recover()

	if _, ok := m2.Session("gone"); ok {
		t.Error("dead engine must not be re-attached")
	}
	if _, err := os.Stat(configPath); !os.IsNotExist(err) {
		t.Error("dead engine's config file must be removed")
	}
	if path, _ := m2.statePath("gone"); path != "" {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("dead engine's state file must be removed")
		}
	}
}
