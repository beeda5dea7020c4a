package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"foxden/internal/logging"
	"foxden/internal/paths"
	"foxden/internal/proc"
	"foxden/internal/settings"
	"foxden/internal/storage/models"
	pkgerrors "foxden/pkg/errors"
)

// Session describes a running engine instance bound to one profile.
type Session struct {
	Profile    string
	SocksPort  int
	HTTPPort   int
	ConfigPath string
	handle     proc.Handle
	started    time.Time
}

// Pid returns the engine process id.
func (s *Session) Pid() int { return s.handle.Pid() }

// IsAlive reports whether the engine process is still running.
func (s *Session) IsAlive() bool { return s.handle.IsAlive() }

// Manager starts and stops per-profile engine processes and owns local
// port allocation. All methods are safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	// sticky per-profile port assignments, kept across restarts so a
	// profile lands on the same local port when possible.
	assigned map[string]int

	launcher proc.Launcher
	cfg      *settings.Settings
	log      zerolog.Logger

	resolve   func(string) (string, error)
	configDir func() (string, error)
	stateDir  func() (string, error)
	adopt     func(pid int) proc.Handle
}

// NewManager creates a Manager using the given launcher for process spawning.
func NewManager(cfg *settings.Settings, launcher proc.Launcher) *Manager {
	return &Manager{
		sessions:  make(map[string]*Session),
		assigned:  make(map[string]int),
		launcher:  launcher,
		cfg:       cfg,
		log:       logging.WithComponent("engine"),
		resolve:   ResolveBinary,
		configDir: paths.EngineConfigDir,
		stateDir:  paths.CacheDir,
		adopt:     proc.Adopt,
	}
}

// Start launches an engine process for the descriptor under the given
// profile key. If the profile already has a running session it is
// returned as-is. The returned session exposes the SOCKS port and the
// HTTP port (SOCKS+1) the engine listens on.
func (m *Manager) Start(profile string, d *models.Descriptor) (*Session, error) {
	m.mu.Lock()
	if existing, ok := m.sessions[profile]; ok {
		m.mu.Unlock()
		if existing.IsAlive() {
			return existing, nil
		}
		// stale session from a crashed engine, tear it down and retry
		if err := m.Stop(profile); err != nil {
			return nil, err
		}
		m.mu.Lock()
	}

	port := m.allocatePortLocked(profile)
	m.mu.Unlock()

	cfg, err := Compile(d, port)
	if err != nil {
		m.releasePort(profile)
		return nil, err
	}

	configPath, err := m.writeConfig(profile, cfg)
	if err != nil {
		m.releasePort(profile)
		return nil, err
	}

	binary, err := m.resolve(m.cfg.EngineBinary)
	if err != nil {
		m.releasePort(profile)
		os.Remove(configPath)
		return nil, err
	}

	handle, err := m.launcher.Launch(binary, "run", "-c", configPath)
	if err != nil {
		m.releasePort(profile)
		os.Remove(configPath)
		return nil, &pkgerrors.StartError{Binary: binary, Err: err}
	}

	// Give the engine a moment to parse its config; a bad config makes
	// it exit almost immediately.
	deadline := time.Now().Add(m.cfg.EngineGrace)
	for time.Now().Before(deadline) {
		if !handle.IsAlive() {
			stderr := handle.Stderr()
			os.Remove(configPath)
			m.releasePort(profile)
			return nil, &pkgerrors.StartError{
				Binary: binary,
				Stderr: stderr,
				Err:    pkgerrors.ErrEngineStartFailed,
			}
		}
		time.Sleep(50 * time.Millisecond)
	}

	session := &Session{
		Profile:    profile,
		SocksPort:  port,
		HTTPPort:   port + 1,
		ConfigPath: configPath,
		handle:     handle,
		started:    time.Now(),
	}

	m.mu.Lock()
	m.sessions[profile] = session
	m.mu.Unlock()

	if err := m.saveState(session); err != nil {
		m.log.Warn().Err(err).Str("profile", profile).Msg("could not persist engine state")
	}

	m.log.Info().
		Str("profile", profile).
		Int("pid", handle.Pid()).
		Int("socks_port", port).
		Msg("engine started")

	return session, nil
}

// Stop terminates the engine for the given profile and removes its
// config file. Stopping a profile with no session is a no-op.
func (m *Manager) Stop(profile string) error {
	m.mu.Lock()
	session, ok := m.sessions[profile]
	if ok {
		delete(m.sessions, profile)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	err := session.handle.Terminate(3 * time.Second)
	m.removeState(profile)
	if rmErr := os.Remove(session.ConfigPath); rmErr != nil && !os.IsNotExist(rmErr) {
		m.log.Warn().Err(rmErr).Str("profile", profile).Msg("failed to remove engine config")
	}
	if err != nil {
		return fmt.Errorf("stopping engine for %s: %w", profile, err)
	}

	m.log.Info().Str("profile", profile).Msg("engine stopped")
	return nil
}

// StopAll terminates every running engine session.
func (m *Manager) StopAll() {
	m.mu.Lock()
	profiles := make([]string, 0, len(m.sessions))
	for p := range m.sessions {
		profiles = append(profiles, p)
	}
	m.mu.Unlock()

	for _, p := range profiles {
		if err := m.Stop(p); err != nil {
			m.log.Warn().Err(err).Str("profile", p).Msg("engine stop failed")
		}
	}
}

// Session returns the live session for a profile, if any.
func (m *Manager) Session(profile string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[profile]
	return s, ok
}

// Sessions returns a snapshot of all live sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// allocatePortLocked returns the profile's sticky port if it has one,
// otherwise the lowest free port at or above BasePort. Ports advance in
// steps of two because each session also claims port+1 for HTTP.
// Caller must hold m.mu.
func (m *Manager) allocatePortLocked(profile string) int {
	if p, ok := m.assigned[profile]; ok {
		if !m.portTakenLocked(p, profile) {
			return p
		}
	}

	port := m.cfg.BasePort
	for m.portTakenLocked(port, profile) {
		port += 2
	}
	m.assigned[profile] = port
	return port
}

func (m *Manager) portTakenLocked(port int, exclude string) bool {
	for p, assigned := range m.assigned {
		if p != exclude && assigned == port {
			return true
		}
	}
	return false
}

// releasePort frees the profile's sticky assignment so another profile
// may claim it.
func (m *Manager) releasePort(profile string) {
	m.mu.Lock()
	delete(m.assigned, profile)
	m.mu.Unlock()
}

func (m *Manager) writeConfig(profile string, cfg *Config) (string, error) {
	dir, err := m.configDir()
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling engine config: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s.json", profile))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing engine config: %w", err)
	}
	return path, nil
}
