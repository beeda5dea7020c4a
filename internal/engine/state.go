package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// engineState is persisted per session so a later run of the program
// can re-attach to an engine it did not spawn.
type engineState struct {
	Profile    string `json:"profile"`
	SocksPort  int    `json:"socks_port"`
	HTTPPort   int    `json:"http_port"`
	Pid        int    `json:"pid"`
	ConfigPath string `json:"config_path"`
}

const engineStatePrefix = "engine-"

func (m *Manager) statePath(profile string) (string, error) {
	dir, err := m.stateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, engineStatePrefix+profile+".state"), nil
}

func (m *Manager) saveState(s *Session) error {
	path, err := m.statePath(s.Profile)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(engineState{
		Profile:    s.Profile,
		SocksPort:  s.SocksPort,
		HTTPPort:   s.HTTPPort,
		Pid:        s.Pid(),
		ConfigPath: s.ConfigPath,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (m *Manager) removeState(profile string) {
	if path, err := m.statePath(profile); err == nil {
		os.Remove(path)
	}
}

// Recover re-attaches sessions persisted by a previous run. Engines
// whose process is still alive are adopted; everything else is cleaned
// up. Called once at startup before any Start or Stop.
func (m *Manager) Recover() {
	dir, err := m.stateDir()
	if err != nil {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, engineStatePrefix) || !strings.HasSuffix(name, ".state") {
			continue
		}
		path := filepath.Join(dir, name)

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var state engineState
		if err := json.Unmarshal(data, &state); err != nil {
			os.Remove(path)
			continue
		}

		handle := m.adopt(state.Pid)
		if state.Pid <= 0 || !handle.IsAlive() {
			m.log.Warn().Str("profile", state.Profile).Int("pid", state.Pid).Msg("cleaning up dead engine state")
			if state.ConfigPath != "" {
				os.Remove(state.ConfigPath)
			}
			os.Remove(path)
			continue
		}

		session := &Session{
			Profile:    state.Profile,
			SocksPort:  state.SocksPort,
			HTTPPort:   state.HTTPPort,
			ConfigPath: state.ConfigPath,
			handle:     handle,
			started:    time.Now(),
		}

		m.mu.Lock()
		m.sessions[state.Profile] = session
		m.assigned[state.Profile] = state.SocksPort
		m.mu.Unlock()

		m.log.Info().
			Str("profile", state.Profile).
			Int("pid", state.Pid).
			Int("socks_port", state.SocksPort).
			Msg("re-attached running engine")
	}
}
