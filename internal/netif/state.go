package netif

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// ifaceState is persisted per interface so a later process can re-adopt
// a running forwarder, or remove routes left behind by one that crashed.
type ifaceState struct {
	Profile string `json:"profile"`
	Device  string `json:"device"`
	Index   int    `json:"index"`
	Gateway string `json:"gateway"`
	Pid     int    `json:"pid"`
}

const statePrefix = "iface-"

func (m *Manager) statePath(profile string) (string, error) {
	dir, err := m.stateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, statePrefix+profile+".state"), nil
}

func (m *Manager) saveState(profile string, iface *Interface) error {
	path, err := m.statePath(profile)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(ifaceState{
		Profile: profile,
		Device:  iface.Device,
		Index:   iface.Subnet.Index,
		Gateway: iface.Subnet.Gateway,
		Pid:     iface.handle.Pid(),
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

// Recover scans interface state persisted by previous processes. A
// forwarder that is still running is re-adopted into the manager, with
// its index reserved so new interfaces cannot collide with it. A dead
// one gets its overlay routes removed; the device itself disappeared
// with the crashed forwarder, only routes can linger.
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
		if !strings.HasPrefix(name, statePrefix) || !strings.HasSuffix(name, ".state") {
			continue
		}
		path := filepath.Join(dir, name)

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var state ifaceState
		if err := json.Unmarshal(data, &state); err != nil {
			os.Remove(path)
			continue
		}

		handle := m.adopt(state.Pid)
		if state.Pid > 0 && handle.IsAlive() {
			m.pool.Reserve(state.Index)
			iface := &Interface{
				Profile: state.Profile,
				Device:  state.Device,
				Subnet:  DeriveSubnet(state.Index),
				handle:  handle,
				routed:  true,
			}
			m.mu.Lock()
			m.interfaces[state.Profile] = iface
			m.mu.Unlock()

			m.log.Info().
				Str("profile", state.Profile).
				Str("device", state.Device).
				Int("pid", state.Pid).
				Msg("re-attached running interface")
			continue
		}

		m.log.Warn().Str("profile", state.Profile).Str("device", state.Device).Msg("cleaning up stale interface state")

		subnet := DeriveSubnet(state.Index)
		if err := m.batch.RunBatch(routeRemoveCommands(state.Device, subnet)); err != nil {
			m.log.Debug().Err(err).Msg("stale route removal failed, routes were likely already gone")
		}
		os.Remove(path)
	}
}
