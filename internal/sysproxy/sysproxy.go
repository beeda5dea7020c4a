// Package sysproxy captures, applies, and restores OS-level proxy
// settings. The desktop proxy configuration is always expressed as a
// full Snapshot, so restoring is replaying a previously captured one.
package sysproxy

import (
	"runtime"

	"github.com/rs/zerolog"

	"foxden/internal/cmdrun"
	"foxden/internal/logging"
)

// ProxyState is one proxy category (SOCKS or HTTP) on the system.
type ProxyState struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host,omitempty"`
	Port    int    `json:"port,omitempty"`
}

// AutoProxyState is the automatic proxy configuration (PAC URL).
type AutoProxyState struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url,omitempty"`
}

// Snapshot is the complete system proxy configuration at one point in
// time, captured from the primary network service.
type Snapshot struct {
	SOCKS      ProxyState     `json:"socks"`
	HTTP       ProxyState     `json:"http"`
	AutoConfig AutoProxyState `json:"auto_config"`
}

// IsClean reports whether the snapshot has no proxies configured.
func (s *Snapshot) IsClean() bool {
	return !s.SOCKS.Enabled && !s.HTTP.Enabled && !s.AutoConfig.Enabled
}

// backend translates snapshots to and from platform commands.
type backend interface {
	capture(r cmdrun.Runner) (*Snapshot, error)
	apply(r cmdrun.Runner, snap *Snapshot) error
}

// Manager reads and writes the desktop proxy configuration.
type Manager struct {
	backend backend
	runner  cmdrun.Runner
	log     zerolog.Logger
}

// NewManager returns a Manager for the current platform.
func NewManager(runner cmdrun.Runner) *Manager {
	var b backend
	switch runtime.GOOS {
	case "darwin":
		b = &macBackend{}
	default:
		b = &gnomeBackend{}
	}
	return &Manager{
		backend: b,
		runner:  runner,
		log:     logging.WithComponent("sysproxy"),
	}
}

// Capture reads the current system proxy configuration.
func (m *Manager) Capture() (*Snapshot, error) {
	return m.backend.capture(m.runner)
}

// ApplySOCKS points both the system SOCKS and HTTP proxies at local
// engine ports. HTTPS traffic follows the HTTP setting.
func (m *Manager) ApplySOCKS(host string, socksPort, httpPort int) error {
	snap := &Snapshot{
		SOCKS: ProxyState{Enabled: true, Host: host, Port: socksPort},
		HTTP:  ProxyState{Enabled: true, Host: host, Port: httpPort},
	}
	m.log.Debug().Int("socks_port", socksPort).Int("http_port", httpPort).Msg("applying system proxy")
	return m.backend.apply(m.runner, snap)
}

// ApplyHTTP points only the system HTTP proxy at the given endpoint,
// used for bare HTTP proxy descriptors.
func (m *Manager) ApplyHTTP(host string, port int) error {
	snap := &Snapshot{
		HTTP: ProxyState{Enabled: true, Host: host, Port: port},
	}
	m.log.Debug().Str("host", host).Int("port", port).Msg("applying HTTP proxy")
	return m.backend.apply(m.runner, snap)
}

// ApplyPAC configures automatic proxy discovery from the given URL.
func (m *Manager) ApplyPAC(url string) error {
	snap := &Snapshot{
		AutoConfig: AutoProxyState{Enabled: true, URL: url},
	}
	m.log.Debug().Str("url", url).Msg("applying PAC")
	return m.backend.apply(m.runner, snap)
}

// Apply writes an arbitrary desired proxy configuration.
func (m *Manager) Apply(snap *Snapshot) error {
	return m.backend.apply(m.runner, snap)
}

// Restore replays a previously captured snapshot.
func (m *Manager) Restore(snap *Snapshot) error {
	if snap == nil {
		return m.DisableAll()
	}
	m.log.Debug().Msg("restoring system proxy snapshot")
	return m.backend.apply(m.runner, snap)
}

// DisableAll turns off every proxy category.
func (m *Manager) DisableAll() error {
	return m.backend.apply(m.runner, &Snapshot{})
}
