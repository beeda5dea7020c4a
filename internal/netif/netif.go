// Package netif creates and tears down per-profile virtual network
// interfaces. Each interface is backed by an external forwarder process
// that turns TUN frames into SOCKS5 connections against a local engine
// port.
package netif

import (
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"foxden/internal/cmdrun"
	"foxden/internal/logging"
	"foxden/internal/paths"
	"foxden/internal/proc"
	"foxden/internal/settings"
	pkgerrors "foxden/pkg/errors"
)

// Interface is a live virtual interface bound to one profile.
type Interface struct {
	Profile string
	Device  string
	Subnet  Subnet

	handle proc.Handle
	routed bool
}

// Manager owns the interface index pool and the forwarder processes.
type Manager struct {
	mu         sync.Mutex
	interfaces map[string]*Interface

	pool     *IndexPool
	launcher proc.Launcher
	batch    cmdrun.BatchRunner
	cfg      *settings.Settings
	log      zerolog.Logger

	resolve   func(string) (string, error)
	waitReady func(device string, timeout time.Duration) error
	stateDir  func() (string, error)
	adopt     func(pid int) proc.Handle
}

// NewManager builds a Manager. The batch runner executes the privileged
// address and route commands.
func NewManager(cfg *settings.Settings, launcher proc.Launcher, batch cmdrun.BatchRunner, resolve func(string) (string, error)) *Manager {
	return &Manager{
		interfaces: make(map[string]*Interface),
		pool:       NewIndexPool(cfg.InterfaceIndexOffset),
		launcher:   launcher,
		batch:      batch,
		cfg:        cfg,
		log:        logging.WithComponent("netif"),
		resolve:    resolve,
		waitReady:  waitForDevice,
		stateDir:   paths.CacheDir,
		adopt:      proc.Adopt,
	}
}

// deviceName returns the platform device name for an index.
func deviceName(idx int) string {
	if runtime.GOOS == "darwin" {
		return fmt.Sprintf("utun%d", idx)
	}
	return fmt.Sprintf("tun%d", idx)
}

// Create brings up a virtual interface for the profile, forwarding its
// traffic into the SOCKS endpoint (host:port). The sequence is
// all-or-nothing: any failure rolls back everything done so far and
// returns the index to the pool.
func (m *Manager) Create(profile, socksAddr string) (*Interface, error) {
	m.mu.Lock()
	if existing, ok := m.interfaces[profile]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	binary, err := m.resolve(m.cfg.ForwarderBinary)
	if err != nil {
		return nil, pkgerrors.ErrInterfaceToolNotInstalled
	}

	idx := m.pool.Acquire()
	subnet := DeriveSubnet(idx)
	device := deviceName(idx)

	handle, err := m.launcher.Launch(binary,
		"-device", "tun://"+device,
		"-proxy", "socks5://"+socksAddr,
		"-loglevel", "warning",
	)
	if err != nil {
		m.pool.Release(idx)
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInterfaceStartFailed, err)
	}

	if err := m.waitReady(device, m.cfg.InterfaceReadyTimeout); err != nil {
		stderr := handle.Stderr()
		handle.Terminate(2 * time.Second)
		m.pool.Release(idx)
		if stderr != "" {
			return nil, fmt.Errorf("%w: %s", pkgerrors.ErrInterfaceStartFailed, stderr)
		}
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInterfaceStartFailed, err)
	}

	if err := m.batch.RunBatch(configureCommands(device, subnet)); err != nil {
		handle.Terminate(2 * time.Second)
		m.pool.Release(idx)
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInterfaceConfigFailed, err)
	}

	if err := m.batch.RunBatch(routeCommands(device, subnet)); err != nil {
		// Address config needs no explicit rollback, it disappears with
		// the device.
		handle.Terminate(2 * time.Second)
		m.pool.Release(idx)
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInterfaceConfigFailed, err)
	}

	iface := &Interface{
		Profile: profile,
		Device:  device,
		Subnet:  subnet,
		handle:  handle,
		routed:  true,
	}

	m.mu.Lock()
	m.interfaces[profile] = iface
	m.mu.Unlock()

	if err := m.saveState(profile, iface); err != nil {
		m.log.Warn().Err(err).Str("profile", profile).Msg("could not persist interface state")
	}

	m.log.Info().
		Str("profile", profile).
		Str("device", device).
		Str("subnet", subnet.CIDR).
		Msg("virtual interface up")

	return iface, nil
}

// Stop tears down the profile's interface. Teardown is fail-soft: every
// step runs and the first error is reported at the end.
func (m *Manager) Stop(profile string) error {
	m.mu.Lock()
	iface, ok := m.interfaces[profile]
	if ok {
		delete(m.interfaces, profile)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	var firstErr error
	if iface.routed {
		if err := m.batch.RunBatch(routeRemoveCommands(iface.Device, iface.Subnet)); err != nil {
			firstErr = err
			m.log.Warn().Err(err).Str("device", iface.Device).Msg("route removal failed")
		}
	}

	if err := iface.handle.Terminate(3 * time.Second); err != nil && firstErr == nil {
		firstErr = err
	}

	m.pool.Release(iface.Subnet.Index)
	m.removeState(profile)

	m.log.Info().Str("profile", profile).Str("device", iface.Device).Msg("virtual interface down")
	return firstErr
}

// StopAll tears down every managed interface.
func (m *Manager) StopAll() {
	m.mu.Lock()
	profiles := make([]string, 0, len(m.interfaces))
	for p := range m.interfaces {
		profiles = append(profiles, p)
	}
	m.mu.Unlock()

	for _, p := range profiles {
		if err := m.Stop(p); err != nil {
			m.log.Warn().Err(err).Str("profile", p).Msg("interface stop failed")
		}
	}
}

// Get returns the live interface for a profile, if any.
func (m *Manager) Get(profile string) (*Interface, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iface, ok := m.interfaces[profile]
	return iface, ok
}

// waitForDevice polls until the kernel reports the device or the
// timeout passes. The forwarder creates the device asynchronously after
// it starts.
func waitForDevice(device string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := net.InterfaceByName(device); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("device %s did not appear within %s", device, timeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// configureCommands assigns the subnet address to the device.
func configureCommands(device string, s Subnet) [][]string {
	if runtime.GOOS == "darwin" {
		// Point-to-point: local address, peer gateway.
		return [][]string{
			{"ifconfig", device, s.Address, s.Gateway, "up"},
		}
	}
	return [][]string{
		{"ip", "addr", "add", s.Address + "/24", "dev", device},
		{"ip", "link", "set", device, "up"},
	}
}

// routeCommands captures all traffic with two /1 routes via the
// interface gateway. More specific than the default route, so the
// original default stays in place and cleanup cannot strand the host.
func routeCommands(device string, s Subnet) [][]string {
	if runtime.GOOS == "darwin" {
		return [][]string{
			{"route", "add", "-net", "0.0.0.0/1", s.Gateway},
			{"route", "add", "-net", "128.0.0.0/1", s.Gateway},
		}
	}
	return [][]string{
		{"ip", "route", "add", "0.0.0.0/1", "via", s.Gateway, "dev", device},
		{"ip", "route", "add", "128.0.0.0/1", "via", s.Gateway, "dev", device},
	}
}

func routeRemoveCommands(device string, s Subnet) [][]string {
	if runtime.GOOS == "darwin" {
		return [][]string{
			{"route", "delete", "-net", "0.0.0.0/1", s.Gateway},
			{"route", "delete", "-net", "128.0.0.0/1", s.Gateway},
		}
	}
	return [][]string{
		{"ip", "route", "del", "0.0.0.0/1", "via", s.Gateway, "dev", device},
		{"ip", "route", "del", "128.0.0.0/1", "via", s.Gateway, "dev", device},
	}
}
