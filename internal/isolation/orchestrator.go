// Package isolation coordinates engines, virtual interfaces, and
// system proxy state into per-profile network isolation sessions.
package isolation

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"foxden/internal/cmdrun"
	"foxden/internal/engine"
	"foxden/internal/logging"
	"foxden/internal/netif"
	"foxden/internal/paths"
	"foxden/internal/settings"
	"foxden/internal/storage/models"
	"foxden/internal/sysproxy"
	pkgerrors "foxden/pkg/errors"
)

// Mode selects how a session's traffic is steered into the proxy.
type Mode string

const (
	// ModeSystemProxy rewrites the OS proxy configuration.
	ModeSystemProxy Mode = "system"
	// ModePAC points the OS at a generated proxy auto-config file.
	ModePAC Mode = "pac"
	// ModeTUN captures traffic with a per-profile virtual interface.
	ModeTUN Mode = "tun"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSystemProxy, ModePAC, ModeTUN:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown isolation mode %q", s)
	}
}

// Session is one active isolation context.
type Session struct {
	Profile    string
	Descriptor *models.Descriptor
	Mode       Mode
	SocksAddr  string
	HTTPPort   int
	Device     string
	PACURL     string
	StartedAt  time.Time

	usesEngine    bool
	usesIface     bool
	usesPAC       bool
	holdsSnapshot bool
	tzHeld        bool
}

// Engines starts and stops per-profile engine processes. Session
// reports whether a profile's engine is currently running, including
// ones re-adopted from a previous process.
type Engines interface {
	Start(profile string, d *models.Descriptor) (*engine.Session, error)
	Stop(profile string) error
	Session(profile string) (*engine.Session, bool)
}

// Interfaces creates and tears down per-profile virtual interfaces.
type Interfaces interface {
	Create(profile, socksAddr string) (*netif.Interface, error)
	Stop(profile string) error
	Get(profile string) (*netif.Interface, bool)
}

// SystemProxy captures, applies, and restores OS proxy configuration.
// The shaped appliers cover the three steering layouts a session uses;
// Apply takes an arbitrary snapshot for everything else.
type SystemProxy interface {
	Capture() (*sysproxy.Snapshot, error)
	Apply(*sysproxy.Snapshot) error
	ApplySOCKS(host string, socksPort, httpPort int) error
	ApplyHTTP(host string, port int) error
	ApplyPAC(url string) error
	Restore(*sysproxy.Snapshot) error
}

// Orchestrator owns all isolation sessions. A global mutex guards the
// session table and the shared snapshot; per-profile locks serialize
// operations on the same profile without blocking others.
type Orchestrator struct {
	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex

	// snapshot is the OS proxy configuration captured exactly once when
	// the active set goes from empty to non-empty, restored when it
	// empties again. Sessions launched without a proxy do not hold it.
	snapshot        *sysproxy.Snapshot
	snapshotHolders int

	engines Engines
	ifaces  Interfaces
	proxy   SystemProxy
	tz      *timezoneGuard
	bus     *EventBus
	cfg     *settings.Settings
	log     zerolog.Logger

	pacWrite  func(profile, socksAddr string) (string, error)
	pacRemove func(profile string)
	stateDir  func() (string, error)
}

// NewOrchestrator wires an orchestrator from its collaborators. The
// runner is used for timezone commands.
func NewOrchestrator(cfg *settings.Settings, engines Engines, ifaces Interfaces, proxy SystemProxy, runner cmdrun.Runner, bus *EventBus) *Orchestrator {
	log := logging.WithComponent("isolation")
	if bus == nil {
		bus = NewEventBus()
	}
	return &Orchestrator{
		sessions:  make(map[string]*Session),
		locks:     make(map[string]*sync.Mutex),
		engines:   engines,
		ifaces:    ifaces,
		proxy:     proxy,
		tz:        newTimezoneGuard(runner, log),
		bus:       bus,
		cfg:       cfg,
		log:       log,
		pacWrite:  netif.WritePAC,
		pacRemove: netif.RemovePAC,
		stateDir:  paths.CacheDir,
	}
}

// Bus returns the orchestrator's event bus.
func (o *Orchestrator) Bus() *EventBus { return o.bus }

// profileLock returns the mutex serializing work on one profile.
func (o *Orchestrator) profileLock(profile string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[profile]
	if !ok {
		l = &sync.Mutex{}
		o.locks[profile] = l
	}
	return l
}

// Launch starts an isolation session for the profile. A nil descriptor
// creates a session with no network changes at all; a descriptor that
// requires the engine gets a dedicated engine process; plain SOCKS5
// descriptors are used as the steering target directly; plain HTTP
// descriptors always land in system proxy mode since neither PAC nor
// TUN can consume an HTTP upstream.
func (o *Orchestrator) Launch(profile string, d *models.Descriptor, mode Mode) (*Session, error) {
	lock := o.profileLock(profile)
	lock.Lock()
	defer lock.Unlock()

	if o.IsActive(profile) {
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrProfileActive, profile)
	}

	if d == nil {
		if mode == ModeTUN {
			return nil, fmt.Errorf("%w: virtual interface needs a proxy descriptor", pkgerrors.ErrProxyRequired)
		}
		session := &Session{Profile: profile, Mode: mode, StartedAt: time.Now()}
		o.register(session)
		o.bus.Publish(Event{Type: EventSessionStarted, Payload: SessionPayload{Profile: profile, Mode: mode}})
		o.log.Info().Str("profile", profile).Msg("session started without proxy")
		return session, nil
	}

	if err := d.Validate(); err != nil {
		return nil, &pkgerrors.DescriptorError{ID: d.ID, Name: d.Name, Err: fmt.Errorf("%w: %v", pkgerrors.ErrDescriptorInvalid, err)}
	}

	if d.Kind == models.KindHTTP {
		return o.launchBareHTTP(profile, d)
	}

	session := &Session{
		Profile:    profile,
		Descriptor: d,
		Mode:       mode,
		StartedAt:  time.Now(),
	}

	if d.RequiresEngine() {
		es, err := o.engines.Start(profile, d)
		if err != nil {
			return nil, err
		}
		session.usesEngine = true
		session.SocksAddr = net.JoinHostPort("127.0.0.1", strconv.Itoa(es.SocksPort))
		session.HTTPPort = es.HTTPPort
	} else {
		// plain SOCKS5, steer straight at the remote endpoint
		session.SocksAddr = d.Endpoint()
	}

	if err := o.applyMode(session); err != nil {
		o.rollback(session)
		return nil, err
	}

	o.syncTimezone(session)
	o.register(session)

	o.bus.Publish(Event{Type: EventSessionStarted, Payload: SessionPayload{Profile: profile, Mode: session.Mode}})
	if session.Mode != ModeTUN {
		// Advisory, so delivery stays off the launch path.
		o.bus.PublishAsync(Event{Type: EventLeakWarning, Payload: LeakPayload{Profile: profile, Vector: "webrtc"}})
	}

	o.log.Info().
		Str("profile", profile).
		Str("mode", string(session.Mode)).
		Str("socks", session.SocksAddr).
		Msg("session started")
	return session, nil
}

// launchBareHTTP is the short path for plain HTTP descriptors: only the
// system HTTP proxy changes.
func (o *Orchestrator) launchBareHTTP(profile string, d *models.Descriptor) (*Session, error) {
	session := &Session{
		Profile:    profile,
		Descriptor: d,
		Mode:       ModeSystemProxy,
		StartedAt:  time.Now(),
	}
	if err := o.acquireSnapshot(session); err != nil {
		return nil, err
	}

	if err := o.proxy.ApplyHTTP(d.Host, d.Port); err != nil {
		o.rollback(session)
		return nil, err
	}

	o.syncTimezone(session)
	o.register(session)

	o.bus.Publish(Event{Type: EventSessionStarted, Payload: SessionPayload{Profile: profile, Mode: ModeSystemProxy}})
	o.bus.Publish(Event{Type: EventProxyApplied, Payload: SessionPayload{Profile: profile, Mode: ModeSystemProxy}})
	o.bus.PublishAsync(Event{Type: EventLeakWarning, Payload: LeakPayload{Profile: profile, Vector: "webrtc"}})

	o.log.Info().Str("profile", profile).Str("endpoint", d.Endpoint()).Msg("HTTP proxy session started")
	return session, nil
}

func (o *Orchestrator) applyMode(s *Session) error {
	switch s.Mode {
	case ModeSystemProxy:
		if err := o.acquireSnapshot(s); err != nil {
			return err
		}
		host, portStr, err := net.SplitHostPort(s.SocksAddr)
		if err != nil {
			return fmt.Errorf("bad SOCKS address %q: %w", s.SocksAddr, err)
		}
		port, _ := strconv.Atoi(portStr)
		if s.HTTPPort > 0 {
			err = o.proxy.ApplySOCKS(host, port, s.HTTPPort)
		} else {
			// Remote plain SOCKS, no local HTTP port to offer.
			err = o.proxy.Apply(&sysproxy.Snapshot{
				SOCKS: sysproxy.ProxyState{Enabled: true, Host: host, Port: port},
			})
		}
		if err != nil {
			return err
		}
		o.bus.Publish(Event{Type: EventProxyApplied, Payload: SessionPayload{Profile: s.Profile, Mode: s.Mode}})
		return nil

	case ModePAC:
		if err := o.acquireSnapshot(s); err != nil {
			return err
		}
		url, err := o.pacWrite(s.Profile, s.SocksAddr)
		if err != nil {
			return err
		}
		s.PACURL = url
		s.usesPAC = true
		if err := o.proxy.ApplyPAC(url); err != nil {
			return err
		}
		o.bus.Publish(Event{Type: EventProxyApplied, Payload: SessionPayload{Profile: s.Profile, Mode: s.Mode}})
		return nil

	case ModeTUN:
		// The interface never rewrites the proxy configuration, but
		// the session still pins the snapshot: restore waits for the
		// whole active set to drain, not just the proxy-changing part.
		if err := o.acquireSnapshot(s); err != nil {
			return err
		}
		iface, err := o.ifaces.Create(s.Profile, s.SocksAddr)
		if err != nil {
			return err
		}
		s.Device = iface.Device
		s.usesIface = true

		// The PAC file is written for consumers that want per-profile
		// proxy hints, but the OS auto-config is left untouched: the
		// interface already captures the traffic.
		if url, pacErr := o.pacWrite(s.Profile, s.SocksAddr); pacErr == nil {
			s.PACURL = url
			s.usesPAC = true
		} else {
			o.log.Warn().Err(pacErr).Str("profile", s.Profile).Msg("PAC generation failed")
		}
		return nil

	default:
		return fmt.Errorf("unknown isolation mode %q", s.Mode)
	}
}

// rollback undoes a partially launched session.
func (o *Orchestrator) rollback(s *Session) {
	if s.usesPAC {
		o.pacRemove(s.Profile)
	}
	if s.usesIface {
		if err := o.ifaces.Stop(s.Profile); err != nil {
			o.log.Warn().Err(err).Str("profile", s.Profile).Msg("rollback interface stop failed")
		}
	}
	if s.usesEngine {
		if err := o.engines.Stop(s.Profile); err != nil {
			o.log.Warn().Err(err).Str("profile", s.Profile).Msg("rollback engine stop failed")
		}
	}
	if s.holdsSnapshot {
		s.holdsSnapshot = false
		o.mu.Lock()
		o.snapshotHolders--
		o.mu.Unlock()
	}
	o.restoreIfUnused()
}

// Stop tears down the profile's session. Teardown is fail-soft: every
// step runs and the first error is reported at the end.
func (o *Orchestrator) Stop(profile string) error {
	lock := o.profileLock(profile)
	lock.Lock()
	defer lock.Unlock()

	o.mu.Lock()
	session, ok := o.sessions[profile]
	if ok {
		delete(o.sessions, profile)
		if session.holdsSnapshot {
			o.snapshotHolders--
		}
	}
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", pkgerrors.ErrProfileNotActive, profile)
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if session.usesIface {
		keep(o.ifaces.Stop(profile))
	}
	if session.usesPAC {
		o.pacRemove(profile)
	}
	if session.holdsSnapshot {
		keep(o.restoreIfUnused())
	}
	if session.usesEngine {
		keep(o.engines.Stop(profile))
	}
	if session.tzHeld {
		o.tz.release(profile)
	}
	o.removeSessionState(profile)

	o.bus.Publish(Event{Type: EventSessionStopped, Payload: SessionPayload{Profile: profile, Mode: session.Mode}})
	o.log.Info().Str("profile", profile).Msg("session stopped")
	return firstErr
}

// StopAll stops every active session, continuing past failures.
func (o *Orchestrator) StopAll() error {
	o.mu.Lock()
	profiles := make([]string, 0, len(o.sessions))
	for p := range o.sessions {
		profiles = append(profiles, p)
	}
	o.mu.Unlock()

	var firstErr error
	for _, p := range profiles {
		if err := o.Stop(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Recover rebuilds the session table from state persisted by previous
// processes. A session whose backing engine or interface is still
// running is re-adopted; the rest are cleaned up. When nothing
// survives but a proxy snapshot is on disk, the user's configuration
// comes back. Called once at startup, after the engine and interface
// managers have run their own recovery.
func (o *Orchestrator) Recover() {
	dir, err := o.stateDir()
	if err != nil {
		return
	}

	if snap, err := o.loadSnapshot(); err == nil {
		o.mu.Lock()
		o.snapshot = snap
		o.mu.Unlock()
	}
	o.tz.readopt()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, sessionStatePrefix) || !strings.HasSuffix(name, ".state") {
			continue
		}
		path := filepath.Join(dir, name)

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var st sessionState
		if err := json.Unmarshal(data, &st); err != nil {
			os.Remove(path)
			continue
		}

		alive := true
		if st.UsesEngine {
			_, ok := o.engines.Session(st.Profile)
			alive = alive && ok
		}
		if st.UsesIface {
			_, ok := o.ifaces.Get(st.Profile)
			alive = alive && ok
		}

		// A session that runs no process of its own (plain proxy in
		// system mode) is alive as long as its state file exists.
		if !alive {
			o.log.Warn().Str("profile", st.Profile).Msg("cleaning up session whose backing process died")
			if st.UsesIface {
				if err := o.ifaces.Stop(st.Profile); err != nil {
					o.log.Warn().Err(err).Str("profile", st.Profile).Msg("stale interface stop failed")
				}
			}
			if st.UsesEngine {
				if err := o.engines.Stop(st.Profile); err != nil {
					o.log.Warn().Err(err).Str("profile", st.Profile).Msg("stale engine stop failed")
				}
			}
			if st.UsesPAC {
				o.pacRemove(st.Profile)
			}
			if st.TzHeld {
				o.tz.release(st.Profile)
			}
			os.Remove(path)
			continue
		}

		s := &Session{
			Profile:       st.Profile,
			Descriptor:    st.Descriptor,
			Mode:          st.Mode,
			SocksAddr:     st.SocksAddr,
			HTTPPort:      st.HTTPPort,
			Device:        st.Device,
			PACURL:        st.PACURL,
			StartedAt:     st.StartedAt,
			usesEngine:    st.UsesEngine,
			usesIface:     st.UsesIface,
			usesPAC:       st.UsesPAC,
			holdsSnapshot: st.HoldsSnapshot,
			tzHeld:        st.TzHeld,
		}
		o.mu.Lock()
		o.sessions[s.Profile] = s
		if s.holdsSnapshot {
			o.snapshotHolders++
		}
		o.mu.Unlock()

		o.log.Info().Str("profile", s.Profile).Str("mode", string(s.Mode)).Msg("re-attached session")
	}

	if err := o.restoreIfUnused(); err != nil {
		o.log.Error().Err(err).Msg("stale proxy restore failed")
	}
}

// IsActive reports whether the profile has a session.
func (o *Orchestrator) IsActive(profile string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.sessions[profile]
	return ok
}

// Session returns the profile's session, if any.
func (o *Orchestrator) Session(profile string) (*Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[profile]
	return s, ok
}

// Sessions returns a snapshot of all active sessions.
func (o *Orchestrator) Sessions() []*Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, s)
	}
	return out
}

// register records a session. The snapshot hold, when the session has
// one, was already reserved by acquireSnapshot.
func (o *Orchestrator) register(s *Session) {
	o.mu.Lock()
	o.sessions[s.Profile] = s
	o.mu.Unlock()

	if err := o.saveSession(s); err != nil {
		o.log.Warn().Err(err).Str("profile", s.Profile).Msg("could not persist session state")
	}
}

// acquireSnapshot records the OS proxy configuration when the first
// snapshot-holding session launches, and reserves the session's hold in
// the same critical section, before any proxy change happens. A
// concurrent stop of the last other holder then cannot restore
// underneath a launch still in flight.
func (o *Orchestrator) acquireSnapshot(s *Session) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.snapshot == nil {
		snap, err := o.proxy.Capture()
		if err != nil {
			return fmt.Errorf("capturing proxy snapshot: %w", err)
		}
		o.snapshot = snap
		if err := o.persistSnapshot(snap); err != nil {
			o.log.Warn().Err(err).Msg("could not persist proxy snapshot")
		}
	}
	o.snapshotHolders++
	s.holdsSnapshot = true
	return nil
}

// restoreIfUnused puts the captured proxy configuration back once no
// snapshot-holding session remains.
func (o *Orchestrator) restoreIfUnused() error {
	o.mu.Lock()
	if o.snapshotHolders > 0 || o.snapshot == nil {
		o.mu.Unlock()
		return nil
	}
	snap := o.snapshot
	o.snapshot = nil
	o.mu.Unlock()

	if err := o.proxy.Restore(snap); err != nil {
		return fmt.Errorf("restoring proxy snapshot: %w", err)
	}
	o.removeSnapshotState()
	o.bus.Publish(Event{Type: EventProxyRestored})
	return nil
}

// syncTimezone matches the OS timezone to the descriptor's exit
// location. Best-effort, never fails the session.
func (o *Orchestrator) syncTimezone(s *Session) {
	if s.Descriptor == nil || s.Descriptor.Timezone == "" {
		return
	}
	if o.tz.apply(s.Profile, s.Descriptor.Timezone) {
		s.tzHeld = true
		o.bus.Publish(Event{Type: EventTimezoneChanged, Payload: TimezonePayload{
			Profile:  s.Profile,
			Timezone: s.Descriptor.Timezone,
		}})
	}
}
