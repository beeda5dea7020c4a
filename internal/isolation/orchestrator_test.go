package isolation

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"foxden/internal/engine"
	"foxden/internal/netif"
	"foxden/internal/settings"
	"foxden/internal/storage/models"
	"foxden/internal/sysproxy"
	pkgerrors "foxden/pkg/errors"
)

type fakeEngines struct {
	mu      sync.Mutex
	next    int
	started map[string]int
	stopped []string
	err     error
}

func newFakeEngines() *fakeEngines {
	return &fakeEngines{next: 24000, started: make(map[string]int)}
}

func (f *fakeEngines) Start(profile string, d *models.Descriptor) (*engine.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	port := f.next
	f.next += 2
	f.started[profile] = port
	return &engine.Session{Profile: profile, SocksPort: port, HTTPPort: port + 1}, nil
}

func (f *fakeEngines) Stop(profile string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, profile)
	delete(f.started, profile)
	return nil
}

func (f *fakeEngines) Session(profile string) (*engine.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	port, ok := f.started[profile]
	if !ok {
		return nil, false
	}
	return &engine.Session{Profile: profile, SocksPort: port, HTTPPort: port + 1}, true
}

type fakeIfaces struct {
	mu      sync.Mutex
	created map[string]string
	stopped []string
	err     error
}

func newFakeIfaces() *fakeIfaces {
	return &fakeIfaces{created: make(map[string]string)}
}

func (f *fakeIfaces) Create(profile, socksAddr string) (*netif.Interface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.created[profile] = socksAddr
	return &netif.Interface{Profile: profile, Device: "utun32", Subnet: netif.DeriveSubnet(32)}, nil
}

func (f *fakeIfaces) Stop(profile string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, profile)
	delete(f.created, profile)
	return nil
}

func (f *fakeIfaces) Get(profile string) (*netif.Interface, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.created[profile]; !ok {
		return nil, false
	}
	return &netif.Interface{Profile: profile, Device: "utun32", Subnet: netif.DeriveSubnet(32)}, true
}

type fakeProxy struct {
	mu       sync.Mutex
	current  sysproxy.Snapshot
	captures int
	applied  []*sysproxy.Snapshot
	restored []*sysproxy.Snapshot
	applyErr error

	// set before concurrent use to park Apply mid-call
	applyEntered chan struct{}
	applyGate    chan struct{}
}

func (f *fakeProxy) Capture() (*sysproxy.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures++
	snap := f.current
	return &snap, nil
}

func (f *fakeProxy) Apply(snap *sysproxy.Snapshot) error {
	if f.applyEntered != nil {
		f.applyEntered <- struct{}{}
	}
	if f.applyGate != nil {
		<-f.applyGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, snap)
	f.current = *snap
	return nil
}

func (f *fakeProxy) ApplySOCKS(host string, socksPort, httpPort int) error {
	return f.Apply(&sysproxy.Snapshot{
		SOCKS: sysproxy.ProxyState{Enabled: true, Host: host, Port: socksPort},
		HTTP:  sysproxy.ProxyState{Enabled: true, Host: host, Port: httpPort},
	})
}

func (f *fakeProxy) ApplyHTTP(host string, port int) error {
	return f.Apply(&sysproxy.Snapshot{
		HTTP: sysproxy.ProxyState{Enabled: true, Host: host, Port: port},
	})
}

func (f *fakeProxy) ApplyPAC(url string) error {
	return f.Apply(&sysproxy.Snapshot{
		AutoConfig: sysproxy.AutoProxyState{Enabled: true, URL: url},
	})
}

func (f *fakeProxy) Restore(snap *sysproxy.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restored = append(f.restored, snap)
	f.current = *snap
	return nil
}

type fakeRunner struct {
	mu       sync.Mutex
	commands [][]string
	tz       string
}

func (r *fakeRunner) Run(name string, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, append([]string{name}, args...))
	return nil
}

func (r *fakeRunner) Output(name string, args ...string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, append([]string{name}, args...))
	if r.tz != "" {
		return r.tz + "\n", nil
	}
	return "Etc/UTC\n", nil
}

type testEnv struct {
	orch    *Orchestrator
	engines *fakeEngines
	ifaces  *fakeIfaces
	proxy   *fakeProxy
	runner  *fakeRunner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	engines := newFakeEngines()
	ifaces := newFakeIfaces()
	proxy := &fakeProxy{}
	runner := &fakeRunner{}

	orch := NewOrchestrator(settings.Default(), engines, ifaces, proxy, runner, NewEventBus())
	orch.pacWrite = func(profile, addr string) (string, error) {
		return fmt.Sprintf("file:///tmp/%s.pac", profile), nil
	}
	orch.pacRemove = func(string) {}
	stateDir := t.TempDir()
	orch.stateDir = func() (string, error) { return stateDir, nil }
	orch.tz.statePath = func() (string, error) {
		return filepath.Join(stateDir, "timezone.state"), nil
	}

	return &testEnv{orch: orch, engines: engines, ifaces: ifaces, proxy: proxy, runner: runner}
}

func vmessDescriptor(name string) *models.Descriptor {
	d := models.NewDescriptor(models.KindVMess)
	d.Name = name
	d.Host = "example.com"
	d.Port = 443
	d.VMess = &models.VMessSettings{UUID: "4ffcbc1b-683a-43ff-9a96-f0a0d6b0d18a"}
	return d
}

func TestLaunchSystemProxySession(t *testing.T) {
	env := newTestEnv(t)

	s, err := env.orch.Launch("work", vmessDescriptor("work"), ModeSystemProxy)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	if s.SocksAddr != "127.0.0.1:24000" {
		t.Errorf("SocksAddr = %s", s.SocksAddr)
	}
	if env.proxy.captures != 1 {
		t.Errorf("captures = %d, want 1", env.proxy.captures)
	}
	if len(env.proxy.applied) != 1 {
		t.Fatalf("applied = %d, want 1", len(env.proxy.applied))
	}
	applied := env.proxy.applied[0]
	if !applied.SOCKS.Enabled || applied.SOCKS.Port != 24000 {
		t.Errorf("applied SOCKS = %+v", applied.SOCKS)
	}
	if !applied.HTTP.Enabled || applied.HTTP.Port != 24001 {
		t.Errorf("applied HTTP = %+v", applied.HTTP)
	}
	if !env.orch.IsActive("work") {
		t.Error("profile should be active")
	}
}

func TestSnapshotCapturedOnceRestoredOnce(t *testing.T) {
	env := newTestEnv(t)
	env.proxy.current = sysproxy.Snapshot{
		HTTP: sysproxy.ProxyState{Enabled: true, Host: "corp.proxy", Port: 8080},
	}

	if _, err := env.orch.Launch("one", vmessDescriptor("one"), ModeSystemProxy); err != nil {
		t.Fatalf("Launch one: %v", err)
	}
	if _, err := env.orch.Launch("two", vmessDescriptor("two"), ModeSystemProxy); err != nil {
		t.Fatalf("Launch two: %v", err)
	}

	if env.proxy.captures != 1 {
		t.Errorf("captures = %d, snapshot must be taken exactly once", env.proxy.captures)
	}

	if err := env.orch.Stop("one"); err != nil {
		t.Fatalf("Stop one: %v", err)
	}
	if len(env.proxy.restored) != 0 {
		t.Error("restore must wait for the last proxy-changing session")
	}

	if err := env.orch.Stop("two"); err != nil {
		t.Fatalf("Stop two: %v", err)
	}
	if len(env.proxy.restored) != 1 {
		t.Fatalf("restored = %d, want 1", len(env.proxy.restored))
	}
	if got := env.proxy.restored[0].HTTP; !got.Enabled || got.Host != "corp.proxy" {
		t.Errorf("restored HTTP = %+v, want original corp proxy", got)
	}
}

func TestLaunchBareHTTPDescriptor(t *testing.T) {
	env := newTestEnv(t)

	d := models.NewDescriptor(models.KindHTTP)
	d.Host = "gateway.example.net"
	d.Port = 3128

	s, err := env.orch.Launch("corp", d, ModePAC)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	// HTTP upstreams have no SOCKS endpoint, so the session always runs
	// in system proxy mode.
	if s.Mode != ModeSystemProxy {
		t.Errorf("mode = %s, want system", s.Mode)
	}
	if len(env.engines.started) != 0 {
		t.Error("bare HTTP descriptor must not start an engine")
	}
	applied := env.proxy.applied[0]
	if !applied.HTTP.Enabled || applied.HTTP.Host != "gateway.example.net" || applied.HTTP.Port != 3128 {
		t.Errorf("applied = %+v", applied.HTTP)
	}
	if applied.SOCKS.Enabled {
		t.Error("bare HTTP must not enable a SOCKS proxy")
	}
}

func TestLaunchBareSOCKSDirect(t *testing.T) {
	env := newTestEnv(t)

	d := models.NewDescriptor(models.KindSOCKS5)
	d.Host = "10.8.0.1"
	d.Port = 1080

	s, err := env.orch.Launch("direct", d, ModeSystemProxy)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if s.SocksAddr != "10.8.0.1:1080" {
		t.Errorf("SocksAddr = %s, want the remote endpoint", s.SocksAddr)
	}
	if len(env.engines.started) != 0 {
		t.Error("plain SOCKS5 must not start an engine")
	}
}

func TestLaunchNilDescriptor(t *testing.T) {
	env := newTestEnv(t)

	s, err := env.orch.Launch("blank", nil, ModeSystemProxy)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if s.SocksAddr != "" || s.holdsSnapshot {
		t.Error("nil descriptor session must not touch the OS")
	}
	if env.proxy.captures != 0 || len(env.proxy.applied) != 0 {
		t.Error("nil descriptor session must not touch the proxy config")
	}

	if _, err := env.orch.Launch("blank2", nil, ModeTUN); !errors.Is(err, pkgerrors.ErrProxyRequired) {
		t.Errorf("TUN without descriptor: err = %v, want ErrProxyRequired", err)
	}
}

func TestLaunchTUNMode(t *testing.T) {
	env := newTestEnv(t)

	s, err := env.orch.Launch("vault", vmessDescriptor("vault"), ModeTUN)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if s.Device != "utun32" {
		t.Errorf("device = %s", s.Device)
	}
	if env.ifaces.created["vault"] != "127.0.0.1:24000" {
		t.Errorf("forwarder target = %s", env.ifaces.created["vault"])
	}
	if len(env.proxy.applied) != 0 {
		t.Error("TUN mode must not rewrite the system proxy")
	}
	if env.proxy.captures != 1 {
		t.Errorf("captures = %d, TUN session must still pin the snapshot", env.proxy.captures)
	}
	if s.PACURL == "" {
		t.Error("TUN session must still carry a per-profile PAC")
	}

	if err := env.orch.Stop("vault"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(env.ifaces.stopped) != 1 || len(env.engines.stopped) != 1 {
		t.Error("stop must tear down both the interface and the engine")
	}
}

func TestMixedModeSessionsHoldSnapshotUntilLastStop(t *testing.T) {
	env := newTestEnv(t)

	a, err := env.orch.Launch("alpha", vmessDescriptor("alpha"), ModeSystemProxy)
	if err != nil {
		t.Fatalf("Launch alpha: %v", err)
	}
	b, err := env.orch.Launch("beta", vmessDescriptor("beta"), ModeTUN)
	if err != nil {
		t.Fatalf("Launch beta: %v", err)
	}

	if a.SocksAddr == b.SocksAddr {
		t.Errorf("both sessions got %s, ports must be disjoint", a.SocksAddr)
	}
	if b.Device == "" {
		t.Error("TUN session has no interface")
	}
	if env.proxy.captures != 1 {
		t.Errorf("captures = %d, want 1", env.proxy.captures)
	}

	if err := env.orch.Stop("alpha"); err != nil {
		t.Fatalf("Stop alpha: %v", err)
	}
	if len(env.proxy.restored) != 0 {
		t.Error("restore must wait while the TUN session is active")
	}

	if err := env.orch.Stop("beta"); err != nil {
		t.Fatalf("Stop beta: %v", err)
	}
	if len(env.proxy.restored) != 1 {
		t.Fatalf("restored = %d, want 1", len(env.proxy.restored))
	}
	if len(env.orch.Sessions()) != 0 {
		t.Error("sessions remain after stopping everything")
	}
	if len(env.engines.stopped) != 2 || len(env.ifaces.stopped) != 1 {
		t.Error("all engines and interfaces must be torn down")
	}
}

func TestLaunchRollbackOnProxyFailure(t *testing.T) {
	env := newTestEnv(t)
	env.proxy.applyErr = errors.New("networksetup exploded")

	_, err := env.orch.Launch("work", vmessDescriptor("work"), ModeSystemProxy)
	if err == nil {
		t.Fatal("expected launch failure")
	}

	if len(env.engines.stopped) != 1 {
		t.Error("engine must be stopped when the proxy apply fails")
	}
	if env.orch.IsActive("work") {
		t.Error("failed launch must not leave an active session")
	}
	if len(env.proxy.restored) != 1 {
		t.Error("captured snapshot must be restored on rollback")
	}
}

func TestLaunchDuplicateProfile(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.orch.Launch("work", vmessDescriptor("work"), ModeTUN); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	_, err := env.orch.Launch("work", vmessDescriptor("work"), ModeTUN)
	if !errors.Is(err, pkgerrors.ErrProfileActive) {
		t.Errorf("err = %v, want ErrProfileActive", err)
	}
}

func TestStopInactiveProfile(t *testing.T) {
	env := newTestEnv(t)
	if err := env.orch.Stop("ghost"); !errors.Is(err, pkgerrors.ErrProfileNotActive) {
		t.Errorf("err = %v, want ErrProfileNotActive", err)
	}
}

func TestLaunchInvalidDescriptor(t *testing.T) {
	env := newTestEnv(t)

	d := models.NewDescriptor(models.KindVMess)
	// no host, no settings

	_, err := env.orch.Launch("bad", d, ModeSystemProxy)
	if !errors.Is(err, pkgerrors.ErrDescriptorInvalid) {
		t.Errorf("err = %v, want ErrDescriptorInvalid", err)
	}
}

func TestTimezoneSyncSoleHolderRestore(t *testing.T) {
	env := newTestEnv(t)
	env.runner.tz = "Etc/UTC"

	one := vmessDescriptor("one")
	one.Timezone = "Asia/Tokyo"
	two := vmessDescriptor("two")
	two.Timezone = "Europe/Berlin"

	if _, err := env.orch.Launch("one", one, ModeTUN); err != nil {
		t.Fatalf("Launch one: %v", err)
	}
	if _, err := env.orch.Launch("two", two, ModeTUN); err != nil {
		t.Fatalf("Launch two: %v", err)
	}

	if err := env.orch.Stop("one"); err != nil {
		t.Fatalf("Stop one: %v", err)
	}
	if tzSetCount(env.runner, "Etc/UTC") != 0 {
		t.Error("timezone must not be restored while another session holds it")
	}

	if err := env.orch.Stop("two"); err != nil {
		t.Fatalf("Stop two: %v", err)
	}
	if tzSetCount(env.runner, "Etc/UTC") != 1 {
		t.Error("timezone should be restored when the last holder stops")
	}
}

func tzSetCount(r *fakeRunner, tz string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, cmd := range r.commands {
		last := cmd[len(cmd)-1]
		if (cmd[1] == "set-timezone" || cmd[1] == "-settimezone") && last == tz {
			count++
		}
	}
	return count
}

func TestStopAll(t *testing.T) {
	env := newTestEnv(t)

	for _, p := range []string{"a", "b", "c"} {
		if _, err := env.orch.Launch(p, vmessDescriptor(p), ModeSystemProxy); err != nil {
			t.Fatalf("Launch(%s): %v", p, err)
		}
	}

	if err := env.orch.StopAll(); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if len(env.orch.Sessions()) != 0 {
		t.Error("sessions should be empty after StopAll")
	}
	if len(env.proxy.restored) != 1 {
		t.Errorf("restored = %d, want exactly one restore", len(env.proxy.restored))
	}
}

func TestEventsPublished(t *testing.T) {
	env := newTestEnv(t)

	var events []EventType
	var mu sync.Mutex
	record := func(e Event) {
		mu.Lock()
		events = append(events, e.Type)
		mu.Unlock()
	}
	for _, et := range []EventType{EventSessionStarted, EventSessionStopped, EventProxyApplied, EventProxyRestored, EventLeakWarning} {
		env.orch.Bus().Subscribe(et, record)
	}

	if _, err := env.orch.Launch("work", vmessDescriptor("work"), ModeSystemProxy); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if err := env.orch.Stop("work"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// The leak warning is delivered asynchronously.
	missing := func() map[EventType]bool {
		want := map[EventType]bool{
			EventSessionStarted: true,
			EventProxyApplied:   true,
			EventLeakWarning:    true,
			EventSessionStopped: true,
			EventProxyRestored:  true,
		}
		mu.Lock()
		defer mu.Unlock()
		for _, et := range events {
			delete(want, et)
		}
		return want
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(missing()) > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if want := missing(); len(want) != 0 {
		mu.Lock()
		got := append([]EventType(nil), events...)
		mu.Unlock()
		t.Errorf("missing events: %v (got %v)", want, got)
	}
}

func TestParseMode(t *testing.T) {
	for _, valid := range []string{"system", "pac", "tun"} {
		if _, err := ParseMode(valid); err != nil {
			t.Errorf("ParseMode(%q): %v", valid, err)
		}
	}
	if _, err := ParseMode("vpn"); err == nil {
		t.Error("ParseMode should reject unknown modes")
	}
}

// rebuildOrchestrator mimics a fresh process: a new orchestrator over
// the same collaborators and state directory.
func rebuildOrchestrator(t *testing.T, env *testEnv) *Orchestrator {
	t.Helper()
	orch := NewOrchestrator(settings.Default(), env.engines, env.ifaces, env.proxy, env.runner, NewEventBus())
	orch.pacWrite = env.orch.pacWrite
	orch.pacRemove = env.orch.pacRemove
	orch.stateDir = env.orch.stateDir
	orch.tz.statePath = env.orch.tz.statePath
	return orch
}

func TestRecoverReadoptsLiveSession(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.orch.Launch("work", vmessDescriptor("work"), ModeSystemProxy); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	orch2 := rebuildOrchestrator(t, env)
	orch2.Recover()

	s, ok := orch2.Session("work")
	if !ok {
		t.Fatal("session backed by a live engine should be re-adopted")
	}
	if s.SocksAddr != "127.0.0.1:24000" {
		t.Errorf("SocksAddr = %s, want preserved 127.0.0.1:24000", s.SocksAddr)
	}
	if len(env.proxy.restored) != 0 {
		t.Error("re-adoption must not restore the proxy snapshot")
	}

	// The re-adopted session still owns the snapshot.
	if err := orch2.Stop("work"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(env.proxy.restored) != 1 {
		t.Errorf("restored = %d, want 1 after last session stops", len(env.proxy.restored))
	}
	if len(env.engines.stopped) != 1 {
		t.Errorf("engines stopped = %v, want [work]", env.engines.stopped)
	}
}

func TestRecoverCleansDeadSession(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.orch.Launch("work", vmessDescriptor("work"), ModeSystemProxy); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	// The engine died and its own recovery already dropped it.
	env.engines.mu.Lock()
	delete(env.engines.started, "work")
	env.engines.mu.Unlock()

	orch2 := rebuildOrchestrator(t, env)
	orch2.Recover()

	if orch2.IsActive("work") {
		t.Error("session without its engine should not be re-adopted")
	}
	if len(env.proxy.restored) != 1 {
		t.Errorf("restored = %d, want the abandoned snapshot put back", len(env.proxy.restored))
	}

	// The state files are gone, so a third process sees nothing.
	orch3 := rebuildOrchestrator(t, env)
	orch3.Recover()
	if len(env.proxy.restored) != 1 {
		t.Error("second recovery must not restore again")
	}
}

func TestRecoverSessionWithoutOwnProcess(t *testing.T) {
	env := newTestEnv(t)

	d := models.NewDescriptor(models.KindSOCKS5)
	d.Name = "plain"
	d.Host = "10.0.0.1"
	d.Port = 1080
	if _, err := env.orch.Launch("plain", d, ModeSystemProxy); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	orch2 := rebuildOrchestrator(t, env)
	orch2.Recover()

	// Nothing to probe for liveness: the state file alone keeps it.
	if !orch2.IsActive("plain") {
		t.Error("plain proxy session should be re-adopted")
	}
	if len(env.proxy.restored) != 0 {
		t.Error("snapshot must stay while the session is held")
	}
}

func TestStopDoesNotRestoreDuringConcurrentLaunch(t *testing.T) {
	env := newTestEnv(t)
	env.proxy.current = sysproxy.Snapshot{
		HTTP: sysproxy.ProxyState{Enabled: true, Host: "corp-proxy", Port: 8080},
	}

	if _, err := env.orch.Launch("alpha", vmessDescriptor("alpha"), ModeSystemProxy); err != nil {
		t.Fatalf("Launch alpha: %v", err)
	}

	// Park beta inside the proxy apply, after it reserved its hold.
	env.proxy.applyEntered = make(chan struct{})
	env.proxy.applyGate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := env.orch.Launch("beta", vmessDescriptor("beta"), ModeSystemProxy)
		done <- err
	}()
	<-env.proxy.applyEntered

	if err := env.orch.Stop("alpha"); err != nil {
		t.Fatalf("Stop alpha: %v", err)
	}
	if got := len(env.proxy.restored); got != 0 {
		t.Fatalf("restored = %d, stopping alpha must not restore while beta is mid-launch", got)
	}

	close(env.proxy.applyGate)
	if err := <-done; err != nil {
		t.Fatalf("Launch beta: %v", err)
	}

	if err := env.orch.Stop("beta"); err != nil {
		t.Fatalf("Stop beta: %v", err)
	}
	if len(env.proxy.restored) != 1 {
		t.Fatalf("restored = %d, want 1 after the last session stops", len(env.proxy.restored))
	}
	got := env.proxy.restored[0]
	if !got.HTTP.Enabled || got.HTTP.Host != "corp-proxy" || got.HTTP.Port != 8080 {
		t.Errorf("restored = %+v, want the pre-launch configuration", got)
	}
}

func TestLaunchPACMode(t *testing.T) {
	env := newTestEnv(t)

	s, err := env.orch.Launch("acct", vmessDescriptor("acct"), ModePAC)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	if s.PACURL != "file:///tmp/acct.pac" {
		t.Errorf("PACURL = %s", s.PACURL)
	}
	if len(env.proxy.applied) != 1 {
		t.Fatalf("applied = %d, want 1", len(env.proxy.applied))
	}
	auto := env.proxy.applied[0].AutoConfig
	if !auto.Enabled || auto.URL != s.PACURL {
		t.Errorf("applied auto-config = %+v, want the session's PAC URL", auto)
	}
	if env.proxy.applied[0].SOCKS.Enabled {
		t.Error("PAC mode must not set a manual SOCKS proxy")
	}
}
