package isolation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"foxden/internal/storage/models"
	"foxden/internal/sysproxy"
)

const (
	snapshotStateFile  = "sysproxy.state"
	sessionStatePrefix = "session-"
)

// sessionState is persisted per session so a later process can pick up
// where this one left off. The CLI runs once per command: the session
// table must survive process exit.
type sessionState struct {
	Profile    string             `json:"profile"`
	Mode       Mode               `json:"mode"`
	Descriptor *models.Descriptor `json:"descriptor,omitempty"`
	SocksAddr  string             `json:"socks_addr,omitempty"`
	HTTPPort   int                `json:"http_port,omitempty"`
	Device     string             `json:"device,omitempty"`
	PACURL     string             `json:"pac_url,omitempty"`
	StartedAt  time.Time          `json:"started_at"`

	UsesEngine    bool `json:"uses_engine,omitempty"`
	UsesIface     bool `json:"uses_iface,omitempty"`
	UsesPAC       bool `json:"uses_pac,omitempty"`
	HoldsSnapshot bool `json:"holds_snapshot,omitempty"`
	TzHeld        bool `json:"tz_held,omitempty"`
}

func (o *Orchestrator) sessionStatePath(profile string) (string, error) {
	dir, err := o.stateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, sessionStatePrefix+profile+".state"), nil
}

func (o *Orchestrator) saveSession(s *Session) error {
	path, err := o.sessionStatePath(s.Profile)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(sessionState{
		Profile:       s.Profile,
		Mode:          s.Mode,
		Descriptor:    s.Descriptor,
		SocksAddr:     s.SocksAddr,
		HTTPPort:      s.HTTPPort,
		Device:        s.Device,
		PACURL:        s.PACURL,
		StartedAt:     s.StartedAt,
		UsesEngine:    s.usesEngine,
		UsesIface:     s.usesIface,
		UsesPAC:       s.usesPAC,
		HoldsSnapshot: s.holdsSnapshot,
		TzHeld:        s.tzHeld,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (o *Orchestrator) removeSessionState(profile string) {
	if path, err := o.sessionStatePath(profile); err == nil {
		os.Remove(path)
	}
}

func (o *Orchestrator) snapshotStatePath() (string, error) {
	dir, err := o.stateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, snapshotStateFile), nil
}

// persistSnapshot writes the pre-session proxy snapshot to disk so the
// user's configuration survives process exit and can be restored by a
// later invocation.
func (o *Orchestrator) persistSnapshot(snap *sysproxy.Snapshot) error {
	path, err := o.snapshotStatePath()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (o *Orchestrator) loadSnapshot() (*sysproxy.Snapshot, error) {
	path, err := o.snapshotStatePath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap sysproxy.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		os.Remove(path)
		return nil, err
	}
	return &snap, nil
}

func (o *Orchestrator) removeSnapshotState() {
	if path, err := o.snapshotStatePath(); err == nil {
		os.Remove(path)
	}
}
