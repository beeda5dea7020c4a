package isolation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"foxden/internal/cmdrun"
	"foxden/internal/paths"
)

// timezoneGuard matches the OS timezone to a profile's exit location.
// The host timezone is captured before the first change and restored
// when the last holding profile releases it. Everything here is
// best-effort: a timezone failure never fails a session.
type timezoneGuard struct {
	mu       sync.Mutex
	original string
	holders  map[string]string

	runner    cmdrun.Runner
	log       zerolog.Logger
	statePath func() (string, error)
}

func newTimezoneGuard(runner cmdrun.Runner, log zerolog.Logger) *timezoneGuard {
	return &timezoneGuard{
		holders: make(map[string]string),
		runner:  runner,
		log:     log,
		statePath: func() (string, error) {
			dir, err := paths.CacheDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(dir, "timezone.state"), nil
		},
	}
}

// tzState mirrors the guard on disk, so the original timezone survives
// process exit and a later invocation can still restore it.
type tzState struct {
	Original string            `json:"original"`
	Holders  map[string]string `json:"holders"`
}

// persist writes the guard state, or removes the file once the guard is
// back to its empty state. Caller holds the lock.
func (g *timezoneGuard) persist() {
	path, err := g.statePath()
	if err != nil {
		return
	}
	if len(g.holders) == 0 && g.original == "" {
		os.Remove(path)
		return
	}
	data, err := json.MarshalIndent(tzState{Original: g.original, Holders: g.holders}, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		g.log.Warn().Err(err).Msg("could not persist timezone state")
	}
}

// readopt loads guard state persisted by a previous process.
func (g *timezoneGuard) readopt() {
	g.mu.Lock()
	defer g.mu.Unlock()

	path, err := g.statePath()
	if err != nil {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var st tzState
	if err := json.Unmarshal(data, &st); err != nil {
		os.Remove(path)
		return
	}
	g.original = st.Original
	if st.Holders != nil {
		g.holders = st.Holders
	}
}

// apply sets the OS timezone for the profile and reports whether the
// change took effect.
func (g *timezoneGuard) apply(profile, tz string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.holders) == 0 {
		current, err := currentTimezone(g.runner)
		if err != nil {
			g.log.Warn().Err(err).Msg("could not read current timezone, skipping sync")
			return false
		}
		g.original = current
	}

	if err := setTimezone(g.runner, tz); err != nil {
		g.log.Warn().Err(err).Str("timezone", tz).Msg("timezone sync failed")
		if len(g.holders) == 0 {
			g.original = ""
		}
		return false
	}

	g.holders[profile] = tz
	g.persist()
	return true
}

// release drops the profile's hold. The original timezone comes back
// only when no other profile still holds a change.
func (g *timezoneGuard) release(profile string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.holders[profile]; !ok {
		return
	}
	delete(g.holders, profile)

	if len(g.holders) > 0 || g.original == "" {
		g.persist()
		return
	}

	if err := setTimezone(g.runner, g.original); err != nil {
		g.log.Warn().Err(err).Str("timezone", g.original).Msg("timezone restore failed")
	}
	g.original = ""
	g.persist()
}

func currentTimezone(r cmdrun.Runner) (string, error) {
	if runtime.GOOS == "darwin" {
		out, err := r.Output("systemsetup", "-gettimezone")
		if err != nil {
			return "", err
		}
		// "Time Zone: Europe/Amsterdam"
		_, tz, _ := strings.Cut(out, ":")
		return strings.TrimSpace(tz), nil
	}
	out, err := r.Output("timedatectl", "show", "-p", "Timezone", "--value")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func setTimezone(r cmdrun.Runner, tz string) error {
	if runtime.GOOS == "darwin" {
		return r.Run("systemsetup", "-settimezone", tz)
	}
	return r.Run("timedatectl", "set-timezone", tz)
}
