package paths

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
)

// HomeDir returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns /var/root (macOS) or /root (Linux),
// but config files, PAC files, and per-profile engine configs must live in
// the invoking user's home regardless of privilege level.
func HomeDir() (string, error) {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		u, err := user.Lookup(sudoUser)
		if err == nil {
			return u.HomeDir, nil
		}
	}
	return os.UserHomeDir()
}

// RealUser returns the UID and GID of the real invoking user when running
// under sudo (via SUDO_UID / SUDO_GID). Returns ok=false when not under sudo.
func RealUser() (uid, gid int, ok bool) {
	sudoUID := os.Getenv("SUDO_UID")
	if sudoUID == "" {
		return 0, 0, false
	}
	u, err := strconv.ParseInt(sudoUID, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	var g int64
	if sudoGID := os.Getenv("SUDO_GID"); sudoGID != "" {
		g, _ = strconv.ParseInt(sudoGID, 10, 64)
	}
	return int(u), int(g), true
}

// ChownToRealUser changes the owner of path to the real invoking user when
// running under sudo. It is a no-op when not under sudo.
func ChownToRealUser(path string) {
	if uid, gid, ok := RealUser(); ok {
		os.Chown(path, uid, gid)
	}
}

// ConfigDir returns ~/.config/foxden, creating it if needed.
func ConfigDir() (string, error) {
	return ensureDir(".config", "foxden")
}

// DataDir returns ~/.local/share/foxden, creating it if needed.
func DataDir() (string, error) {
	return ensureDir(".local", "share", "foxden")
}

// CacheDir returns ~/.cache/foxden, creating it if needed.
func CacheDir() (string, error) {
	return ensureDir(".cache", "foxden")
}

// EngineDir returns the directory holding downloaded engine and forwarder
// binaries (~/.local/share/foxden/bin).
func EngineDir() (string, error) {
	return ensureDir(".local", "share", "foxden", "bin")
}

// EngineConfigDir returns the directory holding per-profile engine config
// files (~/.cache/foxden/engine).
func EngineConfigDir() (string, error) {
	return ensureDir(".cache", "foxden", "engine")
}

// PACDir returns the directory holding per-profile PAC files
// (~/.cache/foxden/pac).
func PACDir() (string, error) {
	return ensureDir(".cache", "foxden", "pac")
}

func ensureDir(elems ...string) (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(append([]string{home}, elems...)...)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	ChownToRealUser(dir)
	return dir, nil
}
