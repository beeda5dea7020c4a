package netif

import (
	"fmt"
	"os"
	"path/filepath"

	"foxden/internal/paths"
)

// pacTemplate routes every URL through the SOCKS proxy, falling back to
// a direct connection if the proxy is unreachable.
const pacTemplate = `function FindProxyForURL(url, host) {
    return "SOCKS5 %s; DIRECT";
}
`

// GeneratePAC renders a proxy auto-config script pointing at the given
// SOCKS endpoint (host:port).
func GeneratePAC(socksAddr string) string {
	return fmt.Sprintf(pacTemplate, socksAddr)
}

// WritePAC writes the profile's PAC file and returns a file:// URL the
// system proxy layer can point at.
func WritePAC(profile, socksAddr string) (string, error) {
	dir, err := paths.PACDir()
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, profile+".pac")
	if err := os.WriteFile(path, []byte(GeneratePAC(socksAddr)), 0o644); err != nil {
		return "", fmt.Errorf("writing PAC file: %w", err)
	}
	return "file://" + path, nil
}

// RemovePAC deletes the profile's PAC file if present.
func RemovePAC(profile string) {
	dir, err := paths.PACDir()
	if err != nil {
		return
	}
	os.Remove(filepath.Join(dir, profile+".pac"))
}
