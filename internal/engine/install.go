package engine

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"foxden/internal/cmdrun"
	"foxden/internal/paths"
	pkgerrors "foxden/pkg/errors"
)

const githubAPI = "https://api.github.com"

type githubRelease struct {
	TagName string        `json:"tag_name"`
	Assets  []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

// Installer downloads release binaries from GitHub into the local
// binary directory. One Installer manages one binary.
type Installer struct {
	Repo    string // owner/name
	Binary  string // binary name inside the release archive
	Client  *http.Client
	BaseURL string // overrides the GitHub API endpoint, for tests
}

// NewInstaller builds an installer for the given repository and binary name.
func NewInstaller(repo, binary string) *Installer {
	return &Installer{
		Repo:   repo,
		Binary: binary,
		Client: &http.Client{Timeout: 10 * time.Minute},
	}
}

// Installed reports whether the binary is reachable, either on PATH or
// in the managed binary directory.
func (i *Installer) Installed() bool {
	return binaryAvailable(i.Binary)
}

// Path returns the resolved binary path, preferring the managed
// directory over PATH.
func (i *Installer) Path() (string, error) {
	return ResolveBinary(i.Binary)
}

// ResolveBinary locates a managed binary, preferring the managed
// directory over PATH.
func ResolveBinary(name string) (string, error) {
	dir, err := paths.EngineDir()
	if err == nil {
		managed := filepath.Join(dir, name)
		if _, statErr := os.Stat(managed); statErr == nil {
			return managed, nil
		}
	}
	if p, lookErr := exec.LookPath(name); lookErr == nil {
		return p, nil
	}
	return "", pkgerrors.ErrEngineNotInstalled
}

// Install downloads the latest release asset matching the current
// platform and places the binary in the managed directory. Install over
// an existing binary replaces it, so it doubles as Update.
func (i *Installer) Install(ctx context.Context) error {
	release, err := i.latestRelease(ctx)
	if err != nil {
		return err
	}

	asset := matchAsset(release.Assets, runtime.GOOS, runtime.GOARCH)
	if asset == nil {
		return &pkgerrors.DownloadError{
			URL:    i.Repo,
			Reason: fmt.Sprintf("no %s/%s asset in release %s", runtime.GOOS, runtime.GOARCH, release.TagName),
			Err:    pkgerrors.ErrDownloadFailed,
		}
	}

	tempDir, err := os.MkdirTemp("", "foxden-install-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	archivePath := filepath.Join(tempDir, asset.Name)
	if err := i.download(ctx, asset.BrowserDownloadURL, archivePath); err != nil {
		return err
	}

	binDir, err := paths.EngineDir()
	if err != nil {
		return err
	}

	dest := filepath.Join(binDir, i.Binary)
	if strings.HasSuffix(asset.Name, ".zip") {
		if err := extractBinary(archivePath, i.Binary, dest); err != nil {
			return fmt.Errorf("extract %s: %w", asset.Name, err)
		}
	} else {
		// raw binary asset
		if err := os.Rename(archivePath, dest); err != nil {
			return fmt.Errorf("install binary: %w", err)
		}
	}

	if err := os.Chmod(dest, 0o755); err != nil {
		return fmt.Errorf("chmod binary: %w", err)
	}
	paths.ChownToRealUser(dest)
	return nil
}

// InstalledVersion runs the binary with its version subcommand and
// parses the reported version.
func (i *Installer) InstalledVersion(runner cmdrun.Runner) (string, error) {
	path, err := i.Path()
	if err != nil {
		return "", err
	}
	out, err := runner.Output(path, "version")
	if err != nil {
		return "", err
	}
	return parseVersionOutput(string(out)), nil
}

func (i *Installer) latestRelease(ctx context.Context) (*githubRelease, error) {
	base := i.BaseURL
	if base == "" {
		base = githubAPI
	}
	url := fmt.Sprintf("%s/repos/%s/releases/latest", base, i.Repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := i.client().Do(req)
	if err != nil {
		return nil, &pkgerrors.DownloadError{URL: url, Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &pkgerrors.DownloadError{
			URL:    url,
			Reason: fmt.Sprintf("GitHub API returned %d", resp.StatusCode),
			Err:    pkgerrors.ErrDownloadFailed,
		}
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, &pkgerrors.DownloadError{URL: url, Reason: "decode response", Err: err}
	}
	return &release, nil
}

func (i *Installer) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := i.client().Do(req)
	if err != nil {
		return &pkgerrors.DownloadError{URL: url, Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &pkgerrors.DownloadError{
			URL:    url,
			Reason: fmt.Sprintf("HTTP %d", resp.StatusCode),
			Err:    pkgerrors.ErrDownloadFailed,
		}
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, resp.Body)
	return err
}

func (i *Installer) client() *http.Client {
	if i.Client != nil {
		return i.Client
	}
	return http.DefaultClient
}

// matchAsset picks the release asset for the given platform. Release
// naming differs between projects ("64" vs "amd64", "macos" vs
// "darwin"), so match against alias lists.
func matchAsset(assets []githubAsset, goos, goarch string) *githubAsset {
	osAliases := map[string][]string{
		"darwin": {"darwin", "macos"},
		"linux":  {"linux"},
	}
	archAliases := map[string][]string{
		"amd64": {"amd64", "64", "x86_64"},
		"arm64": {"arm64", "arm64-v8a", "aarch64"},
	}

	for idx := range assets {
		name := strings.ToLower(assets[idx].Name)
		if !containsAny(name, osAliases[goos]) {
			continue
		}
		if !containsAny(name, archAliases[goarch]) {
			continue
		}
		// "arm64-v8a" also contains "64"; make sure an amd64 match is
		// not actually an arm asset.
		if goarch == "amd64" && containsAny(name, archAliases["arm64"]) {
			continue
		}
		return &assets[idx]
	}
	return nil
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// extractBinary pulls one named file out of a zip archive.
func extractBinary(zipPath, name, dest string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		if filepath.Base(f.Name) != name || f.FileInfo().IsDir() {
			continue
		}
		src, err := f.Open()
		if err != nil {
			return err
		}
		dst, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
		if err != nil {
			src.Close()
			return err
		}
		_, err = io.Copy(dst, src)
		src.Close()
		dst.Close()
		return err
	}
	return fmt.Errorf("binary %s not found in archive", name)
}

// parseVersionOutput extracts the version token from a binary's version
// banner, e.g. "Xray 25.1.30 (Xray, Penetrates Everything.)".
func parseVersionOutput(out string) string {
	line := out
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	fields := strings.Fields(line)
	if len(fields) >= 2 {
		return strings.TrimPrefix(fields[1], "v")
	}
	return strings.TrimSpace(line)
}

// binaryAvailable reports whether name resolves on PATH or in the
// managed binary directory.
func binaryAvailable(name string) bool {
	_, err := ResolveBinary(name)
	return err == nil
}
