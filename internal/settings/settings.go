package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"foxden/internal/paths"
)

// Settings holds the tunable parameters for the isolation subsystem.
// The grace and readiness values are tunables, not correctness guarantees:
// the engine and TUN forwarder expose no readiness signal, so liveness is
// verified by bounded polling.
type Settings struct {
	// BasePort is the first local port considered for engine allocation.
	// Each session takes two consecutive ports (SOCKS, HTTP).
	BasePort int `yaml:"base_port"`

	// EngineGrace is how long to watch a freshly spawned engine process
	// before declaring it live.
	EngineGrace time.Duration `yaml:"engine_grace"`

	// InterfaceReadyTimeout bounds the poll for a created TUN interface
	// to appear in the OS interface table.
	InterfaceReadyTimeout time.Duration `yaml:"interface_ready_timeout"`

	// InterfaceIndexOffset is the first virtual interface index used,
	// kept above indices the OS claims for its own utun/tun devices.
	InterfaceIndexOffset int `yaml:"interface_index_offset"`

	// EngineBinary and ForwarderBinary name the external binaries; bare
	// names are resolved against EngineDir and then PATH.
	EngineBinary    string `yaml:"engine_binary"`
	ForwarderBinary string `yaml:"forwarder_binary"`

	// Release repositories for install/update.
	EngineRepo    string `yaml:"engine_repo"`
	ForwarderRepo string `yaml:"forwarder_repo"`

	// CheckWorkers and CheckTimeout drive bulk proxy health checks.
	CheckWorkers  int64         `yaml:"check_workers"`
	CheckTimeout  time.Duration `yaml:"check_timeout"`
	CheckInterval time.Duration `yaml:"check_interval"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in settings.
func Default() *Settings {
	return &Settings{
		BasePort:              24000,
		EngineGrace:           1 * time.Second,
		InterfaceReadyTimeout: 3 * time.Second,
		InterfaceIndexOffset:  32,
		EngineBinary:          "xray",
		ForwarderBinary:       "tun2socks",
		EngineRepo:            "XTLS/Xray-core",
		ForwarderRepo:         "xjasonlyu/tun2socks",
		CheckWorkers:          10,
		CheckTimeout:          5 * time.Second,
		CheckInterval:         30 * time.Minute,
		LogLevel:              "info",
	}
}

// Load reads settings.yaml from the config directory, overlaying the
// defaults. A missing file is not an error.
func Load() (*Settings, error) {
	dir, err := paths.ConfigDir()
	if err != nil {
		return nil, err
	}
	return LoadFile(filepath.Join(dir, "settings.yaml"))
}

// LoadFile reads settings from an explicit path, overlaying the defaults.
func LoadFile(path string) (*Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	if s.BasePort < 1024 || s.BasePort > 65000 {
		return nil, fmt.Errorf("base_port %d out of range", s.BasePort)
	}
	if s.InterfaceIndexOffset < 1 {
		return nil, fmt.Errorf("interface_index_offset must be positive")
	}

	return s, nil
}

// Save writes the settings back to the given path.
func (s *Settings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	paths.ChownToRealUser(path)
	return nil
}
