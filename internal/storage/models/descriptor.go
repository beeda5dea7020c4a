package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a proxy protocol family.
type Kind string

const (
	KindSOCKS5      Kind = "socks5"
	KindHTTP        Kind = "http"
	KindShadowsocks Kind = "shadowsocks"
	KindVMess       Kind = "vmess"
	KindVLESS       Kind = "vless"
	KindTrojan      Kind = "trojan"
)

// Status is the last known health of a proxy.
type Status string

const (
	StatusUnchecked Status = "unchecked"
	StatusAlive     Status = "alive"
	StatusDead      Status = "dead"
)

// Descriptor is the structured representation of a proxy connection string.
// Exactly one protocol settings variant is set, matching Kind; the plain
// SOCKS5/HTTP kinds carry no variant and never reach the engine compiler.
type Descriptor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind Kind   `json:"kind"`

	// Connection details
	Host string `json:"host"`
	Port int    `json:"port"`

	// Optional credentials (SOCKS5/HTTP basic auth)
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// Protocol-specific settings (exactly one, matching Kind)
	Shadowsocks *ShadowsocksSettings `json:"shadowsocks,omitempty"`
	VMess       *VMessSettings       `json:"vmess,omitempty"`
	VLESS       *VLESSSettings       `json:"vless,omitempty"`
	Trojan      *TrojanSettings      `json:"trojan,omitempty"`

	// Health
	Status    Status     `json:"status"`
	LatencyMS *int64     `json:"latency_ms,omitempty"`
	CheckedAt *time.Time `json:"checked_at,omitempty"`

	// Geo metadata resolved for the exit address
	Country  string `json:"country,omitempty"`
	City     string `json:"city,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	Tags []string `json:"tags,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ShadowsocksSettings holds Shadowsocks cipher configuration.
type ShadowsocksSettings struct {
	Method   string `json:"method"`
	Password string `json:"password"`
}

// VMessSettings holds VMess user and transport configuration.
type VMessSettings struct {
	UUID     string `json:"uuid"`
	AlterID  int    `json:"alter_id"`
	Security string `json:"security,omitempty"` // cipher, defaults to "auto"
	Network  string `json:"network"`            // tcp, ws, grpc, http
	Path     string `json:"path,omitempty"`
	Host     string `json:"host,omitempty"`
	TLS      bool   `json:"tls"`
}

// VLESSSettings holds VLESS user, transport, and TLS/REALITY configuration.
type VLESSSettings struct {
	UUID        string   `json:"uuid"`
	Flow        string   `json:"flow,omitempty"`
	Encryption  string   `json:"encryption,omitempty"` // defaults to "none"
	Network     string   `json:"network"`
	Security    string   `json:"security,omitempty"` // none, tls, reality
	SNI         string   `json:"sni,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	PublicKey   string   `json:"public_key,omitempty"`
	ShortID     string   `json:"short_id,omitempty"`
	Path        string   `json:"path,omitempty"`
	Host        string   `json:"host,omitempty"`
	ALPN        []string `json:"alpn,omitempty"`
}

// TrojanSettings holds Trojan password and TLS configuration.
type TrojanSettings struct {
	Password    string   `json:"password"`
	SNI         string   `json:"sni,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	ALPN        []string `json:"alpn,omitempty"`
}

// NewDescriptor creates a descriptor with a fresh identity and timestamps.
func NewDescriptor(kind Kind) *Descriptor {
	now := time.Now()
	return &Descriptor{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    StatusUnchecked,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RequiresEngine reports whether this descriptor's protocol must be
// terminated by the local proxy engine. Plain SOCKS5/HTTP proxies are
// consumed directly and bypass the engine.
func (d *Descriptor) RequiresEngine() bool {
	switch d.Kind {
	case KindShadowsocks, KindVMess, KindVLESS, KindTrojan:
		return true
	}
	return false
}

// Endpoint returns the upstream host:port pair.
func (d *Descriptor) Endpoint() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// Validate checks structural invariants: non-empty host, port range, and
// agreement between Kind and the settings variant.
func (d *Descriptor) Validate() error {
	if d.Host == "" {
		return fmt.Errorf("host is required")
	}
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("invalid port: %d", d.Port)
	}

	variants := 0
	if d.Shadowsocks != nil {
		variants++
	}
	if d.VMess != nil {
		variants++
	}
	if d.VLESS != nil {
		variants++
	}
	if d.Trojan != nil {
		variants++
	}

	switch d.Kind {
	case KindSOCKS5, KindHTTP:
		if variants != 0 {
			return fmt.Errorf("%s descriptor must not carry protocol settings", d.Kind)
		}
	case KindShadowsocks:
		if d.Shadowsocks == nil || variants != 1 {
			return fmt.Errorf("shadowsocks descriptor requires exactly the shadowsocks settings variant")
		}
	case KindVMess:
		if d.VMess == nil || variants != 1 {
			return fmt.Errorf("vmess descriptor requires exactly the vmess settings variant")
		}
	case KindVLESS:
		if d.VLESS == nil || variants != 1 {
			return fmt.Errorf("vless descriptor requires exactly the vless settings variant")
		}
	case KindTrojan:
		if d.Trojan == nil || variants != 1 {
			return fmt.Errorf("trojan descriptor requires exactly the trojan settings variant")
		}
	default:
		return fmt.Errorf("unknown protocol kind: %q", d.Kind)
	}

	return nil
}
