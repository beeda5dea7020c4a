package engine

import (
	"fmt"

	"foxden/internal/storage/models"
	pkgerrors "foxden/pkg/errors"
)

// Config is the root declarative configuration handed to the engine binary.
type Config struct {
	Log       *LogConfig       `json:"log,omitempty"`
	Inbounds  []InboundConfig  `json:"inbounds"`
	Outbounds []OutboundConfig `json:"outbounds"`
	Routing   *RoutingConfig   `json:"routing,omitempty"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	LogLevel string `json:"loglevel"`
}

// InboundConfig represents an inbound listener
type InboundConfig struct {
	Tag      string                 `json:"tag"`
	Port     int                    `json:"port"`
	Listen   string                 `json:"listen,omitempty"`
	Protocol string                 `json:"protocol"`
	Settings map[string]interface{} `json:"settings,omitempty"`
	Sniffing *SniffingConfig        `json:"sniffing,omitempty"`
}

// SniffingConfig represents traffic sniffing configuration
type SniffingConfig struct {
	Enabled      bool     `json:"enabled"`
	DestOverride []string `json:"destOverride"`
	RouteOnly    bool     `json:"routeOnly,omitempty"`
}

// OutboundConfig represents an outbound connection handler
type OutboundConfig struct {
	Tag            string                 `json:"tag"`
	Protocol       string                 `json:"protocol"`
	Settings       map[string]interface{} `json:"settings,omitempty"`
	StreamSettings *StreamSettings        `json:"streamSettings,omitempty"`
}

// StreamSettings represents transport + security settings
type StreamSettings struct {
	Network         string           `json:"network"`
	Security        string           `json:"security,omitempty"`
	TLSSettings     *TLSSettings     `json:"tlsSettings,omitempty"`
	RealitySettings *RealitySettings `json:"realitySettings,omitempty"`
	WSSettings      *WSSettings      `json:"wsSettings,omitempty"`
	GRPCSettings    *GRPCSettings    `json:"grpcSettings,omitempty"`
	HTTPSettings    *HTTPSettings    `json:"httpSettings,omitempty"`
}

// TLSSettings represents TLS settings
type TLSSettings struct {
	ServerName  string   `json:"serverName,omitempty"`
	ALPN        []string `json:"alpn,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
}

// RealitySettings represents REALITY protocol settings
type RealitySettings struct {
	ServerName  string `json:"serverName,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	PublicKey   string `json:"publicKey,omitempty"`
	ShortID     string `json:"shortId,omitempty"`
}

// WSSettings represents WebSocket settings
type WSSettings struct {
	Path    string            `json:"path,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// GRPCSettings represents gRPC settings
type GRPCSettings struct {
	ServiceName string `json:"serviceName,omitempty"`
}

// HTTPSettings represents HTTP/2 settings
type HTTPSettings struct {
	Path string   `json:"path,omitempty"`
	Host []string `json:"host,omitempty"`
}

// RoutingConfig represents routing configuration
type RoutingConfig struct {
	DomainStrategy string        `json:"domainStrategy,omitempty"`
	Rules          []RoutingRule `json:"rules,omitempty"`
}

// RoutingRule represents a routing rule
type RoutingRule struct {
	Type        string   `json:"type,omitempty"`
	IP          []string `json:"ip,omitempty"`
	Network     string   `json:"network,omitempty"`
	OutboundTag string   `json:"outboundTag"`
}

// Compile builds the engine configuration for a descriptor on the given
// local port: a SOCKS5 inbound on port, an HTTP inbound on port+1, the
// protocol outbound, and fixed direct/block outbounds. Plain SOCKS5/HTTP
// descriptors bypass the engine entirely and are rejected here.
func Compile(d *models.Descriptor, port int) (*Config, error) {
	outbound, err := compileOutbound(d)
	if err != nil {
		return nil, err
	}
	outbound.Tag = "proxy"

	cfg := &Config{
		Log: &LogConfig{LogLevel: "warning"},
		Inbounds: []InboundConfig{
			{
				Tag:      "socks-in",
				Port:     port,
				Listen:   "127.0.0.1",
				Protocol: "socks",
				Settings: map[string]interface{}{
					"auth": "noauth",
					"udp":  true,
				},
				Sniffing: &SniffingConfig{
					Enabled:      true,
					DestOverride: []string{"http", "tls"},
					RouteOnly:    true,
				},
			},
			{
				Tag:      "http-in",
				Port:     port + 1,
				Listen:   "127.0.0.1",
				Protocol: "http",
				Sniffing: &SniffingConfig{
					Enabled:      true,
					DestOverride: []string{"http", "tls"},
					RouteOnly:    true,
				},
			},
		},
		Outbounds: []OutboundConfig{
			*outbound,
			{
				Tag:      "direct",
				Protocol: "freedom",
				Settings: map[string]interface{}{
					"domainStrategy": "UseIPv4",
				},
			},
			{
				Tag:      "block",
				Protocol: "blackhole",
			},
		},
		Routing: &RoutingConfig{
			DomainStrategy: "AsIs",
			Rules: []RoutingRule{
				{
					Type:        "field",
					IP:          []string{"geoip:private"},
					OutboundTag: "direct",
				},
				{
					Type:        "field",
					Network:     "tcp,udp",
					OutboundTag: "proxy",
				},
			},
		},
	}

	return cfg, nil
}

func compileOutbound(d *models.Descriptor) (*OutboundConfig, error) {
	switch d.Kind {
	case models.KindShadowsocks:
		if d.Shadowsocks == nil {
			return nil, fmt.Errorf("%w: shadowsocks descriptor without settings", pkgerrors.ErrUnsupportedProtocol)
		}
		return compileShadowsocks(d), nil
	case models.KindVMess:
		if d.VMess == nil {
			return nil, fmt.Errorf("%w: vmess descriptor without settings", pkgerrors.ErrUnsupportedProtocol)
		}
		return compileVMess(d), nil
	case models.KindVLESS:
		if d.VLESS == nil {
			return nil, fmt.Errorf("%w: vless descriptor without settings", pkgerrors.ErrUnsupportedProtocol)
		}
		return compileVLESS(d), nil
	case models.KindTrojan:
		if d.Trojan == nil {
			return nil, fmt.Errorf("%w: trojan descriptor without settings", pkgerrors.ErrUnsupportedProtocol)
		}
		return compileTrojan(d), nil
	default:
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrUnsupportedProtocol, d.Kind)
	}
}

func compileShadowsocks(d *models.Descriptor) *OutboundConfig {
	return &OutboundConfig{
		Protocol: "shadowsocks",
		Settings: map[string]interface{}{
			"servers": []map[string]interface{}{
				{
					"address":  d.Host,
					"port":     d.Port,
					"method":   d.Shadowsocks.Method,
					"password": d.Shadowsocks.Password,
				},
			},
		},
	}
}

func compileVMess(d *models.Descriptor) *OutboundConfig {
	s := d.VMess

	security := s.Security
	if security == "" {
		security = "auto"
	}

	out := &OutboundConfig{
		Protocol: "vmess",
		Settings: map[string]interface{}{
			"vnext": []map[string]interface{}{
				{
					"address": d.Host,
					"port":    d.Port,
					"users": []map[string]interface{}{
						{
							"id":       s.UUID,
							"alterId":  s.AlterID,
							"security": security,
						},
					},
				},
			},
		},
		StreamSettings: transportSettings(s.Network, s.Path, s.Host),
	}

	if s.TLS {
		out.StreamSettings.Security = "tls"
		out.StreamSettings.TLSSettings = &TLSSettings{ServerName: s.Host}
	}

	return out
}

func compileVLESS(d *models.Descriptor) *OutboundConfig {
	s := d.VLESS

	user := map[string]interface{}{
		"id":         s.UUID,
		"encryption": "none",
	}
	if s.Flow != "" {
		user["flow"] = s.Flow
	}

	out := &OutboundConfig{
		Protocol: "vless",
		Settings: map[string]interface{}{
			"vnext": []map[string]interface{}{
				{
					"address": d.Host,
					"port":    d.Port,
					"users":   []map[string]interface{}{user},
				},
			},
		},
		StreamSettings: transportSettings(s.Network, s.Path, s.Host),
	}

	switch s.Security {
	case "reality":
		out.StreamSettings.Security = "reality"
		out.StreamSettings.RealitySettings = &RealitySettings{
			ServerName:  s.SNI,
			Fingerprint: s.Fingerprint,
			PublicKey:   s.PublicKey,
			ShortID:     s.ShortID,
		}
	case "tls":
		out.StreamSettings.Security = "tls"
		out.StreamSettings.TLSSettings = &TLSSettings{
			ServerName:  s.SNI,
			Fingerprint: s.Fingerprint,
			ALPN:        s.ALPN,
		}
	}

	return out
}

func compileTrojan(d *models.Descriptor) *OutboundConfig {
	s := d.Trojan

	sni := s.SNI
	if sni == "" {
		sni = d.Host
	}
	alpn := s.ALPN
	if len(alpn) == 0 {
		alpn = []string{"h2", "http/1.1"}
	}

	return &OutboundConfig{
		Protocol: "trojan",
		Settings: map[string]interface{}{
			"servers": []map[string]interface{}{
				{
					"address":  d.Host,
					"port":     d.Port,
					"password": s.Password,
				},
			},
		},
		StreamSettings: &StreamSettings{
			Network:  "tcp",
			Security: "tls",
			TLSSettings: &TLSSettings{
				ServerName:  sni,
				Fingerprint: s.Fingerprint,
				ALPN:        alpn,
			},
		},
	}
}

// transportSettings builds the stream transport block keyed by network type.
func transportSettings(network, path, host string) *StreamSettings {
	if network == "" {
		network = "tcp"
	}
	ss := &StreamSettings{Network: network}

	switch network {
	case "ws":
		ws := &WSSettings{Path: path}
		if host != "" {
			ws.Headers = map[string]string{"Host": host}
		}
		ss.WSSettings = ws
	case "grpc":
		ss.GRPCSettings = &GRPCSettings{ServiceName: path}
	case "http", "h2":
		hs := &HTTPSettings{Path: path}
		if host != "" {
			hs.Host = []string{host}
		}
		ss.HTTPSettings = hs
	}

	return ss
}
