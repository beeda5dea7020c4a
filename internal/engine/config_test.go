package engine

import (
	"errors"
	"testing"

	"foxden/internal/storage/models"
	pkgerrors "foxden/pkg/errors"
)

func TestCompileInboundPorts(t *testing.T) {
	d := models.NewDescriptor(models.KindShadowsocks)
	d.Host = "example.com"
	d.Port = 8388
	d.Shadowsocks = &models.ShadowsocksSettings{Method: "aes-256-gcm", Password: "secret"}

	cfg, err := Compile(d, 24000)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if len(cfg.Inbounds) != 2 {
		t.Fatalf("expected 2 inbounds, got %d", len(cfg.Inbounds))
	}
	socks, http := cfg.Inbounds[0], cfg.Inbounds[1]
	if socks.Protocol != "socks" || socks.Port != 24000 {
		t.Errorf("socks inbound = %s:%d, want socks:24000", socks.Protocol, socks.Port)
	}
	if http.Protocol != "http" || http.Port != 24001 {
		t.Errorf("http inbound = %s:%d, want http:24001", http.Protocol, http.Port)
	}
	if socks.Listen != "127.0.0.1" || http.Listen != "127.0.0.1" {
		t.Error("inbounds must bind loopback only")
	}
}

func TestCompileOutboundTags(t *testing.T) {
	d := models.NewDescriptor(models.KindTrojan)
	d.Host = "example.com"
	d.Port = 443
	d.Trojan = &models.TrojanSettings{Password: "pw"}

	cfg, err := Compile(d, 24000)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	tags := make([]string, len(cfg.Outbounds))
	for i, ob := range cfg.Outbounds {
		tags[i] = ob.Tag
	}
	want := []string{"proxy", "direct", "block"}
	for i, tag := range want {
		if tags[i] != tag {
			t.Fatalf("outbound tags = %v, want %v", tags, want)
		}
	}
}

func TestCompileTrojanDefaults(t *testing.T) {
	d := models.NewDescriptor(models.KindTrojan)
	d.Host = "relay.example.net"
	d.Port = 443
	d.Trojan = &models.TrojanSettings{Password: "pw"}

	cfg, err := Compile(d, 24000)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	ss := cfg.Outbounds[0].StreamSettings
	if ss == nil || ss.Security != "tls" {
		t.Fatal("trojan outbound must use TLS")
	}
	if ss.TLSSettings.ServerName != "relay.example.net" {
		t.Errorf("SNI = %q, want host fallback", ss.TLSSettings.ServerName)
	}
	if len(ss.TLSSettings.ALPN) != 2 || ss.TLSSettings.ALPN[0] != "h2" {
		t.Errorf("ALPN = %v, want default [h2 http/1.1]", ss.TLSSettings.ALPN)
	}
}

func TestCompileVLESSReality(t *testing.T) {
	d := models.NewDescriptor(models.KindVLESS)
	d.Host = "example.com"
	d.Port = 443
	d.VLESS = &models.VLESSSettings{
		UUID:        "4ffcbc1b-683a-43ff-9a96-f0a0d6b0d18a",
		Flow:        "xtls-rprx-vision",
		Security:    "reality",
		SNI:         "www.cloudflare.com",
		Fingerprint: "chrome",
		PublicKey:   "pubkey",
		ShortID:     "abcd",
	}

	cfg, err := Compile(d, 24000)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	ss := cfg.Outbounds[0].StreamSettings
	if ss.Security != "reality" || ss.RealitySettings == nil {
		t.Fatal("expected reality stream security")
	}
	if ss.RealitySettings.ServerName != "www.cloudflare.com" {
		t.Errorf("reality serverName = %q", ss.RealitySettings.ServerName)
	}
	if ss.RealitySettings.PublicKey != "pubkey" || ss.RealitySettings.ShortID != "abcd" {
		t.Error("reality key material not carried into config")
	}
}

func TestCompileVMessWebsocket(t *testing.T) {
	d := models.NewDescriptor(models.KindVMess)
	d.Host = "example.com"
	d.Port = 443
	d.VMess = &models.VMessSettings{
		UUID:    "4ffcbc1b-683a-43ff-9a96-f0a0d6b0d18a",
		Network: "ws",
		Path:    "/tunnel",
		Host:    "cdn.example.com",
		TLS:     true,
	}

	cfg, err := Compile(d, 24000)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	ss := cfg.Outbounds[0].StreamSettings
	if ss.Network != "ws" || ss.WSSettings == nil {
		t.Fatal("expected websocket transport")
	}
	if ss.WSSettings.Path != "/tunnel" {
		t.Errorf("ws path = %q", ss.WSSettings.Path)
	}
	if ss.WSSettings.Headers["Host"] != "cdn.example.com" {
		t.Errorf("ws host header = %q", ss.WSSettings.Headers["Host"])
	}
	if ss.Security != "tls" {
		t.Error("expected tls security for TLS-enabled vmess")
	}
}

func TestCompileRejectsPlainProtocols(t *testing.T) {
	for _, kind := range []models.Kind{models.KindSOCKS5, models.KindHTTP} {
		d := models.NewDescriptor(kind)
		d.Host = "example.com"
		d.Port = 1080

		if _, err := Compile(d, 24000); !errors.Is(err, pkgerrors.ErrUnsupportedProtocol) {
			t.Errorf("Compile(%s) error = %v, want ErrUnsupportedProtocol", kind, err)
		}
	}
}

func TestCompileRejectsMissingSettings(t *testing.T) {
	d := models.NewDescriptor(models.KindVMess)
	d.Host = "example.com"
	d.Port = 443
	// VMess pointer deliberately left nil

	if _, err := Compile(d, 24000); !errors.Is(err, pkgerrors.ErrUnsupportedProtocol) {
		t.Errorf("Compile error = %v, want ErrUnsupportedProtocol", err)
	}
}
