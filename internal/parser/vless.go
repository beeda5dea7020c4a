package parser

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"foxden/internal/storage/models"
	pkgerrors "foxden/pkg/errors"
)

// VLESSParser implements Parser for VLESS protocol
type VLESSParser struct{}

func (p *VLESSParser) Protocol() string {
	return "vless"
}

func (p *VLESSParser) Parse(uri string) (*models.Descriptor, error) {
	// VLESS URI format: vless://uuid@host:port?parameters#name
	if !strings.HasPrefix(uri, "vless://") {
		return nil, malformed(uri, "missing vless:// prefix")
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, malformed(uri, "%v", err)
	}

	uuid := u.User.Username()
	if uuid == "" {
		return nil, malformed(uri, "user id is required")
	}

	host := u.Hostname()
	portStr := u.Port()
	if host == "" || portStr == "" {
		return nil, malformed(uri, "host and port are required")
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return nil, malformed(uri, "invalid port %q", portStr)
	}

	query := u.Query()

	network := query.Get("type")
	if network == "" {
		network = "tcp"
	}

	settings := &models.VLESSSettings{
		UUID:        uuid,
		Flow:        query.Get("flow"),
		Encryption:  query.Get("encryption"),
		Network:     network,
		Security:    query.Get("security"),
		SNI:         query.Get("sni"),
		Fingerprint: query.Get("fp"),
		PublicKey:   query.Get("pbk"),
		ShortID:     query.Get("sid"),
		Path:        query.Get("path"),
		Host:        query.Get("host"),
	}
	if alpn := query.Get("alpn"); alpn != "" {
		settings.ALPN = strings.Split(alpn, ",")
	}

	d := models.NewDescriptor(models.KindVLESS)
	d.Name = fragmentName(u.Fragment, "VLESS")
	d.Host = host
	d.Port = port
	d.VLESS = settings

	return d, nil
}

func (p *VLESSParser) Encode(d *models.Descriptor) (string, error) {
	if d.VLESS == nil {
		return "", pkgerrors.ErrDescriptorInvalid
	}
	s := d.VLESS

	u := &url.URL{
		Scheme: "vless",
		User:   url.User(s.UUID),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
	}

	query := url.Values{}
	if s.Network != "" && s.Network != "tcp" {
		query.Set("type", s.Network)
	}
	if s.Flow != "" {
		query.Set("flow", s.Flow)
	}
	if s.Encryption != "" {
		query.Set("encryption", s.Encryption)
	}
	if s.Security != "" {
		query.Set("security", s.Security)
	}
	if s.SNI != "" {
		query.Set("sni", s.SNI)
	}
	if s.Fingerprint != "" {
		query.Set("fp", s.Fingerprint)
	}
	if s.PublicKey != "" {
		query.Set("pbk", s.PublicKey)
	}
	if s.ShortID != "" {
		query.Set("sid", s.ShortID)
	}
	if s.Path != "" {
		query.Set("path", s.Path)
	}
	if s.Host != "" {
		query.Set("host", s.Host)
	}
	if len(s.ALPN) > 0 {
		query.Set("alpn", strings.Join(s.ALPN, ","))
	}

	u.RawQuery = query.Encode()
	u.Fragment = d.Name

	return u.String(), nil
}

// fragmentName percent-decodes a URI fragment into a display name,
// falling back to the protocol name when absent.
func fragmentName(fragment, fallback string) string {
	if fragment == "" {
		return fallback
	}
	if decoded, err := url.QueryUnescape(fragment); err == nil && decoded != "" {
		return decoded
	}
	return fragment
}
