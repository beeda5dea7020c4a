package parser

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"foxden/internal/storage/models"
	pkgerrors "foxden/pkg/errors"
)

// TrojanParser implements Parser for Trojan protocol
type TrojanParser struct{}

func (p *TrojanParser) Protocol() string {
	return "trojan"
}

func (p *TrojanParser) Parse(uri string) (*models.Descriptor, error) {
	// Trojan URI format: trojan://password@host:port?parameters#name
	if !strings.HasPrefix(uri, "trojan://") {
		return nil, malformed(uri, "missing trojan:// prefix")
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, malformed(uri, "%v", err)
	}

	password := u.User.Username()
	if password == "" {
		return nil, malformed(uri, "password is required")
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

	settings := &models.TrojanSettings{
		Password:    password,
		SNI:         query.Get("sni"),
		Fingerprint: query.Get("fp"),
	}
	if alpn := query.Get("alpn"); alpn != "" {
		settings.ALPN = strings.Split(alpn, ",")
	}

	d := models.NewDescriptor(models.KindTrojan)
	d.Name = fragmentName(u.Fragment, "Trojan")
	d.Host = host
	d.Port = port
	d.Trojan = settings

	return d, nil
}

func (p *TrojanParser) Encode(d *models.Descriptor) (string, error) {
	if d.Trojan == nil {
		return "", pkgerrors.ErrDescriptorInvalid
	}
	s := d.Trojan

	u := &url.URL{
		Scheme: "trojan",
		User:   url.User(s.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
	}

	query := url.Values{}
	if s.SNI != "" {
		query.Set("sni", s.SNI)
	}
	if s.Fingerprint != "" {
		query.Set("fp", s.Fingerprint)
	}
	if len(s.ALPN) > 0 {
		query.Set("alpn", strings.Join(s.ALPN, ","))
	}

	u.RawQuery = query.Encode()
	u.Fragment = d.Name

	return u.String(), nil
}
