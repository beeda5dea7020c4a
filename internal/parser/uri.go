package parser

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"foxden/internal/storage/models"
)

// SOCKS5Parser implements Parser for plain SOCKS5 proxies.
type SOCKS5Parser struct{}

func (p *SOCKS5Parser) Protocol() string {
	return "socks5"
}

func (p *SOCKS5Parser) Parse(uri string) (*models.Descriptor, error) {
	if !strings.HasPrefix(uri, "socks5://") && !strings.HasPrefix(uri, "socks://") {
		return nil, malformed(uri, "missing socks5:// prefix")
	}
	return parsePlainProxy(uri, models.KindSOCKS5, "SOCKS5")
}

func (p *SOCKS5Parser) Encode(d *models.Descriptor) (string, error) {
	return encodePlainProxy(d, "socks5")
}

// HTTPParser implements Parser for plain HTTP(S) proxies.
type HTTPParser struct{}

func (p *HTTPParser) Protocol() string {
	return "http"
}

func (p *HTTPParser) Parse(uri string) (*models.Descriptor, error) {
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		return nil, malformed(uri, "missing http:// prefix")
	}
	return parsePlainProxy(uri, models.KindHTTP, "HTTP")
}

func (p *HTTPParser) Encode(d *models.Descriptor) (string, error) {
	return encodePlainProxy(d, "http")
}

// parsePlainProxy handles the shared socks5/http grammar:
// scheme://[user[:pass]@]host:port#name
func parsePlainProxy(uri string, kind models.Kind, fallbackName string) (*models.Descriptor, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, malformed(uri, "%v", err)
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

	d := models.NewDescriptor(kind)
	d.Name = fragmentName(u.Fragment, fallbackName)
	d.Host = host
	d.Port = port

	if u.User != nil {
		d.Username = u.User.Username()
		d.Password, _ = u.User.Password()
	}

	return d, nil
}

func encodePlainProxy(d *models.Descriptor, scheme string) (string, error) {
	u := &url.URL{
		Scheme: scheme,
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
	}
	if d.Username != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.Username, d.Password)
		} else {
			u.User = url.User(d.Username)
		}
	}
	u.Fragment = d.Name
	return u.String(), nil
}
