package parser

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"foxden/internal/storage/models"
	pkgerrors "foxden/pkg/errors"
)

// ShadowsocksParser implements Parser for Shadowsocks protocol
type ShadowsocksParser struct{}

func (p *ShadowsocksParser) Protocol() string {
	return "shadowsocks"
}

// Parse handles both wire grammars:
//
//	ss://base64(method:password)@host:port#name
//	ss://base64(method:password@host:port)#name
func (p *ShadowsocksParser) Parse(uri string) (*models.Descriptor, error) {
	orig := uri
	if !strings.HasPrefix(uri, "ss://") && !strings.HasPrefix(uri, "shadowsocks://") {
		return nil, malformed(orig, "missing ss:// prefix")
	}

	uri = strings.TrimPrefix(uri, "ss://")
	uri = strings.TrimPrefix(uri, "shadowsocks://")

	// Split fragment (display name)
	name := "Shadowsocks"
	if idx := strings.Index(uri, "#"); idx != -1 {
		if decoded, err := url.QueryUnescape(uri[idx+1:]); err == nil && decoded != "" {
			name = decoded
		}
		uri = uri[:idx]
	}

	var method, password, hostPort string

	if at := strings.Index(uri, "@"); at != -1 {
		// Grammar 1: only the userinfo is encoded.
		decoded, err := decodeBase64(uri[:at])
		if err != nil {
			return nil, &pkgerrors.ParseError{URI: orig, Err: err}
		}
		creds := strings.SplitN(string(decoded), ":", 2)
		if len(creds) != 2 {
			return nil, malformed(orig, "expected method:password in userinfo")
		}
		method, password = creds[0], creds[1]
		hostPort = uri[at+1:]
	} else {
		// Grammar 2: the whole body is encoded.
		decoded, err := decodeBase64(uri)
		if err != nil {
			return nil, &pkgerrors.ParseError{URI: orig, Err: err}
		}
		body := string(decoded)
		creds := strings.SplitN(body, ":", 2)
		if len(creds) != 2 {
			return nil, malformed(orig, "expected method:password@host:port")
		}
		method = creds[0]
		// The password may contain '@'; host:port cannot, so split on
		// the last one.
		at := strings.LastIndex(creds[1], "@")
		if at == -1 {
			return nil, malformed(orig, "expected method:password@host:port")
		}
		password, hostPort = creds[1][:at], creds[1][at+1:]
	}

	host, portStr, ok := splitHostPort(hostPort)
	if !ok {
		return nil, malformed(orig, "expected host:port, got %q", hostPort)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return nil, malformed(orig, "invalid port %q", portStr)
	}

	d := models.NewDescriptor(models.KindShadowsocks)
	d.Name = name
	d.Host = host
	d.Port = port
	d.Shadowsocks = &models.ShadowsocksSettings{
		Method:   method,
		Password: password,
	}

	return d, nil
}

func (p *ShadowsocksParser) Encode(d *models.Descriptor) (string, error) {
	if d.Shadowsocks == nil {
		return "", pkgerrors.ErrDescriptorInvalid
	}

	userinfo := fmt.Sprintf("%s:%s", d.Shadowsocks.Method, d.Shadowsocks.Password)
	encoded := base64.RawURLEncoding.EncodeToString([]byte(userinfo))

	return fmt.Sprintf("ss://%s@%s:%d#%s",
		encoded, d.Host, d.Port, url.QueryEscape(d.Name)), nil
}

// splitHostPort splits on the last colon so bracketed IPv6 literals work.
func splitHostPort(s string) (host, port string, ok bool) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return "", "", false
	}
	host = strings.Trim(s[:idx], "[]")
	return host, s[idx+1:], host != ""
}
