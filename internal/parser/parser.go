package parser

import (
	"encoding/base64"
	"fmt"
	"strings"

	"foxden/internal/storage/models"
	pkgerrors "foxden/pkg/errors"
)

// Parser defines the interface for protocol parsers
type Parser interface {
	// Parse parses a connection string into a Descriptor
	Parse(uri string) (*models.Descriptor, error)

	// Encode encodes a Descriptor back into a connection string
	Encode(d *models.Descriptor) (string, error)

	// Protocol returns the protocol name
	Protocol() string
}

// Registry manages protocol parsers
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry creates a new parser registry
func NewRegistry() *Registry {
	r := &Registry{
		parsers: make(map[string]Parser),
	}

	// Register built-in parsers
	r.Register(&ShadowsocksParser{})
	r.Register(&VMessParser{})
	r.Register(&VLESSParser{})
	r.Register(&TrojanParser{})
	r.Register(&SOCKS5Parser{})
	r.Register(&HTTPParser{})

	return r
}

// Register registers a new parser
func (r *Registry) Register(parser Parser) {
	r.parsers[strings.ToLower(parser.Protocol())] = parser
}

// Get retrieves a parser by protocol name
func (r *Registry) Get(protocol string) (Parser, bool) {
	parser, ok := r.parsers[strings.ToLower(protocol)]
	return parser, ok
}

// Resolve returns the parser responsible for the scheme of uri.
func (r *Registry) Resolve(uri string) (Parser, error) {
	uri = strings.TrimSpace(uri)

	idx := strings.Index(uri, "://")
	if idx == -1 {
		return nil, &pkgerrors.ParseError{
			URI: uri,
			Err: fmt.Errorf("%w: missing scheme", pkgerrors.ErrMalformedURI),
		}
	}

	scheme := strings.ToLower(uri[:idx])

	// Scheme aliases
	switch scheme {
	case "ss":
		scheme = "shadowsocks"
	case "socks":
		scheme = "socks5"
	case "https":
		scheme = "http"
	}

	parser, ok := r.Get(scheme)
	if !ok {
		return nil, &pkgerrors.ParseError{
			URI: uri,
			Err: fmt.Errorf("%w: %s", pkgerrors.ErrUnsupportedScheme, scheme),
		}
	}

	return parser, nil
}

// Parse parses a connection string, dispatching on its scheme.
func (r *Registry) Parse(uri string) (*models.Descriptor, error) {
	parser, err := r.Resolve(uri)
	if err != nil {
		return nil, err
	}

	return parser.Parse(uri)
}

// Encode encodes a descriptor using the parser for its kind.
func (r *Registry) Encode(d *models.Descriptor) (string, error) {
	parser, ok := r.Get(string(d.Kind))
	if !ok {
		return "", fmt.Errorf("%w: %s", pkgerrors.ErrUnsupportedScheme, d.Kind)
	}
	return parser.Encode(d)
}

// ListProtocols returns a list of all supported protocols
func (r *Registry) ListProtocols() []string {
	protocols := make([]string, 0, len(r.parsers))
	for protocol := range r.parsers {
		protocols = append(protocols, protocol)
	}
	return protocols
}

// decodeBase64 decodes subscription-style base64 which appears in the wild
// with and without padding, in both standard and URL-safe alphabets.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)

	decoded, err := base64.RawURLEncoding.DecodeString(s)
	if err == nil {
		return decoded, nil
	}
	decoded, err = base64.RawStdEncoding.DecodeString(s)
	if err == nil {
		return decoded, nil
	}
	decoded, err = base64.StdEncoding.DecodeString(s)
	if err == nil {
		return decoded, nil
	}
	return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidEncoding, err)
}

func malformed(uri, format string, args ...interface{}) error {
	return &pkgerrors.ParseError{
		URI: uri,
		Err: fmt.Errorf("%w: %s", pkgerrors.ErrMalformedURI, fmt.Sprintf(format, args...)),
	}
}
