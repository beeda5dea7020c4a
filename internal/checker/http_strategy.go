package checker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"foxden/internal/storage/models"
)

const httpProbeURL = "http://www.gstatic.com/generate_204"

// HTTPStrategy measures latency with an HTTP request routed through the
// proxy itself. Heavier than TCP but validates the proxy actually
// forwards traffic. Only plain SOCKS5 and HTTP descriptors can carry
// the probe; engine protocols fall back to a TCP handshake.
type HTTPStrategy struct {
	// ProbeURL overrides the probe target, for tests.
	ProbeURL string
	// Transport overrides transport construction, for tests.
	Transport func(proxyURL *url.URL) http.RoundTripper

	tcp TCPStrategy
}

func (s *HTTPStrategy) Name() string { return "http" }

func (s *HTTPStrategy) Check(ctx context.Context, d *models.Descriptor) (int64, error) {
	if d.RequiresEngine() {
		return s.tcp.Check(ctx, d)
	}

	proxyURL := &url.URL{
		Scheme: string(d.Kind),
		Host:   d.Endpoint(),
	}
	if d.Username != "" {
		proxyURL.User = url.UserPassword(d.Username, d.Password)
	}

	var transport http.RoundTripper
	if s.Transport != nil {
		transport = s.Transport(proxyURL)
	} else {
		transport = &http.Transport{
			Proxy:                 http.ProxyURL(proxyURL),
			DisableKeepAlives:     true,
			ResponseHeaderTimeout: 10 * time.Second,
		}
	}

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	probe := s.ProbeURL
	if probe == "" {
		probe = httpProbeURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, probe, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe through proxy failed: %w", err)
	}
	resp.Body.Close()
	elapsed := time.Since(start)

	if resp.StatusCode >= 500 {
		return 0, fmt.Errorf("probe returned %s", resp.Status)
	}

	return elapsed.Milliseconds(), nil
}

// NewStrategy creates a Strategy by name. Valid names: "tcp", "http".
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "tcp", "":
		return &TCPStrategy{}, nil
	case "http":
		return &HTTPStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown check strategy: %s (available: tcp, http)", name)
	}
}
