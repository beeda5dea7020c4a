package sysproxy

import (
	"fmt"
	"strconv"
	"strings"

	"foxden/internal/cmdrun"
	pkgerrors "foxden/pkg/errors"
)

// macBackend drives networksetup. Snapshots are captured from the
// primary (first active) network service and applied to all of them.
type macBackend struct{}

func (b *macBackend) capture(r cmdrun.Runner) (*Snapshot, error) {
	services, err := activeNetworkServices(r)
	if err != nil {
		return nil, err
	}
	primary := services[0]

	snap := &Snapshot{}

	out, err := r.Output("networksetup", "-getsocksfirewallproxy", primary)
	if err != nil {
		return nil, fmt.Errorf("%w: reading SOCKS proxy: %v", pkgerrors.ErrProxyConfigFailed, err)
	}
	snap.SOCKS = parseProxyState(out)

	out, err = r.Output("networksetup", "-getwebproxy", primary)
	if err != nil {
		return nil, fmt.Errorf("%w: reading HTTP proxy: %v", pkgerrors.ErrProxyConfigFailed, err)
	}
	snap.HTTP = parseProxyState(out)

	out, err = r.Output("networksetup", "-getautoproxyurl", primary)
	if err != nil {
		return nil, fmt.Errorf("%w: reading auto proxy: %v", pkgerrors.ErrProxyConfigFailed, err)
	}
	snap.AutoConfig = parseAutoProxyState(out)

	return snap, nil
}

func (b *macBackend) apply(r cmdrun.Runner, snap *Snapshot) error {
	services, err := activeNetworkServices(r)
	if err != nil {
		return err
	}

	for _, svc := range services {
		if err := applyServiceProxy(r, svc, snap); err != nil {
			return err
		}
	}
	return nil
}

func applyServiceProxy(r cmdrun.Runner, svc string, snap *Snapshot) error {
	// Set server before flipping state so the proxy never points at a
	// stale endpoint while enabled.
	if snap.SOCKS.Enabled {
		if err := run(r, "networksetup", "-setsocksfirewallproxy", svc, snap.SOCKS.Host, strconv.Itoa(snap.SOCKS.Port)); err != nil {
			return err
		}
		if err := run(r, "networksetup", "-setsocksfirewallproxystate", svc, "on"); err != nil {
			return err
		}
	} else {
		if err := run(r, "networksetup", "-setsocksfirewallproxystate", svc, "off"); err != nil {
			return err
		}
	}

	if snap.HTTP.Enabled {
		port := strconv.Itoa(snap.HTTP.Port)
		for _, set := range []string{"-setwebproxy", "-setsecurewebproxy"} {
			if err := run(r, "networksetup", set, svc, snap.HTTP.Host, port); err != nil {
				return err
			}
		}
		for _, state := range []string{"-setwebproxystate", "-setsecurewebproxystate"} {
			if err := run(r, "networksetup", state, svc, "on"); err != nil {
				return err
			}
		}
	} else {
		for _, state := range []string{"-setwebproxystate", "-setsecurewebproxystate"} {
			if err := run(r, "networksetup", state, svc, "off"); err != nil {
				return err
			}
		}
	}

	if snap.AutoConfig.Enabled {
		if err := run(r, "networksetup", "-setautoproxyurl", svc, snap.AutoConfig.URL); err != nil {
			return err
		}
		if err := run(r, "networksetup", "-setautoproxystate", svc, "on"); err != nil {
			return err
		}
	} else {
		if err := run(r, "networksetup", "-setautoproxystate", svc, "off"); err != nil {
			return err
		}
	}

	return nil
}

// activeNetworkServices returns all non-disabled network services.
// Matching known names (Wi-Fi, Ethernet) misses services on some
// configurations, so take everything that is not starred out.
func activeNetworkServices(r cmdrun.Runner) ([]string, error) {
	out, err := r.Output("networksetup", "-listallnetworkservices")
	if err != nil {
		return nil, fmt.Errorf("%w: listing network services: %v", pkgerrors.ErrProxyConfigFailed, err)
	}

	var services []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "An asterisk") || strings.HasPrefix(line, "*") {
			continue
		}
		services = append(services, line)
	}

	if len(services) == 0 {
		return nil, fmt.Errorf("%w: no active network services found", pkgerrors.ErrProxyConfigFailed)
	}
	return services, nil
}

// parseProxyState reads networksetup -get* output of the form:
//
//	Enabled: Yes
//	Server: 127.0.0.1
//	Port: 24000
func parseProxyState(out string) ProxyState {
	var state ProxyState
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Enabled":
			state.Enabled = value == "Yes" || value == "1"
		case "Server":
			state.Host = value
		case "Port":
			state.Port, _ = strconv.Atoi(value)
		}
	}
	return state
}

func parseAutoProxyState(out string) AutoProxyState {
	var state AutoProxyState
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		// the URL value itself contains "://", only split on the first colon
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Enabled":
			state.Enabled = value == "Yes" || value == "1"
		case "URL":
			state.URL = value
		}
	}
	return state
}

func run(r cmdrun.Runner, name string, args ...string) error {
	if err := r.Run(name, args...); err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrProxyConfigFailed, err)
	}
	return nil
}
