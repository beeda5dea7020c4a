package sysproxy

import (
	"fmt"
	"strconv"
	"strings"

	"foxden/internal/cmdrun"
)

const gnomeProxySchema = "org.gnome.system.proxy"

// gnomeBackend drives gsettings on GNOME desktops. GNOME keeps a single
// proxy configuration, so capture and apply are symmetric.
type gnomeBackend struct{}

func (b *gnomeBackend) capture(r cmdrun.Runner) (*Snapshot, error) {
	mode, err := gsettingsGet(r, gnomeProxySchema, "mode")
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{}

	socksHost, _ := gsettingsGet(r, gnomeProxySchema+".socks", "host")
	socksPort, _ := gsettingsGetInt(r, gnomeProxySchema+".socks", "port")
	httpHost, _ := gsettingsGet(r, gnomeProxySchema+".http", "host")
	httpPort, _ := gsettingsGetInt(r, gnomeProxySchema+".http", "port")
	pacURL, _ := gsettingsGet(r, gnomeProxySchema, "autoconfig-url")

	switch mode {
	case "manual":
		if socksHost != "" && socksPort > 0 {
			snap.SOCKS = ProxyState{Enabled: true, Host: socksHost, Port: socksPort}
		}
		if httpHost != "" && httpPort > 0 {
			snap.HTTP = ProxyState{Enabled: true, Host: httpHost, Port: httpPort}
		}
	case "auto":
		snap.AutoConfig = AutoProxyState{Enabled: true, URL: pacURL}
	}

	return snap, nil
}

func (b *gnomeBackend) apply(r cmdrun.Runner, snap *Snapshot) error {
	switch {
	case snap.AutoConfig.Enabled:
		commands := [][]string{
			{"gsettings", "set", gnomeProxySchema, "autoconfig-url", snap.AutoConfig.URL},
			{"gsettings", "set", gnomeProxySchema, "mode", "auto"},
		}
		return runAll(r, commands)

	case snap.SOCKS.Enabled || snap.HTTP.Enabled:
		var commands [][]string
		if snap.SOCKS.Enabled {
			commands = append(commands,
				[]string{"gsettings", "set", gnomeProxySchema + ".socks", "host", snap.SOCKS.Host},
				[]string{"gsettings", "set", gnomeProxySchema + ".socks", "port", strconv.Itoa(snap.SOCKS.Port)},
			)
		} else {
			commands = append(commands,
				[]string{"gsettings", "set", gnomeProxySchema + ".socks", "host", ""},
				[]string{"gsettings", "set", gnomeProxySchema + ".socks", "port", "0"},
			)
		}
		if snap.HTTP.Enabled {
			port := strconv.Itoa(snap.HTTP.Port)
			commands = append(commands,
				[]string{"gsettings", "set", gnomeProxySchema + ".http", "host", snap.HTTP.Host},
				[]string{"gsettings", "set", gnomeProxySchema + ".http", "port", port},
				[]string{"gsettings", "set", gnomeProxySchema + ".https", "host", snap.HTTP.Host},
				[]string{"gsettings", "set", gnomeProxySchema + ".https", "port", port},
			)
		} else {
			commands = append(commands,
				[]string{"gsettings", "set", gnomeProxySchema + ".http", "host", ""},
				[]string{"gsettings", "set", gnomeProxySchema + ".http", "port", "0"},
				[]string{"gsettings", "set", gnomeProxySchema + ".https", "host", ""},
				[]string{"gsettings", "set", gnomeProxySchema + ".https", "port", "0"},
			)
		}
		// Flip the mode last so clients never observe manual mode with
		// half-written endpoints.
		commands = append(commands, []string{"gsettings", "set", gnomeProxySchema, "mode", "manual"})
		return runAll(r, commands)

	default:
		return run(r, "gsettings", "set", gnomeProxySchema, "mode", "none")
	}
}

func runAll(r cmdrun.Runner, commands [][]string) error {
	for _, args := range commands {
		if err := run(r, args[0], args[1:]...); err != nil {
			return fmt.Errorf("running %v: %w", args, err)
		}
	}
	return nil
}

func gsettingsGet(r cmdrun.Runner, schema, key string) (string, error) {
	out, err := r.Output("gsettings", "get", schema, key)
	if err != nil {
		return "", err
	}
	return unquoteGVariant(out), nil
}

func gsettingsGetInt(r cmdrun.Runner, schema, key string) (int, error) {
	out, err := gsettingsGet(r, schema, key)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(out)
}

// unquoteGVariant strips the single quotes gsettings puts around string
// values ('manual' -> manual).
func unquoteGVariant(s string) string {
	s = strings.TrimSpace(s)
	return strings.Trim(s, "'")
}
