package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"foxden/internal/app"
	"foxden/internal/logging"
)

var (
	appInstance *app.App
	version     = "dev"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "foxden",
	Short: "🦊 Foxden - per-profile network isolation",
	Long: `🦊 Foxden - per-profile network isolation

  Give every browser profile its own network identity: a dedicated
  proxy, its own exit address, and optionally its own virtual network
  interface.

  Quick start:
    foxden proxy add "vless://..." --name frankfurt
    foxden proxy check --all
    foxden launch work frankfurt --mode tun
    foxden status
    foxden stop work

  Core features:
    • VLESS, VMess, Trojan, Shadowsocks, SOCKS5 and HTTP upstreams
    • System proxy, PAC file, and per-profile TUN steering
    • Snapshot and restore of the OS proxy configuration
    • Timezone matching to the exit location`,
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		appInstance, err = app.New()
		if err != nil {
			return fmt.Errorf("failed to initialize application: %w", err)
		}
		if cmd.Flags().Changed("log-level") {
			level, _ := cmd.Flags().GetString("log-level")
			logging.Init(level)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if appInstance != nil {
			return appInstance.Close()
		}
		return nil
	},
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(proxyCmd)
	rootCmd.AddCommand(engineCmd)
	rootCmd.AddCommand(watchCmd)
}
