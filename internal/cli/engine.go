package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"foxden/internal/cmdrun"
	"foxden/internal/engine"
)

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Manage the proxy engine and TUN forwarder binaries",
}

var engineInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Download the latest engine and forwarder releases",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		force, _ := cmd.Flags().GetBool("force")

		for _, inst := range installers() {
			if inst.Installed() && !force {
				fmt.Printf("✓ %s already installed (use --force to reinstall)\n", inst.Binary)
				continue
			}

			fmt.Printf("Downloading %s from %s...\n", inst.Binary, inst.Repo)
			if err := inst.Install(ctx); err != nil {
				return fmt.Errorf("failed to install %s: %w", inst.Binary, err)
			}
			fmt.Printf("✓ %s installed\n", inst.Binary)
		}

		return nil
	},
}

var engineUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update the engine and forwarder to the latest releases",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		for _, inst := range installers() {
			fmt.Printf("Updating %s from %s...\n", inst.Binary, inst.Repo)
			if err := inst.Install(ctx); err != nil {
				return fmt.Errorf("failed to update %s: %w", inst.Binary, err)
			}
			fmt.Printf("✓ %s updated\n", inst.Binary)
		}

		return nil
	},
}

var engineVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show installed binary versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		runner := cmdrun.ExecRunner{}

		for _, inst := range installers() {
			if !inst.Installed() {
				fmt.Printf("%s: not installed\n", inst.Binary)
				continue
			}

			ver, err := inst.InstalledVersion(runner)
			if err != nil {
				fmt.Printf("%s: installed (version unknown)\n", inst.Binary)
				continue
			}
			fmt.Printf("%s: %s\n", inst.Binary, ver)
		}

		return nil
	},
}

func installers() []*engine.Installer {
	s := appInstance.Settings
	return []*engine.Installer{
		engine.NewInstaller(s.EngineRepo, s.EngineBinary),
		engine.NewInstaller(s.ForwarderRepo, s.ForwarderBinary),
	}
}

func init() {
	engineInstallCmd.Flags().Bool("force", false, "reinstall even if already present")

	engineCmd.AddCommand(engineInstallCmd)
	engineCmd.AddCommand(engineUpdateCmd)
	engineCmd.AddCommand(engineVersionCmd)
}
