package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop [profile]",
	Short: "Stop an isolated session",
	Long: `Stop an isolated session and restore whatever it changed: the
engine process, the virtual interface, and the system proxy settings
once no other session needs them.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		if all {
			if err := appInstance.Orchestrator.StopAll(); err != nil {
				return err
			}
			fmt.Println("✓ All sessions stopped")
			return nil
		}

		if len(args) == 0 {
			return fmt.Errorf("please specify a profile, or use --all")
		}

		profile := args[0]
		if err := appInstance.Orchestrator.Stop(profile); err != nil {
			return err
		}

		fmt.Printf("✓ Session %q stopped\n", profile)
		return nil
	},
}

func init() {
	stopCmd.Flags().Bool("all", false, "stop every active session")
}
