package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"foxden/internal/isolation"
	"foxden/internal/storage/models"
	pkgerrors "foxden/pkg/errors"
)

var launchCmd = &cobra.Command{
	Use:   "launch <profile> [proxy-name-or-uri]",
	Short: "Start an isolated session for a profile",
	Long: `Start an isolated session for a profile.

The second argument selects the proxy: either the name of a stored
descriptor or a full proxy URI. Without it the session starts with no
proxy attached, which is useful for profiles that should keep the
machine's own identity.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		profile := args[0]

		modeStr, _ := cmd.Flags().GetString("mode")
		mode, err := isolation.ParseMode(modeStr)
		if err != nil {
			return err
		}

		var descriptor *models.Descriptor
		if len(args) > 1 {
			descriptor, err = resolveDescriptor(ctx, args[1])
			if err != nil {
				return err
			}
		}

		session, err := appInstance.Orchestrator.Launch(profile, descriptor, mode)
		if err != nil {
			if errors.Is(err, pkgerrors.ErrElevationDeclined) {
				return fmt.Errorf("administrator privileges are required for %s mode", mode)
			}
			return err
		}

		fmt.Printf("✓ Session %q started (%s mode)\n", profile, session.Mode)
		if session.SocksAddr != "" {
			fmt.Printf("  SOCKS: %s\n", session.SocksAddr)
		}
		if session.HTTPPort > 0 {
			fmt.Printf("  HTTP:  127.0.0.1:%d\n", session.HTTPPort)
		}
		if session.Device != "" {
			fmt.Printf("  Device: %s\n", session.Device)
		}
		if session.Mode != isolation.ModeTUN && descriptor != nil {
			fmt.Println("  Note: proxy modes cannot contain WebRTC; use --mode tun for full isolation")
		}
		return nil
	},
}

// resolveDescriptor finds a stored descriptor by name, falling back to
// parsing the argument as a proxy URI.
func resolveDescriptor(ctx context.Context, arg string) (*models.Descriptor, error) {
	if d, err := appInstance.Storage.GetDescriptorByName(ctx, arg); err == nil {
		return d, nil
	}

	d, err := appInstance.Parser.Parse(arg)
	if err != nil {
		return nil, fmt.Errorf("no stored proxy named %q and the argument is not a valid proxy URI: %w", arg, err)
	}
	return d, nil
}

func init() {
	launchCmd.Flags().StringP("mode", "m", "system", "traffic steering mode: system, pac, or tun")
}
