package cli

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show active sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions := appInstance.Orchestrator.Sessions()

		if len(sessions) == 0 {
			fmt.Println("No active sessions.")
			return nil
		}

		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].Profile < sessions[j].Profile
		})

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PROFILE\tMODE\tPROXY\tSOCKS\tDEVICE\tUPTIME")
		fmt.Fprintln(w, "-------\t----\t-----\t-----\t------\t------")

		for _, s := range sessions {
			proxyName := "-"
			if s.Descriptor != nil {
				proxyName = s.Descriptor.Name
				if proxyName == "" {
					proxyName = s.Descriptor.Endpoint()
				}
			}

			socks := s.SocksAddr
			if socks == "" {
				socks = "-"
			}

			device := s.Device
			if device == "" {
				device = "-"
			}

			uptime := time.Since(s.StartedAt).Round(time.Second)

			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				s.Profile, s.Mode, proxyName, socks, device, uptime)
		}

		w.Flush()

		fmt.Printf("\nTotal: %d sessions\n", len(sessions))
		return nil
	},
}
