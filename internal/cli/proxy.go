package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"foxden/internal/checker"
	"foxden/internal/storage"
	"foxden/internal/storage/models"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Manage proxy descriptors",
	Long:  "Add, list, show, check, and remove proxy descriptors",
}

var proxyAddCmd = &cobra.Command{
	Use:   "add <uri>",
	Short: "Add a proxy from a connection string",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		descriptor, err := appInstance.Parser.Parse(args[0])
		if err != nil {
			return fmt.Errorf("failed to parse URI: %w", err)
		}

		customName, _ := cmd.Flags().GetString("name")
		tags, _ := cmd.Flags().GetStringSlice("tags")
		timezone, _ := cmd.Flags().GetString("timezone")

		if customName != "" {
			descriptor.Name = customName
		}
		if len(tags) > 0 {
			descriptor.Tags = tags
		}
		if timezone != "" {
			descriptor.Timezone = timezone
		}

		if err := appInstance.Storage.CreateDescriptor(ctx, descriptor); err != nil {
			return fmt.Errorf("failed to save proxy: %w", err)
		}

		fmt.Printf("🦊 Proxy added!\n\n")
		fmt.Printf("  ID:       %s\n", descriptor.ID)
		fmt.Printf("  Name:     %s\n", descriptor.Name)
		fmt.Printf("  Protocol: %s\n", descriptor.Kind)
		fmt.Printf("  Address:  %s\n", descriptor.Endpoint())
		if len(descriptor.Tags) > 0 {
			fmt.Printf("  Tags:     %v\n", descriptor.Tags)
		}

		return nil
	},
}

var proxyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all proxies",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		kindStr, _ := cmd.Flags().GetString("protocol")
		aliveOnly, _ := cmd.Flags().GetBool("alive")
		search, _ := cmd.Flags().GetString("search")
		tags, _ := cmd.Flags().GetStringSlice("tags")

		filter := storage.DescriptorFilter{
			SearchTerm: search,
			Tags:       tags,
		}
		if kindStr != "" {
			kind := models.Kind(kindStr)
			filter.Kind = &kind
		}
		if aliveOnly {
			alive := models.StatusAlive
			filter.Status = &alive
		}

		descriptors, err := appInstance.Storage.ListDescriptors(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to list proxies: %w", err)
		}

		if len(descriptors) == 0 {
			fmt.Println("No proxies found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tPROTOCOL\tADDRESS\tSTATUS\tLATENCY\tTIMEZONE")
		fmt.Fprintln(w, "----\t--------\t-------\t------\t-------\t--------")

		for _, d := range descriptors {
			latStr := "-"
			if d.LatencyMS != nil {
				latStr = fmt.Sprintf("%d ms", *d.LatencyMS)
			}

			tz := d.Timezone
			if tz == "" {
				tz = "-"
			}

			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				d.Name, d.Kind, d.Endpoint(), d.Status, latStr, tz)
		}

		w.Flush()

		fmt.Printf("\nTotal: %d proxies\n", len(descriptors))
		return nil
	},
}

var proxyShowCmd = &cobra.Command{
	Use:   "show <id-or-name>",
	Short: "Show proxy details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		descriptor, err := findDescriptor(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Proxy Details\n")
		fmt.Printf("═════════════\n\n")
		fmt.Printf("ID:           %s\n", descriptor.ID)
		fmt.Printf("Name:         %s\n", descriptor.Name)
		fmt.Printf("Protocol:     %s\n", descriptor.Kind)
		fmt.Printf("Address:      %s\n", descriptor.Endpoint())
		fmt.Printf("Status:       %s\n", descriptor.Status)
		if descriptor.LatencyMS != nil {
			fmt.Printf("Latency:      %d ms\n", *descriptor.LatencyMS)
		}
		if descriptor.CheckedAt != nil {
			fmt.Printf("Checked:      %s\n", descriptor.CheckedAt.Local().Format("2006-01-02 15:04:05"))
		}
		if descriptor.Country != "" {
			fmt.Printf("Country:      %s\n", descriptor.Country)
		}
		if descriptor.City != "" {
			fmt.Printf("City:         %s\n", descriptor.City)
		}
		if descriptor.Timezone != "" {
			fmt.Printf("Timezone:     %s\n", descriptor.Timezone)
		}
		if len(descriptor.Tags) > 0 {
			fmt.Printf("Tags:         %v\n", descriptor.Tags)
		}
		fmt.Printf("Created:      %s\n", descriptor.CreatedAt.Local().Format("2006-01-02 15:04:05"))

		if uri, err := appInstance.Parser.Encode(descriptor); err == nil {
			fmt.Printf("\nURI:\n%s\n", uri)
		}

		return nil
	},
}

var proxyCheckCmd = &cobra.Command{
	Use:   "check [id-or-name]",
	Short: "Check proxy reachability",
	Long: `Check reachability of proxy endpoints and record the results.

Check a single proxy by ID or name, or every stored proxy with --all.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		all, _ := cmd.Flags().GetBool("all")

		check := appInstance.Checker
		if cmd.Flags().Changed("strategy") {
			strategyName, _ := cmd.Flags().GetString("strategy")
			strategy, err := checker.NewStrategy(strategyName)
			if err != nil {
				return err
			}
			check = checker.New(appInstance.Storage, checker.Config{
				Workers:  appInstance.Settings.CheckWorkers,
				Timeout:  appInstance.Settings.CheckTimeout,
				Strategy: strategy,
			})
		}

		if all {
			descriptors, err := appInstance.Storage.ListDescriptors(ctx, storage.DescriptorFilter{})
			if err != nil {
				return fmt.Errorf("failed to list proxies: %w", err)
			}
			if len(descriptors) == 0 {
				fmt.Println("No proxies to check.")
				return nil
			}

			fmt.Printf("Checking %d proxies...\n\n", len(descriptors))

			batch := check.CheckBatch(ctx, descriptors, func(r *checker.Result, current, total int) {
				status := "✗"
				detail := r.Check.ErrorMessage
				if r.Check.Success {
					status = "✓"
					detail = fmt.Sprintf("%d ms", *r.Check.LatencyMS)
				}
				fmt.Printf("[%d/%d] %s %s (%s)\n", current, total, status, r.Descriptor.Name, detail)
			})

			fmt.Printf("\nDone in %s: %d alive, %d dead\n",
				batch.Duration.Round(10*time.Millisecond), batch.Succeeded, batch.Failed)
			return nil
		}

		if len(args) == 0 {
			return fmt.Errorf("please specify a proxy ID or name, or use --all")
		}

		descriptor, err := findDescriptor(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Checking %s...\n", descriptor.Name)
		result := check.CheckOne(ctx, descriptor)
		if result.Check.Success {
			fmt.Printf("✓ Alive: %d ms\n", *result.Check.LatencyMS)
		} else {
			fmt.Printf("✗ Dead: %s\n", result.Check.ErrorMessage)
		}

		return nil
	},
}

var proxyRemoveCmd = &cobra.Command{
	Use:   "remove <id-or-name>",
	Short: "Remove a proxy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		descriptor, err := findDescriptor(ctx, args[0])
		if err != nil {
			return err
		}

		if err := appInstance.Storage.DeleteDescriptor(ctx, descriptor.ID); err != nil {
			return fmt.Errorf("failed to remove proxy: %w", err)
		}

		fmt.Printf("✓ Removed proxy: %s\n", descriptor.Name)
		return nil
	},
}

// findDescriptor resolves an argument as a descriptor ID first, then as
// a name.
func findDescriptor(ctx context.Context, arg string) (*models.Descriptor, error) {
	if d, err := appInstance.Storage.GetDescriptor(ctx, arg); err == nil {
		return d, nil
	}
	d, err := appInstance.Storage.GetDescriptorByName(ctx, arg)
	if err != nil {
		return nil, fmt.Errorf("proxy not found: %s", arg)
	}
	return d, nil
}

func init() {
	proxyAddCmd.Flags().StringP("name", "n", "", "custom name for the proxy")
	proxyAddCmd.Flags().StringSlice("tags", nil, "tags (comma-separated)")
	proxyAddCmd.Flags().String("timezone", "", "IANA timezone of the exit location")

	proxyListCmd.Flags().StringP("protocol", "p", "", "filter by protocol")
	proxyListCmd.Flags().Bool("alive", false, "only proxies that passed their last check")
	proxyListCmd.Flags().StringP("search", "s", "", "search name and host")
	proxyListCmd.Flags().StringSlice("tags", nil, "filter by tags")

	proxyCheckCmd.Flags().Bool("all", false, "check every stored proxy")
	proxyCheckCmd.Flags().String("strategy", "tcp", "check strategy: tcp or http")

	proxyCmd.AddCommand(proxyAddCmd)
	proxyCmd.AddCommand(proxyListCmd)
	proxyCmd.AddCommand(proxyShowCmd)
	proxyCmd.AddCommand(proxyCheckCmd)
	proxyCmd.AddCommand(proxyRemoveCmd)
}
