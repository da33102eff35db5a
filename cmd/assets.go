package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/apexsec/apex/pkg/types"
)

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "Inspect and maintain the asset inventory",
}

var assetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked assets with status and risk",
	RunE: func(cmd *cobra.Command, args []string) error {
		assets, err := store.GetAssets(context.Background())
		if err != nil {
			return err
		}
		if len(assets) == 0 {
			color.Yellow("No assets tracked yet. Add one with: apex scan <url>\n")
			return nil
		}

		for _, a := range assets {
			statusColor := color.New(color.FgGreen)
			switch a.Status {
			case types.StatusCritical, types.StatusConnectionFailed:
				statusColor = color.New(color.FgRed)
			case types.StatusWarning:
				statusColor = color.New(color.FgYellow)
			case types.StatusSuspicious:
				statusColor = color.New(color.FgYellow)
			case types.StatusPending:
				statusColor = color.New(color.FgWhite)
			}

			fmt.Printf("%5d  ", a.ID)
			statusColor.Printf("%-17s", a.Status)
			fmt.Printf(" %4d  %-6s %s", a.RiskScore, a.Method, a.URL)
			if a.Source == types.SourceRecursive {
				fmt.Printf("  (depth %d)", a.Depth)
			}
			if a.IsWorkbench {
				fmt.Printf("  [workbench]")
			}
			fmt.Println()
		}
		fmt.Printf("\n%d assets\n", len(assets))
		return nil
	},
}

var assetsHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show the audit trail of an asset's past scans",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid asset id: %q", args[0])
		}

		history, err := store.GetAssetHistory(context.Background(), id)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			color.Yellow("No history recorded for asset %d\n", id)
			return nil
		}

		for _, e := range history {
			fmt.Printf("%s  HTTP %3d  risk %3d  %d findings\n",
				e.Timestamp.Format("2006-01-02 15:04:05"), e.StatusCode, e.RiskScore, len(e.Findings))
		}
		return nil
	},
}

var assetsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove an asset and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid asset id: %q", args[0])
		}
		if err := store.DeleteAsset(context.Background(), id); err != nil {
			return err
		}
		color.Green("Deleted asset %d\n", id)
		return nil
	},
}

var assetsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete recursively discovered assets that are no longer in scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		purged, err := store.PurgeOutOfScopeRecursive(context.Background())
		if err != nil {
			return err
		}
		color.Green("Purged %d out-of-scope assets\n", purged)
		return nil
	},
}

var assetsSanitizeCmd = &cobra.Command{
	Use:   "sanitize",
	Short: "Repair or drop asset URLs damaged by messy imports",
	RunE: func(cmd *cobra.Command, args []string) error {
		fixed, err := store.SanitizeURLs(context.Background())
		if err != nil {
			return err
		}
		color.Green("Sanitized %d assets\n", fixed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(assetsCmd)
	assetsCmd.AddCommand(assetsListCmd)
	assetsCmd.AddCommand(assetsHistoryCmd)
	assetsCmd.AddCommand(assetsDeleteCmd)
	assetsCmd.AddCommand(assetsPurgeCmd)
	assetsCmd.AddCommand(assetsSanitizeCmd)
}
