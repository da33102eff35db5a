package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/apexsec/apex/internal/core"
	"github.com/apexsec/apex/internal/detect"
	"github.com/apexsec/apex/internal/importer"
	"github.com/apexsec/apex/internal/ratelimit"
	"github.com/apexsec/apex/internal/scanner"
	"github.com/apexsec/apex/pkg/types"
)

var scanCmd = &cobra.Command{
	Use:   "scan <url>",
	Short: "Probe one endpoint immediately and record the result",
	Long: `Probe a single endpoint right now, outside the scheduler loop.

The target is added to the inventory (idempotently) and the result is
persisted, so the daemon picks it up for continuous re-verification
afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().String("method", "GET", "HTTP method to probe with")
	scanCmd.Flags().Bool("recursive", false, "enable recursive discovery from this endpoint")
	scanCmd.Flags().Bool("workbench", false, "add to the workbench instead of the inventory")
}

func runScan(cmd *cobra.Command, args []string) error {
	method, _ := cmd.Flags().GetString("method")
	recursive, _ := cmd.Flags().GetBool("recursive")
	workbench, _ := cmd.Flags().GetBool("workbench")

	target := importer.NormalizeURL(args[0])
	if target == "" {
		return fmt.Errorf("unparseable url: %q", args[0])
	}

	ctx := context.Background()

	source := types.SourceUser
	if workbench {
		source = types.SourceWorkbench
	}
	id, err := store.AddAsset(ctx, core.AddAssetParams{
		URL:         target,
		Method:      method,
		Source:      source,
		Recursive:   recursive,
		IsWorkbench: workbench,
	})
	if err != nil {
		return err
	}

	gate := ratelimit.NewGate(cfg.Scanner.RateLimitMs)
	scans := scanner.NewService(cfg.Scanner, gate, detect.NewEngine(), log)

	color.White("Probing %s %s ...\n", method, target)
	result := scans.Scan(ctx, target, method)

	if err := store.UpdateScanResult(ctx, id, result); err != nil {
		return err
	}

	printScanResult(target, method, result)
	return nil
}

func printScanResult(target, method string, result *types.ScanResult) {
	statusColor := color.New(color.FgGreen)
	switch result.Status {
	case types.StatusCritical, types.StatusConnectionFailed:
		statusColor = color.New(color.FgRed, color.Bold)
	case types.StatusWarning:
		statusColor = color.New(color.FgYellow, color.Bold)
	case types.StatusSuspicious:
		statusColor = color.New(color.FgYellow)
	}

	fmt.Printf("\n%s %s\n", method, target)
	statusColor.Printf("  %s", result.Status)
	fmt.Printf("  (HTTP %d, risk %d)\n", result.StatusCode, result.RiskScore)

	for _, f := range result.Findings {
		marker := " "
		if f.IsFP {
			marker = "FP"
		}
		fmt.Printf("  %s %s [%s] %s\n", marker, f.Emoji, f.Severity, f.Description)
		if f.Evidence != "" {
			evidence := f.Evidence
			if len(evidence) > 80 {
				evidence = evidence[:80] + "..."
			}
			fmt.Printf("       evidence: %s\n", strings.ReplaceAll(evidence, "\n", " "))
		}
	}

	if len(result.DiscoveredURLs) > 0 {
		fmt.Printf("\n  Discovered %d same-host candidates:\n", len(result.DiscoveredURLs))
		for _, u := range result.DiscoveredURLs {
			fmt.Printf("    %s\n", u)
		}
	}
	fmt.Println()
}
