package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/apexsec/apex/internal/importer"
	"github.com/apexsec/apex/pkg/types"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Bulk-import targets from a file or stdin",
	Long: `Extract endpoint candidates from a file (or stdin with "-") and add
them to the inventory. Accepts free-form text: URL lists, tool exports,
pasted prose. One asset per distinct URL; everything lands as Pending and is
picked up by the daemon.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().Bool("skip-duplicates", false, "count already-tracked URLs as duplicates instead of re-queueing")
	importCmd.Flags().Bool("workbench", false, "import into the workbench instead of the monitored inventory")
	importCmd.Flags().Bool("dry-run", false, "show what would be imported without writing")
}

func runImport(cmd *cobra.Command, args []string) error {
	skipDuplicates, _ := cmd.Flags().GetBool("skip-duplicates")
	workbench, _ := cmd.Flags().GetBool("workbench")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	var content []byte
	var err error
	if args[0] == "-" {
		content, err = io.ReadAll(os.Stdin)
	} else {
		content, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	staged := importer.AnalyzeContent(string(content))
	if len(staged) == 0 {
		color.Yellow("No importable URLs found\n")
		return nil
	}

	if dryRun {
		color.White("Would import %d assets:\n", len(staged))
		for _, s := range staged {
			fmt.Printf("  %s %s\n", s.Method, s.URL)
		}
		return nil
	}

	opts := types.ImportOptions{SkipDuplicates: skipDuplicates}
	if workbench {
		opts.Destination = importer.DestinationWorkbench
	}

	imp := importer.New(store, nil, cfg.Monitor.RecentScanSkip, log)
	result := imp.Import(context.Background(), staged, opts)

	color.Green("Imported %d", result.Successful)
	if result.Duplicates > 0 {
		color.Yellow("  %d duplicates skipped", result.Duplicates)
	}
	if result.Failed > 0 {
		color.Red("  %d failed", result.Failed)
		for _, e := range result.Errors {
			fmt.Printf("    %s\n", e)
		}
	}
	fmt.Printf("import id: %s\n", result.ImportID)
	return nil
}
