package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read and write persisted daemon settings",
	Long: `Settings persist across restarts and take effect on the daemon's next
scheduler tick. Known keys:

  recursive_discovery_enabled   "true"/"false" global recursion toggle
  rate_limit_ms                 minimum milliseconds between probes`,
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show one setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, ok, err := store.GetSetting(context.Background(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			color.Yellow("%s is not set (daemon default applies)\n", args[0])
			return nil
		}
		fmt.Printf("%s = %s\n", args[0], value)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist one setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := store.SetSetting(context.Background(), args[0], args[1]); err != nil {
			return err
		}
		color.Green("%s = %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
}
