package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/apexsec/apex/internal/config"
	"github.com/apexsec/apex/internal/core"
	"github.com/apexsec/apex/internal/database"
	"github.com/apexsec/apex/internal/logger"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
	store   core.AssetStore
)

var rootCmd = &cobra.Command{
	Use:   "apex",
	Short: "Continuous API attack surface auditor",
	Long: `Apex - Continuous API Attack Surface Auditor

Apex keeps a durable inventory of (URL, method) endpoints, probes them on a
rolling schedule, scores each response for exposed secrets, PII, header
hygiene, and error leakage, and recursively discovers new same-scope
endpoints from the responses it sees.

USAGE:
  apex                        # Start the daemon (scheduler + API + websocket)
  apex serve                  # Same as above
  apex scan https://api.acme.com/v1/users
  apex import targets.txt --skip-duplicates
  apex assets list
  apex settings set recursive_discovery_enabled false`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Bare invocation runs the daemon.
		return runServe(cmd, args)
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initRuntime()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			store.Close()
		}
		if log != nil {
			log.Sync()
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default apex.yaml)")
	rootCmd.PersistentFlags().String("db", "", "database file or DSN (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")

	viper.BindPFlag("database.dsn", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("logger.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initRuntime loads configuration and opens the shared logger and store.
// Every subcommand runs against the same database the daemon uses.
func initRuntime() error {
	defaults := config.Default()
	viper.SetDefault("logger.level", defaults.Logger.Level)
	viper.SetDefault("logger.format", defaults.Logger.Format)
	viper.SetDefault("logger.output_paths", defaults.Logger.OutputPaths)
	viper.SetDefault("database.driver", defaults.Database.Driver)
	viper.SetDefault("database.dsn", defaults.Database.DSN)
	viper.SetDefault("database.max_connections", defaults.Database.MaxConnections)
	viper.SetDefault("database.max_idle_conns", defaults.Database.MaxIdleConns)
	viper.SetDefault("database.conn_max_lifetime", defaults.Database.ConnMaxLifetime)
	viper.SetDefault("scanner.timeout", defaults.Scanner.Timeout)
	viper.SetDefault("scanner.user_agent", defaults.Scanner.UserAgent)
	viper.SetDefault("scanner.rate_limit_ms", defaults.Scanner.RateLimitMs)
	viper.SetDefault("monitor.poll_interval", defaults.Monitor.PollInterval)
	viper.SetDefault("monitor.batch_size", defaults.Monitor.BatchSize)
	viper.SetDefault("monitor.stale_after", defaults.Monitor.StaleAfter)
	viper.SetDefault("monitor.max_depth", defaults.Monitor.MaxDepth)
	viper.SetDefault("monitor.recent_scan_skip", defaults.Monitor.RecentScanSkip)
	viper.SetDefault("api.addr", defaults.API.Addr)
	viper.SetDefault("api.enabled", defaults.API.Enabled)

	viper.SetEnvPrefix("APEX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", cfgFile, err)
		}
	} else {
		viper.SetConfigName("apex")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		// Missing default config is fine; defaults and env cover everything.
		_ = viper.ReadInConfig()
	}

	cfg = &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	var err error
	log, err = logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	store, err = database.NewStore(cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	return nil
}
