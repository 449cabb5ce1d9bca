package cmd

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/guimove/hpcfit/internal/config"
)

var (
	cfgFile string
	cfg     config.Config
	verbose bool
	logger  hclog.Logger = hclog.NewNullLogger()
)

var rootCmd = &cobra.Command{
	Use:   "hpcfit",
	Short: "Topology-aware job placement simulator for HPC clusters",
	Long: `hpcfit replays a pending job queue against a snapshot of cluster nodes and
decides which nodes, cores and GPUs each job would receive under a
switch, dragonfly, block or ring topology.

It can place the queue once with the configured policy, or run several
node-selection policies side by side and rank them by placement rate,
CPU utilization, fragmentation and switch locality.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		logger = newLogger(cfg.Log)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: hpcfit.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	// Global flags that map to config
	rootCmd.PersistentFlags().StringP("input", "i", "", "cluster snapshot file (YAML or JSON)")
	rootCmd.PersistentFlags().String("cluster", "", "cluster name shown in reports")
	rootCmd.PersistentFlags().String("prometheus-url", "", "Prometheus endpoint for live node state")
	rootCmd.PersistentFlags().String("log-level", "", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit logs as JSON")

	_ = viper.BindPFlag("snapshot.path", rootCmd.PersistentFlags().Lookup("input"))
	_ = viper.BindPFlag("cluster.name", rootCmd.PersistentFlags().Lookup("cluster"))
	_ = viper.BindPFlag("snapshot.prometheus_url", rootCmd.PersistentFlags().Lookup("prometheus-url"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.json", rootCmd.PersistentFlags().Lookup("log-json"))
}

func loadConfig() error {
	// Start with defaults
	cfg = config.Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("hpcfit")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.hpcfit")
	}

	// Environment variable overrides
	viper.SetEnvPrefix("HPCFIT")
	viper.AutomaticEnv()

	// Read config file (not an error if missing)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return fmt.Errorf("reading config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "warn"
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	return cfg.Validate()
}

func newLogger(lc config.LogConfig) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "hpcfit",
		Level:      hclog.LevelFromString(lc.Level),
		JSONFormat: lc.JSON,
		Output:     os.Stderr,
	})
}
