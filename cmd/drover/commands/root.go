package commands

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/droverdev/drover/internal/config"
	"github.com/droverdev/drover/internal/orchestrator"
	"github.com/droverdev/drover/internal/printer"
)

var (
	version string
	commit  string
	date    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "drover",
	Short: "Drover - Multi-agent job orchestration engine",
	Long: `Drover coordinates fleets of worker agents over Redis: jobs are split
into items, workers claim items one at a time with exactly-once handoff,
and every unit of work is paid for from a per-tenant credit ledger.

This CLI inspects and operates a running drover instance.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// printer.Error already wrote the full error block to stderr.
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

// newEngine connects to the instance named by the environment.
// DROVER_INSTANCE_NAME and REDIS_URL are required; DROVER_CONFIG optionally
// points at a drover.yml.
func newEngine() (*orchestrator.Engine, error) {
	instanceName := os.Getenv("DROVER_INSTANCE_NAME")
	redisURL := os.Getenv("REDIS_URL")

	if instanceName == "" || redisURL == "" {
		return nil, printer.Error(
			"Missing connection settings",
			"The drover CLI needs to know which instance to talk to.",
			[]string{
				"Set DROVER_INSTANCE_NAME to the instance name",
				"Set REDIS_URL to the Redis server (e.g. redis://localhost:6379)",
			},
		)
	}

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, printer.Error(
			"Invalid REDIS_URL",
			err.Error(),
			[]string{"Use a URL of the form redis://host:port"},
		)
	}

	cfg := config.Default()
	if path := os.Getenv("DROVER_CONFIG"); path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, printer.Error("Failed to load config", err.Error(), nil)
		}
	}

	engine, err := orchestrator.NewEngine(redis.NewClient(redisOpts), instanceName, cfg)
	if err != nil {
		return nil, printer.Error("Failed to create engine", err.Error(), nil)
	}

	return engine, nil
}
