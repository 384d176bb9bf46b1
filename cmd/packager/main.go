// Command packager runs the podcast packaging service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "packager",
		Short: "Podcast content packaging service",
		Long: `packager runs the podcast packaging workflows: transcript analysis,
trend research, title generation with human selection, marketing copy,
and episode folder organization. Runs are checkpointed and resumable.`,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCommand())
	return root
}

// loadConfig reads configuration from PACKAGER_* environment variables.
func loadConfig() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("packager")
	v.AutomaticEnv()

	v.SetDefault("addr", ":8080")
	v.SetDefault("store", "memory")
	v.SetDefault("sqlite_path", "packager.db")
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("anthropic_model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic_api_key", "")
	v.SetDefault("drive_root", "")
	v.SetDefault("search_results", 5)
	v.SetDefault("search_concurrency", 4)

	return v
}
