// Command bridge serves the connector bridge over HTTP and converts chunk fixtures.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// set with -ldflags "-X main.version=..."
	version = "dev"

	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Connector bridge between the streaming engine and foreign connectors",
	Long: `bridge exposes storage scans, chunk iterators, row accessors and the CDC and sink
channels to connectors running in another process.

Examples:
  bridge serve --config config.yaml
  bridge chunk encode fixture.txt --codec zstd -o fixture.chunk
  bridge chunk render fixture.chunk`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML config")
	rootCmd.AddCommand(serveCmd, chunkCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
