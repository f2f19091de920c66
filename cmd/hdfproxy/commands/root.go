// Package commands implements the hdfproxy command line.
package commands

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configFile string
}

// NewRootCmd builds the command tree. Each call returns fresh flag state.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "hdfproxy",
		Short: "Write chunked numeric arrays to a remote array service",
		Long: `hdfproxy writes multi-dimensional numeric arrays through an ETP-style
DataArray channel, splitting arrays larger than the max array size into
sub-arrays. This binary serves the channel in process from an array store
(memory, local directory or S3 bucket).

Configuration precedence: flags > HDFPROXY_* environment > config file > defaults.

Use "hdfproxy [command] --help" for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&g.configFile, "config", "", "config file (yaml, json or toml)")
	root.PersistentFlags().String("store", "", "array store: mem, file://<dir> or s3://<bucket>/<prefix>")
	root.PersistentFlags().String("resource", "", "resource URI the datasets belong to")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "log format: text or json")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newPlanCmd(g))
	root.AddCommand(newWriteCmd(g))
	root.AddCommand(newMetadataCmd(g))

	root.CompletionOptions.DisableDefaultCmd = true
	return root
}

// Execute runs the command tree against os.Args. An interrupt cancels the
// running command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}
