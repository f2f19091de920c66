package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pithecene-io/hdfproxy/hdfproxy"
)

func newMetadataCmd(g *globalFlags) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Print the dimensions and datatype of a stored dataset",
		Long: `Metadata asks the array service for a dataset's dimensions and
transport type and reports how much of it has been written.

Example:
  hdfproxy metadata --store file:///tmp/arrays \
    --resource "eml:///resqml20.obj_Grid2dRepresentation(...)" --path /grid/zvalues`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(cmd, g.configFile)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Logging, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			uri, err := resourceURI(cfg.Resource, false)
			if err != nil {
				return err
			}

			sess, err := newSession(ctx, cfg, uri, logger)
			if err != nil {
				return err
			}
			defer sess.Close()

			md, err := sess.proxy.Metadata(ctx, path)
			if err != nil {
				return err
			}
			dt := sess.proxy.Datatype(ctx, path)
			cov, err := sess.svc.Coverage(ctx, hdfproxy.BuildIdentifier(uri, path))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "dataset:    %s\n", path)
			fmt.Fprintf(out, "dimensions: %v\n", md.Dimensions)
			fmt.Fprintf(out, "transport:  %s\n", md.TransportType)
			fmt.Fprintf(out, "datatype:   %s\n", dt)
			fmt.Fprintf(out, "coverage:   %s/%s elements%s\n",
				humanize.Comma(cov.Written), humanize.Comma(cov.Total), completeSuffix(cov.Complete()))
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "dataset path inside the resource, e.g. /grid/zvalues")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}
