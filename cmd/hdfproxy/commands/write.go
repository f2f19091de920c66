package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/pithecene-io/hdfproxy/hdfproxy"
	hdfprom "github.com/pithecene-io/hdfproxy/hdfproxy/prometheus"
)

func newWriteCmd(g *globalFlags) *cobra.Command {
	var (
		dtypeName   string
		shape       string
		input       string
		group       string
		name        string
		showMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write a raw little-endian array file as a dataset",
		Long: `Write reads an array of the given datatype and shape from a raw
little-endian file and writes it to the array store, splitting it into
sub-arrays when it exceeds the max array size. It prints the dataset's
coverage once every sub-array has been served.

Example:
  hdfproxy write --store file:///tmp/arrays --dtype double --shape 1000 \
    --input zvalues.bin --group /grid --name zvalues --max-array-size 1KB`,
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
			dt, err := hdfproxy.ParseDatatype(dtypeName)
			if err != nil {
				return err
			}
			dims, err := parseShape(shape)
			if err != nil {
				return err
			}
			values, err := readRaw(input, dt, int(elementCount(dims)))
			if err != nil {
				return err
			}
			uri, err := resourceURI(cfg.Resource, true)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			sess, err := newSession(ctx, cfg, uri, logger, hdfproxy.WithMetrics(hdfprom.New(reg)))
			if err != nil {
				return err
			}
			defer sess.Close()

			start := time.Now()
			if err := sess.proxy.WriteArray(ctx, group, name, dt, values, dims); err != nil {
				return err
			}

			// Sub-arrays are not acknowledged; the loopback worker serves in
			// order, so this answer arrives after all of them.
			path := hdfproxy.DatasetPath(group, name)
			md, err := sess.proxy.Metadata(ctx, path)
			if err != nil {
				return err
			}
			cov, err := sess.svc.Coverage(ctx, hdfproxy.BuildIdentifier(uri, path))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "resource:  %s\n", uri)
			fmt.Fprintf(out, "dataset:   %s\n", path)
			fmt.Fprintf(out, "shape:     %v (%s as %s)\n", md.Dimensions, dt, md.TransportType)
			fmt.Fprintf(out, "coverage:  %s/%s elements%s\n",
				humanize.Comma(cov.Written), humanize.Comma(cov.Total), completeSuffix(cov.Complete()))
			fmt.Fprintf(out, "elapsed:   %s\n", time.Since(start).Round(time.Millisecond))

			if showMetrics {
				return printMetrics(out, reg)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dtypeName, "dtype", "", "element datatype (int8 ... uint64, float, double)")
	cmd.Flags().StringVar(&shape, "shape", "", "comma separated extents, e.g. 10,7")
	cmd.Flags().StringVar(&input, "input", "", "raw little-endian input file")
	cmd.Flags().StringVar(&group, "group", "/", "group path of the dataset")
	cmd.Flags().StringVar(&name, "name", "", "dataset name")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "print the write's metrics")
	cmd.Flags().String("max-array-size", "", "payload ceiling, e.g. 4MB or 64KiB")
	cmd.Flags().String("policy", "", "split policy: halve or pack")
	cmd.Flags().Duration("timeout", 0, "wait budget for blocking calls")
	cmd.Flags().String("codec", "", "block codec: msgpack or parquet")
	cmd.Flags().String("compressor", "", "block compressor: none, gzip or zstd")
	for _, f := range []string{"dtype", "shape", "input", "name"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func completeSuffix(complete bool) string {
	if complete {
		return " (complete)"
	}
	return " (incomplete)"
}

// printMetrics writes the counters and histogram sample counts gathered by
// reg, one sample per line.
func printMetrics(w io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "metrics:")
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var pairs []string
			for _, lp := range m.GetLabel() {
				pairs = append(pairs, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			labels := strings.Join(pairs, " ")
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(w, "  %s {%s} %g\n", mf.GetName(), labels, m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				fmt.Fprintf(w, "  %s {%s} count=%d sum=%g\n", mf.GetName(), labels, h.GetSampleCount(), h.GetSampleSum())
			}
		}
	}
	return nil
}
