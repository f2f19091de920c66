package commands

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/pithecene-io/hdfproxy/hdfproxy"
)

func newPlanCmd(g *globalFlags) *cobra.Command {
	var (
		dtypeName string
		shape     string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the sub-array boxes a write would be split into",
		Long: `Plan computes the leaf boxes an array of the given shape and datatype is
cut into under the max array size, without sending anything.

Example:
  hdfproxy plan --dtype double --shape 1000 --max-array-size 100B`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, g.configFile)
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
			ceiling, err := cfg.MaxArraySizeBytes()
			if err != nil {
				return err
			}
			policy, err := hdfproxy.ParseSplitPolicy(cfg.Proxy.SplitPolicy)
			if err != nil {
				return err
			}

			total := toInt64s(dims)
			leaves, err := hdfproxy.PlanChunks(hdfproxy.ChunkRequest{
				TotalCounts: total,
				Starts:      make([]int64, len(total)),
				Counts:      total,
			}, hdfproxy.SizeOf(dt), ceiling, policy)
			if err != nil {
				return err
			}

			size := uint64(hdfproxy.SizeOf(dt))
			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(leaves))
			for i, l := range leaves {
				rows = append(rows, []string{
					strconv.Itoa(i),
					fmt.Sprint(l.Starts),
					fmt.Sprint(l.Counts),
					strconv.Itoa(l.Depth),
					humanize.Bytes(uint64(l.Elements()) * size),
				})
			}
			printTable(out, []string{"LEAF", "STARTS", "COUNTS", "DEPTH", "SIZE"}, rows)
			fmt.Fprintf(out, "%s leaves, %s in %s (policy %s, max array size %s)\n",
				humanize.Comma(int64(len(leaves))),
				humanize.Bytes(elementCount(dims)*size),
				dt, policy, humanize.Bytes(uint64(ceiling)))
			return nil
		},
	}

	cmd.Flags().StringVar(&dtypeName, "dtype", "", "element datatype (int8 ... uint64, float, double)")
	cmd.Flags().StringVar(&shape, "shape", "", "comma separated extents, e.g. 10,7")
	cmd.Flags().String("max-array-size", "", "payload ceiling, e.g. 4MB or 64KiB")
	cmd.Flags().String("policy", "", "split policy: halve or pack")
	_ = cmd.MarkFlagRequired("dtype")
	_ = cmd.MarkFlagRequired("shape")
	return cmd
}

// printTable renders a borderless, left aligned table.
func printTable(w io.Writer, headers []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(rows)
	table.Render()
}
