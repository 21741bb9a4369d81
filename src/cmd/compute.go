package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"CrewPrizePool/src/service"

	"github.com/spf13/cobra"
)

func newComputeCmd(a *app) *cobra.Command {
	var (
		qf     queryFlags
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "compute",
		Short: "加载数据源并输出奖池与排行榜",
		Long: `加载数据源并输出奖池与排行榜。

Examples:
  prizepool compute --source data/roster.csv
  prizepool compute --from 2024-01-01 --to 2024-01-31 --partition true
  prizepool compute --source s3://rosters/2024-01.xlsx --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := qf.query()
			if err != nil {
				return err
			}
			res, err := a.loadAndCompute(cmd.Context(), q)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}

	qf.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "以 JSON 输出")
	return cmd
}

func printResult(out io.Writer, res *service.Result) error {
	m := res.Metrics
	fmt.Fprintf(out, "数据: %s  行数: %d  丢弃: %d  航班: %d\n", res.Dataset, m.Rows, res.Dropped, m.Flights)
	if res.From != "" || res.To != "" {
		fmt.Fprintf(out, "日期: %s ~ %s\n", res.From, res.To)
	}
	fmt.Fprintf(out, "总瓶数: %s  奖池: %s\n", m.TotalBottles.String(), m.DisplayPrizePool())
	if m.AirlineSource != "" {
		fmt.Fprintf(out, "航司来源: %s\n", m.AirlineSource)
	}

	for _, lb := range m.Leaderboards {
		title := "总榜"
		if lb.AirlineCode != "" {
			title = lb.AirlineCode
		}
		fmt.Fprintf(out, "\n[%s] 取整: %s  参与人数: %d\n", title, lb.Rounding, lb.TotalCrew)

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "名次\t机组编号\t姓名\t计入量\t奖金")
		for _, e := range lb.Entries {
			share := "-"
			if e.PrizeShare.Valid {
				share = e.PrizeShare.Decimal.StringFixed(2)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.Rank, e.CrewID, e.CrewName, e.TotalCredited.String(), share)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}
