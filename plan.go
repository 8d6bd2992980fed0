package main

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/rtm0/era5daily/internal/metrics"
	"github.com/rtm0/era5daily/internal/pipeline"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "List the months of the sweep and the state of their files",
	Long: `plan lists every (year, month) of the configured sweep in processing order.

States:
  done     the daily file exists and the hourly file was removed
  hourly   the hourly download is still present (interrupted run)
  pending  nothing has been written yet`,
	Args: cobra.NoArgs,
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	p := pipeline.New(slog.New(slog.DiscardHandler), pipelineOptions(cfg), nil, nil, metrics.NewCollector("era5daily"))
	renderPlan(cmd.OutOrStdout(), p.Plan())
	return nil
}

var stateColors = map[string]*color.Color{
	pipeline.StateDone:    color.New(color.FgGreen),
	pipeline.StateHourly:  color.New(color.FgYellow),
	pipeline.StatePending: color.New(color.FgWhite),
}

func renderPlan(w io.Writer, its []pipeline.Iteration) {
	table := tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoWrap: tw.WrapNone},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
			Header: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoFormat: tw.On},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{Borders: tw.BorderNone}),
	)

	counts := make(map[string]int)
	rows := make([][]string, 0, len(its))
	for _, it := range its {
		counts[it.State]++
		rows = append(rows, []string{
			strconv.Itoa(it.Year),
			fmt.Sprintf("%02d", it.Month),
			strconv.Itoa(it.Days),
			it.Hourly,
			it.Daily,
			stateColors[it.State].Sprint(it.State),
		})
	}
	table.Header([]string{"Year", "Month", "Days", "Hourly", "Daily", "State"})
	table.Bulk(rows)
	table.Render()

	fmt.Fprintf(w, "\n%d months: %d done, %d hourly, %d pending\n",
		len(its), counts[pipeline.StateDone], counts[pipeline.StateHourly], counts[pipeline.StatePending])
}
