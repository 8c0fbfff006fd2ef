package main

import (
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/garyjia/digital-fte/internal/application/briefing"
)

func newBriefingCmd() *cobra.Command {
	var period time.Duration

	cmd := &cobra.Command{
		Use:   "briefing",
		Short: "Write the owner briefing workbook",
		Long: `Summarises completed tasks, pending approvals and audit activity over
the period into <vault>/Briefings/<date>_Briefing.xlsx.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, cleanup, err := openContainer(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			path, report, err := c.Briefing().Generate(ctx, period)
			if err != nil {
				return err
			}
			pterm.Success.Printfln("Briefing written to %s", path)
			pterm.Info.Printfln("%d completed, %d awaiting approval, %d approvals, %d rejections, %d failures",
				len(report.Completed), len(report.Pending), report.Approvals, report.Rejections, report.Failures)
			return nil
		},
	}
	cmd.Flags().DurationVar(&period, "period", briefing.DefaultPeriod, "window the briefing covers")
	return cmd
}
