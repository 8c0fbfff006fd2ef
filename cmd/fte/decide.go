package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newApproveCmd() *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "approve <task-id>",
		Short: "Approve a task waiting in Pending_Approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, cleanup, err := openContainer(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if _, err := c.Approvals().Approve(ctx, args[0], "cli", note); err != nil {
				return err
			}
			pterm.Success.Printfln("Approved %s; it runs on the next orchestrator cycle", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "note recorded with the decision")
	return cmd
}

func newRejectCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject <task-id>",
		Short: "Reject a task waiting in Pending_Approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, cleanup, err := openContainer(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if _, err := c.Approvals().Reject(ctx, args[0], "cli", reason); err != nil {
				return err
			}
			pterm.Success.Printfln("Rejected %s", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the action was rejected")
	return cmd
}

func newRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <task-id>",
		Short: "Send an expired or rejected task back for re-evaluation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, cleanup, err := openContainer(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := c.Approvals().Requeue(ctx, args[0], "cli"); err != nil {
				return err
			}
			pterm.Success.Printfln("Requeued %s to Needs_Action", args[0])
			return nil
		},
	}
}
