package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/garyjia/digital-fte/internal/domain/entity"
)

func newStatusCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show partition counts, watchers and pending approvals",
		Long: `Reads the vault directly. With --url it asks a running engine instead,
which also reports watcher and orchestrator health.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if url != "" {
				h, err := fetchStatus(ctx, url)
				if err != nil {
					return err
				}
				return renderStatus(h, nil)
			}

			c, cleanup, err := openContainer(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			pending, err := c.Approvals().Pending(ctx)
			if err != nil {
				return err
			}
			return renderStatus(c.Health(ctx), pending)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "base URL of a running engine, e.g. http://127.0.0.1:8080")
	return cmd
}

func fetchStatus(ctx context.Context, base string) (entity.SystemHealth, error) {
	var out struct {
		Success bool                `json:"success"`
		Data    entity.SystemHealth `json:"data"`
		Error   string              `json:"error"`
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/api/status", nil)
	if err != nil {
		return out.Data, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return out.Data, fmt.Errorf("engine not reachable: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out.Data, fmt.Errorf("invalid status response: %w", err)
	}
	if !out.Success {
		return out.Data, fmt.Errorf("status request failed: %s", out.Error)
	}
	return out.Data, nil
}

func renderStatus(h entity.SystemHealth, pending []*entity.ApprovalRequest) error {
	if h.Status == entity.SystemOperational {
		pterm.Success.Printfln("System %s (%s)", h.Status, h.Timestamp.Local().Format("2006-01-02 15:04:05"))
	} else {
		pterm.Warning.Printfln("System %s (%s)", h.Status, h.Timestamp.Local().Format("2006-01-02 15:04:05"))
	}

	partitions := pterm.TableData{{"Partition", "Tasks"}}
	for _, p := range entity.Partitions {
		partitions = append(partitions, []string{string(p), strconv.Itoa(h.Partitions[p])})
	}
	if err := pterm.DefaultTable.WithHasHeader(true).WithBoxed(false).WithData(partitions).Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	if len(h.Watchers) > 0 {
		pterm.DefaultSection.Println("Watchers")
		watchers := pterm.TableData{{"Watcher", "Status", "Failures", "Tasks", "Last success"}}
		for _, w := range h.Watchers {
			last := "never"
			if w.LastSuccess != nil {
				last = w.LastSuccess.Local().Format("2006-01-02 15:04")
			}
			watchers = append(watchers, []string{w.Name, string(w.Status), strconv.Itoa(w.ConsecutiveFailures), strconv.Itoa(w.TasksCreated), last})
		}
		if err := pterm.DefaultTable.WithHasHeader(true).WithBoxed(false).WithData(watchers).Render(); err != nil {
			return fmt.Errorf("failed to render table: %w", err)
		}
	}

	if len(pending) > 0 {
		pterm.DefaultSection.Println("Awaiting approval")
		rows := pterm.TableData{{"Task", "Action", "Requested", "Expires"}}
		for _, r := range pending {
			rows = append(rows, []string{r.TaskID, string(r.ActionType), r.CreatedAt.Local().Format("2006-01-02 15:04"), r.ExpiresAt.Local().Format("2006-01-02 15:04")})
		}
		if err := pterm.DefaultTable.WithHasHeader(true).WithBoxed(false).WithData(rows).Render(); err != nil {
			return fmt.Errorf("failed to render table: %w", err)
		}
	} else if h.PendingApprovals > 0 {
		pterm.Info.Printfln("%d approval requests pending", h.PendingApprovals)
	}

	for _, p := range h.Problems {
		pterm.Warning.Println(p)
	}
	return nil
}
