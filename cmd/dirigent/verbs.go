package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/dirigent-io/dirigent/pkg/api"
	"github.com/dirigent-io/dirigent/pkg/models"
)

func newRunCmd() *cobra.Command {
	var server, summary, kind, planFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a workflow for execution",
		Long: `Submit a workflow for execution.

Either describe the work (--summary, --kind) and let the server generate a
plan from its templates, or submit an explicit plan from a JSON file
(--plan).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := api.CreateExecutionRequest{}
			if planFile != "" {
				data, err := os.ReadFile(planFile)
				if err != nil {
					return userError(err)
				}
				var pl models.WorkflowPlan
				if err := json.Unmarshal(data, &pl); err != nil {
					return userError(fmt.Errorf("parse plan file %s: %w", planFile, err))
				}
				body.Plan = &pl
			}
			if summary != "" || kind != "" {
				body.Request = &models.ClarifiedRequest{
					ID:      "req-cli",
					Summary: summary,
					Kind:    kind,
				}
			}
			if body.Plan == nil && body.Request == nil {
				return userError(fmt.Errorf("nothing to run: pass --plan or --summary/--kind"))
			}

			var resp struct {
				ExecutionID string `json:"execution_id"`
			}
			if err := newClient(server).do(http.MethodPost, "/api/v1/executions", body, &resp); err != nil {
				return err
			}
			cmd.Println(resp.ExecutionID)
			return nil
		},
	}
	addServerFlag(cmd, &server)
	cmd.Flags().StringVar(&summary, "summary", "", "what the workflow should accomplish")
	cmd.Flags().StringVar(&kind, "kind", "", "request kind (feature, bugfix, research, ...)")
	cmd.Flags().StringVar(&planFile, "plan", "", "path to an explicit workflow plan (JSON)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "status [execution-id]",
		Short: "Show one execution, or list the active ones",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient(server)
			if len(args) == 1 {
				var snapshot map[string]any
				if err := client.do(http.MethodGet, "/api/v1/executions/"+args[0], nil, &snapshot); err != nil {
					return err
				}
				return printJSON(cmd, snapshot)
			}
			var listing map[string]any
			if err := client.do(http.MethodGet, "/api/v1/executions", nil, &listing); err != nil {
				return err
			}
			return printJSON(cmd, listing)
		},
	}
	addServerFlag(cmd, &server)
	return cmd
}

// controlCmd builds the pause/resume/cancel family: one POST to an
// execution sub-resource.
func controlCmd(use, short, action string) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   use + " <execution-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]any
			path := "/api/v1/executions/" + args[0] + "/" + action
			if err := newClient(server).do(http.MethodPost, path, nil, &resp); err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
	addServerFlag(cmd, &server)
	return cmd
}

func newPauseCmd() *cobra.Command {
	return controlCmd("pause", "Pause a running execution", "pause")
}

func newResumeCmd() *cobra.Command {
	return controlCmd("resume", "Resume a paused execution", "resume")
}

func newCancelCmd() *cobra.Command {
	return controlCmd("cancel", "Cancel an execution", "cancel")
}

func newRollbackCmd() *cobra.Command {
	var server, checkpointID string

	cmd := &cobra.Command{
		Use:   "rollback <execution-id>",
		Short: "Roll an execution back to a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := api.RollbackRequest{CheckpointID: checkpointID}
			var snapshot map[string]any
			path := "/api/v1/executions/" + args[0] + "/rollback"
			if err := newClient(server).do(http.MethodPost, path, body, &snapshot); err != nil {
				return err
			}
			return printJSON(cmd, snapshot)
		},
	}
	addServerFlag(cmd, &server)
	cmd.Flags().StringVar(&checkpointID, "checkpoint", "",
		"checkpoint id (defaults to the most recent recoverable one)")
	return cmd
}

func newSkipCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "skip <execution-id> <task-id>",
		Short: "Skip a task so the rest of the workflow can continue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]any
			path := "/api/v1/executions/" + args[0] + "/tasks/" + args[1] + "/skip"
			if err := newClient(server).do(http.MethodPost, path, nil, &resp); err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
	addServerFlag(cmd, &server)
	return cmd
}

func newPoolsCmd() *cobra.Command {
	var server string
	var scale int

	cmd := &cobra.Command{
		Use:   "pools [role]",
		Short: "Inspect agent pools, or scale one role",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient(server)
			if len(args) == 0 {
				var listing map[string]any
				if err := client.do(http.MethodGet, "/api/v1/pools", nil, &listing); err != nil {
					return err
				}
				return printJSON(cmd, listing)
			}
			role := args[0]
			if cmd.Flags().Changed("scale") {
				var status map[string]any
				body := api.ScalePoolRequest{Instances: scale}
				if err := client.do(http.MethodPost, "/api/v1/pools/"+role+"/scale", body, &status); err != nil {
					return err
				}
				return printJSON(cmd, status)
			}
			var status map[string]any
			if err := client.do(http.MethodGet, "/api/v1/pools/"+role, nil, &status); err != nil {
				return err
			}
			return printJSON(cmd, status)
		},
	}
	addServerFlag(cmd, &server)
	cmd.Flags().IntVar(&scale, "scale", 0, "scale the role's pool to this many instances")
	return cmd
}

func newMetricsCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show the engine's workflow and pool counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			var summary api.MetricsSummary
			if err := newClient(server).do(http.MethodGet, "/api/v1/metrics/summary", nil, &summary); err != nil {
				return err
			}
			return printJSON(cmd, summary)
		},
	}
	addServerFlag(cmd, &server)
	return cmd
}
