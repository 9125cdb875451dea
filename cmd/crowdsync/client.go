package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/crowdsync"
)

func newStatusCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show workflow and step status from a running service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var statuses []crowdsync.WorkflowStatus
			if err := call(http.MethodGet, addr+"/workflows", &statuses); err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), statuses)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "status API base URL")
	return cmd
}

func newStartCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "start <workflow>",
		Short: "Make a workflow run on the next scheduler tick",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var status crowdsync.WorkflowStatus
			endpoint := addr + "/workflows/" + url.PathEscape(args[0]) + "/start"
			if err := call(http.MethodPost, endpoint, &status); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s will run at the next tick (next run %s)\n",
				status.Name, status.NextRun.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "status API base URL")
	return cmd
}

func call(method, endpoint string, out interface{}) error {
	req, err := http.NewRequest(method, endpoint, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printStatus(w io.Writer, statuses []crowdsync.WorkflowStatus) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range statuses {
		fmt.Fprintf(tw, "%s\t%s\tnext run %s\t%s\n",
			s.Name, s.State, s.NextRun.Local().Format(time.RFC3339), s.Status)
		for _, step := range s.Steps {
			fmt.Fprintf(tw, "  %s\t%s\t\t%s\n", step.Name, step.Outcome, step.Result)
		}
	}
	return tw.Flush()
}
