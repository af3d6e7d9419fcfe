package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/unit-provisioner/pkg/api"
	"github.com/psantana5/unit-provisioner/pkg/provision"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect provision and top-up runs",
	Long:  `Every run is keyed by its funding block and records how far it got.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all runs",
	RunE:  runRunsList,
}

var runsGetCmd = &cobra.Command{
	Use:   "get <funding-block>",
	Short: "Show the progress of one run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsGet,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsGetCmd)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	var resp api.RunsResponse
	if err := get("/runs", &resp); err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if IsJSONOutput() {
		return printJSON(resp)
	}
	if len(resp.Runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Funding Block", "Kind", "Stage", "Started", "Finished")
	for _, run := range resp.Runs {
		finished := "No"
		if run.Finished {
			finished = "Yes"
		}
		table.Append(
			fmt.Sprintf("%d", run.FundingBlock),
			run.Label,
			string(run.Stage),
			run.StartedAt.Format(time.RFC3339),
			finished,
		)
	}
	table.Render()
	fmt.Printf("\nTotal runs: %d\n", resp.Count)
	return nil
}

func runRunsGet(cmd *cobra.Command, args []string) error {
	block, err := parseBlock(args[0])
	if err != nil {
		return err
	}
	var run provision.Run
	if err := get(fmt.Sprintf("/runs/%d", block), &run); err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}
	if IsJSONOutput() {
		return printJSON(run)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Property", "Value")
	table.Append([]string{"Funding Block", fmt.Sprintf("%d", run.FundingBlock)})
	table.Append([]string{"Kind", run.Label})
	table.Append([]string{"Stage", string(run.Stage)})
	table.Append([]string{"Started", run.StartedAt.Format(time.RFC3339)})
	if run.Target != nil {
		table.Append([]string{"Target", run.Target.String()})
	}
	if run.ValidatedAmount != nil {
		table.Append([]string{"Amount", fmt.Sprintf("%d", *run.ValidatedAmount)})
	}
	if run.RefundBlock != nil {
		table.Append([]string{"Refund Block", fmt.Sprintf("%d", *run.RefundBlock)})
	}
	if run.ForwardBlock != nil {
		table.Append([]string{"Minter Block", fmt.Sprintf("%d", *run.ForwardBlock)})
	}
	if run.Credits != nil {
		table.Append([]string{"Credits", fmt.Sprintf("%d", *run.Credits)})
	}
	if run.CreatedUnit != nil {
		table.Append([]string{"Created Unit", run.CreatedUnit.String()})
	}
	if run.InstalledUnit != nil {
		table.Append([]string{"Installed Unit", run.InstalledUnit.String()})
	}
	if run.RecordedAt != nil {
		table.Append([]string{"Recorded", run.RecordedAt.Format(time.RFC3339)})
	}
	table.Render()
	return nil
}
