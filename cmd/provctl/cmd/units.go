package cmd

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/unit-provisioner/pkg/api"
	"github.com/psantana5/unit-provisioner/pkg/models"
	"github.com/psantana5/unit-provisioner/pkg/principal"
)

var unitsOwner string

// unitsCmd represents the units command
var unitsCmd = &cobra.Command{
	Use:   "units",
	Short: "Inspect and transfer managed units",
}

var unitsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List managed units",
	RunE:  runUnitsList,
}

var unitsGetCmd = &cobra.Command{
	Use:   "get <unit>",
	Short: "Show the ownership record of a unit",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnitsGet,
}

var unitsTransferCmd = &cobra.Command{
	Use:   "transfer <unit> <new-owner>",
	Short: "Hand a unit to a new owner",
	Long:  `Transfers ownership of <unit>. Only its current owner may do this.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runUnitsTransfer,
}

var unitsHistoryCmd = &cobra.Command{
	Use:   "history <unit>",
	Short: "Show the ownership transfers of a unit",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnitsHistory,
}

func init() {
	rootCmd.AddCommand(unitsCmd)
	unitsCmd.AddCommand(unitsListCmd)
	unitsCmd.AddCommand(unitsGetCmd)
	unitsCmd.AddCommand(unitsTransferCmd)
	unitsCmd.AddCommand(unitsHistoryCmd)

	unitsListCmd.Flags().StringVar(&unitsOwner, "owner", "", "only units owned by this principal")
}

func runUnitsList(cmd *cobra.Command, args []string) error {
	path := "/units"
	if unitsOwner != "" {
		path += "?owner=" + url.QueryEscape(unitsOwner)
	}

	var resp api.UnitsResponse
	if err := get(path, &resp); err != nil {
		return fmt.Errorf("failed to list units: %w", err)
	}
	if IsJSONOutput() {
		return printJSON(resp)
	}
	if len(resp.Units) == 0 {
		fmt.Println("No units found")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Unit", "Owner", "Created By", "Funding Block", "Group", "Updated")
	for _, u := range resp.Units {
		table.Append(
			u.Unit.String(),
			u.Owner.String(),
			u.CreatedBy.String(),
			fmt.Sprintf("%d", u.FundingBlock),
			u.GroupTag,
			u.UpdatedAt.Format(time.RFC3339),
		)
	}
	table.Render()
	fmt.Printf("\nTotal units: %d\n", resp.Count)
	return nil
}

func runUnitsGet(cmd *cobra.Command, args []string) error {
	var record models.Ownership
	if err := get("/units/"+url.PathEscape(args[0]), &record); err != nil {
		return fmt.Errorf("failed to get unit: %w", err)
	}
	if IsJSONOutput() {
		return printJSON(record)
	}
	printOwnership(record)
	return nil
}

func printOwnership(record models.Ownership) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Property", "Value")
	table.Append([]string{"Unit", record.Unit.String()})
	table.Append([]string{"Owner", record.Owner.String()})
	table.Append([]string{"Created By", record.CreatedBy.String()})
	table.Append([]string{"Created", record.CreatedAt.Format(time.RFC3339)})
	table.Append([]string{"Updated", record.UpdatedAt.Format(time.RFC3339)})
	table.Append([]string{"Funding Block", fmt.Sprintf("%d", record.FundingBlock)})
	table.Append([]string{"Minting Block", fmt.Sprintf("%d", record.MintingBlock)})
	if record.GroupTag != "" {
		table.Append([]string{"Group", record.GroupTag})
	}
	table.Render()
}

func runUnitsTransfer(cmd *cobra.Command, args []string) error {
	newOwner, err := principal.FromText(args[1])
	if err != nil {
		return fmt.Errorf("invalid new owner: %w", err)
	}

	var record models.Ownership
	req := api.TransferOwnershipRequest{NewOwner: newOwner}
	if err := post("/units/"+url.PathEscape(args[0])+"/owner", req, &record); err != nil {
		return fmt.Errorf("transfer failed: %w", err)
	}
	if IsJSONOutput() {
		return printJSON(record)
	}
	fmt.Printf("Unit %s is now owned by %s\n", record.Unit, record.Owner)
	return nil
}

func runUnitsHistory(cmd *cobra.Command, args []string) error {
	var resp api.TransfersResponse
	if err := get("/units/"+url.PathEscape(args[0])+"/transfers", &resp); err != nil {
		return fmt.Errorf("failed to get history: %w", err)
	}
	if IsJSONOutput() {
		return printJSON(resp)
	}
	if len(resp.Transfers) == 0 {
		fmt.Println("No transfers recorded")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("At", "From", "To")
	for _, t := range resp.Transfers {
		table.Append(t.At.Format(time.RFC3339), t.From.String(), t.To.String())
	}
	table.Render()
	return nil
}
