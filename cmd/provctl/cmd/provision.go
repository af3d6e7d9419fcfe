package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/psantana5/unit-provisioner/pkg/api"
	"github.com/psantana5/unit-provisioner/pkg/models"
	"github.com/psantana5/unit-provisioner/pkg/principal"
	"github.com/psantana5/unit-provisioner/pkg/provision"
)

var (
	provisionOwners   []string
	provisionGroupTag string
)

var provisionCmd = &cobra.Command{
	Use:   "provision <funding-block>",
	Short: "Provision a new unit paid by a ledger transfer",
	Long: `Provisions a unit from the transfer recorded in <funding-block>. The
transfer must come from this identity and pay the provisioner. Amounts
below the minimum are refunded.`,
	Args: cobra.ExactArgs(1),
	RunE: runProvision,
}

var topUpCmd = &cobra.Command{
	Use:   "top-up <funding-block> <unit>",
	Short: "Add resource credits to an existing unit",
	Args:  cobra.ExactArgs(2),
	RunE:  runTopUp,
}

var minimumCmd = &cobra.Command{
	Use:   "minimum",
	Short: "Show the minimum amount a provision transfer must carry",
	RunE:  runMinimum,
}

func init() {
	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(topUpCmd)
	rootCmd.AddCommand(minimumCmd)

	provisionCmd.Flags().StringSliceVar(&provisionOwners, "owner", nil, "owner principal (repeat, at least two)")
	provisionCmd.Flags().StringVar(&provisionGroupTag, "group-tag", "", "tag stored with the unit")
	provisionCmd.MarkFlagRequired("owner")
}

func parseBlock(s string) (uint64, error) {
	block, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid block index %q", s)
	}
	return block, nil
}

func parsePrincipals(values []string) ([]principal.Principal, error) {
	out := make([]principal.Principal, 0, len(values))
	for _, v := range values {
		p, err := principal.FromText(v)
		if err != nil {
			return nil, fmt.Errorf("invalid principal %q: %w", v, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func runProvision(cmd *cobra.Command, args []string) error {
	block, err := parseBlock(args[0])
	if err != nil {
		return err
	}
	owners, err := parsePrincipals(provisionOwners)
	if err != nil {
		return err
	}

	req := provision.ProvisionRequest{
		FundingBlock: block,
		Owners:       owners,
		GroupTag:     provisionGroupTag,
	}
	var resp api.ProvisionResponse
	if err := post("/provision", req, &resp); err != nil {
		return fmt.Errorf("provision failed: %w", err)
	}

	if IsJSONOutput() {
		return printJSON(resp)
	}
	fmt.Printf("Unit provisioned: %s\n", resp.Unit)
	fmt.Printf("Check progress with: provctl runs get %d\n", block)
	return nil
}

func runTopUp(cmd *cobra.Command, args []string) error {
	block, err := parseBlock(args[0])
	if err != nil {
		return err
	}
	unit, err := principal.FromText(args[1])
	if err != nil {
		return fmt.Errorf("invalid unit: %w", err)
	}

	var progress models.Progress
	req := provision.TopUpRequest{FundingBlock: block, Unit: unit}
	if err := post("/top-up", req, &progress); err != nil {
		return fmt.Errorf("top-up failed: %w", err)
	}

	if IsJSONOutput() {
		return printJSON(progress)
	}
	credits := uint64(0)
	if progress.Credits != nil {
		credits = *progress.Credits
	}
	fmt.Printf("Unit %s topped up with %d credits\n", unit, credits)
	return nil
}

func runMinimum(cmd *cobra.Command, args []string) error {
	var resp api.MinimumAmountResponse
	if err := get("/minimum-amount", &resp); err != nil {
		return fmt.Errorf("failed to query minimum: %w", err)
	}
	if IsJSONOutput() {
		return printJSON(resp)
	}
	fmt.Printf("Minimum amount: %d\n", resp.Amount)
	return nil
}
