package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/psantana5/unit-provisioner/pkg/api"
	"github.com/psantana5/unit-provisioner/pkg/models"
	"github.com/psantana5/unit-provisioner/pkg/principal"
)

var seedGroupTag string

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Maintainer operations",
	Long: `Maintainer operations. The identity must be a configured maintainer and
--admin-key must be set when the provisioner requires one.`,
}

var adminSeedCmd = &cobra.Command{
	Use:   "seed <unit>",
	Short: "Record an existing unit without a funded run",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdminSeed,
}

var adminRelayCmd = &cobra.Command{
	Use:   "relay [address]",
	Short: "Show or set the notification relay address",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAdminRelay,
}

var adminImageCmd = &cobra.Command{
	Use:   "image <file>",
	Short: "Upload the code installed into new units",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdminImage,
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminSeedCmd)
	adminCmd.AddCommand(adminRelayCmd)
	adminCmd.AddCommand(adminImageCmd)

	adminSeedCmd.Flags().StringVar(&seedGroupTag, "group-tag", "", "tag stored with the unit")
}

func runAdminSeed(cmd *cobra.Command, args []string) error {
	unit, err := principal.FromText(args[0])
	if err != nil {
		return fmt.Errorf("invalid unit: %w", err)
	}

	var record models.Ownership
	req := api.SeedUnitRequest{Unit: unit, GroupTag: seedGroupTag}
	if err := post("/admin/units", req, &record); err != nil {
		return fmt.Errorf("seed failed: %w", err)
	}
	if IsJSONOutput() {
		return printJSON(record)
	}
	printOwnership(record)
	return nil
}

func runAdminRelay(cmd *cobra.Command, args []string) error {
	var resp api.RelayRequest
	if len(args) == 0 {
		if err := get("/admin/relay", &resp); err != nil {
			return fmt.Errorf("failed to get relay: %w", err)
		}
	} else if err := put("/admin/relay", api.RelayRequest{Address: args[0]}, &resp); err != nil {
		return fmt.Errorf("failed to set relay: %w", err)
	}

	if IsJSONOutput() {
		return printJSON(resp)
	}
	if resp.Address == "" {
		fmt.Println("No relay configured")
		return nil
	}
	fmt.Printf("Relay: %s\n", resp.Address)
	return nil
}

func runAdminImage(cmd *cobra.Command, args []string) error {
	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	var resp api.UploadImageResponse
	if err := put("/admin/unit-image", api.UploadImageRequest{Image: image}, &resp); err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	if IsJSONOutput() {
		return printJSON(resp)
	}
	fmt.Printf("Uploaded unit image (%d bytes)\n", resp.Bytes)
	return nil
}
