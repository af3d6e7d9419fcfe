package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/psantana5/unit-provisioner/pkg/api"
	"github.com/psantana5/unit-provisioner/pkg/auth"
)

var identityForce bool

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage the signing identity",
}

var identityNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Generate a new identity key",
	Long:  `Generates an ed25519 key at the identity path and prints the principal it signs as.`,
	RunE:  runIdentityNew,
}

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the local principal and how the provisioner sees this client",
	RunE:  runIdentityShow,
}

func init() {
	rootCmd.AddCommand(identityCmd)
	identityCmd.AddCommand(identityNewCmd)
	identityCmd.AddCommand(identityShowCmd)

	identityNewCmd.Flags().BoolVar(&identityForce, "force", false, "overwrite an existing key")
}

func runIdentityNew(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(identityFile); err == nil && !identityForce {
		return fmt.Errorf("%s already exists, use --force to replace it", identityFile)
	}
	if err := os.MkdirAll(filepath.Dir(identityFile), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	key, err := auth.GenerateKey()
	if err != nil {
		return err
	}
	if err := auth.SaveKey(identityFile, key); err != nil {
		return err
	}
	signer, err := auth.NewSigner(key)
	if err != nil {
		return err
	}

	fmt.Printf("Identity written to %s\n", identityFile)
	fmt.Printf("Principal: %s\n", signer.Principal())
	return nil
}

func runIdentityShow(cmd *cobra.Command, args []string) error {
	var resp api.WhoAmIResponse
	if err := get("/whoami", &resp); err != nil {
		return fmt.Errorf("failed to query provisioner: %w", err)
	}
	if IsJSONOutput() {
		return printJSON(resp)
	}
	if resp.Anonymous {
		fmt.Println("Anonymous (no identity key found)")
		return nil
	}
	fmt.Printf("Principal: %s\n", resp.Principal)
	return nil
}
