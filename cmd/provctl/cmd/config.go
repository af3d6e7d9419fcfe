package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/unit-provisioner/pkg/config"
)

var configServerFile string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Show the effective client configuration",
	RunE:  runConfigView,
}

var configServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Print the effective provisioner configuration as YAML",
	Long: `Loads a provisioner config file, applies PROVISIONER_* environment
variables and prints the result. Problems are reported after the output.`,
	RunE: runConfigServer,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configServerCmd)

	configServerCmd.Flags().StringVarP(&configServerFile, "file", "f", "", "provisioner config file (defaults only when empty)")
}

type clientConfig struct {
	Server     string `json:"server" yaml:"server"`
	Identity   string `json:"identity" yaml:"identity"`
	CAFile     string `json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
	AdminKey   bool   `json:"admin_key_set" yaml:"admin_key_set"`
	Insecure   bool   `json:"insecure" yaml:"insecure"`
	ConfigFile string `json:"config_file,omitempty" yaml:"config_file,omitempty"`
}

func runConfigView(cmd *cobra.Command, args []string) error {
	view := clientConfig{
		Server:     GetServerURL(),
		Identity:   identityFile,
		CAFile:     caFile,
		AdminKey:   adminKey != "",
		Insecure:   insecure,
		ConfigFile: viperConfigFile(),
	}
	if IsJSONOutput() {
		return printJSON(view)
	}
	out, err := yaml.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

func runConfigServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configServerFile)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	fmt.Print(string(out))

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration is invalid:\n%w", err)
	}
	return nil
}
