package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/unit-provisioner/pkg/auth"
	"github.com/psantana5/unit-provisioner/pkg/remote"
	"github.com/psantana5/unit-provisioner/pkg/retry"
	tlsutil "github.com/psantana5/unit-provisioner/pkg/tls"
)

var (
	serverURL    string
	outputFormat string
	cfgFile      string
	identityFile string
	adminKey     string
	caFile       string
	insecure     bool
	timeout      time.Duration
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "provctl",
	Short: "CLI for the unit provisioner",
	Long: `provctl talks to a unit provisioner. It provisions and tops up units,
inspects ownership and runs, and performs maintainer operations.

Requests are signed with the identity key, so the provisioner sees the
principal derived from it.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.provctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "provisioner URL (default from config or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
	rootCmd.PersistentFlags().StringVar(&identityFile, "identity", "", "identity key file (default is $HOME/.provctl/identity.pem)")
	rootCmd.PersistentFlags().StringVar(&adminKey, "admin-key", "", "maintainer key for admin commands")
	rootCmd.PersistentFlags().StringVar(&caFile, "ca-file", "", "CA certificate for verifying the provisioner")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure", false, "skip TLS certificate verification")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "request timeout")
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".provctl"
	}
	return filepath.Join(home, ".provctl")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PROVCTL")
	viper.AutomaticEnv()
	viper.SetDefault("server", "http://localhost:8080")
	viper.SetDefault("identity", filepath.Join(configDir(), "identity.pem"))

	// A missing config file is fine, flags and env still apply
	_ = viper.ReadInConfig()

	if serverURL == "" {
		serverURL = viper.GetString("server")
	}
	if identityFile == "" {
		identityFile = viper.GetString("identity")
	}
	if adminKey == "" {
		adminKey = viper.GetString("admin_key")
	}
	if caFile == "" {
		caFile = viper.GetString("ca_file")
	}
}

func viperConfigFile() string {
	return viper.ConfigFileUsed()
}

// GetServerURL returns the configured provisioner URL with trailing slashes removed
func GetServerURL() string {
	return strings.TrimRight(serverURL, "/")
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// newClient builds a client that signs every request with the identity key.
// Without a key file requests go out anonymous.
func newClient() (*remote.Client, error) {
	client := remote.NewClient(GetServerURL(), timeout)
	if strings.HasPrefix(GetServerURL(), "https://") {
		tlsConfig, err := tlsutil.LoadClientTLSConfig(caFile, insecure)
		if err != nil {
			return nil, err
		}
		client = client.WithTLSConfig(tlsConfig)
	}

	if _, err := os.Stat(identityFile); err != nil {
		if os.IsNotExist(err) {
			return client, nil
		}
		return nil, err
	}
	key, err := auth.LoadKey(identityFile)
	if err != nil {
		return nil, err
	}
	signer, err := auth.NewSigner(key)
	if err != nil {
		return nil, err
	}

	return client.WithRequestHook(func(req *http.Request, body []byte) {
		if adminKey != "" {
			req.Header.Set(auth.HeaderAdminKey, adminKey)
		}
		signer.Sign(req, body)
	}), nil
}

// get fetches path, retrying transient failures
func get(path string, out interface{}) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx := context.Background()
	return retry.Do(ctx, retry.DefaultConfig(), func() error {
		return client.Get(ctx, path, out)
	})
}

func post(path string, in, out interface{}) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	return client.Post(context.Background(), path, in, out)
}

func put(path string, in, out interface{}) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	return client.Put(context.Background(), path, in, out)
}

func printJSON(v interface{}) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(output))
	return nil
}
