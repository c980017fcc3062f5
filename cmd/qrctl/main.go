package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"payment_backend/internal/config"
	"payment_backend/internal/signing"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "qrctl",
		Short:         "Build, inspect and render signed VietQR payloads offline",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file (defaults to ./config.yaml and the environment)")

	root.AddCommand(inspectCmd())
	root.AddCommand(buildCmd())
	root.AddCommand(renderCmd())
	return root
}

// loadSigner reads the same signing keys the server uses.
func loadSigner(cmd *cobra.Command) (config.Config, *signing.Signer, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	s, err := cfg.Signer()
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, s, nil
}
