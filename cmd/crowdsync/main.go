package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "crowdsync",
		Short:         "Synchronize crowd-sourced metadata into the catalog and mail reports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: ./crowdsync.yaml)")

	root.AddCommand(
		newServeCmd(&configPath),
		newStatusCmd(),
		newStartCmd(),
	)
	return root
}
