package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the PlugMesh CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugmesh",
		Short: "PlugMesh - communication substrate for plugin hosts",
		Long: `PlugMesh is an in-process communication substrate for native plugin
hosts: a typed publish/subscribe bus, event distribution with delivery
modes, correlation-based request/response, and a semver service
contract registry.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewContractsCmd())

	return cmd
}
