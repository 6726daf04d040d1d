// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/plugmesh/plugmesh/internal/contract"
)

// NewContractsCmd creates the contracts subcommand group.
func NewContractsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contracts",
		Short: "Work with service contract declarations",
	}

	cmd.AddCommand(NewContractsValidateCmd())
	cmd.AddCommand(NewContractsSchemaCmd())

	return cmd
}

// NewContractsValidateCmd creates the contracts validate subcommand.
func NewContractsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate contract declaration files without starting the server",
		Long: `Validates contract.yaml declaration files against the contract JSON
Schema and the semantic rules (name pattern, semantic version, method
names). Exits with code 0 on success, non-zero on failure.

Useful in CI pipelines to catch contract errors early:
  plugmesh contracts validate plugins/*/contract.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContractsValidate(cmd, args)
		},
	}
}

func runContractsValidate(cmd *cobra.Command, paths []string) error {
	var failures int
	for _, path := range paths {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
		if err != nil {
			cmd.PrintErrf("%s: %v\n", path, err)
			failures++
			continue
		}

		if err := contract.ValidateSchema(data); err != nil {
			cmd.PrintErrf("%s: %s\n", path, contract.FormatSchemaError(err))
			failures++
			continue
		}

		c, err := contract.ParseDeclaration(data)
		if err != nil {
			cmd.PrintErrf("%s: %v\n", path, err)
			failures++
			continue
		}

		cmd.Printf("%s: ok (%s@%s from %s)\n", path, c.Name, c.Version, c.ProviderID)
	}

	if failures > 0 {
		return fmt.Errorf("validation failed: %d of %d files invalid", failures, len(paths))
	}
	return nil
}

// NewContractsSchemaCmd creates the contracts schema subcommand.
func NewContractsSchemaCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Generate the contract declaration JSON Schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := contract.GenerateSchema()
			if err != nil {
				return fmt.Errorf("generating schema: %w", err)
			}

			if outPath == "" {
				cmd.Println(string(schema))
				return nil
			}

			if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
				return fmt.Errorf("creating directory: %w", err)
			}
			if err := os.WriteFile(outPath, schema, 0o600); err != nil {
				return fmt.Errorf("writing schema: %w", err)
			}
			cmd.Printf("Generated %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default: stdout)")

	return cmd
}
