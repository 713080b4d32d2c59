// Package cli defines the familydb command line.
package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// RunFunc runs the tutorial.
type RunFunc func(ctx context.Context) error

// NewRootCommand creates the root command. It takes no arguments or flags;
// settings come from FAMILYDB_* environment variables.
func NewRootCommand(run RunFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "familydb",
		Short: "Family document database tutorial",
		Long: "Creates FamilyDatabase and FamilyContainer, writes the Adamski and Orlando families, " +
			"queries, replaces and deletes them, then deletes the database.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
}
