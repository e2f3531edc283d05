package main

import (
	"context"

	"github.com/spf13/cobra"
)

// Execute runs the rotavg command tree.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:           "rotavg",
		Short:         "Rotation averaging with global optimality certification",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd())
	return root.ExecuteContext(ctx)
}
