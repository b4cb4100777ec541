package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/underwriter"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "underwriter %s\n", underwriter.Version)
			return err
		},
	}
}
