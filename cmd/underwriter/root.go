package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "underwriter",
		Short: "Durable loan underwriting orchestration",
		Long: `underwriter evaluates loan applications as durable workflows.

Each application acquires bank, document and credit-bureau data, fans out to
credit, income and expense evaluators, aggregates a recommendation and waits
for a human reviewer before it is decided.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd(), newEvaluateCmd(), newVersionCmd())

	return root
}
