package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pushctl",
		Short:         "Operator tooling for the push-engine service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.AddCommand(
		newVapidCommand(),
		newTokenCommand(),
		newSendCommand(),
	)
	return cmd
}
