package main

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Manual review of pending recommendations",
	Long:  "Reject pending recommendations by hand. To approve one, run `enforce <id> --mode ENFORCE`.",
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <recommendation-id> <reason...>",
	Short: "Reject a pending recommendation",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason := strings.Join(args[1:], " ")
		return withEngine(cmd.Context(), func(env *engineEnv) error {
			res, err := env.Enforcer.Reject(cmd.Context(), args[0], reason)
			if err != nil {
				return eris.Wrap(err, "review reject")
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

func init() {
	reviewCmd.AddCommand(reviewRejectCmd)
	rootCmd.AddCommand(reviewCmd)
}
