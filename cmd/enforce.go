package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var enforceCmd = &cobra.Command{
	Use:   "enforce <recommendation-id>",
	Short: "Run one recommendation through the enforcement loop",
	Long: `Evaluates a single pending recommendation in the given mode.

Modes: SHADOW (log only), ENFORCE (operator approval, skips the autonomy gate),
ENFORCE_LITE and ENFORCE_AUTO (autonomy gate), AUTO (the account's configured mode).`,
	Example: `  autoprice enforce 7f1c... --mode ENFORCE
  autoprice enforce 7f1c... --mode SHADOW`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flag, _ := cmd.Flags().GetString("mode")
		mode, err := parseModeFlag(flag, cfg.Enforcer.DefaultMode)
		if err != nil {
			return err
		}

		return withEngine(cmd.Context(), func(env *engineEnv) error {
			res, err := env.Enforcer.Enforce(cmd.Context(), args[0], mode)
			if err != nil {
				return eris.Wrap(err, "enforce")
			}
			zap.L().Info("enforcement complete",
				zap.String("recommendation_id", res.RecommendationID),
				zap.String("outcome", string(res.Outcome)),
			)
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process pending recommendations, oldest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		flag, _ := cmd.Flags().GetString("mode")
		mode, err := parseModeFlag(flag, cfg.Enforcer.DefaultMode)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		return withEngine(cmd.Context(), func(env *engineEnv) error {
			summary, err := env.Enforcer.ProcessRecommendations(cmd.Context(), mode, limit)
			if summary != nil {
				if asJSON {
					if perr := printJSON(cmd.OutOrStdout(), summary); perr != nil {
						return perr
					}
				} else {
					formatBatchSummary(cmd.OutOrStdout(), summary)
				}
			}
			return eris.Wrap(err, "process")
		})
	},
}

func init() {
	enforceCmd.Flags().String("mode", "", "enforcement mode (default from enforcer.default_mode)")

	processCmd.Flags().String("mode", "", "enforcement mode (default from enforcer.default_mode)")
	processCmd.Flags().Int("limit", 0, "max recommendations to process (default enforcer.batch_size)")
	processCmd.Flags().Bool("json", false, "print the summary as JSON")

	rootCmd.AddCommand(enforceCmd)
	rootCmd.AddCommand(processCmd)
}
