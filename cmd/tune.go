package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/autoprice/internal/model"
)

var tuneCmd = &cobra.Command{
	Use:   "tune",
	Short: "Detect strategy drift and review guardrail tuning recommendations",
}

var tuneRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run drift detection and record tuning recommendations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEngine(cmd.Context(), func(env *engineEnv) error {
			res, err := env.Tuning.RunCycle(cmd.Context())
			if err != nil {
				return eris.Wrap(err, "tune run")
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "signals=%d created=%d skipped=%d\n", len(res.Signals), len(res.Created), res.Skipped)
			for _, sig := range res.Signals {
				_, _ = fmt.Fprintf(out, "  [%s] %s %s: %s\n", sig.Severity, sig.StrategyName, sig.Code, sig.Detail)
			}
			if len(res.Created) > 0 {
				formatTuning(out, res.Created)
			}
			return nil
		})
	},
}

var tuneListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tuning recommendations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		status, _ := cmd.Flags().GetString("status")
		return withEngine(cmd.Context(), func(env *engineEnv) error {
			recs, err := env.Tuning.List(cmd.Context(), model.TuningStatus(strings.ToUpper(status)))
			if err != nil {
				return eris.Wrap(err, "tune list")
			}
			if len(recs) == 0 {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "No tuning recommendations found.")
				return nil
			}
			formatTuning(cmd.OutOrStdout(), recs)
			return nil
		})
	},
}

var tuneApplyCmd = &cobra.Command{
	Use:   "apply <tuning-id>",
	Short: "Apply a pending tuning recommendation to its strategy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(env *engineEnv) error {
			rec, err := env.Tuning.Apply(cmd.Context(), args[0])
			if err != nil {
				return eris.Wrap(err, "tune apply")
			}
			return printJSON(cmd.OutOrStdout(), rec)
		})
	},
}

var tuneDismissCmd = &cobra.Command{
	Use:   "dismiss <tuning-id>",
	Short: "Dismiss a pending tuning recommendation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(env *engineEnv) error {
			rec, err := env.Tuning.Dismiss(cmd.Context(), args[0])
			if err != nil {
				return eris.Wrap(err, "tune dismiss")
			}
			return printJSON(cmd.OutOrStdout(), rec)
		})
	},
}

var evolveCmd = &cobra.Command{
	Use:   "evolve",
	Short: "Run the autonomy evolution cycle over active segments",
	Long: `Demotes and freezes segments whose recent rejection rate is too high and
reports segments that qualify for promotion. Promotions are never applied
automatically; use "segment tier" to act on one.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		days, _ := cmd.Flags().GetInt("days")
		return withEngine(cmd.Context(), func(env *engineEnv) error {
			results, err := env.Evolution.RunCycle(cmd.Context(), days)
			if err != nil {
				return eris.Wrap(err, "evolve")
			}
			if len(results) == 0 {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "No active segments.")
				return nil
			}
			formatEvolution(cmd.OutOrStdout(), results)
			return nil
		})
	},
}

func init() {
	tuneListCmd.Flags().String("status", "PENDING", "filter by status (PENDING, APPLIED, DISMISSED, or empty for all)")
	evolveCmd.Flags().Int("days", 0, "promotion window in days (default autonomy.promotion_window_days)")

	tuneCmd.AddCommand(tuneRunCmd)
	tuneCmd.AddCommand(tuneListCmd)
	tuneCmd.AddCommand(tuneApplyCmd)
	tuneCmd.AddCommand(tuneDismissCmd)

	rootCmd.AddCommand(tuneCmd)
	rootCmd.AddCommand(evolveCmd)
}
