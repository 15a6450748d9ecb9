package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/autoprice/internal/model"
)

var experimentCmd = &cobra.Command{
	Use:   "experiment",
	Short: "Manage policy A/B experiments",
}

var experimentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List experiments",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEngine(cmd.Context(), func(env *engineEnv) error {
			exps, err := env.Experiments.List(cmd.Context())
			if err != nil {
				return eris.Wrap(err, "experiment list")
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATUS\tTEST_RATIO\tACCOUNT")
			for _, e := range exps {
				account := "*"
				if e.MarketAccountID != nil {
					account = *e.MarketAccountID
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\n", shortID(e.ID), e.Name, e.Status, e.TestRatio, account)
			}
			return w.Flush()
		})
	},
}

var experimentCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a DRAFT experiment",
	Example: `  autoprice experiment create lower-threshold --test-ratio 0.2 --confidence-threshold 0.93
  autoprice experiment create faster-auto --account acct1 --auto-mode ENFORCE_AUTO`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		exp, err := experimentFromFlags(cmd, args[0])
		if err != nil {
			return err
		}
		return withEngine(cmd.Context(), func(env *engineEnv) error {
			if err := env.Experiments.Create(cmd.Context(), exp); err != nil {
				return eris.Wrap(err, "experiment create")
			}
			return printJSON(cmd.OutOrStdout(), exp)
		})
	},
}

// experimentFromFlags builds the experiment and its TEST variant. Only flags
// the caller set override the base policy.
func experimentFromFlags(cmd *cobra.Command, name string) (*model.PricingExperiment, error) {
	f := cmd.Flags()
	exp := &model.PricingExperiment{Name: name}
	exp.TestRatio, _ = f.GetFloat64("test-ratio")
	if f.Changed("account") {
		account, _ := f.GetString("account")
		exp.MarketAccountID = &account
	}
	variant, err := variantFromFlags(cmd)
	if err != nil {
		return nil, err
	}
	exp.Variant = variant
	return exp, nil
}

func experimentStatusCmd(use, short string, to model.ExperimentStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <experiment-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(env *engineEnv) error {
				if err := env.Experiments.SetStatus(cmd.Context(), args[0], to); err != nil {
					return eris.Wrapf(err, "experiment %s", use)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "experiment %s is %s\n", args[0], to)
				return nil
			})
		},
	}
}

var experimentSummarizeCmd = &cobra.Command{
	Use:   "summarize <experiment-id>",
	Short: "Compute and store cohort metrics for an experiment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(env *engineEnv) error {
			metrics, err := env.Experiments.Summarize(cmd.Context(), args[0])
			if err != nil {
				return eris.Wrap(err, "experiment summarize")
			}
			formatCohorts(cmd.OutOrStdout(), metrics)
			return nil
		})
	},
}

func formatCohorts(out io.Writer, m *model.ExperimentMetrics) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "COHORT\tTOTAL\tAPPLIED\tREJECTED\tFAILED\tAVG_MARGIN")
	for _, row := range []struct {
		name string
		c    model.CohortMetrics
	}{{"CONTROL", m.Control}, {"TEST", m.Test}} {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%.4f\n",
			row.name, row.c.Total, row.c.Applied, row.c.Rejected, row.c.Failed, row.c.AvgExpectedMargin)
	}
	_ = w.Flush()
}

func init() {
	f := experimentCreateCmd.Flags()
	f.Float64("test-ratio", 0.5, "share of products assigned to the TEST cohort (0..1)")
	f.String("account", "", "limit the experiment to one market account")
	f.String("auto-mode", "", "TEST cohort auto mode")
	f.Float64("confidence-threshold", 0, "TEST cohort confidence threshold")
	f.Int("max-changes-per-hour", 0, "TEST cohort hourly change cap")
	f.Int("cooldown-hours", 0, "TEST cohort per-product cooldown")

	experimentCmd.AddCommand(experimentListCmd)
	experimentCmd.AddCommand(experimentCreateCmd)
	experimentCmd.AddCommand(experimentStatusCmd("activate", "Start a DRAFT experiment", model.ExperimentActive))
	experimentCmd.AddCommand(experimentStatusCmd("complete", "Complete an ACTIVE experiment and record final metrics", model.ExperimentCompleted))
	experimentCmd.AddCommand(experimentSummarizeCmd)
	rootCmd.AddCommand(experimentCmd)
}
