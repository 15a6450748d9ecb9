package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/autoprice/internal/model"
)

var settingsCmd = &cobra.Command{
	Use:   "settings <account-id>",
	Short: "Show or update an account's base pricing policy",
	Example: `  autoprice settings acct1
  autoprice settings acct1 --auto-mode ENFORCE_LITE --confidence-threshold 0.95`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := variantFromFlags(cmd)
		if err != nil {
			return err
		}
		update := patch != (model.PolicyVariant{})

		return withEngine(cmd.Context(), func(env *engineEnv) error {
			var s *model.PricingSettings
			if update {
				s, err = env.Experiments.UpdateAccountSettings(cmd.Context(), args[0], patch)
			} else {
				s, err = env.Experiments.AccountSettings(cmd.Context(), args[0])
			}
			if err != nil {
				return eris.Wrap(err, "settings")
			}
			formatSettings(cmd.OutOrStdout(), s)
			return nil
		})
	},
}

// variantFromFlags collects the policy override flags the caller set.
func variantFromFlags(cmd *cobra.Command) (model.PolicyVariant, error) {
	f := cmd.Flags()
	var v model.PolicyVariant
	if f.Changed("auto-mode") {
		raw, _ := f.GetString("auto-mode")
		mode, err := model.ParseMode(raw)
		if err != nil {
			return v, err
		}
		v.AutoMode = &mode
	}
	if f.Changed("confidence-threshold") {
		t, _ := f.GetFloat64("confidence-threshold")
		v.ConfidenceThreshold = &t
	}
	if f.Changed("max-changes-per-hour") {
		n, _ := f.GetInt("max-changes-per-hour")
		v.MaxChangesPerHour = &n
	}
	if f.Changed("cooldown-hours") {
		n, _ := f.GetInt("cooldown-hours")
		v.CooldownHours = &n
	}
	return v, nil
}

func formatSettings(out io.Writer, s *model.PricingSettings) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "account\t%s\n", s.MarketAccountID)
	_, _ = fmt.Fprintf(w, "auto_mode\t%s\n", s.AutoMode)
	_, _ = fmt.Fprintf(w, "confidence_threshold\t%.2f\n", s.ConfidenceThreshold)
	_, _ = fmt.Fprintf(w, "max_changes_per_hour\t%d\n", s.MaxChangesPerHour)
	_, _ = fmt.Fprintf(w, "cooldown_hours\t%d\n", s.CooldownHours)
	_ = w.Flush()
}

func init() {
	f := settingsCmd.Flags()
	f.String("auto-mode", "", "auto mode used when enforcement runs with AUTO")
	f.Float64("confidence-threshold", 0, "minimum confidence for autonomous application")
	f.Int("max-changes-per-hour", 0, "hourly change cap")
	f.Int("cooldown-hours", 0, "per-product cooldown")
	rootCmd.AddCommand(settingsCmd)
}
