package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/autoprice/internal/governance"
	"github.com/sells-group/autoprice/internal/model"
)

// -- killswitch --

var killswitchCmd = &cobra.Command{
	Use:   "killswitch [domain] [on|off]",
	Short: "Show or set the kill switch for a decision domain",
	Long: `With no arguments, lists every kill switch. With a domain, prints its state.
With a domain and on/off, sets it. An active pricing kill switch denies every
autonomous price change on the next evaluation.`,
	Example: `  autoprice killswitch
  autoprice killswitch pricing on`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var domain governance.Domain
		if len(args) > 0 {
			d, err := governance.ParseDomain(args[0])
			if err != nil {
				return err
			}
			domain = d
		}
		var enable *bool
		if len(args) == 2 {
			v, err := parseOnOff(args[1])
			if err != nil {
				return err
			}
			enable = &v
		}

		return withEngine(cmd.Context(), func(env *engineEnv) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			switch {
			case enable != nil:
				if err := env.Governance.SetKillSwitch(ctx, domain, *enable); err != nil {
					return eris.Wrap(err, "killswitch set")
				}
				_, _ = fmt.Fprintf(out, "%s kill switch %s\n", domain, onOff(*enable))
			case domain != "":
				on, err := env.Governance.KillSwitch(ctx, domain)
				if err != nil {
					return eris.Wrap(err, "killswitch get")
				}
				_, _ = fmt.Fprintf(out, "%s kill switch %s\n", domain, onOff(on))
			default:
				switches, err := env.Governance.KillSwitches(ctx)
				if err != nil {
					return eris.Wrap(err, "killswitch list")
				}
				formatKillSwitches(out, switches)
			}
			return nil
		})
	},
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "enable", "enabled":
		return true, nil
	case "off", "false", "disable", "disabled":
		return false, nil
	}
	return false, eris.Errorf("expected on or off, got %q", s)
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "off"
}

// -- segment --

var segmentCmd = &cobra.Command{
	Use:   "segment",
	Short: "Inspect and govern autonomy segments",
}

var segmentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List segment autonomy policies",
	RunE: func(cmd *cobra.Command, _ []string) error {
		status, _ := cmd.Flags().GetString("status")
		return withEngine(cmd.Context(), func(env *engineEnv) error {
			policies, err := env.Store.ListPolicies(cmd.Context(), model.PolicyStatus(strings.ToUpper(status)))
			if err != nil {
				return eris.Wrap(err, "segment list")
			}
			if len(policies) == 0 {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "No segments found.")
				return nil
			}
			formatPolicies(cmd.OutOrStdout(), policies)
			return nil
		})
	},
}

var segmentFreezeCmd = &cobra.Command{
	Use:   "freeze <segment-key>",
	Short: "Freeze a segment at tier 0",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(env *engineEnv) error {
			if err := env.Governance.FreezeSegment(cmd.Context(), args[0]); err != nil {
				return eris.Wrap(err, "segment freeze")
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "segment %s frozen\n", args[0])
			return nil
		})
	},
}

var segmentUnfreezeCmd = &cobra.Command{
	Use:   "unfreeze <segment-key> <tier>",
	Short: "Unfreeze a segment at a tier no higher than autonomy.max_unfreeze_tier",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, err := parseTier(args[1])
		if err != nil {
			return err
		}
		return withEngine(cmd.Context(), func(env *engineEnv) error {
			if err := env.Governance.UnfreezeSegment(cmd.Context(), args[0], tier); err != nil {
				return eris.Wrap(err, "segment unfreeze")
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "segment %s active at tier %d\n", args[0], tier)
			return nil
		})
	},
}

var segmentTierCmd = &cobra.Command{
	Use:   "tier <segment-key> <tier>",
	Short: "Set the tier of an active segment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, err := parseTier(args[1])
		if err != nil {
			return err
		}
		return withEngine(cmd.Context(), func(env *engineEnv) error {
			if err := env.Governance.SetTier(cmd.Context(), args[0], tier); err != nil {
				return eris.Wrap(err, "segment tier")
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "segment %s at tier %d\n", args[0], tier)
			return nil
		})
	},
}

var segmentStatsCmd = &cobra.Command{
	Use:   "stats <segment-key>",
	Short: "Show decision statistics for a segment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		if days <= 0 {
			return eris.New("segment stats: --days must be positive")
		}
		return withEngine(cmd.Context(), func(env *engineEnv) error {
			since := time.Now().UTC().AddDate(0, 0, -days)
			stats, err := env.Store.SegmentStats(cmd.Context(), args[0], since)
			if err != nil {
				return eris.Wrap(err, "segment stats")
			}
			formatSegmentStats(cmd.OutOrStdout(), stats, days)
			return nil
		})
	},
}

func parseTier(s string) (model.Tier, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(s), "tier"))
	if err != nil || !model.Tier(n).Valid() {
		return 0, eris.Errorf("tier must be 0-3, got %q", s)
	}
	return model.Tier(n), nil
}

func init() {
	segmentListCmd.Flags().String("status", "", "filter by status (ACTIVE, FROZEN)")
	segmentStatsCmd.Flags().Int("days", 14, "window in days")

	segmentCmd.AddCommand(segmentListCmd)
	segmentCmd.AddCommand(segmentFreezeCmd)
	segmentCmd.AddCommand(segmentUnfreezeCmd)
	segmentCmd.AddCommand(segmentTierCmd)
	segmentCmd.AddCommand(segmentStatsCmd)

	rootCmd.AddCommand(killswitchCmd)
	rootCmd.AddCommand(segmentCmd)
}
