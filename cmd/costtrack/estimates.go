package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mercator-hq/costtrack/pkg/cli"
	"mercator-hq/costtrack/pkg/cost"
	"mercator-hq/costtrack/pkg/cost/estimate"
	"mercator-hq/costtrack/pkg/money"
	"mercator-hq/costtrack/pkg/period"
	"mercator-hq/costtrack/pkg/scope"
)

var dumpFlags struct {
	month string
	scope string
}

var setFlags struct {
	month string
}

var dumpEstimatesCmd = &cobra.Command{
	Use:   "dump-estimates",
	Short: "Print price estimates",
	Long: `Print the price estimates of a month, or every estimate of one scope.

Scopes are written as kind:id, e.g. project:p1 or resource:vm1.

Examples:
  # Estimates of the current month
  costtrack dump-estimates

  # Estimates of August 2016 as CSV
  costtrack dump-estimates --month 2016-08 --output csv

  # History of one customer
  costtrack dump-estimates --scope customer:c1`,
	Args: cobra.NoArgs,
	RunE: runDumpEstimates,
}

var setThresholdCmd = &cobra.Command{
	Use:   "set-threshold SCOPE AMOUNT",
	Short: "Set the alert threshold of a scope",
	Long: `Set the alert threshold of a scope for a month. An alert is raised
when the estimate total exceeds a positive threshold; 0 disables it.

Examples:
  costtrack set-threshold project:p1 1500.00 --month 2016-08`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetEstimateField(cmd, args, "threshold", money.ParseAmount,
			(*cost.Tracker).SetThreshold)
	},
}

var setLimitCmd = &cobra.Command{
	Use:   "set-limit SCOPE AMOUNT",
	Short: "Set the spending limit of a scope",
	Long: `Set the administrative limit of a scope for a month; -1 removes it.
The effective limit of a scope is the lower of its own limit and the sum
of its children's limits when every child is limited.

Examples:
  costtrack set-limit customer:c1 5000 --month 2016-08
  costtrack set-limit customer:c1 -- -1`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetEstimateField(cmd, args, "limit", money.ParseLimit,
			(*cost.Tracker).SetLimit)
	},
}

func init() {
	rootCmd.AddCommand(dumpEstimatesCmd)
	rootCmd.AddCommand(setThresholdCmd)
	rootCmd.AddCommand(setLimitCmd)

	dumpEstimatesCmd.Flags().StringVarP(&dumpFlags.month, "month", "m", "", "month as YYYY-MM (default: current month)")
	dumpEstimatesCmd.Flags().StringVarP(&dumpFlags.scope, "scope", "s", "", "only this scope (kind:id)")

	for _, c := range []*cobra.Command{setThresholdCmd, setLimitCmd} {
		c.Flags().StringVarP(&setFlags.month, "month", "m", "", "month as YYYY-MM (default: current month)")
	}
}

func runDumpEstimates(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var list []*estimate.PriceEstimate
	if dumpFlags.scope != "" {
		ref, err := scope.ParseRef(dumpFlags.scope)
		if err != nil {
			return cli.NewConfigError("scope", err.Error())
		}
		all, err := a.tracker.Estimates(ctx, ref)
		if err != nil {
			return err
		}
		if dumpFlags.month == "" {
			list = all
		} else {
			month, err := parseMonth(a, dumpFlags.month)
			if err != nil {
				return err
			}
			for _, e := range all {
				if e.Month == month {
					list = append(list, e)
				}
			}
		}
	} else {
		month, err := parseMonth(a, dumpFlags.month)
		if err != nil {
			return err
		}
		if list, err = a.tracker.MonthEstimates(ctx, month); err != nil {
			return err
		}
	}

	return printResult(cmd, newEstimateTable(list))
}

func runSetEstimateField(
	cmd *cobra.Command,
	args []string,
	field string,
	parse func(string) (money.Amount, error),
	set func(*cost.Tracker, context.Context, scope.Ref, period.Month, money.Amount) (*estimate.PriceEstimate, error),
) error {
	ref, err := scope.ParseRef(args[0])
	if err != nil {
		return cli.NewConfigError("scope", err.Error())
	}
	amount, err := parse(args[1])
	if err != nil {
		return cli.NewConfigError(field, err.Error())
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	month, err := parseMonth(a, setFlags.month)
	if err != nil {
		return err
	}
	e, err := set(a.tracker, ctx, ref, month, amount)
	if err != nil {
		return rejected(fmt.Errorf("failed to set %s of %s: %w", field, ref, err))
	}
	return printResult(cmd, newEstimateTable([]*estimate.PriceEstimate{e}))
}

// parseMonth parses a --month value; empty is the tracker's current month.
func parseMonth(a *app, s string) (period.Month, error) {
	if s == "" {
		return a.tracker.CurrentMonth(), nil
	}
	m, err := period.Parse(s)
	if err != nil {
		return period.Month{}, cli.NewConfigError("month", err.Error())
	}
	return m, nil
}

// rejected turns errors about input the tracker can never accept into
// validation failures.
func rejected(err error) error {
	if cost.Classify(err) == cost.ClassRejected {
		return cli.Validation(err)
	}
	return err
}

// estimateRow is the printed form of a price estimate.
type estimateRow struct {
	Scope     string `json:"scope"`
	Month     string `json:"month"`
	Total     string `json:"total"`
	Consumed  string `json:"consumed"`
	Threshold string `json:"threshold"`
	Limit     string `json:"limit"`
	Effective string `json:"effective_limit"`
	Deleted   bool   `json:"deleted"`
}

type estimateTable []estimateRow

func newEstimateTable(list []*estimate.PriceEstimate) estimateTable {
	t := make(estimateTable, 0, len(list))
	for _, e := range list {
		t = append(t, estimateRow{
			Scope:     e.Scope.String(),
			Month:     e.Month.String(),
			Total:     e.Total.String(),
			Consumed:  e.Consumed.String(),
			Threshold: e.Threshold.String(),
			Limit:     money.FormatLimit(e.Limit),
			Effective: money.FormatLimit(e.EffectiveLimit()),
			Deleted:   e.Deleted(),
		})
	}
	return t
}

func (t estimateTable) Header() []string {
	return []string{"SCOPE", "MONTH", "TOTAL", "CONSUMED", "THRESHOLD", "LIMIT", "EFFECTIVE", "DELETED"}
}

func (t estimateTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, r := range t {
		rows = append(rows, []string{
			r.Scope, r.Month, r.Total, r.Consumed, r.Threshold, r.Limit, r.Effective,
			strconv.FormatBool(r.Deleted),
		})
	}
	return rows
}
