package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/costtrack/pkg/cli"
	"mercator-hq/costtrack/pkg/cost/estimate"
	"mercator-hq/costtrack/pkg/period"
)

var maintenanceFlags struct {
	year  int
	month string
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Recompute the estimates of a month",
	Long: `Recompute every estimate of a month from the stored consumption records
and the current price list, then verify the result.

Resources whose record cannot be used keep their total and are listed;
the command then exits with status 3.

Examples:
  costtrack rebuild --month 2016-08
  costtrack rebuild --year 2016 --month 8`,
	Args: cobra.NoArgs,
	RunE: runRebuild,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the estimate invariants of a month",
	Long: `Check that the totals of a month add up along the ownership tree, that
aggregated limits match the live children and that consumption records
lie inside the month. Exits with status 1 when a check fails.

Examples:
  costtrack verify --month 2016-08 --output json`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate-thresholds",
	Short: "Run one evaluator tick",
	Long: `Run one evaluator tick now: roll estimates into the current month,
refresh consumed costs and open or close threshold and limit alerts.`,
	Args: cobra.NoArgs,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(evaluateCmd)

	for _, c := range []*cobra.Command{rebuildCmd, verifyCmd} {
		c.Flags().StringVarP(&maintenanceFlags.month, "month", "m", "", "month as YYYY-MM, or 1-12 with --year (default: current month)")
		c.Flags().IntVarP(&maintenanceFlags.year, "year", "y", 0, "year of --month")
	}
}

func runRebuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	month, err := maintenanceMonth(a)
	if err != nil {
		return err
	}
	res, err := a.tracker.Rebuild(ctx, month)
	if err != nil {
		return cli.NewCommandError("rebuild", err)
	}

	if err := printResult(cmd, summary{
		{"month", res.Month.String()},
		{"rebuilt", strconv.Itoa(res.Rebuilt)},
		{"kept", strconv.Itoa(len(res.Kept))},
		{"failed", strings.Join(res.Failed, ",")},
		{"violations", strconv.Itoa(len(res.Violations))},
	}); err != nil {
		return err
	}

	switch {
	case len(res.Violations) > 0:
		return cli.Validation(fmt.Errorf("%d invariant violations after rebuild of %s", len(res.Violations), month))
	case res.Partial():
		return cli.Partial(fmt.Errorf("%d resources kept their total: %s", len(res.Failed), strings.Join(res.Failed, ", ")))
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	month, err := maintenanceMonth(a)
	if err != nil {
		return err
	}
	violations, err := a.tracker.Verify(ctx, month)
	if err != nil {
		return cli.NewCommandError("verify", err)
	}
	if len(violations) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is consistent\n", month)
		return nil
	}
	if err := printResult(cmd, violationTable(violations)); err != nil {
		return err
	}
	return cli.Validation(fmt.Errorf("%d invariant violations in %s", len(violations), month))
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	eval, err := a.newEvaluator()
	if err != nil {
		return err
	}
	res, err := eval.Tick(ctx)
	if err != nil {
		return cli.NewCommandError("evaluate-thresholds", err)
	}

	return printResult(cmd, summary{
		{"month", res.Month.String()},
		{"rolled_over", strconv.Itoa(res.Rollover.Resources + res.Rollover.Scopes)},
		{"refreshed", strconv.Itoa(res.Refreshed)},
		{"evaluated", strconv.Itoa(res.Evaluated)},
		{"alerts_opened", strconv.Itoa(res.Opened)},
		{"alerts_closed", strconv.Itoa(res.Closed)},
		{"limits_exceeded", strconv.Itoa(res.LimitsExceeded)},
	})
}

// maintenanceMonth reads --month YYYY-MM, or --year Y with --month M.
func maintenanceMonth(a *app) (period.Month, error) {
	if maintenanceFlags.year == 0 {
		return parseMonth(a, maintenanceFlags.month)
	}
	m, err := strconv.Atoi(maintenanceFlags.month)
	if err != nil || m < 1 || m > 12 {
		return period.Month{}, cli.NewConfigError("month", fmt.Sprintf("want 1-12 with --year, got %q", maintenanceFlags.month))
	}
	return period.New(maintenanceFlags.year, time.Month(m)), nil
}

// summary is a two-column key/value result.
type summary [][2]string

func (s summary) Header() []string { return []string{"FIELD", "VALUE"} }

func (s summary) Rows() [][]string {
	rows := make([][]string, 0, len(s))
	for _, kv := range s {
		rows = append(rows, []string{kv[0], kv[1]})
	}
	return rows
}

// MarshalJSON renders the summary as an object.
func (s summary) MarshalJSON() ([]byte, error) {
	m := make(map[string]string, len(s))
	for _, kv := range s {
		m[kv[0]] = kv[1]
	}
	return json.Marshal(m)
}

type violationTable []estimate.Violation

func (t violationTable) Header() []string { return []string{"ESTIMATE", "CHECK", "MESSAGE"} }

// MarshalJSON renders violations as a list of objects.
func (t violationTable) MarshalJSON() ([]byte, error) {
	type row struct {
		Scope   string `json:"scope"`
		Month   string `json:"month"`
		Check   string `json:"check"`
		Message string `json:"message"`
	}
	out := make([]row, 0, len(t))
	for _, v := range t {
		out = append(out, row{v.Key.Scope.String(), v.Key.Month.String(), v.Check, v.Message})
	}
	return json.Marshal(out)
}

func (t violationTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, v := range t {
		rows = append(rows, []string{v.Key.String(), v.Check, v.Message})
	}
	return rows
}
