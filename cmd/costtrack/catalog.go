package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/costtrack/pkg/cli"
	"mercator-hq/costtrack/pkg/cost/catalog"
	"mercator-hq/costtrack/pkg/money"
)

var catalogFlags struct {
	kind    string
	service string
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the price list",
	Long:  `Import and inspect the default item prices and their per-service overrides.`,
}

var catalogImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import a price list file",
	Long: `Import a YAML price list. Items are matched on resource kind, item type
and key; existing items get the new name and rate.

Example file:
  items:
    - resource_kind: openstack.instance
      item_type: cores
      key: 1 core
      name: Core
      hourly_rate: "1.00"
      overrides:
        s1: "0.80"`,
	Args: cobra.ExactArgs(1),
	RunE: runCatalogImport,
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List default item prices",
	Args:  cobra.NoArgs,
	RunE:  runCatalogList,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogImportCmd)
	catalogCmd.AddCommand(catalogListCmd)

	catalogListCmd.Flags().StringVarP(&catalogFlags.kind, "kind", "k", "", "only this resource kind")
	catalogListCmd.Flags().StringVarP(&catalogFlags.service, "service", "s", "", "show the overrides of this service")
}

func runCatalogImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := catalog.LoadFile(args[0])
	if err != nil {
		return cli.Validation(err)
	}
	res, err := a.catalog.Import(ctx, f)
	if err != nil {
		return cli.NewCommandError("catalog import", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported %d items and %d overrides from %s\n", res.Defaults, res.Overrides, args[0])
	return nil
}

func runCatalogList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.catalog.ListDefaults(ctx, catalogFlags.kind)
	if err != nil {
		return err
	}
	t := priceTable{service: catalogFlags.service}
	if t.service != "" {
		overrides, err := a.catalog.ListOverrides(ctx, t.service)
		if err != nil {
			return err
		}
		t.overrides = make(map[string]money.Rate, len(overrides))
		for _, o := range overrides {
			t.overrides[o.DefaultItemID.String()] = o.HourlyRate
		}
	}
	for _, item := range items {
		t.rows = append(t.rows, priceRow{
			ID:           item.ID.String(),
			ResourceKind: item.ResourceKind,
			ItemType:     string(item.Item.Type),
			Key:          item.Item.Key,
			Name:         item.Name,
			HourlyRate:   item.HourlyRate.String(),
		})
	}
	for i := range t.rows {
		if r, ok := t.overrides[t.rows[i].ID]; ok {
			t.rows[i].Override = r.String()
		}
	}
	return printResult(cmd, t)
}

type priceRow struct {
	ID           string `json:"id"`
	ResourceKind string `json:"resource_kind"`
	ItemType     string `json:"item_type"`
	Key          string `json:"key"`
	Name         string `json:"name"`
	HourlyRate   string `json:"hourly_rate"`
	Override     string `json:"override,omitempty"`
}

type priceTable struct {
	service   string
	overrides map[string]money.Rate
	rows      []priceRow
}

func (t priceTable) Header() []string {
	h := []string{"ID", "KIND", "ITEM", "KEY", "NAME", "RATE"}
	if t.service != "" {
		h = append(h, "OVERRIDE")
	}
	return h
}

func (t priceTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.rows))
	for _, r := range t.rows {
		row := []string{r.ID, r.ResourceKind, r.ItemType, r.Key, r.Name, r.HourlyRate}
		if t.service != "" {
			row = append(row, r.Override)
		}
		rows = append(rows, row)
	}
	return rows
}

// MarshalJSON renders the rows only.
func (t priceTable) MarshalJSON() ([]byte, error) {
	if t.rows == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t.rows)
}
