package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"mercator-hq/costtrack/pkg/cost/consumption"
	"mercator-hq/costtrack/pkg/money"
)

// File is the YAML price list format accepted by Import.
//
//	items:
//	  - resource_kind: openstack.instance
//	    item_type: storage
//	    key: 1 MB
//	    name: Storage per MB
//	    hourly_rate: "0.50"
//	    overrides:
//	      s1: "0.40"
type File struct {
	Items []FileItem `yaml:"items"`
}

// FileItem is one default price with optional per-service overrides.
type FileItem struct {
	ResourceKind string            `yaml:"resource_kind"`
	ItemType     string            `yaml:"item_type"`
	Key          string            `yaml:"key"`
	Name         string            `yaml:"name"`
	HourlyRate   string            `yaml:"hourly_rate"`
	Overrides    map[string]string `yaml:"overrides"`
}

// ImportResult counts what Import wrote.
type ImportResult struct {
	Defaults  int
	Overrides int
}

// LoadFile reads and parses a price list file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read price list: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse price list YAML: %w", err)
	}
	return &f, nil
}

// Import validates f and upserts every entry. Validation happens before
// any write, so a malformed file changes nothing.
func (c *Catalog) Import(ctx context.Context, f *File) (ImportResult, error) {
	type parsed struct {
		item      DefaultItem
		overrides map[string]money.Rate
	}

	entries := make([]parsed, 0, len(f.Items))
	for i, fi := range f.Items {
		rate, err := money.ParseRate(fi.HourlyRate)
		if err != nil {
			return ImportResult{}, fmt.Errorf("items[%d]: %w", i, err)
		}
		item := consumption.Item{Type: consumption.ItemType(fi.ItemType), Key: fi.Key}
		if err := item.Validate(); err != nil {
			return ImportResult{}, fmt.Errorf("items[%d]: %w", i, err)
		}
		if fi.ResourceKind == "" {
			return ImportResult{}, fmt.Errorf("items[%d]: resource_kind is required", i)
		}
		p := parsed{
			item: DefaultItem{
				ResourceKind: fi.ResourceKind,
				Item:         item,
				Name:         fi.Name,
				HourlyRate:   rate,
			},
			overrides: make(map[string]money.Rate, len(fi.Overrides)),
		}
		for service, raw := range fi.Overrides {
			r, err := money.ParseRate(raw)
			if err != nil {
				return ImportResult{}, fmt.Errorf("items[%d].overrides[%s]: %w", i, service, err)
			}
			p.overrides[service] = r
		}
		entries = append(entries, p)
	}

	var res ImportResult
	for _, p := range entries {
		d, err := c.repo.UpsertDefault(ctx, p.item)
		if err != nil {
			return res, fmt.Errorf("failed to store %s on %s: %w", p.item.Item, p.item.ResourceKind, err)
		}
		res.Defaults++
		for service, rate := range p.overrides {
			if _, err := c.repo.UpsertOverride(ctx, service, d.ID, rate); err != nil {
				return res, fmt.Errorf("failed to store override for %s: %w", service, err)
			}
			res.Overrides++
		}
	}
	c.Invalidate()
	return res, nil
}

// ImportFile loads path and imports it.
func (c *Catalog) ImportFile(ctx context.Context, path string) (ImportResult, error) {
	f, err := LoadFile(path)
	if err != nil {
		return ImportResult{}, err
	}
	return c.Import(ctx, f)
}
