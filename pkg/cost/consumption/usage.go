// Package consumption keeps the per-resource, per-month record of what a
// resource has consumed so far and what it is configured to consume now.
package consumption

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"
)

// ItemType is the category of a consumable item.
type ItemType string

const (
	ItemFlavor             ItemType = "flavor"
	ItemStorage            ItemType = "storage"
	ItemRAM                ItemType = "ram"
	ItemCores              ItemType = "cores"
	ItemLicenseOS          ItemType = "license-os"
	ItemLicenseApplication ItemType = "license-application"
	ItemNetwork            ItemType = "network"
	ItemSupport            ItemType = "support"
	ItemQuota              ItemType = "quota"
)

var knownTypes = map[ItemType]bool{
	ItemFlavor: true, ItemStorage: true, ItemRAM: true, ItemCores: true,
	ItemLicenseOS: true, ItemLicenseApplication: true, ItemNetwork: true,
	ItemSupport: true, ItemQuota: true,
}

// MaxKeyLength bounds an item key, in bytes.
const MaxKeyLength = 64

var (
	ErrInvalidItem = errors.New("invalid consumable item")

	// ErrNegativeUsage is returned for negative quantities.
	ErrNegativeUsage = errors.New("negative usage")
)

// Item is a priced unit of consumption, such as ("storage", "1 MB").
type Item struct {
	Type ItemType
	Key  string
}

// String renders "type:key".
func (i Item) String() string {
	return string(i.Type) + ":" + i.Key
}

// Validate checks the item type and key.
func (i Item) Validate() error {
	if !knownTypes[i.Type] {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidItem, i.Type)
	}
	if i.Key == "" || len(i.Key) > MaxKeyLength {
		return fmt.Errorf("%w: key %q must be 1 to %d bytes", ErrInvalidItem, i.Key, MaxKeyLength)
	}
	if !utf8.ValidString(i.Key) {
		return fmt.Errorf("%w: key %q is not valid UTF-8", ErrInvalidItem, i.Key)
	}
	return nil
}

// Usage maps items to quantities. As a configuration the quantity is a
// number of units; as consumption it is a number of unit-minutes.
type Usage map[Item]int64

// Validate checks every item and rejects negative quantities.
func (u Usage) Validate() error {
	for item, q := range u {
		if err := item.Validate(); err != nil {
			return err
		}
		if q < 0 {
			return fmt.Errorf("%w: %s=%d", ErrNegativeUsage, item, q)
		}
	}
	return nil
}

// Clone returns a copy of u without zero entries. A nil u yields an empty map.
func (u Usage) Clone() Usage {
	out := make(Usage, len(u))
	for item, q := range u {
		if q != 0 {
			out[item] = q
		}
	}
	return out
}

// Equal compares two usages ignoring zero entries.
func (u Usage) Equal(o Usage) bool {
	a, b := u.Clone(), o.Clone()
	if len(a) != len(b) {
		return false
	}
	for item, q := range a {
		if b[item] != q {
			return false
		}
	}
	return true
}

// Items returns the items of u in a stable order.
func (u Usage) Items() []Item {
	items := make([]Item, 0, len(u))
	for item := range u {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Type != items[j].Type {
			return items[i].Type < items[j].Type
		}
		return items[i].Key < items[j].Key
	})
	return items
}

// Sub returns u minus o over the union of their items, keeping non-zero
// differences only.
func (u Usage) Sub(o Usage) Usage {
	out := make(Usage)
	for item, q := range u {
		if d := q - o[item]; d != 0 {
			out[item] = d
		}
	}
	for item, q := range o {
		if _, ok := u[item]; !ok && q != 0 {
			out[item] = -q
		}
	}
	return out
}

type entry struct {
	ItemType ItemType `json:"item_type"`
	Key      string   `json:"key"`
	Usage    int64    `json:"usage"`
}

// MarshalJSON encodes u as a sorted list of {item_type, key, usage}.
func (u Usage) MarshalJSON() ([]byte, error) {
	entries := make([]entry, 0, len(u))
	for _, item := range u.Items() {
		entries = append(entries, entry{ItemType: item.Type, Key: item.Key, Usage: u[item]})
	}
	return json.Marshal(entries)
}

// UnmarshalJSON decodes the list form written by MarshalJSON.
func (u *Usage) UnmarshalJSON(data []byte) error {
	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	out := make(Usage, len(entries))
	for _, e := range entries {
		item := Item{Type: e.ItemType, Key: e.Key}
		if _, dup := out[item]; dup {
			return fmt.Errorf("%w: duplicate %s", ErrInvalidItem, item)
		}
		out[item] = e.Usage
	}
	*u = out
	return nil
}
