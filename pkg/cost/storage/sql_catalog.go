package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"mercator-hq/costtrack/pkg/cost/catalog"
	"mercator-hq/costtrack/pkg/cost/consumption"
	"mercator-hq/costtrack/pkg/money"
)

// Catalog returns a price list repository backed by the store's database.
func (s *SQLStore) Catalog() catalog.Repository {
	return &sqlCatalog{s: s}
}

type sqlCatalog struct {
	s *SQLStore
}

func (c *sqlCatalog) ListDefaults(ctx context.Context, resourceKind string) ([]catalog.DefaultItem, error) {
	query := `SELECT id, resource_kind, item_type, item_key, name, hourly_rate FROM price_list_items`
	var args []any
	if resourceKind != "" {
		query += ` WHERE resource_kind = ?`
		args = append(args, resourceKind)
	}
	query += ` ORDER BY resource_kind, item_type, item_key`

	rows, err := c.s.db.QueryContext(ctx, c.s.q(query), args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to list default prices: %w", err))
	}
	defer rows.Close()

	var out []catalog.DefaultItem
	for rows.Next() {
		var (
			d       catalog.DefaultItem
			id, typ string
			cents   int64
		)
		if err := rows.Scan(&id, &d.ResourceKind, &typ, &d.Item.Key, &d.Name, &cents); err != nil {
			return nil, err
		}
		if d.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("corrupt price list id %q: %w", id, err)
		}
		d.Item.Type = consumption.ItemType(typ)
		d.HourlyRate = money.Rate(cents)
		out = append(out, d)
	}
	return out, mapError(rows.Err())
}

func (c *sqlCatalog) UpsertDefault(ctx context.Context, item catalog.DefaultItem) (catalog.DefaultItem, error) {
	if err := item.Item.Validate(); err != nil {
		return catalog.DefaultItem{}, err
	}
	if item.ResourceKind == "" {
		return catalog.DefaultItem{}, fmt.Errorf("default price requires a resource kind")
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}

	var id string
	err := c.s.db.QueryRowContext(ctx, c.s.q(`INSERT INTO price_list_items
			(id, resource_kind, item_type, item_key, name, hourly_rate)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (resource_kind, item_type, item_key) DO UPDATE SET
			name = excluded.name,
			hourly_rate = excluded.hourly_rate
		RETURNING id`),
		item.ID.String(), item.ResourceKind, string(item.Item.Type), item.Item.Key, item.Name, int64(item.HourlyRate),
	).Scan(&id)
	if err != nil {
		return catalog.DefaultItem{}, mapError(fmt.Errorf("failed to upsert default price: %w", err))
	}
	if item.ID, err = uuid.Parse(id); err != nil {
		return catalog.DefaultItem{}, err
	}
	return item, nil
}

func (c *sqlCatalog) DeleteDefault(ctx context.Context, id uuid.UUID) error {
	var n int
	if err := c.s.db.QueryRowContext(ctx, c.s.q(`SELECT COUNT(*) FROM price_list_overrides WHERE default_item_id = ?`),
		id.String()).Scan(&n); err != nil {
		return mapError(err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %s", catalog.ErrDefaultInUse, id)
	}

	res, err := c.s.db.ExecContext(ctx, c.s.q(`DELETE FROM price_list_items WHERE id = ?`), id.String())
	if err != nil {
		return mapError(err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: default %s", catalog.ErrNotFound, id)
	}
	return nil
}

func (c *sqlCatalog) ListOverrides(ctx context.Context, service string) ([]catalog.Override, error) {
	query := `SELECT id, service_id, default_item_id, hourly_rate FROM price_list_overrides`
	var args []any
	if service != "" {
		query += ` WHERE service_id = ?`
		args = append(args, service)
	}
	query += ` ORDER BY service_id, default_item_id`

	rows, err := c.s.db.QueryContext(ctx, c.s.q(query), args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to list price overrides: %w", err))
	}
	defer rows.Close()

	var out []catalog.Override
	for rows.Next() {
		var (
			o          catalog.Override
			id, itemID string
			cents      int64
		)
		if err := rows.Scan(&id, &o.Service, &itemID, &cents); err != nil {
			return nil, err
		}
		if o.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if o.DefaultItemID, err = uuid.Parse(itemID); err != nil {
			return nil, err
		}
		o.HourlyRate = money.Rate(cents)
		out = append(out, o)
	}
	return out, mapError(rows.Err())
}

func (c *sqlCatalog) UpsertOverride(ctx context.Context, service string, defaultItemID uuid.UUID, rate money.Rate) (catalog.Override, error) {
	if service == "" {
		return catalog.Override{}, fmt.Errorf("override requires a service")
	}

	var exists int
	err := c.s.db.QueryRowContext(ctx, c.s.q(`SELECT 1 FROM price_list_items WHERE id = ?`), defaultItemID.String()).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Override{}, fmt.Errorf("%w: default %s", catalog.ErrNotFound, defaultItemID)
	}
	if err != nil {
		return catalog.Override{}, mapError(err)
	}

	var id string
	err = c.s.db.QueryRowContext(ctx, c.s.q(`INSERT INTO price_list_overrides (id, service_id, default_item_id, hourly_rate)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (service_id, default_item_id) DO UPDATE SET hourly_rate = excluded.hourly_rate
		RETURNING id`),
		uuid.NewString(), service, defaultItemID.String(), int64(rate),
	).Scan(&id)
	if err != nil {
		return catalog.Override{}, mapError(fmt.Errorf("failed to upsert price override: %w", err))
	}
	o := catalog.Override{Service: service, DefaultItemID: defaultItemID, HourlyRate: rate}
	if o.ID, err = uuid.Parse(id); err != nil {
		return catalog.Override{}, err
	}
	return o, nil
}

func (c *sqlCatalog) DeleteOverride(ctx context.Context, service string, defaultItemID uuid.UUID) error {
	res, err := c.s.db.ExecContext(ctx, c.s.q(`DELETE FROM price_list_overrides WHERE service_id = ? AND default_item_id = ?`),
		service, defaultItemID.String())
	if err != nil {
		return mapError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: override %s/%s", catalog.ErrNotFound, service, defaultItemID)
	}
	return nil
}
