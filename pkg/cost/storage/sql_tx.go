package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mercator-hq/costtrack/pkg/cost/consumption"
	"mercator-hq/costtrack/pkg/cost/estimate"
	"mercator-hq/costtrack/pkg/money"
	"mercator-hq/costtrack/pkg/period"
	"mercator-hq/costtrack/pkg/scope"
)

const estimateColumns = `scope_kind, scope_id, year, month, total, consumed, limit_value, threshold,
	details, child_count, unlimited_children, child_limit_sum, version, created_at, updated_at`

type sqlTxn struct {
	tx      *sql.Tx
	dialect Dialect
	now     func() time.Time
}

func (t *sqlTxn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, t.dialect.rebind(query), args...)
	return res, mapError(err)
}

func (t *sqlTxn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, t.dialect.rebind(query), args...)
	return rows, mapError(err)
}

func (t *sqlTxn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.rebind(query), args...)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEstimate(r rowScanner) (*estimate.PriceEstimate, error) {
	var (
		e                    estimate.PriceEstimate
		kind                 string
		year, month          int
		total, consumed      int64
		limit, threshold     int64
		details              sql.NullString
		limitSum             int64
		createdAt, updatedAt int64
	)
	err := r.Scan(&kind, &e.Scope.ID, &year, &month, &total, &consumed, &limit, &threshold,
		&details, &e.ChildCount, &e.UnlimitedChildren, &limitSum, &e.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	e.Scope.Kind = scope.Kind(kind)
	e.Month = period.New(year, time.Month(month))
	e.Total = money.Amount(total)
	e.Consumed = money.Amount(consumed)
	e.Limit = money.Amount(limit)
	e.Threshold = money.Amount(threshold)
	e.ChildLimitSum = money.Amount(limitSum)
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	e.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if details.Valid {
		if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
			return nil, fmt.Errorf("failed to decode details of %s: %w", e.Key(), err)
		}
		if e.Details == nil {
			e.Details = map[string]string{}
		}
	}
	return &e, nil
}

func encodeDetails(d map[string]string) (sql.NullString, error) {
	if d == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func keyArgs(k estimate.Key) []any {
	return []any{string(k.Scope.Kind), k.Scope.ID, k.Month.Year, int(k.Month.Month)}
}

const keyWhere = `scope_kind = ? AND scope_id = ? AND year = ? AND month = ?`

func (t *sqlTxn) GetEstimate(ctx context.Context, key estimate.Key) (*estimate.PriceEstimate, error) {
	row := t.queryRow(ctx, `SELECT `+estimateColumns+` FROM price_estimates WHERE `+keyWhere, keyArgs(key)...)
	e, err := scanEstimate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to load estimate %s: %w", key, err))
	}
	return e, nil
}

func (t *sqlTxn) InsertEstimate(ctx context.Context, e *estimate.PriceEstimate) error {
	details, err := encodeDetails(e.Details)
	if err != nil {
		return err
	}
	now := t.now().UTC().Truncate(time.Second)
	res, err := t.exec(ctx, `INSERT INTO price_estimates (`+estimateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT DO NOTHING`,
		string(e.Scope.Kind), e.Scope.ID, e.Month.Year, int(e.Month.Month),
		int64(e.Total), int64(e.Consumed), int64(e.Limit), int64(e.Threshold),
		details, e.ChildCount, e.UnlimitedChildren, int64(e.ChildLimitSum),
		now.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert estimate %s: %w", e.Key(), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: estimate %s already exists", ErrConflict, e.Key())
	}
	e.Version = 1
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

func (t *sqlTxn) UpdateEstimate(ctx context.Context, e *estimate.PriceEstimate) error {
	details, err := encodeDetails(e.Details)
	if err != nil {
		return err
	}
	now := t.now().UTC().Truncate(time.Second)
	args := []any{
		int64(e.Consumed), int64(e.Limit), int64(e.Threshold), details,
		e.ChildCount, e.UnlimitedChildren, int64(e.ChildLimitSum), now.Unix(),
	}
	args = append(args, keyArgs(e.Key())...)
	args = append(args, e.Version)

	res, err := t.exec(ctx, `UPDATE price_estimates SET
			consumed = ?, limit_value = ?, threshold = ?, details = ?,
			child_count = ?, unlimited_children = ?, child_limit_sum = ?,
			version = version + 1, updated_at = ?
		WHERE `+keyWhere+` AND version = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update estimate %s: %w", e.Key(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: estimate %s changed since version %d", ErrConflict, e.Key(), e.Version)
	}
	e.Version++
	e.UpdatedAt = now
	return nil
}

func (t *sqlTxn) AddToTotal(ctx context.Context, key estimate.Key, delta money.Amount) error {
	args := append([]any{int64(delta), t.now().Unix()}, keyArgs(key)...)
	res, err := t.exec(ctx, `UPDATE price_estimates SET total = total + ?, updated_at = ? WHERE `+keyWhere, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: estimate %s", ErrNotFound, key)
	}
	return nil
}

func (t *sqlTxn) DeleteEstimate(ctx context.Context, key estimate.Key) error {
	args := keyArgs(key)
	if _, err := t.exec(ctx, `DELETE FROM price_estimate_links
		WHERE child_kind = ? AND child_id = ? AND year = ? AND month = ?`, args...); err != nil {
		return err
	}
	if _, err := t.exec(ctx, `DELETE FROM price_estimate_links
		WHERE parent_kind = ? AND parent_id = ? AND year = ? AND month = ?`, args...); err != nil {
		return err
	}
	_, err := t.exec(ctx, `DELETE FROM price_estimates WHERE `+keyWhere, args...)
	return err
}

func (t *sqlTxn) LinkParent(ctx context.Context, child, parent estimate.Key) (bool, error) {
	res, err := t.exec(ctx, `INSERT INTO price_estimate_links
		(child_kind, child_id, parent_kind, parent_id, year, month)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		string(child.Scope.Kind), child.Scope.ID, string(parent.Scope.Kind), parent.Scope.ID,
		child.Month.Year, int(child.Month.Month))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *sqlTxn) Parents(ctx context.Context, key estimate.Key) ([]estimate.Key, error) {
	return t.links(ctx, `SELECT parent_kind, parent_id FROM price_estimate_links
		WHERE child_kind = ? AND child_id = ? AND year = ? AND month = ?
		ORDER BY parent_kind, parent_id`, key)
}

func (t *sqlTxn) Children(ctx context.Context, key estimate.Key) ([]estimate.Key, error) {
	return t.links(ctx, `SELECT child_kind, child_id FROM price_estimate_links
		WHERE parent_kind = ? AND parent_id = ? AND year = ? AND month = ?
		ORDER BY child_kind, child_id`, key)
}

func (t *sqlTxn) links(ctx context.Context, query string, key estimate.Key) ([]estimate.Key, error) {
	rows, err := t.query(ctx, query, keyArgs(key)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []estimate.Key
	for rows.Next() {
		var kind, id string
		if err := rows.Scan(&kind, &id); err != nil {
			return nil, err
		}
		out = append(out, estimate.Key{Scope: scope.Ref{Kind: scope.Kind(kind), ID: id}, Month: key.Month})
	}
	return out, mapError(rows.Err())
}

func (t *sqlTxn) listEstimates(ctx context.Context, where string, args ...any) ([]*estimate.PriceEstimate, error) {
	rows, err := t.query(ctx, `SELECT `+estimateColumns+` FROM price_estimates WHERE `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*estimate.PriceEstimate
	for rows.Next() {
		e, err := scanEstimate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, mapError(rows.Err())
}

func (t *sqlTxn) ListMonth(ctx context.Context, month period.Month) ([]*estimate.PriceEstimate, error) {
	return t.listEstimates(ctx, `year = ? AND month = ? ORDER BY scope_kind, scope_id`,
		month.Year, int(month.Month))
}

func (t *sqlTxn) ListScope(ctx context.Context, ref scope.Ref) ([]*estimate.PriceEstimate, error) {
	return t.listEstimates(ctx, `scope_kind = ? AND scope_id = ? ORDER BY year, month`,
		string(ref.Kind), ref.ID)
}

func (t *sqlTxn) LatestMonthBefore(ctx context.Context, before period.Month) (period.Month, bool, error) {
	var year, month int
	err := t.queryRow(ctx, `SELECT year, month FROM price_estimates
		WHERE year < ? OR (year = ? AND month < ?)
		ORDER BY year DESC, month DESC LIMIT 1`,
		before.Year, before.Year, int(before.Month)).Scan(&year, &month)
	if errors.Is(err, sql.ErrNoRows) {
		return period.Month{}, false, nil
	}
	if err != nil {
		return period.Month{}, false, mapError(err)
	}
	return period.New(year, time.Month(month)), true, nil
}

func (t *sqlTxn) ResetMonthTotals(ctx context.Context, month period.Month) error {
	_, err := t.exec(ctx, `UPDATE price_estimates SET total = 0, consumed = 0 WHERE year = ? AND month = ?`,
		month.Year, int(month.Month))
	return err
}

const consumptionColumns = `resource_id, year, month, resource_type, service_id,
	configuration, consumed_before_update, last_update_time`

func scanConsumption(r rowScanner) (*consumption.Details, error) {
	var (
		d             consumption.Details
		year, month   int
		config, used  string
		lastUpdateSec int64
	)
	if err := r.Scan(&d.ResourceID, &year, &month, &d.ResourceType, &d.Service, &config, &used, &lastUpdateSec); err != nil {
		return nil, err
	}
	d.Month = period.New(year, time.Month(month))
	d.LastUpdateTime = time.Unix(lastUpdateSec, 0).UTC()
	if err := json.Unmarshal([]byte(config), &d.Configuration); err != nil {
		return nil, fmt.Errorf("failed to decode configuration of %s: %w", d.ResourceID, err)
	}
	if err := json.Unmarshal([]byte(used), &d.ConsumedBeforeUpdate); err != nil {
		return nil, fmt.Errorf("failed to decode consumption of %s: %w", d.ResourceID, err)
	}
	return &d, nil
}

func (t *sqlTxn) GetConsumption(ctx context.Context, resourceID string, month period.Month) (*consumption.Details, error) {
	row := t.queryRow(ctx, `SELECT `+consumptionColumns+` FROM consumption_details
		WHERE resource_id = ? AND year = ? AND month = ?`, resourceID, month.Year, int(month.Month))
	d, err := scanConsumption(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	return d, nil
}

func (t *sqlTxn) SaveConsumption(ctx context.Context, d *consumption.Details) error {
	config, err := json.Marshal(d.Configuration)
	if err != nil {
		return err
	}
	used, err := json.Marshal(d.ConsumedBeforeUpdate)
	if err != nil {
		return err
	}
	_, err = t.exec(ctx, `INSERT INTO consumption_details (`+consumptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (resource_id, year, month) DO UPDATE SET
			resource_type = excluded.resource_type,
			service_id = excluded.service_id,
			configuration = excluded.configuration,
			consumed_before_update = excluded.consumed_before_update,
			last_update_time = excluded.last_update_time`,
		d.ResourceID, d.Month.Year, int(d.Month.Month), d.ResourceType, d.Service,
		string(config), string(used), d.LastUpdateTime.Unix())
	if err != nil {
		return fmt.Errorf("failed to save consumption of %s: %w", d.ResourceID, err)
	}
	return nil
}

func (t *sqlTxn) DeleteConsumption(ctx context.Context, resourceID string) error {
	_, err := t.exec(ctx, `DELETE FROM consumption_details WHERE resource_id = ?`, resourceID)
	return err
}

func (t *sqlTxn) ListConsumption(ctx context.Context, month period.Month) ([]*consumption.Details, error) {
	rows, err := t.query(ctx, `SELECT `+consumptionColumns+` FROM consumption_details
		WHERE year = ? AND month = ? ORDER BY resource_id`, month.Year, int(month.Month))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*consumption.Details
	for rows.Next() {
		d, err := scanConsumption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, mapError(rows.Err())
}
