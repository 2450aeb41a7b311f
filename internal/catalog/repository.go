package catalog

import (
	"context"
	"database/sql"
	"errors"
)

// SQLRepo reads the data_bundles and networks tables.
type SQLRepo struct {
	db *sql.DB
}

func NewSQLRepo(db *sql.DB) *SQLRepo {
	return &SQLRepo{db: db}
}

const bundleColumns = `b.id, b.network_key, b.capacity, b.mb, b.price, b.plan_code,
       (b.is_active AND n.is_active), b.last_synced`

func scanBundle(row interface{ Scan(dest ...any) error }) (Bundle, error) {
	var b Bundle
	err := row.Scan(
		&b.ID,
		&b.Network,
		&b.Capacity,
		&b.MB,
		&b.Price,
		&b.PlanCode,
		&b.Active,
		&b.UpdatedAt,
	)
	return b, err
}

func (r *SQLRepo) findOne(ctx context.Context, q string, args ...any) (Bundle, bool, error) {
	b, err := scanBundle(r.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Bundle{}, false, nil
		}
		return Bundle{}, false, err
	}
	return b, true, nil
}

func (r *SQLRepo) FindBundle(ctx context.Context, network NetworkKey, capacity string) (Bundle, bool, error) {
	q := `SELECT ` + bundleColumns + `
FROM data_bundles b
JOIN networks n ON n.key = b.network_key
WHERE b.network_key = $1 AND b.capacity = $2`
	return r.findOne(ctx, q, network, capacity)
}

func (r *SQLRepo) FindBundleByID(ctx context.Context, id string) (Bundle, bool, error) {
	q := `SELECT ` + bundleColumns + `
FROM data_bundles b
JOIN networks n ON n.key = b.network_key
WHERE b.id = $1`
	return r.findOne(ctx, q, id)
}

func (r *SQLRepo) ListBundles(ctx context.Context, network NetworkKey) ([]Bundle, error) {
	q := `SELECT ` + bundleColumns + `
FROM data_bundles b
JOIN networks n ON n.key = b.network_key
WHERE b.network_key = $1 AND b.is_active AND n.is_active
ORDER BY b.price`
	rows, err := r.db.QueryContext(ctx, q, network)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bundle
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *SQLRepo) ListNetworks(ctx context.Context) ([]Network, error) {
	const q = `SELECT key, name, is_active FROM networks WHERE is_active ORDER BY name`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Network
	for rows.Next() {
		var n Network
		if err := rows.Scan(&n.Key, &n.Name, &n.Active); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
