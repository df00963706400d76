package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"clustercard.org/internal/cohort"
	"clustercard.org/internal/ids"
)

// Cluster definition CRUD (admin surface).

func (s *Store) CreateCluster(ctx context.Context, c cohort.Cluster) (cohort.Cluster, error) {
	if err := cohort.ValidateCluster(c); err != nil {
		return cohort.Cluster{}, err
	}
	if c.ID == "" {
		c.ID = ids.New()
	}
	c.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`insert into clusters(id, name, capacity, category, created_at) values($1,$2,$3,$4,$5)`,
		c.ID, c.Name, c.Capacity, c.Category, c.CreatedAt,
	)
	if isUniqueViolation(err) {
		return cohort.Cluster{}, cohort.ErrInvalidCluster
	}
	if err != nil {
		return cohort.Cluster{}, err
	}
	return c, nil
}

func (s *Store) GetCluster(ctx context.Context, id string) (cohort.Cluster, error) {
	var (
		c        cohort.Cluster
		category sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`select id, name, capacity, category, created_at from clusters where id=$1`, id,
	).Scan(&c.ID, &c.Name, &c.Capacity, &category, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cohort.Cluster{}, cohort.ErrNotFound
	}
	if err != nil {
		return cohort.Cluster{}, err
	}
	c.Category = category.String
	return c, nil
}

func (s *Store) ListClusters(ctx context.Context) ([]cohort.Cluster, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, capacity, category, created_at from clusters order by created_at asc, id asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []cohort.Cluster
	for rows.Next() {
		var (
			c        cohort.Cluster
			category sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Capacity, &category, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Category = category.String
		res = append(res, c)
	}
	return res, rows.Err()
}

func (s *Store) UpdateCluster(ctx context.Context, c cohort.Cluster) (cohort.Cluster, error) {
	if err := cohort.ValidateCluster(c); err != nil {
		return cohort.Cluster{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cohort.Cluster{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`update clusters set name=$2, capacity=$3, category=$4 where id=$1`,
		c.ID, c.Name, c.Capacity, c.Category,
	)
	if err != nil {
		return cohort.Cluster{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cohort.Cluster{}, cohort.ErrNotFound
	}

	// Capacity changes apply to a still-open cohort; a full or exchanged
	// cohort keeps the capacity it filled under.
	if _, err := tx.ExecContext(ctx, `
		update cluster_state
		set capacity=$2,
		    state = case when member_count >= $2 then 'full_pending_exchange' else state end,
		    updated_at=now()
		where cluster_id=$1 and state='open'
	`, c.ID, c.Capacity); err != nil {
		return cohort.Cluster{}, err
	}

	if err := tx.Commit(); err != nil {
		return cohort.Cluster{}, err
	}
	return s.GetCluster(ctx, c.ID)
}

func (s *Store) DeleteCluster(ctx context.Context, id string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var removed sql.NullString
	err = tx.QueryRowContext(ctx,
		`select vcf_file_name from cluster_state where cluster_id=$1 for update`, id,
	).Scan(&removed)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	if _, err := tx.ExecContext(ctx, `delete from memberships where cluster_id=$1`, id); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `delete from cluster_state where cluster_id=$1`, id); err != nil {
		return "", err
	}
	res, err := tx.ExecContext(ctx, `delete from clusters where id=$1`, id)
	if err != nil {
		return "", err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", cohort.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return removed.String, nil
}
