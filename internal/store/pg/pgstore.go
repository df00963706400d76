// Package pg implements the cohort registry on PostgreSQL. Every capacity
// check rides on a conditional UPDATE guarded by (cluster_id, cohort_id,
// state), so concurrent joins cannot overshoot capacity and the exchange
// transition has exactly one winner.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"clustercard.org/internal/cohort"
	"clustercard.org/internal/ids"
)

type Store struct {
	db *sql.DB
}

var _ cohort.Registry = (*Store)(nil)

// Open connects and tunes the pool. Adjust under load tests.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing handle (tests use sqlmock through here).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	execer
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ensureState lazily creates the operational row from the cluster definition.
// The insert is an idempotent upsert: concurrent callers race harmlessly and
// at most one row ever exists per cluster.
func ensureState(ctx context.Context, q execer, clusterID string) error {
	_, err := q.ExecContext(ctx, `
		insert into cluster_state(cluster_id, cohort_id, state, member_count, capacity, vcf_uploaded, vcf_download_count, updated_at)
		select id, $2, 'open', 0, capacity, false, 0, now()
		from clusters where id = $1
		on conflict (cluster_id) do nothing
	`, clusterID, ids.New())
	return err
}

func readStatus(ctx context.Context, q querier, clusterID, userID string) (cohort.Status, error) {
	var (
		st      cohort.Status
		state   string
		vcfName sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		select c.id, c.name, s.cohort_id, s.state, s.member_count, s.capacity, s.vcf_file_name, s.vcf_uploaded, s.vcf_download_count
		from clusters c
		join cluster_state s on s.cluster_id = c.id
		where c.id = $1
	`, clusterID).Scan(&st.ClusterID, &st.ClusterName, &st.CohortID, &state,
		&st.CurrentMembers, &st.MaxMembers, &vcfName, &st.VCFUploaded, &st.VCFDownloadCount)
	if errors.Is(err, sql.ErrNoRows) {
		return cohort.Status{}, cohort.ErrNotFound
	}
	if err != nil {
		return cohort.Status{}, err
	}
	st.State = cohort.State(state)
	st.VCFFileName = vcfName.String
	st.IsFull = st.State != cohort.StateOpen || st.CurrentMembers >= st.MaxMembers

	if userID != "" {
		err = q.QueryRowContext(ctx, `
			select exists(select 1 from memberships where cluster_id=$1 and user_id=$2)
		`, clusterID, userID).Scan(&st.UserIsMember)
		if err != nil {
			return cohort.Status{}, err
		}
	}
	return st, nil
}

func (s *Store) Status(ctx context.Context, clusterID, userID string) (cohort.Status, error) {
	if err := ensureState(ctx, s.db, clusterID); err != nil {
		return cohort.Status{}, err
	}
	return readStatus(ctx, s.db, clusterID, userID)
}

func (s *Store) Join(ctx context.Context, clusterID, userID string, displayProfession bool) (cohort.Status, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cohort.Status{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureState(ctx, tx, clusterID); err != nil {
		return cohort.Status{}, err
	}

	// Lock the registry row for the duration of the join.
	var cohortID string
	err = tx.QueryRowContext(ctx,
		`select cohort_id from cluster_state where cluster_id=$1 for update`,
		clusterID,
	).Scan(&cohortID)
	if errors.Is(err, sql.ErrNoRows) {
		return cohort.Status{}, cohort.ErrNotFound
	}
	if err != nil {
		return cohort.Status{}, err
	}

	// The unique index on (cluster_id, user_id) is the real duplicate guard.
	if _, err := tx.ExecContext(ctx, `
		insert into memberships(cluster_id, cohort_id, user_id, display_profession, joined_at)
		values ($1,$2,$3,$4,now())
	`, clusterID, cohortID, userID, displayProfession); err != nil {
		if isUniqueViolation(err) {
			return cohort.Status{}, cohort.ErrAlreadyMember
		}
		return cohort.Status{}, err
	}

	// Check-and-increment in a single conditional statement; zero rows means
	// someone else took the last slot or the cohort is no longer open.
	res, err := tx.ExecContext(ctx, `
		update cluster_state
		set member_count = member_count + 1,
		    state = case when member_count + 1 >= capacity then 'full_pending_exchange' else state end,
		    updated_at = now()
		where cluster_id=$1 and cohort_id=$2 and state='open' and member_count < capacity
	`, clusterID, cohortID)
	if err != nil {
		return cohort.Status{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cohort.Status{}, cohort.ErrClusterFull
	}

	st, err := readStatus(ctx, tx, clusterID, userID)
	if err != nil {
		return cohort.Status{}, err
	}
	if err := tx.Commit(); err != nil {
		return cohort.Status{}, err
	}
	return st, nil
}

func (s *Store) Leave(ctx context.Context, clusterID, userID string) (cohort.Status, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cohort.Status{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var state string
	err = tx.QueryRowContext(ctx,
		`select state from cluster_state where cluster_id=$1 for update`,
		clusterID,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return cohort.Status{}, cohort.ErrNotFound
	}
	if err != nil {
		return cohort.Status{}, err
	}
	if cohort.State(state) == cohort.StateReady {
		return cohort.Status{}, cohort.ErrCohortLocked
	}

	res, err := tx.ExecContext(ctx,
		`delete from memberships where cluster_id=$1 and user_id=$2`,
		clusterID, userID,
	)
	if err != nil {
		return cohort.Status{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cohort.Status{}, cohort.ErrNotMember
	}

	// A freed slot reopens a full-but-unexchanged cohort.
	if _, err := tx.ExecContext(ctx, `
		update cluster_state
		set member_count = member_count - 1,
		    state = case when state='full_pending_exchange' then 'open' else state end,
		    updated_at = now()
		where cluster_id=$1 and member_count > 0
	`, clusterID); err != nil {
		return cohort.Status{}, err
	}

	st, err := readStatus(ctx, tx, clusterID, userID)
	if err != nil {
		return cohort.Status{}, err
	}
	if err := tx.Commit(); err != nil {
		return cohort.Status{}, err
	}
	return st, nil
}

func (s *Store) Members(ctx context.Context, clusterID, cohortID string) ([]cohort.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		select cluster_id, cohort_id, user_id, display_profession, joined_at, downloaded_at
		from memberships
		where cluster_id=$1 and cohort_id=$2
		order by joined_at asc, user_id asc
	`, clusterID, cohortID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []cohort.Member
	for rows.Next() {
		var (
			m          cohort.Member
			downloaded sql.NullTime
		)
		if err := rows.Scan(&m.ClusterID, &m.CohortID, &m.UserID, &m.DisplayProfession, &m.JoinedAt, &downloaded); err != nil {
			return nil, err
		}
		if downloaded.Valid {
			t := downloaded.Time
			m.DownloadedAt = &t
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (s *Store) MarkExchangeReady(ctx context.Context, clusterID, cohortID, fileName string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update cluster_state
		set state='exchange_ready', vcf_file_name=$3, vcf_uploaded=true, updated_at=now()
		where cluster_id=$1 and cohort_id=$2 and state='full_pending_exchange'
	`, clusterID, cohortID, fileName)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *Store) TrackDownload(ctx context.Context, clusterID, userID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	// First download only; a retry or repeat is a no-op on the counter.
	res, err := tx.ExecContext(ctx, `
		update memberships set downloaded_at=now()
		where cluster_id=$1 and user_id=$2 and downloaded_at is null
	`, clusterID, userID)
	if err != nil {
		return 0, err
	}
	first, _ := res.RowsAffected()

	var count int
	if first == 1 {
		err = tx.QueryRowContext(ctx, `
			update cluster_state set vcf_download_count = vcf_download_count + 1, updated_at=now()
			where cluster_id=$1
			returning vcf_download_count
		`, clusterID).Scan(&count)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, cohort.ErrNotFound
		}
		if err != nil {
			return 0, err
		}
	} else {
		var isMember bool
		err = tx.QueryRowContext(ctx, `
			select exists(select 1 from memberships where cluster_id=$1 and user_id=$2)
		`, clusterID, userID).Scan(&isMember)
		if err != nil {
			return 0, err
		}
		if !isMember {
			return 0, cohort.ErrNotMember
		}
		err = tx.QueryRowContext(ctx,
			`select vcf_download_count from cluster_state where cluster_id=$1`,
			clusterID,
		).Scan(&count)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, cohort.ErrNotFound
		}
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) Reset(ctx context.Context, clusterID, cohortID string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var removed sql.NullString
	err = tx.QueryRowContext(ctx, `
		select vcf_file_name from cluster_state
		where cluster_id=$1 and cohort_id=$2
		for update
	`, clusterID, cohortID).Scan(&removed)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish an unknown cluster from a stale cohort id.
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`select exists(select 1 from cluster_state where cluster_id=$1)`, clusterID,
		).Scan(&exists); err != nil {
			return "", err
		}
		if exists {
			return "", cohort.ErrCohortMismatch
		}
		return "", cohort.ErrNotFound
	}
	if err != nil {
		return "", err
	}

	if _, err := tx.ExecContext(ctx,
		`delete from memberships where cluster_id=$1 and cohort_id=$2`,
		clusterID, cohortID,
	); err != nil {
		return "", err
	}

	if _, err := tx.ExecContext(ctx, `
		update cluster_state
		set cohort_id=$3, state='open', member_count=0,
		    capacity=(select capacity from clusters where id=$1),
		    vcf_file_name=null, vcf_uploaded=false, vcf_download_count=0,
		    updated_at=now()
		where cluster_id=$1 and cohort_id=$2
	`, clusterID, cohortID, ids.New()); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return removed.String, nil
}
