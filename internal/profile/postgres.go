package profile

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *PGStore) Create(ctx context.Context, p *Profile) error {
	if err := Validate(p); err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into profiles(user_id, nickname, email, whatsapp, age, country, gender, profession, looking_for, available_for, referral_count, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, p.UserID, p.Nickname, p.Email, p.WhatsApp, nullableInt(p.Age), p.Country, p.Gender, p.Profession,
		joinList(p.LookingFor), joinList(p.AvailableFor), p.ReferralCount, p.CreatedAt)
	if isUniqueViolation(err) {
		return ErrExists
	}
	return err
}

func (s *PGStore) Get(ctx context.Context, userID string) (Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		select user_id, nickname, email, whatsapp, age, country, gender, profession, looking_for, available_for, referral_count, created_at
		from profiles where user_id=$1
	`, userID)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	return p, err
}

func (s *PGStore) ByIDs(ctx context.Context, userIDs []string) (map[string]Profile, error) {
	out := make(map[string]Profile, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	// One query per id keeps this on the documented two-step contract and
	// avoids array-parameter quirks for the small cohort sizes involved.
	for _, id := range userIDs {
		p, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

func (s *PGStore) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select user_id, nickname, country, referral_count
		from profiles
		order by referral_count desc, nickname asc
		limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		var country sql.NullString
		if err := rows.Scan(&e.UserID, &e.Nickname, &country, &e.ReferralCount); err != nil {
			return nil, err
		}
		e.Country = country.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// Delete removes a profile; part of the signup compensating path.
func (s *PGStore) Delete(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from profiles where user_id=$1`, userID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (Profile, error) {
	var (
		p                        Profile
		age                      sql.NullInt64
		country, gender, prof    sql.NullString
		lookingFor, availableFor sql.NullString
	)
	err := row.Scan(&p.UserID, &p.Nickname, &p.Email, &p.WhatsApp, &age, &country, &gender, &prof,
		&lookingFor, &availableFor, &p.ReferralCount, &p.CreatedAt)
	if err != nil {
		return Profile{}, err
	}
	if age.Valid {
		v := int(age.Int64)
		p.Age = &v
	}
	p.Country = country.String
	p.Gender = gender.String
	p.Profession = prof.String
	p.LookingFor = splitList(lookingFor.String)
	p.AvailableFor = splitList(availableFor.String)
	return p, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
