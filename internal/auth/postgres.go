package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"clustercard.org/internal/ids"
)

// PGProvider implements Provider using PostgreSQL.
type PGProvider struct {
	db *sql.DB
}

var _ Provider = (*PGProvider)(nil)

func NewPGProvider(db *sql.DB) *PGProvider {
	return &PGProvider{db: db}
}

func (p *PGProvider) CreateUser(ctx context.Context, email, password string) (Account, error) {
	email = NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return Account{}, ErrInvalidInput
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Account{}, ErrInvalidInput
	}
	acc := Account{ID: ids.New(), Email: email, CreatedAt: time.Now().UTC()}
	_, err = p.db.ExecContext(ctx,
		`insert into auth_users(id, email, password_hash, created_at) values($1,$2,$3,$4)`,
		acc.ID, acc.Email, hash, acc.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Account{}, ErrAlreadyExists
		}
		return Account{}, err
	}
	return acc, nil
}

func (p *PGProvider) DeleteUser(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `delete from auth_users where id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PGProvider) FindByEmail(ctx context.Context, email string) (Account, error) {
	var acc Account
	err := p.db.QueryRowContext(ctx,
		`select id, email, created_at from auth_users where email=$1`,
		NormalizeEmail(email),
	).Scan(&acc.ID, &acc.Email, &acc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, err
	}
	return acc, nil
}

func (p *PGProvider) Authenticate(ctx context.Context, email, password string) (Account, error) {
	var (
		acc  Account
		hash string
	)
	err := p.db.QueryRowContext(ctx,
		`select id, email, password_hash, created_at from auth_users where email=$1`,
		NormalizeEmail(email),
	).Scan(&acc.ID, &acc.Email, &hash, &acc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrUnauthorized
	}
	if err != nil {
		return Account{}, err
	}
	if err := VerifyPassword(hash, password); err != nil {
		return Account{}, ErrUnauthorized
	}
	return acc, nil
}
