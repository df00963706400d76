package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"clustercard.org/internal/ids"
)

// InMemoryProvider implements Provider for tests and local development.
type InMemoryProvider struct {
	mu       sync.Mutex
	byID     map[string]memAccount
	idByMail map[string]string
}

type memAccount struct {
	account Account
	hash    string
}

var _ Provider = (*InMemoryProvider)(nil)

func NewInMemoryProvider() *InMemoryProvider {
	return &InMemoryProvider{
		byID:     make(map[string]memAccount),
		idByMail: make(map[string]string),
	}
}

func (p *InMemoryProvider) CreateUser(ctx context.Context, email, password string) (Account, error) {
	email = NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return Account{}, ErrInvalidInput
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Account{}, ErrInvalidInput
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.idByMail[email]; ok {
		return Account{}, ErrAlreadyExists
	}
	acc := Account{ID: ids.New(), Email: email, CreatedAt: time.Now().UTC()}
	p.byID[acc.ID] = memAccount{account: acc, hash: hash}
	p.idByMail[email] = acc.ID
	return acc, nil
}

func (p *InMemoryProvider) DeleteUser(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(p.byID, id)
	delete(p.idByMail, acc.account.Email)
	return nil
}

func (p *InMemoryProvider) FindByEmail(ctx context.Context, email string) (Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.idByMail[NormalizeEmail(email)]
	if !ok {
		return Account{}, ErrNotFound
	}
	return p.byID[id].account, nil
}

func (p *InMemoryProvider) Authenticate(ctx context.Context, email, password string) (Account, error) {
	p.mu.Lock()
	id, ok := p.idByMail[NormalizeEmail(email)]
	var stored memAccount
	if ok {
		stored = p.byID[id]
	}
	p.mu.Unlock()
	if !ok {
		return Account{}, ErrUnauthorized
	}
	if err := VerifyPassword(stored.hash, password); err != nil {
		return Account{}, ErrUnauthorized
	}
	return stored.account, nil
}
