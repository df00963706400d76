package auth

import (
	"context"
	"errors"
	"testing"
)

func TestProviderCreateAndAuthenticate(t *testing.T) {
	p := NewInMemoryProvider()
	ctx := context.Background()

	acc, err := p.CreateUser(ctx, "  Ann@Example.COM ", "password123")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if acc.ID == "" || acc.Email != "ann@example.com" {
		t.Fatalf("account not normalized: %+v", acc)
	}

	// Same address with different casing collides.
	if _, err := p.CreateUser(ctx, "ANN@example.com", "password456"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := p.Authenticate(ctx, "ann@example.com", "password123")
	if err != nil || got.ID != acc.ID {
		t.Fatalf("authenticate: %+v err=%v", got, err)
	}
	if _, err := p.Authenticate(ctx, "ann@example.com", "wrong-password"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong password: %v", err)
	}
	if _, err := p.Authenticate(ctx, "ghost@example.com", "password123"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown email: %v", err)
	}
}

func TestProviderCreateValidation(t *testing.T) {
	p := NewInMemoryProvider()
	ctx := context.Background()
	if _, err := p.CreateUser(ctx, "not-an-email", "password123"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad email: %v", err)
	}
	if _, err := p.CreateUser(ctx, "a@b.c", "short"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("short password: %v", err)
	}
}

func TestProviderDeleteUser(t *testing.T) {
	p := NewInMemoryProvider()
	ctx := context.Background()

	acc, err := p.CreateUser(ctx, "ann@example.com", "password123")
	if err != nil {
		t.Fatal(err)
	}
	if err := p.DeleteUser(ctx, acc.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := p.FindByEmail(ctx, "ann@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	// The address is free again after the compensating delete.
	if _, err := p.CreateUser(ctx, "ann@example.com", "password123"); err != nil {
		t.Fatalf("re-signup after delete: %v", err)
	}
	if err := p.DeleteUser(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete ghost: %v", err)
	}
}

func TestPasswordHelpers(t *testing.T) {
	hash, err := HashPassword("password123")
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyPassword(hash, "password123"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := VerifyPassword(hash, "other"); err == nil {
		t.Fatal("wrong password verified")
	}
	if _, err := HashPassword("short"); err == nil {
		t.Fatal("short password accepted")
	}
}
