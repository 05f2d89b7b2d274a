package auth

import (
	"errors"
	"testing"
)

func TestNewServiceValidation(t *testing.T) {
	if _, err := NewService(Config{Enabled: true}); err == nil {
		t.Fatalf("enabled service without keys should fail")
	}
	if _, err := NewService(Config{Keys: []KeyEntry{{Key: "k", Principal: ""}}}); err == nil {
		t.Fatalf("entry without principal should fail")
	}
	if _, err := NewService(Config{Keys: []KeyEntry{
		{Key: "k", Principal: "a"},
		{Key: "k", Principal: "b"},
	}}); err == nil {
		t.Fatalf("duplicate keys should fail")
	}
	if _, err := NewService(Config{}); err != nil {
		t.Fatalf("disabled service without keys failed: %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	svc, err := NewService(Config{
		Enabled: true,
		Keys: []KeyEntry{
			{Key: "alpha-key", Principal: "alice"},
			{Key: "beta-key", Principal: "bob"},
		},
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	principal, err := svc.Authenticate("Bearer beta-key")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if principal != "bob" {
		t.Fatalf("principal = %q, want bob", principal)
	}

	// Scheme matching is case-insensitive.
	if _, err := svc.Authenticate("bearer alpha-key"); err != nil {
		t.Fatalf("lowercase scheme rejected: %v", err)
	}

	if _, err := svc.Authenticate(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("empty header = %v, want ErrMissingToken", err)
	}
	if _, err := svc.Authenticate("Basic abc"); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("non-bearer scheme = %v, want ErrMissingToken", err)
	}
	if _, err := svc.Authenticate("Bearer wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown key = %v, want ErrInvalidCredentials", err)
	}
}

func TestEnabled(t *testing.T) {
	var nilSvc *Service
	if nilSvc.Enabled() {
		t.Fatalf("nil service reported enabled")
	}
	svc, err := NewService(Config{Enabled: true, Keys: []KeyEntry{{Key: "k", Principal: "p"}}})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if !svc.Enabled() {
		t.Fatalf("enabled service reported disabled")
	}
}
