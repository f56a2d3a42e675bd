package otp

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func testPolicy() Policy {
	return Policy{TTL: 10 * time.Minute, MaxAttempts: 3, Digits: 6, HashCost: bcrypt.MinCost}
}

func TestIssueAndVerify(t *testing.T) {
	p := testPolicy()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	plain, code, err := p.Issue(now)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if len(plain) != 6 {
		t.Fatalf("expected 6 digits, got %q", plain)
	}
	if !code.ExpiresAt.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", code.ExpiresAt)
	}

	spaced := plain[:3] + " " + plain[3:]
	if err := p.Verify(&code, spaced, now.Add(time.Minute)); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if code.ConsumedAt == nil || code.Attempts != 1 {
		t.Fatalf("expected consumed after one attempt, got %+v", code)
	}
	if err := p.Verify(&code, plain, now.Add(time.Minute)); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("replay should be invalid, got %v", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	p := testPolicy()
	now := time.Now()
	plain, code, err := p.Issue(now)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if err := p.Verify(&code, plain, now.Add(10*time.Minute)); !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("expected ErrCodeExpired at exact expiry, got %v", err)
	}
}

func TestVerifyAttemptsExhausted(t *testing.T) {
	p := testPolicy()
	now := time.Now()
	plain, code, err := p.Issue(now)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	wrong := "000000"
	if plain == wrong {
		wrong = "111111"
	}
	for i := 0; i < 3; i++ {
		if err := p.Verify(&code, wrong, now); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("attempt %d: expected ErrInvalidCode, got %v", i+1, err)
		}
	}
	if err := p.Verify(&code, plain, now); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts even with the right code, got %v", err)
	}
}

func TestUsableDoesNotCountAttempts(t *testing.T) {
	p := testPolicy()
	now := time.Now()
	plain, code, err := p.Issue(now)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if err := p.Usable(code, now); err != nil || code.Attempts != 0 {
		t.Fatalf("fresh code should be usable without an attempt, err=%v attempts=%d", err, code.Attempts)
	}
	if !Matches(code.Hash, " "+plain[:3]+"-"+plain[3:]) {
		t.Fatal("expected formatted code to match")
	}
	if Matches(code.Hash, "") {
		t.Fatal("empty code must not match")
	}
	code.Attempts = p.AttemptLimit()
	if err := p.Usable(code, now); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts at the limit, got %v", err)
	}
}
