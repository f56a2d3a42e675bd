package staff_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bookwell/bookwell/libs/auth"
	"github.com/bookwell/bookwell/libs/otp"
	"github.com/bookwell/bookwell/services/auth-service/internal/staff"
	"github.com/bookwell/bookwell/services/auth-service/internal/staff/stafftest"
	"golang.org/x/crypto/bcrypt"
)

// staleReads hands out a code as it looked before other verifications
// landed, the way a request that read early and wrote late would see it.
type staleReads struct {
	*stafftest.Store
	snapshot staff.LoginCode
	served   bool
}

func (s *staleReads) LatestCode(ctx context.Context, email string) (staff.LoginCode, error) {
	if !s.served {
		s.served = true
		return s.snapshot, nil
	}
	return s.Store.LatestCode(ctx, email)
}

func (f *fixture) serviceOver(store staff.Store) *staff.Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return staff.NewService(store, auth.NewHS256("test-secret", "bookwell", time.Hour), f.mail, nil, logger, staff.Config{
		Policy:     otp.Policy{TTL: 10 * time.Minute, MaxAttempts: 3, Digits: 6, HashCost: bcrypt.MinCost},
		RefreshTTL: 24 * time.Hour,
		Now:        func() time.Time { return f.now },
	})
}

func (f *fixture) snapshot(t *testing.T, email string) staff.LoginCode {
	t.Helper()
	rec, err := f.store.LatestCode(context.Background(), email)
	if err != nil {
		t.Fatalf("LatestCode: %v", err)
	}
	return rec
}

func TestStaleReadCannotReuseCode(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	email := "staff@example.com"

	if err := f.svc.SendCode(ctx, email); err != nil {
		t.Fatalf("SendCode: %v", err)
	}
	code := f.mail.LastCode(email)
	late := f.serviceOver(&staleReads{Store: f.store, snapshot: f.snapshot(t, email)})

	if _, err := f.svc.Verify(ctx, email, code); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if _, err := late.Verify(ctx, email, code); !errors.Is(err, otp.ErrInvalidCode) {
		t.Fatalf("expected the consumed code to be rejected, got %v", err)
	}
}

func TestStaleReadCannotExceedAttempts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	email := "staff@example.com"

	if err := f.svc.SendCode(ctx, email); err != nil {
		t.Fatalf("SendCode: %v", err)
	}
	code := f.mail.LastCode(email)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	late := f.serviceOver(&staleReads{Store: f.store, snapshot: f.snapshot(t, email)})

	for i := 0; i < 3; i++ {
		if _, err := f.svc.Verify(ctx, email, wrong); !errors.Is(err, otp.ErrInvalidCode) {
			t.Fatalf("attempt %d: expected invalid code, got %v", i+1, err)
		}
	}
	if _, err := late.Verify(ctx, email, code); !errors.Is(err, otp.ErrTooManyAttempts) {
		t.Fatalf("expected too many attempts, got %v", err)
	}
	rec := f.snapshot(t, email)
	if rec.Attempts != 3 || rec.ConsumedAt != nil {
		t.Fatalf("expected 3 attempts and an unused code, got %d consumed=%v", rec.Attempts, rec.ConsumedAt)
	}
}

func TestParallelVerifies(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	email := "staff@example.com"

	if err := f.svc.SendCode(ctx, email); err != nil {
		t.Fatalf("SendCode: %v", err)
	}
	code := f.mail.LastCode(email)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	const n = 10
	run := func(guess string) []error {
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = f.svc.Verify(ctx, email, guess)
			}()
		}
		wg.Wait()
		return errs
	}

	var invalid, limited int
	for _, err := range run(wrong) {
		switch {
		case errors.Is(err, otp.ErrInvalidCode):
			invalid++
		case errors.Is(err, otp.ErrTooManyAttempts):
			limited++
		default:
			t.Fatalf("unexpected result: %v", err)
		}
	}
	if invalid != 3 || limited != n-3 {
		t.Fatalf("expected 3 counted guesses, got %d invalid and %d limited", invalid, limited)
	}

	if err := f.svc.SendCode(ctx, email); err != nil {
		t.Fatalf("SendCode: %v", err)
	}
	code = f.mail.LastCode(email)
	var ok int
	for _, err := range run(code) {
		if err == nil {
			ok++
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one sign-in, got %d", ok)
	}
}
