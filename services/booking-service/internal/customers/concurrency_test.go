package customers

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bookwell/bookwell/libs/otp"
	"github.com/bookwell/bookwell/services/booking-service/internal/model"
	"github.com/bookwell/bookwell/services/booking-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lateWriter replays a code row read before a concurrent verify wrote it,
// the view a Postgres READ COMMITTED transaction can have.
type lateWriter struct {
	storage.Store
	snapshot storage.OTPRecord
}

func (s *lateWriter) WithTx(ctx context.Context, fn func(q storage.Queries) error) error {
	return s.Store.WithTx(ctx, func(q storage.Queries) error {
		return fn(&snapshotQueries{Queries: q, snapshot: s.snapshot})
	})
}

type snapshotQueries struct {
	storage.Queries
	snapshot storage.OTPRecord
	served   bool
}

func (q *snapshotQueries) LatestCustomerOTP(ctx context.Context, businessID, email string, purpose storage.OTPPurpose) (storage.OTPRecord, error) {
	if !q.served {
		q.served = true
		return q.snapshot, nil
	}
	return q.Queries.LatestCustomerOTP(ctx, businessID, email, purpose)
}

func (f *fixture) serviceOver(store storage.Store) *Service {
	return NewService(store, f.mailer, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Policy:     otp.Policy{TTL: 10 * time.Minute, MaxAttempts: 5, Digits: 6, HashCost: 4},
		SessionTTL: 24 * time.Hour,
		Now:        func() time.Time { return f.now },
	})
}

func TestCodeIsSingleUseAcrossInterleavedVerifies(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.svc.RequestLoginCode(ctx, f.biz, "ada@example.com"))
	code := f.mailer.last(t).code
	before, err := f.store.LatestCustomerOTP(ctx, "biz-1", "ada@example.com", storage.PurposeLogin)
	require.NoError(t, err)

	_, err = f.svc.VerifyLogin(ctx, f.biz, "ada@example.com", code)
	require.NoError(t, err)

	late := f.serviceOver(&lateWriter{Store: f.store, snapshot: before})
	_, err = late.VerifyLogin(ctx, f.biz, "ada@example.com", code)
	assert.ErrorIs(t, err, otp.ErrInvalidCode)
}

func TestAttemptLimitHoldsForInterleavedGuesses(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.svc.RequestLoginCode(ctx, f.biz, "ada@example.com"))
	code := f.mailer.last(t).code
	before, err := f.store.LatestCustomerOTP(ctx, "biz-1", "ada@example.com", storage.PurposeLogin)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := f.svc.VerifyLogin(ctx, f.biz, "ada@example.com", wrong(code))
		require.ErrorIs(t, err, otp.ErrInvalidCode)
	}

	late := f.serviceOver(&lateWriter{Store: f.store, snapshot: before})
	_, err = late.VerifyLogin(ctx, f.biz, "ada@example.com", code)
	assert.ErrorIs(t, err, otp.ErrTooManyAttempts)

	rec, err := f.store.LatestCustomerOTP(ctx, "biz-1", "ada@example.com", storage.PurposeLogin)
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Attempts)
	assert.Nil(t, rec.ConsumedAt)
}

func TestConcurrentVerifiesLogInOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.svc.RequestLoginCode(ctx, f.biz, "ada@example.com"))
	code := f.mailer.last(t).code

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.VerifyLogin(ctx, f.biz, "ada@example.com", code); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

// bookedMeanwhile hides the customer from the first email lookup, as if a
// public booking created them right after that lookup ran.
type bookedMeanwhile struct {
	storage.Store
	hidden bool
}

func (s *bookedMeanwhile) WithTx(ctx context.Context, fn func(q storage.Queries) error) error {
	return s.Store.WithTx(ctx, func(q storage.Queries) error {
		return fn(&hidingQueries{Queries: q, store: s})
	})
}

type hidingQueries struct {
	storage.Queries
	store *bookedMeanwhile
}

func (q *hidingQueries) FindCustomerByEmail(ctx context.Context, businessID, email string) (model.Customer, error) {
	if !q.store.hidden {
		q.store.hidden = true
		return model.Customer{}, storage.ErrNotFound
	}
	return q.Queries.FindCustomerByEmail(ctx, businessID, email)
}

func TestFirstLoginRacingABookingUsesThatCustomer(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.svc.RequestLoginCode(ctx, f.biz, "ada@example.com"))
	code := f.mailer.last(t).code
	booked := model.Customer{ID: "cust-1", BusinessID: "biz-1", FullName: "Ada", Email: "ada@example.com", Status: model.CustomerActive}
	require.NoError(t, f.store.InsertCustomer(ctx, booked))

	res, err := f.serviceOver(&bookedMeanwhile{Store: f.store}).VerifyLogin(ctx, f.biz, "ada@example.com", code)
	require.NoError(t, err)
	assert.False(t, res.IsNew)
	assert.Equal(t, booked.ID, res.Customer.ID)
	assert.True(t, res.Customer.EmailVerified)

	rec, err := f.store.LatestCustomerOTP(ctx, "biz-1", "ada@example.com", storage.PurposeLogin)
	require.NoError(t, err)
	assert.NotNil(t, rec.ConsumedAt)
	assert.Equal(t, 1, rec.Attempts)
}
