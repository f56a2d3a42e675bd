package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bookwell/bookwell/libs/outbox"
	"github.com/bookwell/bookwell/services/booking-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedBusiness(t *testing.T, s *SQLStore) (model.Business, model.Service, model.Customer) {
	t.Helper()
	ctx := context.Background()
	b, created, err := s.CreateBusinessIfMissing(ctx, model.Business{
		ID: "biz-1", PublicID: "pub-1", Slug: "studio", Name: "Studio", Timezone: "UTC", Currency: "USD",
	}, []model.AvailabilityDay{{Day: 1, Enabled: true, Windows: []model.Window{{Start: "09:00", End: "17:00"}}}})
	require.NoError(t, err)
	require.True(t, created)

	svc := model.Service{ID: "svc-1", BusinessID: b.ID, Name: "Cut", DurationMinutes: 30, IsActive: true}
	require.NoError(t, s.InsertService(ctx, svc))
	cust := model.Customer{ID: "cus-1", BusinessID: b.ID, FullName: "Ada", Email: "Ada@Example.com"}
	require.NoError(t, s.InsertCustomer(ctx, cust))
	return b, svc, cust
}

func booked(b model.Business, svc model.Service, c model.Customer, id, start string, startAt time.Time) model.Appointment {
	return model.Appointment{
		ID: id, BusinessID: b.ID, Date: startAt.Format(time.DateOnly), StartTime: start,
		EndTime: model.FormatClock(mustClock(start) + svc.DurationMinutes),
		StartAt: startAt, EndAt: startAt.Add(time.Duration(svc.DurationMinutes) * time.Minute),
		ServiceID: svc.ID, ServiceName: svc.Name, CustomerID: c.ID, CustomerFullName: c.FullName,
		Status: model.StatusBooked, Source: model.SourceAdmin,
	}
}

func mustClock(s string) int {
	m, err := model.ParseClock(s, true)
	if err != nil {
		panic(err)
	}
	return m
}

func TestCreateBusinessIfMissingIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	seedBusiness(t, s)

	again, created, err := s.CreateBusinessIfMissing(context.Background(), model.Business{ID: "biz-1", PublicID: "other"}, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "pub-1", again.PublicID)

	week, err := s.ListAvailability(context.Background(), "biz-1")
	require.NoError(t, err)
	require.Len(t, week, 7)
	assert.True(t, week[1].Enabled)
	assert.Equal(t, []model.Window{{Start: "09:00", End: "17:00"}}, week[1].Windows)
	assert.False(t, week[0].Enabled)
	assert.NotNil(t, week[0].Windows)
}

func TestUpdateBusinessBumpsVersionAndDetectsSlugClash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b, _, _ := seedBusiness(t, s)

	b.Name = "Renamed"
	updated, err := s.UpdateBusiness(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, b.ConfigVersion+1, updated.ConfigVersion)

	_, _, err = s.CreateBusinessIfMissing(ctx, model.Business{ID: "biz-2", PublicID: "pub-2", Timezone: "UTC"}, nil)
	require.NoError(t, err)
	other, err := s.GetBusiness(ctx, "biz-2")
	require.NoError(t, err)
	other.Slug = "studio"
	_, err = s.UpdateBusiness(ctx, other)
	assert.ErrorIs(t, err, ErrSlugTaken)
}

func TestBookedSlotIsUniqueAndCancelFreesIt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b, svc, c := seedBusiness(t, s)
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	first := booked(b, svc, c, "appt-1", "09:00", at)
	require.NoError(t, s.InsertAppointment(ctx, first))
	err := s.InsertAppointment(ctx, booked(b, svc, c, "appt-2", "09:00", at))
	assert.ErrorIs(t, err, ErrSlotTaken)

	first.Status = model.StatusCanceled
	first.CancelledBy = model.CancelledByBusiness
	now := time.Now().UTC().Truncate(time.Second)
	first.CancelledAt = &now
	require.NoError(t, s.UpdateAppointment(ctx, first))
	require.NoError(t, s.InsertAppointment(ctx, booked(b, svc, c, "appt-2", "09:00", at)))

	busy, err := s.ListBookedBetween(ctx, b.ID, at.Add(-time.Hour), at.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, busy, 1)
	assert.Equal(t, "appt-2", busy[0].ID)

	got, err := s.GetAppointment(ctx, b.ID, "appt-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, got.Status)
	assert.Equal(t, model.CancelledByBusiness, got.CancelledBy)
	require.NotNil(t, got.CancelledAt)
	assert.True(t, got.CancelledAt.Equal(now))
	assert.Equal(t, "09:30", got.EndTime)
}

func TestListAppointmentsByDateFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b, svc, c := seedBusiness(t, s)
	other := model.Customer{ID: "cus-2", BusinessID: b.ID, FullName: "Grace Hopper", Phone: "+100200"}
	require.NoError(t, s.InsertCustomer(ctx, other))

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	a1 := booked(b, svc, c, "a1", "10:00", day.Add(10*time.Hour))
	a2 := booked(b, svc, other, "a2", "09:00", day.Add(9*time.Hour))
	a2.CustomerFullName = other.FullName
	a2.CustomerPhone = other.Phone
	require.NoError(t, s.InsertAppointment(ctx, a1))
	require.NoError(t, s.InsertAppointment(ctx, a2))

	all, err := s.ListAppointmentsByDate(ctx, b.ID, "2026-03-02", AppointmentFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a2", all[0].ID, "sorted by start time")

	byName, err := s.ListAppointmentsByDate(ctx, b.ID, "2026-03-02", AppointmentFilter{Query: "hopper"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "a2", byName[0].ID)

	byStatus, err := s.ListAppointmentsByDate(ctx, b.ID, "2026-03-02", AppointmentFilter{Status: model.StatusCanceled})
	require.NoError(t, err)
	assert.Empty(t, byStatus)

	n, err := s.CountBookedBetween(ctx, b.ID, day, day.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCustomerEmailIsUniquePerBusiness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b, _, _ := seedBusiness(t, s)

	found, err := s.FindCustomerByEmail(ctx, b.ID, " ADA@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "cus-1", found.ID)
	assert.Equal(t, model.CustomerActive, found.Status)

	err = s.InsertCustomer(ctx, model.Customer{ID: "cus-9", BusinessID: b.ID, Email: "ada@example.com"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	// Customers without an email do not collide.
	require.NoError(t, s.InsertCustomer(ctx, model.Customer{ID: "cus-a", BusinessID: b.ID, Phone: "1"}))
	require.NoError(t, s.InsertCustomer(ctx, model.Customer{ID: "cus-b", BusinessID: b.ID, Phone: "2"}))

	_, err = s.GetCustomer(ctx, b.ID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIdempotencyKeyLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, existed, err := s.LockIdempotencyKey(ctx, "biz-1", "k1", "fp-a")
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Equal(t, "fp-a", rec.Fingerprint)

	require.NoError(t, s.FinalizeIdempotency(ctx, "biz-1", "k1", "appt-1"))
	require.NoError(t, s.SaveIdempotentResponse(ctx, "biz-1", "k1", 201, []byte(`{"ok":true}`)))

	rec, existed, err = s.LockIdempotencyKey(ctx, "biz-1", "k1", "fp-b")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "fp-a", rec.Fingerprint)
	assert.Equal(t, "appt-1", rec.AppointmentID)
	assert.Equal(t, 201, rec.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(rec.Response))
}

func TestRolledBackTransactionLeavesNoTrace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(q Queries) error {
		if _, _, err := q.LockIdempotencyKey(ctx, "biz-1", "k1", "fp"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, existed, err := s.LockIdempotencyKey(ctx, "biz-1", "k1", "fp")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestProviderEventsAreRecordedOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.RecordProviderEvent(ctx, "stripe", "evt_1", "customer.subscription.updated")
	require.NoError(t, err)
	second, err := s.RecordProviderEvent(ctx, "stripe", "evt_1", "customer.subscription.updated")
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)

	require.NoError(t, s.UpsertEntitlement(ctx, model.Entitlement{BusinessID: "biz-1", Tier: "pro", MaxMonthlyAppointments: 2000}))
	require.NoError(t, s.UpsertEntitlement(ctx, model.Entitlement{BusinessID: "biz-1", Tier: "starter", MaxMonthlyAppointments: 500}))
	e, err := s.GetEntitlement(ctx, "biz-1")
	require.NoError(t, err)
	assert.Equal(t, "starter", e.Tier)
	assert.Equal(t, 500, e.MaxMonthlyAppointments)
}

func TestLatestOTPSupersedesOlderCodes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertCustomerOTP(ctx, OTPRecord{ID: "o1", BusinessID: "biz-1", Email: "a@x.io", Purpose: PurposeLogin,
		CodeHash: "h1", ExpiresAt: base.Add(10 * time.Minute), CreatedAt: base}))
	require.NoError(t, s.InsertCustomerOTP(ctx, OTPRecord{ID: "o2", BusinessID: "biz-1", Email: "a@x.io", Purpose: PurposeLogin,
		CodeHash: "h2", ExpiresAt: base.Add(11 * time.Minute), CreatedAt: base.Add(time.Minute)}))

	latest, err := s.LatestCustomerOTP(ctx, "biz-1", "a@x.io", PurposeLogin)
	require.NoError(t, err)
	assert.Equal(t, "o2", latest.ID)

	for i := 0; i < 2; i++ {
		ok, err := s.ClaimCustomerOTPAttempt(ctx, "o2", 2)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := s.ClaimCustomerOTPAttempt(ctx, "o2", 2)
	require.NoError(t, err)
	assert.False(t, ok, "attempt beyond the limit must not be counted")

	ok, err = s.ConsumeCustomerOTP(ctx, "o2", base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ConsumeCustomerOTP(ctx, "o2", base.Add(3*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "a code is consumed once")

	again, err := s.LatestCustomerOTP(ctx, "biz-1", "a@x.io", PurposeLogin)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Attempts)
	require.NotNil(t, again.ConsumedAt)
	assert.Equal(t, base.Add(2*time.Minute).Unix(), again.ConsumedAt.Unix())

	ok, err = s.ClaimCustomerOTPAttempt(ctx, "o1", 5)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = s.ConsumeCustomerOTP(ctx, "o1", base)
	require.NoError(t, err)
	ok, err = s.ClaimCustomerOTPAttempt(ctx, "o1", 5)
	require.NoError(t, err)
	assert.False(t, ok, "consumed codes take no further attempts")

	_, err = s.LatestCustomerOTP(ctx, "biz-1", "a@x.io", PurposeEmailChange)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionsRevoke(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedBusiness(t, s)

	require.NoError(t, s.CreateSession(ctx, Session{ID: "s1", BusinessID: "biz-1", CustomerID: "cus-1",
		TokenHash: "hash", ExpiresAt: time.Now().Add(time.Hour)}))
	sess, err := s.GetSessionByTokenHash(ctx, "hash")
	require.NoError(t, err)
	assert.Nil(t, sess.RevokedAt)

	require.NoError(t, s.RevokeSession(ctx, "s1", time.Now()))
	sess, err = s.GetSessionByTokenHash(ctx, "hash")
	require.NoError(t, err)
	assert.NotNil(t, sess.RevokedAt)
}

func TestOutboxClaimBatchMarksPublished(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a1", "a2", "a3"} {
		evt, err := outbox.NewEvent("appointment", id, "booking.appointment.booked.v1", map[string]string{"id": id})
		require.NoError(t, err)
		require.NoError(t, s.InsertOutboxEvent(ctx, evt, OutboxMeta{RequestID: "req-" + id}))
	}

	var got []outbox.Record
	require.NoError(t, s.ClaimBatch(ctx, 2, func(records []outbox.Record) error {
		got = append(got, records...)
		return nil
	}))
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].AggregateID)
	assert.Equal(t, "req-a1", got[0].RequestID)
	assert.JSONEq(t, `{"id":"a1"}`, string(got[0].Payload))

	failing := errors.New("broker down")
	err := s.ClaimBatch(ctx, 10, func(records []outbox.Record) error {
		require.Len(t, records, 1)
		return failing
	})
	require.ErrorIs(t, err, failing)

	var retried []outbox.Record
	require.NoError(t, s.ClaimBatch(ctx, 10, func(records []outbox.Record) error {
		retried = records
		return nil
	}))
	require.Len(t, retried, 1)
	assert.Equal(t, "a3", retried[0].AggregateID)
}
