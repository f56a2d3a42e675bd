package onboarding

import (
	"context"
	"testing"
	"time"

	"github.com/bookwell/bookwell/services/booking-service/internal/model"
	"github.com/bookwell/bookwell/services/booking-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*Service, *storage.SQLStore) {
	t.Helper()
	s, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return NewService(s), s
}

func ptr[T any](v T) *T { return &v }

func TestGetCreatesDefaults(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	p, err := svc.Get(ctx, "biz-1")
	require.NoError(t, err)
	assert.Equal(t, "UTC", p.Business.Timezone)
	assert.Equal(t, "USD", p.Business.Currency)
	assert.NotEmpty(t, p.Business.PublicID)
	assert.False(t, p.Business.OnboardingCompleted)
	assert.False(t, p.Business.Rules.LimitCustomerToOneUpcomingAppointment)
	assert.Empty(t, p.Services)
	require.Len(t, p.Availability, 7)
	assert.False(t, p.Availability[0].Enabled)
	assert.True(t, p.Availability[1].Enabled)
	assert.Equal(t, []model.Window{{Start: "09:00", End: "17:00"}}, p.Availability[5].Windows)
	assert.False(t, p.Availability[6].Enabled)

	again, err := svc.Get(ctx, "biz-1")
	require.NoError(t, err)
	assert.Equal(t, p.Business.PublicID, again.Business.PublicID)
}

func TestUpdateSettingsAndServices(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	p, err := svc.Update(ctx, "biz-1", Patch{
		Name:     ptr("Studio Nine"),
		Slug:     ptr(" Studio-Nine "),
		Timezone: ptr("Europe/Berlin"),
		Currency: ptr("eur"),
		Rules:    &model.Rules{PreventSameServiceSameDay: true},
		Services: []ServiceInput{{Name: "Cut", DurationMinutes: 30, Price: 2500}, {Name: "Color", DurationMinutes: 90}},
	})
	require.NoError(t, err)
	assert.Equal(t, "studio-nine", p.Business.Slug)
	assert.Equal(t, "EUR", p.Business.Currency)
	assert.True(t, p.Business.Rules.PreventSameServiceSameDay)
	require.Len(t, p.Services, 2)
	assert.Equal(t, "Cut", p.Services[0].Name)
	assert.True(t, p.Services[1].IsActive)

	// Omitting a service deactivates it; listing an id updates it.
	cut := p.Services[0]
	p, err = svc.Update(ctx, "biz-1", Patch{Services: []ServiceInput{{ID: cut.ID, Name: "Haircut", DurationMinutes: 45}}})
	require.NoError(t, err)
	require.Len(t, p.Services, 2)
	byName := map[string]model.Service{}
	for _, s := range p.Services {
		byName[s.Name] = s
	}
	assert.True(t, byName["Haircut"].IsActive)
	assert.Equal(t, 45, byName["Haircut"].DurationMinutes)
	assert.False(t, byName["Color"].IsActive)
}

func TestUpdateBumpsConfigVersion(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	before, err := svc.Get(ctx, "biz-1")
	require.NoError(t, err)
	after, err := svc.Update(ctx, "biz-1", Patch{Availability: []model.AvailabilityDay{
		{Day: 6, Enabled: true, Windows: []model.Window{{Start: "13:00", End: "24:00"}, {Start: "08:00", End: "12:00"}}},
	}})
	require.NoError(t, err)
	assert.Greater(t, after.Business.ConfigVersion, before.Business.ConfigVersion)
	assert.False(t, after.Availability[1].Enabled, "days not listed are disabled")
	assert.Equal(t, []model.Window{{Start: "08:00", End: "12:00"}, {Start: "13:00", End: "24:00"}}, after.Availability[6].Windows)
}

func TestUpdateValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Update(ctx, "biz-1", Patch{
		Slug:     ptr("x"),
		Timezone: ptr("Mars/Olympus"),
		Currency: ptr("euro"),
		Services: []ServiceInput{{Name: "Cut", DurationMinutes: 0}},
		Availability: []model.AvailabilityDay{
			{Day: 1, Enabled: true, Windows: []model.Window{{Start: "09:00", End: "12:00"}, {Start: "11:00", End: "13:00"}}},
			{Day: 2, Enabled: true, Windows: []model.Window{{Start: "9:00", End: "12:00"}}},
			{Day: 3, Enabled: true, Windows: []model.Window{{Start: "12:00", End: "12:00"}}},
			{Day: 7},
		},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	for _, field := range []string{"slug", "timezone", "currency", "services[0].durationMinutes",
		"availability[0].windows", "availability[1].windows", "availability[2].windows", "availability[3].day"} {
		assert.Contains(t, verr.Fields, field)
	}
}

func TestSlugMustBeUnique(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Update(ctx, "biz-1", Patch{Slug: ptr("studio")})
	require.NoError(t, err)
	_, err = svc.Update(ctx, "biz-2", Patch{Slug: ptr("studio")})
	assert.ErrorIs(t, err, ErrSlugTaken)
}

func TestDurationIsFrozenOnceBooked(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	p, err := svc.Update(ctx, "biz-1", Patch{Services: []ServiceInput{{Name: "Cut", DurationMinutes: 30}}})
	require.NoError(t, err)
	cut := p.Services[0]

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertCustomer(ctx, model.Customer{ID: "cus-1", BusinessID: "biz-1", FullName: "Ada"}))
	require.NoError(t, store.InsertAppointment(ctx, model.Appointment{
		ID: "a1", BusinessID: "biz-1", Date: "2026-03-02", StartTime: "09:00", EndTime: "09:30",
		StartAt: start, EndAt: start.Add(30 * time.Minute), ServiceID: cut.ID, ServiceName: cut.Name,
		CustomerID: "cus-1", Status: model.StatusBooked, Source: model.SourceAdmin,
	}))

	_, err = svc.Update(ctx, "biz-1", Patch{Services: []ServiceInput{{ID: cut.ID, Name: "Cut", DurationMinutes: 45}}})
	assert.ErrorIs(t, err, ErrServiceInUse)

	p, err = svc.Update(ctx, "biz-1", Patch{Services: []ServiceInput{{ID: cut.ID, Name: "Short cut", DurationMinutes: 30, Price: 100}}})
	require.NoError(t, err)
	assert.Equal(t, "Short cut", p.Services[0].Name)

	_, err = svc.Update(ctx, "biz-1", Patch{Services: []ServiceInput{{ID: "unknown", Name: "X", DurationMinutes: 30}}})
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestComplete(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Update(ctx, "biz-1", Patch{Availability: []model.AvailabilityDay{}})
	require.NoError(t, err)
	err = svc.Complete(ctx, "biz-1")
	var incomplete *IncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []string{"name", "slug", "services", "availability"}, incomplete.Missing)

	_, err = svc.Update(ctx, "biz-1", Patch{
		Name:         ptr("Studio"),
		Slug:         ptr("studio"),
		Services:     []ServiceInput{{Name: "Cut", DurationMinutes: 30}},
		Availability: DefaultWeek(),
	})
	require.NoError(t, err)
	require.NoError(t, svc.Complete(ctx, "biz-1"))

	p, err := svc.Get(ctx, "biz-1")
	require.NoError(t, err)
	assert.True(t, p.Business.OnboardingCompleted)
	require.NoError(t, svc.Complete(ctx, "biz-1"))
}
