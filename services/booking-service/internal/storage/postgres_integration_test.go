//go:build integration

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bookwell/bookwell/libs/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "bookwell",
				"POSTGRES_PASSWORD": "bookwell",
				"POSTGRES_DB":       "bookwell",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	url := fmt.Sprintf("postgres://bookwell:bookwell@%s:%s/bookwell?sslmode=disable", host, port.Port())
	pool, err := db.Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := OpenPostgres(pool)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestPostgresExclusionConstraintRejectsOverlap(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()
	b, svc, c := seedBusiness(t, s)
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertAppointment(ctx, booked(b, svc, c, "p1", "09:00", at)))
	// Different start, overlapping range: only the exclusion constraint sees it.
	err := s.InsertAppointment(ctx, booked(b, svc, c, "p2", "09:15", at.Add(15*time.Minute)))
	assert.ErrorIs(t, err, ErrSlotTaken)

	require.NoError(t, s.InsertAppointment(ctx, booked(b, svc, c, "p3", "09:30", at.Add(30*time.Minute))))
}

func TestPostgresLockBusinessSerializesTransactions(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()
	b, _, _ := seedBusiness(t, s)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithTx(ctx, func(q Queries) error {
			if err := q.LockBusiness(ctx, b.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	waitCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	err := s.WithTx(waitCtx, func(q Queries) error { return q.LockBusiness(waitCtx, b.ID) })
	assert.Error(t, err, "second locker must block while the first holds the row")

	close(release)
	require.NoError(t, <-done)
	require.NoError(t, s.WithTx(ctx, func(q Queries) error { return q.LockBusiness(ctx, b.ID) }))

	_, err = s.GetBusiness(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "postgres", s.Dialect())
}
