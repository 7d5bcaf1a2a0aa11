package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres container in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "meetings_db",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(c) })

	endpoint, err := c.PortEndpoint(ctx, "5432/tcp", "")
	require.NoError(t, err)

	s, err := New(ctx, fmt.Sprintf("postgres://postgres:postgres@%s/meetings_db?sslmode=disable", endpoint), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestStoreAgainstPostgres(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	m, err := s.InsertMeeting(ctx, Meeting{Title: "Team Sync", Date: "2026-10-16", Time: "10:00:00", Reasoning: "Weather: Clear, 25C"})
	require.NoError(t, err)
	assert.NotZero(t, m.ID)
	assert.Equal(t, "2026-10-16", m.Date)
	assert.Equal(t, "10:00:00", m.Time)
	assert.False(t, m.CreatedAt.IsZero())

	_, err = s.InsertMeeting(ctx, Meeting{Title: "All day", Date: "2026-10-16"})
	require.NoError(t, err)
	_, err = s.InsertMeeting(ctx, Meeting{Title: "Later", Date: "2026-10-23"})
	require.NoError(t, err)

	t.Run("conflicts by day", func(t *testing.T) {
		got, err := s.Conflicts(ctx, "2026-10-16", "")
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("conflicts by slot", func(t *testing.T) {
		got, err := s.Conflicts(ctx, "2026-10-16", "10:00:00")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "Team Sync", got[0].Title)

		got, err = s.Conflicts(ctx, "2026-10-16", "11:00:00")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("list range is half open", func(t *testing.T) {
		got, err := s.ListRange(ctx, "2026-10-16", "2026-10-23")
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("query", func(t *testing.T) {
		res, err := s.Query(ctx, "SELECT title, meeting_date, meeting_time FROM meetings ORDER BY id")
		require.NoError(t, err)
		assert.Equal(t, []string{"title", "meeting_date", "meeting_time"}, res.Columns)
		require.Len(t, res.Rows, 3)
		assert.Equal(t, "Team Sync", res.Rows[0]["title"])
		assert.Equal(t, "2026-10-16", res.Rows[0]["meeting_date"])
		assert.Equal(t, "10:00:00", res.Rows[0]["meeting_time"])
		assert.Nil(t, res.Rows[1]["meeting_time"])
	})

	t.Run("query row cap", func(t *testing.T) {
		s.MaxRows = 2
		defer func() { s.MaxRows = DefaultMaxRows }()
		res, err := s.Query(ctx, "SELECT id FROM meetings")
		require.NoError(t, err)
		assert.Len(t, res.Rows, 2)
		assert.True(t, res.Truncated)
	})

	t.Run("read only transaction", func(t *testing.T) {
		_, err := s.Query(ctx, "SELECT nextval('meetings_id_seq')")
		assert.True(t, errors.Is(err, ErrReadOnly), "got %v", err)
	})
}

func TestInsertIfFreeBooksSlotOnce(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	const callers = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		booked int
		turned int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, existing, err := s.InsertIfFree(ctx, Meeting{Title: fmt.Sprintf("Sync %d", i), Date: "2026-10-20", Time: "15:00:00"})
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if len(existing) > 0 {
				turned++
			} else {
				booked++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, booked)
	assert.Equal(t, callers-1, turned)
	got, err := s.Conflicts(ctx, "2026-10-20", "15:00:00")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, existing, err := s.InsertIfFree(ctx, Meeting{Title: "Other slot", Date: "2026-10-20", Time: "16:00:00"})
	require.NoError(t, err)
	assert.Empty(t, existing)
}
