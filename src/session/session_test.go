package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Service {
	t.Helper()
	sq, err := NewSQLiteService(context.Background(), filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	mem, err := NewSQLiteService(context.Background(), ":memory:")
	require.NoError(t, err)
	out := map[string]Service{
		"memory":        NewMemoryService(),
		"sqlite":        sq,
		"sqlite-memory": mem,
	}
	t.Cleanup(func() {
		for _, s := range out {
			_ = s.Close()
		}
	})
	return out
}

func TestServiceContract(t *testing.T) {
	key := Key{App: "agentflow", User: "default_user", ID: "default_session"}
	for name, svc := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			got, err := svc.Get(ctx, key)
			require.NoError(t, err)
			assert.Nil(t, got)

			_, err = svc.Events(ctx, key, 0)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, svc.AppendEvent(ctx, key, Event{Role: RoleUser, Content: "hi"}), ErrNotFound)

			created, err := GetOrCreate(ctx, svc, key)
			require.NoError(t, err)
			assert.Equal(t, key, created.Key)

			_, err = svc.Create(ctx, key)
			assert.ErrorIs(t, err, ErrExists)

			again, err := GetOrCreate(ctx, svc, key)
			require.NoError(t, err)
			assert.Equal(t, key, again.Key)

			base := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
			for i, c := range []string{"one", "two", "three"} {
				require.NoError(t, svc.AppendEvent(ctx, key, Event{Role: RoleUser, Content: c, CreatedAt: base.Add(time.Duration(i) * time.Second)}))
			}
			require.NoError(t, svc.AppendEvent(ctx, key, Event{Role: RoleTool, Tool: "get_weather", Content: "{}"}))

			all, err := svc.Events(ctx, key, 0)
			require.NoError(t, err)
			require.Len(t, all, 4)
			assert.Equal(t, "one", all[0].Content)
			assert.Equal(t, "get_weather", all[3].Tool)
			assert.False(t, all[3].CreatedAt.IsZero())

			last, err := svc.Events(ctx, key, 2)
			require.NoError(t, err)
			require.Len(t, last, 2)
			assert.Equal(t, "three", last[0].Content)
			assert.Equal(t, RoleTool, last[1].Role)

			other := Key{App: key.App, User: "someone_else", ID: key.ID}
			got, err = svc.Get(ctx, other)
			require.NoError(t, err)
			assert.Nil(t, got, "sessions are scoped per user")

			require.NoError(t, svc.Delete(ctx, key))
			got, err = svc.Get(ctx, key)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestCreateRejectsBlankKey(t *testing.T) {
	_, err := NewMemoryService().Create(context.Background(), Key{App: "a", User: " ", ID: "x"})
	assert.Error(t, err)
}

func TestMemoryServiceConcurrentAppends(t *testing.T) {
	svc := NewMemoryService()
	key := Key{App: "a", User: "u", ID: "s"}
	_, err := GetOrCreate(context.Background(), svc, key)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.AppendEvent(context.Background(), key, Event{Role: RoleUser, Content: "x"}))
		}()
	}
	wg.Wait()

	events, err := svc.Events(context.Background(), key, 0)
	require.NoError(t, err)
	assert.Len(t, events, 50)
}

func TestOpen(t *testing.T) {
	svc, err := Open(context.Background(), Config{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryService{}, svc)

	svc, err = Open(context.Background(), Config{Backend: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "s.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteService{}, svc)
	require.NoError(t, svc.Close())

	_, err = Open(context.Background(), Config{Backend: "redis"})
	assert.Error(t, err)
}
