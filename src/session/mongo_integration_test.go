package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestMongoServiceAgainstContainer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping MongoDB container in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(c) })

	endpoint, err := c.PortEndpoint(ctx, "27017/tcp", "mongodb")
	require.NoError(t, err)

	svc, err := NewMongoService(ctx, endpoint, "agentflow_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	key := Key{App: "agentflow", User: "u", ID: "s"}
	_, err = GetOrCreate(ctx, svc, key)
	require.NoError(t, err)
	_, err = svc.Create(ctx, key)
	assert.ErrorIs(t, err, ErrExists)

	base := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	for i, c := range []string{"a", "b", "c"} {
		require.NoError(t, svc.AppendEvent(ctx, key, Event{Role: RoleUser, Content: c, CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	last, err := svc.Events(ctx, key, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "b", last[0].Content)
	assert.Equal(t, "c", last[1].Content)

	require.NoError(t, svc.Delete(ctx, key))
	got, err := svc.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)
}
