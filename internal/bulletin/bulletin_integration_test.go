//go:build integration

package bulletin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tfelbr/FMBP/pkg/fm"
)

// redisURL starts a throwaway Redis server and returns its URL.
func redisURL(t *testing.T) string {
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err, "redis container")
	t.Cleanup(func() {
		if err := c.Terminate(ctx); err != nil {
			t.Logf("terminate redis: %v", err)
		}
	})

	endpoint, err := c.PortEndpoint(ctx, "6379/tcp", "redis")
	require.NoError(t, err)
	return endpoint
}

// TestBulletin_RealRedis tests publish and subscribe against a real server,
// with two instances sharing it.
func TestBulletin_RealRedis(t *testing.T) {
	url := redisURL(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tank, err := Dial(url, "tank")
	require.NoError(t, err)
	defer tank.Close()
	other, err := Dial(url, "other")
	require.NoError(t, err)
	defer other.Close()

	require.NoError(t, tank.Ping(ctx))

	sub, err := other.SubscribeReconfigurations(ctx)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, NewNotifier(tank, "m").Notify(ctx, fm.Configuration{"AddHot": true}))

	got, err := tank.LatestReconfiguration(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"AddHot": true}, got.Config)

	_, err = other.LatestReconfiguration(ctx)
	assert.True(t, IsNotFound(err))

	select {
	case r := <-sub.Events():
		t.Fatalf("instance isolation broken, received %s", r.ID)
	case <-time.After(200 * time.Millisecond):
	}
}
