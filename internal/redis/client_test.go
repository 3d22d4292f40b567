package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(&Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestNewClientRequiresConfig(t *testing.T) {
	_, err := NewClient(nil)
	assert.Error(t, err)
}

func TestNewClientFailsWhenUnreachable(t *testing.T) {
	_, err := NewClient(&Config{Address: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestSetGetDelete(t *testing.T) {
	client, _ := testClient(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "k", "v", 0))

	val, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	require.NoError(t, client.Delete(ctx, "k"))

	_, err = client.Get(ctx, "k")
	assert.True(t, IsNotFound(err))
}

func TestSetMarshalsStructs(t *testing.T) {
	client, _ := testClient(t)
	ctx := context.Background()

	type payload struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}

	require.NoError(t, client.Set(ctx, "obj", payload{Name: "pacs", N: 3}, 0))

	val, err := client.Get(ctx, "obj")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"pacs","n":3}`, val)
}

func TestSetHonorsExpiration(t *testing.T) {
	client, mr := testClient(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "ttl", "v", 30*time.Second))

	mr.FastForward(31 * time.Second)

	_, err := client.Get(ctx, "ttl")
	assert.True(t, IsNotFound(err))
}

func TestAcquireAndReleaseLock(t *testing.T) {
	client, _ := testClient(t)
	ctx := context.Background()

	ok, err := client.AcquireLock(ctx, "refresh:pacs", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.AcquireLock(ctx, "refresh:pacs", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, client.ReleaseLock(ctx, "refresh:pacs"))

	ok, err = client.AcquireLock(ctx, "refresh:pacs", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
