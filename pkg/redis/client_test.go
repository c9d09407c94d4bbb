package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := New("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestClient_GetSet(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	v, err := client.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, client.SetEx(ctx, "k", "value", time.Minute))
	v, err = client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	mr.FastForward(2 * time.Minute)
	v, err = client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, v, "expired keys read as missing")

	require.NoError(t, client.SetEx(ctx, "d", "x", time.Minute))
	require.NoError(t, client.Del(ctx, "d"))
	assert.False(t, mr.Exists("d"))
}

func TestClient_Hash(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	n, err := client.HIncrBy(ctx, "h", "valid", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	v, err := client.HGet(ctx, "h", "valid")
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	v, err = client.HGet(ctx, "h", "missing")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestClient_Ping(t *testing.T) {
	client, mr := newTestClient(t)
	require.NoError(t, client.Ping(context.Background()))

	mr.Close()
	assert.Error(t, client.Ping(context.Background()))
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New("not-a-url")
	assert.Error(t, err)
}
