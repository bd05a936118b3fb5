package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/hookweave/hookweave/events"
)

// getRedis returns a client for the server named by REDIS_ADDR, skipping
// the test when none is available.
func getRedis(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping redis store tests")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err())
	t.Cleanup(func() { client.Close() })
	return client
}

func testStream(t *testing.T) string {
	return fmt.Sprintf("hookweave:test:%s:%d", t.Name(), time.Now().UnixNano())
}

func TestAppendAndLoad(t *testing.T) {
	client := getRedis(t)
	stream := testStream(t)
	s := New(client, WithStream(stream))
	t.Cleanup(func() { client.Del(context.Background(), stream) })

	for i := 1; i <= 5; i++ {
		typ := "tool.invoked"
		if i%2 == 0 {
			typ = "agent.step"
		}
		evt := events.New(typ, map[string]any{"n": float64(i)})
		evt.Sequence = uint64(i)
		require.NoError(t, s.Append(context.Background(), evt))
	}

	got, err := s.Load(context.Background(), events.Query{})
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, evt := range got {
		require.Equal(t, uint64(i+1), evt.Sequence)
	}

	got, err = s.Load(context.Background(), events.Query{Pattern: "agent.*", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "agent.step", got[0].Type)

	last, err := s.LastSequence(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(5), last)
}

func TestMaxLenTrimsStream(t *testing.T) {
	client := getRedis(t)
	stream := testStream(t)
	s := New(client, WithStream(stream), WithMaxLen(10))
	t.Cleanup(func() { client.Del(context.Background(), stream) })

	for i := 1; i <= 200; i++ {
		evt := events.New("bulk.load", i)
		evt.Sequence = uint64(i)
		require.NoError(t, s.Append(context.Background(), evt))
	}

	// MAXLEN ~ trims approximately; the stream must stay well below the
	// full append count.
	n, err := client.XLen(context.Background(), stream).Result()
	require.NoError(t, err)
	require.Less(t, n, int64(200))
}
