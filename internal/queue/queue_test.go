package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeRoundTripKeepsPipesInBody(t *testing.T) {
	msg := Message{Type: TypeMark, Body: []byte(`{"notes":"a|b"}`)}
	assert.Equal(t, msg, deserialize(serialize(msg)))
	assert.Equal(t, Message{Body: []byte("plain")}, deserialize("plain"))
}

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	require.NoError(t, q.Publish(ctx, Message{Type: TypeMark, Body: []byte("1")}))
	require.NoError(t, q.Publish(ctx, Message{Type: TypeMark, Body: []byte("2")}))

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", string((<-msgs).Body))
	assert.Equal(t, "2", string((<-msgs).Body))

	cancel()
	select {
	case _, open := <-msgs:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestInMemoryPublishHonoursContext(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{Type: TypeMark}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: TypeMark}), context.DeadlineExceeded)
}

func TestRedisQueueFIFO(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewRedisQueue(client, "")
	q.wait = 100 * time.Millisecond
	require.NoError(t, q.Publish(ctx, Message{Type: TypeMark, Body: []byte("first")}))
	require.NoError(t, q.Publish(ctx, Message{Type: TypeMark, Body: []byte("second")}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	for _, want := range []string{"first", "second"} {
		select {
		case msg := <-msgs:
			assert.Equal(t, TypeMark, msg.Type)
			assert.Equal(t, want, string(msg.Body))
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}
