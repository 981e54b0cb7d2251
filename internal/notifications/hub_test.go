package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = time.Second
	testPollInterval      = 10 * time.Millisecond
)

func drain(c *Client) []serverMessage {
	var out []serverMessage
	for {
		select {
		case raw, ok := <-c.Send:
			if !ok {
				return out
			}
			var msg serverMessage
			if json.Unmarshal(raw, &msg) == nil {
				out = append(out, msg)
			}
		default:
			return out
		}
	}
}

func TestHub_DispatchHonorsSubscriptions(t *testing.T) {
	hub := NewHub()
	inserts, err := hub.Register(uuid.New(), nil)
	require.NoError(t, err)
	everything, err := hub.Register(uuid.New(), nil)
	require.NoError(t, err)
	idle, err := hub.Register(uuid.New(), nil)
	require.NoError(t, err)

	inserts.Subscribe(Subscription{Table: "posts", Event: "INSERT"})
	everything.Subscribe(Subscription{Table: "posts", Event: AnyEvent})

	n := hub.Dispatch(ChangeEvent{Type: "INSERT", Table: "posts", Record: []byte(`{"id":"p1"}`)})
	assert.Equal(t, 2, n)
	n = hub.Dispatch(ChangeEvent{Type: "DELETE", Table: "posts", Record: []byte(`{"id":"p1"}`)})
	assert.Equal(t, 1, n)
	n = hub.Dispatch(ChangeEvent{Type: "INSERT", Table: "comments", Record: []byte(`{}`)})
	assert.Equal(t, 0, n)

	assert.Len(t, drain(inserts), 1)
	got := drain(everything)
	require.Len(t, got, 2)
	assert.Equal(t, "change", got[0].Type)
	assert.Empty(t, drain(idle))
}

func TestHub_PerUserConnectionLimit(t *testing.T) {
	hub := NewHub()
	user := uuid.New()
	for i := 0; i < maxConnsPerUser; i++ {
		_, err := hub.Register(user, nil)
		require.NoError(t, err)
	}
	_, err := hub.Register(user, nil)
	assert.ErrorIs(t, err, ErrUserFull)
	assert.Equal(t, maxConnsPerUser, hub.Count())
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	hub := NewHub()
	c, err := hub.Register(uuid.New(), nil)
	require.NoError(t, err)

	hub.Unregister(c)
	hub.Unregister(c)
	assert.Equal(t, 0, hub.Count())
	assert.False(t, c.TrySend([]byte("late")))

	_, ok := <-c.Send
	assert.False(t, ok)
}

func TestClient_HandleMessage(t *testing.T) {
	hub := NewHub()
	c, err := hub.Register(uuid.New(), nil)
	require.NoError(t, err)

	c.HandleMessage([]byte(`{"action":"subscribe","table":"posts","event":"insert"}`))
	assert.True(t, c.Wants("posts", "INSERT"))
	assert.False(t, c.Wants("posts", "UPDATE"))

	c.HandleMessage([]byte(`{"action":"subscribe","table":"secrets","event":"INSERT"}`))
	c.HandleMessage([]byte(`not json`))

	c.HandleMessage([]byte(`{"action":"unsubscribe","table":"posts","event":"INSERT"}`))
	assert.False(t, c.Wants("posts", "INSERT"))

	replies := drain(c)
	require.Len(t, replies, 4)
	assert.Equal(t, "subscribed", replies[0].Type)
	assert.Equal(t, "error", replies[1].Type)
	assert.Equal(t, "error", replies[2].Type)
	assert.Equal(t, "unsubscribed", replies[3].Type)
}

func TestClient_FullBufferDrops(t *testing.T) {
	hub := NewHub()
	c, err := hub.Register(uuid.New(), nil)
	require.NoError(t, err)

	for i := 0; i < sendBuffer; i++ {
		require.True(t, c.TrySend([]byte("x")))
	}
	assert.False(t, c.TrySend([]byte("overflow")))

	_ = hub.Shutdown(context.Background())
	assert.Equal(t, 0, hub.Count())
}

func TestHub_PublishChangeDispatchesLocally(t *testing.T) {
	hub := NewHub()
	c, err := hub.Register(uuid.New(), nil)
	require.NoError(t, err)
	c.Subscribe(Subscription{Table: "comments", Event: AnyEvent})

	require.NoError(t, hub.PublishChange(context.Background(), "comments", "INSERT", map[string]string{"id": "c1"}))

	got := drain(c)
	require.Len(t, got, 1)
	assert.Equal(t, "change", got[0].Type)
}
