package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetVersionRepliesWithCacheName(t *testing.T) {
	env := newTestEnv(t, nil)

	var replies []interface{}
	port := PortFunc(func(v interface{}) error {
		replies = append(replies, v)
		return nil
	})
	require.NoError(t, env.worker.HandleMessage(context.Background(), Message{Type: MessageGetVersion}, port))
	require.Len(t, replies, 1)

	raw, err := json.Marshal(replies[0])
	require.NoError(t, err)
	require.JSONEq(t, `{"version":"kuryecini-v1"}`, string(raw))
}

func TestCacheCartRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.worker.CachedCart(context.Background())
	require.ErrorIs(t, err, ErrNoCart)

	cart := json.RawMessage(`{"items":[{"id":"p1","qty":2}],"total":120.5}`)
	require.NoError(t, env.worker.HandleMessage(context.Background(), Message{Type: MessageCacheCart, CartData: cart}, nil))

	got, err := env.worker.CachedCart(context.Background())
	require.NoError(t, err)
	require.JSONEq(t, string(cart), string(got))

	names, err := env.store.Stores(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"kuryecini-v1-data"}, names)
}

func TestCacheCartRejectsInvalidJSON(t *testing.T) {
	env := newTestEnv(t, nil)
	err := env.worker.HandleMessage(context.Background(), Message{Type: MessageCacheCart, CartData: json.RawMessage(`{oops`)}, nil)
	require.ErrorIs(t, err, ErrInvalidCart)
}

func TestUnknownMessageIsIgnored(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.worker.HandleMessage(context.Background(), Message{Type: "REFRESH_EVERYTHING"}, nil))

	last := env.hook.LastEntry()
	require.NotNil(t, last)
	require.Equal(t, "message_ignored", last.Message)
	require.Equal(t, "REFRESH_EVERYTHING", last.Data["type"])
}

func TestSkipWaitingOnActiveWorkerIsNoop(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.worker.Activate(context.Background()))
	require.NoError(t, env.worker.HandleMessage(context.Background(), Message{Type: MessageSkipWaiting}, nil))
	require.Equal(t, StateActivated, env.worker.State())
}
