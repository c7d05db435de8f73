package sdkplay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTarget(name string) Target {
	return TargetFunc(func(ctx context.Context, method string, args []any) (any, error) {
		return name + "." + method, nil
	})
}

func TestRouter(t *testing.T) {
	def := echoTarget("client")
	r := NewRouter(def, "chatroom", "", "qchat")

	assert.Equal(t, []string{"chatroom", "qchat"}, r.Tags())

	got, err := r.Resolve("")
	require.NoError(t, err)
	res, _ := got.Call(context.Background(), "login", nil)
	assert.Equal(t, "client.login", res)

	_, err = r.Resolve("chatroom")
	var notReady *InstanceNotReadyError
	require.ErrorAs(t, err, &notReady)
	assert.True(t, notReady.Known)
	assert.False(t, r.Ready("chatroom"))

	_, err = r.Resolve("superTeam")
	require.ErrorAs(t, err, &notReady)
	assert.False(t, notReady.Known)
	assert.ErrorIs(t, err, ErrInstanceNotReady)

	require.NoError(t, r.Bind("chatroom", echoTarget("room")))
	assert.True(t, r.Ready("chatroom"))
	got, err = r.Resolve("chatroom")
	require.NoError(t, err)
	res, _ = got.Call(context.Background(), "sendText", nil)
	assert.Equal(t, "room.sendText", res)

	require.NoError(t, r.Bind("chatroom", echoTarget("room2")), "rebinding replaces")
	got, _ = r.Resolve("chatroom")
	res, _ = got.Call(context.Background(), "exit", nil)
	assert.Equal(t, "room2.exit", res)

	r.Unbind("chatroom")
	r.Unbind("chatroom")
	assert.False(t, r.Ready("chatroom"))

	assert.ErrorIs(t, r.Bind("superTeam", def), ErrInstanceNotReady)
	assert.Error(t, r.Bind("", def))
	assert.Error(t, r.Bind("chatroom", nil))
}

func TestNewRouter_NilDefault(t *testing.T) {
	assert.Panics(t, func() { NewRouter(nil) })
}
