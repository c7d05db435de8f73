package demosdk

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loggedIn(t *testing.T) *Client {
	t.Helper()
	c := New()
	_, err := c.Login(context.Background(), "alice", "token")
	require.NoError(t, err)
	return c
}

func TestLogin(t *testing.T) {
	c := New()
	_, err := c.GetMyInfo(context.Background())
	require.ErrorIs(t, err, ErrNotLoggedIn)

	_, err = c.Login(context.Background(), "alice", "")
	require.ErrorIs(t, err, ErrInvalidToken)

	res, err := c.Login(context.Background(), "alice", "token")
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Account)

	info, err := c.UpdateMyInfo(context.Background(), UserInfoUpdate{Nick: "Al"})
	require.NoError(t, err)
	assert.Equal(t, "Al", info.Nick)
	assert.Equal(t, "alice", info.Account)

	require.NoError(t, c.Logout(context.Background()))
	require.ErrorIs(t, c.Logout(context.Background()), ErrNotLoggedIn)
}

func TestSendMessage(t *testing.T) {
	c := loggedIn(t)
	ctx := context.Background()

	msg, err := c.CreateTextMessage("hello")
	require.NoError(t, err)
	assert.Equal(t, "created", msg.Status)

	sent, err := c.SendMessage(ctx, msg, "p2p-bob")
	require.NoError(t, err)
	assert.Equal(t, "sent", sent.Status)
	assert.Equal(t, "alice", sent.From)
	assert.Equal(t, "created", msg.Status, "the local message is not mutated")

	_, err = c.SendMessage(ctx, nil, "p2p-bob")
	require.ErrorIs(t, err, ErrInvalidArg)

	second, err := c.CreateTextMessage("again")
	require.NoError(t, err)
	_, err = c.SendMessage(ctx, second, "p2p-bob")
	require.NoError(t, err)

	hist, err := c.GetHistoryMessages(ctx, "p2p-bob", 1)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "again", hist[0].Text)

	recalled, err := c.RecallMessage(ctx, sent)
	require.NoError(t, err)
	assert.Equal(t, "recalled", recalled.Status)

	_, err = c.RecallMessage(ctx, msg)
	require.NoError(t, err, "recall looks messages up by id")
	_, err = c.RecallMessage(ctx, &Message{ID: "nope"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTeams(t *testing.T) {
	c := loggedIn(t)
	ctx := context.Background()

	team, err := c.CreateTeam(ctx, "playground", []string{"bob", "alice"})
	require.NoError(t, err)
	assert.Equal(t, "team-playground", team.ID)
	assert.Equal(t, []string{"alice", "bob"}, team.Members)

	again, err := c.CreateTeam(ctx, "playground", nil)
	require.NoError(t, err)
	assert.NotEqual(t, team.ID, again.ID)

	team, err = c.AddTeamMembers(ctx, "team-playground", []string{"carol", "bob"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, team.Members)

	_, err = c.GetTeamInfo(ctx, "team-missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCallbacks(t *testing.T) {
	c := loggedIn(t)
	ctx := context.Background()

	d, err := c.SimulateDisconnect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, d)

	c.SetReconnectDelayProvider(func(delay float64) float64 { return delay / 4 })
	d, err = c.SimulateDisconnect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 250.0, d)

	_, err = c.ParseAttachment("card", "{}")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, c.RegisterCustomAttachmentParser(func(kind, raw string) map[string]any {
		if kind != "card" {
			return nil
		}
		return map[string]any{"raw": raw}
	}))
	got, err := c.ParseAttachment("card", "{}")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"raw": "{}"}, got)
}

type blob struct {
	name string
	data []byte
}

func (b blob) Name() string        { return b.name }
func (b blob) ContentType() string { return "text/plain" }
func (b blob) Reader() io.Reader   { return bytes.NewReader(b.data) }

func TestUploadFile(t *testing.T) {
	c := New()
	var progress []float64
	res, err := c.UploadFile(context.Background(), blob{"a.txt", []byte("hello")}, func(p float64) {
		progress = append(progress, p)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Size)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", res.SHA256)
	assert.Equal(t, []float64{50, 100}, progress)
}

func TestChatroom(t *testing.T) {
	c := loggedIn(t)
	ctx := context.Background()

	room, err := c.EnterChatroom(ctx, "lobby")
	require.NoError(t, err)
	msg, err := room.SendText(ctx, "hi")
	require.NoError(t, err)
	assert.Equal(t, "chatroom:lobby", msg.ConversationID)

	members, err := room.GetMembers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)

	require.NoError(t, room.Exit(ctx))
	_, err = room.SendText(ctx, "still here?")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLatencyHonoursContext(t *testing.T) {
	c := New().WithLatency(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Login(ctx, "alice", "token")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEmbeddedData(t *testing.T) {
	tables, err := fs.Glob(CatalogFS(), "*")
	require.NoError(t, err)
	assert.Contains(t, tables, "auth.json")
	assert.Contains(t, tables, "chatroom.yaml")

	_, err = fs.ReadFile(ScenarioFS(), "quickstart.yaml")
	require.NoError(t, err)
}
