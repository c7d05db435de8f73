package sdkplay

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/broady/sdkplay/internal/demosdk"
)

func TestLoadCatalog(t *testing.T) {
	fsys := fstest.MapFS{
		"tables/auth.json": {Data: []byte(`[
			{"name": "login", "params": [{"name": "account", "type": "string", "defaultValue": "alice"}]},
			{"name": "logout"}
		]`)},
		"tables/chatroom.yaml": {Data: []byte(`
- name: enterChatroom
  provides: chatroom
  params:
    - name: options
      type: json
      defaultValue: {roomId: lobby, limit: 10}
- name: exit
  instance: chatroom
  releases: chatroom
`)},
		"tables/README.md": {Data: []byte("ignored")},
	}

	c, err := LoadCatalog(fsys, "tables/*.json", "tables/*.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"auth", "chatroom"}, c.Areas())
	assert.Equal(t, 4, c.Len())
	assert.Equal(t, []string{"chatroom"}, c.Instances())

	login, ok := c.Lookup("auth.login")
	require.True(t, ok)
	assert.Equal(t, "auth", login.Area)
	assert.Equal(t, "alice", login.Params[0].DefaultValue)

	enter, ok := c.Lookup("chatroom.enterChatroom")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"roomId": "lobby", "limit": 10.0}, enter.Params[0].DefaultValue)

	names := []string{}
	for _, d := range c.Area("chatroom") {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"enterChatroom", "exit"}, names)
	assert.Len(t, c.All(), 4)

	_, ok = c.Lookup("login")
	assert.False(t, ok)
}

func TestLoadCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad kind", `[{"name": "x", "params": [{"name": "a", "type": "blob"}]}]`},
		{"missing name", `[{"params": []}]`},
		{"missing param name", `[{"name": "x", "params": [{"type": "string"}]}]`},
		{"duplicate param", `[{"name": "x", "params": [{"name": "a", "type": "string"}, {"name": "a", "type": "number"}]}]`},
		{"bad return var", `[{"name": "x", "returnVar": "message"}]`},
		{"provides own instance", `[{"name": "x", "instance": "room", "provides": "room"}]`},
		{"syntax", `[{"name": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCatalog(fstest.MapFS{"area.json": {Data: []byte(tt.data)}}, "*.json")
			assert.Error(t, err)
		})
	}

	_, err := LoadCatalog(fstest.MapFS{}, "*.json")
	assert.Error(t, err, "no files")

	_, err = LoadCatalog(fstest.MapFS{"a.toml": {Data: []byte("")}}, "*.toml")
	assert.Error(t, err, "unsupported format")
}

func TestCatalog_DuplicateLastWins(t *testing.T) {
	var buf bytes.Buffer
	c := NewCatalog().WithLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, c.Add("msg",
		APIDescriptor{Name: "send", ReturnVar: "__first"},
		APIDescriptor{Name: "recall"},
	))
	require.NoError(t, c.Add("msg", APIDescriptor{Name: "send", ReturnVar: "__second"}))

	d, ok := c.Lookup("msg.send")
	require.True(t, ok)
	assert.Equal(t, "__second", d.ReturnVar)
	assert.Len(t, c.Area("msg"), 2)
	assert.Contains(t, buf.String(), "duplicate operation")
	assert.Contains(t, buf.String(), "op=msg.send")

	assert.Error(t, c.Add("", APIDescriptor{Name: "x"}))
}

func TestDemoCatalogLoads(t *testing.T) {
	c, err := LoadCatalog(demosdk.CatalogFS(), demosdk.CatalogPatterns...)
	require.NoError(t, err)
	assert.Contains(t, c.Areas(), "message")
	assert.Equal(t, []string{"chatroom"}, c.Instances())

	send, ok := c.Lookup("message.sendMessage")
	require.True(t, ok)
	assert.Equal(t, "[[__message]]", send.Params[0].DefaultValue)

	hist, ok := c.Lookup("message.getHistoryMessages")
	require.True(t, ok)
	limit, _ := hist.Param("limit")
	assert.Equal(t, 20.0, limit.DefaultValue)
}

func TestDescriptorSchema(t *testing.T) {
	b, err := json.Marshal(DescriptorSchema())
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(b, &schema))
	assert.Equal(t, "array", schema["type"])
	assert.Equal(t, "sdkplay catalogue table", schema["title"])

	items := schema["items"].(map[string]any)
	props := items["properties"].(map[string]any)
	assert.Contains(t, props, "returnVar")
	assert.Contains(t, props, "provides")
	assert.NotContains(t, props, "Area")
	assert.Contains(t, items["required"], "name")
}

func TestDescriptorKey(t *testing.T) {
	assert.Equal(t, "send", (&APIDescriptor{Name: "send"}).Key())
	assert.Equal(t, "msg.send", (&APIDescriptor{Name: "send", Area: "msg"}).Key())
	for _, k := range Kinds {
		assert.True(t, k.Valid())
	}
	assert.False(t, Kind("blob").Valid())
}
