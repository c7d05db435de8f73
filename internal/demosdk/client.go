// Package demosdk is a small in-memory messaging SDK used as the default
// invocation target of the playground. It models the call shapes of a real
// messaging SDK (login state, message objects built locally and sent later,
// callbacks registered for later use, chatroom instances) without any network.
package demosdk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotLoggedIn  = errors.New("demosdk: not logged in")
	ErrInvalidToken = errors.New("demosdk: invalid token")
	ErrNotFound     = errors.New("demosdk: not found")
	ErrInvalidArg   = errors.New("demosdk: invalid argument")
)

// UserInfo is the profile of the logged-in account.
type UserInfo struct {
	Account   string    `json:"account"`
	Nick      string    `json:"nick"`
	Avatar    string    `json:"avatar,omitempty"`
	Signature string    `json:"signature,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UserInfoUpdate carries the profile fields to change. Empty fields are kept.
type UserInfoUpdate struct {
	Nick      string `json:"nick"`
	Avatar    string `json:"avatar"`
	Signature string `json:"signature"`
}

// LoginResult is returned by Login.
type LoginResult struct {
	Account string    `json:"account"`
	At      time.Time `json:"at"`
}

// Message is a chat message. Messages are built locally by Create* methods
// and become "sent" once passed to SendMessage.
type Message struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Text           string         `json:"text,omitempty"`
	Attachment     map[string]any `json:"attachment,omitempty"`
	From           string         `json:"from,omitempty"`
	ConversationID string         `json:"conversationId,omitempty"`
	Status         string         `json:"status"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// Team is a named group of accounts.
type Team struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Owner   string   `json:"owner"`
	Members []string `json:"members"`
}

// UploadResult is returned by UploadFile.
type UploadResult struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256"`
}

// Blob is an operator-supplied file.
type Blob interface {
	Name() string
	ContentType() string
	Reader() io.Reader
}

// Client is the SDK entry point. It is safe for concurrent use.
type Client struct {
	mu             sync.Mutex
	now            func() time.Time
	seq            int
	account        string
	profile        UserInfo
	history        map[string][]*Message
	sent           map[string]*Message
	teams          map[string]*Team
	reconnectDelay func(delay float64) float64
	parsers        []func(kind, raw string) map[string]any
	rooms          map[string]*Chatroom
	latency        time.Duration
}

// New returns a logged-out client.
func New() *Client {
	return &Client{
		now:     time.Now,
		history: make(map[string][]*Message),
		sent:    make(map[string]*Message),
		teams:   make(map[string]*Team),
		rooms:   make(map[string]*Chatroom),
	}
}

// WithLatency makes every network-shaped call wait d before completing, or
// until its context is done.
func (c *Client) WithLatency(d time.Duration) *Client {
	c.latency = d
	return c
}

func (c *Client) wait(ctx context.Context) error {
	if c.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) nextID(prefix string) string {
	c.seq++
	return fmt.Sprintf("%s-%d", prefix, c.seq)
}

func (c *Client) requireLogin() error {
	if c.account == "" {
		return ErrNotLoggedIn
	}
	return nil
}

// Login authenticates account. Any non-empty token is accepted.
func (c *Client) Login(ctx context.Context, account, token string) (*LoginResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if account == "" {
		return nil, fmt.Errorf("%w: account is required", ErrInvalidArg)
	}
	if token == "" {
		return nil, ErrInvalidToken
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account = account
	c.profile = UserInfo{Account: account, Nick: account, UpdatedAt: c.now()}
	return &LoginResult{Account: account, At: c.now()}, nil
}

// Logout ends the session.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireLogin(); err != nil {
		return err
	}
	c.account = ""
	return nil
}

// GetMyInfo returns the profile of the logged-in account.
func (c *Client) GetMyInfo(ctx context.Context) (*UserInfo, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireLogin(); err != nil {
		return nil, err
	}
	p := c.profile
	return &p, nil
}

// UpdateMyInfo changes the non-empty fields of update.
func (c *Client) UpdateMyInfo(ctx context.Context, update UserInfoUpdate) (*UserInfo, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireLogin(); err != nil {
		return nil, err
	}
	if update.Nick != "" {
		c.profile.Nick = update.Nick
	}
	if update.Avatar != "" {
		c.profile.Avatar = update.Avatar
	}
	if update.Signature != "" {
		c.profile.Signature = update.Signature
	}
	c.profile.UpdatedAt = c.now()
	p := c.profile
	return &p, nil
}

// CreateTextMessage builds a text message. It does not send it.
func (c *Client) CreateTextMessage(text string) (*Message, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", ErrInvalidArg)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Message{ID: c.nextID("msg"), Type: "text", Text: text, Status: "created", CreatedAt: c.now()}, nil
}

// CreateCustomMessage builds a message carrying a structured attachment.
func (c *Client) CreateCustomMessage(attachment map[string]any) (*Message, error) {
	if len(attachment) == 0 {
		return nil, fmt.Errorf("%w: attachment is required", ErrInvalidArg)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Message{ID: c.nextID("msg"), Type: "custom", Attachment: attachment, Status: "created", CreatedAt: c.now()}, nil
}

// SendMessage sends msg to a conversation and returns the sent copy.
func (c *Client) SendMessage(ctx context.Context, msg *Message, conversationID string) (*Message, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if msg == nil || msg.ID == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidArg)
	}
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversationId is required", ErrInvalidArg)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireLogin(); err != nil {
		return nil, err
	}
	out := *msg
	out.From = c.account
	out.ConversationID = conversationID
	out.Status = "sent"
	c.history[conversationID] = append(c.history[conversationID], &out)
	c.sent[out.ID] = &out
	return &out, nil
}

// GetHistoryMessages returns the latest limit messages of a conversation,
// newest first. A limit of zero or less returns every message.
func (c *Client) GetHistoryMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireLogin(); err != nil {
		return nil, err
	}
	msgs := slices.Clone(c.history[conversationID])
	slices.Reverse(msgs)
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

// RecallMessage withdraws a sent message.
func (c *Client) RecallMessage(ctx context.Context, msg *Message) (*Message, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidArg)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sent, ok := c.sent[msg.ID]
	if !ok {
		return nil, fmt.Errorf("%w: message %s was never sent", ErrNotFound, msg.ID)
	}
	sent.Status = "recalled"
	out := *sent
	return &out, nil
}

// CreateTeam creates a team owned by the logged-in account. The team id is
// derived from its name while that id is free.
func (c *Client) CreateTeam(ctx context.Context, name string, members []string) (*Team, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: team name is required", ErrInvalidArg)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireLogin(); err != nil {
		return nil, err
	}
	id := "team-" + strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
	if _, taken := c.teams[id]; taken {
		id = c.nextID("team")
	}
	t := &Team{ID: id, Name: name, Owner: c.account}
	t.Members = appendUnique([]string{c.account}, members...)
	c.teams[t.ID] = t
	return cloneTeam(t), nil
}

// GetTeamInfo returns a team by id.
func (c *Client) GetTeamInfo(ctx context.Context, teamID string) (*Team, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.teams[teamID]
	if !ok {
		return nil, fmt.Errorf("%w: team %q", ErrNotFound, teamID)
	}
	return cloneTeam(t), nil
}

// AddTeamMembers adds accounts to a team.
func (c *Client) AddTeamMembers(ctx context.Context, teamID string, accounts []string) (*Team, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.teams[teamID]
	if !ok {
		return nil, fmt.Errorf("%w: team %q", ErrNotFound, teamID)
	}
	t.Members = appendUnique(t.Members, accounts...)
	return cloneTeam(t), nil
}

func appendUnique(list []string, more ...string) []string {
	for _, m := range more {
		if m != "" && !slices.Contains(list, m) {
			list = append(list, m)
		}
	}
	return list
}

func cloneTeam(t *Team) *Team {
	out := *t
	out.Members = slices.Clone(t.Members)
	return &out
}

// SetReconnectDelayProvider registers fn to compute the delay, in
// milliseconds, before a reconnect attempt. A nil fn restores the default.
func (c *Client) SetReconnectDelayProvider(fn func(delay float64) float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectDelay = fn
}

// SimulateDisconnect drops the connection and returns the delay the client
// would wait before reconnecting.
func (c *Client) SimulateDisconnect(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	fn := c.reconnectDelay
	c.mu.Unlock()
	const base = 1000
	if fn == nil {
		return base, nil
	}
	d := fn(base)
	if d < 0 {
		return 0, fmt.Errorf("%w: negative reconnect delay %v", ErrInvalidArg, d)
	}
	return d, nil
}

// RegisterCustomAttachmentParser adds a parser for custom attachments.
// Parsers run newest first; the first non-nil result wins.
func (c *Client) RegisterCustomAttachmentParser(fn func(kind, raw string) map[string]any) error {
	if fn == nil {
		return fmt.Errorf("%w: parser is required", ErrInvalidArg)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parsers = append(c.parsers, fn)
	return nil
}

// ParseAttachment runs the registered parsers over raw.
func (c *Client) ParseAttachment(kind, raw string) (map[string]any, error) {
	c.mu.Lock()
	parsers := slices.Clone(c.parsers)
	c.mu.Unlock()
	for i := len(parsers) - 1; i >= 0; i-- {
		if out := parsers[i](kind, raw); out != nil {
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: no parser accepts %q attachments", ErrNotFound, kind)
}

// UploadFile stores blob and reports progress as a percentage.
func (c *Client) UploadFile(ctx context.Context, blob Blob, onProgress func(percent float64)) (*UploadResult, error) {
	if blob == nil {
		return nil, fmt.Errorf("%w: file is required", ErrInvalidArg)
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	h := sha256.New()
	n, err := io.Copy(h, blob.Reader())
	if err != nil {
		return nil, fmt.Errorf("demosdk: read upload: %w", err)
	}
	if onProgress != nil {
		onProgress(50)
		onProgress(100)
	}
	sum := hex.EncodeToString(h.Sum(nil))
	return &UploadResult{
		URL:         "demo://files/" + sum[:16] + "/" + blob.Name(),
		Name:        blob.Name(),
		ContentType: blob.ContentType(),
		Size:        n,
		SHA256:      sum,
	}, nil
}

// EnterChatroom joins a chatroom and returns its handle.
func (c *Client) EnterChatroom(ctx context.Context, roomID string) (*Chatroom, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if roomID == "" {
		return nil, fmt.Errorf("%w: roomId is required", ErrInvalidArg)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireLogin(); err != nil {
		return nil, err
	}
	room, ok := c.rooms[roomID]
	if !ok {
		room = &Chatroom{id: roomID, client: c}
		c.rooms[roomID] = room
	}
	room.join(c.account)
	return room, nil
}
