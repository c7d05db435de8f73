package demosdk

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

// Chatroom is a joined chatroom. It is a separate instance from the Client:
// chatroom operations are called on it, not on the client.
type Chatroom struct {
	id     string
	client *Client

	mu       sync.Mutex
	members  []string
	messages []*Message
	exited   bool
}

func (r *Chatroom) join(account string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exited = false
	r.members = appendUnique(r.members, account)
}

// ID returns the room id.
func (r *Chatroom) ID() string { return r.id }

// MarshalJSON renders the room as the playground shows it.
func (r *Chatroom) MarshalJSON() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.Marshal(struct {
		ID      string   `json:"id"`
		Members []string `json:"members"`
		Exited  bool     `json:"exited,omitempty"`
	}{r.id, slices.Clone(r.members), r.exited})
}

// SendText posts a text message to the room.
func (r *Chatroom) SendText(ctx context.Context, text string) (*Message, error) {
	if err := r.client.wait(ctx); err != nil {
		return nil, err
	}
	msg, err := r.client.CreateTextMessage(text)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exited {
		return nil, fmt.Errorf("%w: chatroom %s was exited", ErrNotFound, r.id)
	}
	msg.ConversationID = "chatroom:" + r.id
	msg.Status = "sent"
	if len(r.members) > 0 {
		msg.From = r.members[0]
	}
	r.messages = append(r.messages, msg)
	return msg, nil
}

// GetMembers lists the accounts in the room.
func (r *Chatroom) GetMembers(ctx context.Context) ([]string, error) {
	if err := r.client.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.members), nil
}

// Exit leaves the room. Later calls on the handle fail.
func (r *Chatroom) Exit(ctx context.Context) error {
	if err := r.client.wait(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exited = true
	r.members = nil
	return nil
}
