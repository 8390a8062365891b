package session

import (
	"time"

	"github.com/cloudwego/eino/schema"
)

// State is everything the service remembers about one conversation.
type State struct {
	ID        string            `json:"conversationId"`
	History   []*schema.Message `json:"history"`
	Cart      *Cart             `json:"cart,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Cart holds at most one line per product.
type Cart struct {
	ConversationID string     `json:"conversationId"`
	Items          []CartItem `json:"items"`
}

type CartItem struct {
	ProductID   int     `json:"productId"`
	ProductName string  `json:"productName"`
	Price       float64 `json:"price"`
	Quantity    int     `json:"quantity"`
}

func (c *Cart) Total() float64 {
	if c == nil {
		return 0
	}
	total := 0.0
	for _, it := range c.Items {
		total += it.Price * float64(it.Quantity)
	}
	return total
}

func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := &Cart{ConversationID: c.ConversationID, Items: make([]CartItem, len(c.Items))}
	copy(out.Items, c.Items)
	return out
}

// Clone returns a deep copy that shares nothing mutable with s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	return &State{
		ID:        s.ID,
		History:   CloneMessages(s.History),
		Cart:      s.Cart.Clone(),
		CreatedAt: s.CreatedAt,
	}
}

func CloneMessages(in []*schema.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(in))
	for _, m := range in {
		if m == nil {
			continue
		}
		c := *m
		if len(m.ToolCalls) > 0 {
			c.ToolCalls = make([]schema.ToolCall, len(m.ToolCalls))
			copy(c.ToolCalls, m.ToolCalls)
		}
		out = append(out, &c)
	}
	return out
}
