package cart

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/clerk/internal/catalog"
	"github.com/ent0n29/clerk/internal/session"
)

// ProductFinder resolves a product by a fragment of its name.
type ProductFinder interface {
	FindByName(fragment string) (catalog.Product, bool)
}

// Manager mutates conversation carts. Every change runs inside the session
// store's per-conversation critical section.
type Manager struct {
	store    *session.Store
	products ProductFinder
}

func NewManager(store *session.Store, products ProductFinder) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if products == nil {
		return nil, errors.New("product finder is required")
	}
	return &Manager{store: store, products: products}, nil
}

// AddByName adds one unit of the first catalog product whose name contains
// fragment. The reply is meant to be read by the model.
func (m *Manager) AddByName(conversationID, fragment string) string {
	conversationID = strings.TrimSpace(conversationID)
	fragment = strings.TrimSpace(fragment)
	if conversationID == "" {
		return "I need the conversation id to update the cart."
	}
	if fragment == "" {
		return "Please tell me which product you would like to add to the cart."
	}

	product, ok := m.products.FindByName(fragment)
	if !ok {
		return fmt.Sprintf("I could not find a product matching %q.", fragment)
	}

	quantity := 0
	_, err := m.store.Update(conversationID, true, func(st *session.State) error {
		if st.Cart == nil {
			st.Cart = &session.Cart{ConversationID: st.ID, Items: []session.CartItem{}}
		}
		for i := range st.Cart.Items {
			if st.Cart.Items[i].ProductID == product.ID {
				st.Cart.Items[i].Quantity++
				quantity = st.Cart.Items[i].Quantity
				return nil
			}
		}
		st.Cart.Items = append(st.Cart.Items, session.CartItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Price:       product.Price,
			Quantity:    1,
		})
		quantity = 1
		return nil
	})
	if err != nil {
		return "The cart could not be updated right now."
	}
	if quantity == 1 {
		return fmt.Sprintf("Added %s to the cart.", product.Name)
	}
	return fmt.Sprintf("Added another %s to the cart. Quantity is now %d.", product.Name, quantity)
}

// RemoveByName drops the whole cart line of the first item whose name
// contains fragment. Only items already in the cart are considered.
func (m *Manager) RemoveByName(conversationID, fragment string) string {
	conversationID = strings.TrimSpace(conversationID)
	fragment = strings.TrimSpace(fragment)
	if conversationID == "" {
		return "I need the conversation id to update the cart."
	}
	if fragment == "" {
		return "Please tell me which product you would like to remove from the cart."
	}

	needle := strings.ToLower(fragment)
	var removed session.CartItem
	found := false
	empty := false
	_, err := m.store.Update(conversationID, false, func(st *session.State) error {
		if st.Cart == nil || len(st.Cart.Items) == 0 {
			empty = true
			return nil
		}
		for i, it := range st.Cart.Items {
			if strings.Contains(strings.ToLower(it.ProductName), needle) {
				removed = it
				found = true
				st.Cart.Items = append(st.Cart.Items[:i], st.Cart.Items[i+1:]...)
				return nil
			}
		}
		return nil
	})
	switch {
	case errors.Is(err, session.ErrNotFound), empty:
		return "The cart is empty, there is nothing to remove."
	case err != nil:
		return "The cart could not be updated right now."
	case !found:
		return fmt.Sprintf("There is no item matching %q in the cart.", fragment)
	}
	return fmt.Sprintf("Removed %s (quantity %d) from the cart.", removed.ProductName, removed.Quantity)
}

// GetCart returns a copy of the conversation's cart.
func (m *Manager) GetCart(conversationID string) (*session.Cart, bool) {
	st, ok := m.store.Get(strings.TrimSpace(conversationID))
	if !ok || st.Cart == nil {
		return nil, false
	}
	return st.Cart, true
}

// ClearCart removes the cart entirely. The next add creates a new one.
func (m *Manager) ClearCart(conversationID string) string {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return "I need the conversation id to update the cart."
	}
	_, err := m.store.Update(conversationID, false, func(st *session.State) error {
		st.Cart = nil
		return nil
	})
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return "The cart could not be updated right now."
	}
	return "The cart has been cleared."
}
