package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/commercegroup/stocksync/stock"
)

// MergeMode selects what happens to the emptied source cart.
type MergeMode int

const (
	// MergeLogin consolidates carts when an anonymous session logs in; the
	// emptied source cart is deleted.
	MergeLogin MergeMode = iota
	// MergeAssign reacts to an explicit order assignment; the emptied
	// source cart is kept, since the user may still be viewing it.
	MergeAssign
)

// CartReconciler collapses the carts that transiently coexist for one
// identity (anonymous session cart plus user carts) into a single cart per
// bundle.
type CartReconciler struct {
	orders   Repository
	products stock.Repository
}

func NewCartReconciler(orders Repository, products stock.Repository) *CartReconciler {
	return &CartReconciler{orders: orders, products: products}
}

// Reconcile attributes the given cart to the user and merges it with any
// pre-existing cart of the same bundle.
func (r *CartReconciler) Reconcile(ctx context.Context, cartID, userID string, mode MergeMode) error {
	incoming, err := r.orders.GetOrder(ctx, cartID)
	if errors.Is(err, ErrNotFound) {
		slog.WarnContext(ctx, "Cart to reconcile not found", "cart_id", cartID)
		return nil
	} else if err != nil {
		return err
	}
	if incoming.State != StateDraft {
		return fmt.Errorf("order %s is not a cart (state %s)", incoming.ID, incoming.State)
	}

	existing, err := r.orders.CartsByUser(ctx, userID, incoming.Bundle)
	if err != nil {
		return err
	}

	incoming.UserID = userID
	if err := r.orders.SaveOrder(ctx, incoming); err != nil {
		return err
	}

	current := incoming
	for i := range existing {
		other := &existing[i]
		if other.ID == current.ID {
			continue
		}

		target, source, err := r.pickTarget(ctx, other, current)
		if err != nil {
			return err
		}

		if err := r.mergeInto(ctx, target, source); err != nil {
			return err
		}

		if err := r.orders.SaveOrder(ctx, target); err != nil {
			return err
		}
		switch mode {
		case MergeLogin:
			if err := r.orders.DeleteOrder(ctx, source.ID); err != nil {
				return err
			}
		case MergeAssign:
			if err := r.orders.SaveOrder(ctx, source); err != nil {
				return err
			}
		}

		current = target
	}

	return nil
}

// pickTarget decides which of the two carts survives the merge. A cart bound
// to an in-progress checkout always wins; otherwise the pre-existing user
// cart absorbs the incoming one.
func (r *CartReconciler) pickTarget(ctx context.Context, existing, incoming *Order) (target, source *Order, err error) {
	inCheckout, err := r.orders.InCheckout(ctx, incoming.ID)
	if err != nil {
		return nil, nil, err
	}
	if inCheckout {
		return incoming, existing, nil
	}
	return existing, incoming, nil
}

// mergeInto moves every line item of source into target, combining with a
// matching target line when the product's configuration allows it.
func (r *CartReconciler) mergeInto(ctx context.Context, target, source *Order) error {
	items := source.Items
	source.Items = nil

	for i := range items {
		it := items[i]
		if err := r.addItem(ctx, target, &it); err != nil {
			return err
		}
	}
	return nil
}

func (r *CartReconciler) addItem(ctx context.Context, target *Order, it *OrderItem) error {
	if r.combinable(ctx, it) {
		for i := range target.Items {
			existing := &target.Items[i]
			if !sameLine(existing, it) {
				continue
			}
			existing.Quantity += it.Quantity
			if err := r.orders.SaveItem(ctx, existing); err != nil {
				return err
			}
			return r.orders.DeleteItem(ctx, it.ID)
		}
	}

	it.OrderID = target.ID
	if err := r.orders.SaveItem(ctx, it); err != nil {
		return err
	}
	target.Items = append(target.Items, *it)
	return nil
}

func (r *CartReconciler) combinable(ctx context.Context, it *OrderItem) bool {
	if it.ProductID == nil {
		return false
	}
	p, err := r.products.Get(ctx, *it.ProductID)
	if err != nil {
		return false
	}
	return p.CombineItems
}

// sameLine reports whether two line items reference the same purchasable
// entity with identical type and exposed field values.
func sameLine(a, b *OrderItem) bool {
	if a.ProductID == nil || b.ProductID == nil {
		return false
	}
	return *a.ProductID == *b.ProductID && a.Type == b.Type && a.Fields == b.Fields
}
