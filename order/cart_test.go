package order

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/commercegroup/stocksync/stock"
)

func TestReconcileCombinesMatchingLines(t *testing.T) {
	ctx := context.Background()
	products := newMemProducts(&stock.ProductVariation{ID: "p1", CombineItems: true})
	orders := newMemOrders()
	r := NewCartReconciler(orders, products)

	orders.put(Order{ID: "c1", UserID: "u1", Bundle: "default", State: StateDraft, Items: []OrderItem{
		{ID: "i1", OrderID: "c1", ProductID: strptr("p1"), Type: "product", Quantity: 1, Fields: "{}"},
	}})
	orders.put(Order{ID: "c2", Bundle: "default", State: StateDraft, Items: []OrderItem{
		{ID: "i2", OrderID: "c2", ProductID: strptr("p1"), Type: "product", Quantity: 2, Fields: "{}"},
	}})

	require.NoError(t, r.Reconcile(ctx, "c2", "u1", MergeLogin))

	target, err := orders.GetOrder(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, target.Items, 1)
	require.Equal(t, 3, target.Items[0].Quantity)

	_, err = orders.GetOrder(ctx, "c2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReconcileKeepsNonCombinableLinesSeparate(t *testing.T) {
	ctx := context.Background()
	products := newMemProducts(&stock.ProductVariation{ID: "p1", CombineItems: false})
	orders := newMemOrders()
	r := NewCartReconciler(orders, products)

	orders.put(Order{ID: "c1", UserID: "u1", Bundle: "default", State: StateDraft, Items: []OrderItem{
		{ID: "i1", OrderID: "c1", ProductID: strptr("p1"), Type: "product", Quantity: 1, Fields: "{}"},
	}})
	orders.put(Order{ID: "c2", Bundle: "default", State: StateDraft, Items: []OrderItem{
		{ID: "i2", OrderID: "c2", ProductID: strptr("p1"), Type: "product", Quantity: 2, Fields: "{}"},
	}})

	require.NoError(t, r.Reconcile(ctx, "c2", "u1", MergeLogin))

	target, err := orders.GetOrder(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, target.Items, 2)
}

func TestReconcileDifferentFieldsStaySeparate(t *testing.T) {
	ctx := context.Background()
	products := newMemProducts(&stock.ProductVariation{ID: "p1", CombineItems: true})
	orders := newMemOrders()
	r := NewCartReconciler(orders, products)

	orders.put(Order{ID: "c1", UserID: "u1", Bundle: "default", State: StateDraft, Items: []OrderItem{
		{ID: "i1", OrderID: "c1", ProductID: strptr("p1"), Type: "product", Quantity: 1, Fields: `{"engraving":"A"}`},
	}})
	orders.put(Order{ID: "c2", Bundle: "default", State: StateDraft, Items: []OrderItem{
		{ID: "i2", OrderID: "c2", ProductID: strptr("p1"), Type: "product", Quantity: 1, Fields: `{"engraving":"B"}`},
	}})

	require.NoError(t, r.Reconcile(ctx, "c2", "u1", MergeLogin))

	target, err := orders.GetOrder(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, target.Items, 2)
}

func TestReconcileAssignKeepsEmptiedSource(t *testing.T) {
	ctx := context.Background()
	products := newMemProducts(&stock.ProductVariation{ID: "p1", CombineItems: true})
	orders := newMemOrders()
	r := NewCartReconciler(orders, products)

	orders.put(Order{ID: "c1", UserID: "u1", Bundle: "default", State: StateDraft, Items: []OrderItem{
		{ID: "i1", OrderID: "c1", ProductID: strptr("p1"), Type: "product", Quantity: 1, Fields: "{}"},
	}})
	orders.put(Order{ID: "c2", Bundle: "default", State: StateDraft, Items: []OrderItem{
		{ID: "i2", OrderID: "c2", ProductID: strptr("p1"), Type: "product", Quantity: 2, Fields: "{}"},
	}})

	require.NoError(t, r.Reconcile(ctx, "c2", "u1", MergeAssign))

	target, err := orders.GetOrder(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, target.Items, 1)
	require.Equal(t, 3, target.Items[0].Quantity)

	source, err := orders.GetOrder(ctx, "c2")
	require.NoError(t, err)
	require.Empty(t, source.Items)
}

func TestReconcileCheckoutCartWins(t *testing.T) {
	ctx := context.Background()
	products := newMemProducts(&stock.ProductVariation{ID: "p1", CombineItems: true})
	orders := newMemOrders()
	r := NewCartReconciler(orders, products)

	orders.put(Order{ID: "c1", UserID: "u1", Bundle: "default", State: StateDraft, Items: []OrderItem{
		{ID: "i1", OrderID: "c1", ProductID: strptr("p1"), Type: "product", Quantity: 1, Fields: "{}"},
	}})
	orders.put(Order{ID: "c2", Bundle: "default", State: StateDraft, Items: []OrderItem{
		{ID: "i2", OrderID: "c2", ProductID: strptr("p1"), Type: "product", Quantity: 2, Fields: "{}"},
	}})
	orders.checkout["c2"] = true

	require.NoError(t, r.Reconcile(ctx, "c2", "u1", MergeLogin))

	target, err := orders.GetOrder(ctx, "c2")
	require.NoError(t, err)
	require.Len(t, target.Items, 1)
	require.Equal(t, 3, target.Items[0].Quantity)

	_, err = orders.GetOrder(ctx, "c1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReconcileSameCartIsNoop(t *testing.T) {
	ctx := context.Background()
	products := newMemProducts()
	orders := newMemOrders()
	r := NewCartReconciler(orders, products)

	orders.put(Order{ID: "c1", UserID: "u1", Bundle: "default", State: StateDraft, Items: []OrderItem{
		{ID: "i1", OrderID: "c1", ProductID: strptr("p1"), Type: "product", Quantity: 1, Fields: "{}"},
	}})

	require.NoError(t, r.Reconcile(ctx, "c1", "u1", MergeLogin))

	o, err := orders.GetOrder(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	require.Equal(t, "u1", o.UserID)
}

func TestReconcileRejectsNonCart(t *testing.T) {
	ctx := context.Background()
	orders := newMemOrders()
	r := NewCartReconciler(orders, newMemProducts())

	orders.put(Order{ID: "o1", State: StatePlaced})

	require.Error(t, r.Reconcile(ctx, "o1", "u1", MergeLogin))
}

func TestReconcileMissingCartIsNoop(t *testing.T) {
	ctx := context.Background()
	r := NewCartReconciler(newMemOrders(), newMemProducts())

	require.NoError(t, r.Reconcile(ctx, "ghost", "u1", MergeLogin))
}
