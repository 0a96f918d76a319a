package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/commercegroup/stocksync/common"
	"github.com/commercegroup/stocksync/common/messages"
	"github.com/commercegroup/stocksync/notify"
	"github.com/commercegroup/stocksync/order"
	"github.com/commercegroup/stocksync/stock"
	"github.com/commercegroup/stocksync/warehouse"
)

type fakeProducts struct {
	m map[string]*stock.ProductVariation
}

func (f *fakeProducts) Get(_ context.Context, id string) (*stock.ProductVariation, error) {
	p, ok := f.m[id]
	if !ok {
		return nil, stock.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProducts) GetByWarehouseItem(_ context.Context, warehouseItemID string) (*stock.ProductVariation, error) {
	for _, p := range f.m {
		if p.WarehouseItemID == warehouseItemID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, stock.ErrNotFound
}

func (f *fakeProducts) SaveStock(_ context.Context, p *stock.ProductVariation) error {
	cur, ok := f.m[p.ID]
	if !ok {
		return stock.ErrNotFound
	}
	cur.Stock = p.Stock
	return nil
}

func (f *fakeProducts) ListRefreshCandidates(context.Context, int) ([]stock.ProductVariation, error) {
	return nil, nil
}

type fakeOrders struct {
	m map[string]*order.Order
}

func (f *fakeOrders) GetOrder(_ context.Context, id string) (*order.Order, error) {
	o, ok := f.m[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrders) SaveOrder(context.Context, *order.Order) error     { return nil }
func (f *fakeOrders) DeleteOrder(context.Context, string) error         { return nil }
func (f *fakeOrders) GetItem(context.Context, string) (*order.OrderItem, error) {
	return nil, order.ErrNotFound
}
func (f *fakeOrders) SaveItem(context.Context, *order.OrderItem) error { return nil }
func (f *fakeOrders) DeleteItem(context.Context, string) error         { return nil }
func (f *fakeOrders) CartsByUser(context.Context, string, string) ([]order.Order, error) {
	return nil, nil
}
func (f *fakeOrders) InCheckout(context.Context, string) (bool, error) { return false, nil }

type fakeMailer struct {
	mu   sync.Mutex
	sent []string // "to: subject"
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to, subject, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to+": "+subject)
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakeInterests struct {
	emails    map[string]string
	interests map[string][]string // productID -> userIDs
	removed   [][2]string
}

func (f *fakeInterests) ListInterested(_ context.Context, productID string) ([]string, error) {
	return f.interests[productID], nil
}

func (f *fakeInterests) Remove(_ context.Context, userID, productID string) error {
	f.removed = append(f.removed, [2]string{userID, productID})
	return nil
}

func (f *fakeInterests) UserEmail(_ context.Context, userID string) (string, error) {
	email, ok := f.emails[userID]
	if !ok {
		return "", notify.ErrUserNotFound
	}
	return email, nil
}

func payload(t *testing.T, v any) []byte {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return body
}

func TestSendOrderMissingOrderAcks(t *testing.T) {
	h := NewSendOrderHandler(
		&fakeOrders{m: map[string]*order.Order{}},
		&fakeProducts{m: map[string]*stock.ProductVariation{}},
		warehouse.NewOrderAPI(warehouse.OrderAPIConfig{}),
		&fakeMailer{},
		"ops@example.com",
	)

	res := h.Handle(context.Background(), payload(t, messages.SendOrderJob{OrderID: "ghost"}), 1)
	require.Equal(t, outcomeAck, res.outcome)
}

func TestSendOrderNotConfiguredSuspends(t *testing.T) {
	orders := &fakeOrders{m: map[string]*order.Order{
		"o1": {ID: "o1", Number: "1001", State: order.StateCompleted},
	}}
	h := NewSendOrderHandler(
		orders,
		&fakeProducts{m: map[string]*stock.ProductVariation{}},
		warehouse.NewOrderAPI(warehouse.OrderAPIConfig{BaseURL: "http://localhost:1"}),
		&fakeMailer{},
		"ops@example.com",
	)

	res := h.Handle(context.Background(), payload(t, messages.SendOrderJob{OrderID: "o1"}), 1)
	require.Equal(t, outcomeSuspend, res.outcome)
	require.Contains(t, res.Reason, "not configured")
}

func TestSendOrderRejectionRetriesAndMailsOperator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	orders := &fakeOrders{m: map[string]*order.Order{
		"o1": {ID: "o1", Number: "1001", State: order.StateCompleted},
	}}
	mailer := &fakeMailer{}
	h := NewSendOrderHandler(
		orders,
		&fakeProducts{m: map[string]*stock.ProductVariation{}},
		warehouse.NewOrderAPI(warehouse.OrderAPIConfig{BaseURL: srv.URL, Agency: "main", ClientKey: "key"}),
		mailer,
		"ops@example.com",
	)

	res := h.Handle(context.Background(), payload(t, messages.SendOrderJob{OrderID: "o1"}), 1)
	require.Equal(t, outcomeRetry, res.outcome)
	require.Equal(t, 1, mailer.count())
}

func TestSendOrderUnreachableRetriesWithoutMail(t *testing.T) {
	orders := &fakeOrders{m: map[string]*order.Order{
		"o1": {ID: "o1", Number: "1001", State: order.StateCompleted},
	}}
	mailer := &fakeMailer{}
	h := NewSendOrderHandler(
		orders,
		&fakeProducts{m: map[string]*stock.ProductVariation{}},
		warehouse.NewOrderAPI(warehouse.OrderAPIConfig{BaseURL: "http://127.0.0.1:1", Agency: "main", ClientKey: "key", Timeout: time.Second}),
		mailer,
		"ops@example.com",
	)

	res := h.Handle(context.Background(), payload(t, messages.SendOrderJob{OrderID: "o1"}), 1)
	require.Equal(t, outcomeRetry, res.outcome)
	require.Zero(t, mailer.count())
}

func TestSendOrderSubmitsWarehouseItemIds(t *testing.T) {
	var got warehouse.OrderPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	pid := "p1"
	orders := &fakeOrders{m: map[string]*order.Order{
		"o1": {ID: "o1", Number: "1001", State: order.StateCompleted, Items: []order.OrderItem{
			{ID: "i1", OrderID: "o1", ProductID: &pid, SKU: "SKU-1", Quantity: 2},
		}},
	}}
	products := &fakeProducts{m: map[string]*stock.ProductVariation{
		"p1": {ID: "p1", SKU: "SKU-1", WarehouseItemID: "w-77"},
	}}
	h := NewSendOrderHandler(
		orders, products,
		warehouse.NewOrderAPI(warehouse.OrderAPIConfig{BaseURL: srv.URL, Agency: "main", ClientKey: "key"}),
		&fakeMailer{},
		"",
	)

	res := h.Handle(context.Background(), payload(t, messages.SendOrderJob{OrderID: "o1"}), 1)
	require.Equal(t, outcomeAck, res.outcome)
	require.Equal(t, "1001", got.OrderNumber)
	require.Len(t, got.Items, 1)
	require.Equal(t, "w-77", got.Items[0].WarehouseItemID)
}

func TestUpdateStockUnknownItemAcks(t *testing.T) {
	h := NewUpdateStockHandler(&fakeProducts{m: map[string]*stock.ProductVariation{}}, nil)

	res := h.Handle(context.Background(), payload(t, messages.UpdateStockJob{WarehouseItemID: "ghost", NewStock: 3}), 1)
	require.Equal(t, outcomeAck, res.outcome)
}

func TestUpdateStockReplayEmitsOneReplenishment(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	nc := common.NewInProcessNATSServer(t)
	t.Cleanup(nc.Close)
	js, err := jetstream.New(nc)
	require.NoError(t, err)
	_, err = js.CreateStream(ctx, common.ProductEventsStreamConfig)
	require.NoError(t, err)

	products := &fakeProducts{m: map[string]*stock.ProductVariation{
		"p1": {ID: "p1", SKU: "SKU-1", WarehouseItemID: "w1", Stock: 0},
	}}
	syncer := warehouse.NewSyncer(products, nil, js, nil, 5)
	h := NewUpdateStockHandler(products, syncer)

	job := payload(t, messages.UpdateStockJob{WarehouseItemID: "w1", NewStock: 12})
	require.Equal(t, outcomeAck, h.Handle(ctx, job, 1).outcome)
	require.Equal(t, outcomeAck, h.Handle(ctx, job, 2).outcome)

	require.Equal(t, 12, products.m["p1"].Stock)

	cons, err := js.CreateOrUpdateConsumer(ctx, common.ProductEventsStreamConfig.Name, jetstream.ConsumerConfig{
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: "products.replenished.>",
	})
	require.NoError(t, err)

	batch, err := cons.Fetch(10, jetstream.FetchMaxWait(500*time.Millisecond))
	require.NoError(t, err)
	replenished := 0
	for range batch.Messages() {
		replenished++
	}
	require.Equal(t, 1, replenished)
}

func TestRestockNotifySendsAndRemovesInterest(t *testing.T) {
	products := &fakeProducts{m: map[string]*stock.ProductVariation{
		"p1": {ID: "p1", SKU: "SKU-1", Stock: 12},
	}}
	interests := &fakeInterests{
		emails:    map[string]string{"u1": "u1@example.com"},
		interests: map[string][]string{"p1": {"u1"}},
	}
	mailer := &fakeMailer{}
	h := NewRestockNotifyHandler(products, interests, mailer)

	res := h.Handle(context.Background(), payload(t, messages.RestockNotifyJob{UserID: "u1", ProductID: "p1"}), 1)
	require.Equal(t, outcomeAck, res.outcome)
	require.Equal(t, 1, mailer.count())
	require.Equal(t, [][2]string{{"u1", "p1"}}, interests.removed)
}

func TestRestockNotifyMissingUserAcks(t *testing.T) {
	mailer := &fakeMailer{}
	h := NewRestockNotifyHandler(
		&fakeProducts{m: map[string]*stock.ProductVariation{}},
		&fakeInterests{emails: map[string]string{}},
		mailer,
	)

	res := h.Handle(context.Background(), payload(t, messages.RestockNotifyJob{UserID: "ghost", ProductID: "p1"}), 1)
	require.Equal(t, outcomeAck, res.outcome)
	require.Zero(t, mailer.count())
}

func TestRestockNotifyMailFailureRetries(t *testing.T) {
	products := &fakeProducts{m: map[string]*stock.ProductVariation{
		"p1": {ID: "p1", SKU: "SKU-1"},
	}}
	interests := &fakeInterests{
		emails: map[string]string{"u1": "u1@example.com"},
	}
	h := NewRestockNotifyHandler(products, interests, &fakeMailer{err: context.DeadlineExceeded})

	res := h.Handle(context.Background(), payload(t, messages.RestockNotifyJob{UserID: "u1", ProductID: "p1"}), 1)
	require.Equal(t, outcomeRetry, res.outcome)
	require.Empty(t, interests.removed)
}
