package order

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/bytekart/internal/domain/account"
	"github.com/xenking/bytekart/internal/domain/cart"
	"github.com/xenking/bytekart/internal/domain/discount"
	"github.com/xenking/bytekart/internal/domain/payment"
)

// memState is a snapshot of everything the order service touches.
type memState struct {
	orders   map[uuid.UUID]Order
	returns  map[uuid.UUID]ReturnRequest
	codes    map[string]discount.Code
	carts    map[uuid.UUID][]cart.Item
	details  map[uuid.UUID]account.CheckoutDetails
	accounts map[uuid.UUID]account.Account
}

func (s memState) clone() memState {
	return memState{
		orders:   maps.Clone(s.orders),
		returns:  maps.Clone(s.returns),
		codes:    maps.Clone(s.codes),
		carts:    maps.Clone(s.carts),
		details:  maps.Clone(s.details),
		accounts: maps.Clone(s.accounts),
	}
}

// memStore is an in-memory Store. Transactions are serialized by a single
// mutex and applied only when fn succeeds, which gives the same isolation the
// service relies on from row locks.
type memStore struct {
	mu sync.Mutex
	st memState

	// beforeTx runs with the lock held, before each transaction body.
	beforeTx   func(st *memState)
	commitErr  error
	createErr  error
	txCount    int
	listErr    error
	accountErr error
}

func newMemStore() *memStore {
	return &memStore{st: memState{
		orders:   map[uuid.UUID]Order{},
		returns:  map[uuid.UUID]ReturnRequest{},
		codes:    map[string]discount.Code{},
		carts:    map[uuid.UUID][]cart.Item{},
		details:  map[uuid.UUID]account.CheckoutDetails{},
		accounts: map[uuid.UUID]account.Account{},
	}}
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txCount++
	if s.beforeTx != nil {
		s.beforeTx(&s.st)
	}
	work := s.st.clone()
	if err := fn(ctx, &memTx{st: &work, store: s}); err != nil {
		return err
	}
	if s.commitErr != nil {
		return s.commitErr
	}
	s.st = work
	return nil
}

func (s *memStore) Get(_ context.Context, id uuid.UUID) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func newestFirst(orders []Order) []Order {
	slices.SortFunc(orders, func(a, b Order) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return orders
}

func (s *memStore) ListByAccount(_ context.Context, accountID uuid.UUID) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []Order
	for _, o := range s.st.orders {
		if o.AccountID == accountID {
			out = append(out, o)
		}
	}
	return newestFirst(out), nil
}

func (s *memStore) List(_ context.Context) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return newestFirst(slices.Collect(maps.Values(s.st.orders))), nil
}

func (s *memStore) ListReturns(_ context.Context) ([]ReturnView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ReturnView
	for _, r := range s.st.returns {
		o := s.st.orders[r.OrderID]
		a := s.st.accounts[r.AccountID]
		out = append(out, ReturnView{
			ReturnRequest: r,
			CustomerName:  a.Name,
			CustomerEmail: a.Email,
			OrderTotal:    o.Total,
			OrderItems:    o.Items,
		})
	}
	return out, nil
}

func (s *memStore) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Order
	for _, o := range s.st.orders {
		if o.Status == StatusPending && o.CreatedAt.Before(cutoff) {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b Order) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// cart.Repository

func (s *memStore) Replace(_ context.Context, accountID uuid.UUID, items []cart.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.carts[accountID] = items
	return nil
}

func (s *memStore) cartItems(accountID uuid.UUID) []cart.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.carts[accountID]
}

type memCarts struct{ s *memStore }

func (c memCarts) Get(_ context.Context, accountID uuid.UUID) (*cart.Cart, error) {
	return &cart.Cart{AccountID: accountID, Items: c.s.cartItems(accountID)}, nil
}

func (c memCarts) Replace(ctx context.Context, accountID uuid.UUID, items []cart.Item) error {
	return c.s.Replace(ctx, accountID, items)
}

// account.Repository

type memAccounts struct{ s *memStore }

func (a memAccounts) Get(_ context.Context, id uuid.UUID) (*account.Account, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if a.s.accountErr != nil {
		return nil, a.s.accountErr
	}
	acct, ok := a.s.st.accounts[id]
	if !ok {
		return nil, account.ErrNotFound
	}
	return &acct, nil
}

func (a memAccounts) GetCheckoutDetails(_ context.Context, id uuid.UUID) (*account.CheckoutDetails, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	d, ok := a.s.st.details[id]
	if !ok {
		return nil, account.ErrNotFound
	}
	return &d, nil
}

// CodeLookup

func (s *memStore) Lookup(_ context.Context, code string) (*discount.Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	normalized := discount.Normalize(code)
	c, ok := s.st.codes[normalized]
	if !ok {
		return nil, &discount.InvalidCodeError{Code: normalized, Err: discount.ErrCodeNotFound}
	}
	if err := c.Check(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *memStore) code(code string) discount.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.codes[code]
}

func (s *memStore) order(id uuid.UUID) Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.orders[id]
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.orders)
}

func (s *memStore) put(fn func(st *memState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.st)
}

type memTx struct {
	st    *memState
	store *memStore
}

func (t *memTx) Reserve(_ context.Context, code string) (*discount.Redemption, error) {
	c, ok := t.st.codes[code]
	if !ok {
		return nil, &discount.InvalidCodeError{Code: code, Err: discount.ErrCodeNotFound}
	}
	if !c.Active {
		return nil, &discount.InvalidCodeError{Code: code, Err: discount.ErrCodeInactive}
	}
	if c.Redemptions >= c.MaxRedemptions {
		return nil, &discount.InvalidCodeError{Code: code, Err: discount.ErrCodeExhausted}
	}
	c.Redemptions++
	t.st.codes[code] = c
	return &discount.Redemption{
		CodeID:         c.ID,
		Code:           c.Code,
		Kind:           c.Kind,
		Value:          c.Value,
		Redemptions:    c.Redemptions,
		MaxRedemptions: c.MaxRedemptions,
	}, nil
}

func (t *memTx) Create(_ context.Context, o *Order) error {
	if t.store.createErr != nil {
		return t.store.createErr
	}
	for _, existing := range t.st.orders {
		if existing.GatewayOrderID == o.GatewayOrderID {
			return fmt.Errorf("duplicate gateway order %s", o.GatewayOrderID)
		}
	}
	t.st.orders[o.ID] = *o
	return nil
}

func (t *memTx) UpsertCheckoutDetails(_ context.Context, accountID uuid.UUID, d account.CheckoutDetails) error {
	cur := t.st.details[accountID]
	if d.Phone != "" {
		cur.Phone = d.Phone
	}
	if d.Address != "" {
		cur.Address = d.Address
	}
	if d.City != "" {
		cur.City = d.City
	}
	if d.Pincode != "" {
		cur.Pincode = d.Pincode
	}
	t.st.details[accountID] = cur
	return nil
}

func (t *memTx) GetForUpdate(_ context.Context, id uuid.UUID) (*Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (t *memTx) GetByGatewayOrderIDForUpdate(_ context.Context, gatewayOrderID string) (*Order, error) {
	for _, o := range t.st.orders {
		if o.GatewayOrderID == gatewayOrderID {
			return &o, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) UpdateStatus(_ context.Context, id uuid.UUID, status Status) error {
	o, ok := t.st.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	t.st.orders[id] = o
	return nil
}

func (t *memTx) MarkPaid(_ context.Context, id uuid.UUID, gatewayPaymentID string) error {
	o, ok := t.st.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = StatusPaid
	o.GatewayPaymentID = gatewayPaymentID
	t.st.orders[id] = o
	return nil
}

func (t *memTx) ClearCart(_ context.Context, accountID uuid.UUID) error {
	t.st.carts[accountID] = nil
	return nil
}

func (t *memTx) CreateReturn(_ context.Context, r *ReturnRequest) error {
	for _, existing := range t.st.returns {
		if existing.OrderID == r.OrderID {
			return ErrDuplicateRequest
		}
	}
	t.st.returns[r.ID] = *r
	return nil
}

func (t *memTx) FindReturnByOrder(_ context.Context, orderID uuid.UUID) (*ReturnRequest, error) {
	for _, r := range t.st.returns {
		if r.OrderID == orderID {
			return &r, nil
		}
	}
	return nil, ErrReturnNotFound
}

func (t *memTx) GetReturnForUpdate(_ context.Context, id uuid.UUID) (*ReturnRequest, error) {
	r, ok := t.st.returns[id]
	if !ok {
		return nil, ErrReturnNotFound
	}
	return &r, nil
}

func (t *memTx) DecideReturn(_ context.Context, id uuid.UUID, status ReturnStatus, decidedAt time.Time) error {
	r, ok := t.st.returns[id]
	if !ok {
		return ErrReturnNotFound
	}
	r.Status = status
	r.DecidedAt = &decidedAt
	t.st.returns[id] = r
	return nil
}

// fakeGateway signs with a shared secret like the real one and records calls.
type fakeGateway struct {
	mu        sync.Mutex
	secret    string
	createErr error
	verifyErr error
	lookupErr error
	intents   map[string]*payment.Intent
	seq       int
	requests  []payment.IntentRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{secret: "test-secret", intents: map[string]*payment.Intent{}}
}

func (g *fakeGateway) CreateIntent(_ context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.seq++
	intent := &payment.Intent{
		GatewayOrderID: fmt.Sprintf("order_test_%d", g.seq),
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		Status:         payment.IntentCreated,
	}
	g.intents[intent.GatewayOrderID] = intent
	return intent, nil
}

func (g *fakeGateway) VerifyCompletion(_ context.Context, c payment.Completion) (bool, error) {
	if g.verifyErr != nil {
		return false, g.verifyErr
	}
	return payment.VerifySignature(g.secret, c)
}

func (g *fakeGateway) LookupIntent(_ context.Context, id string) (*payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lookupErr != nil {
		return nil, g.lookupErr
	}
	intent, ok := g.intents[id]
	if !ok {
		return nil, errors.Wrap(payment.ErrIntentNotFound, id)
	}
	cp := *intent
	return &cp, nil
}

func (g *fakeGateway) PublicKey() string { return "key_test" }

func (g *fakeGateway) requestCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func (g *fakeGateway) setStatus(id string, status payment.IntentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents[id] = &payment.Intent{GatewayOrderID: id, Status: status}
}

func (g *fakeGateway) sign(orderID, paymentID string) string {
	sig, err := payment.Sign(g.secret, orderID, paymentID)
	if err != nil {
		panic(err)
	}
	return sig
}
