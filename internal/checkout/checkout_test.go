package checkout

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"infothon/internal/catalog"
	"infothon/internal/dto"
	"infothon/internal/identity"
	"infothon/internal/localcache"
	"infothon/internal/model"
	"infothon/internal/payment"
	"infothon/internal/repo"
)

type fakePayments struct {
	CreateOrderFunc func(ctx context.Context, amount int64, currency, receipt string) (*payment.Order, error)
	VerifyFunc      func(ctx context.Context, c payment.Confirmation, expectedAmount int64) error
}

func (f *fakePayments) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*payment.Order, error) {
	if f.CreateOrderFunc != nil {
		return f.CreateOrderFunc(ctx, amount, currency, receipt)
	}
	return &payment.Order{ID: "order_" + receipt, Amount: amount, Currency: currency, Receipt: receipt}, nil
}

func (f *fakePayments) Verify(ctx context.Context, c payment.Confirmation, expectedAmount int64) error {
	if f.VerifyFunc != nil {
		return f.VerifyFunc(ctx, c, expectedAmount)
	}
	return nil
}

func (f *fakePayments) KeyID() string { return "rzp_test" }

// fakeUsers is an in-memory identity provider keyed by access token.
type fakeUsers struct {
	mu    sync.Mutex
	users map[string]*identity.User
	fail  error
}

func newFakeUsers(token string, u identity.User) *fakeUsers {
	return &fakeUsers{users: map[string]*identity.User{token: &u}}
}

func (f *fakeUsers) GetUser(_ context.Context, token string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	u, ok := f.users[token]
	if !ok {
		return nil, identity.ErrUnauthenticated
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) UpdateUser(_ context.Context, token string, profile model.UserProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	u, ok := f.users[token]
	if !ok {
		return identity.ErrUnauthenticated
	}
	u.Metadata = profile
	return nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []dto.Message
}

func (p *recordingPublisher) Publish(body []byte, _ int) error {
	var m dto.Message
	if err := json.Unmarshal(body, &m); err != nil {
		return err
	}
	p.mu.Lock()
	p.msgs = append(p.msgs, m)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.msgs))
	for _, m := range p.msgs {
		out = append(out, m.Type)
	}
	return out
}

func (p *recordingPublisher) issued(t *testing.T) []dto.TicketsIssuedMessage {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []dto.TicketsIssuedMessage
	for _, m := range p.msgs {
		if m.Type != dto.MsgTicketsIssued {
			continue
		}
		var msg dto.TicketsIssuedMessage
		if err := json.Unmarshal(m.Payload, &msg); err != nil {
			t.Fatal(err)
		}
		out = append(out, msg)
	}
	return out
}

// flakyRepo fails inserts for the listed ticket ids until they are cleared.
type flakyRepo struct {
	repo.Repository
	mu   sync.Mutex
	fail map[string]bool
}

func (r *flakyRepo) InsertRegistration(ctx context.Context, reg *model.Registration) (bool, error) {
	r.mu.Lock()
	failing := r.fail[reg.TicketID]
	r.mu.Unlock()
	if failing {
		return false, errors.New("connection reset")
	}
	return r.Repository.InsertRegistration(ctx, reg)
}

func newStore(t *testing.T) repo.Repository {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "checkout.db"))
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	r, err := repo.NewRepository(db, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.MigrateUp("../../migrations/postgres"); err != nil {
		t.Fatal(err)
	}
	return r
}

type harness struct {
	orch  *Orchestrator
	store repo.Repository
	users *fakeUsers
	pay   *fakePayments
	pub   *recordingPublisher
	cache *localcache.Memory
	carts *CartStore
	user  *identity.User
}

const token = "tok-asha"

func newHarness(t *testing.T, store repo.Repository) *harness {
	t.Helper()
	if store == nil {
		store = newStore(t)
	}
	user := identity.User{
		ID:       "user-1",
		Email:    "asha@example.com",
		Metadata: model.UserProfile{FullName: "Asha Rao", PurchasedEvents: []string{"pass-day"}},
	}
	h := &harness{
		store: store,
		users: newFakeUsers(token, user),
		pay:   &fakePayments{},
		pub:   &recordingPublisher{},
		cache: localcache.NewMemory(),
		user:  &user,
	}
	h.carts = NewCartStore(h.cache)
	h.orch = NewOrchestrator(Deps{
		Catalog:   catalog.Default(),
		Repo:      store,
		Payments:  h.pay,
		Purchases: NewPurchases(h.users, h.cache, nil),
		Carts:     h.carts,
		Publisher: h.pub,
	}, Config{})
	return h
}

func confirmFor(handle *OrderHandle) payment.Confirmation {
	return payment.Confirmation{OrderID: handle.OrderID, PaymentID: "pay_1", Signature: "sig"}
}

func TestCheckoutIssuesOneTicketPerUnit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	cart := CartState{Lines: []CartLine{{EventID: "codesprint", Quantity: 2}, {EventID: "ai-workshop", Quantity: 1}}}
	if err := h.carts.Save(ctx, h.user.ID, cart); err != nil {
		t.Fatal(err)
	}

	handle, err := h.orch.Start(ctx, h.user, cart)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if handle.Amount != 2*199+349 || handle.Key != "rzp_test" {
		t.Fatalf("unexpected handle: %+v", handle)
	}

	res, err := h.orch.Complete(ctx, token, h.user, handle.SessionID, confirmFor(handle))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.Status != model.SessionCompleted || len(res.FailedTicketIDs) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	rows, err := h.store.ListByUser(ctx, h.user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	perEvent := map[string]int{}
	ids := map[string]bool{}
	for _, r := range rows {
		perEvent[r.EventID]++
		ids[r.TicketID] = true
		if r.Verified || r.PaymentStatus != "paid" || r.PaymentID != "pay_1" {
			t.Fatalf("unexpected row state: %+v", r)
		}
	}
	if perEvent["codesprint"] != 2 || perEvent["ai-workshop"] != 1 || len(ids) != 3 {
		t.Fatalf("unexpected distribution %v / %d distinct ids", perEvent, len(ids))
	}

	names := map[string]bool{}
	for _, r := range rows {
		if r.EventID == "codesprint" {
			names[r.AttendeeName] = true
		}
	}
	if !names["Asha Rao"] || !names["Attendee 2"] {
		t.Fatalf("unexpected attendee names: %v", names)
	}

	u, _ := h.users.GetUser(ctx, token)
	want := []string{"pass-day", "codesprint", "ai-workshop"}
	if len(u.Metadata.PurchasedEvents) != len(want) {
		t.Fatalf("purchased events = %v, want %v", u.Metadata.PurchasedEvents, want)
	}
	for i := range want {
		if u.Metadata.PurchasedEvents[i] != want[i] {
			t.Fatalf("purchased events = %v, want %v", u.Metadata.PurchasedEvents, want)
		}
	}

	if c, _ := h.carts.Load(ctx, h.user.ID); len(c.Lines) != 0 {
		t.Fatalf("cart not cleared: %+v", c)
	}
	if _, ok, _ := h.cache.Get(ctx, "purchased:"+h.user.ID); !ok {
		t.Fatal("purchased events not mirrored to cache")
	}
	types := h.pub.types()
	if len(types) != 2 || types[0] != dto.MsgCheckoutExpire || types[1] != dto.MsgTicketsIssued {
		t.Fatalf("unexpected published messages: %v", types)
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	handle, err := h.orch.Start(ctx, h.user, CartState{Lines: []CartLine{{EventID: "codesprint", Quantity: 3}}})
	if err != nil {
		t.Fatal(err)
	}
	first, err := h.orch.Complete(ctx, token, h.user, handle.SessionID, confirmFor(handle))
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.orch.Complete(ctx, token, h.user, handle.SessionID, confirmFor(handle))
	if err != nil {
		t.Fatalf("second Complete: %v", err)
	}
	if len(second.Tickets) != len(first.Tickets) {
		t.Fatalf("second completion returned %d tickets, first %d", len(second.Tickets), len(first.Tickets))
	}
	rows, _ := h.store.ListByUser(ctx, h.user.ID)
	if len(rows) != 3 {
		t.Fatalf("duplicate tickets written: %d rows", len(rows))
	}
}

func TestPartialFailureKeepsInsertedTicketsAndRetries(t *testing.T) {
	flaky := &flakyRepo{Repository: newStore(t), fail: map[string]bool{}}
	h := newHarness(t, flaky)
	ctx := context.Background()

	handle, err := h.orch.Start(ctx, h.user, CartState{Lines: []CartLine{{EventID: "codesprint", Quantity: 3}}})
	if err != nil {
		t.Fatal(err)
	}
	session, _ := h.store.GetCheckoutSession(ctx, handle.SessionID)
	var plan ticketPlan
	if err := json.Unmarshal(session.Plan, &plan); err != nil {
		t.Fatal(err)
	}
	broken := plan.Tickets[1].TicketID
	flaky.fail[broken] = true

	res, err := h.orch.Complete(ctx, token, h.user, handle.SessionID, confirmFor(handle))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.Status != model.SessionPartial || len(res.Tickets) != 2 || len(res.FailedTicketIDs) != 1 || res.FailedTicketIDs[0] != broken {
		t.Fatalf("unexpected partial result: %+v", res)
	}
	if types := h.pub.types(); types[len(types)-1] != dto.MsgRegistrationFailed {
		t.Fatalf("expected registration.failed to be published, got %v", types)
	}

	flaky.mu.Lock()
	delete(flaky.fail, broken)
	flaky.mu.Unlock()

	retry, err := h.orch.Complete(ctx, token, h.user, handle.SessionID, payment.Confirmation{})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retry.Status != model.SessionCompleted {
		t.Fatalf("retry status = %s", retry.Status)
	}
	rows, _ := h.store.ListByUser(ctx, h.user.ID)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows after retry, got %d", len(rows))
	}

	issued := h.pub.issued(t)
	if len(issued) != 2 {
		t.Fatalf("expected two tickets.issued messages, got %d", len(issued))
	}
	if len(issued[0].Tickets) != 2 || len(issued[1].Tickets) != 1 || issued[1].Tickets[0].TicketID != broken {
		t.Fatalf("retry must only announce the newly written ticket: %+v", issued[1])
	}
}

func TestForeignTicketIDCountsAsFailedUnit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	handle, err := h.orch.Start(ctx, h.user, CartState{Lines: []CartLine{{EventID: "codesprint", Quantity: 2}}})
	if err != nil {
		t.Fatal(err)
	}
	session, _ := h.store.GetCheckoutSession(ctx, handle.SessionID)
	var plan ticketPlan
	if err := json.Unmarshal(session.Plan, &plan); err != nil {
		t.Fatal(err)
	}
	taken := plan.Tickets[0].TicketID
	if _, err := h.store.InsertRegistration(ctx, &model.Registration{
		TicketID: taken, UserID: "other", EventID: "codesprint", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	res, err := h.orch.Complete(ctx, token, h.user, handle.SessionID, confirmFor(handle))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.Status != model.SessionPartial || len(res.Tickets) != 1 || len(res.FailedTicketIDs) != 1 || res.FailedTicketIDs[0] != taken {
		t.Fatalf("unexpected result: %+v", res)
	}
	rows, _ := h.store.ListByUser(ctx, h.user.ID)
	if len(rows) != 1 || rows[0].TicketID == taken {
		t.Fatalf("buyer rows = %+v", rows)
	}
	if owner, _ := h.store.GetRegistration(ctx, taken); owner.UserID != "other" {
		t.Fatalf("existing row was overwritten: %+v", owner)
	}
	for _, msg := range h.pub.issued(t) {
		for _, tk := range msg.Tickets {
			if tk.TicketID == taken {
				t.Fatal("foreign ticket announced as issued")
			}
		}
	}
}

func TestPlannedAmountsAddUpToTotal(t *testing.T) {
	h := newHarness(t, nil)
	q, err := PriceQuote(catalog.Default(), CartState{
		Lines:  []CartLine{{EventID: "pass-day", Quantity: 5}, {EventID: "codesprint", Quantity: 3}},
		Coupon: "CAMPUS15",
	})
	if err != nil {
		t.Fatal(err)
	}
	plan := h.orch.plan(h.user, q)
	var sum int64
	for _, tk := range plan.Tickets {
		sum += tk.AmountPaid
	}
	if sum != q.Total {
		t.Fatalf("per-unit amounts sum to %d, charged %d", sum, q.Total)
	}
}

func TestStartGatewayUnavailableWritesNothing(t *testing.T) {
	h := newHarness(t, nil)
	h.pay.CreateOrderFunc = func(context.Context, int64, string, string) (*payment.Order, error) {
		return nil, payment.ErrGatewayUnavailable
	}
	_, err := h.orch.Start(context.Background(), h.user, CartState{Lines: []CartLine{{EventID: "ctf-nope", Quantity: 1}}})
	if !errors.Is(err, catalog.ErrEventNotFound) {
		t.Fatalf("unknown event must fail locally, got %v", err)
	}
	_, err = h.orch.Start(context.Background(), h.user, CartState{Lines: []CartLine{{EventID: "codesprint", Quantity: 1}}})
	if !errors.Is(err, payment.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if len(h.pub.types()) != 0 {
		t.Fatal("no message may be published when the order fails")
	}
}

func TestCompleteRejectsUnverifiedPayment(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.pay.VerifyFunc = func(context.Context, payment.Confirmation, int64) error {
		return payment.ErrVerificationFailed
	}
	handle, err := h.orch.Start(ctx, h.user, CartState{Lines: []CartLine{{EventID: "codesprint", Quantity: 1}}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.Complete(ctx, token, h.user, handle.SessionID, confirmFor(handle)); !errors.Is(err, ErrPaymentNotVerified) {
		t.Fatalf("expected ErrPaymentNotVerified, got %v", err)
	}
	wrongOrder := payment.Confirmation{OrderID: "order_other", PaymentID: "pay_1", Signature: "sig"}
	if _, err := h.orch.Complete(ctx, token, h.user, handle.SessionID, wrongOrder); !errors.Is(err, ErrPaymentNotVerified) {
		t.Fatalf("expected ErrPaymentNotVerified for foreign order, got %v", err)
	}
	if rows, _ := h.store.ListByUser(ctx, h.user.ID); len(rows) != 0 {
		t.Fatalf("unverified payment wrote %d rows", len(rows))
	}
}

func TestCompleteRejectsOtherUsersSession(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	handle, err := h.orch.Start(ctx, h.user, CartState{Lines: []CartLine{{EventID: "codesprint", Quantity: 1}}})
	if err != nil {
		t.Fatal(err)
	}
	intruder := &identity.User{ID: "user-2", Email: "x@example.com"}
	if _, err := h.orch.Complete(ctx, "tok-x", intruder, handle.SessionID, confirmFor(handle)); !errors.Is(err, ErrSessionForbidden) {
		t.Fatalf("expected ErrSessionForbidden, got %v", err)
	}
}

func TestPurchasesFallBackToCache(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	p := NewPurchases(h.users, h.cache, nil)
	p.Record(ctx, token, h.user, "ctf")

	h.users.fail = identity.ErrUnavailable
	ids, err := p.List(ctx, token, h.user.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 2 || ids[0] != "pass-day" || ids[1] != "ctf" {
		t.Fatalf("cached purchases = %v", ids)
	}
}
