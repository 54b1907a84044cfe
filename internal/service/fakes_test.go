package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/membership-backend/internal/attachment"
	"github.com/spec-kit/membership-backend/internal/domain"
	"github.com/spec-kit/membership-backend/internal/events"
	"github.com/spec-kit/membership-backend/internal/repository"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// fakeTicketRepo stores deep copies so callers cannot mutate stored state.
type fakeTicketRepo struct {
	mu        sync.Mutex
	tickets   map[string]domain.Ticket
	conflicts int
	createErr error
	updates   int
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{tickets: map[string]domain.Ticket{}}
}

func cloneTicket(t domain.Ticket) domain.Ticket {
	t.Attachments = append([]domain.Attachment(nil), t.Attachments...)
	t.Responses = append([]domain.Response(nil), t.Responses...)
	return t
}

func (r *fakeTicketRepo) Create(_ context.Context, t *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	t.Version = 1
	r.tickets[t.ID] = cloneTicket(*t)
	return nil
}

func (r *fakeTicketRepo) Update(_ context.Context, t *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[t.ID]
	if !ok || stored.Version != t.Version {
		return repository.ErrVersionConflict
	}
	if r.conflicts > 0 {
		r.conflicts--
		stored.Version++
		r.tickets[t.ID] = stored
		return repository.ErrVersionConflict
	}
	r.updates++
	t.Version++
	r.tickets[t.ID] = cloneTicket(*t)
	return nil
}

func (r *fakeTicketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	c := cloneTicket(t)
	return &c, nil
}

func (r *fakeTicketRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tickets[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.tickets, id)
	return nil
}

func (r *fakeTicketRepo) List(_ context.Context, f repository.TicketFilter) ([]domain.Ticket, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []domain.Ticket
	for _, t := range r.tickets {
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		if f.Priority != nil && t.Priority != *f.Priority {
			continue
		}
		if f.Category != nil && t.Category != *f.Category {
			continue
		}
		if f.Unassigned && t.AssignedAgentID != nil {
			continue
		}
		if f.AssignedAgentID != nil && (t.AssignedAgentID == nil || *t.AssignedAgentID != *f.AssignedAgentID) {
			continue
		}
		if f.OwnerID != nil && t.UserID != *f.OwnerID {
			continue
		}
		if term := strings.ToLower(f.SearchText); term != "" &&
			!strings.Contains(strings.ToLower(t.Subject), term) &&
			!strings.Contains(strings.ToLower(t.Description), term) {
			continue
		}
		matched = append(matched, cloneTicket(t))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := int64(len(matched))
	start := f.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + f.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (r *fakeTicketRepo) Stats(context.Context) (*domain.TicketStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &domain.TicketStats{ByStatus: map[domain.TicketStatus]int64{}, ByPriority: map[domain.TicketPriority]int64{}}
	var sum, n int
	for _, t := range r.tickets {
		stats.Total++
		stats.ByStatus[t.Status]++
		stats.ByPriority[t.Priority]++
		if t.SatisfactionRating != nil {
			sum += *t.SatisfactionRating
			n++
		}
	}
	if n > 0 {
		avg := float64(sum) / float64(n)
		stats.AvgRating = &avg
	}
	return stats, nil
}

type fakeAttachments struct {
	mu        sync.Mutex
	storeErr  error
	stored    []domain.Attachment
	discarded []domain.Attachment
}

func (f *fakeAttachments) StoreMany(_ context.Context, files []attachment.File) ([]domain.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	var out []domain.Attachment
	for _, file := range files {
		att := domain.Attachment{Filename: file.Name, StorageLocation: "tickets/" + file.Name, Size: int64(len(file.Data)), MimeType: file.MimeType}
		out = append(out, att)
		f.stored = append(f.stored, att)
	}
	return out, nil
}

func (f *fakeAttachments) Discard(_ context.Context, atts []domain.Attachment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, atts...)
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []events.Event
}

func (d *recordingDispatcher) Publish(_ context.Context, e events.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
	return nil
}

func (d *recordingDispatcher) Subscribe(events.EventType, events.EventHandler) {}

func (d *recordingDispatcher) types() []events.EventType {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]events.EventType, 0, len(d.events))
	for _, e := range d.events {
		out = append(out, e.Type)
	}
	return out
}

// fakePurchaseRepo mirrors the conditional UPDATE semantics of the SQL implementation.
type fakePurchaseRepo struct {
	mu        sync.Mutex
	purchases map[string]*domain.CoursePurchase
}

func newFakePurchaseRepo() *fakePurchaseRepo {
	return &fakePurchaseRepo{purchases: map[string]*domain.CoursePurchase{}}
}

func (r *fakePurchaseRepo) Create(_ context.Context, p *domain.CoursePurchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.purchases[p.GatewayOrderID]; ok {
		return repository.ErrDuplicate
	}
	c := *p
	r.purchases[p.GatewayOrderID] = &c
	return nil
}

func (r *fakePurchaseRepo) GetByGatewayOrder(_ context.Context, userID, orderID string) (*domain.CoursePurchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.purchases[orderID]
	if !ok || p.UserID != userID {
		return nil, pgx.ErrNoRows
	}
	c := *p
	return &c, nil
}

func (r *fakePurchaseRepo) HasCompleted(_ context.Context, userID, courseID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasCompletedLocked(userID, courseID), nil
}

func (r *fakePurchaseRepo) hasCompletedLocked(userID, courseID string) bool {
	for _, p := range r.purchases {
		if p.UserID == userID && p.CourseID == courseID && p.Status == domain.PurchaseStatusCompleted {
			return true
		}
	}
	return false
}

func (r *fakePurchaseRepo) MarkCompleted(_ context.Context, userID, orderID, paymentID string, at time.Time) (*domain.CoursePurchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.purchases[orderID]
	if !ok || p.UserID != userID || p.Status != domain.PurchaseStatusPending {
		return nil, repository.ErrNotPending
	}
	if r.hasCompletedLocked(userID, p.CourseID) {
		return nil, repository.ErrDuplicate
	}
	p.Status = domain.PurchaseStatusCompleted
	p.GatewayPaymentID = &paymentID
	p.PurchasedAt = &at
	p.UpdatedAt = at
	c := *p
	return &c, nil
}

func (r *fakePurchaseRepo) MarkFailed(_ context.Context, userID, orderID, paymentID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.purchases[orderID]
	if !ok || p.UserID != userID || p.Status != domain.PurchaseStatusPending {
		return false, nil
	}
	p.Status = domain.PurchaseStatusFailed
	p.GatewayPaymentID = &paymentID
	p.UpdatedAt = at
	return true, nil
}

func (r *fakePurchaseRepo) ListCompletedByUser(_ context.Context, userID string) ([]domain.CoursePurchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CoursePurchase
	for _, p := range r.purchases {
		if p.UserID == userID && p.Status == domain.PurchaseStatusCompleted {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *fakePurchaseRepo) get(orderID string) domain.CoursePurchase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.purchases[orderID]
}

type fakeOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: map[string]*domain.Order{}}
}

func (r *fakeOrderRepo) Create(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *o
	r.orders[o.ID] = &c
	return nil
}

func (r *fakeOrderRepo) GetByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	c := *o
	return &c, nil
}

func (r *fakeOrderRepo) findLocked(userID, gatewayOrderID string) *domain.Order {
	for _, o := range r.orders {
		if o.Transaction.GatewayOrderID == gatewayOrderID && o.UserID == userID {
			return o
		}
	}
	return nil
}

func (r *fakeOrderRepo) GetByGatewayOrder(_ context.Context, userID, gatewayOrderID string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.findLocked(userID, gatewayOrderID)
	if o == nil {
		return nil, pgx.ErrNoRows
	}
	c := *o
	return &c, nil
}

func (r *fakeOrderRepo) MarkPaid(_ context.Context, userID, gatewayOrderID, paymentID, signature string, status domain.OrderStatus, at time.Time) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.findLocked(userID, gatewayOrderID)
	if o == nil || o.Transaction.Status != domain.TransactionPending {
		return nil, repository.ErrNotPending
	}
	o.Transaction.Status = domain.TransactionSuccess
	o.Transaction.GatewayPaymentID = &paymentID
	o.Transaction.GatewaySignature = &signature
	o.Status = status
	o.UpdatedAt = at
	c := *o
	return &c, nil
}

func (r *fakeOrderRepo) MarkFailed(_ context.Context, userID, gatewayOrderID, paymentID, signature string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.findLocked(userID, gatewayOrderID)
	if o == nil || o.Transaction.Status != domain.TransactionPending {
		return false, nil
	}
	o.Transaction.Status = domain.TransactionFailed
	o.Transaction.GatewayPaymentID = &paymentID
	o.Transaction.GatewaySignature = &signature
	o.UpdatedAt = at
	return true, nil
}

func (r *fakeOrderRepo) ListByUser(_ context.Context, userID string, _, _ int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (r *fakeOrderRepo) ListAll(_ context.Context, _, _ int) ([]domain.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		out = append(out, *o)
	}
	return out, int64(len(out)), nil
}

func (r *fakeOrderRepo) UpdateStatus(_ context.Context, id string, status domain.OrderStatus, at time.Time) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	o.Status = status
	o.UpdatedAt = at
	c := *o
	return &c, nil
}

type fakeGateway struct {
	mu     sync.Mutex
	nextID string
	err    error
	calls  int
	// amountMinor, when set, replaces the requested amount in the returned order.
	amountMinor int64
}

func (g *fakeGateway) CreateOrder(_ context.Context, amountMinor int64, currency, receipt string) (domain.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return domain.GatewayOrder{}, g.err
	}
	id := g.nextID
	if id == "" {
		id = "order_" + receipt
	}
	if g.amountMinor != 0 {
		amountMinor = g.amountMinor
	}
	return domain.GatewayOrder{ID: id, AmountMinor: amountMinor, Currency: currency, Receipt: receipt}, nil
}

type fakeCourses struct {
	prices map[string]int64
	err    error
}

func (c *fakeCourses) PriceMinor(_ context.Context, courseID string) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	price, ok := c.prices[courseID]
	if !ok {
		return 0, pgx.ErrNoRows
	}
	return price, nil
}

var errBoom = errors.New("boom")
