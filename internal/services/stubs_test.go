package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
	"github.com/naiaprojects/naia-sub001/internal/repositories"
)

var errNotImplemented = errors.New("not implemented")

func notFoundErr(op string) error {
	return repositories.NewError(op, repositories.ErrorKindNotFound, nil)
}

func conflictErr(op string) error {
	return repositories.NewError(op, repositories.ErrorKindConflict, nil)
}

func fixedClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}

type stubUnitOfWork struct {
	runFn func(context.Context, func(context.Context) error) error
	calls int
}

func (s *stubUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	s.calls++
	if s.runFn != nil {
		return s.runFn(ctx, fn)
	}
	return fn(ctx)
}

type stubOrderRepo struct {
	insertFn      func(context.Context, domain.Order) error
	updateFn      func(context.Context, domain.Order) error
	findFn        func(context.Context, string) (domain.Order, error)
	listPendingFn func(context.Context, time.Time, int) ([]domain.Order, error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByInvoice(ctx context.Context, invoice string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, invoice)
	}
	return domain.Order{}, errNotImplemented
}

func (s *stubOrderRepo) ListPendingBefore(ctx context.Context, deadline time.Time, limit int) ([]domain.Order, error) {
	if s.listPendingFn != nil {
		return s.listPendingFn(ctx, deadline, limit)
	}
	return nil, nil
}

// memoryOrders is a map backed order repository for flows spanning several calls.
type memoryOrders struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func newMemoryOrders(orders ...domain.Order) *memoryOrders {
	m := &memoryOrders{orders: map[string]domain.Order{}}
	for _, o := range orders {
		m.orders[o.InvoiceNumber] = o
	}
	return m
}

func (m *memoryOrders) Insert(_ context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.InvoiceNumber]; ok {
		return conflictErr("orders.insert")
	}
	m.orders[order.InvoiceNumber] = order
	return nil
}

func (m *memoryOrders) Update(_ context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.InvoiceNumber]; !ok {
		return notFoundErr("orders.update")
	}
	m.orders[order.InvoiceNumber] = order
	return nil
}

func (m *memoryOrders) FindByInvoice(_ context.Context, invoice string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[invoice]
	if !ok {
		return domain.Order{}, notFoundErr("orders.find")
	}
	return order, nil
}

func (m *memoryOrders) ListPendingBefore(_ context.Context, deadline time.Time, limit int) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.Status == domain.OrderStatusPending && !o.Deadline.After(deadline) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceNumber < out[j].InvoiceNumber })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryPurchases struct {
	mu        sync.Mutex
	purchases map[string]domain.StorePurchase
}

func newMemoryPurchases(purchases ...domain.StorePurchase) *memoryPurchases {
	m := &memoryPurchases{purchases: map[string]domain.StorePurchase{}}
	for _, p := range purchases {
		m.purchases[p.InvoiceNumber] = p
	}
	return m
}

func (m *memoryPurchases) Insert(_ context.Context, purchase domain.StorePurchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.purchases[purchase.InvoiceNumber]; ok {
		return conflictErr("purchases.insert")
	}
	m.purchases[purchase.InvoiceNumber] = purchase
	return nil
}

func (m *memoryPurchases) Update(_ context.Context, purchase domain.StorePurchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.purchases[purchase.InvoiceNumber]; !ok {
		return notFoundErr("purchases.update")
	}
	m.purchases[purchase.InvoiceNumber] = purchase
	return nil
}

func (m *memoryPurchases) FindByInvoice(_ context.Context, invoice string) (domain.StorePurchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[invoice]
	if !ok {
		return domain.StorePurchase{}, notFoundErr("purchases.find")
	}
	return p, nil
}

func (m *memoryPurchases) ListPendingBefore(_ context.Context, deadline time.Time, limit int) ([]domain.StorePurchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.StorePurchase
	for _, p := range m.purchases {
		if p.PaymentStatus == domain.PurchaseStatusPending && !p.Deadline.After(deadline) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceNumber < out[j].InvoiceNumber })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memoryOutbox keeps tasks by dedupe key, skipping duplicates like the real stores.
type memoryOutbox struct {
	mu         sync.Mutex
	tasks      map[string]domain.OutboxTask
	order      []string
	enqueueErr error
	claimErr   error
	markErr    error
}

func newMemoryOutbox() *memoryOutbox {
	return &memoryOutbox{tasks: map[string]domain.OutboxTask{}}
}

func (m *memoryOutbox) Enqueue(_ context.Context, tasks []domain.OutboxTask) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return 0, m.enqueueErr
	}
	stored := 0
	for _, task := range tasks {
		if _, ok := m.tasks[task.DedupeKey]; ok {
			continue
		}
		m.tasks[task.DedupeKey] = task
		m.order = append(m.order, task.DedupeKey)
		stored++
	}
	return stored, nil
}

func (m *memoryOutbox) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]domain.OutboxTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return nil, m.claimErr
	}
	var out []domain.OutboxTask
	for _, key := range m.order {
		task := m.tasks[key]
		if task.Status != domain.OutboxStatusPending || task.NextAttemptAt.After(now) {
			continue
		}
		if task.LeaseUntil != nil && task.LeaseUntil.After(now) {
			continue
		}
		until := now.Add(lease)
		task.LeaseUntil = &until
		m.tasks[key] = task
		out = append(out, task)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memoryOutbox) MarkDelivered(_ context.Context, taskID string, deliveredAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	for key, task := range m.tasks {
		if task.ID == taskID {
			task.Status = domain.OutboxStatusDelivered
			task.DeliveredAt = &deliveredAt
			task.LeaseUntil = nil
			m.tasks[key] = task
			return nil
		}
	}
	return notFoundErr("outbox.mark")
}

func (m *memoryOutbox) Reschedule(_ context.Context, taskID string, attempts int, next time.Time, lastError string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, task := range m.tasks {
		if task.ID != taskID {
			continue
		}
		task.Attempts = attempts
		task.LastError = lastError
		task.LeaseUntil = nil
		if next.IsZero() {
			task.Status = domain.OutboxStatusDead
			task.NextAttemptAt = now
		} else {
			task.NextAttemptAt = next
		}
		m.tasks[key] = task
		return nil
	}
	return notFoundErr("outbox.reschedule")
}

func (m *memoryOutbox) all() []domain.OutboxTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.OutboxTask, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.tasks[key])
	}
	return out
}

func (m *memoryOutbox) byEffect(effect domain.OutboxEffect) []domain.OutboxTask {
	var out []domain.OutboxTask
	for _, task := range m.all() {
		if task.Effect == effect {
			out = append(out, task)
		}
	}
	return out
}

type stubCatalogRepo struct {
	findPackageFn func(context.Context, string) (domain.CatalogPackage, error)
	findItemFn    func(context.Context, string) (domain.CatalogItem, error)
	packages      []domain.CatalogPackage
	items         []domain.CatalogItem
	packageCalls  int
	itemCalls     int
}

func (s *stubCatalogRepo) FindPackage(ctx context.Context, key string) (domain.CatalogPackage, error) {
	s.packageCalls++
	if s.findPackageFn != nil {
		return s.findPackageFn(ctx, key)
	}
	return domain.CatalogPackage{}, notFoundErr("catalog.package")
}

func (s *stubCatalogRepo) FindItem(ctx context.Context, key string) (domain.CatalogItem, error) {
	s.itemCalls++
	if s.findItemFn != nil {
		return s.findItemFn(ctx, key)
	}
	return domain.CatalogItem{}, notFoundErr("catalog.item")
}

func (s *stubCatalogRepo) UpsertPackage(_ context.Context, pkg domain.CatalogPackage) error {
	s.packages = append(s.packages, pkg)
	return nil
}

func (s *stubCatalogRepo) UpsertItem(_ context.Context, item domain.CatalogItem) error {
	s.items = append(s.items, item)
	return nil
}

type stubBankAccountRepo struct {
	listFn   func(context.Context) ([]domain.BankAccount, error)
	accounts []domain.BankAccount
	calls    int
}

func (s *stubBankAccountRepo) ListActive(ctx context.Context) ([]domain.BankAccount, error) {
	s.calls++
	if s.listFn != nil {
		return s.listFn(ctx)
	}
	return s.accounts, nil
}

func (s *stubBankAccountRepo) Upsert(_ context.Context, account domain.BankAccount) error {
	s.accounts = append(s.accounts, account)
	return nil
}

type stubNotificationRepo struct {
	insertFn      func(context.Context, domain.Notification) error
	listFn        func(context.Context, repositories.NotificationListFilter) (domain.CursorPage[domain.Notification], error)
	countsFn      func(context.Context) (domain.NotificationCounts, error)
	markReadFn    func(context.Context, string, time.Time) (domain.Notification, error)
	markAllReadFn func(context.Context, time.Time) (int, error)
	deleteFn      func(context.Context, string) error
	inserted      []domain.Notification
}

func (s *stubNotificationRepo) Insert(ctx context.Context, n domain.Notification) error {
	if s.insertFn != nil {
		if err := s.insertFn(ctx, n); err != nil {
			return err
		}
	}
	s.inserted = append(s.inserted, n)
	return nil
}

func (s *stubNotificationRepo) List(ctx context.Context, filter repositories.NotificationListFilter) (domain.CursorPage[domain.Notification], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Notification]{}, nil
}

func (s *stubNotificationRepo) Counts(ctx context.Context) (domain.NotificationCounts, error) {
	if s.countsFn != nil {
		return s.countsFn(ctx)
	}
	return domain.NotificationCounts{}, nil
}

func (s *stubNotificationRepo) MarkRead(ctx context.Context, id string, readAt time.Time) (domain.Notification, error) {
	if s.markReadFn != nil {
		return s.markReadFn(ctx, id, readAt)
	}
	return domain.Notification{}, errNotImplemented
}

func (s *stubNotificationRepo) MarkAllRead(ctx context.Context, readAt time.Time) (int, error) {
	if s.markAllReadFn != nil {
		return s.markAllReadFn(ctx, readAt)
	}
	return 0, nil
}

func (s *stubNotificationRepo) Delete(ctx context.Context, id string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, id)
	}
	return nil
}

type memoryArticles struct {
	articles map[string]domain.Article
	saves    int
}

func newMemoryArticles() *memoryArticles {
	return &memoryArticles{articles: map[string]domain.Article{}}
}

func (m *memoryArticles) FindByID(_ context.Context, id string) (domain.Article, error) {
	a, ok := m.articles[id]
	if !ok {
		return domain.Article{}, notFoundErr("articles.find")
	}
	return a, nil
}

func (m *memoryArticles) Save(_ context.Context, article domain.Article) error {
	m.saves++
	m.articles[article.ID] = article
	return nil
}

type stubCounterRepo struct {
	nextFn func(context.Context, string, int64) (int64, error)
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, limit int64) (int64, error) {
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, limit)
	}
	return 0, errNotImplemented
}

// sequenceCounters hands out increasing values per counter like the datastore counter.
type sequenceCounters struct {
	mu     sync.Mutex
	values map[string]int64
}

func newSequenceCounters() *sequenceCounters {
	return &sequenceCounters{values: map[string]int64{}}
}

func (s *sequenceCounters) Next(_ context.Context, counterID string, limit int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > 0 && s.values[counterID] >= limit {
		return 0, ErrCounterExhausted
	}
	s.values[counterID]++
	return s.values[counterID], nil
}

type stubCatalogService struct {
	packages map[string]domain.CatalogPackage
	items    map[string]domain.CatalogItem
}

func (s *stubCatalogService) GetPackage(_ context.Context, key string) (domain.CatalogPackage, error) {
	pkg, ok := s.packages[key]
	if !ok {
		return domain.CatalogPackage{}, ErrCatalogPackageNotFound
	}
	return pkg, nil
}

func (s *stubCatalogService) GetItem(_ context.Context, key string) (domain.CatalogItem, error) {
	item, ok := s.items[key]
	if !ok {
		return domain.CatalogItem{}, ErrCatalogItemNotFound
	}
	return item, nil
}

type countingKicker struct {
	kicks int
}

func (k *countingKicker) Kick() { k.kicks++ }

type captureLogger struct {
	mu     sync.Mutex
	events []string
	fields []map[string]any
}

func (c *captureLogger) log(_ context.Context, event string, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	c.fields = append(c.fields, fields)
}

func (c *captureLogger) has(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e == event {
			return true
		}
	}
	return false
}
