package repository

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"ordersms/internal/domain"
)

// MemoryStore объединённое in-memory хранилище и простой генератор ID
type MemoryStore struct {
	mu               sync.RWMutex
	nextCustomerID   int64
	nextOrderID      int64
	customersByID    map[int64]domain.Customer
	customerIDByCode map[string]int64
	ordersByID       map[int64]domain.Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextCustomerID:   1,
		nextOrderID:      1,
		customersByID:    make(map[int64]domain.Customer),
		customerIDByCode: make(map[string]int64),
		ordersByID:       make(map[int64]domain.Order),
	}
}

// NewMemoryStores собирает Stores поверх одного MemoryStore
func NewMemoryStores() *Stores {
	store := NewMemoryStore()
	return &Stores{
		Customers: store,
		Orders:    NewMemoryOrders(store),
		Tx:        NewMemoryTx(store),
	}
}

// transaction-aware locking helpers
type txKey struct{}

func isTx(ctx context.Context) bool {
	v := ctx.Value(txKey{})
	if v == nil {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

func (m *MemoryStore) rlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.RLock()
	}
}
func (m *MemoryStore) runlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.RUnlock()
	}
}
func (m *MemoryStore) wlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.Lock()
	}
}
func (m *MemoryStore) wunlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.Unlock()
	}
}

// Ensure interfaces
var _ CustomerRepository = (*MemoryStore)(nil)

// CustomerRepository implementation
func (m *MemoryStore) Create(ctx context.Context, c *domain.Customer) error {
	m.wlock(ctx)
	defer m.wunlock(ctx)
	if _, taken := m.customerIDByCode[c.Code]; taken {
		return ErrDuplicateCode
	}
	c.ID = m.nextCustomerID
	m.nextCustomerID++
	m.customersByID[c.ID] = *c
	m.customerIDByCode[c.Code] = c.ID
	return nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id int64) (*domain.Customer, error) {
	m.rlock(ctx)
	defer m.runlock(ctx)
	c, ok := m.customersByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	// return copy
	cp := c
	return &cp, nil
}

func (m *MemoryStore) GetByCode(ctx context.Context, code string) (*domain.Customer, error) {
	m.rlock(ctx)
	defer m.runlock(ctx)
	id, ok := m.customerIDByCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := m.customersByID[id]
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, c *domain.Customer) error {
	m.wlock(ctx)
	defer m.wunlock(ctx)
	old, ok := m.customersByID[c.ID]
	if !ok {
		return ErrNotFound
	}
	if owner, taken := m.customerIDByCode[c.Code]; taken && owner != c.ID {
		return ErrDuplicateCode
	}
	delete(m.customerIDByCode, old.Code)
	m.customerIDByCode[c.Code] = c.ID
	m.customersByID[c.ID] = *c
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id int64) error {
	m.wlock(ctx)
	defer m.wunlock(ctx)
	c, ok := m.customersByID[id]
	if !ok {
		return ErrNotFound
	}
	for _, o := range m.ordersByID {
		if o.CustomerID == id {
			return ErrCustomerInUse
		}
	}
	delete(m.customerIDByCode, c.Code)
	delete(m.customersByID, id)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, f CustomerFilter) ([]domain.Customer, error) {
	m.rlock(ctx)
	defer m.runlock(ctx)
	out := make([]domain.Customer, 0)
	for _, c := range m.customersByID {
		if f.match(c) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b domain.Customer) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// OrderRepository implementation on wrapper type
type MemoryOrders struct{ store *MemoryStore }

func NewMemoryOrders(store *MemoryStore) *MemoryOrders { return &MemoryOrders{store: store} }

var _ OrderRepository = (*MemoryOrders)(nil)

func (mo *MemoryOrders) Create(ctx context.Context, o *domain.Order) error {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	if _, ok := mo.store.customersByID[o.CustomerID]; !ok {
		return ErrNotFound
	}
	o.ID = mo.store.nextOrderID
	mo.store.nextOrderID++
	mo.store.ordersByID[o.ID] = *o
	return nil
}

func (mo *MemoryOrders) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	o, ok := mo.store.ordersByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := o
	return &cp, nil
}

func (mo *MemoryOrders) Update(ctx context.Context, o *domain.Order) error {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	old, ok := mo.store.ordersByID[o.ID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := mo.store.customersByID[o.CustomerID]; !ok {
		return ErrNotFound
	}
	// time is immutable after creation
	o.Time = old.Time
	mo.store.ordersByID[o.ID] = *o
	return nil
}

func (mo *MemoryOrders) Delete(ctx context.Context, id int64) error {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	if _, ok := mo.store.ordersByID[id]; !ok {
		return ErrNotFound
	}
	delete(mo.store.ordersByID, id)
	return nil
}

func (mo *MemoryOrders) List(ctx context.Context, f OrderFilter) ([]domain.Order, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	out := make([]domain.Order, 0)
	for _, o := range mo.store.ordersByID {
		if f.match(o) {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b domain.Order) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (mo *MemoryOrders) CountByCustomer(ctx context.Context, customerID int64) (int64, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	var n int64
	for _, o := range mo.store.ordersByID {
		if o.CustomerID == customerID {
			n++
		}
	}
	return n, nil
}

// Tx manager using write lock to emulate transaction boundary
type MemoryTx struct{ store *MemoryStore }

func NewMemoryTx(store *MemoryStore) *MemoryTx { return &MemoryTx{store: store} }

func (tx *MemoryTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if isTx(ctx) {
		return fn(ctx)
	}
	// Для in-memory используем блокировку записи и помечаем контекст, чтобы репозитории пропускали внутренние локи
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	ctx = context.WithValue(ctx, txKey{}, true)
	return fn(ctx)
}
