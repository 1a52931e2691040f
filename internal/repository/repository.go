package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ordersms/internal/domain"
)

var (
	// ErrNotFound возвращается, когда сущность не найдена
	ErrNotFound = errors.New("not found")
	// ErrDuplicateCode нарушение уникальности Customer.Code на уровне хранилища
	ErrDuplicateCode = errors.New("customer code already exists")
	// ErrCustomerInUse клиента нельзя удалить, пока на него ссылаются заказы
	ErrCustomerInUse = errors.New("customer is referenced by orders")
)

// CustomerFilter параметры фильтрации списка клиентов
type CustomerFilter struct {
	NameSubstring string
	Code          string
}

// OrderFilter параметры фильтрации списка заказов
type OrderFilter struct {
	CustomerID *int64
}

// CustomerRepository интерфейс репозитория клиентов
type CustomerRepository interface {
	Create(ctx context.Context, c *domain.Customer) error
	GetByID(ctx context.Context, id int64) (*domain.Customer, error)
	GetByCode(ctx context.Context, code string) (*domain.Customer, error)
	Update(ctx context.Context, c *domain.Customer) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, f CustomerFilter) ([]domain.Customer, error)
}

// OrderRepository интерфейс репозитория заказов
type OrderRepository interface {
	Create(ctx context.Context, o *domain.Order) error
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	Update(ctx context.Context, o *domain.Order) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, f OrderFilter) ([]domain.Order, error)
	CountByCustomer(ctx context.Context, customerID int64) (int64, error)
}

// TxManager абстракция транзакции. Репозитории, вызванные с ctx из fn, работают внутри неё.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Stores набор репозиториев одного драйвера хранения
type Stores struct {
	Customers CustomerRepository
	Orders    OrderRepository
	Tx        TxManager

	migrate func(ctx context.Context) error
	close   func() error
}

// Migrate создаёт схему хранилища, если её ещё нет
func (s *Stores) Migrate(ctx context.Context) error {
	if s.migrate == nil {
		return nil
	}
	return s.migrate(ctx)
}

// Close освобождает соединение с хранилищем
func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
)

// Open открывает хранилище по имени драйвера
func Open(driver, dsn string) (*Stores, error) {
	switch driver {
	case DriverMemory:
		return NewMemoryStores(), nil
	case DriverSQLite:
		return OpenGorm(dsn)
	case DriverBolt:
		return OpenBolt(dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// helper: case-insensitive contains
func containsIgnoreCase(s, substr string) bool {
	if substr == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func (f CustomerFilter) match(c domain.Customer) bool {
	if !containsIgnoreCase(c.Name, f.NameSubstring) {
		return false
	}
	return f.Code == "" || c.Code == f.Code
}

func (f OrderFilter) match(o domain.Order) bool {
	return f.CustomerID == nil || o.CustomerID == *f.CustomerID
}
