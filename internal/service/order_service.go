package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ordersms/internal/domain"
	"ordersms/internal/repository"
)

// Notifier отправляет уведомление о созданном заказе. Ответ провайдера
// возвращается как есть и попадает в ответ API.
type Notifier interface {
	OrderPlaced(ctx context.Context, customer domain.Customer, order domain.Order) (json.RawMessage, error)
}

// OrderInput схема создания и полного обновления заказа. Time сюда не входит:
// его выставляет сервис.
type OrderInput struct {
	CustomerID int64            `json:"customer" validate:"required,gt=0"`
	Item       string           `json:"item" validate:"required,max=255"`
	Quantity   *decimal.Decimal `json:"quantity" validate:"required"`
}

// OrderPatch частичное обновление заказа
type OrderPatch struct {
	CustomerID *int64           `json:"customer"`
	Item       *string          `json:"item"`
	Quantity   *decimal.Decimal `json:"quantity"`
}

// PlacedOrder результат создания заказа
type PlacedOrder struct {
	Order    domain.Order
	Customer domain.Customer
	// Notification сырой ответ SMS-провайдера; nil, если отправка не удалась
	Notification json.RawMessage
}

// OrderService реализует логику заказов: создание с уведомлением и CRUD
type OrderService struct {
	customers     repository.CustomerRepository
	orders        repository.OrderRepository
	tx            repository.TxManager
	notifier      Notifier
	notifyTimeout time.Duration
	validate      *Validator
	now           func() time.Time
	log           *zap.Logger
}

// OrderOption настраивает OrderService
type OrderOption func(*OrderService)

// WithClock подменяет источник времени
func WithClock(now func() time.Time) OrderOption {
	return func(s *OrderService) { s.now = now }
}

// WithNotifyTimeout ограничивает длительность одной попытки уведомления
func WithNotifyTimeout(d time.Duration) OrderOption {
	return func(s *OrderService) { s.notifyTimeout = d }
}

func NewOrderService(customers repository.CustomerRepository, orders repository.OrderRepository, tx repository.TxManager, notifier Notifier, log *zap.Logger, opts ...OrderOption) *OrderService {
	s := &OrderService{
		customers:     customers,
		orders:        orders,
		tx:            tx,
		notifier:      notifier,
		notifyTimeout: 10 * time.Second,
		validate:      NewValidator(),
		now:           func() time.Time { return time.Now().UTC() },
		log:           log.Named("orders"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *OrderService) check(in OrderInput) *ValidationError {
	verr := s.validate.Struct(in)
	if in.Quantity != nil && in.Quantity.IsNegative() {
		verr = merge(verr, fieldError("quantity", "ensure this value is greater than or equal to 0"))
	}
	return verr
}

// CreateOrder проверяет клиента, сохраняет заказ и один раз пытается
// отправить SMS. Ошибка отправки не влияет на результат.
func (s *OrderService) CreateOrder(ctx context.Context, in OrderInput) (*PlacedOrder, error) {
	in.Item = strings.TrimSpace(in.Item)
	if verr := s.check(in); verr != nil {
		return nil, verr
	}

	var placed PlacedOrder
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		c, err := s.customers.GetByID(ctx, in.CustomerID)
		if err != nil {
			return err
		}
		o := domain.Order{
			CustomerID: c.ID,
			Item:       in.Item,
			Quantity:   *in.Quantity,
			Time:       s.now(),
		}
		if err := s.orders.Create(ctx, &o); err != nil {
			return err
		}
		placed.Order = o
		placed.Customer = *c
		return nil
	})
	if err != nil {
		return nil, customerRefError(err)
	}
	s.log.Info("order created", zap.Int64("order_id", placed.Order.ID), zap.Int64("customer_id", placed.Customer.ID))

	// persisted and committed, now the single best-effort notification
	placed.Notification = s.notify(ctx, placed.Customer, placed.Order)
	return &placed, nil
}

func (s *OrderService) notify(ctx context.Context, c domain.Customer, o domain.Order) json.RawMessage {
	ctx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
	defer cancel()
	resp, err := s.notifier.OrderPlaced(ctx, c, o)
	if err != nil {
		s.log.Warn("order notification failed",
			zap.Int64("order_id", o.ID),
			zap.String("phone", c.Phone),
			zap.Error(err))
		return nil
	}
	s.log.Info("order notification sent", zap.Int64("order_id", o.ID))
	return resp
}

// GetOrder возвращает заказ по id
func (s *OrderService) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	return s.orders.GetByID(ctx, id)
}

func (s *OrderService) ListOrders(ctx context.Context, f repository.OrderFilter) ([]domain.Order, error) {
	return s.orders.List(ctx, f)
}

// UpdateOrder полная замена (PUT). Время создания не меняется, SMS не отправляется.
func (s *OrderService) UpdateOrder(ctx context.Context, id int64, in OrderInput) (*domain.Order, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	in.Item = strings.TrimSpace(in.Item)
	if verr := s.check(in); verr != nil {
		return nil, verr
	}
	return s.save(ctx, id, func(*domain.Order) OrderInput { return in })
}

// PatchOrder частичное обновление (PATCH)
func (s *OrderService) PatchOrder(ctx context.Context, id int64, p OrderPatch) (*domain.Order, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	return s.save(ctx, id, func(cur *domain.Order) OrderInput {
		q := cur.Quantity
		in := OrderInput{CustomerID: cur.CustomerID, Item: cur.Item, Quantity: &q}
		if p.CustomerID != nil {
			in.CustomerID = *p.CustomerID
		}
		if p.Item != nil {
			in.Item = strings.TrimSpace(*p.Item)
		}
		if p.Quantity != nil {
			in.Quantity = p.Quantity
		}
		return in
	})
}

func (s *OrderService) save(ctx context.Context, id int64, build func(cur *domain.Order) OrderInput) (*domain.Order, error) {
	var updated *domain.Order
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		cur, err := s.orders.GetByID(ctx, id)
		if err != nil {
			return err
		}
		in := build(cur)
		if verr := s.check(in); verr != nil {
			return verr
		}
		if _, err := s.customers.GetByID(ctx, in.CustomerID); err != nil {
			return customerRefError(err)
		}
		o := domain.Order{ID: id, CustomerID: in.CustomerID, Item: in.Item, Quantity: *in.Quantity, Time: cur.Time}
		if err := s.orders.Update(ctx, &o); err != nil {
			return err
		}
		updated = &o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *OrderService) DeleteOrder(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}
	return s.orders.Delete(ctx, id)
}

// customerRefError: несуществующий клиент в теле запроса это ошибка поля, а не 404
func customerRefError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fieldError("customer", "invalid pk - object does not exist")
	}
	return err
}
