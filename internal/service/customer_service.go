package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"ordersms/internal/domain"
	"ordersms/internal/repository"
)

// ErrCustomerHasOrders клиента с заказами удалять нельзя (политика RESTRICT)
var ErrCustomerHasOrders = errors.New("customer has orders")

// CustomerInput схема создания и полного обновления клиента
type CustomerInput struct {
	Name  string `json:"name" validate:"required,max=200"`
	Code  string `json:"code" validate:"required,max=50"`
	Phone string `json:"phone" validate:"required,intl_phone"`
}

// CustomerPatch частичное обновление: nil-поля не меняются
type CustomerPatch struct {
	Name  *string `json:"name"`
	Code  *string `json:"code"`
	Phone *string `json:"phone"`
}

// CustomerService инкапсулирует бизнес-логику вокруг клиентов
type CustomerService struct {
	customers repository.CustomerRepository
	orders    repository.OrderRepository
	tx        repository.TxManager
	validate  *Validator
	log       *zap.Logger
}

func NewCustomerService(customers repository.CustomerRepository, orders repository.OrderRepository, tx repository.TxManager, log *zap.Logger) *CustomerService {
	return &CustomerService{
		customers: customers,
		orders:    orders,
		tx:        tx,
		validate:  NewValidator(),
		log:       log.Named("customers"),
	}
}

func (in CustomerInput) normalized() CustomerInput {
	return CustomerInput{
		Name:  strings.TrimSpace(in.Name),
		Code:  strings.TrimSpace(in.Code),
		Phone: strings.TrimSpace(in.Phone),
	}
}

func (s *CustomerService) Create(ctx context.Context, in CustomerInput) (*domain.Customer, error) {
	in = in.normalized()
	if verr := s.validate.Struct(in); verr != nil {
		return nil, verr
	}
	c := domain.Customer{Name: in.Name, Code: in.Code, Phone: in.Phone}
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.checkCodeFree(ctx, in.Code, 0); err != nil {
			return err
		}
		return s.customers.Create(ctx, &c)
	})
	if err != nil {
		return nil, s.storageError(err)
	}
	s.log.Info("customer created", zap.Int64("customer_id", c.ID), zap.String("code", c.Code))
	return &c, nil
}

func (s *CustomerService) GetByID(ctx context.Context, id int64) (*domain.Customer, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	return s.customers.GetByID(ctx, id)
}

func (s *CustomerService) List(ctx context.Context, f repository.CustomerFilter) ([]domain.Customer, error) {
	return s.customers.List(ctx, f)
}

// Update полная замена полей (PUT)
func (s *CustomerService) Update(ctx context.Context, id int64, in CustomerInput) (*domain.Customer, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	in = in.normalized()
	if verr := s.validate.Struct(in); verr != nil {
		return nil, verr
	}
	return s.save(ctx, id, func(*domain.Customer) CustomerInput { return in })
}

// Patch частичное обновление (PATCH)
func (s *CustomerService) Patch(ctx context.Context, id int64, p CustomerPatch) (*domain.Customer, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	return s.save(ctx, id, func(cur *domain.Customer) CustomerInput {
		in := CustomerInput{Name: cur.Name, Code: cur.Code, Phone: cur.Phone}
		if p.Name != nil {
			in.Name = *p.Name
		}
		if p.Code != nil {
			in.Code = *p.Code
		}
		if p.Phone != nil {
			in.Phone = *p.Phone
		}
		return in.normalized()
	})
}

func (s *CustomerService) save(ctx context.Context, id int64, build func(cur *domain.Customer) CustomerInput) (*domain.Customer, error) {
	var updated *domain.Customer
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		cur, err := s.customers.GetByID(ctx, id)
		if err != nil {
			return err
		}
		in := build(cur)
		if verr := s.validate.Struct(in); verr != nil {
			return verr
		}
		if err := s.checkCodeFree(ctx, in.Code, id); err != nil {
			return err
		}
		c := domain.Customer{ID: id, Name: in.Name, Code: in.Code, Phone: in.Phone}
		if err := s.customers.Update(ctx, &c); err != nil {
			return err
		}
		updated = &c
		return nil
	})
	if err != nil {
		return nil, s.storageError(err)
	}
	return updated, nil
}

// Delete удаляет клиента, если на него не ссылается ни один заказ
func (s *CustomerService) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.customers.GetByID(ctx, id); err != nil {
			return err
		}
		n, err := s.orders.CountByCustomer(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrCustomerHasOrders
		}
		return s.customers.Delete(ctx, id)
	})
	if errors.Is(err, repository.ErrCustomerInUse) {
		return ErrCustomerHasOrders
	}
	return err
}

// checkCodeFree проверка уникальности до записи; гонку ловит само хранилище
func (s *CustomerService) checkCodeFree(ctx context.Context, code string, selfID int64) error {
	other, err := s.customers.GetByCode(ctx, code)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil
	case err != nil:
		return err
	case other.ID != selfID:
		return repository.ErrDuplicateCode
	default:
		return nil
	}
}

func (s *CustomerService) storageError(err error) error {
	if errors.Is(err, repository.ErrDuplicateCode) {
		return fieldError("code", "customer with this code already exists")
	}
	return err
}
