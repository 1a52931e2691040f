package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer представляет клиента, которому уходят SMS-уведомления
type Customer struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Code  string `json:"code"`
	Phone string `json:"phone"`
}

// Order сущность заказа. Time выставляется при создании и дальше не меняется.
type Order struct {
	ID         int64           `json:"id"`
	CustomerID int64           `json:"customer"`
	Item       string          `json:"item"`
	Quantity   decimal.Decimal `json:"quantity"`
	Time       time.Time       `json:"time"`
}
