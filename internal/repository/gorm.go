package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ordersms/internal/domain"
)

// customerRecord схема таблицы customers. Отделена от domain.Customer,
// чтобы валидация API не зависела от описания хранилища.
type customerRecord struct {
	ID    int64  `gorm:"primaryKey"`
	Name  string `gorm:"size:200;not null"`
	Code  string `gorm:"size:50;not null;uniqueIndex"`
	Phone string `gorm:"size:16;not null"`
}

func (customerRecord) TableName() string { return "customers" }

type orderRecord struct {
	ID         int64           `gorm:"primaryKey"`
	CustomerID int64           `gorm:"index;not null"`
	Item       string          `gorm:"size:255;not null"`
	Quantity   decimal.Decimal `gorm:"type:text;not null"` // NUMERIC в SQLite хранит float и теряет знаки
	Time       time.Time       `gorm:"not null"`

	Customer *customerRecord `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

func (orderRecord) TableName() string { return "orders" }

func toCustomerRecord(c *domain.Customer) customerRecord {
	return customerRecord{ID: c.ID, Name: c.Name, Code: c.Code, Phone: c.Phone}
}

func (r customerRecord) toDomain() domain.Customer {
	return domain.Customer{ID: r.ID, Name: r.Name, Code: r.Code, Phone: r.Phone}
}

func toOrderRecord(o *domain.Order) orderRecord {
	return orderRecord{ID: o.ID, CustomerID: o.CustomerID, Item: o.Item, Quantity: o.Quantity, Time: o.Time}
}

func (r orderRecord) toDomain() domain.Order {
	return domain.Order{ID: r.ID, CustomerID: r.CustomerID, Item: r.Item, Quantity: r.Quantity, Time: r.Time.UTC()}
}

// GormStore реализация репозиториев поверх gorm + SQLite
type GormStore struct {
	db *gorm.DB
}

// GormOrders репозиторий заказов, разделяет соединение с GormStore
type GormOrders struct{ store *GormStore }

// GormTx транзакции gorm; открытая транзакция едет в контексте
type GormTx struct{ store *GormStore }

var (
	_ CustomerRepository = (*GormStore)(nil)
	_ OrderRepository    = (*GormOrders)(nil)
	_ TxManager          = (*GormTx)(nil)
)

// OpenGorm открывает SQLite по DSN, например "file:ordersms.db?_foreign_keys=on"
func OpenGorm(dsn string) (*Stores, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// SQLite allows a single writer; one connection avoids "database is locked".
	sqlDB.SetMaxOpenConns(1)
	return NewGormStores(db), nil
}

// NewGormStores собирает Stores поверх готового *gorm.DB
func NewGormStores(db *gorm.DB) *Stores {
	store := &GormStore{db: db}
	return &Stores{
		Customers: store,
		Orders:    &GormOrders{store: store},
		Tx:        &GormTx{store: store},
		migrate:   store.Migrate,
		close: func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	}
}

// Migrate создаёт таблицы, индексы и внешние ключи
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&customerRecord{}, &orderRecord{})
}

type gormTxKey struct{}

func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(gormTxKey{}).(*gorm.DB); ok {
		return tx
	}
	return s.db.WithContext(ctx)
}

func (t *GormTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(gormTxKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return t.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, gormTxKey{}, tx))
	})
}

// isUniqueViolation распознаёт нарушение UNIQUE и через перевод gorm, и по коду sqlite3
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// CustomerRepository implementation
func (s *GormStore) Create(ctx context.Context, c *domain.Customer) error {
	rec := toCustomerRecord(c)
	rec.ID = 0
	if err := s.conn(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCode
		}
		return err
	}
	c.ID = rec.ID
	return nil
}

func (s *GormStore) GetByID(ctx context.Context, id int64) (*domain.Customer, error) {
	var rec customerRecord
	if err := s.conn(ctx).First(&rec, id).Error; err != nil {
		return nil, notFound(err)
	}
	c := rec.toDomain()
	return &c, nil
}

func (s *GormStore) GetByCode(ctx context.Context, code string) (*domain.Customer, error) {
	var rec customerRecord
	if err := s.conn(ctx).Where("code = ?", code).First(&rec).Error; err != nil {
		return nil, notFound(err)
	}
	c := rec.toDomain()
	return &c, nil
}

func (s *GormStore) Update(ctx context.Context, c *domain.Customer) error {
	rec := toCustomerRecord(c)
	res := s.conn(ctx).Model(&customerRecord{ID: c.ID}).
		Select("Name", "Code", "Phone").
		Updates(&rec)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return ErrDuplicateCode
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetByID(ctx, c.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, id int64) error {
	db := s.conn(ctx)
	var refs int64
	if err := db.Model(&orderRecord{}).Where("customer_id = ?", id).Count(&refs).Error; err != nil {
		return err
	}
	if refs > 0 {
		return ErrCustomerInUse
	}
	res := db.Delete(&customerRecord{}, id)
	if res.Error != nil {
		if isForeignKeyViolation(res.Error) {
			return ErrCustomerInUse
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) List(ctx context.Context, f CustomerFilter) ([]domain.Customer, error) {
	q := s.conn(ctx).Order("id")
	if f.NameSubstring != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(f.NameSubstring)+"%")
	}
	if f.Code != "" {
		q = q.Where("code = ?", f.Code)
	}
	var recs []customerRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Customer, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// OrderRepository implementation
func (g *GormOrders) Create(ctx context.Context, o *domain.Order) error {
	// FK enforcement depends on the _foreign_keys DSN flag, check explicitly as well
	if _, err := g.store.GetByID(ctx, o.CustomerID); err != nil {
		return err
	}
	rec := toOrderRecord(o)
	rec.ID = 0
	if err := g.store.conn(ctx).Create(&rec).Error; err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return err
	}
	o.ID = rec.ID
	return nil
}

func (g *GormOrders) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	var rec orderRecord
	if err := g.store.conn(ctx).First(&rec, id).Error; err != nil {
		return nil, notFound(err)
	}
	o := rec.toDomain()
	return &o, nil
}

func (g *GormOrders) Update(ctx context.Context, o *domain.Order) error {
	if _, err := g.GetByID(ctx, o.ID); err != nil {
		return err
	}
	if _, err := g.store.GetByID(ctx, o.CustomerID); err != nil {
		return err
	}
	rec := toOrderRecord(o)
	res := g.store.conn(ctx).Model(&orderRecord{ID: o.ID}).
		Select("CustomerID", "Item", "Quantity").
		Updates(&rec)
	if res.Error != nil {
		if isForeignKeyViolation(res.Error) {
			return ErrNotFound
		}
		return res.Error
	}
	stored, err := g.GetByID(ctx, o.ID)
	if err != nil {
		return err
	}
	o.Time = stored.Time
	return nil
}

func (g *GormOrders) Delete(ctx context.Context, id int64) error {
	res := g.store.conn(ctx).Delete(&orderRecord{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *GormOrders) List(ctx context.Context, f OrderFilter) ([]domain.Order, error) {
	q := g.store.conn(ctx).Order("id")
	if f.CustomerID != nil {
		q = q.Where("customer_id = ?", *f.CustomerID)
	}
	var recs []orderRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (g *GormOrders) CountByCustomer(ctx context.Context, customerID int64) (int64, error) {
	var n int64
	err := g.store.conn(ctx).Model(&orderRecord{}).Where("customer_id = ?", customerID).Count(&n).Error
	return n, err
}
