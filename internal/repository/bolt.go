package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"

	"ordersms/internal/domain"
)

var (
	customersBucket     = []byte("customers")
	customerCodesBucket = []byte("customer_codes")
	ordersBucket        = []byte("orders")
)

// BoltStore реализация репозиториев во встроенном key/value хранилище BoltDB.
// Значения лежат в JSON, ключи: id в big-endian. Уникальность code держит
// отдельный бакет customer_codes (code -> id).
type BoltStore struct {
	db *bolt.DB
}

// BoltOrders репозиторий заказов поверх того же файла
type BoltOrders struct{ store *BoltStore }

// BoltTx транзакции BoltDB; открытая транзакция едет в контексте
type BoltTx struct{ store *BoltStore }

var (
	_ CustomerRepository = (*BoltStore)(nil)
	_ OrderRepository    = (*BoltOrders)(nil)
	_ TxManager          = (*BoltTx)(nil)
)

// OpenBolt открывает (или создаёт) файл базы по пути path
func OpenBolt(path string) (*Stores, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	store := &BoltStore{db: db}
	return &Stores{
		Customers: store,
		Orders:    &BoltOrders{store: store},
		Tx:        &BoltTx{store: store},
		migrate:   store.Migrate,
		close:     db.Close,
	}, nil
}

// Migrate создаёт бакеты, если их ещё нет
func (s *BoltStore) Migrate(ctx context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{customersBucket, customerCodesBucket, ordersBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
}

type boltTxKey struct{}

func (s *BoltStore) view(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if tx, ok := ctx.Value(boltTxKey{}).(*bolt.Tx); ok {
		return fn(tx)
	}
	return s.db.View(fn)
}

func (s *BoltStore) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if tx, ok := ctx.Value(boltTxKey{}).(*bolt.Tx); ok {
		return fn(tx)
	}
	return s.db.Update(fn)
}

func (t *BoltTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(boltTxKey{}).(*bolt.Tx); ok {
		return fn(ctx)
	}
	return t.store.db.Update(func(tx *bolt.Tx) error {
		return fn(context.WithValue(ctx, boltTxKey{}, tx))
	})
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func getJSON(b *bolt.Bucket, id int64, out any) error {
	v := b.Get(itob(id))
	if v == nil {
		return ErrNotFound
	}
	return json.Unmarshal(v, out)
}

func putJSON(b *bolt.Bucket, id int64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(itob(id), data)
}

func hasOrders(tx *bolt.Tx, customerID int64) (bool, error) {
	found := false
	err := tx.Bucket(ordersBucket).ForEach(func(_, v []byte) error {
		var o domain.Order
		if err := json.Unmarshal(v, &o); err != nil {
			return err
		}
		if o.CustomerID == customerID {
			found = true
		}
		return nil
	})
	return found, err
}

// CustomerRepository implementation
func (s *BoltStore) Create(ctx context.Context, c *domain.Customer) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		codes := tx.Bucket(customerCodesBucket)
		if codes.Get([]byte(c.Code)) != nil {
			return ErrDuplicateCode
		}
		b := tx.Bucket(customersBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		c.ID = int64(seq)
		if err := codes.Put([]byte(c.Code), itob(c.ID)); err != nil {
			return err
		}
		return putJSON(b, c.ID, c)
	})
}

func (s *BoltStore) GetByID(ctx context.Context, id int64) (*domain.Customer, error) {
	var c domain.Customer
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(customersBucket), id, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) GetByCode(ctx context.Context, code string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.view(ctx, func(tx *bolt.Tx) error {
		id := tx.Bucket(customerCodesBucket).Get([]byte(code))
		if id == nil {
			return ErrNotFound
		}
		return getJSON(tx.Bucket(customersBucket), btoi(id), &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) Update(ctx context.Context, c *domain.Customer) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(customersBucket)
		var old domain.Customer
		if err := getJSON(b, c.ID, &old); err != nil {
			return err
		}
		codes := tx.Bucket(customerCodesBucket)
		if owner := codes.Get([]byte(c.Code)); owner != nil && btoi(owner) != c.ID {
			return ErrDuplicateCode
		}
		if err := codes.Delete([]byte(old.Code)); err != nil {
			return err
		}
		if err := codes.Put([]byte(c.Code), itob(c.ID)); err != nil {
			return err
		}
		return putJSON(b, c.ID, c)
	})
}

func (s *BoltStore) Delete(ctx context.Context, id int64) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(customersBucket)
		var c domain.Customer
		if err := getJSON(b, id, &c); err != nil {
			return err
		}
		inUse, err := hasOrders(tx, id)
		if err != nil {
			return err
		}
		if inUse {
			return ErrCustomerInUse
		}
		if err := tx.Bucket(customerCodesBucket).Delete([]byte(c.Code)); err != nil {
			return err
		}
		return b.Delete(itob(id))
	})
}

func (s *BoltStore) List(ctx context.Context, f CustomerFilter) ([]domain.Customer, error) {
	out := make([]domain.Customer, 0)
	err := s.view(ctx, func(tx *bolt.Tx) error {
		// keys are big-endian ids, so ForEach walks in id order
		return tx.Bucket(customersBucket).ForEach(func(_, v []byte) error {
			var c domain.Customer
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if f.match(c) {
				out = append(out, c)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OrderRepository implementation
func (bo *BoltOrders) Create(ctx context.Context, o *domain.Order) error {
	return bo.store.update(ctx, func(tx *bolt.Tx) error {
		if tx.Bucket(customersBucket).Get(itob(o.CustomerID)) == nil {
			return ErrNotFound
		}
		b := tx.Bucket(ordersBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		o.ID = int64(seq)
		return putJSON(b, o.ID, o)
	})
}

func (bo *BoltOrders) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	var o domain.Order
	err := bo.store.view(ctx, func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(ordersBucket), id, &o)
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (bo *BoltOrders) Update(ctx context.Context, o *domain.Order) error {
	return bo.store.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(ordersBucket)
		var old domain.Order
		if err := getJSON(b, o.ID, &old); err != nil {
			return err
		}
		if tx.Bucket(customersBucket).Get(itob(o.CustomerID)) == nil {
			return ErrNotFound
		}
		o.Time = old.Time
		return putJSON(b, o.ID, o)
	})
}

func (bo *BoltOrders) Delete(ctx context.Context, id int64) error {
	return bo.store.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(ordersBucket)
		if b.Get(itob(id)) == nil {
			return ErrNotFound
		}
		return b.Delete(itob(id))
	})
}

func (bo *BoltOrders) List(ctx context.Context, f OrderFilter) ([]domain.Order, error) {
	out := make([]domain.Order, 0)
	err := bo.store.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(ordersBucket).ForEach(func(_, v []byte) error {
			var o domain.Order
			if err := json.Unmarshal(v, &o); err != nil {
				return err
			}
			if f.match(o) {
				out = append(out, o)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (bo *BoltOrders) CountByCustomer(ctx context.Context, customerID int64) (int64, error) {
	var n int64
	err := bo.store.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(ordersBucket).ForEach(func(_, v []byte) error {
			var o domain.Order
			if err := json.Unmarshal(v, &o); err != nil {
				return err
			}
			if o.CustomerID == customerID {
				n++
			}
			return nil
		})
	})
	return n, err
}
