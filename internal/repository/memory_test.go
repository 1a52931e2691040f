package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ordersms/internal/domain"
)

func TestMemoryStore_CustomerCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	c := domain.Customer{Name: "John Doe", Code: "C001", Phone: "+254700000000"}
	if err := store.Create(ctx, &c); err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.ID == 0 {
		t.Fatalf("no id")
	}

	got, err := store.GetByID(ctx, c.ID)
	if err != nil || got.ID != c.ID {
		t.Fatalf("get: %v", err)
	}

	c.Code = "C002"
	if err := store.Update(ctx, &c); err != nil {
		t.Fatalf("update: %v", err)
	}
	// old code must be free again
	if _, err := store.GetByCode(ctx, "C001"); err != ErrNotFound {
		t.Fatalf("expected old code released, got %v", err)
	}

	if err := store.Delete(ctx, c.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetByID(ctx, c.ID); err == nil {
		t.Fatalf("expected not found")
	}
}

func TestMemoryTx_TransactionalCreate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tx := NewMemoryTx(store)
	orders := NewMemoryOrders(store)

	c := domain.Customer{Name: "A", Code: "C1", Phone: "+254711111111"}
	if err := store.Create(ctx, &c); err != nil {
		t.Fatal(err)
	}

	// emulate atomic "check customer, then create order"
	err := tx.WithTransaction(ctx, func(ctx context.Context) error {
		cc, err := store.GetByID(ctx, c.ID)
		if err != nil {
			return err
		}
		o := domain.Order{CustomerID: cc.ID, Item: "Laptop", Quantity: decimal.NewFromInt(1), Time: time.Now().UTC()}
		return orders.Create(ctx, &o)
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	n, _ := orders.CountByCustomer(context.Background(), c.ID)
	if n != 1 {
		t.Fatalf("orders expected 1, got %v", n)
	}
}

func TestList_Filtering(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	add := func(n, code string) {
		c := domain.Customer{Name: n, Code: code, Phone: "+254700000000"}
		if err := store.Create(ctx, &c); err != nil {
			t.Fatal(err)
		}
	}
	add("John Doe", "C1")
	add("Jane Doe", "C2")
	add("Ali Hassan", "C3")

	// name contains
	list, _ := store.List(ctx, CustomerFilter{NameSubstring: "doe"})
	if len(list) != 2 {
		t.Fatalf("name filter expected 2, got %d", len(list))
	}

	// exact code
	list, _ = store.List(ctx, CustomerFilter{Code: "C3"})
	if len(list) != 1 || list[0].Name != "Ali Hassan" {
		t.Fatalf("code filter fail: %+v", list)
	}

	// ordered by id
	list, _ = store.List(ctx, CustomerFilter{})
	for i := 1; i < len(list); i++ {
		if list[i-1].ID > list[i].ID {
			t.Fatalf("list not ordered by id")
		}
	}
}
