package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"ordersms/internal/domain"
	"ordersms/internal/repository"
)

func setupCS(t *testing.T) (*CustomerService, *repository.Stores) {
	t.Helper()
	stores := repository.NewMemoryStores()
	return NewCustomerService(stores.Customers, stores.Orders, stores.Tx, zaptest.NewLogger(t)), stores
}

func TestCustomer_Create_Valid(t *testing.T) {
	ctx := context.Background()
	cs, _ := setupCS(t)
	c, err := cs.Create(ctx, CustomerInput{Name: "John Doe", Code: "C001", Phone: "+254700000000"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.ID == 0 {
		t.Fatalf("expected id assigned")
	}
	got, err := cs.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *got != *c {
		t.Fatalf("stored customer differs: %+v vs %+v", got, c)
	}
}

func TestCustomer_Create_Invalid(t *testing.T) {
	ctx := context.Background()
	cs, _ := setupCS(t)
	cases := []struct {
		name  string
		in    CustomerInput
		field string
	}{
		{"missing name", CustomerInput{Code: "C1", Phone: "+254700000000"}, "name"},
		{"blank code", CustomerInput{Name: "Jane Doe", Code: "  ", Phone: "+254711111111"}, "code"},
		{"short phone", CustomerInput{Name: "Jane Doe", Code: "C2", Phone: "123"}, "phone"},
		{"letters in phone", CustomerInput{Name: "Jane Doe", Code: "C2", Phone: "+2547abc"}, "phone"},
		{"too long phone", CustomerInput{Name: "Jane Doe", Code: "C2", Phone: "+1234567890123456"}, "phone"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := cs.Create(ctx, tc.in)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if _, ok := verr.Fields[tc.field]; !ok {
				t.Fatalf("expected error on %q, got %v", tc.field, verr.Fields)
			}
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("validation error must match ErrInvalidInput")
			}
		})
	}
}

func TestCustomer_DuplicateCode(t *testing.T) {
	ctx := context.Background()
	cs, _ := setupCS(t)
	if _, err := cs.Create(ctx, CustomerInput{Name: "John Doe", Code: "C001", Phone: "+254700000000"}); err != nil {
		t.Fatal(err)
	}
	_, err := cs.Create(ctx, CustomerInput{Name: "John Doe", Code: "C001", Phone: "+254700000000"})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Fields["code"] == "" {
		t.Fatalf("expected code error, got %v", err)
	}
	list, _ := cs.List(ctx, repository.CustomerFilter{})
	if len(list) != 1 {
		t.Fatalf("count changed: %d", len(list))
	}
}

func TestCustomer_UpdateAndPatch(t *testing.T) {
	ctx := context.Background()
	cs, _ := setupCS(t)
	a, _ := cs.Create(ctx, CustomerInput{Name: "A", Code: "C1", Phone: "+254700000001"})
	b, _ := cs.Create(ctx, CustomerInput{Name: "B", Code: "C2", Phone: "+254700000002"})

	// PUT keeps own code
	u, err := cs.Update(ctx, a.ID, CustomerInput{Name: "A2", Code: "C1", Phone: "+254700000009"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if u.Name != "A2" || u.Phone != "+254700000009" {
		t.Fatalf("update not applied: %+v", u)
	}

	// PATCH only the name
	name := "B2"
	p, err := cs.Patch(ctx, b.ID, CustomerPatch{Name: &name})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if p.Name != "B2" || p.Code != "C2" {
		t.Fatalf("patch not applied: %+v", p)
	}

	// PATCH into a taken code
	taken := "C1"
	if _, err := cs.Patch(ctx, b.ID, CustomerPatch{Code: &taken}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected validation error, got %v", err)
	}

	// PATCH with bad phone
	bad := "0700"
	if _, err := cs.Patch(ctx, b.ID, CustomerPatch{Phone: &bad}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected validation error, got %v", err)
	}

	if _, err := cs.Update(ctx, 999, CustomerInput{Name: "X", Code: "X", Phone: "+254700000000"}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCustomer_DeleteRestrictedByOrders(t *testing.T) {
	ctx := context.Background()
	cs, stores := setupCS(t)
	c, _ := cs.Create(ctx, CustomerInput{Name: "A", Code: "C1", Phone: "+254700000001"})
	o := domain.Order{CustomerID: c.ID, Item: "Laptop", Quantity: decimal.NewFromInt(1)}
	if err := stores.Orders.Create(ctx, &o); err != nil {
		t.Fatal(err)
	}
	if err := cs.Delete(ctx, c.ID); !errors.Is(err, ErrCustomerHasOrders) {
		t.Fatalf("expected ErrCustomerHasOrders, got %v", err)
	}
	if err := stores.Orders.Delete(ctx, o.ID); err != nil {
		t.Fatal(err)
	}
	if err := cs.Delete(ctx, c.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := cs.Delete(ctx, c.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
