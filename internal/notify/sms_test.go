package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ordersms/internal/domain"
)

func fixture() (domain.Customer, domain.Order) {
	c := domain.Customer{ID: 1, Name: "John Doe", Code: "C001", Phone: "+254700000000"}
	o := domain.Order{
		ID:         7,
		CustomerID: 1,
		Item:       "Laptop",
		Quantity:   decimal.RequireFromString("999.99"),
		Time:       time.Date(2025, 10, 19, 9, 30, 0, 0, time.UTC),
	}
	return c, o
}

func TestMessage_ContainsAllFields(t *testing.T) {
	c, o := fixture()
	msg := Message(c, o)
	for _, want := range []string{"John Doe", "Laptop", "999.99", "2025-10-19 09:30:00"} {
		assert.Contains(t, msg, want)
	}
}

func TestSMSClient_SendsForm(t *testing.T) {
	c, o := fixture()
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("apiKey"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "sandbox", r.PostForm.Get("username"))
		assert.Equal(t, "+254700000000", r.PostForm.Get("to"))
		assert.Equal(t, "SHOP", r.PostForm.Get("from"))
		assert.Equal(t, Message(c, o), r.PostForm.Get("message"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"SMSMessageData":{"Message":"Sent to 1/1 Total Cost: KES 0.8000"}}`))
	}))
	defer srv.Close()

	client := NewSMSClient(Config{URL: srv.URL, APIKey: "secret", Username: "sandbox", SenderID: "SHOP", Timeout: time.Second}, zaptest.NewLogger(t))
	resp, err := client.OrderPlaced(context.Background(), c, o)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, strings.Contains(string(resp), "Sent to 1/1"))
}

func TestSMSClient_ProviderErrorStatus(t *testing.T) {
	c, o := fixture()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "The supplied authentication is invalid", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewSMSClient(Config{URL: srv.URL, APIKey: "bad", Username: "sandbox"}, zaptest.NewLogger(t))
	_, err := client.OrderPlaced(context.Background(), c, o)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProvider))
}

func TestSMSClient_NonJSONBody(t *testing.T) {
	c, o := fixture()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>gateway</html>"))
	}))
	defer srv.Close()

	client := NewSMSClient(Config{URL: srv.URL, Username: "sandbox"}, zaptest.NewLogger(t))
	_, err := client.OrderPlaced(context.Background(), c, o)
	assert.ErrorIs(t, err, ErrProvider)
}

func TestSMSClient_Timeout(t *testing.T) {
	c, o := fixture()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewSMSClient(Config{URL: srv.URL, Username: "sandbox", Timeout: 50 * time.Millisecond}, zaptest.NewLogger(t))
	start := time.Now()
	_, err := client.OrderPlaced(context.Background(), c, o)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSMSClient_Unreachable(t *testing.T) {
	c, o := fixture()
	client := NewSMSClient(Config{URL: "http://127.0.0.1:1/version1/messaging", Username: "sandbox", Timeout: time.Second}, zaptest.NewLogger(t))
	_, err := client.OrderPlaced(context.Background(), c, o)
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	c, o := fixture()
	resp, err := NewNop(zaptest.NewLogger(t)).OrderPlaced(context.Background(), c, o)
	assert.NoError(t, err)
	assert.Nil(t, resp)
}
