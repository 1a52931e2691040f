// Package notify отправляет SMS о созданных заказах через HTTP-шлюз
// (API совместим с Africa's Talking messaging).
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"ordersms/internal/domain"
)

const maxResponseBytes = 1 << 20

var ErrProvider = errors.New("sms provider error")

// Config параметры SMS-шлюза
type Config struct {
	URL      string
	APIKey   string
	Username string
	SenderID string
	Timeout  time.Duration
}

// SMSClient отправляет одно сообщение на один номер; повторов нет
type SMSClient struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

func NewSMSClient(cfg Config, log *zap.Logger) *SMSClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMSClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.Named("sms"),
	}
}

// Message текст уведомления о заказе
func Message(c domain.Customer, o domain.Order) string {
	return fmt.Sprintf("Hello %s, your order for %s of %s at %s has been placed.",
		c.Name, o.Quantity.String(), o.Item, o.Time.Format("2006-01-02 15:04:05 MST"))
}

// OrderPlaced отправляет SMS клиенту и возвращает JSON-ответ шлюза
func (s *SMSClient) OrderPlaced(ctx context.Context, c domain.Customer, o domain.Order) (json.RawMessage, error) {
	return s.Send(ctx, c.Phone, Message(c, o))
}

// Send один POST в шлюз. Ошибка транспорта, не-2xx статус или не-JSON тело считаются ошибкой.
func (s *SMSClient) Send(ctx context.Context, to, message string) (json.RawMessage, error) {
	form := url.Values{}
	form.Set("username", s.cfg.Username)
	form.Set("to", to)
	form.Set("message", message)
	if s.cfg.SenderID != "" {
		form.Set("from", s.cfg.SenderID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("apiKey", s.cfg.APIKey)

	start := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read sms response: %w", err)
	}
	s.log.Debug("sms gateway responded",
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, truncate(body, 256))
	}
	if !gojson.Valid(body) {
		return nil, fmt.Errorf("%w: response is not JSON: %s", ErrProvider, truncate(body, 256))
	}
	return json.RawMessage(body), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Nop используется, когда шлюз не настроен: заказ создаётся, SMS не уходит
type Nop struct {
	log *zap.Logger
}

func NewNop(log *zap.Logger) *Nop { return &Nop{log: log.Named("sms")} }

func (n *Nop) OrderPlaced(_ context.Context, c domain.Customer, o domain.Order) (json.RawMessage, error) {
	n.log.Info("sms gateway not configured, skipping notification", zap.Int64("order_id", o.ID), zap.Int64("customer_id", c.ID))
	return nil, nil
}
