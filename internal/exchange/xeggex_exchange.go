package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"grid-trading-bot-go/internal/apperrors"
	"grid-trading-bot-go/internal/models"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultXeggexURL is the Xeggex REST v2 endpoint.
const DefaultXeggexURL = "https://api.xeggex.com/api/v2"

// XeggexOptions configures the Xeggex REST client.
type XeggexOptions struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
	RateLimit float64 // requests per second
	RateBurst int

	MaxRetries   int
	RetryBackoff time.Duration // initial backoff, doubled up to 20x
}

// APIError is a non-2xx answer from the exchange.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error: status=%d message=%s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Unwrap classifies the error into the shared taxonomy.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound || strings.Contains(strings.ToLower(e.Message), "not found"):
		return apperrors.ErrOrderNotFound
	case e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests:
		return apperrors.ErrTransientNetwork
	}
	return nil
}

// XeggexExchange implements Exchange against the Xeggex REST v2 API.
// Reads are retried with backoff; writes are not, since a retried create could double an order.
// Both go through a shared circuit breaker and a request rate limiter.
type XeggexExchange struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	limiter    *rate.Limiter
	reads      failsafe.Executor[*http.Response]
	writes     failsafe.Executor[*http.Response]
	logger     *zap.Logger
}

func NewXeggexExchange(opts XeggexOptions, logger *zap.Logger) *XeggexExchange {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultXeggexURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 10
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 100 * time.Millisecond
	}

	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			// Retry on network errors, rate limiting or 5xx server errors
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		}).
		WithBackoff(opts.RetryBackoff, 20*opts.RetryBackoff).
		WithMaxRetries(opts.MaxRetries).
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(10 * time.Second).
		Build()

	return &XeggexExchange{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		apiSecret:  opts.APISecret,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		reads:      failsafe.With[*http.Response](retryPolicy, breaker),
		writes:     failsafe.With[*http.Response](breaker),
		logger:     logger,
	}
}

// --- wire types ---

type xeggexTicker struct {
	LastPrice decimal.Decimal `json:"last_price"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
}

type xeggexBalance struct {
	Asset     string          `json:"asset"`
	Available decimal.Decimal `json:"available"`
	Free      decimal.Decimal `json:"free"`
	Held      decimal.Decimal `json:"held"`
	Locked    decimal.Decimal `json:"locked"`
}

type xeggexOrder struct {
	ID               string          `json:"id"`
	UserProvidedID   string          `json:"userProvidedId"`
	Symbol           string          `json:"symbol"`
	Side             string          `json:"side"`
	Price            decimal.Decimal `json:"price"`
	Quantity         decimal.Decimal `json:"quantity"`
	ExecutedQuantity decimal.Decimal `json:"executedQuantity"`
	Status           string          `json:"status"`
	CreatedAt        int64           `json:"createdAt"`
}

type xeggexCreateOrder struct {
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Type           string `json:"type"`
	Quantity       string `json:"quantity"`
	Price          string `json:"price"`
	UserProvidedID string `json:"userProvidedId"`
	StrictValidate bool   `json:"strictValidate"`
}

func (o xeggexOrder) toModel() (models.Order, error) {
	side, err := models.ParseSide(o.Side)
	if err != nil {
		return models.Order{}, err
	}
	order := models.Order{
		ID:               o.ID,
		Symbol:           o.Symbol,
		Side:             side,
		Price:            o.Price.InexactFloat64(),
		Quantity:         o.Quantity.InexactFloat64(),
		ExecutedQuantity: o.ExecutedQuantity.InexactFloat64(),
		Status:           normalizeStatus(o.Status),
	}
	if o.CreatedAt > 0 {
		order.CreatedAt = time.UnixMilli(o.CreatedAt).UTC()
	}
	return order, nil
}

func normalizeStatus(s string) string {
	switch strings.ToLower(s) {
	case "filled", "closed":
		return models.OrderStatusFilled
	case "cancelled", "canceled", "expired", "rejected":
		return models.OrderStatusCancelled
	}
	return models.OrderStatusActive
}

// --- Exchange implementation ---

func (e *XeggexExchange) GetTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	data, err := e.doRequest(ctx, http.MethodGet, "/ticker/"+url.PathEscape(symbol), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get ticker %s: %w", symbol, err)
	}
	var t xeggexTicker
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode ticker %s: %w", symbol, err)
	}
	return &models.Ticker{
		Symbol:    symbol,
		LastPrice: t.LastPrice.InexactFloat64(),
		High24h:   t.High.InexactFloat64(),
		Low24h:    t.Low.InexactFloat64(),
	}, nil
}

func (e *XeggexExchange) GetBalances(ctx context.Context) ([]models.Balance, error) {
	data, err := e.doRequest(ctx, http.MethodGet, "/balances", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get balances: %w", err)
	}
	var raw []xeggexBalance
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode balances: %w", err)
	}
	balances := make([]models.Balance, 0, len(raw))
	for _, b := range raw {
		available, held := b.Available, b.Held
		if available.IsZero() {
			available = b.Free
		}
		if held.IsZero() {
			held = b.Locked
		}
		balances = append(balances, models.Balance{
			Asset:     strings.ToUpper(b.Asset),
			Available: available.InexactFloat64(),
			Held:      held.InexactFloat64(),
		})
	}
	return balances, nil
}

func (e *XeggexExchange) GetOpenOrders(ctx context.Context, symbol string, limit, offset int) ([]models.Order, error) {
	params := url.Values{}
	params.Set("status", "active")
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("skip", strconv.Itoa(offset))

	data, err := e.doRequest(ctx, http.MethodGet, "/getorders", params, nil)
	if err != nil {
		return nil, fmt.Errorf("get open orders %s: %w", symbol, err)
	}
	var raw []xeggexOrder
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode open orders %s: %w", symbol, err)
	}
	orders := make([]models.Order, 0, len(raw))
	for _, o := range raw {
		order, err := o.toModel()
		if err != nil {
			e.logger.Warn("Skipping open order with unknown side", zap.String("id", o.ID), zap.Error(err))
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (e *XeggexExchange) CreateLimitOrder(ctx context.Context, symbol string, side models.Side, quantity, price float64) (*models.Order, error) {
	body := xeggexCreateOrder{
		Symbol:         symbol,
		Side:           string(side),
		Type:           "limit",
		Quantity:       decimal.NewFromFloat(quantity).String(),
		Price:          decimal.NewFromFloat(price).String(),
		UserProvidedID: NewClientOrderID(),
	}
	data, err := e.doRequest(ctx, http.MethodPost, "/createorder", nil, body)
	if err != nil {
		return nil, fmt.Errorf("create %s order %s @ %v: %w", side, symbol, price, err)
	}
	var raw xeggexOrder
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode created order: %w", err)
	}
	if raw.ID == "" {
		return nil, fmt.Errorf("create %s order %s: response carries no order id", side, symbol)
	}
	order, err := raw.toModel()
	if err != nil {
		// The venue accepted the order; fall back to what was requested.
		order = models.Order{ID: raw.ID, Side: side, Status: models.OrderStatusActive}
	}
	order.Symbol = symbol
	if order.Price == 0 {
		order.Price = price
	}
	if order.Quantity == 0 {
		order.Quantity = quantity
	}
	return &order, nil
}

func (e *XeggexExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := e.doRequest(ctx, http.MethodPost, "/cancelorder", nil, map[string]string{"id": orderID})
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}

func (e *XeggexExchange) GetOrder(ctx context.Context, symbol, orderID string) (*models.Order, error) {
	data, err := e.doRequest(ctx, http.MethodGet, "/getorder/"+url.PathEscape(orderID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	var raw xeggexOrder
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", orderID, err)
	}
	order, err := raw.toModel()
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", orderID, err)
	}
	return &order, nil
}

// doRequest sends one API call through the resilience pipeline and returns the body of a 2xx answer.
func (e *XeggexExchange) doRequest(ctx context.Context, method, path string, params url.Values, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}
	fullURL := e.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	executor := e.writes
	if method == http.MethodGet {
		executor = e.reads
	}

	resp, err := executor.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if e.apiKey != "" {
			req.SetBasicAuth(e.apiKey, e.apiSecret)
		}
		if exec.Attempts() > 1 {
			e.logger.Debug("Retrying exchange request", zap.String("method", method), zap.String("path", path), zap.Int("attempt", exec.Attempts()))
		}
		r, err := e.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		// Buffer the body so responses dropped by a retry never leak a connection.
		data, readErr := io.ReadAll(r.Body)
		r.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		r.Body = io.NopCloser(bytes.NewReader(data))
		return r, nil
	})
	if resp == nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err == nil {
			err = errors.New("empty response")
		}
		return nil, fmt.Errorf("%s %s: %w: %w", method, path, apperrors.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: data}
		var msg struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &msg) == nil {
			apiErr.Message = msg.Message
			if apiErr.Message == "" {
				apiErr.Message = msg.Error
			}
		}
		return nil, apiErr
	}
	return data, nil
}
