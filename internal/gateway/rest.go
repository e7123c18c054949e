package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fjod/go_cart/cart-sync/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxResponseSize caps how much of a response body is read (1MB)
const maxResponseSize = 1 << 20

const (
	opReadCart      = "read_cart"
	opPatchQuantity = "patch_quantity"
	opDeleteItem    = "delete_item"
)

type Config struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration

	// RateLimit is the allowed requests per second; 0 disables limiting.
	RateLimit float64
	RateBurst int

	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration

	// DefaultMaxPerOrder fills max_per_order when the backend omits it.
	DefaultMaxPerOrder int
}

// RequestObserver receives the outcome of every backend round trip.
type RequestObserver interface {
	ObserveRequest(op, outcome string, elapsed time.Duration)
}

type RESTGateway struct {
	baseURL    string
	authToken  string
	defaultMax int
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[*rawResponse]
	observer   RequestObserver
	logger     *zap.Logger
}

type rawResponse struct {
	status int
	body   []byte
}

type Option func(*RESTGateway)

func WithLogger(logger *zap.Logger) Option {
	return func(g *RESTGateway) { g.logger = logger.Named("gateway") }
}

func WithObserver(observer RequestObserver) Option {
	return func(g *RESTGateway) { g.observer = observer }
}

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(client *http.Client) Option {
	return func(g *RESTGateway) { g.httpClient = client }
}

func NewRESTGateway(cfg Config, opts ...Option) (*RESTGateway, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid cart backend url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = 30 * time.Second
	}
	if cfg.DefaultMaxPerOrder <= 0 {
		cfg.DefaultMaxPerOrder = domain.DefaultMaxPerOrder
	}

	g := &RESTGateway{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		authToken:  cfg.AuthToken,
		defaultMax: cfg.DefaultMaxPerOrder,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: zap.NewNop(),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(g)
	}

	maxFailures := cfg.BreakerMaxFailures
	g.breaker = gobreaker.NewCircuitBreaker[*rawResponse](gobreaker.Settings{
		Name:        "cart-backend",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// a caller giving up says nothing about backend health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return g, nil
}

type itemDTO struct {
	ItemID            string           `json:"item_id"`
	Name              string           `json:"name"`
	UnitPrice         decimal.Decimal  `json:"unit_price"`
	OriginalUnitPrice *decimal.Decimal `json:"original_unit_price"`
	Quantity          int              `json:"quantity"`
	StockAvailable    int              `json:"stock_available"`
	MaxPerOrder       *int             `json:"max_per_order"`
}

type cartResponseDTO struct {
	Items    []itemDTO       `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

type updateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type errorResponseDTO struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (g *RESTGateway) ReadCart(ctx context.Context) (*domain.Snapshot, error) {
	raw, err := g.do(ctx, opReadCart, http.MethodGet, "/api/v1/cart", nil)
	if err != nil {
		return nil, err
	}

	var resp cartResponseDTO
	if err := json.Unmarshal(raw.body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode cart: %v", ErrMalformed, err)
	}

	snapshot := &domain.Snapshot{
		Items:    make([]domain.LineItem, 0, len(resp.Items)),
		Subtotal: resp.Subtotal,
	}
	seen := make(map[string]struct{}, len(resp.Items))
	for _, dto := range resp.Items {
		if dto.ItemID == "" {
			return nil, fmt.Errorf("%w: item without item_id", ErrMalformed)
		}
		if _, dup := seen[dto.ItemID]; dup {
			return nil, fmt.Errorf("%w: duplicate item %q", ErrMalformed, dto.ItemID)
		}
		seen[dto.ItemID] = struct{}{}

		maxPerOrder := g.defaultMax
		if dto.MaxPerOrder != nil {
			maxPerOrder = *dto.MaxPerOrder
		}
		snapshot.Items = append(snapshot.Items, domain.LineItem{
			ItemID:            dto.ItemID,
			Name:              dto.Name,
			UnitPrice:         dto.UnitPrice,
			OriginalUnitPrice: dto.OriginalUnitPrice,
			Quantity:          dto.Quantity,
			StockAvailable:    max(dto.StockAvailable, 0),
			MaxPerOrder:       maxPerOrder,
		})
	}

	return snapshot, nil
}

func (g *RESTGateway) PatchQuantity(ctx context.Context, itemID string, quantity int) (*domain.PatchResult, error) {
	raw, err := g.do(ctx, opPatchQuantity, http.MethodPut, itemPath(itemID), updateQuantityRequestDTO{Quantity: quantity})
	if err != nil {
		return nil, err
	}

	var result domain.PatchResult
	if err := json.Unmarshal(raw.body, &result); err != nil {
		return nil, fmt.Errorf("%w: decode patch result: %v", ErrMalformed, err)
	}
	if !result.Success {
		return &result, fmt.Errorf("%w: %s", ErrRejected, result.Message)
	}
	return &result, nil
}

func (g *RESTGateway) DeleteItem(ctx context.Context, itemID string) (*domain.DeleteResult, error) {
	raw, err := g.do(ctx, opDeleteItem, http.MethodDelete, itemPath(itemID), nil)
	if err != nil {
		var apiErr *APIError
		// already gone is what we asked for
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return &domain.DeleteResult{Success: true, Message: apiErr.Message}, nil
		}
		return nil, err
	}

	var result domain.DeleteResult
	if len(raw.body) == 0 {
		return &domain.DeleteResult{Success: true}, nil
	}
	if err := json.Unmarshal(raw.body, &result); err != nil {
		return nil, fmt.Errorf("%w: decode delete result: %v", ErrMalformed, err)
	}
	if !result.Success {
		return &result, fmt.Errorf("%w: %s", ErrRejected, result.Message)
	}
	return &result, nil
}

func itemPath(itemID string) string {
	return "/api/v1/cart/items/" + url.PathEscape(itemID)
}

// do sends one request through the limiter and the circuit breaker.
// Transport failures and 5xx count against the breaker, 4xx do not.
func (g *RESTGateway) do(ctx context.Context, op, method, path string, body any) (*rawResponse, error) {
	start := time.Now()
	raw, err := g.send(ctx, method, path, body)
	if err == nil && raw.status >= 300 {
		err = decodeAPIError(raw)
	}
	g.observe(op, start, err)
	if err != nil {
		g.logger.Debug("cart backend request failed",
			zap.String("op", op),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	return raw, nil
}

func (g *RESTGateway) send(ctx context.Context, method, path string, body any) (*rawResponse, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	return g.breaker.Execute(func() (*rawResponse, error) {
		req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-ID", uuid.NewString())
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if g.authToken != "" {
			req.Header.Set("Authorization", "Bearer "+g.authToken)
		}

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		raw := &rawResponse{status: resp.StatusCode, body: data}
		if resp.StatusCode >= 500 {
			return nil, decodeAPIError(raw)
		}
		return raw, nil
	})
}

func decodeAPIError(raw *rawResponse) *APIError {
	apiErr := &APIError{Status: raw.status, Message: http.StatusText(raw.status)}
	var body errorResponseDTO
	if err := json.Unmarshal(raw.body, &body); err == nil && body.Error != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
		apiErr.Details = body.Details
	}
	return apiErr
}

func (g *RESTGateway) observe(op string, start time.Time, err error) {
	if g.observer == nil {
		return
	}
	outcome := "ok"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		outcome = "breaker_open"
	case err != nil:
		outcome = "error"
	}
	g.observer.ObserveRequest(op, outcome, time.Since(start))
}
