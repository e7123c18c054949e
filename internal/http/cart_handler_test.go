package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/cart-sync/internal/domain"
	"github.com/fjod/go_cart/cart-sync/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type controllerMock struct {
	m         sync.Mutex
	view      domain.CartView
	applied   bool
	err       error
	deltas    []int
	removed   []string
	listeners []service.Listener
}

func (c *controllerMock) ApplyQuantityDelta(_ string, delta int) (bool, error) {
	c.m.Lock()
	defer c.m.Unlock()
	if c.err != nil {
		return false, c.err
	}
	c.deltas = append(c.deltas, delta)
	return c.applied, nil
}

func (c *controllerMock) RemoveItem(itemID string) error {
	c.m.Lock()
	defer c.m.Unlock()
	if c.err != nil {
		return c.err
	}
	c.removed = append(c.removed, itemID)
	return nil
}

func (c *controllerMock) Refresh(context.Context) error {
	c.m.Lock()
	defer c.m.Unlock()
	return c.err
}

func (c *controllerMock) Flush(context.Context) error {
	c.m.Lock()
	defer c.m.Unlock()
	return c.err
}

func (c *controllerMock) Snapshot() domain.CartView {
	c.m.Lock()
	defer c.m.Unlock()
	return c.view
}

func (c *controllerMock) Subscribe(l service.Listener) func() {
	c.m.Lock()
	defer c.m.Unlock()
	c.listeners = append(c.listeners, l)
	return func() {}
}

func (c *controllerMock) listenerCount() int {
	c.m.Lock()
	defer c.m.Unlock()
	return len(c.listeners)
}

func (c *controllerMock) emit(e service.Event) {
	c.m.Lock()
	listeners := append([]service.Listener(nil), c.listeners...)
	c.m.Unlock()
	for _, l := range listeners {
		l(e)
	}
}

func testView() domain.CartView {
	item := domain.LineItem{
		ItemID:         "sku-42",
		Name:           "Mug",
		UnitPrice:      decimal.RequireFromString("9.99"),
		Quantity:       2,
		StockAvailable: 3,
		MaxPerOrder:    5,
	}
	return domain.CartView{
		Items:    []domain.ItemView{domain.NewItemView(item, true)},
		Subtotal: decimal.RequireFromString("19.98"),
		Pending:  1,
		Version:  4,
	}
}

func setupRouter(t *testing.T, mock *controllerMock) http.Handler {
	t.Helper()
	handler := NewCartHandler(mock, time.Second, zap.NewNop())
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("cartsync_pending_items 1\n"))
	})
	return NewRouter(handler, metrics, zap.NewNop())
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestGetCart_Success(t *testing.T) {
	router := setupRouter(t, &controllerMock{view: testView()})

	rec := doRequest(t, router, http.MethodGet, "/api/v1/cart/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var view domain.CartView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	require.Len(t, view.Items, 1)
	assert.Equal(t, "sku-42", view.Items[0].ItemID)
	assert.Equal(t, 2, view.Items[0].Quantity)
	assert.True(t, view.Items[0].Pending)
	assert.True(t, view.Items[0].CanIncrement)
	assert.Equal(t, domain.Available, view.Items[0].Availability)
	assert.True(t, decimal.RequireFromString("19.98").Equal(view.Subtotal))
	assert.Equal(t, uint64(4), view.Version)
}

func TestApplyDelta(t *testing.T) {
	tests := []struct {
		name       string
		mock       *controllerMock
		body       string
		wantStatus int
		wantCode   string
		wantApply  bool
	}{
		{name: "applied", mock: &controllerMock{applied: true}, body: `{"delta":1}`, wantStatus: http.StatusOK, wantApply: true},
		{name: "at ceiling", mock: &controllerMock{applied: false}, body: `{"delta":1}`, wantStatus: http.StatusOK},
		{name: "invalid json", mock: &controllerMock{}, body: `{"delta":`, wantStatus: http.StatusBadRequest, wantCode: "invalid_request"},
		{name: "zero delta", mock: &controllerMock{}, body: `{"delta":0}`, wantStatus: http.StatusBadRequest, wantCode: "invalid_delta"},
		{name: "delta too large", mock: &controllerMock{}, body: `{"delta":100}`, wantStatus: http.StatusBadRequest, wantCode: "invalid_delta"},
		{name: "unknown item", mock: &controllerMock{err: service.ErrItemNotFound}, body: `{"delta":-1}`, wantStatus: http.StatusNotFound, wantCode: "item_not_found"},
		{name: "disposed", mock: &controllerMock{err: service.ErrDisposed}, body: `{"delta":-1}`, wantStatus: http.StatusServiceUnavailable, wantCode: "service_unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mock.view = testView()
			router := setupRouter(t, tt.mock)

			rec := doRequest(t, router, http.MethodPost, "/api/v1/cart/items/sku-42/delta", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code)

			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
				return
			}
			var resp DeltaResponseDTO
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.wantApply, resp.Applied)
			assert.Len(t, resp.Cart.Items, 1)
		})
	}
}

func TestRemoveItem(t *testing.T) {
	mock := &controllerMock{view: domain.CartView{Items: []domain.ItemView{}}}
	router := setupRouter(t, mock)

	rec := doRequest(t, router, http.MethodDelete, "/api/v1/cart/items/sku-42", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"sku-42"}, mock.removed)

	mock.err = service.ErrItemNotFound
	rec = doRequest(t, router, http.MethodDelete, "/api/v1/cart/items/sku-42", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefresh_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "backend down", err: errors.New("reconcile cart: connection refused"), wantStatus: http.StatusBadGateway, wantCode: "backend_unavailable"},
		{name: "timeout", err: context.DeadlineExceeded, wantStatus: http.StatusGatewayTimeout, wantCode: "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupRouter(t, &controllerMock{err: tt.err})

			rec := doRequest(t, router, http.MethodPost, "/api/v1/cart/refresh", "")
			require.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
		})
	}
}

func TestFlush_Success(t *testing.T) {
	router := setupRouter(t, &controllerMock{view: testView()})

	rec := doRequest(t, router, http.MethodPost, "/api/v1/cart/flush", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	router := setupRouter(t, &controllerMock{})

	rec := doRequest(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = doRequest(t, router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cartsync_pending_items")
}

func TestRequestIDMiddleware(t *testing.T) {
	router := setupRouter(t, &controllerMock{})

	rec := doRequest(t, router, http.MethodGet, "/health", "")
	_, err := uuid.Parse(rec.Header().Get("X-Request-ID"))
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestEvents_Stream(t *testing.T) {
	mock := &controllerMock{view: testView()}
	srv := httptest.NewServer(setupRouter(t, mock))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/cart/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, service.Event) {
		var kind string
		var event service.Event
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				kind = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
			case line == "" && kind != "":
				return kind, event
			}
		}
	}

	kind, initial := readEvent()
	assert.Equal(t, "state_changed", kind)
	assert.Equal(t, uint64(4), initial.View.Version)

	require.Eventually(t, func() bool { return mock.listenerCount() == 1 }, time.Second, 5*time.Millisecond)
	mock.emit(service.Event{
		Kind:   service.EventNotice,
		View:   testView(),
		Notice: &service.Notice{Level: service.NoticeWarning, Message: "refreshed", ItemID: "sku-42"},
	})

	kind, notice := readEvent()
	assert.Equal(t, "notice", kind)
	require.NotNil(t, notice.Notice)
	assert.Equal(t, service.NoticeWarning, notice.Notice.Level)
	assert.Equal(t, "sku-42", notice.Notice.ItemID)
}
