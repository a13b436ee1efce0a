package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tradedesk/portfolio-engine/internal/api"
	"github.com/tradedesk/portfolio-engine/internal/model"
	"github.com/tradedesk/portfolio-engine/internal/portfolio"
	"github.com/tradedesk/portfolio-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type fixedQuotes struct {
	mu     sync.Mutex
	quotes map[string]*model.Quote
}

func (f *fixedQuotes) GetQuotes(_ context.Context, symbols []string) []*model.Quote {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Quote, len(symbols))
	for i, s := range symbols {
		out[i] = f.quotes[s]
	}
	return out
}

// newTestEnv creates the handler set over an in-memory store and a chi router.
func newTestEnv(t *testing.T) (*store.MemoryStore, *fixedQuotes, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	quotes := &fixedQuotes{quotes: map[string]*model.Quote{}}
	svc := portfolio.NewService(ms, quotes, nil, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", api.NewHandler(svc, nil).Routes)
	return ms, quotes, r
}

func do(t *testing.T, router chi.Router, method, path, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(api.OwnerHeader, owner)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func placeOrder(t *testing.T, router chi.Router, owner string, req portfolio.OrderRequest) model.Order {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/orders", owner, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var o model.Order
	json.Unmarshal(w.Body.Bytes(), &o)
	return o
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var e errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("expected JSON error body, got %q", w.Body.String())
	}
	return e
}

// --- Owner scoping ---

func TestRoutes_RequireOwner(t *testing.T) {
	_, _, router := newTestEnv(t)

	for _, path := range []string{"/api/v1/holdings", "/api/v1/positions", "/api/v1/orders", "/api/v1/live/prices", "/api/v1/summary"} {
		w := do(t, router, "GET", path, "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, w.Code)
		}
		if e := decodeError(t, w); e.Code != "unauthorized" {
			t.Errorf("%s: expected unauthorized code, got %q", path, e.Code)
		}
	}
}

// --- Orders ---

func TestPlaceOrder_BuyCreatesHolding(t *testing.T) {
	_, _, router := newTestEnv(t)

	o := placeOrder(t, router, "user1", portfolio.OrderRequest{Symbol: "INFY", Qty: 10, Price: d(1500), Side: model.SideBuy})
	if o.ID == "" || o.Status != model.OrderStatusCompleted || o.Side != model.SideBuy {
		t.Errorf("unexpected order %+v", o)
	}

	w := do(t, router, "GET", "/api/v1/holdings", "user1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var hs []api.HoldingView
	json.Unmarshal(w.Body.Bytes(), &hs)
	if len(hs) != 1 || hs[0].Qty != 10 || !hs[0].AvgCost.Equal(d(1500)) {
		t.Fatalf("unexpected holdings %+v", hs)
	}
	if hs[0].Net != "+0.00%" || hs[0].Day != "+0.00%" {
		t.Errorf("new holding should render flat, got net=%s day=%s", hs[0].Net, hs[0].Day)
	}
}

func TestPlaceOrder_InvalidBody(t *testing.T) {
	_, _, router := newTestEnv(t)

	req := httptest.NewRequest("POST", "/api/v1/orders", strings.NewReader("{not json"))
	req.Header.Set(api.OwnerHeader, "user1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestPlaceOrder_AcceptsStringQty(t *testing.T) {
	ms, _, router := newTestEnv(t)

	body := `{"symbol":"INFY","qty":"10","price":"1500.5","side":"BUY"}`
	req := httptest.NewRequest("POST", "/api/v1/orders", strings.NewReader(body))
	req.Header.Set(api.OwnerHeader, "user1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	h, err := ms.GetHolding(context.Background(), model.BookHoldings, "user1", "INFY")
	if err != nil {
		t.Fatalf("get holding: %v", err)
	}
	if h.Qty != 10 {
		t.Errorf("expected qty 10, got %d", h.Qty)
	}
}

func TestPlaceOrder_RejectsFractionalQty(t *testing.T) {
	_, _, router := newTestEnv(t)

	for _, qty := range []string{`"1.5"`, `2.5`, `"ten"`} {
		body := `{"symbol":"INFY","qty":` + qty + `,"price":"100","side":"BUY"}`
		req := httptest.NewRequest("POST", "/api/v1/orders", strings.NewReader(body))
		req.Header.Set(api.OwnerHeader, "user1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("qty %s: expected 400, got %d", qty, w.Code)
		}
	}
}

func TestPlaceOrder_Validation(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/orders", "user1", portfolio.OrderRequest{Symbol: "INFY", Qty: 0, Price: d(10), Side: model.SideBuy})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if e := decodeError(t, w); e.Code != "validation" {
		t.Errorf("expected validation code, got %q", e.Code)
	}
}

func TestPlaceOrder_SellRejections(t *testing.T) {
	_, _, router := newTestEnv(t)
	placeOrder(t, router, "user1", portfolio.OrderRequest{Symbol: "INFY", Qty: 5, Price: d(100), Side: model.SideBuy})

	w := do(t, router, "POST", "/api/v1/orders", "user1", portfolio.OrderRequest{Symbol: "INFY", Qty: 6, Price: d(100), Side: model.SideSell})
	if w.Code != http.StatusBadRequest || decodeError(t, w).Code != "insufficient_holding" {
		t.Errorf("expected 400 insufficient_holding, got %d %s", w.Code, w.Body.String())
	}

	w = do(t, router, "POST", "/api/v1/orders", "user1", portfolio.OrderRequest{Symbol: "TCS", Qty: 1, Price: d(100), Side: model.SideSell})
	if w.Code != http.StatusBadRequest || decodeError(t, w).Code != "no_such_holding" {
		t.Errorf("expected 400 no_such_holding, got %d %s", w.Code, w.Body.String())
	}

	w = do(t, router, "GET", "/api/v1/orders", "user1", nil)
	var orders []model.Order
	json.Unmarshal(w.Body.Bytes(), &orders)
	if len(orders) != 1 {
		t.Errorf("rejected sells must not be recorded, got %d orders", len(orders))
	}
}

func TestListOrders_NewestFirstAndEmpty(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "GET", "/api/v1/orders", "user1", nil)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty JSON array, got %s", w.Body.String())
	}

	placeOrder(t, router, "user1", portfolio.OrderRequest{Symbol: "INFY", Qty: 1, Price: d(100), Side: model.SideBuy})
	placeOrder(t, router, "user1", portfolio.OrderRequest{Symbol: "TCS", Qty: 1, Price: d(200), Side: model.SideBuy})

	w = do(t, router, "GET", "/api/v1/orders", "user1", nil)
	var orders []model.Order
	json.Unmarshal(w.Body.Bytes(), &orders)
	if len(orders) != 2 || orders[0].Symbol != "TCS" {
		t.Errorf("expected TCS first, got %+v", orders)
	}
}

func TestCancelOrder(t *testing.T) {
	ms, _, router := newTestEnv(t)
	o := placeOrder(t, router, "user1", portfolio.OrderRequest{Symbol: "INFY", Qty: 3, Price: d(100), Side: model.SideBuy})

	w := do(t, router, "DELETE", "/api/v1/orders/"+o.ID, "user2", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("other owner should get 404, got %d", w.Code)
	}

	w = do(t, router, "DELETE", "/api/v1/orders/"+o.ID, "user1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, router, "DELETE", "/api/v1/orders/"+o.ID, "user1", nil)
	if w.Code != http.StatusNotFound || decodeError(t, w).Code != "not_found" {
		t.Errorf("expected 404 not_found, got %d %s", w.Code, w.Body.String())
	}

	h, err := ms.GetHolding(context.Background(), model.BookHoldings, "user1", "INFY")
	if err != nil || h.Qty != 3 {
		t.Errorf("cancel must not reverse holdings, got %v %v", h, err)
	}
}

// --- Live prices ---

func TestLivePrices_FormatsMergedValues(t *testing.T) {
	ms, quotes, router := newTestEnv(t)
	placeOrder(t, router, "user1", portfolio.OrderRequest{Symbol: "INFY", Qty: 10, Price: d(100), Side: model.SideBuy})
	placeOrder(t, router, "user1", portfolio.OrderRequest{Symbol: "EVEREADY", Qty: 2, Price: d(300), Side: model.SideBuy, Product: "MIS"})
	quotes.quotes["INFY"] = &model.Quote{Symbol: "INFY", Price: d(112.345), PercentChange: d(-0.456)}

	w := do(t, router, "GET", "/api/v1/live/prices", "user1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp api.LiveResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if len(resp.Holdings) != 1 || len(resp.Positions) != 1 {
		t.Fatalf("expected 1 holding and 1 position, got %+v", resp)
	}
	infy := resp.Holdings[0]
	if infy.Net != "+12.35%" || infy.Day != "-0.46%" || !infy.IsLoss {
		t.Errorf("unexpected rendering net=%s day=%s loss=%v", infy.Net, infy.Day, infy.IsLoss)
	}
	if !resp.Positions[0].Price.Equal(d(300)) {
		t.Errorf("unquoted position should keep stored price, got %s", resp.Positions[0].Price)
	}
	if resp.Timestamp.IsZero() {
		t.Error("expected timestamp")
	}

	stored, _ := ms.GetHolding(context.Background(), model.BookHoldings, "user1", "INFY")
	if !stored.Price.Equal(d(100)) {
		t.Errorf("live read must not persist, got %s", stored.Price)
	}
}

func TestRefresh_PersistsAndCounts(t *testing.T) {
	ms, quotes, router := newTestEnv(t)
	placeOrder(t, router, "user1", portfolio.OrderRequest{Symbol: "INFY", Qty: 10, Price: d(100), Side: model.SideBuy})
	placeOrder(t, router, "user2", portfolio.OrderRequest{Symbol: "TCS", Qty: 1, Price: d(200), Side: model.SideBuy})
	quotes.quotes["INFY"] = &model.Quote{Symbol: "INFY", Price: d(105), PercentChange: d(0.8)}

	w := do(t, router, "POST", "/api/v1/live/refresh", "user1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Updated int `json:"updated"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Updated != 1 {
		t.Errorf("expected 1 updated, got %d", resp.Updated)
	}

	h, _ := ms.GetHolding(context.Background(), model.BookHoldings, "user1", "INFY")
	if !h.Price.Equal(d(105)) || !h.NetChangePct.Equal(d(5)) {
		t.Errorf("expected persisted {105, 5}, got {%s, %s}", h.Price, h.NetChangePct)
	}
}

func TestSummary(t *testing.T) {
	_, quotes, router := newTestEnv(t)
	placeOrder(t, router, "user1", portfolio.OrderRequest{Symbol: "INFY", Qty: 10, Price: d(100), Side: model.SideBuy})
	quotes.quotes["INFY"] = &model.Quote{Symbol: "INFY", Price: d(90), PercentChange: d(-1)}

	w := do(t, router, "GET", "/api/v1/summary", "user1", nil)
	var resp struct {
		TotalInvestment decimal.Decimal `json:"total_investment"`
		CurrentValue    decimal.Decimal `json:"current_value"`
		PnL             decimal.Decimal `json:"pnl"`
		PnLDisplay      string          `json:"pnl_display"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)

	if !resp.TotalInvestment.Equal(d(1000)) || !resp.CurrentValue.Equal(d(900)) || !resp.PnL.Equal(d(-100)) {
		t.Errorf("unexpected totals %+v", resp)
	}
	if resp.PnLDisplay != "-10.00%" {
		t.Errorf("expected -10.00%%, got %s", resp.PnLDisplay)
	}
}

// --- Quotes ---

func TestQuotes_PreservesOrderAndNulls(t *testing.T) {
	_, quotes, router := newTestEnv(t)
	quotes.quotes["^NSEI"] = &model.Quote{Symbol: "^NSEI", Price: d(22475.85)}

	w := do(t, router, "GET", "/api/v1/quotes?symbols=^NSEI,%20UNKNOWN", "user1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got []*model.Quote
	json.Unmarshal(w.Body.Bytes(), &got)
	if len(got) != 2 || got[0] == nil || got[0].Symbol != "^NSEI" || got[1] != nil {
		t.Errorf("expected [^NSEI, null], got %s", w.Body.String())
	}
}

func TestQuotes_Validation(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "GET", "/api/v1/quotes", "user1", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without symbols, got %d", w.Code)
	}

	many := strings.Repeat("A,", 51)
	w = do(t, router, "GET", "/api/v1/quotes?symbols="+many, "user1", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for too many symbols, got %d", w.Code)
	}
}

// --- Middleware ---

func TestCORS(t *testing.T) {
	h := api.CORS([]string{"http://localhost:3000"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest("OPTIONS", "/api/v1/holdings", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight should short-circuit with 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("expected allowed origin echoed, got %q", w.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest("GET", "/api/v1/holdings", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin must not be allowed")
	}
	if w.Code != http.StatusTeapot {
		t.Errorf("non-preflight should reach the handler, got %d", w.Code)
	}
}
