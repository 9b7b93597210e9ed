package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"ticker-storefront/internal/config"
	apperrors "ticker-storefront/internal/errors"
	"ticker-storefront/internal/feed"
)

type backend struct {
	mu     sync.Mutex
	orders []string
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/tickers", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total":2,"tickers_with_dates":[
			{"id":1,"ticker":"INFY","sellprice":100,"sellqty":5,"ltp":99,"ltq":1,"dates":[],"latest_timestamp":"2024-03-01T10:00:00"},
			{"id":2,"ticker":"TCS","sellprice":50,"sellqty":2,"ltp":51,"ltq":3,"dates":[],"latest_timestamp":null}]}`))
	})
	mux.HandleFunc("/users/login", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"tok-abcdefgh-1234"}`))
	})
	mux.HandleFunc("/place-order", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.orders = append(b.orders, string(body))
		b.mu.Unlock()
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/orders/purchased", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-abcdefgh-1234" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"total":1,"orders":[{"ticker":"INFY","purchase_price":100,"purchase_qty":2,"timestamp":"2024-03-01T10:00:00"}]}`))
	})
	return mux
}

func testApp(t *testing.T, srvURL string) *App {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.API.BaseURL = srvURL
	cfg.API.MaxRetries = 0
	cfg.Session.Storage = "memory"
	a := &App{Config: cfg, Logger: zerolog.Nop()}
	t.Cleanup(func() { a.Close() })
	return a
}

func run(t *testing.T, a *App, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := NewRootCmd(a)
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestTickersJSON(t *testing.T) {
	srv := httptest.NewServer((&backend{}).handler())
	defer srv.Close()
	a := testApp(t, srv.URL)

	out, err := run(t, a, "tickers", "--json", "--search", "inf")
	if err != nil {
		t.Fatal(err)
	}
	var v feed.View
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if v.Total != 2 || len(v.Rows) != 1 || v.Rows[0].Ticker != "INFY" {
		t.Errorf("view = %+v", v)
	}
}

func TestTickersCSVExport(t *testing.T) {
	srv := httptest.NewServer((&backend{}).handler())
	defer srv.Close()
	a := testApp(t, srv.URL)
	path := filepath.Join(t.TempDir(), "out.csv")

	out, err := run(t, a, "tickers", "--columns", "id,ticker", "--sort", "ticker", "--desc", "--csv", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Exported 2 rows") {
		t.Errorf("output = %q", out)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "ID,Ticker\n2,TCS\n1,INFY\n" {
		t.Errorf("csv = %q", data)
	}
}

func TestCartAndCheckoutFlow(t *testing.T) {
	be := &backend{}
	srv := httptest.NewServer(be.handler())
	defer srv.Close()
	a := testApp(t, srv.URL)

	if _, err := run(t, a, "cart", "add", "1"); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, a, "cart", "add", "1"); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, a, "cart", "add", "2"); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, a, "cart", "add", "99"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("unknown id err = %v", err)
	}

	out, err := run(t, a, "cart", "list", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var cv cartView
	if err := json.Unmarshal([]byte(out), &cv); err != nil {
		t.Fatal(err)
	}
	if len(cv.Items) != 2 || cv.Items[0].Quantity != 2 || cv.Total != 250 {
		t.Errorf("cart = %+v", cv)
	}

	if _, err := run(t, a, "checkout", "--yes"); !apperrors.Is(err, apperrors.ErrNotAuthenticated) {
		t.Errorf("checkout before login err = %v", err)
	}

	if _, err := run(t, a, "login", "--email", "me@example.com", "--password", "secret"); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, a, "checkout", "--yes"); err != nil {
		t.Fatal(err)
	}

	be.mu.Lock()
	orders := be.orders
	be.mu.Unlock()
	if len(orders) != 1 {
		t.Fatalf("orders placed = %d", len(orders))
	}
	want := `[{"tick_id":1,"purchase_price":250,"purchase_qty":2},{"tick_id":2,"purchase_price":250,"purchase_qty":1}]`
	if strings.TrimSpace(orders[0]) != want {
		t.Errorf("order body = %s", orders[0])
	}

	st, _ := a.State(context.Background())
	if st.Cart.Len() != 0 {
		t.Errorf("cart not cleared: %+v", st.Cart.CurrentCart())
	}
	if _, err := run(t, a, "checkout", "--yes"); !apperrors.Is(err, apperrors.ErrEmptyCart) {
		t.Errorf("empty checkout err = %v", err)
	}
}

func TestCartUpdateAndRemove(t *testing.T) {
	srv := httptest.NewServer((&backend{}).handler())
	defer srv.Close()
	a := testApp(t, srv.URL)

	if _, err := run(t, a, "cart", "add", "2"); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, a, "cart", "update", "2", "abc"); err == nil {
		t.Error("non-numeric quantity accepted")
	}
	if _, err := run(t, a, "cart", "update", "7", "3"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("update missing line err = %v", err)
	}
	if _, err := run(t, a, "cart", "update", "2", "4"); err != nil {
		t.Fatal(err)
	}
	st, _ := a.State(context.Background())
	if st.Cart.Total() != 200 {
		t.Errorf("total = %v", st.Cart.Total())
	}
	out, err := run(t, a, "cart", "update", "2", "0")
	if err != nil {
		t.Fatalf("zero quantity: %v", err)
	}
	if !strings.Contains(out, "raised to 1") || st.Cart.Total() != 50 {
		t.Errorf("quantity not clamped: total %v, output %q", st.Cart.Total(), out)
	}
	if _, err := run(t, a, "cart", "update", "2", "--", "-3"); err != nil {
		t.Fatalf("negative quantity: %v", err)
	}
	if items := st.Cart.CurrentCart(); items[0].Quantity != 1 {
		t.Errorf("quantity = %d, want 1", items[0].Quantity)
	}
	if _, err := run(t, a, "cart", "rm", "2"); err != nil {
		t.Fatal(err)
	}
	if st.Cart.Len() != 0 {
		t.Errorf("cart = %+v", st.Cart.CurrentCart())
	}
}

func TestAccountPagesRequireLogin(t *testing.T) {
	srv := httptest.NewServer((&backend{}).handler())
	defer srv.Close()
	a := testApp(t, srv.URL)

	if _, err := run(t, a, "orders"); !apperrors.Is(err, apperrors.ErrNotAuthenticated) {
		t.Errorf("orders before login err = %v", err)
	}
	if _, err := run(t, a, "login", "--email", "me@example.com", "--password", "secret"); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, a, "orders", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var res struct {
		Orders []map[string]any `json:"orders"`
		Total  int              `json:"total"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 || res.Orders[0]["ticker"] != "INFY" {
		t.Errorf("orders = %+v", res)
	}

	out, err = run(t, a, "status", "--json")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "tok-abcdefgh-1234") {
		t.Error("status leaks the token")
	}
}

func TestLoginRejectsBadEmail(t *testing.T) {
	srv := httptest.NewServer((&backend{}).handler())
	defer srv.Close()
	a := testApp(t, srv.URL)

	_, err := run(t, a, "login", "--email", "not-an-email", "--password", "x")
	var verr *apperrors.ValidationError
	if !apperrors.As(err, &verr) {
		t.Errorf("err = %v", err)
	}
}
