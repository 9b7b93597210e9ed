// Package integration runs the storefront components together against an
// in-process backend.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ticker-storefront/internal/app"
	"ticker-storefront/internal/config"
	apperrors "ticker-storefront/internal/errors"
	"ticker-storefront/internal/models"
	"ticker-storefront/internal/resilience"
)

const token = "integration-token-0001"

// fakeBackend serves the REST endpoints and the push channel.
type fakeBackend struct {
	push chan string

	mu     sync.Mutex
	orders [][]models.OrderLine
}

func newFakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	be := &fakeBackend{push: make(chan string, 8)}
	srv := httptest.NewServer(be.routes(t))
	t.Cleanup(srv.Close)
	backends.Store(srv.URL, be)
	return srv
}

var backends sync.Map

func backendFor(srv *httptest.Server) *fakeBackend {
	v, _ := backends.Load(srv.URL)
	return v.(*fakeBackend)
}

func (b *fakeBackend) routes(t *testing.T) http.Handler {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	mux := http.NewServeMux()

	mux.HandleFunc("/tickers", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total":3,"tickers_with_dates":[
			{"id":1,"ticker":"INFY","sellprice":100,"sellqty":5,"ltp":99,"ltq":1,"dates":[],"latest_timestamp":"2024-03-01T10:00:03"},
			{"id":2,"ticker":"TCS","sellprice":50,"sellqty":2,"ltp":51,"ltq":3,"dates":[],"latest_timestamp":"2024-03-01T10:00:02"},
			{"id":3,"ticker":"WIPRO","sellprice":10,"sellqty":9,"ltp":11,"ltq":4,"dates":[],"latest_timestamp":null}]}`))
	})
	mux.HandleFunc("/tickers/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		for {
			select {
			case <-gone:
				return
			case msg := <-b.push:
				if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
					return
				}
			}
		}
	})
	mux.HandleFunc("/users/login", func(w http.ResponseWriter, r *http.Request) {
		var creds models.Credentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"Incorrect email or password"}`))
			return
		}
		json.NewEncoder(w).Encode(models.AuthResponse{AccessToken: token})
	})
	mux.HandleFunc("/place-order", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var lines []models.OrderLine
		if err := json.Unmarshal(body, &lines); err != nil {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		b.mu.Lock()
		b.orders = append(b.orders, lines)
		b.mu.Unlock()
		w.Write([]byte(`{"message":"ok"}`))
	})
	return mux
}

func newInstance(t *testing.T, baseURL, redisAddr string) *app.App {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.API.BaseURL = baseURL
	cfg.API.MaxRetries = 0
	cfg.Session.Storage = "memory"
	cfg.Bus.Driver = "redis"
	cfg.Bus.RedisURL = "redis://" + redisAddr
	cfg.Feed.ReconnectDelay = 20 * time.Millisecond

	a, err := app.New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// TestStorefrontWorkflow drives two instances through browsing, a shared
// login, a live update and a checkout.
func TestStorefrontWorkflow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mr := miniredis.RunT(t)
	srv := newFakeBackend(t)
	be := backendFor(srv)

	browser := newInstance(t, srv.URL, mr.Addr())
	buyer := newInstance(t, srv.URL, mr.Addr())

	// Browse with live updates.
	live := browser.NewLive()
	if err := live.List.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := live.List.Total(); got != 3 {
		t.Errorf("Total = %d", got)
	}
	live.Start()
	eventually(t, func() bool { return live.Status() == resilience.StatusConnected }, "push channel never connected")

	be.push <- `{"id":3,"ltp":12.5,"latest_timestamp":"2024-03-01T10:00:09"}`
	eventually(t, func() bool {
		w := live.List.Window()
		return len(w) == 3 && w[0].ID == 3 && w[0].LTP == 12.5 && w[0].Ticker == "WIPRO"
	}, "pushed update not merged to the top of the window")

	// Malformed frames are counted and do not disturb the window.
	be.push <- `{not json`
	eventually(t, func() bool { return live.Reconciler.Stats().Malformed == 1 }, "malformed frame not counted")
	if w := live.List.Window(); w[0].ID != 3 {
		t.Errorf("window changed after malformed frame: %+v", w)
	}

	// Login on one instance logs in the other.
	loginTok, err := browser.API.Login(ctx, models.Credentials{Email: "me@example.com", Password: "secret"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := browser.Session.Login(ctx, loginTok); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return buyer.Session.Token() == token }, "login not shared")

	_, err = browser.API.Login(ctx, models.Credentials{Email: "me@example.com", Password: "wrong"})
	var netErr *apperrors.NetworkError
	if !apperrors.As(err, &netErr) || netErr.Status != http.StatusUnauthorized {
		t.Errorf("bad login err = %v", err)
	}

	// Fill the buyer's cart from the browsed window and check out.
	for _, q := range live.List.Window()[:2] {
		buyer.Cart.AddToCart(models.CartItemFromQuote(q))
	}
	buyer.Cart.AddToCart(models.CartItemFromQuote(live.List.Window()[0]))

	receipt, err := buyer.Checkout.Checkout(ctx)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if receipt.Total != 2*10+100 {
		t.Errorf("receipt total = %v", receipt.Total)
	}
	if buyer.Cart.Len() != 0 {
		t.Errorf("cart not cleared: %+v", buyer.Cart.CurrentCart())
	}

	be.mu.Lock()
	orders := be.orders
	be.mu.Unlock()
	if len(orders) != 1 || len(orders[0]) != 2 {
		t.Fatalf("orders = %+v", orders)
	}
	for _, line := range orders[0] {
		if line.PurchasePrice != receipt.Total {
			t.Errorf("line %+v priced at %v, want cart total", line, line.PurchasePrice)
		}
	}
	if orders[0][0].TickID != 3 || orders[0][0].PurchaseQty != 2 {
		t.Errorf("first line = %+v", orders[0][0])
	}

	// Logging out anywhere blocks checkout everywhere.
	if err := buyer.Session.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return !browser.Session.IsLoggedIn() }, "logout not shared")
	browser.Cart.AddToCart(models.CartLineItem{ID: 1, Ticker: "INFY", SellPrice: 100})
	if _, err := browser.Checkout.Checkout(ctx); !apperrors.Is(err, apperrors.ErrNotAuthenticated) {
		t.Errorf("checkout after logout err = %v", err)
	}
	if browser.Cart.Len() != 1 {
		t.Error("failed checkout changed the cart")
	}
}

// TestCartRestoredAfterRestart checks that a cart written by one process is
// loaded by the next one using the same store.
func TestCartRestoredAfterRestart(t *testing.T) {
	mr := miniredis.RunT(t)
	srv := newFakeBackend(t)
	dir := t.TempDir()

	open := func() *app.App {
		cfg := config.Default(dir)
		cfg.API.BaseURL = srv.URL
		cfg.Session.Storage = "file"
		cfg.Bus.Driver = "redis"
		cfg.Bus.RedisURL = "redis://" + mr.Addr()
		a, err := app.New(context.Background(), cfg, zerolog.Nop())
		if err != nil {
			t.Fatalf("app.New: %v", err)
		}
		return a
	}

	first := open()
	first.Cart.AddToCart(models.CartLineItem{ID: 7, Ticker: "HDFC", SellPrice: 40, Extra: map[string]any{"ltp": 41.0}})
	first.Cart.AddToCart(models.CartLineItem{ID: 7, Ticker: "HDFC", SellPrice: 40})
	if err := first.Session.Login(context.Background(), token); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second := open()
	defer second.Close()
	items := second.Cart.CurrentCart()
	if len(items) != 1 || items[0].Quantity != 2 || items[0].Extra["ltp"] != 41.0 {
		t.Errorf("restored cart = %+v", items)
	}
	if second.Session.Token() != token {
		t.Errorf("restored session = %+v", second.Session.State())
	}
}
