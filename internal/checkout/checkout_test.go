package checkout

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/rs/zerolog"

	apperrors "ticker-storefront/internal/errors"
	"ticker-storefront/internal/models"
)

type fakePlacer struct {
	status int
	err    error
	token  string
	lines  []models.OrderLine
	calls  int
}

func (p *fakePlacer) PlaceOrder(ctx context.Context, token string, lines []models.OrderLine) (int, error) {
	p.calls++
	p.token = token
	p.lines = lines
	return p.status, p.err
}

type fakeCart struct {
	items   []models.CartLineItem
	cleared bool
}

func (c *fakeCart) CurrentCart() []models.CartLineItem { return c.items }

func (c *fakeCart) ClearCart() []models.CartLineItem {
	c.items = nil
	c.cleared = true
	return nil
}

type fakeSession struct{ token string }

func (s fakeSession) Token() string    { return s.token }
func (s fakeSession) IsLoggedIn() bool { return s.token != "" }

func sampleCart() *fakeCart {
	return &fakeCart{items: []models.CartLineItem{
		{ID: 1, Ticker: "AAA", SellPrice: 100, Quantity: 2},
		{ID: 2, Ticker: "BBB", SellPrice: 50, Quantity: 1},
	}}
}

func TestBuildOrder(t *testing.T) {
	lines := BuildOrder(sampleCart().items)
	want := []models.OrderLine{
		{TickID: 1, PurchasePrice: 250, PurchaseQty: 2},
		{TickID: 2, PurchasePrice: 250, PurchaseQty: 1},
	}
	if len(lines) != len(want) {
		t.Fatalf("lines = %+v", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %+v, want %+v", i, lines[i], want[i])
		}
	}
}

func TestCheckoutClearsCartOnSuccess(t *testing.T) {
	placer := &fakePlacer{status: http.StatusOK}
	cart := sampleCart()
	svc := NewService(placer, cart, fakeSession{"tok"}, zerolog.Nop())

	receipt, err := svc.Checkout(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Total != 250 || len(receipt.Lines) != 2 {
		t.Errorf("receipt = %+v", receipt)
	}
	if placer.token != "tok" || !cart.cleared {
		t.Errorf("token=%q cleared=%v", placer.token, cart.cleared)
	}
}

func TestCheckoutKeepsCartOnFailure(t *testing.T) {
	tests := []struct {
		name   string
		placer *fakePlacer
	}{
		{"transport error", &fakePlacer{err: apperrors.NewNetworkError("POST", "/place-order", 0, "", errors.New("refused"))}},
		{"non-200 success", &fakePlacer{status: http.StatusCreated}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cart := sampleCart()
			svc := NewService(tt.placer, cart, fakeSession{"tok"}, zerolog.Nop())
			_, err := svc.Checkout(context.Background())
			var nerr *apperrors.NetworkError
			if !errors.As(err, &nerr) {
				t.Errorf("err = %v", err)
			}
			if cart.cleared {
				t.Error("cart cleared after failed order")
			}
		})
	}
}

func TestCheckoutPreconditions(t *testing.T) {
	placer := &fakePlacer{status: http.StatusOK}

	svc := NewService(placer, sampleCart(), fakeSession{}, zerolog.Nop())
	if _, err := svc.Checkout(context.Background()); !errors.Is(err, apperrors.ErrNotAuthenticated) {
		t.Errorf("logged out: err = %v", err)
	}

	svc = NewService(placer, &fakeCart{}, fakeSession{"tok"}, zerolog.Nop())
	if _, err := svc.Checkout(context.Background()); !errors.Is(err, apperrors.ErrEmptyCart) {
		t.Errorf("empty cart: err = %v", err)
	}
	if placer.calls != 0 {
		t.Errorf("order posted %d times", placer.calls)
	}
}
