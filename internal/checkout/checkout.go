// Package checkout turns the cart into a placed order.
package checkout

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	apperrors "ticker-storefront/internal/errors"
	"ticker-storefront/internal/models"
)

// OrderPlacer submits order lines to the backend.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, token string, lines []models.OrderLine) (int, error)
}

// Cart is the part of the cart manager checkout needs.
type Cart interface {
	CurrentCart() []models.CartLineItem
	ClearCart() []models.CartLineItem
}

// Session supplies the bearer token.
type Session interface {
	Token() string
	IsLoggedIn() bool
}

// Receipt summarises a placed order.
type Receipt struct {
	Lines []models.OrderLine
	Total float64
}

// Service places orders for the cart contents.
type Service struct {
	placer  OrderPlacer
	cart    Cart
	session Session
	logger  zerolog.Logger
}

// NewService creates a checkout service.
func NewService(placer OrderPlacer, cart Cart, session Session, logger zerolog.Logger) *Service {
	return &Service{
		placer:  placer,
		cart:    cart,
		session: session,
		logger:  logger.With().Str("component", "checkout").Logger(),
	}
}

// BuildOrder converts cart lines to order lines. Every line carries the cart
// total as its purchase price.
func BuildOrder(items []models.CartLineItem) []models.OrderLine {
	total := models.CartTotal(items)
	lines := make([]models.OrderLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, models.OrderLine{
			TickID:        it.ID,
			PurchasePrice: total,
			PurchaseQty:   it.Quantity,
		})
	}
	return lines
}

// Checkout places an order for the current cart and clears the cart when
// the backend answers 200. The cart is kept on any failure.
func (s *Service) Checkout(ctx context.Context) (*Receipt, error) {
	if !s.session.IsLoggedIn() {
		return nil, apperrors.ErrNotAuthenticated
	}
	items := s.cart.CurrentCart()
	if len(items) == 0 {
		return nil, apperrors.ErrEmptyCart
	}

	lines := BuildOrder(items)
	total := models.CartTotal(items)

	status, err := s.placer.PlaceOrder(ctx, s.session.Token(), lines)
	if err != nil {
		s.logger.Error().Err(err).Int("lines", len(lines)).Msg("Placing order failed")
		return nil, apperrors.Wrap(err, "placing order")
	}
	if status != http.StatusOK {
		err := apperrors.NewNetworkError(http.MethodPost, "/place-order", status, "", apperrors.New("unexpected status"))
		s.logger.Error().Int("status", status).Msg("Order not accepted")
		return nil, err
	}

	s.cart.ClearCart()
	s.logger.Info().Int("lines", len(lines)).Float64("total", total).Msg("Order placed")
	return &Receipt{Lines: lines, Total: total}, nil
}
