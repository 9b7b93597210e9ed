package api

import (
	"context"
	"fmt"
	"net/http"

	apperrors "ticker-storefront/internal/errors"
	"ticker-storefront/internal/models"
)

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, creds models.Credentials) (string, error) {
	return c.authenticate(ctx, "/users/login", creds)
}

// Signup registers an account and returns its bearer token. The token is
// empty when the backend does not log the new account in.
func (c *Client) Signup(ctx context.Context, creds models.Credentials) (string, error) {
	return c.authenticate(ctx, "/users/signup", creds)
}

func (c *Client) authenticate(ctx context.Context, path string, creds models.Credentials) (string, error) {
	var resp models.AuthResponse
	err := c.call(ctx, request{
		method: http.MethodPost,
		path:   path,
		body:   creds,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.AccessToken, nil
}

// PlaceOrder submits order lines. It returns the HTTP status on success.
// Orders are never retried.
func (c *Client) PlaceOrder(ctx context.Context, token string, lines []models.OrderLine) (int, error) {
	if token == "" {
		return 0, apperrors.ErrNotAuthenticated
	}
	status, _, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/place-order",
		body:   lines,
		token:  token,
	})
	return status, err
}

// PurchasedOrders fetches a page of the user's purchased orders.
func (c *Client) PurchasedOrders(ctx context.Context, token string, skip, limit int) (*models.RowPage, error) {
	var resp models.PurchasedOrdersResponse
	if err := c.authedPage(ctx, http.MethodGet, "/orders/purchased", token, skip, limit, &resp); err != nil {
		return nil, err
	}
	return newRowPage(resp.Orders, resp.Total), nil
}

// QualityChecks fetches a page of data quality issues.
func (c *Client) QualityChecks(ctx context.Context, token string, skip, limit int) (*models.RowPage, error) {
	var resp models.QualityChecksResponse
	if err := c.authedPage(ctx, http.MethodGet, "/quality-checks", token, skip, limit, &resp); err != nil {
		return nil, err
	}
	return newRowPage(resp.Issues, resp.TotalIssues), nil
}

// PortfolioPositions fetches a page of the user's positions.
func (c *Client) PortfolioPositions(ctx context.Context, token string, skip, limit int) (*models.RowPage, error) {
	var resp models.PortfolioResponse
	if err := c.authedPage(ctx, http.MethodPost, "/portfolio-position", token, skip, limit, &resp); err != nil {
		return nil, err
	}
	return newRowPage(resp.Positions, resp.Total), nil
}

func (c *Client) authedPage(ctx context.Context, method, path, token string, skip, limit int, result any) error {
	if token == "" {
		return fmt.Errorf("%s: %w", path, apperrors.ErrNotAuthenticated)
	}
	r := request{
		method: method,
		path:   path,
		query:  pageQuery(skip, limit),
		token:  token,
		retry:  true,
	}
	if method == http.MethodPost {
		r.body = struct{}{}
	}
	return c.call(ctx, r, result)
}

func newRowPage(rows []models.Row, total int) *models.RowPage {
	if rows == nil {
		rows = []models.Row{}
	}
	return &models.RowPage{Rows: rows, Total: total}
}
