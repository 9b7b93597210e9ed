package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/google/uuid"

	apperrors "ticker-storefront/internal/errors"
	"ticker-storefront/internal/logging"
	"ticker-storefront/internal/resilience"
	"ticker-storefront/internal/security"
	"ticker-storefront/pkg/utils"
)

const maxErrorBody = 4096

// request describes one API call.
type request struct {
	method string
	path   string
	query  url.Values
	body   any
	token  string
	// retry marks calls that are safe to repeat.
	retry bool
}

// doRequest performs a single HTTP round trip. Transport failures and non-2xx
// responses are returned as *errors.NetworkError.
func (c *Client) doRequest(ctx context.Context, r request) (int, []byte, error) {
	fullURL := c.baseURL + r.path
	if len(r.query) > 0 {
		fullURL += "?" + r.query.Encode()
	}

	var reader io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, fullURL, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		nerr := apperrors.NewNetworkError(r.method, r.path, 0, "", err)
		logging.LogAPICall(c.logger, r.method, r.path, 0, time.Since(start), nerr)
		return 0, nil, nerr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		nerr := apperrors.NewNetworkError(r.method, r.path, resp.StatusCode, "", fmt.Errorf("read response: %w", err))
		logging.LogAPICall(c.logger, r.method, r.path, resp.StatusCode, time.Since(start), nerr)
		return resp.StatusCode, nil, nerr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := body
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		// Error bodies end up in logs and terminal output.
		nerr := apperrors.NewNetworkError(r.method, r.path, resp.StatusCode, security.MaskSensitive(string(msg)), fmt.Errorf("%s", http.StatusText(resp.StatusCode)))
		logging.LogAPICall(c.logger, r.method, r.path, resp.StatusCode, time.Since(start), nerr)
		return resp.StatusCode, body, nerr
	}

	logging.LogAPICall(c.logger, r.method, r.path, resp.StatusCode, time.Since(start), nil)
	return resp.StatusCode, body, nil
}

// do runs the request through the circuit breaker, retrying transport
// failures, 429 and 5xx when the request is marked safe to repeat.
func (c *Client) do(ctx context.Context, r request) (int, []byte, error) {
	type result struct {
		status int
		body   []byte
	}

	cfg := utils.RetryConfig{
		MaxAttempts:   1,
		InitialDelay:  c.retryBackoff,
		MaxDelay:      10 * c.retryBackoff,
		BackoffFactor: 2.0,
		ShouldRetry:   retryable,
	}
	if r.retry {
		cfg.MaxAttempts = c.maxRetries + 1
	}

	var res result
	err := c.breaker.Do(func() error {
		var err error
		res, err = utils.RetryWithResult(ctx, cfg, func() (result, error) {
			status, body, err := c.doRequest(ctx, r)
			return result{status, body}, err
		})
		return err
	})
	if err == resilience.ErrBreakerOpen {
		c.logger.Warn().Str("path", r.path).Msg("Backend circuit open, request rejected")
		return 0, nil, apperrors.NewNetworkError(r.method, r.path, 0, "", err)
	}
	return res.status, res.body, err
}

// call performs the request and decodes a JSON response into result.
func (c *Client) call(ctx context.Context, r request, result any) error {
	_, body, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	if result == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return apperrors.NewNetworkError(r.method, r.path, http.StatusOK, "", fmt.Errorf("unmarshal response: %w", err))
	}
	return nil
}

func retryable(err error) bool {
	if apperrors.Is(err, context.Canceled) || apperrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var nerr *apperrors.NetworkError
	if apperrors.As(err, &nerr) {
		return nerr.Retryable()
	}
	return false
}

type pageParams struct {
	Skip  int `url:"skip"`
	Limit int `url:"limit"`
}

func pageQuery(skip, limit int) url.Values {
	return encodeQuery(pageParams{Skip: skip, Limit: limit})
}

// encodeQuery turns a tagged params struct into a query string. The params
// types are fixed structs, so encoding cannot fail.
func encodeQuery(params any) url.Values {
	v, err := query.Values(params)
	if err != nil {
		panic(fmt.Sprintf("api: encoding %T: %v", params, err))
	}
	return v
}
