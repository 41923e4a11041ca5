package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// RailConfig points an HTTP adapter at a provider API.
type RailConfig struct {
	Name         string
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	Client       *http.Client
}

func (c RailConfig) withDefaults() RailConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 15 * time.Second}
	}
	return c
}

type railClient struct {
	RailConfig
}

func (c railClient) call(ctx context.Context, method, path, idempotencyKey string, body any) (gjson.Result, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return gjson.Result{}, ctx.Err()
		}
		return gjson.Result{}, fmt.Errorf("%w: %s: %w", ErrProviderUnavailable, c.Name, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %s: %w", ErrProviderUnavailable, c.Name, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		log.Printf("[%s] %s %s returned %d\n", c.Name, method, path, resp.StatusCode)
		return gjson.Result{}, fmt.Errorf("%w: %s returned %d", ErrProviderUnavailable, c.Name, resp.StatusCode)
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		res := gjson.ParseBytes(raw)
		log.Printf("[%s] declined: %s\n", c.Name, res.Get("error.message").String())
		return gjson.Result{}, &DeclinedError{
			Provider: c.Name,
			Code:     res.Get("error.code").String(),
			Message:  res.Get("error.message").String(),
		}
	case resp.StatusCode == http.StatusNotFound:
		return gjson.Result{}, fmt.Errorf("%w: %s %s", ErrChargeNotFound, c.Name, path)
	case resp.StatusCode >= http.StatusBadRequest:
		log.Printf("[%s] %s %s rejected with %d: %s\n", c.Name, method, path, resp.StatusCode, string(raw))
		return gjson.Result{}, fmt.Errorf("%s: request rejected with %d", c.Name, resp.StatusCode)
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("%w: %s returned malformed body", ErrProviderUnavailable, c.Name)
	}
	return gjson.ParseBytes(raw), nil
}

// poll fetches path until classify reports a terminal status or ctx ends.
func (c railClient) poll(ctx context.Context, path string, classify func(gjson.Result) (Status, bool)) (gjson.Result, Status, error) {
	for {
		res, err := c.call(ctx, http.MethodGet, path, "", nil)
		if err != nil {
			return res, STATUS_FAILED, err
		}
		if status, done := classify(res); done {
			return res, status, nil
		}
		select {
		case <-ctx.Done():
			return res, STATUS_PENDING, ctx.Err()
		case <-time.After(c.PollInterval):
		}
	}
}
