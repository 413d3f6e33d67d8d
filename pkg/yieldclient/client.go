/**
 * @description
 * This package provides the client for the remote yield source: the
 * share-based vault the agent deposits bridged capital into. The agent only
 * needs five primitives (deposit, redeem, the two share/asset conversions,
 * and its current share balance), so the client surface stays deliberately
 * small. The vault's internals (rates, rebasing) are the provider's business.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, net/http, time: Standard Go libraries.
 */
package yieldclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Source is the yield source contract the remote agent depends on.
type Source interface {
	Deposit(ctx context.Context, amount int64) (sharesReceived int64, err error)
	Redeem(ctx context.Context, shares int64) (assetsReturned int64, err error)
	ConvertToShares(ctx context.Context, assets int64) (int64, error)
	ConvertToAssets(ctx context.Context, shares int64) (int64, error)
	ShareBalance(ctx context.Context) (int64, error)
}

// Client is an HTTP client against the yield source provider.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new yield source client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

type sharesRequest struct {
	Shares int64 `json:"shares"`
}

type amountResponse struct {
	Data struct {
		Amount int64 `json:"amount"`
	} `json:"data"`
}

type sharesResponse struct {
	Data struct {
		Shares int64 `json:"shares"`
	} `json:"data"`
}

// Deposit places assets into the vault and returns the shares minted.
func (c *Client) Deposit(ctx context.Context, amount int64) (int64, error) {
	var resp sharesResponse
	if err := c.do(ctx, "POST", "/api/v1/vault/deposit", amountRequest{Amount: amount}, &resp); err != nil {
		return 0, err
	}
	return resp.Data.Shares, nil
}

// Redeem burns shares and returns the assets released.
func (c *Client) Redeem(ctx context.Context, shares int64) (int64, error) {
	var resp amountResponse
	if err := c.do(ctx, "POST", "/api/v1/vault/redeem", sharesRequest{Shares: shares}, &resp); err != nil {
		return 0, err
	}
	return resp.Data.Amount, nil
}

// ConvertToShares quotes the vault's asset-to-share conversion.
func (c *Client) ConvertToShares(ctx context.Context, assets int64) (int64, error) {
	var resp sharesResponse
	if err := c.do(ctx, "POST", "/api/v1/vault/convert-to-shares", amountRequest{Amount: assets}, &resp); err != nil {
		return 0, err
	}
	return resp.Data.Shares, nil
}

// ConvertToAssets quotes the vault's share-to-asset conversion.
func (c *Client) ConvertToAssets(ctx context.Context, shares int64) (int64, error) {
	var resp amountResponse
	if err := c.do(ctx, "POST", "/api/v1/vault/convert-to-assets", sharesRequest{Shares: shares}, &resp); err != nil {
		return 0, err
	}
	return resp.Data.Amount, nil
}

// ShareBalance returns the agent's current share balance in the vault.
func (c *Client) ShareBalance(ctx context.Context) (int64, error) {
	var resp sharesResponse
	if err := c.do(ctx, "GET", "/api/v1/vault/balance", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Data.Shares, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var reqBody io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal yield source request: %w", err)
		}
		reqBody = bytes.NewBuffer(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create yield source request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-vault-key", c.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute yield source request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read yield source response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=yield_client path=%s status=%d msg=\"non-2xx response\"", path, resp.StatusCode)
		return fmt.Errorf("yield source error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	if out != nil {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode yield source response: %w", err)
		}
	}
	return nil
}
