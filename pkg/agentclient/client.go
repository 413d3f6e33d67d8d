/**
 * @description
 * Client for communicating with the remote agent. The keeper uses it to push
 * deposit deployments, drive withdrawal redemptions, and read the position's
 * current value for mark-to-market reports.
 */
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vaultra/treasury-service/internal/domain"
)

// Client is a client for the remote agent service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new agent service client.
func NewClient(baseURL, apiKey string) *Client {
	normalizedURL := strings.TrimSuffix(baseURL, "/")
	return &Client{
		baseURL:    normalizedURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// DepositResult mirrors the agent's deposit response.
type DepositResult struct {
	TransferID     string `json:"transfer_id"`
	AmountDeployed int64  `json:"amount_deployed"`
	SharesMinted   int64  `json:"shares_minted"`
	AlreadyDone    bool   `json:"already_done"`
}

// ProcessDeposit asks the agent to deploy a delivered deposit.
func (c *Client) ProcessDeposit(ctx context.Context, transferID domain.TransferID, amount int64) (*DepositResult, error) {
	payload := map[string]interface{}{
		"transfer_id": string(transferID),
		"amount":      amount,
	}
	var result DepositResult
	if err := c.post(ctx, "/position/deposit", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// WithdrawalResult mirrors the agent's withdrawal response.
type WithdrawalResult struct {
	TransferID     string `json:"transfer_id"`
	AmountReturned int64  `json:"amount_returned"`
	SharesBurned   int64  `json:"shares_burned"`
}

// InitiateWithdrawal asks the agent to redeem funds toward the home domain.
func (c *Client) InitiateWithdrawal(ctx context.Context, transferID domain.TransferID, amount int64) (*WithdrawalResult, error) {
	payload := map[string]interface{}{
		"transfer_id": string(transferID),
		"amount":      amount,
	}
	var result WithdrawalResult
	if err := c.post(ctx, "/position/withdraw", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PositionValue reads the position's current asset-equivalent value.
func (c *Client) PositionValue(ctx context.Context) (int64, error) {
	if c.baseURL == "" {
		return 0, fmt.Errorf("agent service base URL is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/position/value", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Internal-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute request to agent service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("agent service returned error status %d", resp.StatusCode)
	}

	var body struct {
		Value int64 `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode agent value response: %w", err)
	}
	return body.Value, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	if c.baseURL == "" {
		return fmt.Errorf("agent service base URL is not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request to agent service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("agent service returned status %d: %s", resp.StatusCode, errBody.Error)
		}
		return fmt.Errorf("agent service returned error status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode agent response: %w", err)
		}
	}
	return nil
}
